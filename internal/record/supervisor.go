package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/novarec/novarec/internal/gstpipe"
	"github.com/novarec/novarec/internal/logger"
	"github.com/novarec/novarec/internal/portal"
)

const (
	// startupGrace is how long a capture process must survive before its
	// startup counts as successful. Backends that reject their arguments or
	// cannot open the display die well inside this window.
	startupGrace = 500 * time.Millisecond
	// stopGrace is how long a graceful stop signal gets before escalation.
	// Capture tools need this window to flush and close their container.
	stopGrace = 5 * time.Second
)

// pipelineHandle is the slice of gstpipe.Pipeline the supervisor drives.
type pipelineHandle interface {
	Play() error
	Stop() error
	Errors() <-chan error
}

// streamNegotiator is the slice of portal.Negotiator the supervisor drives.
type streamNegotiator interface {
	Negotiate(ctx context.Context) (*portal.Stream, error)
	Close() error
}

// Seams for tests; production wiring targets the real portal and GStreamer.
var (
	backendCommand = func(k BackendKind, req Request, target string) ([]string, error) {
		return k.command(req, target)
	}
	newNegotiator = func() (streamNegotiator, error) { return portal.New() }
	buildPipeline = func(stream *portal.Stream, cfg gstpipe.Config) (pipelineHandle, error) {
		if stream.HasFD() {
			return gstpipe.BuildFromFD(stream.FD, cfg)
		}
		return gstpipe.BuildFromNode(stream.NodeID, cfg)
	}
)

// Supervisor owns one capture backend at a time: it walks the candidate
// chain until a backend starts, watches it while recording, and stops it on
// demand with signal escalation.
type Supervisor struct {
	mu       sync.Mutex
	stopping bool

	// exactly one of these sets is populated after a successful Start
	cmd        *exec.Cmd
	procDone   chan struct{}
	procErr    error
	runLogPath string

	pipeline   pipelineHandle
	negotiator streamNegotiator

	// exit receives at most one error if the backend dies on its own
	// while recording. Stop-initiated exits never post here.
	exit chan error
}

// NewSupervisor returns an idle supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{exit: make(chan error, 1)}
}

// Exited signals asynchronous backend death during recording.
func (s *Supervisor) Exited() <-chan error {
	return s.exit
}

// Start tries each candidate in order until one launches and survives its
// startup grace window. targetFor maps a backend to the file it should
// write (temp capture or final artifact). onFailed, when non-nil, is
// invoked for every candidate that gets skipped or fails, before the next
// is tried. Returns the backend that stuck, or an ExhaustedError.
func (s *Supervisor) Start(ctx context.Context, candidates []BackendKind, req Request, targetFor func(BackendKind) string, available Availability, onFailed func(BackendKind, error)) (BackendKind, error) {
	log := logger.WithComponent("record")

	var attempts []Attempt
	fail := func(k BackendKind, err error) {
		attempts = append(attempts, Attempt{Backend: k, Err: err})
		if onFailed != nil {
			onFailed(k, err)
		}
	}

	for _, k := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !available(k) {
			fail(k, ErrBackendUnavailable)
			continue
		}

		target := targetFor(k)
		log.Info().Str("backend", string(k)).Str("target", target).Msg("Trying capture backend")

		var err error
		if k.Subprocess() {
			err = s.startSubprocess(ctx, k, req, target)
		} else {
			err = s.startPipeline(ctx, req, target)
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn().Err(err).Str("backend", string(k)).Msg("Capture backend failed to start")
			fail(k, err)
			continue
		}
		return k, nil
	}
	return "", &ExhaustedError{Attempts: attempts}
}

func (s *Supervisor) startSubprocess(ctx context.Context, k BackendKind, req Request, target string) error {
	argv, err := backendCommand(k, req, target)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	now := time.Now()
	runLog := openRunLog(req.LogsDir, strings.ReplaceAll(string(k), "-", "_"), now)

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = runLog
	cmd.Stderr = runLog

	if err := cmd.Start(); err != nil {
		if runLog != nil {
			runLog.Close()
		}
		return fmt.Errorf("failed to launch %s: %w", k, err)
	}

	done := make(chan struct{})
	go func() {
		s.procErr = cmd.Wait()
		if runLog != nil {
			runLog.Close()
		}
		close(done)
	}()

	select {
	case <-done:
		// Any exit inside the grace window counts as a startup failure,
		// successful exit code or not; surface the tool's own words.
		var excerpt string
		if runLog != nil && runLog.Name() != os.DevNull {
			excerpt = tailExcerpt(runLog.Name(), 3)
		}
		return &QuickFailureError{Backend: k, ExitCode: exitCode(s.procErr), Stderr: excerpt}
	case <-ctx.Done():
		cmd.Process.Kill()
		<-done
		return ctx.Err()
	case <-time.After(startupGrace):
	}

	s.mu.Lock()
	s.cmd = cmd
	s.procDone = done
	if runLog != nil {
		s.runLogPath = runLog.Name()
	}
	s.mu.Unlock()

	go func() {
		<-done
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if !stopping {
			err := s.procErr
			if err == nil {
				err = fmt.Errorf("%s exited unexpectedly", k)
			} else {
				err = fmt.Errorf("%s exited unexpectedly: %w", k, err)
			}
			select {
			case s.exit <- err:
			default:
			}
		}
	}()
	return nil
}

func (s *Supervisor) startPipeline(ctx context.Context, req Request, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	neg, err := newNegotiator()
	if err != nil {
		return err
	}
	stream, err := neg.Negotiate(ctx)
	if err != nil {
		neg.Close()
		return err
	}

	pipe, err := buildPipeline(stream, gstpipe.Config{
		OutputPath: target,
		FrameRate:  req.frameRate(),
	})
	if err != nil {
		neg.Close()
		return err
	}
	if err := pipe.Play(); err != nil {
		neg.Close()
		return err
	}

	s.mu.Lock()
	s.pipeline = pipe
	s.negotiator = neg
	s.mu.Unlock()

	go func() {
		err, ok := <-pipe.Errors()
		if !ok || err == nil {
			return
		}
		s.mu.Lock()
		stopping := s.stopping
		s.mu.Unlock()
		if !stopping {
			select {
			case s.exit <- err:
			default:
			}
		}
	}()
	return nil
}

// Stop terminates whatever the supervisor is running. Subprocesses get an
// interrupt first so they can finalize their file, then SIGTERM, then
// SIGKILL. Idempotent; safe to call when nothing ever started.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cmd, done := s.cmd, s.procDone
	pipe, neg := s.pipeline, s.negotiator
	s.mu.Unlock()

	if cmd != nil {
		return s.stopSubprocess(cmd, done)
	}
	if pipe != nil {
		err := pipe.Stop()
		if neg != nil {
			neg.Close()
		}
		return err
	}
	return nil
}

func (s *Supervisor) stopSubprocess(cmd *exec.Cmd, done chan struct{}) error {
	log := logger.WithComponent("record")

	select {
	case <-done:
		return nil
	default:
	}

	cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	}

	log.Warn().Msg("Capture process ignored interrupt, sending SIGTERM")
	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
	}

	log.Error().Msg("Capture process ignored SIGTERM, killing")
	cmd.Process.Kill()
	<-done
	return nil
}

// RunLogPath reports the backend's per-run log file, if any.
func (s *Supervisor) RunLogPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runLogPath
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
