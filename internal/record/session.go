package record

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/novarec/novarec/internal/logger"
)

// State is a recording session's lifecycle phase. Transitions only move
// forward; Completed and Failed are terminal.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateFinalizing State = "finalizing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Callbacks notify the caller of a session's outcome. Exactly one of the
// two fires, exactly once.
type Callbacks struct {
	// OnStop receives the delivered artifact path. It is empty when the
	// session was stopped before any backend began capturing.
	OnStop func(path string)
	// OnError receives a human-readable failure description.
	OnError func(msg string)
}

// Session is one recording from start request to delivered artifact.
type Session struct {
	id        string
	req       Request
	createdAt time.Time

	sup       *Supervisor
	fin       *Finalizer
	available Availability
	cb        Callbacks
	sink      EventSink

	mu      sync.Mutex
	state   State
	backend BackendKind
	path    string
	err     error

	stopRequested bool
	stopOnce      sync.Once
	stopCh        chan struct{}
	cancelStart   context.CancelFunc

	terminal sync.Once
	done     chan struct{}
}

func newSession(req Request, cb Callbacks, available Availability, sink EventSink) *Session {
	return &Session{
		id:        uuid.NewString(),
		req:       req,
		createdAt: time.Now(),
		sup:       NewSupervisor(),
		fin:       NewFinalizer(),
		available: available,
		cb:        cb,
		sink:      sink,
		state:     StateIdle,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID is the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State reports the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backend reports which backend is capturing, once one has stuck.
func (s *Session) Backend() BackendKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result reports the delivered path or failure once Done is closed.
func (s *Session) Result() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.err
}

// Stop requests a graceful end of the recording. Safe to call at any phase,
// any number of times; calls after the first are no-ops.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopRequested = true
		cancel := s.cancelStart
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(s.stopCh)
	})
}

func (s *Session) transition(next State) {
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, State: next})
}

func (s *Session) emit(ev Event) {
	if s.sink == nil {
		return
	}
	ev.SessionID = s.id
	ev.Time = time.Now()
	if ev.Backend == "" {
		s.mu.Lock()
		ev.Backend = s.backend
		s.mu.Unlock()
	}
	s.sink(ev)
}

// run drives the session from start to a terminal state. It owns the whole
// lifecycle; Stop only signals it.
func (s *Session) run(ctx context.Context) {
	log := logger.WithComponent("session")

	startCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancelStart = cancel
	stopped := s.stopRequested
	s.mu.Unlock()
	defer cancel()
	// A Stop that raced ahead of us found cancelStart still nil; honor it
	// now so the fallback loop never runs.
	if stopped {
		cancel()
	}

	s.transition(StateStarting)

	candidates := Resolve(DetectEnv(), s.req.Preferred, s.available)
	tempPath := s.req.tempPath(s.createdAt)
	outPath := s.req.outputPath(s.createdAt)
	targetFor := func(k BackendKind) string {
		if k.NeedsTranscode() {
			return tempPath
		}
		return outPath
	}

	onFailed := func(k BackendKind, err error) {
		log.Warn().Err(err).Str("backend", string(k)).Msg("Backend attempt failed")
		s.emit(Event{Kind: EventBackendFailed, Backend: k, Message: err.Error()})
	}

	backend, err := s.sup.Start(startCtx, candidates, s.req, targetFor, s.available, onFailed)
	if err != nil {
		s.mu.Lock()
		stopped := s.stopRequested
		s.mu.Unlock()
		if stopped {
			// Stopped before anything started capturing: a degenerate
			// success with nothing delivered, regardless of how far the
			// fallback loop got before the cancellation landed.
			s.complete("")
			return
		}
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.backend = backend
	s.mu.Unlock()
	s.transition(StateRecording)
	log.Info().Str("backend", string(backend)).Msg("Recording started")

	select {
	case <-s.stopCh:
	case err := <-s.sup.Exited():
		s.sup.Stop()
		if excerpt := tailExcerpt(s.sup.RunLogPath(), 3); excerpt != "" {
			err = fmt.Errorf("%w (%s)", err, excerpt)
		}
		if kept, ok := s.salvageTemp(tempPath, outPath); ok {
			err = fmt.Errorf("%w; partial capture kept at %s", err, kept)
		}
		s.fail(err)
		return
	}

	s.transition(StateStopping)
	if err := s.sup.Stop(); err != nil {
		log.Warn().Err(err).Msg("Backend stop reported an error")
	}

	s.transition(StateFinalizing)
	if !backend.NeedsTranscode() {
		if _, err := os.Stat(outPath); err != nil {
			s.fail(fmt.Errorf("capture produced no output file: %w", err))
			return
		}
		s.complete(outPath)
		return
	}

	finCtx, finCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer finCancel()
	delivered, err := s.fin.Finalize(finCtx, tempPath, outPath, s.req.Encoder)
	var tErr *TranscodeError
	if errors.As(err, &tErr) {
		log.Warn().Err(tErr).Msg("Delivered raw capture without transcode")
		s.complete(delivered)
		return
	}
	if err != nil {
		s.cleanupTemp(tempPath)
		s.fail(err)
		return
	}
	s.complete(delivered)
}

func (s *Session) cleanupTemp(tempPath string) {
	if info, err := os.Stat(tempPath); err == nil && info.Size() == 0 {
		os.Remove(tempPath)
	}
}

// salvageTemp relocates whatever a crashed backend managed to capture into
// the library under a name matching its actual container, so the partial
// recording is not stranded as a hidden temp file. Empty temps are removed.
// Returns the kept path when a non-empty capture was rescued.
func (s *Session) salvageTemp(tempPath, outPath string) (string, bool) {
	info, err := os.Stat(tempPath)
	if err != nil {
		return "", false
	}
	if info.Size() == 0 {
		os.Remove(tempPath)
		return "", false
	}
	kind, err := sniffContainer(tempPath)
	if err != nil {
		return "", false
	}
	kept := withExt(outPath, kind.ext())
	if err := moveFile(tempPath, kept); err != nil {
		logger.WithComponent("session").Warn().Err(err).
			Str("temp", tempPath).Msg("Could not relocate partial capture")
		return "", false
	}
	return kept, true
}

func (s *Session) complete(path string) {
	s.terminal.Do(func() {
		s.mu.Lock()
		s.state = StateCompleted
		s.path = path
		s.mu.Unlock()
		s.emit(Event{Kind: EventStateChanged, State: StateCompleted})
		s.emit(Event{Kind: EventCompleted, Path: path})
		if s.cb.OnStop != nil {
			s.cb.OnStop(path)
		}
		close(s.done)
	})
}

func (s *Session) fail(err error) {
	s.terminal.Do(func() {
		s.mu.Lock()
		s.state = StateFailed
		s.err = err
		s.mu.Unlock()
		s.emit(Event{Kind: EventStateChanged, State: StateFailed})
		s.emit(Event{Kind: EventFailed, Message: err.Error()})
		if s.cb.OnError != nil {
			s.cb.OnError(err.Error())
		}
		close(s.done)
	})
}

// Recorder manages at most one live recording session.
type Recorder struct {
	mu        sync.Mutex
	active    *Session
	available Availability
	sink      EventSink
}

// NewRecorder returns a recorder probing the real system for backends.
func NewRecorder() *Recorder {
	return &Recorder{available: DefaultAvailability()}
}

// SetEventSink installs a non-blocking receiver for session events.
func (r *Recorder) SetEventSink(sink EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Start validates the request and launches a new session. Returns
// ErrSessionActive while a previous session has not reached a terminal
// state.
func (r *Recorder) Start(ctx context.Context, req Request, cb Callbacks) (*Session, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		select {
		case <-r.active.Done():
		default:
			return nil, ErrSessionActive
		}
	}

	sess := newSession(req, cb, r.available, r.sink)
	r.active = sess
	go sess.run(ctx)
	return sess, nil
}

// Stop gracefully stops the active session. A no-op when nothing is
// recording.
func (r *Recorder) Stop() {
	if sess := r.Active(); sess != nil {
		sess.Stop()
	}
}

// Active returns the live session, or nil when none is running.
func (r *Recorder) Active() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	select {
	case <-r.active.Done():
		return nil
	default:
		return r.active
	}
}
