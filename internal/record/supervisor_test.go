package record

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func stubCommands(t *testing.T, commands map[BackendKind][]string) {
	t.Helper()
	orig := backendCommand
	backendCommand = func(k BackendKind, req Request, target string) ([]string, error) {
		argv, ok := commands[k]
		if !ok {
			return nil, fmt.Errorf("no stub command for %s", k)
		}
		return argv, nil
	}
	t.Cleanup(func() { backendCommand = orig })
}

func testTarget(k BackendKind) string { return "/dev/null" }

func TestSupervisorQuickFailure(t *testing.T) {
	stubCommands(t, map[BackendKind][]string{
		BackendWfRecorder: {"sh", "-c", "echo boom >&2; exit 3"},
	})

	sup := NewSupervisor()
	req := Request{LogsDir: t.TempDir()}

	_, err := sup.Start(context.Background(), []BackendKind{BackendWfRecorder}, req, testTarget, allAvailable, nil)
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(exhausted.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(exhausted.Attempts))
	}

	var quick *QuickFailureError
	if !errors.As(exhausted.Attempts[0].Err, &quick) {
		t.Fatalf("attempt err = %v, want QuickFailureError", exhausted.Attempts[0].Err)
	}
	if quick.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", quick.ExitCode)
	}
	if !strings.Contains(quick.Stderr, "boom") {
		t.Errorf("Stderr = %q, want the process's own words", quick.Stderr)
	}
}

func TestSupervisorFallsBackToNextCandidate(t *testing.T) {
	stubCommands(t, map[BackendKind][]string{
		BackendWfRecorder: {"sh", "-c", "exit 1"},
		BackendFfmpegX11:  {"sleep", "30"},
	})

	sup := NewSupervisor()
	defer sup.Stop()

	var failed []BackendKind
	backend, err := sup.Start(context.Background(),
		[]BackendKind{BackendWfRecorder, BackendFfmpegX11},
		Request{LogsDir: t.TempDir()}, testTarget, allAvailable,
		func(k BackendKind, err error) { failed = append(failed, k) },
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if backend != BackendFfmpegX11 {
		t.Errorf("backend = %v, want %v", backend, BackendFfmpegX11)
	}
	if len(failed) != 1 || failed[0] != BackendWfRecorder {
		t.Errorf("failed callbacks = %v, want [%v]", failed, BackendWfRecorder)
	}

	if err := sup.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	// Stop again must be a no-op.
	if err := sup.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestSupervisorSkipsUnavailable(t *testing.T) {
	stubCommands(t, map[BackendKind][]string{
		BackendFfmpegX11: {"sleep", "30"},
	})

	sup := NewSupervisor()
	defer sup.Stop()

	onlyX11 := func(k BackendKind) bool { return k == BackendFfmpegX11 }
	var attempts []BackendKind
	backend, err := sup.Start(context.Background(),
		[]BackendKind{BackendWfRecorder, BackendWlScreenrec, BackendFfmpegX11},
		Request{LogsDir: t.TempDir()}, testTarget, onlyX11,
		func(k BackendKind, err error) {
			if !errors.Is(err, ErrBackendUnavailable) {
				t.Errorf("skip reason for %s = %v, want ErrBackendUnavailable", k, err)
			}
			attempts = append(attempts, k)
		},
	)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if backend != BackendFfmpegX11 {
		t.Errorf("backend = %v, want %v", backend, BackendFfmpegX11)
	}
	if len(attempts) != 2 {
		t.Errorf("skipped = %v, want two unavailable candidates", attempts)
	}
}

func TestSupervisorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sup := NewSupervisor()
	_, err := sup.Start(ctx, []BackendKind{BackendFfmpegX11}, Request{LogsDir: t.TempDir()}, testTarget, allAvailable, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSupervisorCancelDuringStartupGrace(t *testing.T) {
	stubCommands(t, map[BackendKind][]string{
		BackendFfmpegX11: {"sleep", "30"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	sup := NewSupervisor()
	start := time.Now()
	_, err := sup.Start(ctx, []BackendKind{BackendFfmpegX11}, Request{LogsDir: t.TempDir()}, testTarget, allAvailable, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed >= startupGrace {
		t.Errorf("Start held for %v, should return as soon as the context is cancelled", elapsed)
	}
}

func TestSupervisorStopBeforeStart(t *testing.T) {
	sup := NewSupervisor()
	if err := sup.Stop(); err != nil {
		t.Errorf("Stop on idle supervisor: %v", err)
	}
}
