package record

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSessionActive is returned when Start is called while another session
// is still live. Exactly one session may run at a time; this is a caller
// bug, not a fallback case.
var ErrSessionActive = errors.New("a recording session is already active")

// ErrBackendUnavailable marks a candidate skipped because its binary or
// plugin is missing. Non-fatal: the fallback chain advances past it.
var ErrBackendUnavailable = errors.New("backend unavailable")

// QuickFailureError classifies a capture process that exited within the
// startup grace window, before it could plausibly have produced output.
// Exit status does not matter here; even a clean exit that fast means the
// tool never started capturing.
type QuickFailureError struct {
	Backend  BackendKind
	ExitCode int
	Stderr   string
}

func (e *QuickFailureError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d during startup", e.Backend, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// Attempt records one candidate backend and why it failed.
type Attempt struct {
	Backend BackendKind
	Err     error
}

// ExhaustedError aggregates every attempted candidate's failure once the
// fallback chain has run out. This is the single error surfaced to the
// caller for total failure.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "no capture backends were available to try"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Backend, a.Err))
	}
	return "all capture backends failed: " + strings.Join(parts, "; ")
}

// TranscodeError classifies a finalize-step encoder failure. The finalize
// pipeline degrades to delivering the raw capture, so sessions treat this
// as a warning, not a terminal failure.
type TranscodeError struct {
	Err       error
	Delivered string
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode failed, delivered raw capture at %s: %v", e.Delivered, e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}
