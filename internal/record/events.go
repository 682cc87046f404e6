package record

import "time"

// EventKind labels a session lifecycle notification.
type EventKind string

const (
	EventStateChanged  EventKind = "state_changed"
	EventBackendFailed EventKind = "backend_failed"
	EventCompleted     EventKind = "completed"
	EventFailed        EventKind = "failed"
)

// Event is a session lifecycle notification, shaped for JSON transport.
type Event struct {
	Kind      EventKind   `json:"kind"`
	SessionID string      `json:"session_id"`
	State     State       `json:"state,omitempty"`
	Backend   BackendKind `json:"backend,omitempty"`
	Message   string      `json:"message,omitempty"`
	Path      string      `json:"path,omitempty"`
	Time      time.Time   `json:"time"`
}

// EventSink receives session events. Implementations must not block.
type EventSink func(Event)
