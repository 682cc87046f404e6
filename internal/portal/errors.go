package portal

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable indicates the desktop portal service is not registered on
// the session bus. Checked proactively before the handshake begins.
var ErrUnavailable = errors.New("xdg-desktop-portal is not registered on the session bus")

// RejectedError indicates the portal answered a handshake step with a
// non-zero response code (the user dismissed the dialog, or the backend
// refused the request). The handshake is not resumable after this.
type RejectedError struct {
	Step string
	Code uint32
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("portal rejected %s (response code %d)", e.Step, e.Code)
}

// TimeoutError indicates a Request object never emitted its Response signal
// within the negotiation window. Portals that do not answer in time are
// assumed hung or absent; the caller must not retry.
type TimeoutError struct {
	Step string
	Wait time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for portal %s response after %s", e.Step, e.Wait)
}

// MalformedResponseError indicates the handshake succeeded but no usable
// stream descriptor could be extracted from the Start payload.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("no stream handle in portal response: %s", e.Reason)
}
