package portal

import (
	"github.com/godbus/dbus/v5"
)

// Stream is the handle a successful negotiation yields: either a PipeWire
// node id or a raw file descriptor, depending on the portal implementation.
type Stream struct {
	NodeID uint32
	FD     int
}

// HasFD reports whether the portal handed back a file descriptor instead of
// a node id.
func (s *Stream) HasFD() bool {
	return s.FD >= 0
}

// ExtractStream walks a portal Start response payload for a stream handle.
//
// The well-formed shape is a "streams" entry of signature a(ua{sv}) whose
// first tuple member is the node id. Portal implementations vary, so when
// that shape is absent the payload is walked recursively: an explicitly
// fd-typed field wins, otherwise the first positive integer encountered is
// treated as a node id. Returns MalformedResponseError when neither is found.
func ExtractStream(results map[string]dbus.Variant) (*Stream, error) {
	if results == nil {
		return nil, &MalformedResponseError{Reason: "empty response payload"}
	}

	// Explicit fd-typed fields take precedence over the node heuristic.
	for _, key := range []string{"fd", "pipewire_fd"} {
		if v, ok := results[key]; ok {
			if fd, ok := asFD(v.Value()); ok {
				return &Stream{NodeID: 0, FD: fd}, nil
			}
		}
	}

	if streams, ok := results["streams"]; ok {
		if node, ok := firstNodeID(streams.Value()); ok {
			return &Stream{NodeID: node, FD: -1}, nil
		}
	}

	// Heuristic fallback: first positive integer anywhere in the payload.
	for _, v := range results {
		if node, ok := firstPositiveInt(v.Value()); ok {
			return &Stream{NodeID: node, FD: -1}, nil
		}
	}

	return nil, &MalformedResponseError{Reason: "no fd field, no streams entry, and no positive integer in payload"}
}

// firstNodeID parses the canonical a(ua{sv}) streams shape. godbus decodes
// it as [][]interface{} or []interface{} of tuples depending on the sender.
func firstNodeID(value interface{}) (uint32, bool) {
	switch v := value.(type) {
	case [][]interface{}:
		for _, stream := range v {
			if len(stream) > 0 {
				if node, ok := asNodeID(stream[0]); ok {
					return node, true
				}
			}
		}
	case []interface{}:
		for _, item := range v {
			if stream, ok := item.([]interface{}); ok && len(stream) > 0 {
				if node, ok := asNodeID(stream[0]); ok {
					return node, true
				}
			}
		}
	}
	return 0, false
}

func firstPositiveInt(value interface{}) (uint32, bool) {
	switch v := value.(type) {
	case dbus.Variant:
		return firstPositiveInt(v.Value())
	case map[string]dbus.Variant:
		for _, item := range v {
			if node, ok := firstPositiveInt(item.Value()); ok {
				return node, true
			}
		}
	case map[string]interface{}:
		for _, item := range v {
			if node, ok := firstPositiveInt(item); ok {
				return node, true
			}
		}
	case [][]interface{}:
		for _, item := range v {
			if node, ok := firstPositiveInt([]interface{}(item)); ok {
				return node, true
			}
		}
	case []interface{}:
		for _, item := range v {
			if node, ok := firstPositiveInt(item); ok {
				return node, true
			}
		}
	default:
		return asNodeID(value)
	}
	return 0, false
}

func asNodeID(value interface{}) (uint32, bool) {
	switch n := value.(type) {
	case uint32:
		if n > 0 {
			return n, true
		}
	case int32:
		if n > 0 {
			return uint32(n), true
		}
	case uint64:
		if n > 0 {
			return uint32(n), true
		}
	case int64:
		if n > 0 {
			return uint32(n), true
		}
	case int:
		if n > 0 {
			return uint32(n), true
		}
	}
	return 0, false
}

func asFD(value interface{}) (int, bool) {
	switch fd := value.(type) {
	case dbus.UnixFD:
		return int(fd), true
	case dbus.UnixFDIndex:
		return int(fd), true
	case int32:
		if fd >= 0 {
			return int(fd), true
		}
	case int:
		if fd >= 0 {
			return fd, true
		}
	}
	return -1, false
}
