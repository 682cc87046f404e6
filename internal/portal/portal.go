package portal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/novarec/novarec/internal/logger"
)

// Portal D-Bus constants
const (
	portalService   = "org.freedesktop.portal.Desktop"
	portalPath      = "/org/freedesktop/portal/desktop"
	screenCastIface = "org.freedesktop.portal.ScreenCast"
	requestIface    = "org.freedesktop.portal.Request"
	sessionIface    = "org.freedesktop.portal.Session"
)

// Source types for SelectSources
const (
	SourceTypeMonitor = 1 << 0
	SourceTypeWindow  = 1 << 1
	SourceTypeVirtual = 1 << 2
)

// Cursor modes for SelectSources
const (
	CursorModeHidden   = 1 << 0
	CursorModeEmbedded = 1 << 1
	CursorModeMetadata = 1 << 2
)

// Persist modes for SelectSources
const (
	PersistModeNone        = 0
	PersistModeApplication = 1
	PersistModeSession     = 2
)

// DefaultResponseTimeout bounds how long a single handshake step may wait
// for its Response signal before the portal is declared hung.
const DefaultResponseTimeout = 10 * time.Second

type response struct {
	code    uint32
	results map[string]dbus.Variant
}

// Negotiator drives the ScreenCast portal handshake:
// CreateSession -> SelectSources -> Start, strictly in sequence. Each call
// yields a Request object path; the pending Response for that path is
// modeled as a waiter channel registered before the call is made, so the
// signal cannot be lost to a subscribe race.
type Negotiator struct {
	conn          *dbus.Conn
	timeout       time.Duration
	signals       chan *dbus.Signal
	sessionHandle dbus.ObjectPath

	mu      sync.Mutex
	waiters map[dbus.ObjectPath]chan response
	closed  bool

	restoreToken string
	tokenPath    string
}

// Option configures a Negotiator.
type Option func(*Negotiator)

// WithResponseTimeout overrides the per-step Response wait window.
func WithResponseTimeout(d time.Duration) Option {
	return func(n *Negotiator) { n.timeout = d }
}

// New connects to the session bus and verifies the portal service is
// actually registered there before any handshake work begins. Returns
// ErrUnavailable when it is not.
func New(opts ...Option) (*Negotiator, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var owned bool
	err = conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, portalService).Store(&owned)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("portal preflight check failed: %w", err)
	}
	if !owned {
		conn.Close()
		return nil, ErrUnavailable
	}

	n := &Negotiator{
		conn:      conn,
		timeout:   DefaultResponseTimeout,
		waiters:   make(map[dbus.ObjectPath]chan response),
		signals:   make(chan *dbus.Signal, 16),
		tokenPath: defaultTokenPath(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to portal responses: %w", err)
	}
	conn.Signal(n.signals)
	go n.dispatch()

	n.loadRestoreToken()

	return n, nil
}

// dispatch routes Response signals to the waiter registered for their
// request path. Unmatched signals are dropped; each Request emits exactly
// one Response.
func (n *Negotiator) dispatch() {
	for sig := range n.signals {
		if sig.Name != requestIface+".Response" || len(sig.Body) < 2 {
			continue
		}
		code, ok := sig.Body[0].(uint32)
		if !ok {
			continue
		}
		results, _ := sig.Body[1].(map[string]dbus.Variant)

		n.mu.Lock()
		waiter, ok := n.waiters[sig.Path]
		if ok {
			delete(n.waiters, sig.Path)
		}
		n.mu.Unlock()

		if ok {
			waiter <- response{code: code, results: results}
		}
	}
}

// Negotiate runs the full handshake and returns the negotiated stream
// handle. A non-success response code aborts immediately; the protocol is
// not resumable mid-sequence.
func (n *Negotiator) Negotiate(ctx context.Context) (*Stream, error) {
	log := logger.WithComponent("portal")

	sessionHandle, err := n.createSession(ctx)
	if err != nil {
		return nil, err
	}
	n.sessionHandle = sessionHandle
	log.Debug().Str("session", string(sessionHandle)).Msg("Created portal session")

	if err := n.selectSources(ctx, sessionHandle); err != nil {
		return nil, err
	}
	log.Debug().Msg("Selected sources")

	stream, err := n.start(ctx, sessionHandle)
	if err != nil {
		return nil, err
	}
	if stream.HasFD() {
		log.Info().Int("fd", stream.FD).Msg("Portal negotiation complete (file descriptor)")
	} else {
		log.Info().Uint32("node_id", stream.NodeID).Msg("Portal negotiation complete (PipeWire node)")
	}
	return stream, nil
}

func (n *Negotiator) createSession(ctx context.Context) (dbus.ObjectPath, error) {
	options := map[string]dbus.Variant{
		"session_handle_token": dbus.MakeVariant(requestToken()),
	}
	res, err := n.call(ctx, "CreateSession", options)
	if err != nil {
		return "", err
	}

	handle, ok := res.results["session_handle"]
	if !ok {
		return "", &MalformedResponseError{Reason: "CreateSession response missing session_handle"}
	}
	switch v := handle.Value().(type) {
	case dbus.ObjectPath:
		return v, nil
	case string:
		return dbus.ObjectPath(v), nil
	default:
		return "", &MalformedResponseError{Reason: fmt.Sprintf("unexpected session_handle type %T", v)}
	}
}

func (n *Negotiator) selectSources(ctx context.Context, sessionHandle dbus.ObjectPath) error {
	options := map[string]dbus.Variant{
		"types":        dbus.MakeVariant(uint32(SourceTypeMonitor)),
		"multiple":     dbus.MakeVariant(false),
		"cursor_mode":  dbus.MakeVariant(uint32(CursorModeEmbedded)),
		"persist_mode": dbus.MakeVariant(uint32(PersistModeSession)),
	}
	if n.restoreToken != "" {
		options["restore_token"] = dbus.MakeVariant(n.restoreToken)
	}

	_, err := n.call(ctx, "SelectSources", sessionHandle, options)
	return err
}

func (n *Negotiator) start(ctx context.Context, sessionHandle dbus.ObjectPath) (*Stream, error) {
	options := map[string]dbus.Variant{}

	// Empty parent window: the portal chooses where to raise its dialog.
	res, err := n.call(ctx, "Start", sessionHandle, "", options)
	if err != nil {
		return nil, err
	}

	if tokenVar, ok := res.results["restore_token"]; ok {
		if token, ok := tokenVar.Value().(string); ok && token != "" {
			n.restoreToken = token
			n.saveRestoreToken()
		}
	}

	return ExtractStream(res.results)
}

// OpenPipeWireRemote asks the portal for a dedicated PipeWire remote fd for
// the negotiated session. Some portal implementations only expose the
// stream this way.
func (n *Negotiator) OpenPipeWireRemote() (int, error) {
	if n.sessionHandle == "" {
		return -1, fmt.Errorf("no portal session negotiated")
	}
	var fd dbus.UnixFD
	err := n.conn.Object(portalService, portalPath).Call(
		screenCastIface+".OpenPipeWireRemote", 0,
		n.sessionHandle, map[string]dbus.Variant{},
	).Store(&fd)
	if err != nil {
		return -1, fmt.Errorf("OpenPipeWireRemote call failed: %w", err)
	}
	return int(fd), nil
}

// call invokes a ScreenCast method whose reply is an asynchronous Request.
// The waiter is registered under the predicted request path before the
// method call is sent, then re-keyed if the portal returns a different
// path (older portal versions do).
func (n *Negotiator) call(ctx context.Context, method string, args ...interface{}) (response, error) {
	log := logger.WithComponent("portal")

	token := requestToken()
	predicted := n.predictRequestPath(token)

	waiter := make(chan response, 1)
	n.mu.Lock()
	n.waiters[predicted] = waiter
	n.mu.Unlock()

	// The options map is always the last argument for ScreenCast methods.
	if len(args) > 0 {
		if options, ok := args[len(args)-1].(map[string]dbus.Variant); ok {
			options["handle_token"] = dbus.MakeVariant(token)
		}
	}

	var requestPath dbus.ObjectPath
	obj := n.conn.Object(portalService, portalPath)
	if err := obj.CallWithContext(ctx, screenCastIface+"."+method, 0, args...).Store(&requestPath); err != nil {
		n.dropWaiter(predicted)
		return response{}, fmt.Errorf("%s call failed: %w", method, err)
	}

	if requestPath != predicted {
		n.mu.Lock()
		delete(n.waiters, predicted)
		n.waiters[requestPath] = waiter
		n.mu.Unlock()
	}

	log.Debug().
		Str("method", method).
		Str("request_path", string(requestPath)).
		Msg("Waiting for portal response (a dialog may appear)")

	timer := time.NewTimer(n.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		n.dropWaiter(requestPath)
		n.closeRequest(requestPath)
		return response{}, ctx.Err()
	case <-timer.C:
		n.dropWaiter(requestPath)
		n.closeRequest(requestPath)
		return response{}, &TimeoutError{Step: method, Wait: n.timeout}
	case res := <-waiter:
		if res.code != 0 {
			return response{}, &RejectedError{Step: method, Code: res.code}
		}
		return res, nil
	}
}

func (n *Negotiator) dropWaiter(path dbus.ObjectPath) {
	n.mu.Lock()
	delete(n.waiters, path)
	n.mu.Unlock()
}

// closeRequest tells the portal to abandon an outstanding Request so it
// does not keep a dialog alive after we stopped listening.
func (n *Negotiator) closeRequest(path dbus.ObjectPath) {
	if path == "" {
		return
	}
	n.conn.Object(portalService, path).Call(requestIface+".Close", 0)
}

// predictRequestPath computes the request object path the portal will use
// for a call carrying the given handle token:
// /org/freedesktop/portal/desktop/request/<sender>/<token>, where sender is
// our unique bus name with the leading colon stripped and dots replaced.
func (n *Negotiator) predictRequestPath(token string) dbus.ObjectPath {
	sender := strings.TrimPrefix(n.conn.Names()[0], ":")
	sender = strings.ReplaceAll(sender, ".", "_")
	return dbus.ObjectPath(fmt.Sprintf("%s/request/%s/%s", portalPath, sender, token))
}

func requestToken() string {
	return "novarec_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Close tears down the portal session and the bus connection. Safe to call
// after a failed negotiation.
func (n *Negotiator) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	if n.sessionHandle != "" {
		n.conn.Object(portalService, n.sessionHandle).Call(sessionIface+".Close", 0)
		n.sessionHandle = ""
	}
	n.conn.RemoveSignal(n.signals)
	close(n.signals)
	return n.conn.Close()
}

// Available reports whether the portal service is registered on the session
// bus, without starting a handshake.
func Available() bool {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	var owned bool
	if err := conn.BusObject().Call("org.freedesktop.DBus.NameHasOwner", 0, portalService).Store(&owned); err != nil {
		return false
	}
	return owned
}
