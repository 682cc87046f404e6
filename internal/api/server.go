// Package api serves the local control surface: REST endpoints for driving
// recordings and a WebSocket stream of session and library events.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/library"
	"github.com/novarec/novarec/internal/logger"
	"github.com/novarec/novarec/internal/record"
)

// Server hosts the control API for one recorder instance.
type Server struct {
	cfg      *config.Manager
	recorder *record.Recorder
	lib      *library.Library

	httpServer *http.Server
	upgrader   websocket.Upgrader
	watcher    *library.Watcher

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewServer wires the recorder and library into an HTTP server on port.
func NewServer(cfg *config.Manager, recorder *record.Recorder, lib *library.Library, port int) *Server {
	s := &Server{
		cfg:      cfg,
		recorder: recorder,
		lib:      lib,
		clients:  make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			// Local control surface; browsers on this machine are fine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	recorder.SetEventSink(s.broadcastEvent)

	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/health", s.handleHealth).Methods("GET")
	apiRouter.HandleFunc("/backends", s.handleBackends).Methods("GET")
	apiRouter.HandleFunc("/record/start", s.handleStart).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/record/stop", s.handleStop).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/record/status", s.handleStatus).Methods("GET")
	apiRouter.HandleFunc("/recordings", s.handleRecordings).Methods("GET")
	apiRouter.HandleFunc("/recordings/{name}", s.handleDeleteRecording).Methods("DELETE", "OPTIONS")
	apiRouter.HandleFunc("/recordings/{name}/trim", s.handleTrim).Methods("POST", "OPTIONS")
	apiRouter.HandleFunc("/events", s.handleEvents).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log := logger.WithComponent("api")

	watcher, err := s.lib.Watch()
	if err != nil {
		// Clients still get session events; only library notifications are
		// lost.
		log.Warn().Err(err).Msg("Library watch unavailable")
	} else {
		s.watcher = watcher
		go s.forwardLibraryChanges(watcher)
	}

	log.Info().Str("addr", s.httpServer.Addr).Msg("Control API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown drains connections and closes event clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.mu.Lock()
	for conn := range s.clients {
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]bool)
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	available := record.DefaultAvailability()
	kinds := []record.BackendKind{
		record.BackendPortalGst,
		record.BackendWfRecorder,
		record.BackendWlScreenrec,
		record.BackendFfmpegPipewire,
		record.BackendFfmpegX11,
	}
	type backendStatus struct {
		Name      record.BackendKind `json:"name"`
		Available bool               `json:"available"`
	}
	out := make([]backendStatus, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, backendStatus{Name: k, Available: available(k)})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"display_server": record.DetectEnv().DisplayServer(),
		"backends":       out,
	})
}

type startRequest struct {
	Mode    string         `json:"mode"`
	Region  *record.Region `json:"region,omitempty"`
	Backend string         `json:"backend,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if r.Body != nil {
		// An empty body means a default fullscreen recording.
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	preferred, err := record.ParseBackend(body.Backend)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	req := record.RequestFromSettings(s.cfg.Get())
	req.Preferred = preferred
	if body.Mode == string(record.ModeRegion) {
		req.Mode = record.ModeRegion
		req.Region = body.Region
	}

	sess, err := s.recorder.Start(context.Background(), req, record.Callbacks{})
	if err != nil {
		status := http.StatusInternalServerError
		if err == record.ErrSessionActive {
			status = http.StatusConflict
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sess.ID(),
		"state":      string(sess.State()),
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	sess := s.recorder.Active()
	if sess == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(record.StateIdle)})
		return
	}
	sess.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"session_id": sess.ID(),
		"status":     "stopping",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.recorder.Active()
	if sess == nil {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(record.StateIdle)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID(),
		"state":      string(sess.State()),
		"backend":    string(sess.Backend()),
	})
}

func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.lib.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []library.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.lib.Remove(name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": name})
}

type trimRequest struct {
	StartSeconds float64 `json:"start_seconds"`
	EndSeconds   float64 `json:"end_seconds"`
}

func (s *Server) handleTrim(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var body trimRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid trim request: %w", err))
		return
	}

	clip, err := s.lib.Trim(r.Context(), name,
		time.Duration(body.StartSeconds*float64(time.Second)),
		time.Duration(body.EndSeconds*float64(time.Second)),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"clip": clip})
}

// handleEvents upgrades to a WebSocket and streams session events until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()
	log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("Event client connected")

	// Reads only detect disconnects; clients never send payloads.
	go func() {
		defer s.dropClient(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// libraryEvent is the wire shape of a library change on the event stream,
// distinguished from session events by its kind.
type libraryEvent struct {
	Kind    string    `json:"kind"`
	Name    string    `json:"name"`
	Removed bool      `json:"removed"`
	Time    time.Time `json:"time"`
}

// forwardLibraryChanges streams library changes to event clients until the
// watcher closes.
func (s *Server) forwardLibraryChanges(w *library.Watcher) {
	for change := range w.Changes() {
		payload, err := json.Marshal(libraryEvent{
			Kind:    "library_changed",
			Name:    change.Name,
			Removed: change.Removed,
			Time:    time.Now(),
		})
		if err != nil {
			continue
		}
		s.broadcast(payload)
	}
}

// broadcastEvent fans a session event out to all connected clients. Slow or
// dead clients get dropped rather than blocking the recorder.
func (s *Server) broadcastEvent(ev record.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.broadcast(payload)
}

func (s *Server) broadcast(payload []byte) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.dropClient(conn)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
