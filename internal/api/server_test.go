package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/novarec/novarec/internal/config"
	"github.com/novarec/novarec/internal/library"
	"github.com/novarec/novarec/internal/record"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.NewManager(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	return NewServer(cfg, record.NewRecorder(), library.New(dir), 0)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "GET", "/api/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestStatusIdle(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "GET", "/api/record/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["state"] != string(record.StateIdle) {
		t.Errorf("state = %q, want %q", body["state"], record.StateIdle)
	}
}

func TestStartRejectsUnknownBackend(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "POST", "/api/record/start", `{"backend":"obs"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestStopWithoutSession(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "POST", "/api/record/stop", "")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (stop with no session is a no-op)", rr.Code)
	}
}

func TestRecordingsEmptyList(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "GET", "/api/recordings", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want an empty JSON array", got)
	}
}

func TestTrimRejectsInvalidBody(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "POST", "/api/recordings/rec.mp4/trim", "{not json")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestEventsStreamLibraryChanges(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.NewManager(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	lib := library.New(dir)
	s := NewServer(cfg, record.NewRecorder(), lib, 0)

	w, err := lib.Watch()
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()
	go s.forwardLibraryChanges(w)

	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// The upgrade handshake completes before the handler registers the
	// client; wait for registration so the broadcast cannot miss it.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(dir, "rec_new.mkv"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var ev libraryEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("invalid event JSON: %v", err)
	}
	if ev.Kind != "library_changed" || ev.Name != "rec_new.mkv" || ev.Removed {
		t.Errorf("event = %+v, want library_changed for rec_new.mkv", ev)
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)

	rr := doRequest(s, "OPTIONS", "/api/record/start", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS allow-origin header")
	}
}
