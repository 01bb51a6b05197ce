package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
	"github.com/lexiqai/pronunciation-coach/internal/config"
	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
	"github.com/lexiqai/pronunciation-coach/internal/history"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/sentence"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

type fakeSession struct {
	mu          sync.Mutex
	state       session.State
	subscribers []func(session.State)
	errs        map[Action]error
	calls       []Action
}

func newFakeSession() *fakeSession {
	return &fakeSession{errs: make(map[Action]error)}
}

func (f *fakeSession) act(action Action, apply func(*session.State)) error {
	f.mu.Lock()
	f.calls = append(f.calls, action)
	if err := f.errs[action]; err != nil {
		f.mu.Unlock()
		return err
	}
	apply(&f.state)
	st := f.state
	subs := append([]func(session.State){}, f.subscribers...)
	f.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
	return nil
}

func (f *fakeSession) RequestSentence(ctx context.Context) error {
	return f.act(ActionNewSentence, func(s *session.State) {
		s.Phase = session.PhaseSentenceReady
		s.Sentence = sentence.Sentence{Text: "The quick brown fox"}
	})
}

func (f *fakeSession) StartRecording(ctx context.Context) error {
	return f.act(ActionStartRecording, func(s *session.State) {
		s.Phase = session.PhaseRecording
		s.Recording = session.Recording{ID: "rec-1", Status: audio.StatusRecording}
	})
}

func (f *fakeSession) StopRecording(ctx context.Context) error {
	return f.act(ActionStopRecording, func(s *session.State) {
		s.Phase = session.PhaseSubmitting
		s.Recording.Status = audio.StatusStopped
		s.Submission.InFlight = true
	})
}

func (f *fakeSession) Snapshot() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeSession) Subscribe(fn func(session.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers = append(f.subscribers, fn)
}

func (f *fakeSession) setState(st session.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
}

type fakeHistory struct {
	entries   []history.Entry
	err       error
	lastLimit int
}

func (f *fakeHistory) Recent(ctx context.Context, limit int) ([]history.Entry, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.entries, nil
}

func testServer(sess Session, hist HistoryReader) *Server {
	cfg := &config.Config{
		Port:               "0",
		HistoryLimit:       20,
		CORSAllowedOrigins: []string{"*"},
		MetricsEnabled:     true,
	}
	return NewServer(cfg, zerolog.Nop(), sess, hist, map[string]observability.HealthCheckFunc{})
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
	}
	return rec, env
}

func TestActions(t *testing.T) {
	sess := newFakeSession()
	s := testServer(sess, nil)

	tests := []struct {
		path      string
		wantPhase string
	}{
		{"/api/sentence", "sentence_ready"},
		{"/api/recording/start", "recording"},
		{"/api/recording/stop", "submitting"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, env := do(t, s.Handler(), http.MethodPost, tt.path)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected status 200, got %d", rec.Code)
			}
			if !env.Success {
				t.Error("Expected success to be true")
			}

			var view struct {
				State struct {
					Phase string `json:"phase"`
				} `json:"state"`
			}
			if err := json.Unmarshal(env.Data, &view); err != nil {
				t.Fatalf("Failed to decode view: %v", err)
			}
			if view.State.Phase != tt.wantPhase {
				t.Errorf("Expected phase %s, got %s", tt.wantPhase, view.State.Phase)
			}
		})
	}

	if len(sess.calls) != 3 {
		t.Errorf("Expected 3 session calls, got %d", len(sess.calls))
	}
}

func TestActions_ErrorStatus(t *testing.T) {
	tests := []struct {
		name     string
		action   Action
		path     string
		err      error
		wantCode int
		wantErr  string
	}{
		{
			name:     "invalid action",
			action:   ActionStartRecording,
			path:     "/api/recording/start",
			err:      apperrors.InvalidAction("no sentence to record"),
			wantCode: http.StatusConflict,
			wantErr:  "INVALID_ACTION",
		},
		{
			name:     "sentence fetch failure",
			action:   ActionNewSentence,
			path:     "/api/sentence",
			err:      apperrors.SentenceFetch(errors.New("connection refused")),
			wantCode: http.StatusBadGateway,
			wantErr:  "SENTENCE_FETCH_FAILURE",
		},
		{
			name:     "permission failure",
			action:   ActionStartRecording,
			path:     "/api/recording/start",
			err:      apperrors.Permission("microphone access was denied", nil),
			wantCode: http.StatusForbidden,
			wantErr:  "PERMISSION_FAILURE",
		},
		{
			name:     "plain error",
			action:   ActionStopRecording,
			path:     "/api/recording/stop",
			err:      errors.New("boom"),
			wantCode: http.StatusInternalServerError,
			wantErr:  "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			sess.errs[tt.action] = tt.err
			s := testServer(sess, nil)

			rec, env := do(t, s.Handler(), http.MethodPost, tt.path)
			if rec.Code != tt.wantCode {
				t.Errorf("Expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if env.Success {
				t.Error("Expected success to be false")
			}
			if env.Error == nil || env.Error.Code != tt.wantErr {
				t.Fatalf("Expected error code %s, got %+v", tt.wantErr, env.Error)
			}
			if len(env.Data) == 0 {
				t.Error("Expected the session view alongside the error")
			}
		})
	}
}

func TestGetSession(t *testing.T) {
	sess := newFakeSession()
	sess.setState(session.State{
		CycleID:  "cycle-1",
		Phase:    session.PhaseSentenceReady,
		Sentence: sentence.Sentence{Text: "Hello world"},
	})
	s := testServer(sess, nil)

	rec, env := do(t, s.Handler(), http.MethodGet, "/api/session")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var raw map[string]map[string]interface{}
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		t.Fatalf("Failed to decode view: %v", err)
	}
	if raw["state"]["cycle_id"] != "cycle-1" {
		t.Errorf("Expected cycle_id cycle-1, got %v", raw["state"]["cycle_id"])
	}
	if raw["state"]["phase"] != "sentence_ready" {
		t.Errorf("Expected phase sentence_ready, got %v", raw["state"]["phase"])
	}
	if raw["screen"]["can_record"] != true {
		t.Errorf("Expected can_record true, got %v", raw["screen"]["can_record"])
	}
}

func TestGetPreview(t *testing.T) {
	t.Run("no recording", func(t *testing.T) {
		s := testServer(newFakeSession(), nil)
		rec, _ := do(t, s.Handler(), http.MethodGet, "/api/preview")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rec.Code)
		}
	})

	t.Run("released preview", func(t *testing.T) {
		sess := newFakeSession()
		sess.setState(session.State{Recording: session.Recording{
			Status:     audio.StatusStopped,
			PreviewRef: filepath.Join(t.TempDir(), "gone.wav"),
		}})
		s := testServer(sess, nil)

		rec, _ := do(t, s.Handler(), http.MethodGet, "/api/preview")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rec.Code)
		}
	})

	t.Run("stopped recording", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "attempt.wav")
		payload := []byte("RIFF....WAVEfmt ")
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			t.Fatalf("Failed to write preview: %v", err)
		}

		sess := newFakeSession()
		sess.setState(session.State{Recording: session.Recording{
			Status:     audio.StatusStopped,
			PreviewRef: path,
		}})
		s := testServer(sess, nil)

		rec, _ := do(t, s.Handler(), http.MethodGet, "/api/preview")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
			t.Errorf("Expected Content-Type audio/wav, got %s", ct)
		}
		if rec.Body.String() != string(payload) {
			t.Errorf("Expected preview bytes to be served unchanged")
		}
	})
}

func TestGetHistory(t *testing.T) {
	score := 92.0

	t.Run("disabled", func(t *testing.T) {
		s := testServer(newFakeSession(), nil)
		rec, env := do(t, s.Handler(), http.MethodGet, "/api/history")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		if string(env.Data) != "[]" {
			t.Errorf("Expected empty list, got %s", env.Data)
		}
	})

	t.Run("default limit", func(t *testing.T) {
		hist := &fakeHistory{entries: []history.Entry{{ID: 1, Sentence: "Hello world", Score: &score}}}
		s := testServer(newFakeSession(), hist)

		rec, env := do(t, s.Handler(), http.MethodGet, "/api/history")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		if hist.lastLimit != 20 {
			t.Errorf("Expected limit 20, got %d", hist.lastLimit)
		}

		var entries []history.Entry
		if err := json.Unmarshal(env.Data, &entries); err != nil {
			t.Fatalf("Failed to decode entries: %v", err)
		}
		if len(entries) != 1 || entries[0].Score == nil || *entries[0].Score != 92 {
			t.Errorf("Expected one entry scored 92, got %+v", entries)
		}
	})

	t.Run("explicit limit", func(t *testing.T) {
		hist := &fakeHistory{}
		s := testServer(newFakeSession(), hist)

		do(t, s.Handler(), http.MethodGet, "/api/history?limit=5")
		if hist.lastLimit != 5 {
			t.Errorf("Expected limit 5, got %d", hist.lastLimit)
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		s := testServer(newFakeSession(), &fakeHistory{})
		rec, env := do(t, s.Handler(), http.MethodGet, "/api/history?limit=abc")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", rec.Code)
		}
		if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
			t.Errorf("Expected VALIDATION_ERROR, got %+v", env.Error)
		}
	})

	t.Run("store failure", func(t *testing.T) {
		s := testServer(newFakeSession(), &fakeHistory{err: errors.New("disk I/O error")})
		rec, _ := do(t, s.Handler(), http.MethodGet, "/api/history")
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", rec.Code)
		}
	})
}

func TestHealthAndMetrics(t *testing.T) {
	s := testServer(newFakeSession(), nil)

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", rec.Code)
			}
		})
	}
}

func TestPerform_UnknownAction(t *testing.T) {
	s := testServer(newFakeSession(), nil)
	err := s.perform(context.Background(), Action("dance"))
	if apperrors.CodeOf(err) != apperrors.ErrInvalidAction {
		t.Errorf("Expected INVALID_ACTION, got %v", err)
	}
}

func dialSession(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/session"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	return msg
}

func phaseOf(t *testing.T, msg Message) string {
	t.Helper()
	var view struct {
		State struct {
			Phase string `json:"phase"`
		} `json:"state"`
	}
	if err := json.Unmarshal(msg.Payload, &view); err != nil {
		t.Fatalf("Failed to decode payload: %v", err)
	}
	return view.State.Phase
}

func TestWebSocket_SnapshotAndActions(t *testing.T) {
	sess := newFakeSession()
	s := testServer(sess, nil)
	conn := dialSession(t, s)

	first := readMessage(t, conn)
	if first.Type != TypeState {
		t.Fatalf("Expected initial state message, got %s", first.Type)
	}
	if phase := phaseOf(t, first); phase != "awaiting_sentence" {
		t.Errorf("Expected phase awaiting_sentence, got %s", phase)
	}

	payload, _ := json.Marshal(ActionPayload{Action: ActionNewSentence})
	if err := conn.WriteJSON(Message{Type: TypeAction, Payload: payload}); err != nil {
		t.Fatalf("Failed to write action: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != TypeState {
		t.Fatalf("Expected state message, got %s", msg.Type)
	}
	if phase := phaseOf(t, msg); phase != "sentence_ready" {
		t.Errorf("Expected phase sentence_ready, got %s", phase)
	}
}

func TestWebSocket_ErrorsAndPing(t *testing.T) {
	sess := newFakeSession()
	sess.errs[ActionStartRecording] = apperrors.InvalidAction("no sentence to record")
	s := testServer(sess, nil)
	conn := dialSession(t, s)
	readMessage(t, conn)

	if err := conn.WriteJSON(Message{Type: TypePing}); err != nil {
		t.Fatalf("Failed to write ping: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypePong {
		t.Errorf("Expected pong, got %s", msg.Type)
	}

	payload, _ := json.Marshal(ActionPayload{Action: ActionStartRecording})
	if err := conn.WriteJSON(Message{Type: TypeAction, Payload: payload}); err != nil {
		t.Fatalf("Failed to write action: %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != TypeError {
		t.Fatalf("Expected error message, got %s", msg.Type)
	}
	var body ErrorBody
	if err := json.Unmarshal(msg.Payload, &body); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if body.Code != "INVALID_ACTION" {
		t.Errorf("Expected INVALID_ACTION, got %s", body.Code)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != TypeError {
		t.Errorf("Expected error message, got %s", msg.Type)
	}
}

func TestHub_ClientCount(t *testing.T) {
	s := testServer(newFakeSession(), nil)
	conn := dialSession(t, s)
	readMessage(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 1 client, got %d", s.hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn.Close()
	for s.hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 0 clients after close, got %d", s.hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func latestPhase(t *testing.T, h *Hub) string {
	t.Helper()
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	if h.latest == nil {
		t.Fatal("Expected a pending snapshot")
	}
	var msg Message
	if err := json.Unmarshal(h.latest, &msg); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	return phaseOf(t, msg)
}

func TestHub_IgnoresOlderSnapshots(t *testing.T) {
	h := NewHub(zerolog.Nop())

	h.BroadcastState(session.State{Version: 5, Phase: session.PhaseResultReady})
	h.BroadcastState(session.State{Version: 4, Phase: session.PhaseSubmitting})

	if phase := latestPhase(t, h); phase != "result_ready" {
		t.Errorf("Expected result_ready to survive an older snapshot, got %s", phase)
	}
}

func TestHub_KeepsNewestWhileBusy(t *testing.T) {
	h := NewHub(zerolog.Nop())

	// Nothing drains the hub, so every snapshot after the first piles up
	for v := uint64(1); v <= 200; v++ {
		h.BroadcastState(session.State{Version: v, Phase: session.PhaseSubmitting})
	}
	h.BroadcastState(session.State{Version: 201, Phase: session.PhaseResultReady})

	if phase := latestPhase(t, h); phase != "result_ready" {
		t.Errorf("Expected the final snapshot to be kept, got %s", phase)
	}
}

func TestWebSocket_FinalSnapshotDelivered(t *testing.T) {
	s := testServer(newFakeSession(), nil)
	conn := dialSession(t, s)
	readMessage(t, conn)

	for v := uint64(1); v <= 10; v++ {
		s.hub.BroadcastState(session.State{Version: v, Phase: session.PhaseSubmitting})
	}
	s.hub.BroadcastState(session.State{Version: 11, Phase: session.PhaseResultReady})

	for {
		msg := readMessage(t, conn)
		if msg.Type == TypeState && phaseOf(t, msg) == "result_ready" {
			return
		}
	}
}
