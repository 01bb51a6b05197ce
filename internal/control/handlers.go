package control

import (
	"context"
	"net/http"
	"os"
	"strconv"

	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
	"github.com/lexiqai/pronunciation-coach/internal/history"
	"github.com/lexiqai/pronunciation-coach/internal/presenter"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

// SessionView is a snapshot together with its rendered screen
type SessionView struct {
	State  session.State        `json:"state"`
	Screen presenter.ScreenView `json:"screen"`
}

func newSessionView(st session.State) SessionView {
	return SessionView{State: st, Screen: presenter.Screen(st)}
}

// Action is one of the user actions
type Action string

const (
	ActionNewSentence    Action = "new_sentence"
	ActionStartRecording Action = "start_recording"
	ActionStopRecording  Action = "stop_recording"
)

// perform runs an action. Actions outlive the request that asked for them.
func (s *Server) perform(ctx context.Context, action Action) error {
	ctx = context.WithoutCancel(ctx)
	switch action {
	case ActionNewSentence:
		return s.session.RequestSentence(ctx)
	case ActionStartRecording:
		return s.session.StartRecording(ctx)
	case ActionStopRecording:
		return s.session.StopRecording(ctx)
	default:
		return apperrors.InvalidAction("unknown action: " + string(action))
	}
}

func (s *Server) handleAction(action Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.perform(r.Context(), action)
		view := newSessionView(s.session.Snapshot())
		if err != nil {
			writeError(w, err, view)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// requestSentence handles POST /api/sentence
func (s *Server) requestSentence(w http.ResponseWriter, r *http.Request) {
	s.handleAction(ActionNewSentence)(w, r)
}

// startRecording handles POST /api/recording/start
func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	s.handleAction(ActionStartRecording)(w, r)
}

// stopRecording handles POST /api/recording/stop
func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	s.handleAction(ActionStopRecording)(w, r)
}

// getSession handles GET /api/session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newSessionView(s.session.Snapshot()))
}

// getPreview handles GET /api/preview, playing back the current recording
func (s *Server) getPreview(w http.ResponseWriter, r *http.Request) {
	ref := s.session.Snapshot().Recording.PreviewRef
	if ref == "" {
		http.Error(w, "no recording to play", http.StatusNotFound)
		return
	}

	f, err := os.Open(ref)
	if err != nil {
		// Released between snapshot and open
		http.Error(w, "no recording to play", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "recording.wav", info.ModTime(), f)
}

// getHistory handles GET /api/history?limit=N
func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}

	limit := s.limit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperrors.Validation("limit must be a positive integer"), nil)
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to read history")
		writeError(w, apperrors.Wrap(apperrors.ErrInternal, "could not read history", err), nil)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
