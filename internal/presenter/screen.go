package presenter

import (
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

// Notice is a user-visible failure message
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScreenView is everything a front-end draws for one session state
type ScreenView struct {
	Phase      string  `json:"phase"`
	Sentence   string  `json:"sentence"`
	Status     string  `json:"status,omitempty"`
	CanRecord  bool    `json:"can_record"`
	CanStop    bool    `json:"can_stop"`
	PreviewRef string  `json:"preview_ref,omitempty"`
	Notice     *Notice `json:"notice,omitempty"`
	Result     *View   `json:"result,omitempty"`
}

// Screen builds the screen for a session snapshot
func Screen(s session.State) ScreenView {
	v := ScreenView{
		Phase:      s.Phase.String(),
		Sentence:   s.Sentence.Text,
		Status:     statusLine(s),
		CanRecord:  s.CanRecord(),
		CanStop:    s.Phase == session.PhaseRecording,
		PreviewRef: s.Recording.PreviewRef,
		Result:     Present(s.Result),
	}

	// A submission failure outranks an older alert
	switch {
	case s.Submission.Err != nil:
		v.Notice = &Notice{Code: string(s.Submission.Err.Code), Message: s.Submission.Err.Message}
	case s.Alert != nil:
		v.Notice = &Notice{Code: string(s.Alert.Code), Message: s.Alert.Message}
	}
	return v
}

func statusLine(s session.State) string {
	switch s.Phase {
	case session.PhaseAwaitingSentence:
		if s.Fetching {
			return "Loading a sentence..."
		}
		return "No sentence yet. Ask for a new one."
	case session.PhaseRecording:
		return "Recording... stop when you are done."
	case session.PhaseSubmitting:
		return "Analyzing your voice..."
	default:
		return ""
	}
}
