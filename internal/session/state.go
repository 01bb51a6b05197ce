package session

import (
	"context"
	"time"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
	apperrors "github.com/lexiqai/pronunciation-coach/internal/errors"
	"github.com/lexiqai/pronunciation-coach/internal/scoring"
	"github.com/lexiqai/pronunciation-coach/internal/sentence"
)

// Phase is the step of the practice loop the session is in
type Phase int

const (
	PhaseAwaitingSentence Phase = iota
	PhaseSentenceReady
	PhaseRecording
	PhaseSubmitting
	PhaseResultReady
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingSentence:
		return "awaiting_sentence"
	case PhaseSentenceReady:
		return "sentence_ready"
	case PhaseRecording:
		return "recording"
	case PhaseSubmitting:
		return "submitting"
	case PhaseResultReady:
		return "result_ready"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name in JSON snapshots
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Recording is the current attempt. Artifact and PreviewRef are only set
// once Status is Stopped.
type Recording struct {
	ID         string          `json:"id,omitempty"`
	Status     audio.Status    `json:"status"`
	Artifact   *audio.Artifact `json:"artifact,omitempty"`
	PreviewRef string          `json:"preview_ref,omitempty"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
}

// Submission tracks the scoring request of the current attempt
type Submission struct {
	InFlight bool                `json:"in_flight"`
	Err      *apperrors.AppError `json:"error,omitempty"`
}

// State is the whole session as front-ends see it
type State struct {
	Version    uint64              `json:"version"` // grows with every published change
	CycleID    string              `json:"cycle_id"`
	Phase      Phase               `json:"phase"`
	Fetching   bool                `json:"fetching"`
	Sentence   sentence.Sentence   `json:"sentence"`
	Recording  Recording           `json:"recording"`
	Submission Submission          `json:"submission"`
	Result     *scoring.Result     `json:"result,omitempty"`
	Alert      *apperrors.AppError `json:"alert,omitempty"`
}

// CanRecord reports whether "start recording" is currently accepted
func (s State) CanRecord() bool {
	if s.Sentence.IsZero() || s.Submission.InFlight {
		return false
	}
	switch s.Phase {
	case PhaseSentenceReady, PhaseResultReady, PhaseError:
		return true
	default:
		return false
	}
}

// Attempt is a finished submission, handed to the Recorder
type Attempt struct {
	CycleID    string
	Sentence   string
	Result     *scoring.Result
	Err        *apperrors.AppError
	Duration   time.Duration
	AudioBytes int
	FinishedAt time.Time
}

// Recorder persists finished attempts
type Recorder interface {
	Record(ctx context.Context, attempt Attempt) error
}
