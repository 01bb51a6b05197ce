package scoring

import (
	"context"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
)

// WordAccuracy is the accuracy of one word of the target sentence
type WordAccuracy struct {
	Word     string  `json:"word"`
	Accuracy float64 `json:"accuracy"`
}

// Result is a scored attempt. Breakdown keeps the service's word order.
type Result struct {
	OverallScore  float64        `json:"score"`
	Breakdown     []WordAccuracy `json:"breakdown"`
	HeardPhonemes string         `json:"user_phonemes,omitempty"`
}

// ApplicationError is a failure the scoring service reported in its
// response body. Message is the service's text, unmodified.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return "scoring service error: " + e.Message
}

// Scorer submits a recorded attempt for scoring
type Scorer interface {
	Score(ctx context.Context, artifact *audio.Artifact, text string) (*Result, error)
}
