package sentence

import (
	"context"
	"errors"
)

// ErrNoSentence means the provider answered without usable text
var ErrNoSentence = errors.New("no sentence in response")

// Sentence is the target text the user practices. It is replaced wholesale,
// never edited.
type Sentence struct {
	Text string `json:"text"`
}

// IsZero reports whether no sentence has been loaded
func (s Sentence) IsZero() bool {
	return s.Text == ""
}

// Provider yields practice sentences
type Provider interface {
	Fetch(ctx context.Context) (Sentence, error)
}
