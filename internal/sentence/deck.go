package sentence

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lexiqai/pronunciation-coach/internal/observability"
)

// DefaultSentences is the built-in practice list
var DefaultSentences = []string{
	"The quick brown fox jumps over the lazy dog.",
	"She sells seashells by the seashore.",
	"Artificial intelligence is transforming the world.",
	"I would like to order a cappuccino with oat milk, please.",
	"Can you please tell me the way to the nearest station?",
	"Pronunciation is key to clear communication.",
	"Programming in Python is both fun and powerful.",
}

// deckFile is the on-disk deck format:
//
//	sentences:
//	  - She sells seashells by the seashore.
type deckFile struct {
	Sentences []string `yaml:"sentences"`
}

// Deck picks sentences at random from a fixed list, without a network round trip
type Deck struct {
	sentences []string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDeck creates a deck over the given sentences. Blank entries are
// dropped; an empty list falls back to DefaultSentences.
func NewDeck(sentences []string) *Deck {
	kept := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if strings.TrimSpace(s) != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		kept = append(kept, DefaultSentences...)
	}

	return &Deck{
		sentences: kept,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// LoadDeck reads a YAML deck from disk
func LoadDeck(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sentence deck: %w", err)
	}

	var f deckFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sentence deck %s: %w", path, err)
	}
	return NewDeck(f.Sentences), nil
}

// Len returns the number of sentences in the deck
func (d *Deck) Len() int {
	return len(d.sentences)
}

// Fetch picks a random sentence
func (d *Deck) Fetch(ctx context.Context) (Sentence, error) {
	if err := ctx.Err(); err != nil {
		return Sentence{}, err
	}

	start := time.Now()
	d.mu.Lock()
	text := d.sentences[d.rng.Intn(len(d.sentences))]
	d.mu.Unlock()

	observability.RecordSentenceFetch(time.Since(start), true)
	return Sentence{Text: text}, nil
}

// HealthCheck always succeeds: the deck is in memory
func (d *Deck) HealthCheck(ctx context.Context) (bool, error) {
	return true, nil
}
