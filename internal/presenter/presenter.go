package presenter

import (
	"strconv"

	"github.com/lexiqai/pronunciation-coach/internal/scoring"
)

// HighConfidenceThreshold is the accuracy a word must exceed to count as
// well pronounced. Not configurable.
const HighConfidenceThreshold = 80.0

// Confidence is the classification of one word
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceHigh
)

func (c Confidence) String() string {
	if c == ConfidenceHigh {
		return "high"
	}
	return "low"
}

// MarshalText renders the confidence by name in JSON
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// Classify returns ConfidenceHigh only when accuracy is strictly above the threshold
func Classify(accuracy float64) Confidence {
	if accuracy > HighConfidenceThreshold {
		return ConfidenceHigh
	}
	return ConfidenceLow
}

// Badge is one rendered word
type Badge struct {
	Word       string     `json:"word"`
	Accuracy   float64    `json:"accuracy"`
	Label      string     `json:"label"`
	Confidence Confidence `json:"confidence"`
}

// View is a renderable score result
type View struct {
	OverallScore  float64 `json:"overall_score"`
	ScoreLabel    string  `json:"score_label"`
	Badges        []Badge `json:"badges"`
	HeardPhonemes string  `json:"heard_phonemes,omitempty"`
}

// Present maps a result to badges in the service's word order. A nil result
// has no view; a result without breakdown has a view with no badges.
func Present(result *scoring.Result) *View {
	if result == nil {
		return nil
	}

	badges := make([]Badge, 0, len(result.Breakdown))
	for _, w := range result.Breakdown {
		badges = append(badges, Badge{
			Word:       w.Word,
			Accuracy:   w.Accuracy,
			Label:      Percent(w.Accuracy),
			Confidence: Classify(w.Accuracy),
		})
	}

	return &View{
		OverallScore:  result.OverallScore,
		ScoreLabel:    Percent(result.OverallScore),
		Badges:        badges,
		HeardPhonemes: result.HeardPhonemes,
	}
}

// Percent formats a 0-100 value as shown to the user, e.g. "92%"
func Percent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
