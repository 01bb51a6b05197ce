package scoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMissingScore means a response carried neither an error nor a score
var ErrMissingScore = errors.New("scoring response has no score")

type scoreResponse struct {
	Score        json.RawMessage `json:"score"`
	Breakdown    json.RawMessage `json:"breakdown"`
	Error        json.RawMessage `json:"error"`
	UserPhonemes json.RawMessage `json:"user_phonemes"`
}

type wordEntry struct {
	Word     *string         `json:"word"`
	Accuracy json.RawMessage `json:"accuracy"`
}

// decodeResponse turns a scoring response body into a Result. An error field
// wins over everything else and comes back as *ApplicationError.
func decodeResponse(body []byte) (*Result, error) {
	var resp scoreResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if msg, ok := errorMessage(resp.Error); ok {
		return nil, &ApplicationError{Message: msg}
	}

	score, ok := parseNumber(resp.Score)
	if !ok {
		return nil, ErrMissingScore
	}

	return &Result{
		OverallScore:  score,
		Breakdown:     parseBreakdown(resp.Breakdown),
		HeardPhonemes: parseString(resp.UserPhonemes),
	}, nil
}

// errorMessage reports whether raw holds a non-empty error value
func errorMessage(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) || string(raw) == "false" {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		return s, true
	}

	// Non-string error values are still errors; show them as sent
	return string(raw), true
}

func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || isNull(raw) {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func parseString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// parseBreakdown never fails: anything that is not an array yields an empty
// breakdown, and entries without a word are skipped
func parseBreakdown(raw json.RawMessage) []WordAccuracy {
	breakdown := []WordAccuracy{}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return breakdown
	}

	for _, entry := range entries {
		var w wordEntry
		if err := json.Unmarshal(entry, &w); err != nil || w.Word == nil {
			continue
		}
		accuracy, _ := parseNumber(w.Accuracy)
		breakdown = append(breakdown, WordAccuracy{Word: *w.Word, Accuracy: accuracy})
	}
	return breakdown
}

func isNull(raw json.RawMessage) bool {
	return string(raw) == "null"
}
