package scoring

import (
	"errors"
	"testing"
)

func TestDecodeResponse(t *testing.T) {
	result, err := decodeResponse([]byte(`{
		"score": 92,
		"breakdown": [{"word": "The", "accuracy": 95}, {"word": "quick", "accuracy": 60}],
		"user_phonemes": "ðəkwɪk"
	}`))
	if err != nil {
		t.Fatalf("decodeResponse failed: %v", err)
	}

	if result.OverallScore != 92 {
		t.Errorf("Expected score 92, got %v", result.OverallScore)
	}
	if len(result.Breakdown) != 2 {
		t.Fatalf("Expected 2 words, got %d", len(result.Breakdown))
	}
	if result.Breakdown[0] != (WordAccuracy{Word: "The", Accuracy: 95}) {
		t.Errorf("Unexpected first word: %+v", result.Breakdown[0])
	}
	if result.Breakdown[1] != (WordAccuracy{Word: "quick", Accuracy: 60}) {
		t.Errorf("Unexpected second word: %+v", result.Breakdown[1])
	}
	if result.HeardPhonemes != "ðəkwɪk" {
		t.Errorf("Expected phonemes, got %q", result.HeardPhonemes)
	}
}

func TestDecodeResponse_ErrorWins(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{"error only", `{"error": "Audio too short"}`, "Audio too short"},
		{"error with score", `{"error": "Audio too short", "score": 50, "breakdown": [{"word": "a", "accuracy": 50}]}`, "Audio too short"},
		{"non-string error", `{"error": {"detail": "bad"}, "score": 10}`, `{"detail": "bad"}`},
		{"whitespace error", `{"error": " ", "score": 70, "breakdown": [{"word": "The", "accuracy": 95}]}`, " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeResponse([]byte(tt.body))
			if result != nil {
				t.Errorf("Expected no result, got %+v", result)
			}

			var appErr *ApplicationError
			if !errors.As(err, &appErr) {
				t.Fatalf("Expected ApplicationError, got %v", err)
			}
			if appErr.Message != tt.expected {
				t.Errorf("Expected message %q, got %q", tt.expected, appErr.Message)
			}
		})
	}
}

func TestDecodeResponse_EmptyErrorIgnored(t *testing.T) {
	for _, body := range []string{
		`{"error": "", "score": 70}`,
		`{"error": null, "score": 70}`,
		`{"error": false, "score": 70}`,
	} {
		result, err := decodeResponse([]byte(body))
		if err != nil {
			t.Errorf("%s: unexpected error %v", body, err)
			continue
		}
		if result.OverallScore != 70 {
			t.Errorf("%s: expected score 70, got %v", body, result.OverallScore)
		}
	}
}

func TestDecodeResponse_TolerantBreakdown(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		words int
	}{
		{"absent", `{"score": 80}`, 0},
		{"null", `{"score": 80, "breakdown": null}`, 0},
		{"object", `{"score": 80, "breakdown": {"word": "x"}}`, 0},
		{"string", `{"score": 80, "breakdown": "n/a"}`, 0},
		{"empty array", `{"score": 80, "breakdown": []}`, 0},
		{"mixed entries", `{"score": 80, "breakdown": [{"word": "ok", "accuracy": 90}, 7, {"accuracy": 10}, {"word": "no-acc"}]}`, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := decodeResponse([]byte(tt.body))
			if err != nil {
				t.Fatalf("decodeResponse failed: %v", err)
			}
			if result.Breakdown == nil {
				t.Error("Expected non-nil breakdown")
			}
			if len(result.Breakdown) != tt.words {
				t.Errorf("Expected %d words, got %d", tt.words, len(result.Breakdown))
			}
		})
	}
}

func TestDecodeResponse_Score(t *testing.T) {
	result, err := decodeResponse([]byte(`{"score": "87.5"}`))
	if err != nil {
		t.Fatalf("decodeResponse failed: %v", err)
	}
	if result.OverallScore != 87.5 {
		t.Errorf("Expected 87.5, got %v", result.OverallScore)
	}

	for _, body := range []string{`{}`, `{"score": null}`, `{"score": "high"}`, `{"breakdown": []}`} {
		if _, err := decodeResponse([]byte(body)); !errors.Is(err, ErrMissingScore) {
			t.Errorf("%s: expected ErrMissingScore, got %v", body, err)
		}
	}
}

func TestDecodeResponse_Malformed(t *testing.T) {
	_, err := decodeResponse([]byte(`<html>Internal Server Error</html>`))
	if err == nil {
		t.Fatal("Expected decode error")
	}
	var appErr *ApplicationError
	if errors.As(err, &appErr) {
		t.Error("Malformed body must not be an application error")
	}
}
