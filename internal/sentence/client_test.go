package sentence

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/lexiqai/pronunciation-coach/internal/config"
	"github.com/lexiqai/pronunciation-coach/internal/resilience"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		SentenceServiceURL:         url,
		SentenceTimeout:            5,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	}
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "  She sells seashells by the seashore. "}`))
	}))
	defer server.Close()

	s, err := NewClient(testConfig(server.URL)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	// Text is kept verbatim, surrounding whitespace included
	if s.Text != "  She sells seashells by the seashore. " {
		t.Errorf("Expected verbatim text, got %q", s.Text)
	}
}

func TestClient_Fetch_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"not found", http.StatusNotFound, `{"detail": "Not Found"}`},
		{"malformed json", http.StatusOK, `{"text": `},
		{"missing text", http.StatusOK, `{"sentence": "hello"}`},
		{"empty text", http.StatusOK, `{"text": "   "}`},
		{"null text", http.StatusOK, `{"text": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			s, err := NewClient(testConfig(server.URL)).Fetch(context.Background())
			if err == nil {
				t.Fatalf("Expected error, got sentence %q", s.Text)
			}
			if !s.IsZero() {
				t.Errorf("Expected zero sentence on failure, got %q", s.Text)
			}
		})
	}
}

func TestClient_Fetch_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"text": "Pronunciation is key to clear communication."}`))
	}))
	defer server.Close()

	s, err := NewClient(testConfig(server.URL)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if s.Text != "Pronunciation is key to clear communication." {
		t.Errorf("Unexpected text %q", s.Text)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}
}

func TestClient_Fetch_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	if _, err := NewClient(testConfig(server.URL)).Fetch(context.Background()); err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestClient_Fetch_CircuitOpens(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	cfg.CircuitBreakerMaxFailures = 1
	cfg.RetryMaxAttempts = 1
	client := NewClient(cfg)

	if _, err := client.Fetch(context.Background()); err == nil {
		t.Fatal("Expected first fetch to fail")
	}
	_, err := client.Fetch(context.Background())
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected open circuit to skip the request, got %d calls", calls)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text": "hi"}`))
	}))
	client := NewClient(testConfig(server.URL))

	healthy, err := client.HealthCheck(context.Background())
	if err != nil || !healthy {
		t.Errorf("Expected healthy, got %v (%v)", healthy, err)
	}

	server.Close()
	healthy, err = client.HealthCheck(context.Background())
	if err == nil || healthy {
		t.Error("Expected closed server to be unhealthy")
	}
}
