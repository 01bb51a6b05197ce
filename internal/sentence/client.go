package sentence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/pronunciation-coach/internal/config"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/resilience"
)

// maxResponseBytes caps how much of a sentence response is read
const maxResponseBytes = 64 << 10

// Client fetches sentences from the sentence service over HTTP
type Client struct {
	url            string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// sentenceResponse is the sentence service payload
type sentenceResponse struct {
	Text *string `json:"text"`
}

// NewClient creates a sentence service client
func NewClient(cfg *config.Config) *Client {
	cb := resilience.NewCircuitBreaker(
		"sentence",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	observability.BindCircuitBreaker(cb)

	return &Client{
		url:            cfg.SentenceServiceURL,
		httpClient:     &http.Client{Timeout: time.Duration(cfg.SentenceTimeout) * time.Second},
		circuitBreaker: cb,
		retryConfig:    resilience.NewRetryConfig(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff),
		logger:         observability.WithComponent("sentence"),
	}
}

// Fetch requests one sentence. Transport, status and parse failures all
// mean no sentence is available.
func (c *Client) Fetch(ctx context.Context) (Sentence, error) {
	start := time.Now()

	var s Sentence
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var fetchErr error
			s, fetchErr = c.fetchOnce(ctx)
			return fetchErr
		}, c.retryConfig, resilience.IsRetryableNetworkError)
	})

	observability.RecordSentenceFetch(time.Since(start), err == nil)
	if err != nil {
		c.logger.Warn().Err(err).Str("url", c.url).Msg("Sentence fetch failed")
		return Sentence{}, fmt.Errorf("fetch sentence: %w", err)
	}

	c.logger.Debug().Dur("latency", time.Since(start)).Msg("Sentence fetched")
	return s, nil
}

func (c *Client) fetchOnce(ctx context.Context) (Sentence, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return Sentence{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Sentence{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Sentence{}, resilience.NewRetryableError(fmt.Errorf("sentence service returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return Sentence{}, fmt.Errorf("sentence service returned status %d", resp.StatusCode)
	}

	var payload sentenceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return Sentence{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if payload.Text == nil || strings.TrimSpace(*payload.Text) == "" {
		return Sentence{}, ErrNoSentence
	}

	return Sentence{Text: *payload.Text}, nil
}

// HealthCheck reports whether the sentence service answers
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("sentence service returned status %d", resp.StatusCode)
	}
	return true, nil
}
