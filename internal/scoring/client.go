package scoring

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
	"github.com/lexiqai/pronunciation-coach/internal/config"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/resilience"
)

// maxResponseBytes caps how much of a scoring response is read
const maxResponseBytes = 1 << 20

// Client submits attempts to the scoring service as multipart uploads
type Client struct {
	url            string
	healthURL      string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig
	logger         zerolog.Logger
}

// NewClient creates a scoring service client
func NewClient(cfg *config.Config) *Client {
	cb := resilience.NewCircuitBreaker(
		"scoring",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	observability.BindCircuitBreaker(cb)

	return &Client{
		url:            cfg.ScoringServiceURL,
		healthURL:      cfg.ScoringHealthURL,
		httpClient:     &http.Client{Timeout: time.Duration(cfg.ScoringTimeout) * time.Second},
		circuitBreaker: cb,
		retryConfig:    resilience.NewRetryConfig(cfg.RetryMaxAttempts, cfg.RetryInitialBackoff),
		logger:         observability.WithComponent("scoring"),
	}
}

// Score uploads the artifact and target text. A service-reported failure
// comes back as *ApplicationError; anything else is a transport failure.
func (c *Client) Score(ctx context.Context, artifact *audio.Artifact, text string) (*Result, error) {
	if artifact == nil || len(artifact.Data) == 0 {
		return nil, fmt.Errorf("no audio to submit")
	}

	body, contentType, err := encodeForm(artifact, text)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		result *Result
		appErr *ApplicationError
	)

	err = c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		// Only dial failures are retried: the upload is not idempotent
		return resilience.Retry(ctx, func(ctx context.Context) error {
			r, postErr := c.post(ctx, body, contentType)
			if postErr != nil {
				// The service answered; this is not a breaker failure
				if errors.As(postErr, &appErr) {
					return nil
				}
				return postErr
			}
			result = r
			return nil
		}, c.retryConfig, resilience.IsRetryableDialError)
	})

	latency := time.Since(start)
	switch {
	case err != nil:
		c.logger.Warn().Err(err).Dur("latency", latency).Msg("Scoring request failed")
		return nil, fmt.Errorf("submit attempt: %w", err)
	case appErr != nil:
		c.logger.Info().Str("message", appErr.Message).Dur("latency", latency).Msg("Scoring service reported an error")
		return nil, appErr
	}

	c.logger.Debug().
		Float64("score", result.OverallScore).
		Int("words", len(result.Breakdown)).
		Dur("latency", latency).
		Msg("Attempt scored")
	return result, nil
}

func (c *Client) post(ctx context.Context, body []byte, contentType string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("scoring service returned status %d", resp.StatusCode)
	}

	return decodeResponse(data)
}

// encodeForm builds the multipart body once so a retried dial resends the
// same bytes
func encodeForm(artifact *audio.Artifact, text string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := artifact.Filename
	if filename == "" {
		filename = audio.ArtifactFilename
	}
	contentType := artifact.ContentType
	if contentType == "" {
		contentType = audio.ArtifactContentType
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", contentType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(artifact.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio: %w", err)
	}
	if err := w.WriteField("text", text); err != nil {
		return nil, "", fmt.Errorf("failed to write text field: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

// HealthCheck probes the scoring service health endpoint
func (c *Client) HealthCheck(ctx context.Context) (bool, error) {
	url := c.healthURL
	if url == "" {
		url = c.url
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("scoring service returned status %d", resp.StatusCode)
	}
	return true, nil
}
