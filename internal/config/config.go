package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Capture modes
const (
	CaptureModeExec = "exec"
	CaptureModeFile = "file"
)

// Config holds all configuration for the pronunciation practice client
type Config struct {
	// Sentence provider configuration
	SentenceServiceURL string `envconfig:"SENTENCE_SERVICE_URL" default:"http://127.0.0.1:8000/get-sentence"`
	SentenceDeckPath   string `envconfig:"SENTENCE_DECK_PATH" default:""` // YAML deck; replaces the service when set
	SentenceTimeout    int    `envconfig:"SENTENCE_TIMEOUT" default:"10"` // seconds

	// Scoring service configuration
	ScoringServiceURL string `envconfig:"SCORING_SERVICE_URL" default:"http://127.0.0.1:8000/analyze"`
	ScoringHealthURL  string `envconfig:"SCORING_HEALTH_URL" default:"http://127.0.0.1:8000/"`
	ScoringTimeout    int    `envconfig:"SCORING_TIMEOUT" default:"60"` // seconds, model inference is slow

	// Audio capture configuration
	CaptureMode       string `envconfig:"CAPTURE_MODE" default:"exec"` // exec, file
	CaptureCommand    string `envconfig:"CAPTURE_COMMAND" default:"arecord -q -f S16_LE -r 16000 -c 1 -t raw"`
	CaptureFile       string `envconfig:"CAPTURE_FILE" default:""` // WAV file replayed in file mode
	CaptureSampleRate int    `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`
	CaptureChannels   int    `envconfig:"CAPTURE_CHANNELS" default:"1"`
	CaptureMaxSeconds int    `envconfig:"CAPTURE_MAX_SECONDS" default:"30"` // 0 disables the limit
	PreviewDir        string `envconfig:"PREVIEW_DIR" default:""`          // defaults to os.TempDir()

	// Practice history (SQLite). Empty path disables history.
	HistoryPath   string `envconfig:"HISTORY_PATH" default:""`
	HistoryLimit  int    `envconfig:"HISTORY_LIMIT" default:"20"`    // attempts listed by default
	HistoryRetain int    `envconfig:"HISTORY_RETAIN" default:"1000"` // attempts kept on startup; 0 keeps all

	// Control server (HTTP actions, websocket snapshots, health, metrics)
	ControlEnabled     bool     `envconfig:"CONTROL_ENABLED" default:"true"`
	Port               string   `envconfig:"PORT" default:"8090"`
	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Interactive terminal front-end
	Interactive bool `envconfig:"INTERACTIVE" default:"true"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	c.CaptureMode = strings.ToLower(strings.TrimSpace(c.CaptureMode))
	switch c.CaptureMode {
	case CaptureModeExec:
		if strings.TrimSpace(c.CaptureCommand) == "" {
			return fmt.Errorf("CAPTURE_COMMAND is required in exec capture mode")
		}
	case CaptureModeFile:
		if c.CaptureFile == "" {
			return fmt.Errorf("CAPTURE_FILE is required in file capture mode")
		}
	default:
		return fmt.Errorf("unsupported CAPTURE_MODE %q (expected exec or file)", c.CaptureMode)
	}

	if c.SentenceDeckPath == "" {
		if err := validateURL("SENTENCE_SERVICE_URL", c.SentenceServiceURL); err != nil {
			return err
		}
	}
	if err := validateURL("SCORING_SERVICE_URL", c.ScoringServiceURL); err != nil {
		return err
	}

	if c.CaptureSampleRate <= 0 || c.CaptureChannels <= 0 {
		return fmt.Errorf("CAPTURE_SAMPLE_RATE and CAPTURE_CHANNELS must be positive")
	}

	return nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http(s) URL, got %q", key, raw)
	}
	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
