package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/lexiqai/pronunciation-coach/internal/audio"
	"github.com/lexiqai/pronunciation-coach/internal/config"
	"github.com/lexiqai/pronunciation-coach/internal/console"
	"github.com/lexiqai/pronunciation-coach/internal/control"
	"github.com/lexiqai/pronunciation-coach/internal/history"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/scoring"
	"github.com/lexiqai/pronunciation-coach/internal/sentence"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

// sentenceSource is a sentence provider that can report its health
type sentenceSource interface {
	sentence.Provider
	HealthCheck(ctx context.Context) (bool, error)
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Logs go to stderr; the console owns stdout
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.WithCorrelationID("")

	logger.Info().
		Str("sentence_service_url", cfg.SentenceServiceURL).
		Str("sentence_deck", cfg.SentenceDeckPath).
		Str("scoring_service_url", cfg.ScoringServiceURL).
		Str("capture_mode", cfg.CaptureMode).
		Bool("control_enabled", cfg.ControlEnabled).
		Bool("interactive", cfg.Interactive).
		Str("log_level", cfg.LogLevel).
		Msg("Pronunciation coach starting")

	sentences, err := newSentenceSource(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create sentence provider")
	}

	adapter, err := newCaptureAdapter(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create capture adapter")
	}

	scorer := scoring.NewClient(cfg)

	opts := []session.Option{session.WithLogger(observability.WithComponent("session"))}

	var store *history.Store
	if cfg.HistoryPath != "" {
		store, err = openHistory(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.HistoryPath).Msg("Failed to open history")
		}
		defer store.Close()
		opts = append(opts, session.WithRecorder(store))
	}

	orch := session.New(sentences, adapter, scorer, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var server *control.Server
	if cfg.ControlEnabled {
		checks := map[string]observability.HealthCheckFunc{
			"sentence": sentences.HealthCheck,
			"scoring":  scorer.HealthCheck,
		}

		// Keep the interface nil when history is disabled
		var hist control.HistoryReader
		if store != nil {
			checks["history"] = store.Ping
			hist = store
		}

		server = control.NewServer(cfg, observability.WithComponent("control"), orch, hist, checks)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Fatal().Err(err).Msg("Control server failed to start")
			}
		}()
		if cfg.MetricsEnabled {
			logger.Info().Msg("Prometheus metrics enabled at /metrics")
		}
	}

	consoleDone := make(chan struct{})
	if cfg.Interactive {
		var hist console.HistoryReader
		if store != nil {
			hist = store
		}
		c := console.New(orch, hist, console.Config{
			In:           os.Stdin,
			Out:          color.Output,
			Colorize:     !color.NoColor,
			HistoryLimit: cfg.HistoryLimit,
		}, logger)

		go func() {
			defer close(consoleDone)
			if err := c.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Console stopped")
			}
		}()
	}

	// Wait for an interrupt signal or the console quitting
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-consoleDone:
	}

	logger.Info().Msg("Shutting down...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Control server forced to shutdown")
		}
	}

	// Waits for in-flight submissions so their attempts reach history
	if err := orch.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to clean up the session")
	}

	logger.Info().Msg("Pronunciation coach exited gracefully")
}

func newSentenceSource(cfg *config.Config) (sentenceSource, error) {
	if cfg.SentenceDeckPath != "" {
		deck, err := sentence.LoadDeck(cfg.SentenceDeckPath)
		if err != nil {
			return nil, err
		}
		return deck, nil
	}
	return sentence.NewClient(cfg), nil
}

func newCaptureAdapter(cfg *config.Config, logger zerolog.Logger) (audio.CaptureAdapter, error) {
	switch cfg.CaptureMode {
	case config.CaptureModeFile:
		return audio.NewFileRecorder(cfg.CaptureFile, cfg.PreviewDir), nil
	default:
		rec, err := audio.NewExecRecorder(audio.ExecRecorderConfig{
			Command:     cfg.CaptureCommand,
			SampleRate:  cfg.CaptureSampleRate,
			Channels:    cfg.CaptureChannels,
			MaxDuration: time.Duration(cfg.CaptureMaxSeconds) * time.Second,
			PreviewDir:  cfg.PreviewDir,
		}, logger)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}
}

func openHistory(cfg *config.Config, logger zerolog.Logger) (*history.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := history.Open(ctx, cfg.HistoryPath, logger)
	if err != nil {
		return nil, err
	}

	if cfg.HistoryRetain > 0 {
		removed, err := store.Prune(ctx, cfg.HistoryRetain)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to prune history")
		} else if removed > 0 {
			logger.Info().Int64("removed", removed).Int("kept", cfg.HistoryRetain).Msg("Pruned history")
		}
	}
	return store, nil
}
