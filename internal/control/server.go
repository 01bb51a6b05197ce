package control

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/pronunciation-coach/internal/config"
	"github.com/lexiqai/pronunciation-coach/internal/history"
	"github.com/lexiqai/pronunciation-coach/internal/observability"
	"github.com/lexiqai/pronunciation-coach/internal/session"
)

// Session is the practice session the server drives
type Session interface {
	RequestSentence(ctx context.Context) error
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) error
	Snapshot() session.State
	Subscribe(fn func(session.State))
}

// HistoryReader lists finished attempts
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server exposes the session over HTTP and WebSocket
type Server struct {
	server  *http.Server
	session Session
	history HistoryReader
	limit   int
	hub     *Hub
	log     zerolog.Logger
}

// NewServer builds the router. history may be nil when history is disabled.
func NewServer(
	cfg *config.Config,
	log zerolog.Logger,
	sess Session,
	hist HistoryReader,
	checks map[string]observability.HealthCheckFunc,
) *Server {
	s := &Server{
		session: sess,
		history: hist,
		limit:   cfg.HistoryLimit,
		hub:     NewHub(log),
		log:     log,
	}
	sess.Subscribe(s.hub.BroadcastState)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(recovery(log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", observability.HealthCheckHandler())
	r.Get("/ready", observability.ReadinessHandler(checks))
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.getSession)
		r.Post("/sentence", s.requestSentence)
		r.Post("/recording/start", s.startRecording)
		r.Post("/recording/stop", s.stopRecording)
		r.Get("/preview", s.getPreview)
		r.Get("/history", s.getHistory)
	})

	r.Get("/ws/session", s.serveWebSocket)

	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the WebSocket hub and serves until Shutdown
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	s.log.Info().Str("addr", s.server.Addr).Msg("Starting control server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down control server")
	return s.server.Shutdown(ctx)
}
