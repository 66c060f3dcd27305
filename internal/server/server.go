// Package server provides the read-only HTTP surface over the pipeline
// store. Dashboards and downstream consumers read the same rows the
// pipeline writes; nothing here mutates state.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/quicksilver/internal/database"
	"github.com/aristath/quicksilver/internal/modules/alerts"
	"github.com/aristath/quicksilver/internal/modules/features"
	"github.com/aristath/quicksilver/internal/modules/ingest"
	"github.com/aristath/quicksilver/internal/modules/sentiment"
)

// Config holds server configuration
type Config struct {
	Log           zerolog.Logger
	DB            *database.DB
	DataDir       string
	Port          int
	DevMode       bool
	HeadlineRepo  *ingest.HeadlineRepository
	SentimentRepo *sentiment.Repository
	FeatureRepo   *features.Repository
	AlertRepo     *alerts.Repository
}

// Server represents the HTTP server
type Server struct {
	router   *chi.Mux
	server   *http.Server
	handlers *Handlers
	log      zerolog.Logger
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		handlers: NewHandlers(
			cfg.DB,
			cfg.DataDir,
			cfg.HeadlineRepo,
			cfg.SentimentRepo,
			cfg.FeatureRepo,
			cfg.AlertRepo,
			cfg.Log,
		),
		log: cfg.Log.With().Str("component", "server").Logger(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/headlines/recent", s.handlers.HandleRecentHeadlines)
		r.Get("/features", s.handlers.HandleFeatures)
		r.Get("/alerts", s.handlers.HandleAlerts)
		r.Get("/system/status", s.handlers.HandleSystemStatus)
	})
}

// loggingMiddleware logs each request with its duration
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request")
	})
}

// Start starts the HTTP server (blocking)
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
