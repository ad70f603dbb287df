// Package server implements the tripwire HTTP API server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dwsmith1983/tripwire/internal/engine"
	"github.com/dwsmith1983/tripwire/internal/metricstore"
	"github.com/dwsmith1983/tripwire/internal/store"
	"github.com/dwsmith1983/tripwire/internal/tracker"
)

// DefaultMaxRequestBody caps request bodies when Options.MaxRequestBody is zero.
const DefaultMaxRequestBody int64 = 1 << 20

// Options configures a Server. Store and Gatherer are optional.
type Options struct {
	Addr           string
	APIKey         string
	MaxRequestBody int64
	Engine         *engine.Engine
	Metrics        *metricstore.Store
	Tracker        *tracker.Tracker
	Store          store.Store
	Gatherer       prometheus.Gatherer
	Logger         *slog.Logger
}

// Server is the tripwire HTTP API server.
type Server struct {
	opts   Options
	router chi.Router
	srv    *http.Server
	logger *slog.Logger
}

// New creates a new HTTP server.
func New(opts Options) *Server {
	if opts.MaxRequestBody <= 0 {
		opts.MaxRequestBody = DefaultMaxRequestBody
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &Server{opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(APIKeyMiddleware(opts.APIKey))
	r.Use(MaxBodyMiddleware(opts.MaxRequestBody))

	s.router = r
	s.registerRoutes(r)
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving HTTP requests. It returns nil after Stop.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("server: listening", "addr", s.opts.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *Server) prometheusHandler() http.Handler {
	g := s.opts.Gatherer
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelError)})
}
