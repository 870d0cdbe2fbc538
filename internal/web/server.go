// Package web exposes the HTTP intake for CSV files: an upload endpoint that
// stages files and queues them for ingestion, plus a health probe.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"csvload/internal/queue"
)

// DefaultMaxUploadBytes caps an upload body when Options leaves it unset.
const DefaultMaxUploadBytes = 512 << 20

// Enqueuer is the part of the job queue the server needs.
type Enqueuer interface {
	Enqueue(file string) (queue.Job, error)
	Len() int
}

// Options configure a Server.
type Options struct {
	// StagingDir receives uploaded files.
	StagingDir string

	// MaxUploadBytes caps the request body.
	MaxUploadBytes int64

	// StageOnly skips enqueueing; a directory watcher picks the file up.
	StageOnly bool
}

// Server is the HTTP intake server.
type Server struct {
	q      Enqueuer
	opts   Options
	logger *slog.Logger
	router *chi.Mux
	server *http.Server

	// stageMu makes the pending-name check and the rename one step.
	stageMu sync.Mutex
}

// NewServer creates a Server staging into opts.StagingDir and queueing on q.
func NewServer(q Enqueuer, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{
		q:      q,
		opts:   opts,
		logger: logger,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/import", s.handleImport)
}

// Start listens on addr until Shutdown. It returns http.ErrServerClosed after
// a clean shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
