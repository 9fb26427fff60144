// Package server provides the HTTP API for ingesting and reading sources.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/grimoire/internal/metrics"
	"github.com/raphaelgruber/grimoire/internal/service"
)

// multipartMemory is how much of a multipart body is kept in memory;
// larger parts spill to temporary files.
const multipartMemory = 32 << 20

// DefaultMaxUploadBytes caps a request body when Config leaves it unset.
const DefaultMaxUploadBytes = 64 << 20

// Config wires the server's collaborators.
type Config struct {
	Ingest         *service.IngestService
	Sources        *service.SourceService
	Hub            *Hub
	Metrics        *metrics.Collector
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// Server routes HTTP requests to the ingest and source services.
type Server struct {
	ingest         *service.IngestService
	sources        *service.SourceService
	hub            *Hub
	metrics        *metrics.Collector
	logger         *slog.Logger
	maxUploadBytes int64
}

// New creates a server. Ingest and Sources are required.
func New(cfg Config) (*Server, error) {
	if cfg.Ingest == nil || cfg.Sources == nil {
		return nil, fmt.Errorf("server: ingest and source services are required")
	}
	s := &Server{
		ingest:         cfg.Ingest,
		sources:        cfg.Sources,
		hub:            cfg.Hub,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewCollector()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = DefaultMaxUploadBytes
	}
	return s, nil
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/sources", s.handleListSources)
	mux.HandleFunc("GET /api/sources/{id}", s.handleGetSource)
	if s.hub != nil {
		mux.HandleFunc("GET /api/sources/stream", s.hub.ServeWS)
	}
	mux.HandleFunc("GET /api/stats", s.handleStats)

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return LoggingMiddleware(s.logger, mux)
}
