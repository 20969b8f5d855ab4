package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/vaultflow/service/config"
	"github.com/brojonat/vaultflow/service/db"
	"github.com/brojonat/vaultflow/service/metrics"
	"github.com/brojonat/vaultflow/service/registry"
	"github.com/brojonat/vaultflow/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the vault operation service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	operator     *Operator
	registry     *registry.Registry
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The registry is optional - if nil, vault inspection endpoints won't be available.
// The scheduler is optional - if nil, auto-claim endpoints won't be available.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, operator *Operator, reg *registry.Registry, scheduler temporal.Scheduler, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		operator:     operator,
		registry:     reg,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Operation routes
	mux.Handle("POST /api/v1/operations", handleStartOperation(s.operator, s.logger))
	mux.Handle("GET /api/v1/operations", handleListOperations(s.store, s.operator, s.logger))
	mux.Handle("GET /api/v1/operations/{id}", handleGetOperation(s.store, s.logger))
	mux.Handle("GET /api/v1/plan", handlePlanOperation(s.operator, s.logger))
	mux.Handle("GET /api/v1/status", handleGetStatus(s.operator))
	mux.Handle("POST /api/v1/status/reset", handleResetStatus(s.operator, s.logger))

	// Vault inspection routes (if registry is configured)
	if s.registry != nil {
		mux.Handle("GET /api/v1/vaults/{address}", handleGetVault(s.registry, s.logger))
	}

	// Auto-claim schedule routes (if scheduler is configured)
	if s.scheduler != nil {
		mux.Handle("PUT /api/v1/vaults/{address}/auto-claim", handleEnableAutoClaim(s.scheduler, s.cfg, s.logger))
		mux.Handle("DELETE /api/v1/vaults/{address}/auto-claim", handleDisableAutoClaim(s.scheduler, s.logger))
	} else {
		s.logger.Warn("temporal scheduler not configured, auto-claim endpoints disabled")
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/operations/{address}", handleStreamOperations(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/operations", handleStreamOperations(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	// Wrap mux with middleware
	var handler http.Handler = mux
	if s.metrics != nil {
		handler = metrics.HTTPMetricsMiddleware(s.metrics, "api")(handler)
	}
	handler = corsMiddleware(handler)

	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No write timeout: SSE connections stay open indefinitely.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
