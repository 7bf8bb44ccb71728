package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletlink/service/bridge"
	"github.com/brojonat/walletlink/service/metrics"
	"github.com/brojonat/walletlink/service/sdk"
	"github.com/brojonat/walletlink/service/store"
	"github.com/brojonat/walletlink/service/wallet"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Backend is what the HTTP surface needs from the running components.
type Backend interface {
	Store() *store.Store
	Bridge(chain wallet.Chain) (*bridge.Bridge, error)
	Relay(chain wallet.Chain) (*sdk.Relay, error)
}

// Server represents the HTTP server for the wallet connection service.
type Server struct {
	addr         string
	backend      Backend
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The ssePublisher is optional - if nil, the fact event stream is not available.
// The metrics is optional - if nil, the metrics endpoint is not available.
func New(addr string, backend Backend, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		backend:      backend,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Handler builds the routed handler, wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	st := s.backend.Store()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Consumer surface
	route("GET /api/v1/wallet", "/api/v1/wallet", handleGetWallet(st, s.logger))
	route("POST /api/v1/wallet/disconnect", "/api/v1/wallet/disconnect", handleRequestDisconnect(st, s.logger))
	route("DELETE /api/v1/wallet/error", "/api/v1/wallet/error", handleClearError(st, s.logger))
	route("GET /api/v1/stream/wallet", "/api/v1/stream/wallet", handleStreamWallet(st, s.metrics, s.logger))

	// Connect entry point and SDK relay
	route("POST /api/v1/chains/{chain}/connect", "/api/v1/chains/{chain}/connect", handleConnect(s.backend, s.logger))
	route("POST /api/v1/chains/{chain}/status", "/api/v1/chains/{chain}/status", handlePushStatus(s.backend, s.logger))
	route("GET /api/v1/chains/{chain}/commands", "/api/v1/chains/{chain}/commands", handleStreamCommands(s.backend, s.metrics, s.logger))

	// Bitcoin wallet discovery
	route("POST /api/v1/bitcoin/discover", "/api/v1/bitcoin/discover", handleDiscoverBitcoin(s.logger))

	// Fact event stream (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/facts/{chain}", "/api/v1/stream/facts/{chain}", handleStreamFacts(s.ssePublisher, s.metrics, s.logger))
		route("GET /api/v1/stream/facts", "/api/v1/stream/facts", handleStreamFacts(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("fact event stream enabled")
	} else {
		s.logger.Debug("SSE publisher not configured, fact event stream disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero: SSE responses are long-lived.
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
