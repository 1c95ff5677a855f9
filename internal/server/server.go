// Package server provides the headless HTTP + WebSocket API for the
// resolution service.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbiter/internal/crypto"
	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/alanyoungcy/arbiter/internal/server/handler"
	"github.com/alanyoungcy/arbiter/internal/server/middleware"
	"github.com/alanyoungcy/arbiter/internal/server/ws"
)

// rate limit applied per client IP across the whole API.
const (
	rateLimitRequests = 120
	rateLimitWindow   = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// AdminAuth guards the mutating lifecycle endpoints with signed requests.
	// If nil, those endpoints reject all traffic.
	AdminAuth *crypto.HMACAuth

	// RateLimiter throttles per-client request rates when non-nil.
	RateLimiter domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Markets    *handler.MarketHandler
	Resolution *handler.ResolutionHandler
	Governance *handler.GovernanceHandler
	Pipeline   *handler.PipelineHandler
}

// Server is the headless HTTP + WebSocket API server for the resolution
// service.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket hub.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.AdminAuth(cfg.AdminAuth)

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Service status.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Market endpoints.
	mux.HandleFunc("GET /api/markets", handlers.Markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/due", handlers.Markets.ListDueMarkets)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.GetMarket)

	// Market lifecycle endpoints (signed admin requests only).
	mux.Handle("POST /api/markets/{id}/dispute", admin(http.HandlerFunc(handlers.Resolution.DisputeMarket)))
	mux.Handle("POST /api/markets/{id}/cancel", admin(http.HandlerFunc(handlers.Resolution.CancelMarket)))
	mux.Handle("POST /api/markets/{id}/resolve", admin(http.HandlerFunc(handlers.Resolution.ResolveDisputed)))

	// Consensus audit trail.
	mux.HandleFunc("GET /api/requests/{id}/audit", handlers.Resolution.GetAuditTrail)

	// Governance endpoints.
	mux.HandleFunc("POST /api/proposals", handlers.Governance.CreateProposal)
	mux.HandleFunc("GET /api/proposals", handlers.Governance.ListProposals)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Governance.GetProposal)
	mux.HandleFunc("POST /api/proposals/{id}/votes", handlers.Governance.CastVote)
	mux.HandleFunc("POST /api/proposals/{id}/finalize", handlers.Governance.FinalizeProposal)
	mux.Handle("POST /api/proposals/{id}/cancel", admin(http.HandlerFunc(handlers.Governance.CancelProposal)))

	// Expertise endpoints.
	mux.HandleFunc("POST /api/expertise", handlers.Governance.RegisterExpertise)
	mux.HandleFunc("POST /api/expertise/attest", handlers.Governance.AttestExpertise)

	// Pipeline trigger endpoint (signed admin requests only).
	mux.Handle("POST /api/pipeline/trigger", admin(http.HandlerFunc(handlers.Pipeline.TriggerPipeline)))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply per-client rate limiting.
	if cfg.RateLimiter != nil {
		h = middleware.RateLimit(cfg.RateLimiter, rateLimitRequests, rateLimitWindow)(h)
	}

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
