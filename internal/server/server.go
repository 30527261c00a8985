package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/wellsight-ai/wellsight/internal/auth"
	"github.com/wellsight-ai/wellsight/internal/model"
	"github.com/wellsight-ai/wellsight/internal/pipeline"
	"github.com/wellsight-ai/wellsight/internal/ratelimit"
	"github.com/wellsight-ai/wellsight/internal/storage"
)

// Server is the Wellsight HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, Broker, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	DB           *storage.DB
	JWTMgr       *auth.JWTManager
	Orchestrator *pipeline.Orchestrator
	Logger       *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter   ratelimit.Limiter
	Broker    *Broker
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		JWTMgr:              cfg.JWTMgr,
		Orchestrator:        cfg.Orchestrator,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Gateway-bound commands share one per-account budget; auth is keyed
	// by IP since it runs before claims exist.
	commandRL := ratelimit.Middleware(cfg.Limiter, accountKeyFunc, reqIDFunc)
	authRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Auth endpoint (no auth required, rate limited by IP).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Account management (admin-only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/accounts", adminOnly(http.HandlerFunc(h.HandleCreateAccount)))

	// Investigation lifecycle. Engineers drive the pipeline; viewers can
	// only read snapshots and reports.
	engineer := requireRole(model.RoleEngineer)
	viewer := requireRole(model.RoleViewer)

	mux.Handle("POST /v1/investigations", engineer(http.HandlerFunc(h.HandleCreateInvestigation)))
	mux.Handle("GET /v1/investigations/{id}", viewer(http.HandlerFunc(h.HandleGetInvestigation)))
	mux.Handle("PUT /v1/investigations/{id}/mode", engineer(http.HandlerFunc(h.HandleSetMode)))

	// Step execution (engineer+, rate limited; every call costs a gateway
	// round-trip).
	mux.Handle("GET /v1/investigations/{id}/step/query", commandRL(engineer(http.HandlerFunc(h.HandleStepQuery))))
	mux.Handle("POST /v1/investigations/{id}/step/response", commandRL(engineer(http.HandlerFunc(h.HandleStepResponse))))
	mux.Handle("POST /v1/investigations/{id}/step/auto", commandRL(engineer(http.HandlerFunc(h.HandleStepAuto))))
	mux.Handle("POST /v1/investigations/{id}/run-all", commandRL(engineer(http.HandlerFunc(h.HandleRunAll))))
	mux.Handle("POST /v1/investigations/{id}/retry", commandRL(engineer(http.HandlerFunc(h.HandleRetry))))

	// Reports (viewer+ read, engineer+ trigger).
	mux.Handle("GET /v1/investigations/{id}/report", viewer(http.HandlerFunc(h.HandleFinalReport)))
	mux.Handle("POST /v1/investigations/{id}/rca", commandRL(engineer(http.HandlerFunc(h.HandleTriggerRCA))))

	// Subscription endpoint (viewer+, no rate limit, long-lived connection).
	mux.Handle("GET /v1/subscribe", viewer(http.HandlerFunc(h.HandleSubscribe)))

	// MCP StreamableHTTP transport (auth required, viewer+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", viewer(mcpHTTP))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// accountKeyFunc extracts the account ID from the request context for rate
// limiting. Returns empty string for admin role (exempt from rate limits).
func accountKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
		return ""
	}
	return claims.AccountID
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
