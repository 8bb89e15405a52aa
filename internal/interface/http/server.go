// Package http implements the notification REST API, the gateway delivery
// webhook and the health endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fibreflow/ticket-notify/internal/application/command"
	"github.com/fibreflow/ticket-notify/internal/application/eventhandler"
	"github.com/fibreflow/ticket-notify/internal/application/query"
	"github.com/fibreflow/ticket-notify/internal/domain/shared"
	"github.com/fibreflow/ticket-notify/internal/domain/ticket"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/external/waha"
	"github.com/fibreflow/ticket-notify/internal/infrastructure/scheduler"
	"github.com/fibreflow/ticket-notify/internal/interface/http/handlers"
	"github.com/fibreflow/ticket-notify/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64

	EnableCORS     bool
	AllowedOrigins []string

	// RateLimitPerMinute - API requests per minute per API key, or per client
	// address when auth is off (0 = disabled).
	RateLimitPerMinute int

	// APIKeyHeader - header name for API key authentication.
	APIKeyHeader string

	// APIKeyHashes - bcrypt hashes of the accepted API keys. Empty disables auth.
	APIKeyHashes []string

	// WebhookSecret - HMAC secret for delivery webhooks. Empty disables verification.
	WebhookSecret string

	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		EnableCORS:         false,
		RateLimitPerMinute: 300,
		APIKeyHeader:       "X-API-Key",
		Version:            "v1",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// Dependencies contains everything the HTTP handlers call into.
type Dependencies struct {
	// Commands
	Send    *command.SendNotificationHandler
	Batch   *command.DispatchBatchHandler
	Retry   *command.RetryNotificationHandler
	Webhook *command.ApplyWebhookHandler

	// Queries
	Status *query.GetNotificationStatusHandler
	List   *query.ListNotificationsHandler

	// Event triggering
	Trigger *eventhandler.TriggerService
	Tickets ticket.Repository

	// Jobs is optional. Without it the /api/v1/jobs routes return 404.
	Jobs JobRunner

	HealthChecker handlers.HealthChecker
	Logger        *slog.Logger
}

// JobRunner is the part of *scheduler.Scheduler the admin routes use.
type JobRunner interface {
	ListJobs() []scheduler.JobInfo
	GetHistory(limit int) []scheduler.JobResult
	RunNow(ctx context.Context, name string) (*scheduler.JobResult, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger

	auth     *handlers.APIKeyAuth
	verifier *handlers.SignatureVerifier
	limiter  *callerLimiter

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		config:   config,
		deps:     deps,
		router:   http.NewServeMux(),
		logger:   deps.Logger.With(logger.Component("http")),
		auth:     handlers.NewAPIKeyAuth(config.APIKeyHeader, config.APIKeyHashes),
		verifier: handlers.NewSignatureVerifier(config.WebhookSecret),
	}

	if config.RateLimitPerMinute > 0 {
		s.limiter = newCallerLimiter(config.RateLimitPerMinute, nil)
		go s.limiter.run(time.Minute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address(),
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.buildMiddlewareChain(s.router)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /ready", s.handleReady)
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 (API key)
	// ─────────────────────────────────────────────────────────────────────────
	s.router.Handle("POST /api/v1/notifications/send", s.protected(s.handleSend))
	s.router.Handle("POST /api/v1/notifications/batch", s.protected(s.handleBatch))
	s.router.Handle("POST /api/v1/notifications/{id}/retry", s.protected(s.handleRetry))
	s.router.Handle("GET /api/v1/notifications/{id}", s.protected(s.handleGetNotification))
	s.router.Handle("GET /api/v1/notifications", s.protected(s.handleListNotifications))
	s.router.Handle("GET /api/v1/templates", s.protected(s.handleListTemplates))
	s.router.Handle("GET /api/v1/templates/{id}/preview", s.protected(s.handlePreviewTemplate))
	s.router.Handle("POST /api/v1/events", s.protected(s.handleTriggerEvent))

	if s.deps.Jobs != nil {
		s.router.Handle("GET /api/v1/jobs", s.protected(s.handleListJobs))
		s.router.Handle("POST /api/v1/jobs/{name}/run", s.protected(s.handleRunJob))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Gateway webhook (HMAC signature)
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("POST /api/v1/notifications/webhook", s.handleWebhook)
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server",
		"address", s.config.Address(),
		"api_auth", s.auth.Enabled(),
		"webhook_signature", s.verifier.Enabled(),
	)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// Uptime returns the server uptime.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC(), RequestID: getRequestID(r.Context())},
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message, details string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message, Details: details},
		Meta:    &ResponseMeta{Timestamp: time.Now().UTC()},
	})
}

// writeAPIError maps an application error onto a status and error code.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error, details string) {
	if err == nil {
		err = errors.New("unknown error")
	}
	status, code := classifyError(err)
	if status >= 500 {
		logger.FromContext(r.Context()).Error("request failed", logger.Err(err), slog.String("code", code))
	}
	writeJSONError(w, status, code, err.Error(), details)
}

func classifyError(err error) (int, string) {
	var gw *waha.Error
	switch {
	case shared.IsTemplateError(err):
		return http.StatusUnprocessableEntity, waha.CodeTemplate.String()
	case errors.As(err, &gw):
		if gw.Code == waha.CodeTemplate {
			return http.StatusUnprocessableEntity, gw.Code.String()
		}
		return http.StatusBadGateway, gw.Code.String()
	case shared.IsValidation(err):
		return http.StatusUnprocessableEntity, waha.CodeValidation.String()
	case shared.IsNotFound(err):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE"
	case shared.IsExternalService(err):
		return http.StatusBadGateway, waha.CodeUnknown.String()
	case errors.Is(err, shared.ErrDatabase):
		return http.StatusInternalServerError, "DATABASE_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
