package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-integration-broker/command"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/query"
	"github.com/goliatone/go-integration-broker/webhooks"
)

const (
	DefaultTenantHeader = "X-Tenant-ID"
	DefaultMaxBodyBytes = 1 << 20
)

type WebhookProcessor interface {
	Process(ctx context.Context, req webhooks.Request) (webhooks.Result, error)
}

// Limiter throttles management API calls per tenant and route.
type Limiter interface {
	Check(ctx context.Context, key string, path string) error
}

type Config struct {
	Commands command.Set
	Queries  query.Set
	Webhooks WebhookProcessor
	Limiter  Limiter
	Audit    core.AuditRecorder
	// Metrics is mounted at /metrics when set.
	Metrics      http.Handler
	Observer     *core.Observer
	TenantHeader string
	MaxBodyBytes int64
}

// Server is the broker HTTP surface: provider webhooks plus the tenant
// scoped management API under /v1.
type Server struct {
	cfg    Config
	router chi.Router
}

func New(cfg Config) (*Server, error) {
	if cfg.Webhooks == nil {
		return nil, fmt.Errorf("httpapi: webhook processor is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("httpapi: audit recorder is required")
	}
	if strings.TrimSpace(cfg.TenantHeader) == "" {
		cfg.TenantHeader = DefaultTenantHeader
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{cfg: cfg}
	s.router = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics)
	}
	r.Post("/webhooks/{provider}", s.handleWebhook)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireTenant)

		s.handle(r, http.MethodGet, "/integrations", s.handleListIntegrations)
		s.handle(r, http.MethodPost, "/integrations/{provider}/oauth/start", s.handleStartOAuth)
		s.handle(r, http.MethodGet, "/integrations/{provider}/oauth/callback", s.handleOAuthCallback)
		s.handle(r, http.MethodPost, "/integrations/{provider}/webhook-secret", s.handleRotateSecret)
		s.handle(r, http.MethodPost, "/integrations/{provider}/approve", s.handleApprove)

		s.handle(r, http.MethodPost, "/notifications", s.handleEnqueueNotification)
		s.handle(r, http.MethodGet, "/notifications/{id}", s.handleGetNotification)
		s.handle(r, http.MethodPost, "/notifications/{id}/status", s.handleNotificationStatus)
		s.handle(r, http.MethodPost, "/notifications/{id}/retry", s.handleRetryNotification)

		s.handle(r, http.MethodGet, "/events", s.handleListEvents)
		s.handle(r, http.MethodGet, "/events/{id}", s.handleGetEvent)
		s.handle(r, http.MethodPost, "/events/{id}/redeliver", s.handleRedeliver)

		s.handle(r, http.MethodGet, "/subscriptions", s.handleListSubscriptions)
		s.handle(r, http.MethodPost, "/subscriptions", s.handleCreateSubscription)
		s.handle(r, http.MethodGet, "/subscriptions/{id}", s.handleGetSubscription)
		s.handle(r, http.MethodDelete, "/subscriptions/{id}", s.handleDeleteSubscription)

		s.handle(r, http.MethodGet, "/audit", s.handleListAudit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, core.NewNotFoundError("route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, core.NewError(core.ErrorBadInput, "method not allowed").WithCode(http.StatusMethodNotAllowed))
	})
	return r
}

// handle registers a management route behind the tenant limiter. The bucket
// is keyed by the route pattern so path parameters share one bucket.
func (s *Server) handle(r chi.Router, method string, pattern string, h http.HandlerFunc) {
	path := "/v1" + pattern
	r.With(s.limit(path)).Method(method, pattern, h)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs handler on cfg.Addr until ctx is cancelled, then drains within
// cfg.ShutdownTimeout.
func Serve(ctx context.Context, cfg core.HTTPConfig, handler http.Handler, observer *core.Observer) error {
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	observer.Info(ctx, "http server starting", map[string]any{"addr": cfg.Addr})

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		timeout := cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		observer.Info(ctx, "http server shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("httpapi: shutdown: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("httpapi: serve: %w", err)
	}
}
