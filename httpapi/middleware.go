package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/ratelimit"
)

type tenantKey struct{}

func withTenant(ctx context.Context, tenant core.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

func tenantFrom(ctx context.Context) core.TenantID {
	tenant, _ := ctx.Value(tenantKey{}).(core.TenantID)
	return tenant
}

// logRequests logs method, route and status; bodies are never logged.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.cfg.Observer.Info(r.Context(), "http request", map[string]any{
			"method":      r.Method,
			"path":        route,
			"status":      status,
			"duration_ms": elapsed.Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		s.cfg.Observer.Counter(r.Context(), "broker.http.requests.total", 1, map[string]string{
			"path":   r.Method + " " + route,
			"status": strconv.Itoa(status),
		})
		s.cfg.Observer.Histogram(r.Context(), "broker.http.duration_ms", float64(elapsed.Milliseconds()), map[string]string{
			"path": r.Method + " " + route,
		})
	})
}

// requireTenant resolves the caller tenant from the configured header.
// Missing or malformed values are audited against the unresolved tenant.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(s.cfg.TenantHeader))
		reason := "missing tenant header"
		if raw != "" {
			tenant, err := core.ParseTenantID(raw)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), tenant)))
				return
			}
			reason = "invalid tenant header"
		}
		s.audit(r.Context(), core.TenantID{}, audit.ActionAuthRejected, map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"reason": reason,
		})
		s.writeError(w, r, core.NewAuthError(reason))
	})
}

func (s *Server) limit(path string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			err := s.cfg.Limiter.Check(r.Context(), tenantFrom(r.Context()).String(), path)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			var throttled ratelimit.ThrottledError
			if errors.As(err, &throttled) {
				if throttled.RetryAfter > 0 {
					seconds := int((throttled.RetryAfter + time.Second - 1) / time.Second)
					w.Header().Set("Retry-After", strconv.Itoa(seconds))
				}
				s.writeError(w, r, throttled.ToServiceError())
				return
			}
			s.writeError(w, r, err)
		})
	}
}

func (s *Server) audit(ctx context.Context, tenant core.TenantID, action string, details map[string]any) {
	if err := s.cfg.Audit.Record(ctx, tenant, action, details); err != nil {
		s.cfg.Observer.Error(ctx, "httpapi: audit write failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}
