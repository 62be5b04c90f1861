// Package ratelimit implements the per-(key, path) token bucket that guards
// every inbound request before any downstream work is done.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"golang.org/x/time/rate"
)

type ThrottledError struct {
	Key        string
	Path       string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: %q on %q throttled for %s", e.Key, e.Path, e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"path": e.Path}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New("rate limit exceeded", goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

type Config struct {
	RequestsPerSecond float64
	Burst             int
	// AggregateRequestsPerSecond and AggregateBurst size the shared buckets
	// checked by CheckAggregate. Zero means ten times the per-key policy.
	AggregateRequestsPerSecond float64
	AggregateBurst             int
	// FlushInterval is the aggregation window of rejection audit entries.
	FlushInterval time.Duration
	// IdleTTL evicts buckets that have not been used for this long.
	IdleTTL  time.Duration
	Audit    core.AuditRecorder
	Observer *core.Observer
	Now      func() time.Time
}

func ConfigFrom(cfg core.RateLimitConfig) Config {
	return Config{
		RequestsPerSecond:          cfg.RequestsPerSecond,
		Burst:                      cfg.Burst,
		AggregateRequestsPerSecond: cfg.WebhookRequestsPerSecond,
		AggregateBurst:             cfg.WebhookBurst,
		FlushInterval:              cfg.FlushInterval,
		IdleTTL:                    cfg.IdleTTL,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type rejections struct {
	key         string
	path        string
	count       int
	windowStart time.Time
	windowEnd   time.Time
}

// TenantLimiter keeps one token bucket per (key, path). Rejections are
// counted in memory and written to the audit log once per flush window.
type TenantLimiter struct {
	cfg Config

	mu       sync.Mutex
	buckets  map[string]*bucket
	rejected map[string]*rejections
}

func NewTenantLimiter(cfg Config) (*TenantLimiter, error) {
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return nil, fmt.Errorf("ratelimit: requests per second and burst must be positive")
	}
	if cfg.AggregateRequestsPerSecond <= 0 {
		cfg.AggregateRequestsPerSecond = 10 * cfg.RequestsPerSecond
	}
	if cfg.AggregateBurst <= 0 {
		cfg.AggregateBurst = 10 * cfg.Burst
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &TenantLimiter{
		cfg:      cfg,
		buckets:  make(map[string]*bucket),
		rejected: make(map[string]*rejections),
	}, nil
}

// Allow takes one token from the bucket of (key, path).
func (l *TenantLimiter) Allow(ctx context.Context, key string, path string) bool {
	return l.Check(ctx, key, path) == nil
}

// Check is Allow returning a ThrottledError on rejection.
func (l *TenantLimiter) Check(ctx context.Context, key string, path string) error {
	if l == nil {
		return nil
	}
	return l.check(ctx, key, path, "", l.cfg.RequestsPerSecond, l.cfg.Burst)
}

// AllowAggregate takes one token from the shared bucket of (key, path).
func (l *TenantLimiter) AllowAggregate(ctx context.Context, key string, path string) bool {
	return l.CheckAggregate(ctx, key, path) == nil
}

// CheckAggregate meters (key, path) against the aggregate policy. It is
// meant for keys that cover many callers, such as every unauthenticated
// delivery of one provider.
func (l *TenantLimiter) CheckAggregate(ctx context.Context, key string, path string) error {
	if l == nil {
		return nil
	}
	return l.check(ctx, key, path, "aggregate", l.cfg.AggregateRequestsPerSecond, l.cfg.AggregateBurst)
}

func (l *TenantLimiter) check(ctx context.Context, key string, path string, scope string, limit float64, burst int) error {
	key = strings.TrimSpace(key)
	path = strings.TrimSpace(path)
	now := l.cfg.Now()
	id := scope + "\x00" + key + "\x00" + path

	l.mu.Lock()
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(limit), burst)}
		l.buckets[id] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	if !allowed {
		r, ok := l.rejected[id]
		if !ok {
			r = &rejections{key: key, path: path, windowStart: now}
			l.rejected[id] = r
		}
		r.count++
		r.windowEnd = now
	}
	l.mu.Unlock()

	if allowed {
		return nil
	}
	l.cfg.Observer.Counter(ctx, "broker.ratelimit.rejected.total", 1, map[string]string{"path": path})
	return ThrottledError{
		Key:        key,
		Path:       path,
		RetryAfter: time.Duration(float64(time.Second) / limit),
	}
}

// Flush writes one ratelimit.rejected entry per (key, path) rejected since the
// previous flush, and evicts idle buckets.
func (l *TenantLimiter) Flush(ctx context.Context) error {
	if l == nil {
		return nil
	}
	now := l.cfg.Now()
	l.mu.Lock()
	pending := make([]*rejections, 0, len(l.rejected))
	for _, r := range l.rejected {
		pending = append(pending, r)
	}
	l.rejected = make(map[string]*rejections)
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.cfg.IdleTTL {
			delete(l.buckets, id)
		}
	}
	l.mu.Unlock()

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].key == pending[j].key {
			return pending[i].path < pending[j].path
		}
		return pending[i].key < pending[j].key
	})
	if l.cfg.Audit == nil {
		return nil
	}
	var firstErr error
	for _, r := range pending {
		tenant, _ := core.ParseTenantID(r.key)
		details := map[string]any{
			"path":        r.path,
			"count":       r.count,
			"windowStart": r.windowStart.UTC().Format(time.RFC3339Nano),
			"windowEnd":   r.windowEnd.UTC().Format(time.RFC3339Nano),
		}
		if tenant.IsZero() {
			details["key"] = r.key
		}
		if err := l.cfg.Audit.Record(ctx, tenant, audit.ActionRateLimitRejected, details); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run flushes on every FlushInterval until ctx is done, then flushes once more.
func (l *TenantLimiter) Run(ctx context.Context) {
	if l == nil {
		return
	}
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := l.Flush(context.WithoutCancel(ctx)); err != nil {
				l.cfg.Observer.Warn(ctx, "ratelimit flush failed", map[string]any{"error": err.Error()})
			}
			return
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.cfg.Observer.Warn(ctx, "ratelimit flush failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Buckets reports the number of live buckets.
func (l *TenantLimiter) Buckets() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
