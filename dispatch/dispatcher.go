// Package dispatch delivers normalized events to the downstream orchestrator.
//
// Every event gets one durable dispatch record. A dispatch pass claims the
// record, calls the orchestrator through a circuit breaker with bounded
// retries, and leaves the record accepted, queued, failed or unrouted.
// Delivery is at-least-once; the orchestrator deduplicates on the
// Idempotency-Key header, which carries the event id.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/transport"
	"github.com/google/uuid"
)

const (
	TriggersPath = "/v1/triggers"

	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTenantID       = "X-Tenant-ID"
)

// TriggerRequest is the body posted to the orchestrator.
type TriggerRequest struct {
	CorrelationID string               `json:"correlationId"`
	Targets       []string             `json:"targets"`
	Event         core.NormalizedEvent `json:"event"`
}

type Config struct {
	Orchestrator  core.OrchestratorConfig
	Dispatches    core.DispatchStore
	Due           core.DueDispatchSource
	Events        core.EventStore
	Subscriptions core.SubscriptionStore
	Audit         core.AuditRecorder
	Client        *transport.Client
	Breaker       *Breaker
	// Jobs, when set, receives redelivery jobs from the sweeper instead of
	// the in-process pool.
	Jobs     core.RedeliveryQueue
	Observer *core.Observer
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

type Dispatcher struct {
	cfg           core.OrchestratorConfig
	triggersURL   string
	dispatches    core.DispatchStore
	due           core.DueDispatchSource
	events        core.EventStore
	subscriptions core.SubscriptionStore
	audit         core.AuditRecorder
	client        *transport.Client
	breaker       *Breaker
	jobs          core.RedeliveryQueue
	observer      *core.Observer
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error

	pool *pool
}

func New(cfg Config) (*Dispatcher, error) {
	if cfg.Dispatches == nil {
		return nil, fmt.Errorf("dispatch: dispatch store is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("dispatch: event store is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("dispatch: audit recorder is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Orchestrator.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("dispatch: orchestrator base url is required")
	}
	settings := withDefaults(cfg.Orchestrator)
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	client := cfg.Client
	if client == nil {
		client = transport.NewClient(nil)
	}
	d := &Dispatcher{
		cfg:           settings,
		triggersURL:   baseURL + TriggersPath,
		dispatches:    cfg.Dispatches,
		due:           cfg.Due,
		events:        cfg.Events,
		subscriptions: cfg.Subscriptions,
		audit:         cfg.Audit,
		client:        client,
		jobs:          cfg.Jobs,
		observer:      cfg.Observer,
		now:           now,
		sleep:         sleep,
	}
	d.breaker = cfg.Breaker
	if d.breaker == nil {
		d.breaker = NewBreaker(BreakerConfig{
			FailureThreshold: settings.FailureThreshold,
			CoolDown:         settings.CoolDown,
			MaxCoolDown:      settings.MaxCoolDown,
			IsFailure:        IsRetryable,
			OnStateChange:    d.breakerChanged,
			Now:              now,
		})
	}
	if d.due == nil {
		d.due, _ = cfg.Dispatches.(core.DueDispatchSource)
	}
	d.pool = newPool(d, settings.Workers, settings.QueueSize)
	return d, nil
}

func withDefaults(cfg core.OrchestratorConfig) core.OrchestratorConfig {
	defaults := core.DefaultConfig().Orchestrator
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = defaults.CoolDown
	}
	if cfg.MaxCoolDown <= 0 {
		cfg.MaxCoolDown = defaults.MaxCoolDown
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaults.Lease
	}
	return cfg
}

func (d *Dispatcher) Breaker() *Breaker {
	return d.breaker
}

// Submit creates the durable record of an accepted event and hands it to the
// worker pool. A full pool leaves the record pending for the sweeper.
func (d *Dispatcher) Submit(ctx context.Context, tenant core.TenantID, event core.NormalizedEvent) (core.DispatchRecord, error) {
	if existing, err := d.dispatches.GetByEvent(ctx, tenant, event.EventID); err == nil {
		return existing, nil
	} else if !core.IsErrorCode(err, core.ErrorNotFound) {
		return core.DispatchRecord{}, err
	}

	targets, routed, err := d.route(ctx, tenant, event)
	if err != nil {
		return core.DispatchRecord{}, err
	}
	record := core.DispatchRecord{
		TenantID:      tenant,
		EventID:       event.EventID,
		Provider:      event.Provider,
		EventType:     event.EventType,
		Status:        core.DispatchStatusPending,
		CorrelationID: uuid.NewString(),
		Targets:       targets,
	}
	if !routed {
		record.Status = core.DispatchStatusUnrouted
	}
	created, err := d.dispatches.Create(ctx, tenant, record)
	if err != nil {
		return core.DispatchRecord{}, err
	}
	if created.Status == core.DispatchStatusUnrouted {
		d.record(ctx, tenant, audit.ActionDispatchUnrouted, created, nil)
		d.observer.Counter(ctx, "broker.dispatch.outcomes.total", 1, map[string]string{"outcome": string(core.DispatchStatusUnrouted)})
		return created, nil
	}
	d.pool.offer(core.DispatchRef{TenantID: tenant, DispatchID: created.ID, EventID: created.EventID})
	return created, nil
}

// route resolves the subscription targets of an event. Without subscriptions
// for the provider the orchestrator's default routing applies.
func (d *Dispatcher) route(ctx context.Context, tenant core.TenantID, event core.NormalizedEvent) ([]string, bool, error) {
	if d.subscriptions == nil {
		return []string{}, true, nil
	}
	subscriptions, err := d.subscriptions.ListForProvider(ctx, tenant, event.Provider)
	if err != nil {
		return nil, false, err
	}
	if len(subscriptions) == 0 {
		return []string{}, true, nil
	}
	targets := make([]string, 0, len(subscriptions))
	seen := map[string]struct{}{}
	for _, subscription := range subscriptions {
		if !subscription.Matches(event.Provider, event.EventType) {
			continue
		}
		if _, ok := seen[subscription.Target]; ok {
			continue
		}
		seen[subscription.Target] = struct{}{}
		targets = append(targets, subscription.Target)
	}
	return targets, len(targets) > 0, nil
}

// Redeliver re-queues a failed or queued dispatch for an immediate pass.
func (d *Dispatcher) Redeliver(ctx context.Context, tenant core.TenantID, eventID string) (core.DispatchRecord, error) {
	record, err := d.dispatches.GetByEvent(ctx, tenant, eventID)
	if err != nil {
		return core.DispatchRecord{}, err
	}
	switch record.Status {
	case core.DispatchStatusFailed, core.DispatchStatusQueued, core.DispatchStatusPending:
	default:
		return core.DispatchRecord{}, core.NewError(
			core.ErrorInvalidTransition,
			fmt.Sprintf("dispatch is %s and cannot be redelivered", record.Status),
		)
	}
	record.Status = core.DispatchStatusQueued
	record.NextAttemptAt = d.now()
	updated, err := d.dispatches.Update(ctx, tenant, record)
	if err != nil {
		return core.DispatchRecord{}, err
	}
	d.record(ctx, tenant, audit.ActionDispatchRedeliveryRequested, updated, nil)
	d.pool.offer(core.DispatchRef{TenantID: tenant, DispatchID: updated.ID, EventID: updated.EventID})
	return updated, nil
}

// Dispatch runs one pass for a record. A record held by another worker or
// not yet due is returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, ref core.DispatchRef) (record core.DispatchRecord, err error) {
	startedAt := d.now()
	fields := map[string]any{
		"tenant_id":   ref.TenantID.String(),
		"dispatch_id": ref.DispatchID,
		"event_id":    ref.EventID,
	}
	defer func() {
		fields["status"] = string(record.Status)
		d.observer.Operation(ctx, startedAt, "dispatch", err, fields)
	}()

	record, claimed, err := d.dispatches.Claim(ctx, ref.TenantID, ref.DispatchID, startedAt, startedAt.Add(d.cfg.Lease))
	if err != nil {
		return core.DispatchRecord{}, err
	}
	if !claimed {
		current, getErr := d.dispatches.Get(ctx, ref.TenantID, ref.DispatchID)
		return current, getErr
	}
	event, err := d.events.Get(ctx, ref.TenantID, record.EventID)
	if err != nil {
		return d.settle(ctx, record, core.DispatchStatusFailed, "load event: "+err.Error(), 0)
	}
	if record.CorrelationID == "" {
		record.CorrelationID = uuid.NewString()
	}
	return d.attempt(ctx, record, event)
}

func (d *Dispatcher) attempt(ctx context.Context, record core.DispatchRecord, event core.NormalizedEvent) (core.DispatchRecord, error) {
	for pass := 1; ; pass++ {
		record.Attempts++
		var result callResult
		err := d.breaker.Do(func() error {
			result = d.call(ctx, record, event)
			return result.err
		})

		if errors.Is(err, ErrCircuitOpen) {
			d.logAttempt(ctx, record, core.DispatchOutcomeCircuitOpen, result, err)
			record.NextAttemptAt = d.breaker.ReopensAt()
			return d.settle(ctx, record, core.DispatchStatusQueued, ErrCircuitOpen.Error(), 0)
		}
		if err == nil {
			d.logAttempt(ctx, record, core.DispatchOutcomeAccepted, result, nil)
			return d.settle(ctx, record, core.DispatchStatusAccepted, "", result.statusCode)
		}
		if !IsRetryable(err) {
			d.logAttempt(ctx, record, core.DispatchOutcomeFailed, result, err)
			return d.settle(ctx, record, core.DispatchStatusFailed, err.Error(), result.statusCode)
		}
		if pass >= d.cfg.MaxAttempts {
			d.logAttempt(ctx, record, core.DispatchOutcomeFailed, result, err)
			return d.settle(ctx, record, core.DispatchStatusFailed, err.Error(), result.statusCode)
		}
		d.logAttempt(ctx, record, core.DispatchOutcomeRetry, result, err)
		if sleepErr := d.sleep(ctx, d.backoff(pass)); sleepErr != nil {
			// shutdown: the record stays durable and due.
			record.NextAttemptAt = d.now()
			return d.settle(context.WithoutCancel(ctx), record, core.DispatchStatusQueued, err.Error(), result.statusCode)
		}
	}
}

type callResult struct {
	statusCode int
	duration   time.Duration
	err        error
}

type retryableError struct {
	err error
}

func (e retryableError) Error() string { return e.err.Error() }

func (e retryableError) Unwrap() error { return e.err }

// IsRetryable reports whether a dispatch error is worth another attempt and
// counts against the circuit breaker.
func IsRetryable(err error) bool {
	var retryable retryableError
	return errors.As(err, &retryable)
}

func (d *Dispatcher) call(ctx context.Context, record core.DispatchRecord, event core.NormalizedEvent) callResult {
	headers := http.Header{}
	headers.Set(HeaderCorrelationID, record.CorrelationID)
	headers.Set(HeaderIdempotencyKey, event.EventID)
	headers.Set(HeaderTenantID, record.TenantID.String())
	targets := record.Targets
	if targets == nil {
		targets = []string{}
	}

	res, err := d.client.PostJSON(ctx, d.triggersURL, headers, TriggerRequest{
		CorrelationID: record.CorrelationID,
		Targets:       targets,
		Event:         event,
	}, d.cfg.Timeout)
	if err != nil {
		if transport.IsTransportFailure(err) {
			return callResult{err: retryableError{err: err}}
		}
		return callResult{err: err}
	}
	result := callResult{statusCode: res.StatusCode, duration: res.Duration}
	switch {
	case res.OK():
	case res.StatusCode == http.StatusRequestTimeout,
		res.StatusCode == http.StatusTooManyRequests,
		res.StatusCode >= http.StatusInternalServerError:
		result.err = retryableError{err: fmt.Errorf("dispatch: orchestrator returned %d: %s", res.StatusCode, transport.Snippet(res.Body))}
	default:
		result.err = fmt.Errorf("dispatch: orchestrator rejected trigger with %d: %s", res.StatusCode, transport.Snippet(res.Body))
	}
	return result
}

// backoff is the delay after the given attempt: initial * 2^(attempt-1),
// capped at the maximum.
func (d *Dispatcher) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	next := time.Duration(float64(d.cfg.InitialBackoff) * math.Pow(2, float64(attempt-1)))
	if next <= 0 || next > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return next
}

func (d *Dispatcher) logAttempt(ctx context.Context, record core.DispatchRecord, outcome core.DispatchOutcome, result callResult, cause error) {
	attempt := core.DispatchAttempt{
		TenantID:      record.TenantID,
		DispatchID:    record.ID,
		EventID:       record.EventID,
		Attempt:       record.Attempts,
		CorrelationID: record.CorrelationID,
		Outcome:       outcome,
		StatusCode:    result.statusCode,
		DurationMS:    result.duration.Milliseconds(),
		CreatedAt:     d.now(),
	}
	if cause != nil {
		attempt.Error = cause.Error()
	}
	if err := d.dispatches.RecordAttempt(context.WithoutCancel(ctx), record.TenantID, attempt); err != nil {
		d.observer.Error(ctx, "dispatch: record attempt failed", map[string]any{
			"dispatch_id": record.ID,
			"error":       err.Error(),
		})
	}
	d.observer.Counter(ctx, "broker.dispatch.attempts.total", 1, map[string]string{"outcome": string(outcome)})
	if outcome != core.DispatchOutcomeCircuitOpen {
		d.observer.Histogram(ctx, "broker.dispatch.attempt.duration_ms", float64(result.duration.Milliseconds()), map[string]string{"outcome": string(outcome)})
	}
}

func (d *Dispatcher) settle(
	ctx context.Context,
	record core.DispatchRecord,
	status core.DispatchStatus,
	lastError string,
	statusCode int,
) (core.DispatchRecord, error) {
	record.Status = status
	record.LastError = lastError
	record.LastStatusCode = statusCode
	if status != core.DispatchStatusQueued {
		record.NextAttemptAt = time.Time{}
	}
	updated, err := d.dispatches.Update(ctx, record.TenantID, record)
	if err != nil {
		return record, err
	}

	var action string
	switch status {
	case core.DispatchStatusAccepted:
		action = audit.ActionDispatchAccepted
	case core.DispatchStatusQueued:
		action = audit.ActionDispatchQueued
	case core.DispatchStatusFailed:
		action = audit.ActionDispatchFailed
	}
	if action != "" {
		details := map[string]any{"attempts": updated.Attempts}
		if statusCode > 0 {
			details["status_code"] = statusCode
		}
		if lastError != "" {
			details["error"] = lastError
		}
		d.record(ctx, record.TenantID, action, updated, details)
	}
	d.observer.Counter(ctx, "broker.dispatch.outcomes.total", 1, map[string]string{"outcome": string(status)})
	return updated, nil
}

func (d *Dispatcher) record(ctx context.Context, tenant core.TenantID, action string, record core.DispatchRecord, extra map[string]any) {
	details := map[string]any{
		"dispatch_id":    record.ID,
		"event_id":       record.EventID,
		"correlation_id": record.CorrelationID,
	}
	for key, value := range extra {
		details[key] = value
	}
	if err := d.audit.Record(context.WithoutCancel(ctx), tenant, action, details); err != nil {
		d.observer.Error(ctx, "dispatch: audit write failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}

func (d *Dispatcher) breakerChanged(from, to BreakerState) {
	ctx := context.Background()
	d.observer.Counter(ctx, "broker.dispatch.breaker.transitions.total", 1, map[string]string{"to": string(to)})
	d.observer.Warn(ctx, "dispatch: orchestrator circuit changed state", map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
