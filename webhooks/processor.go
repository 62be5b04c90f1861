package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/normalize"
)

// Limiter admits requests per (bucket, path). AllowAggregate meters a bucket
// shared by every sender of a provider.
type Limiter interface {
	Allow(ctx context.Context, key string, path string) bool
	AllowAggregate(ctx context.Context, key string, path string) bool
}

type ReplayGuard interface {
	Admit(ctx context.Context, tenant core.TenantID, provider core.Provider, deliveryID string) (core.ReplayDecision, error)
	Release(ctx context.Context, tenant core.TenantID, provider core.Provider, deliveryID string) error
}

// Submitter creates the durable dispatch record of an accepted event and
// schedules it.
type Submitter interface {
	Submit(ctx context.Context, tenant core.TenantID, event core.NormalizedEvent) (core.DispatchRecord, error)
}

type Request struct {
	Provider core.Provider
	Path     string
	Headers  http.Header
	Body     []byte
}

// Result is the acknowledgement returned to the provider. Challenge is set
// only for Slack url_verification handshakes.
type Result struct {
	StatusCode int
	Tenant     core.TenantID
	EventID    string
	DispatchID string
	Challenge  string
}

type ProcessorConfig struct {
	Resolver  *Resolver
	Limiter   Limiter
	Replay    ReplayGuard
	Events    core.EventStore
	Submitter Submitter
	Audit     core.AuditRecorder
	Observer  *core.Observer
	Now       func() time.Time
}

type Processor struct {
	resolver  *Resolver
	limiter   Limiter
	replay    ReplayGuard
	events    core.EventStore
	submitter Submitter
	audit     core.AuditRecorder
	observer  *core.Observer
	now       func() time.Time
}

func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("webhooks: resolver is required")
	}
	if cfg.Replay == nil {
		return nil, fmt.Errorf("webhooks: replay guard is required")
	}
	if cfg.Events == nil {
		return nil, fmt.Errorf("webhooks: event store is required")
	}
	if cfg.Submitter == nil {
		return nil, fmt.Errorf("webhooks: submitter is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("webhooks: audit recorder is required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		resolver:  cfg.Resolver,
		limiter:   cfg.Limiter,
		replay:    cfg.Replay,
		events:    cfg.Events,
		submitter: cfg.Submitter,
		audit:     cfg.Audit,
		observer:  cfg.Observer,
		now:       now,
	}, nil
}

// Process authenticates one delivery and, when it is new, persists and
// schedules its normalized event. Every rejection is audited before return.
func (p *Processor) Process(ctx context.Context, req Request) (result Result, err error) {
	startedAt := p.now()
	outcome := "accepted"
	fields := map[string]any{"provider": req.Provider.String()}
	defer func() {
		if err != nil && outcome == "accepted" {
			outcome = "error"
		}
		p.observer.Counter(ctx, "broker.webhook.outcomes.total", 1, map[string]string{
			"provider": req.Provider.String(),
			"outcome":  outcome,
		})
		p.observer.Operation(ctx, startedAt, "webhook_process", err, fields)
	}()

	if !req.Provider.Valid() {
		return Result{}, core.NewNotFoundError(fmt.Sprintf("webhooks: unsupported provider %q", req.Provider))
	}

	// The hint comes from the unauthenticated body, so the provider-wide
	// bucket is checked first and caps senders that rotate hints.
	hint := TenantHint(req.Provider, req.Headers, req.Body)
	if p.limiter != nil {
		if !p.limiter.AllowAggregate(ctx, bucketKey(req.Provider, ""), req.Path) ||
			!p.limiter.Allow(ctx, bucketKey(req.Provider, hint), req.Path) {
			outcome = "rate_limited"
			return Result{}, core.NewRateLimitedError("webhooks: too many deliveries")
		}
	}

	resolution, err := p.resolver.Resolve(ctx, req.Provider, hint, req.Headers, req.Body)
	if err != nil {
		outcome, err = p.rejectUnauthenticated(ctx, req.Provider, resolution, err)
		return Result{}, err
	}
	tenant := resolution.Tenant
	fields["tenant_id"] = tenant.String()

	envelope, err := Extract(req.Provider, req.Headers, req.Body)
	if err != nil {
		outcome = "malformed"
		p.record(ctx, tenant, audit.ActionWebhookMalformed, map[string]any{
			"provider": req.Provider.String(),
			"reason":   err.Error(),
		})
		return Result{}, err
	}
	fields["delivery_id"] = envelope.DeliveryID

	if challenge, ok := slackChallenge(req.Provider, envelope.Payload); ok {
		outcome = "challenge"
		return Result{StatusCode: http.StatusOK, Tenant: tenant, Challenge: challenge}, nil
	}

	decision, err := p.replay.Admit(ctx, tenant, req.Provider, envelope.DeliveryID)
	if err != nil {
		err = asStorageError(err, "admit webhook delivery")
		p.recordFailure(ctx, tenant, req.Provider, envelope.DeliveryID, "replay_admit", err)
		return Result{}, err
	}
	if decision == core.ReplayRejected {
		outcome = "replay"
		p.record(ctx, tenant, audit.ActionWebhookReplayRejected, map[string]any{
			"provider":    req.Provider.String(),
			"delivery_id": envelope.DeliveryID,
		})
		return Result{}, core.NewReplayDetectedError("webhooks: delivery already processed")
	}

	event, submitted, err := p.accept(ctx, tenant, req, envelope)
	if err != nil {
		if releaseErr := p.replay.Release(ctx, tenant, req.Provider, envelope.DeliveryID); releaseErr != nil {
			p.observer.Error(ctx, "webhooks: release replay claim failed", map[string]any{
				"tenant_id":   tenant.String(),
				"provider":    req.Provider.String(),
				"delivery_id": envelope.DeliveryID,
				"error":       releaseErr.Error(),
			})
		}
		p.recordFailure(ctx, tenant, req.Provider, envelope.DeliveryID, "accept", err)
		return Result{}, err
	}
	fields["event_id"] = event.EventID

	p.record(ctx, tenant, audit.ActionWebhookAccepted, map[string]any{
		"provider":    req.Provider.String(),
		"delivery_id": envelope.DeliveryID,
		"event_id":    event.EventID,
		"event_type":  event.EventType,
		"dispatch_id": submitted.ID,
	})
	return Result{
		StatusCode: http.StatusAccepted,
		Tenant:     tenant,
		EventID:    event.EventID,
		DispatchID: submitted.ID,
	}, nil
}

func (p *Processor) accept(
	ctx context.Context,
	tenant core.TenantID,
	req Request,
	envelope Envelope,
) (core.NormalizedEvent, core.DispatchRecord, error) {
	event, err := normalize.Normalize(normalize.Input{
		TenantID:   tenant,
		Provider:   req.Provider,
		DeliveryID: envelope.DeliveryID,
		EventType:  envelope.EventType,
		Headers:    req.Headers,
		Payload:    envelope.Payload,
	})
	if err != nil {
		return core.NormalizedEvent{}, core.DispatchRecord{}, err
	}
	stored, _, err := p.events.Append(ctx, tenant, event)
	if err != nil {
		return core.NormalizedEvent{}, core.DispatchRecord{}, asStorageError(err, "persist webhook event")
	}
	record, err := p.submitter.Submit(ctx, tenant, stored)
	if err != nil {
		return core.NormalizedEvent{}, core.DispatchRecord{}, asStorageError(err, "create dispatch record")
	}
	return stored, record, nil
}

func (p *Processor) rejectUnauthenticated(
	ctx context.Context,
	provider core.Provider,
	resolution Resolution,
	cause error,
) (string, error) {
	details := map[string]any{"provider": provider.String()}
	switch {
	case core.IsErrorCode(cause, core.ErrorNoSecretConfigured):
		p.record(ctx, core.TenantID{}, audit.ActionWebhookNoSecret, details)
		return "no_secret", cause
	case errors.Is(cause, ErrStaleTimestamp):
		p.record(ctx, resolution.Suspect, audit.ActionWebhookStaleTimestamp, details)
		return "stale_timestamp", core.NewSignatureInvalidError("webhooks: request timestamp outside the allowed window")
	case errors.Is(cause, ErrSignatureMismatch), errors.Is(cause, ErrSignatureMissing):
		p.record(ctx, resolution.Suspect, audit.ActionWebhookSignatureInvalid, details)
		return "signature_invalid", core.NewSignatureInvalidError("webhooks: signature verification failed")
	}
	err := asStorageError(cause, "resolve webhook tenant")
	p.recordFailure(ctx, resolution.Suspect, provider, "", "resolve", err)
	return "error", err
}

// recordFailure audits a delivery that could not be processed for reasons
// other than authentication or replay.
func (p *Processor) recordFailure(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	deliveryID string,
	stage string,
	cause error,
) {
	details := map[string]any{
		"provider":   provider.String(),
		"stage":      stage,
		"error_code": core.ErrorTextCode(cause),
	}
	if deliveryID != "" {
		details["delivery_id"] = deliveryID
	}
	p.record(ctx, tenant, audit.ActionWebhookFailed, details)
}

func (p *Processor) record(ctx context.Context, tenant core.TenantID, action string, details map[string]any) {
	if err := p.audit.Record(ctx, tenant, action, details); err != nil {
		p.observer.Error(ctx, "webhooks: audit write failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}

func bucketKey(provider core.Provider, hint string) string {
	key := "webhook:" + provider.String()
	if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" {
		key += ":" + hint
	}
	return key
}

func slackChallenge(provider core.Provider, payload map[string]any) (string, bool) {
	if provider != core.ProviderSlack || stringAt(payload, "type") != "url_verification" {
		return "", false
	}
	return stringAt(payload, "challenge"), true
}

func asStorageError(err error, message string) error {
	if core.ErrorTextCode(err) != "" {
		return err
	}
	return core.NewStorageError(err, message)
}
