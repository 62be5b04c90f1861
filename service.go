package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/goliatone/go-integration-broker/approval"
	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/command"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/notify"
	"github.com/goliatone/go-integration-broker/oauth"
	"github.com/goliatone/go-integration-broker/query"
)

const generatedSecretBytes = 32

func (b *Broker) StartOAuth(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	scopes []string,
) (oauth.StartResult, error) {
	return b.oauth.Start(ctx, tenant, provider, scopes)
}

func (b *Broker) CompleteOAuth(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	state string,
	code string,
) (oauth.CallbackResult, error) {
	return b.oauth.Callback(ctx, tenant, provider, state, code)
}

// RotateWebhookSecret replaces the tenant's secret for provider. An empty
// secret is generated; the generated value is returned only here.
func (b *Broker) RotateWebhookSecret(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	secret string,
	accountID string,
) (core.RotatedWebhookSecret, error) {
	if tenant.IsZero() {
		return core.RotatedWebhookSecret{}, core.NewAuthError("broker: tenant is required")
	}
	if !provider.Valid() {
		return core.RotatedWebhookSecret{}, core.NewValidationError("provider", "unsupported provider")
	}
	generated := strings.TrimSpace(secret) == ""
	if generated {
		raw := make([]byte, generatedSecretBytes)
		if _, err := rand.Read(raw); err != nil {
			return core.RotatedWebhookSecret{}, core.WrapError(err, core.ErrorInternal, "broker: generate webhook secret")
		}
		secret = hex.EncodeToString(raw)
	}
	summary, err := b.vault.PutWebhookSecret(ctx, tenant, provider, []byte(secret), accountID)
	if err != nil {
		return core.RotatedWebhookSecret{}, err
	}
	b.audit(ctx, tenant, audit.ActionWebhookSecretRotated, map[string]any{
		"provider":   provider.String(),
		"account_id": summary.AccountID,
		"generated":  generated,
	})
	out := core.RotatedWebhookSecret{
		Provider:  summary.Provider,
		AccountID: summary.AccountID,
		RotatedAt: summary.RotatedAt,
	}
	if generated {
		out.Secret = secret
	}
	return out, nil
}

func (b *Broker) EnqueueNotification(ctx context.Context, tenant core.TenantID, req notify.Request) (core.Notification, error) {
	return b.notifier.Enqueue(ctx, tenant, req)
}

func (b *Broker) UpdateNotificationStatus(
	ctx context.Context,
	tenant core.TenantID,
	id string,
	status core.NotificationStatus,
	reason string,
) (core.Notification, error) {
	return b.notifier.UpdateStatus(ctx, tenant, id, status, reason)
}

func (b *Broker) RetryNotification(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	return b.notifier.Retry(ctx, tenant, id)
}

func (b *Broker) RecordApproval(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	decision approval.Decision,
) (approval.Result, error) {
	return b.approvals.Record(ctx, tenant, provider, decision)
}

func (b *Broker) RedeliverEvent(ctx context.Context, tenant core.TenantID, eventID string) (core.DispatchRecord, error) {
	return b.dispatcher.Redeliver(ctx, tenant, eventID)
}

func (b *Broker) CreateSubscription(
	ctx context.Context,
	tenant core.TenantID,
	subscription core.Subscription,
) (core.Subscription, error) {
	subscription.TenantID = tenant
	if strings.TrimSpace(subscription.EventType) == "" {
		subscription.EventType = core.WildcardEventType
	}
	created, err := b.stores.subscriptions.Create(ctx, tenant, subscription)
	if err != nil {
		return core.Subscription{}, err
	}
	b.audit(ctx, tenant, audit.ActionSubscriptionCreated, map[string]any{
		"subscription_id": created.ID,
		"provider":        created.Provider.String(),
		"event_type":      created.EventType,
		"target":          created.Target,
	})
	return created, nil
}

func (b *Broker) DeleteSubscription(ctx context.Context, tenant core.TenantID, id string) error {
	if err := b.stores.subscriptions.Delete(ctx, tenant, id); err != nil {
		return err
	}
	b.audit(ctx, tenant, audit.ActionSubscriptionDeleted, map[string]any{"subscription_id": id})
	return nil
}

func (b *Broker) PruneReplayGuard(ctx context.Context) (int, error) {
	return b.guard.Prune(ctx)
}

// ListIntegrations reports every supported provider for tenant, configured
// or not.
func (b *Broker) ListIntegrations(ctx context.Context, tenant core.TenantID) ([]query.Integration, error) {
	connected, err := b.vault.ConnectedProviders(ctx, tenant)
	if err != nil {
		return nil, err
	}
	secrets, err := b.vault.WebhookSecrets(ctx, tenant)
	if err != nil {
		return nil, err
	}
	providers := core.SupportedProviders()
	out := make([]query.Integration, 0, len(providers))
	for _, provider := range providers {
		item := query.Integration{
			Provider:        provider,
			OAuthConfigured: b.oauth.Configured(provider),
		}
		for _, credential := range connected {
			if credential.Provider == provider {
				item.Connected = true
				item.Scopes = credential.Scopes
				item.ExpiresAt = credential.ExpiresAt
			}
		}
		for _, secret := range secrets {
			if secret.Provider == provider {
				item.WebhookSecret = true
				item.SecretRotatedAt = secret.RotatedAt
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (b *Broker) ListEvents(ctx context.Context, tenant core.TenantID, filter core.EventFilter) (core.EventPage, error) {
	return b.stores.events.List(ctx, tenant, filter)
}

// GetEvent returns the event with its dispatch record and attempt log.
// Events without a dispatch record have neither.
func (b *Broker) GetEvent(ctx context.Context, tenant core.TenantID, eventID string) (query.EventDetail, error) {
	event, err := b.stores.events.Get(ctx, tenant, eventID)
	if err != nil {
		return query.EventDetail{}, err
	}
	detail := query.EventDetail{Event: event, Attempts: []core.DispatchAttempt{}}
	record, err := b.stores.dispatches.GetByEvent(ctx, tenant, eventID)
	if core.IsErrorCode(err, core.ErrorNotFound) {
		return detail, nil
	}
	if err != nil {
		return query.EventDetail{}, err
	}
	detail.Dispatch = &record
	if detail.Attempts, err = b.stores.dispatches.ListAttempts(ctx, tenant, record.ID); err != nil {
		return query.EventDetail{}, err
	}
	return detail, nil
}

func (b *Broker) ListAudit(ctx context.Context, tenant core.TenantID, filter core.AuditFilter) (core.AuditPage, error) {
	return b.recorder.List(ctx, tenant, filter)
}

func (b *Broker) GetNotification(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	return b.notifier.Get(ctx, tenant, id)
}

func (b *Broker) ListSubscriptions(ctx context.Context, tenant core.TenantID) ([]core.Subscription, error) {
	return b.stores.subscriptions.List(ctx, tenant)
}

func (b *Broker) GetSubscription(ctx context.Context, tenant core.TenantID, id string) (core.Subscription, error) {
	return b.stores.subscriptions.Get(ctx, tenant, id)
}

// seedBootstrapSecrets stores configured per-provider webhook secrets for the
// bootstrap tenant when it has none yet.
func (b *Broker) seedBootstrapSecrets(ctx context.Context) error {
	raw := strings.TrimSpace(b.cfg.Webhooks.BootstrapTenant)
	if raw == "" {
		return nil
	}
	tenant, err := core.ParseTenantID(raw)
	if err != nil {
		return err
	}
	for _, provider := range core.SupportedProviders() {
		secret := strings.TrimSpace(b.cfg.Provider(provider).WebhookSecret)
		if secret == "" {
			continue
		}
		_, err := b.vault.WebhookSecret(ctx, tenant, provider)
		if err == nil {
			continue
		}
		if !core.IsErrorCode(err, core.ErrorNotFound) {
			return err
		}
		if _, err := b.vault.PutWebhookSecret(ctx, tenant, provider, []byte(secret), ""); err != nil {
			return err
		}
		b.audit(ctx, tenant, audit.ActionWebhookSecretRotated, map[string]any{
			"provider":  provider.String(),
			"bootstrap": true,
		})
	}
	return nil
}

func (b *Broker) audit(ctx context.Context, tenant core.TenantID, action string, details map[string]any) {
	if err := b.recorder.Record(ctx, tenant, action, details); err != nil {
		b.observer.Error(ctx, "broker: audit write failed", map[string]any{
			"action": action,
			"error":  err.Error(),
		})
	}
}

var (
	_ command.MutatingService = (*Broker)(nil)
	_ query.Reader            = (*Broker)(nil)
)
