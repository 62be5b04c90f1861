package command

import (
	"net/url"
	"slices"
	"strings"

	"github.com/goliatone/go-integration-broker/approval"
	"github.com/goliatone/go-integration-broker/core"
)

const (
	TypeStartOAuth               = "broker.command.oauth.start"
	TypeCompleteOAuth            = "broker.command.oauth.complete"
	TypeRotateWebhookSecret      = "broker.command.webhook_secret.rotate"
	TypeEnqueueNotification      = "broker.command.notification.enqueue"
	TypeUpdateNotificationStatus = "broker.command.notification.update_status"
	TypeRetryNotification        = "broker.command.notification.retry"
	TypeRecordApproval           = "broker.command.approval.record"
	TypeRedeliverEvent           = "broker.command.event.redeliver"
	TypeCreateSubscription       = "broker.command.subscription.create"
	TypeDeleteSubscription       = "broker.command.subscription.delete"
	TypePruneReplayGuard         = "broker.command.replay_guard.prune"
)

type StartOAuthMessage struct {
	Tenant   core.TenantID
	Provider core.Provider
	Scopes   []string
}

func (StartOAuthMessage) Type() string { return TypeStartOAuth }

func (m StartOAuthMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	return validateProvider(m.Provider)
}

type CompleteOAuthMessage struct {
	Tenant   core.TenantID
	Provider core.Provider
	State    string
	Code     string
}

func (CompleteOAuthMessage) Type() string { return TypeCompleteOAuth }

func (m CompleteOAuthMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if err := validateProvider(m.Provider); err != nil {
		return err
	}
	if strings.TrimSpace(m.State) == "" {
		return commandValidationError("state", "state is required")
	}
	if strings.TrimSpace(m.Code) == "" {
		return commandValidationError("code", "code is required")
	}
	return nil
}

type RotateWebhookSecretMessage struct {
	Tenant   core.TenantID
	Provider core.Provider
	// Secret is generated when empty.
	Secret    string
	AccountID string
}

func (RotateWebhookSecretMessage) Type() string { return TypeRotateWebhookSecret }

func (m RotateWebhookSecretMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if err := validateProvider(m.Provider); err != nil {
		return err
	}
	if secret := strings.TrimSpace(m.Secret); secret != "" && len(secret) < 16 {
		return commandValidationError("secret", "secret must be at least 16 characters")
	}
	return nil
}

type EnqueueNotificationMessage struct {
	Tenant     core.TenantID
	Channel    core.NotificationChannel
	Subject    string
	Body       string
	Metadata   map[string]any
	MaxRetries *int
}

func (EnqueueNotificationMessage) Type() string { return TypeEnqueueNotification }

func (m EnqueueNotificationMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if strings.TrimSpace(string(m.Channel)) == "" {
		return commandValidationError("channel", "channel is required")
	}
	if m.MaxRetries != nil && *m.MaxRetries < 0 {
		return commandValidationError("maxRetries", "maxRetries must be >= 0")
	}
	return nil
}

type UpdateNotificationStatusMessage struct {
	Tenant         core.TenantID
	NotificationID string
	Status         core.NotificationStatus
	Reason         string
}

func (UpdateNotificationStatusMessage) Type() string { return TypeUpdateNotificationStatus }

func (m UpdateNotificationStatusMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return commandValidationError("notificationId", "notification id is required")
	}
	if !slices.Contains([]core.NotificationStatus{
		core.NotificationStatusDelivered,
		core.NotificationStatusFailed,
		core.NotificationStatusBounced,
	}, m.Status) {
		return commandValidationError("status", "status must be delivered, failed or bounced")
	}
	return nil
}

type RetryNotificationMessage struct {
	Tenant         core.TenantID
	NotificationID string
}

func (RetryNotificationMessage) Type() string { return TypeRetryNotification }

func (m RetryNotificationMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return commandValidationError("notificationId", "notification id is required")
	}
	return nil
}

type RecordApprovalMessage struct {
	Tenant   core.TenantID
	Provider core.Provider
	Decision approval.Decision
}

func (RecordApprovalMessage) Type() string { return TypeRecordApproval }

func (m RecordApprovalMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if err := validateProvider(m.Provider); err != nil {
		return err
	}
	if strings.TrimSpace(m.Decision.NotificationID) == "" {
		return commandValidationError("notificationId", "notification id is required")
	}
	return nil
}

type RedeliverEventMessage struct {
	Tenant  core.TenantID
	EventID string
}

func (RedeliverEventMessage) Type() string { return TypeRedeliverEvent }

func (m RedeliverEventMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if strings.TrimSpace(m.EventID) == "" {
		return commandValidationError("eventId", "event id is required")
	}
	return nil
}

type CreateSubscriptionMessage struct {
	Tenant    core.TenantID
	Provider  core.Provider
	EventType string
	Target    string
}

func (CreateSubscriptionMessage) Type() string { return TypeCreateSubscription }

func (m CreateSubscriptionMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if err := validateProvider(m.Provider); err != nil {
		return err
	}
	if strings.TrimSpace(m.EventType) == "" {
		return commandValidationError("eventType", "eventType is required")
	}
	target := strings.TrimSpace(m.Target)
	if target == "" {
		return commandValidationError("target", "target is required")
	}
	if parsed, err := url.Parse(target); err == nil && parsed.Scheme != "" && parsed.Host == "" {
		return commandValidationError("target", "target must be a workflow id or an absolute URL")
	}
	return nil
}

type DeleteSubscriptionMessage struct {
	Tenant         core.TenantID
	SubscriptionID string
}

func (DeleteSubscriptionMessage) Type() string { return TypeDeleteSubscription }

func (m DeleteSubscriptionMessage) Validate() error {
	if m.Tenant.IsZero() {
		return commandTenantError()
	}
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return commandValidationError("subscriptionId", "subscription id is required")
	}
	return nil
}

// PruneReplayGuardMessage is system scoped: it carries no tenant.
type PruneReplayGuardMessage struct{}

func (PruneReplayGuardMessage) Type() string { return TypePruneReplayGuard }

func (PruneReplayGuardMessage) Validate() error { return nil }

func validateProvider(provider core.Provider) error {
	if !provider.Valid() {
		return commandValidationError("provider", "unsupported provider")
	}
	return nil
}
