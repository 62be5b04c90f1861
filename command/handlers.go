package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integration-broker/approval"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/notify"
	"github.com/goliatone/go-integration-broker/oauth"
)

type OAuthService interface {
	StartOAuth(ctx context.Context, tenant core.TenantID, provider core.Provider, scopes []string) (oauth.StartResult, error)
	CompleteOAuth(ctx context.Context, tenant core.TenantID, provider core.Provider, state string, code string) (oauth.CallbackResult, error)
}

type SecretService interface {
	RotateWebhookSecret(ctx context.Context, tenant core.TenantID, provider core.Provider, secret string, accountID string) (core.RotatedWebhookSecret, error)
}

type NotificationService interface {
	EnqueueNotification(ctx context.Context, tenant core.TenantID, req notify.Request) (core.Notification, error)
	UpdateNotificationStatus(ctx context.Context, tenant core.TenantID, id string, status core.NotificationStatus, reason string) (core.Notification, error)
	RetryNotification(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error)
}

type ApprovalService interface {
	RecordApproval(ctx context.Context, tenant core.TenantID, provider core.Provider, decision approval.Decision) (approval.Result, error)
}

type EventService interface {
	RedeliverEvent(ctx context.Context, tenant core.TenantID, eventID string) (core.DispatchRecord, error)
}

type SubscriptionService interface {
	CreateSubscription(ctx context.Context, tenant core.TenantID, subscription core.Subscription) (core.Subscription, error)
	DeleteSubscription(ctx context.Context, tenant core.TenantID, id string) error
}

type MaintenanceService interface {
	PruneReplayGuard(ctx context.Context) (int, error)
}

// MutatingService is every write path the broker exposes.
type MutatingService interface {
	OAuthService
	SecretService
	NotificationService
	ApprovalService
	EventService
	SubscriptionService
	MaintenanceService
}

type StartOAuthCommand struct {
	service OAuthService
}

func NewStartOAuthCommand(service OAuthService) *StartOAuthCommand {
	return &StartOAuthCommand{service: service}
}

func (c *StartOAuthCommand) Execute(ctx context.Context, msg StartOAuthMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: oauth service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.StartOAuth(ctx, msg.Tenant, msg.Provider, msg.Scopes)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteOAuthCommand struct {
	service OAuthService
}

func NewCompleteOAuthCommand(service OAuthService) *CompleteOAuthCommand {
	return &CompleteOAuthCommand{service: service}
}

func (c *CompleteOAuthCommand) Execute(ctx context.Context, msg CompleteOAuthMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: oauth service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.CompleteOAuth(ctx, msg.Tenant, msg.Provider, msg.State, msg.Code)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RotateWebhookSecretCommand struct {
	service SecretService
}

func NewRotateWebhookSecretCommand(service SecretService) *RotateWebhookSecretCommand {
	return &RotateWebhookSecretCommand{service: service}
}

func (c *RotateWebhookSecretCommand) Execute(ctx context.Context, msg RotateWebhookSecretMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook secret service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RotateWebhookSecret(ctx, msg.Tenant, msg.Provider, msg.Secret, msg.AccountID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnqueueNotificationCommand struct {
	service NotificationService
}

func NewEnqueueNotificationCommand(service NotificationService) *EnqueueNotificationCommand {
	return &EnqueueNotificationCommand{service: service}
}

func (c *EnqueueNotificationCommand) Execute(ctx context.Context, msg EnqueueNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.EnqueueNotification(ctx, msg.Tenant, notify.Request{
		Channel:    msg.Channel,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Metadata:   msg.Metadata,
		MaxRetries: msg.MaxRetries,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateNotificationStatusCommand struct {
	service NotificationService
}

func NewUpdateNotificationStatusCommand(service NotificationService) *UpdateNotificationStatusCommand {
	return &UpdateNotificationStatusCommand{service: service}
}

func (c *UpdateNotificationStatusCommand) Execute(ctx context.Context, msg UpdateNotificationStatusMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.UpdateNotificationStatus(ctx, msg.Tenant, msg.NotificationID, msg.Status, msg.Reason)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RetryNotificationCommand struct {
	service NotificationService
}

func NewRetryNotificationCommand(service NotificationService) *RetryNotificationCommand {
	return &RetryNotificationCommand{service: service}
}

func (c *RetryNotificationCommand) Execute(ctx context.Context, msg RetryNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RetryNotification(ctx, msg.Tenant, msg.NotificationID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RecordApprovalCommand struct {
	service ApprovalService
}

func NewRecordApprovalCommand(service ApprovalService) *RecordApprovalCommand {
	return &RecordApprovalCommand{service: service}
}

func (c *RecordApprovalCommand) Execute(ctx context.Context, msg RecordApprovalMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: approval service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RecordApproval(ctx, msg.Tenant, msg.Provider, msg.Decision)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RedeliverEventCommand struct {
	service EventService
}

func NewRedeliverEventCommand(service EventService) *RedeliverEventCommand {
	return &RedeliverEventCommand{service: service}
}

func (c *RedeliverEventCommand) Execute(ctx context.Context, msg RedeliverEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.RedeliverEvent(ctx, msg.Tenant, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateSubscriptionCommand struct {
	service SubscriptionService
}

func NewCreateSubscriptionCommand(service SubscriptionService) *CreateSubscriptionCommand {
	return &CreateSubscriptionCommand{service: service}
}

func (c *CreateSubscriptionCommand) Execute(ctx context.Context, msg CreateSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.CreateSubscription(ctx, msg.Tenant, core.Subscription{
		Provider:  msg.Provider,
		EventType: msg.EventType,
		Target:    msg.Target,
	})
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteSubscriptionCommand struct {
	service SubscriptionService
}

func NewDeleteSubscriptionCommand(service SubscriptionService) *DeleteSubscriptionCommand {
	return &DeleteSubscriptionCommand{service: service}
}

func (c *DeleteSubscriptionCommand) Execute(ctx context.Context, msg DeleteSubscriptionMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: subscription service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.DeleteSubscription(ctx, msg.Tenant, msg.SubscriptionID)
}

type PruneReplayGuardCommand struct {
	service MaintenanceService
}

func NewPruneReplayGuardCommand(service MaintenanceService) *PruneReplayGuardCommand {
	return &PruneReplayGuardCommand{service: service}
}

func (c *PruneReplayGuardCommand) Execute(ctx context.Context, _ PruneReplayGuardMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: maintenance service is required")
	}
	pruned, err := c.service.PruneReplayGuard(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, pruned)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

// Run executes cmd and returns the result it stored.
func Run[T any, R any](ctx context.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		var zero R
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}
