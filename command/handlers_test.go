package command

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integration-broker/approval"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/notify"
	"github.com/goliatone/go-integration-broker/oauth"
)

var tenant = core.MustTenantID("acme")

type stubService struct {
	startFn    func(context.Context, core.TenantID, core.Provider, []string) (oauth.StartResult, error)
	rotateFn   func(context.Context, core.TenantID, core.Provider, string, string) (core.RotatedWebhookSecret, error)
	enqueueFn  func(context.Context, core.TenantID, notify.Request) (core.Notification, error)
	approveFn  func(context.Context, core.TenantID, core.Provider, approval.Decision) (approval.Result, error)
	deleteFn   func(context.Context, core.TenantID, string) error
	pruneCount int
}

func (s stubService) StartOAuth(ctx context.Context, tenant core.TenantID, provider core.Provider, scopes []string) (oauth.StartResult, error) {
	return s.startFn(ctx, tenant, provider, scopes)
}

func (stubService) CompleteOAuth(context.Context, core.TenantID, core.Provider, string, string) (oauth.CallbackResult, error) {
	return oauth.CallbackResult{}, nil
}

func (s stubService) RotateWebhookSecret(ctx context.Context, tenant core.TenantID, provider core.Provider, secret string, accountID string) (core.RotatedWebhookSecret, error) {
	return s.rotateFn(ctx, tenant, provider, secret, accountID)
}

func (s stubService) EnqueueNotification(ctx context.Context, tenant core.TenantID, req notify.Request) (core.Notification, error) {
	return s.enqueueFn(ctx, tenant, req)
}

func (stubService) UpdateNotificationStatus(context.Context, core.TenantID, string, core.NotificationStatus, string) (core.Notification, error) {
	return core.Notification{}, nil
}

func (stubService) RetryNotification(context.Context, core.TenantID, string) (core.Notification, error) {
	return core.Notification{}, nil
}

func (s stubService) RecordApproval(ctx context.Context, tenant core.TenantID, provider core.Provider, decision approval.Decision) (approval.Result, error) {
	return s.approveFn(ctx, tenant, provider, decision)
}

func (stubService) RedeliverEvent(context.Context, core.TenantID, string) (core.DispatchRecord, error) {
	return core.DispatchRecord{}, nil
}

func (stubService) CreateSubscription(_ context.Context, _ core.TenantID, subscription core.Subscription) (core.Subscription, error) {
	return subscription, nil
}

func (s stubService) DeleteSubscription(ctx context.Context, tenant core.TenantID, id string) error {
	return s.deleteFn(ctx, tenant, id)
}

func (s stubService) PruneReplayGuard(context.Context) (int, error) {
	return s.pruneCount, nil
}

var _ MutatingService = stubService{}

func TestStartOAuthCommand_DelegatesAndStoresResult(t *testing.T) {
	expected := oauth.StartResult{AuthorizeURL: "https://slack.com/oauth/v2/authorize?state=st", State: "st", ExpiresAt: time.Unix(1_700_000_600, 0).UTC()}
	svc := stubService{
		startFn: func(_ context.Context, got core.TenantID, provider core.Provider, scopes []string) (oauth.StartResult, error) {
			if got != tenant || provider != core.ProviderSlack || len(scopes) != 1 {
				t.Fatalf("unexpected start input %v %q %v", got, provider, scopes)
			}
			return expected, nil
		},
	}

	out, err := Run[StartOAuthMessage, oauth.StartResult](context.Background(), NewStartOAuthCommand(svc), StartOAuthMessage{
		Tenant:   tenant,
		Provider: core.ProviderSlack,
		Scopes:   []string{"chat:write"},
	})
	if err != nil {
		t.Fatalf("run start: %v", err)
	}
	if out != expected {
		t.Fatalf("unexpected result %#v", out)
	}
}

func TestRotateWebhookSecretCommand_PassesSecretThrough(t *testing.T) {
	svc := stubService{
		rotateFn: func(_ context.Context, _ core.TenantID, provider core.Provider, secret string, accountID string) (core.RotatedWebhookSecret, error) {
			if secret != "0123456789abcdef" || accountID != "T123" {
				t.Fatalf("unexpected rotate input %q %q", secret, accountID)
			}
			return core.RotatedWebhookSecret{Provider: provider, AccountID: accountID}, nil
		},
	}
	out, err := Run[RotateWebhookSecretMessage, core.RotatedWebhookSecret](context.Background(), NewRotateWebhookSecretCommand(svc), RotateWebhookSecretMessage{
		Tenant:    tenant,
		Provider:  core.ProviderSlack,
		Secret:    "0123456789abcdef",
		AccountID: "T123",
	})
	if err != nil {
		t.Fatalf("run rotate: %v", err)
	}
	if out.Provider != core.ProviderSlack || out.Secret != "" {
		t.Fatalf("unexpected rotation result %#v", out)
	}
}

func TestCommands_ValidateBeforeCallingService(t *testing.T) {
	svc := stubService{
		enqueueFn: func(context.Context, core.TenantID, notify.Request) (core.Notification, error) {
			t.Fatalf("service must not be called for invalid input")
			return core.Notification{}, nil
		},
		approveFn: func(context.Context, core.TenantID, core.Provider, approval.Decision) (approval.Result, error) {
			t.Fatalf("service must not be called for invalid input")
			return approval.Result{}, nil
		},
	}

	err := NewEnqueueNotificationCommand(svc).Execute(context.Background(), EnqueueNotificationMessage{Tenant: tenant})
	if !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected BAD_INPUT for missing channel, got %v", err)
	}
	err = NewRecordApprovalCommand(svc).Execute(context.Background(), RecordApprovalMessage{Provider: core.ProviderSlack})
	if !core.IsErrorCode(err, core.ErrorAuth) {
		t.Fatalf("expected AUTH_ERROR for missing tenant, got %v", err)
	}
}

func TestDeleteSubscriptionCommand_ReturnsServiceError(t *testing.T) {
	svc := stubService{
		deleteFn: func(context.Context, core.TenantID, string) error {
			return core.NewNotFoundError("subscription not found")
		},
	}
	err := NewDeleteSubscriptionCommand(svc).Execute(context.Background(), DeleteSubscriptionMessage{Tenant: tenant, SubscriptionID: "sub-1"})
	if !core.IsErrorCode(err, core.ErrorNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestPruneReplayGuardCommand_StoresCount(t *testing.T) {
	out, err := Run[PruneReplayGuardMessage, int](context.Background(), NewPruneReplayGuardCommand(stubService{pruneCount: 7}), PruneReplayGuardMessage{})
	if err != nil {
		t.Fatalf("run prune: %v", err)
	}
	if out != 7 {
		t.Fatalf("expected 7 pruned rows, got %d", out)
	}
}

func TestMessages_Validate(t *testing.T) {
	negative := -1
	tests := []struct {
		name    string
		msg     interface{ Validate() error }
		wantErr bool
	}{
		{name: "start oauth ok", msg: StartOAuthMessage{Tenant: tenant, Provider: core.ProviderGitHub}},
		{name: "start oauth unknown provider", msg: StartOAuthMessage{Tenant: tenant, Provider: "gitlab"}, wantErr: true},
		{name: "complete oauth missing code", msg: CompleteOAuthMessage{Tenant: tenant, Provider: core.ProviderGitHub, State: "st"}, wantErr: true},
		{name: "rotate generated", msg: RotateWebhookSecretMessage{Tenant: tenant, Provider: core.ProviderJira}},
		{name: "rotate short secret", msg: RotateWebhookSecretMessage{Tenant: tenant, Provider: core.ProviderJira, Secret: "short"}, wantErr: true},
		{name: "enqueue negative retries", msg: EnqueueNotificationMessage{Tenant: tenant, Channel: core.NotificationChannelWebhook, MaxRetries: &negative}, wantErr: true},
		{name: "status pending", msg: UpdateNotificationStatusMessage{Tenant: tenant, NotificationID: "n-1", Status: core.NotificationStatusPending}, wantErr: true},
		{name: "status bounced", msg: UpdateNotificationStatusMessage{Tenant: tenant, NotificationID: "n-1", Status: core.NotificationStatusBounced}},
		{name: "redeliver missing event", msg: RedeliverEventMessage{Tenant: tenant}, wantErr: true},
		{name: "subscription relative URL target", msg: CreateSubscriptionMessage{Tenant: tenant, Provider: core.ProviderGitHub, EventType: "*", Target: "https://"}, wantErr: true},
		{name: "subscription workflow target", msg: CreateSubscriptionMessage{Tenant: tenant, Provider: core.ProviderGitHub, EventType: "github.push", Target: "wf-deploy"}},
		{name: "delete missing id", msg: DeleteSubscriptionMessage{Tenant: tenant}, wantErr: true},
		{name: "retry missing tenant", msg: RetryNotificationMessage{NotificationID: "n-1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartOAuthMessage_ValidateReturnsRichError(t *testing.T) {
	err := (StartOAuthMessage{Tenant: tenant}).Validate()
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation || rich.TextCode != core.ErrorBadInput {
		t.Fatalf("unexpected envelope %q %q", rich.Category, rich.TextCode)
	}
}

func TestNilCommandReturnsDependencyError(t *testing.T) {
	var cmd *RedeliverEventCommand
	err := cmd.Execute(context.Background(), RedeliverEventMessage{Tenant: tenant, EventID: "e-1"})
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal dependency error, got %v", err)
	}
}
