package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/store/memory"
	"github.com/goliatone/go-integration-broker/transport"
)

var tenant = core.MustTenantID("acme")

type receiver struct {
	*httptest.Server
	mu     sync.Mutex
	status int
	bodies []map[string]any
	auth   []string
}

func newReceiver(t *testing.T, respond func(w http.ResponseWriter)) *receiver {
	t.Helper()
	r := &receiver{status: http.StatusOK}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.bodies = append(r.bodies, body)
		r.auth = append(r.auth, req.Header.Get("Authorization"))
		status := r.status
		r.mu.Unlock()
		if respond != nil {
			respond(w)
			return
		}
		w.Header().Set("X-Request-ID", "req-1")
		w.WriteHeader(status)
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *receiver) setStatus(status int) {
	r.mu.Lock()
	r.status = status
	r.mu.Unlock()
}

type staticTokens struct {
	token string
}

func (s staticTokens) Token(_ context.Context, tenant core.TenantID, provider core.Provider) (core.OAuthToken, error) {
	if provider != core.ProviderSlack {
		return core.OAuthToken{}, core.NewNotFoundError("no credential")
	}
	return core.OAuthToken{AccessToken: s.token}, nil
}

type fixture struct {
	dispatcher *Dispatcher
	store      *memory.NotificationStore
	audit      *audit.MemoryStore
}

func newFixture(t *testing.T, slackURL string, maxRetries int) *fixture {
	t.Helper()
	client := transport.NewClient(nil)
	auditStore := audit.NewMemoryStore()
	recorder, err := audit.NewRecorder(auditStore, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	store := memory.NewNotificationStore()
	dispatcher, err := New(Config{
		Store: store,
		Senders: map[core.NotificationChannel]Sender{
			core.NotificationChannelSlack:   &SlackSender{Tokens: staticTokens{token: "xoxb-live"}, Client: client, APIURL: slackURL, Timeout: time.Second},
			core.NotificationChannelWebhook: &WebhookSender{Client: client, Timeout: time.Second},
		},
		Audit:             recorder,
		DefaultMaxRetries: maxRetries,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return &fixture{dispatcher: dispatcher, store: store, audit: auditStore}
}

func webhookRequest(url string) Request {
	return Request{
		Channel:  core.NotificationChannelWebhook,
		Subject:  "Deploy approval",
		Body:     "Approve the production deploy?",
		Metadata: map[string]any{"url": url},
	}
}

func TestEnqueue_WebhookIsSentInline(t *testing.T) {
	target := newReceiver(t, nil)
	f := newFixture(t, "", 3)

	notification, err := f.dispatcher.Enqueue(context.Background(), tenant, webhookRequest(target.URL))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if notification.Status != core.NotificationStatusSent || notification.ProviderRef != "req-1" {
		t.Fatalf("unexpected notification %+v", notification)
	}
	if target.bodies[0]["notificationId"] != notification.ID {
		t.Fatalf("expected notification document to be posted, got %+v", target.bodies[0])
	}
	if f.audit.Count(tenant, audit.ActionNotificationEnqueued) != 1 || f.audit.Count(tenant, audit.ActionNotificationSent) != 1 {
		t.Fatalf("expected enqueued and sent audit entries")
	}
}

func TestRetry_ResendsFailedNotificationAndClearsError(t *testing.T) {
	target := newReceiver(t, nil)
	target.setStatus(http.StatusInternalServerError)
	f := newFixture(t, "", 3)

	failed, err := f.dispatcher.Enqueue(context.Background(), tenant, webhookRequest(target.URL))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if failed.Status != core.NotificationStatusFailed || failed.LastError == "" {
		t.Fatalf("expected failed notification with error, got %+v", failed)
	}

	target.setStatus(http.StatusOK)
	retried, err := f.dispatcher.Retry(context.Background(), tenant, failed.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.Status != core.NotificationStatusSent || retried.RetryCount != 1 || retried.LastError != "" {
		t.Fatalf("unexpected retried notification %+v", retried)
	}
	if _, err := f.dispatcher.Retry(context.Background(), tenant, failed.ID); !core.IsErrorCode(err, core.ErrorInvalidTransition) {
		t.Fatalf("expected sent notification not to be retryable, got %v", err)
	}
}

func TestRetry_ExhaustionIsTerminal(t *testing.T) {
	target := newReceiver(t, nil)
	target.setStatus(http.StatusBadGateway)
	f := newFixture(t, "", 1)

	notification, err := f.dispatcher.Enqueue(context.Background(), tenant, webhookRequest(target.URL))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	notification, err = f.dispatcher.Retry(context.Background(), tenant, notification.ID)
	if err != nil {
		t.Fatalf("first retry: %v", err)
	}
	if notification.Status != core.NotificationStatusFailed || notification.RetryCount != 1 {
		t.Fatalf("unexpected notification %+v", notification)
	}

	_, err = f.dispatcher.Retry(context.Background(), tenant, notification.ID)
	if !core.IsErrorCode(err, core.ErrorNotificationRetriesExhausted) {
		t.Fatalf("expected NOTIFICATION_RETRIES_EXHAUSTED, got %v", err)
	}
	if f.audit.Count(tenant, audit.ActionNotificationRetriesExhausted) != 1 {
		t.Fatalf("expected retries_exhausted audit entry")
	}
	if got := len(target.bodies); got != 2 {
		t.Fatalf("expected two delivery attempts, got %d", got)
	}
}

func TestUpdateStatus_FollowsLifecycle(t *testing.T) {
	target := newReceiver(t, nil)
	f := newFixture(t, "", 3)
	ctx := context.Background()
	notification, err := f.dispatcher.Enqueue(ctx, tenant, webhookRequest(target.URL))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	bounced, err := f.dispatcher.UpdateStatus(ctx, tenant, notification.ID, core.NotificationStatusBounced, "mailbox full")
	if err != nil {
		t.Fatalf("bounce: %v", err)
	}
	if bounced.LastError != "mailbox full" {
		t.Fatalf("expected bounce reason, got %+v", bounced)
	}
	if _, err := f.dispatcher.UpdateStatus(ctx, tenant, notification.ID, core.NotificationStatusDelivered, ""); !core.IsErrorCode(err, core.ErrorInvalidTransition) {
		t.Fatalf("expected bounced -> delivered to be rejected, got %v", err)
	}
	if _, err := f.dispatcher.UpdateStatus(ctx, tenant, notification.ID, core.NotificationStatusPending, ""); !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected pending not to be reportable, got %v", err)
	}
	if _, err := f.dispatcher.UpdateStatus(ctx, core.MustTenantID("globex"), notification.ID, core.NotificationStatusFailed, ""); !core.IsErrorCode(err, core.ErrorNotFound) {
		t.Fatalf("expected other tenants not to see the notification, got %v", err)
	}
	if f.audit.Count(tenant, audit.ActionNotificationStatus) != 1 {
		t.Fatalf("expected one status audit entry")
	}
}

func TestSlackSender_PostsWithVaultedToken(t *testing.T) {
	slack := newReceiver(t, func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"ts":"1700000000.000100"}`))
	})
	f := newFixture(t, slack.URL, 3)

	notification, err := f.dispatcher.Enqueue(context.Background(), tenant, Request{
		Channel:  core.NotificationChannelSlack,
		Subject:  "Deploy",
		Body:     "Ready to ship",
		Metadata: map[string]any{"channel": "C123"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if notification.Status != core.NotificationStatusSent || notification.ProviderRef != "1700000000.000100" {
		t.Fatalf("unexpected notification %+v", notification)
	}
	if slack.auth[0] != "Bearer xoxb-live" || slack.bodies[0]["channel"] != "C123" {
		t.Fatalf("unexpected slack call %q %+v", slack.auth[0], slack.bodies[0])
	}
}

func TestSlackSender_ApplicationErrorFailsNotification(t *testing.T) {
	slack := newReceiver(t, func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
	})
	f := newFixture(t, slack.URL, 3)
	notification, err := f.dispatcher.Enqueue(context.Background(), tenant, Request{
		Channel:  core.NotificationChannelSlack,
		Body:     "hello",
		Metadata: map[string]any{"channel": "C404"},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if notification.Status != core.NotificationStatusFailed || notification.LastError == "" {
		t.Fatalf("expected failed notification, got %+v", notification)
	}
}

func TestEnqueue_ValidatesChannelMetadata(t *testing.T) {
	f := newFixture(t, "", 3)
	ctx := context.Background()
	cases := []Request{
		{Channel: "sms", Body: "x"},
		{Channel: core.NotificationChannelSlack, Body: "x"},
		{Channel: core.NotificationChannelWebhook, Body: "x", Metadata: map[string]any{"url": "/relative"}},
		{Channel: core.NotificationChannelWebhook, Metadata: map[string]any{"url": "https://example.com/hook"}},
	}
	for i, req := range cases {
		if _, err := f.dispatcher.Enqueue(ctx, tenant, req); !core.IsErrorCode(err, core.ErrorBadInput) {
			t.Fatalf("case %d: expected BAD_INPUT, got %v", i, err)
		}
	}
}

func TestPool_SendsQueuedNotifications(t *testing.T) {
	target := newReceiver(t, nil)
	f := newFixture(t, "", 3)
	if err := f.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	notification, err := f.dispatcher.Enqueue(context.Background(), tenant, webhookRequest(target.URL))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := f.dispatcher.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	stored, err := f.dispatcher.Get(context.Background(), tenant, notification.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != core.NotificationStatusSent {
		t.Fatalf("expected drained notification to be sent, got %s", stored.Status)
	}
}
