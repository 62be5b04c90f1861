package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/transport"
)

// Sender delivers a notification over one channel and returns the
// provider's reference for it, when there is one.
type Sender interface {
	Send(ctx context.Context, notification core.Notification) (string, error)
	Validate(metadata map[string]any) error
}

// TokenSource returns a usable access token for a tenant's provider
// connection, refreshing it when needed.
type TokenSource interface {
	Token(ctx context.Context, tenant core.TenantID, provider core.Provider) (core.OAuthToken, error)
}

// SlackSender posts notifications with chat.postMessage using the tenant's
// vaulted Slack token.
type SlackSender struct {
	Tokens  TokenSource
	Client  *transport.Client
	APIURL  string
	Timeout time.Duration
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

func (s *SlackSender) Validate(metadata map[string]any) error {
	if metadataString(metadata, "channel") == "" {
		return core.NewValidationError("metadata.channel", "is required for slack notifications")
	}
	return nil
}

func (s *SlackSender) Send(ctx context.Context, notification core.Notification) (string, error) {
	token, err := s.Tokens.Token(ctx, notification.TenantID, core.ProviderSlack)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(notification.Body)
	if subject := strings.TrimSpace(notification.Subject); subject != "" {
		text = "*" + subject + "*\n" + text
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token.AccessToken)
	res, err := s.Client.PostJSON(ctx, strings.TrimRight(s.APIURL, "/")+"/chat.postMessage", headers, map[string]any{
		"channel": metadataString(notification.Metadata, "channel"),
		"text":    text,
		"metadata": map[string]any{
			"event_type":    "broker_notification",
			"event_payload": map[string]any{"notification_id": notification.ID},
		},
	}, s.Timeout)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("notify: slack returned %d: %s", res.StatusCode, transport.Snippet(res.Body))
	}
	var body slackResponse
	if err := json.Unmarshal(res.Body, &body); err != nil {
		return "", fmt.Errorf("notify: decode slack response: %w", err)
	}
	if !body.OK {
		return "", fmt.Errorf("notify: slack rejected message: %s", body.Error)
	}
	return body.TS, nil
}

// WebhookSender posts the notification document to metadata.url.
type WebhookSender struct {
	Client  *transport.Client
	Timeout time.Duration
}

func (s *WebhookSender) Validate(metadata map[string]any) error {
	target := metadataString(metadata, "url")
	parsed, err := url.Parse(target)
	if target == "" || err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return core.NewValidationError("metadata.url", "must be an absolute http(s) url")
	}
	return nil
}

func (s *WebhookSender) Send(ctx context.Context, notification core.Notification) (string, error) {
	headers := http.Header{}
	headers.Set("X-Notification-ID", notification.ID)
	headers.Set("X-Tenant-ID", notification.TenantID.String())
	res, err := s.Client.PostJSON(ctx, metadataString(notification.Metadata, "url"), headers, notification, s.Timeout)
	if err != nil {
		return "", err
	}
	if !res.OK() {
		return "", fmt.Errorf("notify: webhook returned %d: %s", res.StatusCode, transport.Snippet(res.Body))
	}
	return res.Headers.Get("X-Request-ID"), nil
}

func metadataString(metadata map[string]any, key string) string {
	value, _ := metadata[key].(string)
	return strings.TrimSpace(value)
}

var (
	_ Sender = (*SlackSender)(nil)
	_ Sender = (*WebhookSender)(nil)
)
