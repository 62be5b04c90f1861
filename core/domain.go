package core

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	EventSchemaVersion        = "1.0"
	NotificationSchemaVersion = "1.0"
)

var (
	ErrUnknownProvider                     = errors.New("core: unknown provider")
	ErrInvalidNotificationStatusTransition = errors.New("core: invalid notification status transition")
	ErrInvalidDispatchStatus               = errors.New("core: invalid dispatch status")
)

// Provider identifies one of the supported third-party integrations.
type Provider string

const (
	ProviderSlack  Provider = "slack"
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
	ProviderJira   Provider = "jira"
)

var supportedProviders = []Provider{ProviderSlack, ProviderGitHub, ProviderGoogle, ProviderJira}

// redeliveryHorizons are the longest windows during which each provider may
// re-send a delivery, automatically or through its redelivery console.
var redeliveryHorizons = map[Provider]time.Duration{
	ProviderSlack:  time.Hour,
	ProviderGitHub: 3 * 24 * time.Hour,
	ProviderGoogle: 7 * 24 * time.Hour,
	ProviderJira:   24 * time.Hour,
}

func SupportedProviders() []Provider {
	return slices.Clone(supportedProviders)
}

func ParseProvider(raw string) (Provider, error) {
	provider := Provider(strings.ToLower(strings.TrimSpace(raw)))
	if !slices.Contains(supportedProviders, provider) {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, raw)
	}
	return provider, nil
}

func (p Provider) String() string {
	return string(p)
}

func (p Provider) Valid() bool {
	return slices.Contains(supportedProviders, p)
}

func (p Provider) RedeliveryHorizon() time.Duration {
	return redeliveryHorizons[p]
}

// MaxRedeliveryHorizon is the longest redelivery window across all providers.
func MaxRedeliveryHorizon() time.Duration {
	var horizon time.Duration
	for _, provider := range supportedProviders {
		horizon = max(horizon, provider.RedeliveryHorizon())
	}
	return horizon
}

type OAuthToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scopes       []string
}

func (t OAuthToken) Expired(now time.Time, leeway time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(leeway).Before(t.ExpiresAt)
}

// OAuthCredential is the decrypted credential. Only the credential vault
// produces it.
type OAuthCredential struct {
	TenantID  TenantID
	Provider  Provider
	Token     OAuthToken
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EncryptedCredential is the at-rest form of an OAuthCredential.
type EncryptedCredential struct {
	TenantID      TenantID
	Provider      Provider
	AccessToken   []byte
	RefreshToken  []byte
	TokenType     string
	ExpiresAt     time.Time
	Scopes        []string
	EncryptionKey string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type OAuthState struct {
	State     string
	TenantID  TenantID
	Provider  Provider
	Scopes    []string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type WebhookSecret struct {
	TenantID  TenantID
	Provider  Provider
	Secret    []byte
	AccountID string
	CreatedAt time.Time
	RotatedAt time.Time
}

type EncryptedWebhookSecret struct {
	TenantID  TenantID
	Provider  Provider
	Secret    []byte
	AccountID string
	CreatedAt time.Time
	RotatedAt time.Time
}

type EventActor struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

type EventResource struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

// NormalizedEvent is the canonical representation of a provider webhook.
// Values are immutable once persisted.
type NormalizedEvent struct {
	SchemaVersion string            `json:"schemaVersion"`
	EventID       string            `json:"eventId"`
	TenantID      TenantID          `json:"tenantId"`
	Provider      Provider          `json:"provider"`
	DeliveryID    string            `json:"deliveryId"`
	EventType     string            `json:"eventType"`
	TriggerType   string            `json:"triggerType"`
	OccurredAt    time.Time         `json:"occurredAt,omitzero"`
	Actor         EventActor        `json:"actor"`
	Resource      EventResource     `json:"resource"`
	Raw           map[string]any    `json:"raw"`
	Labels        map[string]string `json:"labels"`
	CreatedAt     time.Time         `json:"createdAt,omitzero"`
}

type ReplayDecision string

const (
	ReplayAdmitted ReplayDecision = "admitted"
	ReplayRejected ReplayDecision = "rejected"
)

type ReplayGuardRecord struct {
	TenantID   TenantID
	DeliveryID string
	Provider   Provider
	CreatedAt  time.Time
}

// WildcardEventType matches every event type of a subscription's provider.
const WildcardEventType = "*"

type Subscription struct {
	ID        string    `json:"id"`
	TenantID  TenantID  `json:"tenantId"`
	Provider  Provider  `json:"provider"`
	EventType string    `json:"eventType"`
	Target    string    `json:"target"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (s Subscription) Matches(provider Provider, eventType string) bool {
	if s.Provider != provider {
		return false
	}
	return s.EventType == WildcardEventType || strings.EqualFold(s.EventType, eventType)
}

type NotificationStatus string

const (
	NotificationStatusPending   NotificationStatus = "pending"
	NotificationStatusSent      NotificationStatus = "sent"
	NotificationStatusDelivered NotificationStatus = "delivered"
	NotificationStatusFailed    NotificationStatus = "failed"
	NotificationStatusBounced   NotificationStatus = "bounced"
)

var notificationTransitions = map[NotificationStatus][]NotificationStatus{
	NotificationStatusPending: {NotificationStatusSent, NotificationStatusFailed},
	NotificationStatusSent:    {NotificationStatusDelivered, NotificationStatusFailed, NotificationStatusBounced},
	NotificationStatusFailed:  {NotificationStatusPending},
	NotificationStatusBounced: {NotificationStatusPending},
}

func ParseNotificationStatus(raw string) (NotificationStatus, error) {
	status := NotificationStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case NotificationStatusPending, NotificationStatusSent, NotificationStatusDelivered,
		NotificationStatusFailed, NotificationStatusBounced:
		return status, nil
	}
	return "", fmt.Errorf("core: unknown notification status %q", raw)
}

func (s NotificationStatus) CanTransitionTo(next NotificationStatus) bool {
	return slices.Contains(notificationTransitions[s], next)
}

func (s NotificationStatus) Retryable() bool {
	return s == NotificationStatusFailed || s == NotificationStatusBounced
}

func ValidateNotificationTransition(from NotificationStatus, to NotificationStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidNotificationStatusTransition, from, to)
	}
	return nil
}

type NotificationChannel string

const (
	NotificationChannelSlack   NotificationChannel = "slack"
	NotificationChannelWebhook NotificationChannel = "webhook"
)

type Notification struct {
	SchemaVersion string              `json:"schemaVersion"`
	ID            string              `json:"notificationId"`
	TenantID      TenantID            `json:"tenantId"`
	Channel       NotificationChannel `json:"channel"`
	Subject       string              `json:"subject"`
	Body          string              `json:"body"`
	Status        NotificationStatus  `json:"status"`
	Metadata      map[string]any      `json:"metadata"`
	RetryCount    int                 `json:"retryCount"`
	MaxRetries    int                 `json:"maxRetries"`
	LastError     string              `json:"lastError,omitempty"`
	ProviderRef   string              `json:"providerRef,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt"`
}

type AuditLogEntry struct {
	ID        string         `json:"id"`
	TenantID  TenantID       `json:"tenantId"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"createdAt"`
}

type DispatchStatus string

const (
	DispatchStatusPending     DispatchStatus = "pending"
	DispatchStatusDispatching DispatchStatus = "dispatching"
	DispatchStatusAccepted    DispatchStatus = "accepted"
	DispatchStatusQueued      DispatchStatus = "queued"
	DispatchStatusFailed      DispatchStatus = "failed"
	DispatchStatusUnrouted    DispatchStatus = "unrouted"
)

// Claimable reports whether a record in this status may be picked up for a
// dispatch pass.
func (s DispatchStatus) Claimable() bool {
	return s == DispatchStatusPending || s == DispatchStatusQueued || s == DispatchStatusDispatching
}

type DispatchRecord struct {
	ID             string         `json:"id"`
	TenantID       TenantID       `json:"tenantId"`
	EventID        string         `json:"eventId"`
	Provider       Provider       `json:"provider"`
	EventType      string         `json:"eventType"`
	Status         DispatchStatus `json:"status"`
	Attempts       int            `json:"attempts"`
	CorrelationID  string         `json:"correlationId"`
	Targets        []string       `json:"targets"`
	LastError      string         `json:"lastError,omitempty"`
	LastStatusCode int            `json:"lastStatusCode,omitempty"`
	NextAttemptAt  time.Time      `json:"nextAttemptAt"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

type DispatchOutcome string

const (
	DispatchOutcomeAccepted    DispatchOutcome = "accepted"
	DispatchOutcomeRetry       DispatchOutcome = "retry"
	DispatchOutcomeFailed      DispatchOutcome = "failed"
	DispatchOutcomeCircuitOpen DispatchOutcome = "circuit_open"
)

type DispatchAttempt struct {
	ID            string          `json:"id"`
	TenantID      TenantID        `json:"tenantId"`
	DispatchID    string          `json:"dispatchId"`
	EventID       string          `json:"eventId"`
	Attempt       int             `json:"attempt"`
	CorrelationID string          `json:"correlationId"`
	Outcome       DispatchOutcome `json:"outcome"`
	StatusCode    int             `json:"statusCode,omitempty"`
	Error         string          `json:"error,omitempty"`
	DurationMS    int64           `json:"durationMs"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// DispatchRef points at a dispatch record without carrying its payload.
type DispatchRef struct {
	TenantID   TenantID
	DispatchID string
	EventID    string
}

type EventFilter struct {
	Provider  Provider
	EventType string
	Limit     int
	Offset    int
}

type EventPage struct {
	Items []NormalizedEvent `json:"items"`
	Total int               `json:"total"`
}

type AuditFilter struct {
	Action string
	Limit  int
	Offset int
}

type AuditPage struct {
	Items []AuditLogEntry `json:"items"`
	Total int             `json:"total"`
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

func NormalizePage(limit int, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// IntegrationStatus summarizes one provider for a tenant without exposing
// credential material.
type IntegrationStatus struct {
	Provider                Provider  `json:"provider"`
	OAuthConfigured         bool      `json:"oauthConfigured"`
	Connected               bool      `json:"connected"`
	Scopes                  []string  `json:"scopes"`
	ExpiresAt               time.Time `json:"expiresAt,omitzero"`
	WebhookSecretConfigured bool      `json:"webhookSecretConfigured"`
	WebhookSecretRotatedAt  time.Time `json:"webhookSecretRotatedAt,omitzero"`
}

// RotatedWebhookSecret reports a secret rotation. Secret is set only when the
// broker generated the value, and is returned exactly once.
type RotatedWebhookSecret struct {
	Provider  Provider  `json:"provider"`
	AccountID string    `json:"accountId,omitempty"`
	RotatedAt time.Time `json:"rotatedAt"`
	Secret    string    `json:"secret,omitempty"`
}
