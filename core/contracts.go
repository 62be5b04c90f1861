package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Every tenant-scoped store method takes the tenant as its first argument
// after the context. Implementations must filter every statement by it.

type CredentialStore interface {
	Upsert(ctx context.Context, tenant TenantID, credential EncryptedCredential) (EncryptedCredential, error)
	Get(ctx context.Context, tenant TenantID, provider Provider) (EncryptedCredential, error)
	List(ctx context.Context, tenant TenantID) ([]EncryptedCredential, error)
}

type OAuthStateStore interface {
	Save(ctx context.Context, tenant TenantID, state OAuthState) error
	// Consume removes and returns the state. A second call for the same value
	// fails regardless of the outcome of the first caller's flow.
	Consume(ctx context.Context, tenant TenantID, provider Provider, state string) (OAuthState, error)
}

type WebhookSecretStore interface {
	Put(ctx context.Context, tenant TenantID, secret EncryptedWebhookSecret) (EncryptedWebhookSecret, error)
	Get(ctx context.Context, tenant TenantID, provider Provider) (EncryptedWebhookSecret, error)
	List(ctx context.Context, tenant TenantID) ([]EncryptedWebhookSecret, error)
}

// WebhookSecretCandidateSource lists every tenant's secret for one provider.
// It is used only to attribute an unauthenticated webhook to a tenant by
// signature match and must not be reachable from tenant-scoped read paths.
type WebhookSecretCandidateSource interface {
	CandidatesForProvider(ctx context.Context, provider Provider) ([]EncryptedWebhookSecret, error)
}

type ReplayGuardStore interface {
	// Insert reports false when a record for (tenant, deliveryID) exists.
	Insert(ctx context.Context, tenant TenantID, record ReplayGuardRecord) (bool, error)
	Delete(ctx context.Context, tenant TenantID, deliveryID string) error
}

type ReplayGuardPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, tenant TenantID, subscription Subscription) (Subscription, error)
	Get(ctx context.Context, tenant TenantID, id string) (Subscription, error)
	List(ctx context.Context, tenant TenantID) ([]Subscription, error)
	ListForProvider(ctx context.Context, tenant TenantID, provider Provider) ([]Subscription, error)
	Delete(ctx context.Context, tenant TenantID, id string) error
}

type EventStore interface {
	// Append stores the event once. When an event with the same id exists the
	// stored event is returned with created=false.
	Append(ctx context.Context, tenant TenantID, event NormalizedEvent) (stored NormalizedEvent, created bool, err error)
	Get(ctx context.Context, tenant TenantID, eventID string) (NormalizedEvent, error)
	List(ctx context.Context, tenant TenantID, filter EventFilter) (EventPage, error)
}

type DispatchStore interface {
	// Create is idempotent per (tenant, event): it returns the existing record
	// when one was already created for the event.
	Create(ctx context.Context, tenant TenantID, record DispatchRecord) (DispatchRecord, error)
	Get(ctx context.Context, tenant TenantID, id string) (DispatchRecord, error)
	GetByEvent(ctx context.Context, tenant TenantID, eventID string) (DispatchRecord, error)
	// Claim moves a claimable record whose next attempt is due into the
	// dispatching status with a lease ending at leaseUntil. It reports false
	// when another worker holds the record or it is not due.
	Claim(ctx context.Context, tenant TenantID, id string, now time.Time, leaseUntil time.Time) (DispatchRecord, bool, error)
	Update(ctx context.Context, tenant TenantID, record DispatchRecord) (DispatchRecord, error)
	RecordAttempt(ctx context.Context, tenant TenantID, attempt DispatchAttempt) error
	ListAttempts(ctx context.Context, tenant TenantID, dispatchID string) ([]DispatchAttempt, error)
}

// DueDispatchSource finds records ready for redelivery. It returns references
// only; records are loaded through the tenant-scoped DispatchStore.
type DueDispatchSource interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]DispatchRef, error)
}

type NotificationStore interface {
	Create(ctx context.Context, tenant TenantID, notification Notification) (Notification, error)
	Get(ctx context.Context, tenant TenantID, id string) (Notification, error)
	// Update persists notification only when the stored status still equals
	// expected, returning INVALID_TRANSITION otherwise.
	Update(ctx context.Context, tenant TenantID, notification Notification, expected NotificationStatus) (Notification, error)
}

type AuditStore interface {
	Append(ctx context.Context, tenant TenantID, entry AuditLogEntry) (AuditLogEntry, error)
	List(ctx context.Context, tenant TenantID, filter AuditFilter) (AuditPage, error)
}

// AuditRecorder is the write side of the audit log used by components.
type AuditRecorder interface {
	Record(ctx context.Context, tenant TenantID, action string, details map[string]any) error
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// RedeliveryQueue schedules dispatch records on an external job queue.
type RedeliveryQueue interface {
	EnqueueRedelivery(ctx context.Context, ref DispatchRef) error
}
