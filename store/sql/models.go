package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type oauthTokenRecord struct {
	bun.BaseModel `bun:"table:oauth_tokens,alias:ot"`

	ID            string     `bun:"id,pk"`
	TenantID      string     `bun:"tenant_id,notnull"`
	Provider      string     `bun:"provider,notnull"`
	AccessToken   []byte     `bun:"access_token,notnull"`
	RefreshToken  []byte     `bun:"refresh_token"`
	TokenType     string     `bun:"token_type,notnull"`
	ExpiresAt     *time.Time `bun:"expires_at,nullzero"`
	Scopes        []string   `bun:"scopes,type:jsonb,notnull"`
	EncryptionKey string     `bun:"encryption_key,notnull"`
	CreatedAt     time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type oauthStateRecord struct {
	bun.BaseModel `bun:"table:oauth_states,alias:os"`

	State     string    `bun:"state,pk"`
	TenantID  string    `bun:"tenant_id,notnull"`
	Provider  string    `bun:"provider,notnull"`
	Scopes    []string  `bun:"scopes,type:jsonb,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	ExpiresAt time.Time `bun:"expires_at,notnull"`
}

type webhookSecretRecord struct {
	bun.BaseModel `bun:"table:webhook_secrets,alias:ws"`

	ID        string    `bun:"id,pk"`
	TenantID  string    `bun:"tenant_id,notnull"`
	Provider  string    `bun:"provider,notnull"`
	Secret    []byte    `bun:"secret,notnull"`
	AccountID *string   `bun:"account_id"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	RotatedAt time.Time `bun:"rotated_at,nullzero,notnull,default:current_timestamp"`
}

type subscriptionRecord struct {
	bun.BaseModel `bun:"table:subscriptions,alias:sub"`

	ID        string    `bun:"id,pk"`
	TenantID  string    `bun:"tenant_id,notnull"`
	Provider  string    `bun:"provider,notnull"`
	EventType string    `bun:"event_type,notnull"`
	Target    string    `bun:"target,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type eventRecord struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID            string            `bun:"id,pk"`
	TenantID      string            `bun:"tenant_id,notnull"`
	SchemaVersion string            `bun:"schema_version,notnull"`
	Provider      string            `bun:"provider,notnull"`
	DeliveryID    string            `bun:"delivery_id,notnull"`
	EventType     string            `bun:"event_type,notnull"`
	TriggerType   string            `bun:"trigger_type,notnull"`
	OccurredAt    time.Time         `bun:"occurred_at,notnull"`
	Actor         map[string]any    `bun:"actor,type:jsonb,notnull"`
	Resource      map[string]any    `bun:"resource,type:jsonb,notnull"`
	Raw           map[string]any    `bun:"raw,type:jsonb,notnull"`
	Labels        map[string]string `bun:"labels,type:jsonb,notnull"`
	CreatedAt     time.Time         `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type dispatchRecord struct {
	bun.BaseModel `bun:"table:dispatches,alias:dp"`

	ID             string     `bun:"id,pk"`
	TenantID       string     `bun:"tenant_id,notnull"`
	EventID        string     `bun:"event_id,notnull"`
	Provider       string     `bun:"provider,notnull"`
	EventType      string     `bun:"event_type,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	CorrelationID  string     `bun:"correlation_id,notnull"`
	Targets        []string   `bun:"targets,type:jsonb,notnull"`
	LastError      string     `bun:"last_error,notnull"`
	LastStatusCode int        `bun:"last_status_code,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type dispatchAttemptRecord struct {
	bun.BaseModel `bun:"table:dispatch_attempts,alias:da"`

	ID            string    `bun:"id,pk"`
	TenantID      string    `bun:"tenant_id,notnull"`
	DispatchID    string    `bun:"dispatch_id,notnull"`
	EventID       string    `bun:"event_id,notnull"`
	Attempt       int       `bun:"attempt,notnull"`
	CorrelationID string    `bun:"correlation_id,notnull"`
	Outcome       string    `bun:"outcome,notnull"`
	StatusCode    int       `bun:"status_code,notnull"`
	Error         string    `bun:"error,notnull"`
	DurationMS    int64     `bun:"duration_ms,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type notificationRecord struct {
	bun.BaseModel `bun:"table:notifications,alias:nt"`

	ID            string         `bun:"id,pk"`
	TenantID      string         `bun:"tenant_id,notnull"`
	SchemaVersion string         `bun:"schema_version,notnull"`
	Channel       string         `bun:"channel,notnull"`
	Subject       string         `bun:"subject,notnull"`
	Body          string         `bun:"body,notnull"`
	Status        string         `bun:"status,notnull"`
	Metadata      map[string]any `bun:"metadata,type:jsonb,notnull"`
	RetryCount    int            `bun:"retry_count,notnull"`
	MaxRetries    int            `bun:"max_retries,notnull"`
	LastError     string         `bun:"last_error,notnull"`
	ProviderRef   string         `bun:"provider_ref,notnull"`
	CreatedAt     time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditLogRecord struct {
	bun.BaseModel `bun:"table:audit_logs,alias:al"`

	ID        string         `bun:"id,pk"`
	TenantID  string         `bun:"tenant_id,notnull"`
	Action    string         `bun:"action,notnull"`
	Details   map[string]any `bun:"details,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type replayGuardRecord struct {
	bun.BaseModel `bun:"table:replay_guard,alias:rg"`

	TenantID   string    `bun:"tenant_id,pk"`
	DeliveryID string    `bun:"delivery_id,pk"`
	Provider   string    `bun:"provider,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
