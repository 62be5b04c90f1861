package core

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

type HTTPConfig struct {
	Addr            string        `koanf:"addr" mapstructure:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes" mapstructure:"max_body_bytes"`
	TenantHeader    string        `koanf:"tenant_header" mapstructure:"tenant_header"`
}

type DatabaseConfig struct {
	Driver      string        `koanf:"driver" mapstructure:"driver"`
	DSN         string        `koanf:"dsn" mapstructure:"dsn"`
	Debug       bool          `koanf:"debug" mapstructure:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout" mapstructure:"ping_timeout"`
	AutoMigrate bool          `koanf:"auto_migrate" mapstructure:"auto_migrate"`
}

type SecurityConfig struct {
	// EncryptionKey protects credentials at rest. Raw, hex or base64 (std or
	// url) encodings are accepted.
	EncryptionKey         string `koanf:"encryption_key" mapstructure:"encryption_key"`
	KeyID                 string `koanf:"key_id" mapstructure:"key_id"`
	PreviousEncryptionKey string `koanf:"previous_encryption_key" mapstructure:"previous_encryption_key"`
	PreviousKeyID         string `koanf:"previous_key_id" mapstructure:"previous_key_id"`
}

type ProviderConfig struct {
	ClientID      string   `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret  string   `koanf:"client_secret" mapstructure:"client_secret"`
	RedirectURL   string   `koanf:"redirect_url" mapstructure:"redirect_url"`
	Scopes        []string `koanf:"scopes" mapstructure:"scopes"`
	AuthURL       string   `koanf:"auth_url" mapstructure:"auth_url"`
	TokenURL      string   `koanf:"token_url" mapstructure:"token_url"`
	WebhookSecret string   `koanf:"webhook_secret" mapstructure:"webhook_secret"`
}

func (c ProviderConfig) OAuthConfigured() bool {
	return strings.TrimSpace(c.ClientID) != "" && strings.TrimSpace(c.ClientSecret) != ""
}

type WebhookConfig struct {
	TimestampSkew   time.Duration `koanf:"timestamp_skew" mapstructure:"timestamp_skew"`
	SecretCacheTTL  time.Duration `koanf:"secret_cache_ttl" mapstructure:"secret_cache_ttl"`
	BootstrapTenant string        `koanf:"bootstrap_tenant" mapstructure:"bootstrap_tenant"`
}

type ReplayConfig struct {
	Retention     time.Duration `koanf:"retention" mapstructure:"retention"`
	PruneInterval time.Duration `koanf:"prune_interval" mapstructure:"prune_interval"`
}

type OAuthConfig struct {
	StateTTL             time.Duration `koanf:"state_ttl" mapstructure:"state_ttl"`
	ExchangeTimeout      time.Duration `koanf:"exchange_timeout" mapstructure:"exchange_timeout"`
	ExchangeRetryBackoff time.Duration `koanf:"exchange_retry_backoff" mapstructure:"exchange_retry_backoff"`
}

type OrchestratorConfig struct {
	BaseURL          string        `koanf:"base_url" mapstructure:"base_url"`
	Timeout          time.Duration `koanf:"timeout" mapstructure:"timeout"`
	MaxAttempts      int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff   time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff       time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	FailureThreshold int           `koanf:"failure_threshold" mapstructure:"failure_threshold"`
	CoolDown         time.Duration `koanf:"cool_down" mapstructure:"cool_down"`
	MaxCoolDown      time.Duration `koanf:"max_cool_down" mapstructure:"max_cool_down"`
	Workers          int           `koanf:"workers" mapstructure:"workers"`
	QueueSize        int           `koanf:"queue_size" mapstructure:"queue_size"`
	SweepInterval    time.Duration `koanf:"sweep_interval" mapstructure:"sweep_interval"`
	Lease            time.Duration `koanf:"lease" mapstructure:"lease"`
}

type NotificationConfig struct {
	DefaultMaxRetries int           `koanf:"default_max_retries" mapstructure:"default_max_retries"`
	Timeout           time.Duration `koanf:"timeout" mapstructure:"timeout"`
	SlackAPIURL       string        `koanf:"slack_api_url" mapstructure:"slack_api_url"`
	Workers           int           `koanf:"workers" mapstructure:"workers"`
	QueueSize         int           `koanf:"queue_size" mapstructure:"queue_size"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `koanf:"burst" mapstructure:"burst"`
	// WebhookRequestsPerSecond and WebhookBurst bound all unauthenticated
	// deliveries of one provider, whatever tenant hint they carry.
	WebhookRequestsPerSecond float64       `koanf:"webhook_requests_per_second" mapstructure:"webhook_requests_per_second"`
	WebhookBurst             int           `koanf:"webhook_burst" mapstructure:"webhook_burst"`
	FlushInterval            time.Duration `koanf:"flush_interval" mapstructure:"flush_interval"`
	IdleTTL                  time.Duration `koanf:"idle_ttl" mapstructure:"idle_ttl"`
}

type Config struct {
	ServiceName   string                    `koanf:"service_name" mapstructure:"service_name"`
	HTTP          HTTPConfig                `koanf:"http" mapstructure:"http"`
	Database      DatabaseConfig            `koanf:"database" mapstructure:"database"`
	Security      SecurityConfig            `koanf:"security" mapstructure:"security"`
	Providers     map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
	Webhooks      WebhookConfig             `koanf:"webhooks" mapstructure:"webhooks"`
	Replay        ReplayConfig              `koanf:"replay" mapstructure:"replay"`
	OAuth         OAuthConfig               `koanf:"oauth" mapstructure:"oauth"`
	Orchestrator  OrchestratorConfig        `koanf:"orchestrator" mapstructure:"orchestrator"`
	Notifications NotificationConfig        `koanf:"notifications" mapstructure:"notifications"`
	RateLimit     RateLimitConfig           `koanf:"rate_limit" mapstructure:"rate_limit"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "integration-broker",
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			MaxBodyBytes:    1 << 20,
			TenantHeader:    "X-Tenant-ID",
		},
		Database: DatabaseConfig{
			Driver:      "sqlite3",
			DSN:         "file:broker.db?cache=shared&_foreign_keys=on",
			PingTimeout: 5 * time.Second,
			AutoMigrate: true,
		},
		Security: SecurityConfig{
			KeyID:         "broker",
			PreviousKeyID: "broker-previous",
		},
		Providers: map[string]ProviderConfig{},
		Webhooks: WebhookConfig{
			TimestampSkew:  5 * time.Minute,
			SecretCacheTTL: 30 * time.Second,
		},
		Replay: ReplayConfig{
			Retention:     8 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		OAuth: OAuthConfig{
			StateTTL:             10 * time.Minute,
			ExchangeTimeout:      10 * time.Second,
			ExchangeRetryBackoff: 500 * time.Millisecond,
		},
		Orchestrator: OrchestratorConfig{
			Timeout:          5 * time.Second,
			MaxAttempts:      3,
			InitialBackoff:   200 * time.Millisecond,
			MaxBackoff:       5 * time.Second,
			FailureThreshold: 5,
			CoolDown:         30 * time.Second,
			MaxCoolDown:      10 * time.Minute,
			Workers:          4,
			QueueSize:        256,
			SweepInterval:    30 * time.Second,
			Lease:            time.Minute,
		},
		Notifications: NotificationConfig{
			DefaultMaxRetries: 3,
			Timeout:           10 * time.Second,
			SlackAPIURL:       "https://slack.com/api",
			Workers:           2,
			QueueSize:         128,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:        10,
			Burst:                    20,
			WebhookRequestsPerSecond: 100,
			WebhookBurst:             200,
			FlushInterval:            time.Minute,
			IdleTTL:                  10 * time.Minute,
		},
	}
}

// Provider returns the configuration of one provider, or the zero value.
func (c Config) Provider(provider Provider) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[provider.String()]
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.HTTP.TenantHeader) == "" {
		return fmt.Errorf("core: http.tenant_header is required")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("core: http.max_body_bytes must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("core: unsupported database.driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("core: database.dsn is required")
	}
	if _, err := DecodeEncryptionKey(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("core: security.encryption_key: %w", err)
	}
	if strings.TrimSpace(c.Security.PreviousEncryptionKey) != "" {
		if _, err := DecodeEncryptionKey(c.Security.PreviousEncryptionKey); err != nil {
			return fmt.Errorf("core: security.previous_encryption_key: %w", err)
		}
	}
	for name := range c.Providers {
		if _, err := ParseProvider(name); err != nil {
			return fmt.Errorf("core: providers.%s: %w", name, err)
		}
	}
	if err := validateAbsoluteURL(c.Orchestrator.BaseURL); err != nil {
		return fmt.Errorf("core: orchestrator.base_url: %w", err)
	}
	if c.Webhooks.TimestampSkew <= 0 {
		return fmt.Errorf("core: webhooks.timestamp_skew must be positive")
	}
	if bootstrap := strings.TrimSpace(c.Webhooks.BootstrapTenant); bootstrap != "" {
		if _, err := ParseTenantID(bootstrap); err != nil {
			return fmt.Errorf("core: webhooks.bootstrap_tenant: %w", err)
		}
	}
	if horizon := MaxRedeliveryHorizon(); c.Replay.Retention <= horizon {
		return fmt.Errorf("core: replay.retention %s must exceed the longest provider redelivery horizon %s", c.Replay.Retention, horizon)
	}
	if c.OAuth.StateTTL <= 0 || c.OAuth.ExchangeTimeout <= 0 {
		return fmt.Errorf("core: oauth.state_ttl and oauth.exchange_timeout must be positive")
	}
	o := c.Orchestrator
	if o.Timeout <= 0 || o.MaxAttempts <= 0 || o.InitialBackoff <= 0 || o.FailureThreshold <= 0 || o.CoolDown <= 0 {
		return fmt.Errorf("core: orchestrator timeout, max_attempts, initial_backoff, failure_threshold and cool_down must be positive")
	}
	if o.MaxCoolDown < o.CoolDown {
		return fmt.Errorf("core: orchestrator.max_cool_down must not be shorter than cool_down")
	}
	if c.Notifications.DefaultMaxRetries < 0 || c.Notifications.Timeout <= 0 {
		return fmt.Errorf("core: notifications.default_max_retries must not be negative and timeout must be positive")
	}
	if c.RateLimit.WebhookRequestsPerSecond < 0 || c.RateLimit.WebhookBurst < 0 {
		return fmt.Errorf("core: rate_limit.webhook_requests_per_second and webhook_burst must not be negative")
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("core: rate_limit.requests_per_second and burst must be positive")
	}
	return nil
}

// RawKeyPrefix marks an encryption key given as a passphrase rather than
// encoded key bytes.
const RawKeyPrefix = "raw:"

// DecodeEncryptionKey accepts hex or base64 (std or url) encoded 16, 24 or
// 32 byte keys. Passphrases must carry RawKeyPrefix so a mistyped encoded
// key fails instead of being used as a passphrase.
func DecodeEncryptionKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	if passphrase, ok := strings.CutPrefix(raw, RawKeyPrefix); ok {
		if len(passphrase) < 16 {
			return nil, fmt.Errorf("encryption key passphrase must be at least 16 bytes")
		}
		return []byte(passphrase), nil
	}
	if decoded, err := hex.DecodeString(raw); err == nil && validKeyLength(len(decoded)) {
		return decoded, nil
	}
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := encoding.DecodeString(raw); err == nil && validKeyLength(len(decoded)) {
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("encryption key must be hex or base64 encoding of 16, 24 or 32 bytes, or a %q passphrase", RawKeyPrefix)
}

func validKeyLength(n int) bool {
	return n == 16 || n == 24 || n == 32
}

func validateAbsoluteURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("must be an absolute http(s) url")
	}
	if parsed.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
