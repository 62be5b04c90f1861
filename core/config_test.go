package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Security.EncryptionKey = testEncryptionKey
	cfg.Orchestrator.BaseURL = "http://orchestrator.local"
	return cfg
}

func TestConfigValidate(t *testing.T) {
	if err := validTestConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing encryption key", func(c *Config) { c.Security.EncryptionKey = "" }, "encryption_key"},
		{"short encryption key", func(c *Config) { c.Security.EncryptionKey = "short" }, "encryption_key"},
		{"missing orchestrator", func(c *Config) { c.Orchestrator.BaseURL = "" }, "orchestrator.base_url"},
		{"relative orchestrator", func(c *Config) { c.Orchestrator.BaseURL = "/v1" }, "orchestrator.base_url"},
		{"retention below horizon", func(c *Config) { c.Replay.Retention = 24 * time.Hour }, "replay.retention"},
		{"unknown provider", func(c *Config) { c.Providers["bitbucket"] = ProviderConfig{} }, "providers.bitbucket"},
		{"bad bootstrap tenant", func(c *Config) { c.Webhooks.BootstrapTenant = "bad tenant" }, "bootstrap_tenant"},
		{"cool down bounds", func(c *Config) { c.Orchestrator.MaxCoolDown = time.Second }, "max_cool_down"},
		{"rate limit", func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Providers = map[string]ProviderConfig{}
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeEncryptionKey(t *testing.T) {
	hexKey, err := DecodeEncryptionKey(strings.Repeat("ab", 32))
	if err != nil || len(hexKey) != 32 {
		t.Fatalf("expected 32 byte hex key, got %d bytes err=%v", len(hexKey), err)
	}
	b64Key, err := DecodeEncryptionKey("MDEyMzQ1Njc4OWFiY2RlZg==")
	if err != nil || len(b64Key) != 16 {
		t.Fatalf("expected 16 byte base64 key, got %d bytes err=%v", len(b64Key), err)
	}
	raw, err := DecodeEncryptionKey("raw:a passphrase that is long enough")
	if err != nil || string(raw) != "a passphrase that is long enough" {
		t.Fatalf("expected raw passphrase, got %q err=%v", raw, err)
	}
	if _, err := DecodeEncryptionKey("  "); err == nil {
		t.Fatalf("expected empty key to fail")
	}
}

func TestDecodeEncryptionKeyRejectsUnmarkedOrMistypedKeys(t *testing.T) {
	for _, key := range []string{
		"a passphrase that is long enough",
		"00112233445566778899aabbccddeeff00112233445566778899aabbccddeefg",
		"00112233445566778899aabbccddeeff00112233445566778899aabbccddeef",
		"raw:too short",
	} {
		if decoded, err := DecodeEncryptionKey(key); err == nil {
			t.Fatalf("expected %q to be rejected, got %d bytes", key, len(decoded))
		}
	}
}

func TestEnvConfigLoaderCoercesTypedValues(t *testing.T) {
	loader := EnvConfigLoader{
		Prefix: "BROKER_",
		Environ: func() []string {
			return []string{
				"BROKER_ORCHESTRATOR__BASE_URL=https://orchestrator.example",
				"BROKER_ORCHESTRATOR__MAX_ATTEMPTS=7",
				"BROKER_ORCHESTRATOR__COOL_DOWN=45s",
				"BROKER_DATABASE__AUTO_MIGRATE=false",
				"BROKER_RATE_LIMIT__REQUESTS_PER_SECOND=2.5",
				"BROKER_PROVIDERS__SLACK__SCOPES=chat:write, channels:read",
				"BROKER_PROVIDERS__SLACK__CLIENT_ID=slack-client",
				"BROKER_UNKNOWN__KEY=ignored",
				"PATH=/usr/bin",
			}
		},
	}
	raw, err := loader.LoadRaw(context.Background())
	if err != nil {
		t.Fatalf("load raw: %v", err)
	}
	orchestrator := raw["orchestrator"].(map[string]any)
	if orchestrator["base_url"] != "https://orchestrator.example" {
		t.Fatalf("unexpected base url: %#v", orchestrator["base_url"])
	}
	if orchestrator["max_attempts"] != 7 {
		t.Fatalf("expected int coercion, got %#v", orchestrator["max_attempts"])
	}
	if orchestrator["cool_down"] != 45*time.Second {
		t.Fatalf("expected duration coercion, got %#v", orchestrator["cool_down"])
	}
	if raw["database"].(map[string]any)["auto_migrate"] != false {
		t.Fatalf("expected bool coercion")
	}
	if raw["rate_limit"].(map[string]any)["requests_per_second"] != 2.5 {
		t.Fatalf("expected float coercion")
	}
	slack := raw["providers"].(map[string]any)["slack"].(map[string]any)
	scopes := slack["scopes"].([]string)
	if len(scopes) != 2 || scopes[1] != "channels:read" {
		t.Fatalf("unexpected scopes: %#v", scopes)
	}
	if _, ok := raw["unknown"]; ok {
		t.Fatalf("expected unknown keys to be ignored")
	}
}

func TestEnvConfigLoaderRejectsMalformedValues(t *testing.T) {
	loader := EnvConfigLoader{Environ: func() []string {
		return []string{"BROKER_ORCHESTRATOR__TIMEOUT=soon"}
	}}
	if _, err := loader.LoadRaw(context.Background()); err == nil {
		t.Fatalf("expected malformed duration to fail")
	}
}

func TestLoadConfigRuntimeOverridesEnvironment(t *testing.T) {
	env := StaticConfigLoader{
		"security":     map[string]any{"encryption_key": testEncryptionKey},
		"orchestrator": map[string]any{"base_url": "http://env.local", "max_attempts": 4},
	}
	runtime := StaticConfigLoader{
		"orchestrator": map[string]any{"base_url": "http://runtime.local"},
	}
	cfg, err := LoadConfig(context.Background(), env, runtime)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Orchestrator.BaseURL != "http://runtime.local" {
		t.Fatalf("expected runtime override, got %q", cfg.Orchestrator.BaseURL)
	}
	if cfg.Security.EncryptionKey != testEncryptionKey {
		t.Fatalf("expected env encryption key to survive merge")
	}
	if cfg.HTTP.TenantHeader != "X-Tenant-ID" {
		t.Fatalf("expected defaults to fill unset values, got %q", cfg.HTTP.TenantHeader)
	}
}

func TestLoadConfigFailsWithoutEncryptionKey(t *testing.T) {
	_, err := LoadConfig(context.Background(), StaticConfigLoader{
		"orchestrator": map[string]any{"base_url": "http://orchestrator.local"},
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "encryption_key") {
		t.Fatalf("expected missing encryption key to be fatal, got %v", err)
	}
}

func TestParseOverridesTypesDottedKeys(t *testing.T) {
	raw, err := ParseOverrides([]string{
		"database.dsn=file:cli.db",
		"orchestrator.max_attempts=7",
		"orchestrator.timeout=2s",
		"providers.github.webhook_secret=from-flag",
	})
	if err != nil {
		t.Fatalf("parse overrides: %v", err)
	}
	database := raw["database"].(map[string]any)
	if database["dsn"] != "file:cli.db" {
		t.Fatalf("expected dsn override, got %#v", database["dsn"])
	}
	orchestrator := raw["orchestrator"].(map[string]any)
	if orchestrator["max_attempts"] != 7 {
		t.Fatalf("expected int max_attempts, got %#v", orchestrator["max_attempts"])
	}
	if orchestrator["timeout"] != 2*time.Second {
		t.Fatalf("expected duration timeout, got %#v", orchestrator["timeout"])
	}
	github := raw["providers"].(map[string]any)["github"].(map[string]any)
	if github["webhook_secret"] != "from-flag" {
		t.Fatalf("expected provider override, got %#v", github)
	}

	for _, bad := range []string{"novalue", "unknown.key=1", "orchestrator.max_attempts=many"} {
		if _, err := ParseOverrides([]string{bad}); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
