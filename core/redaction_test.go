package core

import "testing"

func TestRedactSensitiveMapPreservesTraceabilityMetadata(t *testing.T) {
	redacted := RedactSensitiveMap(map[string]any{
		"tenant_id":      "acme",
		"delivery_id":    "d-1",
		"correlation_id": "corr-1",
		"access_token":   "xoxb-secret",
		"authorization":  "Bearer secret-token",
		"nested":         map[string]any{"refresh_token": "refresh", "event_id": "evt-1"},
		"headers":        map[string]string{"X-Hub-Signature-256": "sha256=abc", "X-GitHub-Event": "push"},
		"events":         []any{map[string]any{"webhook_secret": "s3cr3t"}, map[string]any{"provider": "github"}},
		"token_type":     "bearer",
	})

	if redacted["tenant_id"] != "acme" || redacted["correlation_id"] != "corr-1" {
		t.Fatalf("expected traceability keys to remain visible, got %#v", redacted)
	}
	if redacted["access_token"] != RedactedValue || redacted["authorization"] != RedactedValue {
		t.Fatalf("expected credentials to be redacted, got %#v", redacted)
	}
	if redacted["token_type"] != "bearer" {
		t.Fatalf("expected token_type to remain visible, got %#v", redacted["token_type"])
	}
	nested, ok := redacted["nested"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested redacted map")
	}
	if nested["refresh_token"] != RedactedValue || nested["event_id"] != "evt-1" {
		t.Fatalf("unexpected nested redaction: %#v", nested)
	}
	headers, ok := redacted["headers"].(map[string]any)
	if !ok {
		t.Fatalf("expected string maps to be converted, got %#v", redacted["headers"])
	}
	if headers["X-Hub-Signature-256"] != RedactedValue || headers["X-GitHub-Event"] != "push" {
		t.Fatalf("unexpected header redaction: %#v", headers)
	}
	events := redacted["events"].([]any)
	if events[0].(map[string]any)["webhook_secret"] != RedactedValue {
		t.Fatalf("expected slice entries to be redacted, got %#v", events[0])
	}
}

func TestRedactSensitiveMapDoesNotMutateSource(t *testing.T) {
	source := map[string]any{"client_secret": "keep-me"}
	_ = RedactSensitiveMap(source)
	if source["client_secret"] != "keep-me" {
		t.Fatalf("expected source map to be untouched")
	}
}
