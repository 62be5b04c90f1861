package core

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseTenantID(t *testing.T) {
	for _, valid := range []string{"acme", "tenant-42", "Org_1.eu", " padded "} {
		if _, err := ParseTenantID(valid); err != nil {
			t.Fatalf("expected %q to parse: %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "   ", "-leading", "has space", "semi;colon", string(make([]byte, 65)), UnresolvedTenant, "Unresolved", " UNRESOLVED "} {
		if _, err := ParseTenantID(invalid); !errors.Is(err, ErrInvalidTenantID) {
			t.Fatalf("expected %q to be rejected, got %v", invalid, err)
		}
	}
}

func TestTenantIDJSONRoundTrip(t *testing.T) {
	payload, err := json.Marshal(struct {
		Tenant TenantID `json:"tenant"`
	}{Tenant: MustTenantID("acme")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(payload) != `{"tenant":"acme"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
	var decoded struct {
		Tenant TenantID `json:"tenant"`
	}
	if err := json.Unmarshal([]byte(`{"tenant":"bad tenant"}`), &decoded); err == nil {
		t.Fatalf("expected invalid tenant to fail decoding")
	}
}

func TestParseAuditTenantIDAcceptsReservedTenant(t *testing.T) {
	tenant, err := ParseAuditTenantID(UnresolvedTenant)
	if err != nil {
		t.Fatalf("parse audit tenant: %v", err)
	}
	if tenant != (TenantID{}).AuditTenant() {
		t.Fatalf("expected the reserved audit tenant, got %q", tenant)
	}
	if got, err := ParseAuditTenantID("acme"); err != nil || got != MustTenantID("acme") {
		t.Fatalf("expected regular tenant, got %q %v", got, err)
	}
}

func TestAuditTenantFallsBackToUnresolved(t *testing.T) {
	if got := (TenantID{}).AuditTenant().String(); got != UnresolvedTenant {
		t.Fatalf("expected unresolved tenant, got %q", got)
	}
	if got := MustTenantID("acme").AuditTenant().String(); got != "acme" {
		t.Fatalf("expected tenant passthrough, got %q", got)
	}
}

func TestParseProvider(t *testing.T) {
	provider, err := ParseProvider(" GitHub ")
	if err != nil || provider != ProviderGitHub {
		t.Fatalf("expected github, got %q err=%v", provider, err)
	}
	if _, err := ParseProvider("bitbucket"); !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
	if MaxRedeliveryHorizon() != 7*24*time.Hour {
		t.Fatalf("unexpected max horizon %s", MaxRedeliveryHorizon())
	}
}

func TestNotificationStatusTransitions(t *testing.T) {
	allowed := [][2]NotificationStatus{
		{NotificationStatusPending, NotificationStatusSent},
		{NotificationStatusPending, NotificationStatusFailed},
		{NotificationStatusSent, NotificationStatusDelivered},
		{NotificationStatusSent, NotificationStatusBounced},
		{NotificationStatusFailed, NotificationStatusPending},
		{NotificationStatusBounced, NotificationStatusPending},
	}
	for _, pair := range allowed {
		if err := ValidateNotificationTransition(pair[0], pair[1]); err != nil {
			t.Fatalf("expected %s -> %s to be allowed: %v", pair[0], pair[1], err)
		}
	}
	denied := [][2]NotificationStatus{
		{NotificationStatusPending, NotificationStatusDelivered},
		{NotificationStatusDelivered, NotificationStatusPending},
		{NotificationStatusSent, NotificationStatusPending},
	}
	for _, pair := range denied {
		if err := ValidateNotificationTransition(pair[0], pair[1]); !errors.Is(err, ErrInvalidNotificationStatusTransition) {
			t.Fatalf("expected %s -> %s to be rejected, got %v", pair[0], pair[1], err)
		}
	}
}

func TestSubscriptionMatches(t *testing.T) {
	sub := Subscription{Provider: ProviderGitHub, EventType: "github.push"}
	if !sub.Matches(ProviderGitHub, "github.push") || sub.Matches(ProviderGitHub, "github.issues") {
		t.Fatalf("unexpected exact match behaviour")
	}
	wildcard := Subscription{Provider: ProviderJira, EventType: WildcardEventType}
	if !wildcard.Matches(ProviderJira, "jira.issue_created") || wildcard.Matches(ProviderSlack, "slack.message") {
		t.Fatalf("unexpected wildcard match behaviour")
	}
}
