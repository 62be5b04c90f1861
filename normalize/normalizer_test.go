package normalize

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

var (
	acme      = core.MustTenantID("acme")
	decidedAt = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
)

func TestNormalize_IsByteIdenticalAcrossRuns(t *testing.T) {
	payload := decode(t, `{"event":"push","ref":"refs/heads/main","repository":{"id":42,"full_name":"acme/api","html_url":"https://github.com/acme/api"},"sender":{"id":7,"login":"octocat"},"head_commit":{"timestamp":"2026-03-01T09:29:00Z"}}`)
	input := Input{
		TenantID:   acme,
		Provider:   core.ProviderGitHub,
		DeliveryID: "72d3162e-cc78-11e3-81ab-4c9367dc0958",
		EventType:  "push",
		Payload:    payload,
	}

	first, err := Normalize(input)
	if err != nil {
		t.Fatalf("normalize first: %v", err)
	}
	second, err := Normalize(input)
	if err != nil {
		t.Fatalf("normalize second: %v", err)
	}
	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Fatalf("expected byte-identical events:\n%s\n%s", firstJSON, secondJSON)
	}
	if first.EventID != EventID(acme, core.ProviderGitHub, input.DeliveryID) {
		t.Fatalf("expected event id derived from the delivery id")
	}
	if first.EventType != "github.push" || first.TriggerType != "repository.push" {
		t.Fatalf("unexpected classification %s / %s", first.EventType, first.TriggerType)
	}
	if first.Resource.Name != "acme/api" || first.Actor.Name != "octocat" {
		t.Fatalf("unexpected actor/resource %+v %+v", first.Actor, first.Resource)
	}
	if !first.OccurredAt.Equal(time.Date(2026, 3, 1, 9, 29, 0, 0, time.UTC)) {
		t.Fatalf("expected occurredAt from the head commit, got %s", first.OccurredAt)
	}
}

func TestEventID_IsScopedByTenantAndProvider(t *testing.T) {
	base := EventID(acme, core.ProviderGitHub, "d-1")
	if base != EventID(acme, core.ProviderGitHub, " d-1 ") {
		t.Fatalf("expected surrounding whitespace to be ignored")
	}
	for name, other := range map[string]string{
		"tenant":   EventID(core.MustTenantID("globex"), core.ProviderGitHub, "d-1"),
		"provider": EventID(acme, core.ProviderJira, "d-1"),
		"delivery": EventID(acme, core.ProviderGitHub, "d-2"),
	} {
		if other == base {
			t.Fatalf("expected a different %s to change the event id", name)
		}
	}
}

func TestNormalize_UnknownSubtypeKeepsRawPayload(t *testing.T) {
	payload := decode(t, `{"webhookEvent":"board_configuration_changed","board":{"id":3}}`)
	event, err := Normalize(Input{
		TenantID:   acme,
		Provider:   core.ProviderJira,
		DeliveryID: "jira-1",
		EventType:  "board_configuration_changed",
		Payload:    payload,
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if event.EventType != "jira.generic" || event.TriggerType != GenericTriggerType {
		t.Fatalf("expected generic classification, got %s / %s", event.EventType, event.TriggerType)
	}
	if event.Labels["source_event_type"] != "board_configuration_changed" {
		t.Fatalf("expected source event type label, got %+v", event.Labels)
	}
	if _, ok := event.Raw["board"]; !ok {
		t.Fatalf("expected raw payload to be preserved, got %+v", event.Raw)
	}
	if !event.OccurredAt.IsZero() {
		t.Fatalf("expected zero occurredAt without a provider timestamp, got %s", event.OccurredAt)
	}
}

func TestNormalize_WithoutProviderTimestampIsStable(t *testing.T) {
	input := Input{
		TenantID:   acme,
		Provider:   core.ProviderGitHub,
		DeliveryID: "d-no-ts",
		EventType:  "push",
		Payload:    decode(t, `{"event":"push"}`),
	}
	first, err := Normalize(input)
	if err != nil {
		t.Fatalf("normalize first: %v", err)
	}
	second, err := Normalize(input)
	if err != nil {
		t.Fatalf("normalize second: %v", err)
	}
	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	if !bytes.Equal(firstJSON, secondJSON) {
		t.Fatalf("expected byte-identical events:\n%s\n%s", firstJSON, secondJSON)
	}
	if bytes.Contains(firstJSON, []byte("occurredAt")) {
		t.Fatalf("expected occurredAt to be omitted without a provider timestamp: %s", firstJSON)
	}
}

func TestNormalize_FallsBackToDeliveryHeaderTime(t *testing.T) {
	slack, err := Normalize(Input{
		TenantID:   acme,
		Provider:   core.ProviderSlack,
		DeliveryID: "Ev1",
		EventType:  "app_mention",
		Headers:    http.Header{"X-Slack-Request-Timestamp": {"1772357400"}},
		Payload:    decode(t, `{"type":"event_callback","event":{"type":"app_mention"}}`),
	})
	if err != nil {
		t.Fatalf("normalize slack: %v", err)
	}
	if !slack.OccurredAt.Equal(time.Unix(1772357400, 0)) {
		t.Fatalf("expected slack request timestamp, got %s", slack.OccurredAt)
	}

	jira, err := Normalize(Input{
		TenantID:   acme,
		Provider:   core.ProviderJira,
		DeliveryID: "jira-date",
		EventType:  "jira:issue_updated",
		Headers:    http.Header{"Date": {"Sun, 01 Mar 2026 09:30:00 GMT"}},
		Payload:    decode(t, `{"webhookEvent":"jira:issue_updated"}`),
	})
	if err != nil {
		t.Fatalf("normalize jira: %v", err)
	}
	if !jira.OccurredAt.Equal(decidedAt) {
		t.Fatalf("expected Date header time, got %s", jira.OccurredAt)
	}
}

func TestNormalize_ProviderMappings(t *testing.T) {
	cases := []struct {
		name         string
		provider     core.Provider
		eventType    string
		body         string
		headers      http.Header
		wantType     string
		wantTrigger  string
		wantResource string
		wantActor    string
	}{
		{
			name:         "slack message",
			provider:     core.ProviderSlack,
			eventType:    "message",
			body:         `{"team_id":"T1","event_time":1772357400,"event":{"type":"message","user":"U1","channel":"C1"}}`,
			wantType:     "slack.message",
			wantTrigger:  "chat.message",
			wantResource: "C1",
			wantActor:    "U1",
		},
		{
			name:         "jira issue created",
			provider:     core.ProviderJira,
			eventType:    "jira:issue_created",
			body:         `{"timestamp":1772357400000,"user":{"accountId":"a-1"},"issue":{"id":"10001","key":"OPS-1","self":"https://acme.atlassian.net/rest/api/2/issue/10001"}}`,
			wantType:     "jira.jira:issue_created",
			wantTrigger:  "issue.created",
			wantResource: "10001",
			wantActor:    "a-1",
		},
		{
			name:         "google change",
			provider:     core.ProviderGoogle,
			eventType:    "update",
			body:         ``,
			headers:      http.Header{"X-Goog-Resource-Id": {"res-9"}, "X-Goog-Channel-Id": {"chan-1"}},
			wantType:     "google.update",
			wantTrigger:  "resource.changed",
			wantResource: "res-9",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			payload := map[string]any{}
			if tc.body != "" {
				payload = decode(t, tc.body)
			}
			event, err := Normalize(Input{
				TenantID:   acme,
				Provider:   tc.provider,
				DeliveryID: "d-" + tc.name,
				EventType:  tc.eventType,
				Headers:    tc.headers,
				Payload:    payload,
			})
			if err != nil {
				t.Fatalf("normalize: %v", err)
			}
			if event.EventType != tc.wantType || event.TriggerType != tc.wantTrigger {
				t.Fatalf("unexpected classification %s / %s", event.EventType, event.TriggerType)
			}
			if event.Resource.ID != tc.wantResource || event.Actor.ID != tc.wantActor {
				t.Fatalf("unexpected resource/actor %+v %+v", event.Resource, event.Actor)
			}
		})
	}
}

func TestApproval_IsDeterministicPerNotification(t *testing.T) {
	input := ApprovalInput{
		TenantID:       acme,
		Provider:       core.ProviderSlack,
		NotificationID: "n-1",
		Decision:       "Approved",
		Actor:          core.EventActor{ID: "U1"},
		DecidedAt:      decidedAt,
	}
	first, err := Approval(input)
	if err != nil {
		t.Fatalf("approval: %v", err)
	}
	input.Comment = "lgtm"
	input.DecidedAt = decidedAt.Add(time.Minute)
	second, err := Approval(input)
	if err != nil {
		t.Fatalf("approval again: %v", err)
	}
	if first.EventID != second.EventID {
		t.Fatalf("expected one event id per notification")
	}
	if first.EventType != "slack.approval" || first.TriggerType != ApprovalTriggerType || first.Labels["decision"] != DecisionApproved {
		t.Fatalf("unexpected approval event %+v", first)
	}
	if _, err := Approval(ApprovalInput{TenantID: acme, Provider: core.ProviderSlack, NotificationID: "n-1", Decision: "maybe"}); !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected invalid decision to be rejected, got %v", err)
	}
}

func decode(t *testing.T, raw string) map[string]any {
	t.Helper()
	decoder := json.NewDecoder(bytes.NewReader([]byte(raw)))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return payload
}
