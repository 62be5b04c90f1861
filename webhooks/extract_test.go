package webhooks

import (
	"net/http"
	"strings"
	"testing"

	"github.com/goliatone/go-integration-broker/core"
)

func TestExtract_ReadsProviderIdentifiers(t *testing.T) {
	cases := []struct {
		name     string
		provider core.Provider
		headers  http.Header
		body     string
		delivery string
		event    string
		hint     string
	}{
		{
			name:     "github",
			provider: core.ProviderGitHub,
			headers:  http.Header{"X-Github-Delivery": {"gh-1"}, "X-Github-Event": {"pull_request"}},
			body:     `{"installation":{"id":991}}`,
			delivery: "gh-1",
			event:    "pull_request",
			hint:     "991",
		},
		{
			name:     "slack",
			provider: core.ProviderSlack,
			body:     `{"event_id":"Ev1","team_id":"T1","event":{"type":"app_mention"}}`,
			delivery: "Ev1",
			event:    "app_mention",
			hint:     "T1",
		},
		{
			name:     "google",
			provider: core.ProviderGoogle,
			headers:  http.Header{"X-Goog-Channel-Id": {"chan"}, "X-Goog-Message-Number": {"7"}, "X-Goog-Resource-State": {"update"}, "X-Goog-Channel-Token": {"acme"}},
			delivery: "chan:7",
			event:    "update",
			hint:     "acme",
		},
		{
			name:     "jira",
			provider: core.ProviderJira,
			headers:  http.Header{"X-Atlassian-Webhook-Identifier": {"jira-9"}},
			body:     `{"webhookEvent":"jira:issue_updated","issue":{"self":"https://acme.atlassian.net/rest/api/2/issue/1"}}`,
			delivery: "jira-9",
			event:    "jira:issue_updated",
			hint:     "acme.atlassian.net",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := tc.headers
			if headers == nil {
				headers = http.Header{}
			}
			envelope, err := Extract(tc.provider, headers, []byte(tc.body))
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if envelope.DeliveryID != tc.delivery || envelope.EventType != tc.event || envelope.TenantHint != tc.hint {
				t.Fatalf("unexpected envelope %+v", envelope)
			}
		})
	}
}

func TestExtract_FallsBackToBodyDigest(t *testing.T) {
	body := []byte(`{"event":"push"}`)
	first, err := Extract(core.ProviderGitHub, http.Header{}, body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	second, _ := Extract(core.ProviderGitHub, http.Header{}, body)
	if !strings.HasPrefix(first.DeliveryID, "sha256:") || first.DeliveryID != second.DeliveryID {
		t.Fatalf("expected stable digest delivery id, got %q and %q", first.DeliveryID, second.DeliveryID)
	}
	if first.EventType != "push" {
		t.Fatalf("expected event type from body, got %q", first.EventType)
	}
}

func TestExtract_DecodesSlackFormPayload(t *testing.T) {
	headers := http.Header{"Content-Type": {"application/x-www-form-urlencoded"}}
	body := []byte(`payload=%7B%22type%22%3A%22block_actions%22%2C%22team%22%3A%7B%22id%22%3A%22T9%22%7D%7D`)
	envelope, err := Extract(core.ProviderSlack, headers, body)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if envelope.EventType != "block_actions" || envelope.TenantHint != "T9" {
		t.Fatalf("unexpected envelope %+v", envelope)
	}
}

func TestExtract_RejectsNonObjectBody(t *testing.T) {
	if _, err := Extract(core.ProviderGitHub, http.Header{}, []byte(`[1,2]`)); !core.IsErrorCode(err, core.ErrorBadInput) {
		t.Fatalf("expected BAD_INPUT, got %v", err)
	}
}
