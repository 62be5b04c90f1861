// Package normalize maps verified provider payloads onto the canonical event
// schema. Normalize is a pure function of its input.
package normalize

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	"github.com/google/uuid"
)

// GenericEventType is the suffix given to event subtypes with no mapping.
const (
	GenericEventType   = "generic"
	GenericTriggerType = "generic"
)

// eventNamespace seeds the name-based event ids.
var eventNamespace = uuid.MustParse("5b0e9a8c-3f1d-5c47-9e61-2d4a7f0b8c13")

type Input struct {
	TenantID   core.TenantID
	Provider   core.Provider
	DeliveryID string
	EventType  string
	Headers    http.Header
	Payload    map[string]any
}

// EventID derives the event id from the tenant, provider and delivery id.
func EventID(tenant core.TenantID, provider core.Provider, deliveryID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(tenant.String()+"\x00"+provider.String()+"\x00"+strings.TrimSpace(deliveryID))).String()
}

func Normalize(in Input) (core.NormalizedEvent, error) {
	if in.TenantID.IsZero() {
		return core.NormalizedEvent{}, core.NewAuthError("normalize: tenant is required")
	}
	if strings.TrimSpace(in.DeliveryID) == "" {
		return core.NormalizedEvent{}, core.NewBadInputError("normalize: delivery id is required")
	}
	mapper, ok := mappers[in.Provider]
	if !ok {
		return core.NormalizedEvent{}, core.NewNotFoundError(fmt.Sprintf("normalize: unsupported provider %s", in.Provider))
	}
	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	headers := in.Headers
	if headers == nil {
		headers = http.Header{}
	}

	sourceType := strings.TrimSpace(in.EventType)
	eventType, triggerType := classify(in.Provider, sourceType)
	mapped := mapper(payload, headers)
	occurredAt := mapped.occurredAt
	if occurredAt.IsZero() {
		occurredAt = deliveryTime(in.Provider, headers)
	}

	labels := map[string]string{
		"provider":          in.Provider.String(),
		"source_event_type": sourceType,
	}
	maps.Copy(labels, mapped.labels)

	return core.NormalizedEvent{
		SchemaVersion: core.EventSchemaVersion,
		EventID:       EventID(in.TenantID, in.Provider, in.DeliveryID),
		TenantID:      in.TenantID,
		Provider:      in.Provider,
		DeliveryID:    strings.TrimSpace(in.DeliveryID),
		EventType:     eventType,
		TriggerType:   triggerType,
		OccurredAt:    occurredAtUTC(occurredAt),
		Actor:         mapped.actor,
		Resource:      mapped.resource,
		Raw:           maps.Clone(payload),
		Labels:        labels,
	}, nil
}

// classify returns the provider-qualified event type and trigger type. An
// unmapped subtype becomes "<provider>.generic".
func classify(provider core.Provider, sourceType string) (string, string) {
	key := strings.ToLower(sourceType)
	if trigger, ok := triggerTypes[provider][key]; ok {
		return provider.String() + "." + key, trigger
	}
	return provider.String() + "." + GenericEventType, GenericTriggerType
}

var triggerTypes = map[core.Provider]map[string]string{
	core.ProviderSlack: {
		"message":               "chat.message",
		"app_mention":           "chat.mention",
		"reaction_added":        "chat.reaction",
		"block_actions":         "interaction.action",
		"view_submission":       "interaction.submission",
		"member_joined_channel": "channel.member_joined",
	},
	core.ProviderGitHub: {
		"push":          "repository.push",
		"pull_request":  "repository.pull_request",
		"release":       "repository.release",
		"issues":        "issue.changed",
		"issue_comment": "issue.comment",
		"workflow_run":  "ci.workflow_run",
		"ping":          "system.ping",
	},
	core.ProviderGoogle: {
		"sync":    "channel.sync",
		"add":     "resource.created",
		"exists":  "resource.changed",
		"update":  "resource.changed",
		"change":  "resource.changed",
		"remove":  "resource.removed",
		"trash":   "resource.removed",
		"untrash": "resource.restored",
	},
	core.ProviderJira: {
		"jira:issue_created": "issue.created",
		"jira:issue_updated": "issue.updated",
		"jira:issue_deleted": "issue.deleted",
		"comment_created":    "issue.comment",
		"sprint_started":     "sprint.started",
		"sprint_closed":      "sprint.closed",
	},
}

type mapped struct {
	actor      core.EventActor
	resource   core.EventResource
	occurredAt time.Time
	labels     map[string]string
}

type mapper func(payload map[string]any, headers http.Header) mapped

var mappers = map[core.Provider]mapper{
	core.ProviderSlack:  mapSlack,
	core.ProviderGitHub: mapGitHub,
	core.ProviderGoogle: mapGoogle,
	core.ProviderJira:   mapJira,
}

func mapSlack(payload map[string]any, _ http.Header) mapped {
	out := mapped{labels: map[string]string{}}
	out.actor.ID = first(str(payload, "event", "user"), str(payload, "user", "id"))
	out.actor.Name = str(payload, "user", "name")
	if channel := first(str(payload, "event", "channel"), str(payload, "channel", "id")); channel != "" {
		out.resource = core.EventResource{Type: "channel", ID: channel, Name: str(payload, "channel", "name")}
	}
	if seconds, ok := number(payload, "event_time"); ok {
		out.occurredAt = time.Unix(int64(seconds), 0)
	}
	if team := first(str(payload, "team_id"), str(payload, "team", "id")); team != "" {
		out.labels["team_id"] = team
	}
	return out
}

func mapGitHub(payload map[string]any, _ http.Header) mapped {
	out := mapped{labels: map[string]string{}}
	out.actor = core.EventActor{
		ID:    str(payload, "sender", "id"),
		Name:  first(str(payload, "sender", "login"), str(payload, "pusher", "name")),
		Email: str(payload, "pusher", "email"),
	}
	if repo := str(payload, "repository", "full_name"); repo != "" {
		out.resource = core.EventResource{
			Type: "repository",
			ID:   str(payload, "repository", "id"),
			Name: repo,
			URL:  str(payload, "repository", "html_url"),
		}
		out.labels["repository"] = repo
	}
	for _, kind := range []string{"pull_request", "issue"} {
		if number := str(payload, kind, "number"); number != "" {
			out.resource = core.EventResource{
				Type: kind,
				ID:   number,
				Name: str(payload, kind, "title"),
				URL:  str(payload, kind, "html_url"),
			}
			break
		}
	}
	if action := str(payload, "action"); action != "" {
		out.labels["action"] = action
	}
	if ref := str(payload, "ref"); ref != "" {
		out.labels["ref"] = ref
	}
	out.occurredAt = timestamp(first(str(payload, "head_commit", "timestamp"), str(payload, "pull_request", "updated_at"), str(payload, "issue", "updated_at")))
	return out
}

func mapGoogle(payload map[string]any, headers http.Header) mapped {
	out := mapped{labels: map[string]string{}}
	out.resource = core.EventResource{
		Type: "drive.resource",
		ID:   first(strings.TrimSpace(headers.Get("X-Goog-Resource-ID")), str(payload, "resourceId")),
		URL:  first(strings.TrimSpace(headers.Get("X-Goog-Resource-URI")), str(payload, "resourceUri")),
	}
	if channel := strings.TrimSpace(headers.Get("X-Goog-Channel-ID")); channel != "" {
		out.labels["channel_id"] = channel
	}
	if changed := strings.TrimSpace(headers.Get("X-Goog-Changed")); changed != "" {
		out.labels["changed"] = changed
	}
	out.actor.Email = str(payload, "actor", "email")
	out.occurredAt = timestamp(str(payload, "eventTime"))
	return out
}

func mapJira(payload map[string]any, _ http.Header) mapped {
	out := mapped{labels: map[string]string{}}
	out.actor = core.EventActor{
		ID:    str(payload, "user", "accountId"),
		Name:  str(payload, "user", "displayName"),
		Email: str(payload, "user", "emailAddress"),
	}
	if key := str(payload, "issue", "key"); key != "" {
		out.resource = core.EventResource{
			Type: "issue",
			ID:   first(str(payload, "issue", "id"), key),
			Name: key,
			URL:  str(payload, "issue", "self"),
		}
		if project := str(payload, "issue", "fields", "project", "key"); project != "" {
			out.labels["project"] = project
		}
	}
	if millis, ok := number(payload, "timestamp"); ok {
		out.occurredAt = time.UnixMilli(int64(millis))
	}
	return out
}

func str(payload map[string]any, path ...string) string {
	value, ok := lookup(payload, path...)
	if !ok {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int, int64, bool:
		return fmt.Sprint(typed)
	}
	return ""
}

func number(payload map[string]any, path ...string) (float64, bool) {
	value, ok := lookup(payload, path...)
	if !ok {
		return 0, false
	}
	switch typed := value.(type) {
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	case float64:
		return typed, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	}
	return 0, false
}

func lookup(payload map[string]any, path ...string) (any, bool) {
	var current any = payload
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func timestamp(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// deliveryTime reads the send time a provider stamps on the delivery itself.
// Arrival time is never used so the same delivery always maps the same way.
func deliveryTime(provider core.Provider, headers http.Header) time.Time {
	if provider == core.ProviderSlack {
		if seconds, err := strconv.ParseInt(strings.TrimSpace(headers.Get("X-Slack-Request-Timestamp")), 10, 64); err == nil && seconds > 0 {
			return time.Unix(seconds, 0)
		}
	}
	if sent, err := http.ParseTime(strings.TrimSpace(headers.Get("Date"))); err == nil {
		return sent
	}
	return time.Time{}
}

func occurredAtUTC(at time.Time) time.Time {
	if at.IsZero() {
		return time.Time{}
	}
	return at.UTC().Truncate(time.Millisecond)
}

func first(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
