package webhooks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/goliatone/go-integration-broker/core"
)

// Envelope is what the pipeline reads out of a delivery before normalizing
// it: identifiers, routing hints and the decoded payload.
type Envelope struct {
	DeliveryID string
	EventType  string
	TenantHint string
	Payload    map[string]any
}

// Extract decodes the body and reads the provider's delivery id, event type
// and tenant hint. A delivery without a provider id falls back to a digest of
// the body so identical redeliveries still collide.
func Extract(provider core.Provider, headers http.Header, body []byte) (Envelope, error) {
	payload, err := decodePayload(headers, body)
	if err != nil {
		return Envelope{}, err
	}
	envelope := Envelope{Payload: payload}
	switch provider {
	case core.ProviderSlack:
		envelope.DeliveryID = stringAt(payload, "event_id")
		if envelope.DeliveryID == "" {
			if timestamp := strings.TrimSpace(headers.Get(HeaderSlackTimestamp)); timestamp != "" {
				envelope.DeliveryID = timestamp + ":" + bodyDigest(body)
			}
		}
		envelope.EventType = firstNonEmpty(stringAt(payload, "event", "type"), stringAt(payload, "type"))
		envelope.TenantHint = firstNonEmpty(stringAt(payload, "team_id"), stringAt(payload, "team", "id"))
	case core.ProviderGitHub:
		envelope.DeliveryID = strings.TrimSpace(headers.Get("X-GitHub-Delivery"))
		envelope.EventType = firstNonEmpty(strings.TrimSpace(headers.Get("X-GitHub-Event")), stringAt(payload, "event"))
		envelope.TenantHint = firstNonEmpty(
			stringAt(payload, "installation", "id"),
			stringAt(payload, "organization", "login"),
			stringAt(payload, "repository", "owner", "login"),
		)
	case core.ProviderGoogle:
		channel := strings.TrimSpace(headers.Get("X-Goog-Channel-ID"))
		number := strings.TrimSpace(headers.Get("X-Goog-Message-Number"))
		if channel != "" && number != "" {
			envelope.DeliveryID = channel + ":" + number
		}
		envelope.DeliveryID = firstNonEmpty(envelope.DeliveryID, strings.TrimSpace(headers.Get("X-Webhook-Delivery")), stringAt(payload, "id"))
		envelope.EventType = firstNonEmpty(strings.TrimSpace(headers.Get("X-Goog-Resource-State")), stringAt(payload, "eventType"))
		envelope.TenantHint = strings.TrimSpace(headers.Get("X-Goog-Channel-Token"))
	case core.ProviderJira:
		envelope.DeliveryID = firstNonEmpty(
			strings.TrimSpace(headers.Get("X-Atlassian-Webhook-Identifier")),
			strings.TrimSpace(headers.Get("X-Webhook-Delivery")),
		)
		envelope.EventType = stringAt(payload, "webhookEvent")
		if self := stringAt(payload, "issue", "self"); self != "" {
			if parsed, parseErr := url.Parse(self); parseErr == nil {
				envelope.TenantHint = parsed.Host
			}
		}
	default:
		return Envelope{}, core.NewNotFoundError(fmt.Sprintf("webhooks: unsupported provider %s", provider))
	}
	if envelope.DeliveryID == "" {
		envelope.DeliveryID = "sha256:" + bodyDigest(body)
	}
	return envelope, nil
}

// TenantHint reads only the routing hint and never fails. It runs before
// the delivery is authenticated.
func TenantHint(provider core.Provider, headers http.Header, body []byte) string {
	envelope, err := Extract(provider, headers, body)
	if err != nil {
		return ""
	}
	return envelope.TenantHint
}

func decodePayload(headers http.Header, body []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	if mediaType, _, _ := mime.ParseMediaType(headers.Get("Content-Type")); mediaType == "application/x-www-form-urlencoded" {
		form, err := url.ParseQuery(string(trimmed))
		if err != nil {
			return nil, core.NewBadInputError("webhooks: malformed form body")
		}
		if raw := form.Get("payload"); raw != "" {
			trimmed = []byte(raw)
		} else {
			payload := make(map[string]any, len(form))
			for key := range form {
				payload[key] = form.Get(key)
			}
			return payload, nil
		}
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var payload map[string]any
	if err := decoder.Decode(&payload); err != nil {
		return nil, core.NewBadInputError("webhooks: body is not a JSON object")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, nil
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func stringAt(payload map[string]any, path ...string) string {
	var current any = payload
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = object[key]
	}
	switch typed := current.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64, int, int64, bool:
		return fmt.Sprint(typed)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
