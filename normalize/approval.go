package normalize

import (
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

const (
	ApprovalTriggerType = "approval.decision"

	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

type ApprovalInput struct {
	TenantID       core.TenantID
	Provider       core.Provider
	NotificationID string
	Decision       string
	Actor          core.EventActor
	Comment        string
	DecidedAt      time.Time
}

// ApprovalDeliveryID is the delivery id of the approval event of a
// notification. One notification yields at most one approval event.
func ApprovalDeliveryID(notificationID string) string {
	return "approval:" + strings.TrimSpace(notificationID)
}

// Approval builds the event emitted for a human decision on a notification.
func Approval(in ApprovalInput) (core.NormalizedEvent, error) {
	if in.TenantID.IsZero() {
		return core.NormalizedEvent{}, core.NewAuthError("normalize: tenant is required")
	}
	notificationID := strings.TrimSpace(in.NotificationID)
	if notificationID == "" {
		return core.NormalizedEvent{}, core.NewBadInputError("normalize: notification id is required")
	}
	decision := strings.ToLower(strings.TrimSpace(in.Decision))
	if decision != DecisionApproved && decision != DecisionRejected {
		return core.NormalizedEvent{}, core.NewValidationError("decision", "must be approved or rejected")
	}
	deliveryID := ApprovalDeliveryID(notificationID)
	raw := map[string]any{
		"notificationId": notificationID,
		"decision":       decision,
	}
	if comment := strings.TrimSpace(in.Comment); comment != "" {
		raw["comment"] = comment
	}
	return core.NormalizedEvent{
		SchemaVersion: core.EventSchemaVersion,
		EventID:       EventID(in.TenantID, in.Provider, deliveryID),
		TenantID:      in.TenantID,
		Provider:      in.Provider,
		DeliveryID:    deliveryID,
		EventType:     in.Provider.String() + ".approval",
		TriggerType:   ApprovalTriggerType,
		OccurredAt:    in.DecidedAt.UTC().Truncate(time.Millisecond),
		Actor:         in.Actor,
		Resource:      core.EventResource{Type: "notification", ID: notificationID},
		Raw:           raw,
		Labels: map[string]string{
			"provider": in.Provider.String(),
			"decision": decision,
		},
	}, nil
}
