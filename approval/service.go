// Package approval records human decisions on sent notifications and turns
// them into normalized events for the orchestrator.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/normalize"
)

type Decision struct {
	NotificationID string          `json:"notificationId"`
	Decision       string          `json:"decision"`
	Actor          core.EventActor `json:"actor"`
	Comment        string          `json:"comment"`
}

type Notifications interface {
	Get(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error)
	MarkDelivered(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error)
}

type Submitter interface {
	Submit(ctx context.Context, tenant core.TenantID, event core.NormalizedEvent) (core.DispatchRecord, error)
}

type Result struct {
	Event    core.NormalizedEvent `json:"event"`
	Dispatch core.DispatchRecord  `json:"dispatch"`
	Repeated bool                 `json:"repeated"`
}

type Service struct {
	notifications Notifications
	events        core.EventStore
	submitter     Submitter
	audit         core.AuditRecorder
	now           func() time.Time
}

func NewService(notifications Notifications, events core.EventStore, submitter Submitter, recorder core.AuditRecorder) (*Service, error) {
	if notifications == nil || events == nil || submitter == nil || recorder == nil {
		return nil, fmt.Errorf("approval: notifications, events, submitter and audit are required")
	}
	return &Service{
		notifications: notifications,
		events:        events,
		submitter:     submitter,
		audit:         recorder,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// Record applies a decision. The approval event id is derived from the
// notification, so repeating a decision returns the first event and does not
// dispatch again.
func (s *Service) Record(ctx context.Context, tenant core.TenantID, provider core.Provider, decision Decision) (Result, error) {
	notification, err := s.notifications.Get(ctx, tenant, decision.NotificationID)
	if err != nil {
		return Result{}, err
	}
	if notification.Status != core.NotificationStatusSent && notification.Status != core.NotificationStatusDelivered {
		return Result{}, core.NewError(
			core.ErrorInvalidTransition,
			fmt.Sprintf("notification is %s; only sent or delivered notifications accept decisions", notification.Status),
		)
	}
	event, err := normalize.Approval(normalize.ApprovalInput{
		TenantID:       tenant,
		Provider:       provider,
		NotificationID: notification.ID,
		Decision:       decision.Decision,
		Actor:          decision.Actor,
		Comment:        decision.Comment,
		DecidedAt:      s.now(),
	})
	if err != nil {
		return Result{}, err
	}
	if _, err := s.notifications.MarkDelivered(ctx, tenant, notification.ID); err != nil {
		return Result{}, err
	}

	stored, created, err := s.events.Append(ctx, tenant, event)
	if err != nil {
		return Result{}, err
	}
	// Audited once, when the decision's event is first stored, so a retry
	// after a failed submit dispatches without a second entry.
	if created {
		if err := s.audit.Record(ctx, tenant, audit.ActionApprovalRecorded, map[string]any{
			"notification_id": notification.ID,
			"provider":        provider.String(),
			"decision":        stored.Labels["decision"],
			"actor_id":        decision.Actor.ID,
			"event_id":        stored.EventID,
		}); err != nil {
			return Result{}, err
		}
	}
	record, err := s.submitter.Submit(ctx, tenant, stored)
	if err != nil {
		return Result{}, err
	}
	return Result{Event: stored, Dispatch: record, Repeated: !created}, nil
}
