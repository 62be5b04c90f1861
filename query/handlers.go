package query

import (
	"context"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

// Integration is the per-provider status of one tenant.
type Integration struct {
	Provider        core.Provider `json:"provider"`
	OAuthConfigured bool          `json:"oauthConfigured"`
	Connected       bool          `json:"connected"`
	Scopes          []string      `json:"scopes,omitempty"`
	ExpiresAt       time.Time     `json:"expiresAt,omitzero"`
	WebhookSecret   bool          `json:"webhookSecret"`
	SecretRotatedAt time.Time     `json:"secretRotatedAt,omitzero"`
}

// EventDetail is an event with its delivery state.
type EventDetail struct {
	Event    core.NormalizedEvent   `json:"event"`
	Dispatch *core.DispatchRecord   `json:"dispatch,omitempty"`
	Attempts []core.DispatchAttempt `json:"attempts"`
}

type IntegrationReader interface {
	ListIntegrations(ctx context.Context, tenant core.TenantID) ([]Integration, error)
}

type EventReader interface {
	ListEvents(ctx context.Context, tenant core.TenantID, filter core.EventFilter) (core.EventPage, error)
	GetEvent(ctx context.Context, tenant core.TenantID, eventID string) (EventDetail, error)
}

type AuditReader interface {
	ListAudit(ctx context.Context, tenant core.TenantID, filter core.AuditFilter) (core.AuditPage, error)
}

type NotificationReader interface {
	GetNotification(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error)
}

type SubscriptionReader interface {
	ListSubscriptions(ctx context.Context, tenant core.TenantID) ([]core.Subscription, error)
	GetSubscription(ctx context.Context, tenant core.TenantID, id string) (core.Subscription, error)
}

// Reader is every read path the broker exposes.
type Reader interface {
	IntegrationReader
	EventReader
	AuditReader
	NotificationReader
	SubscriptionReader
}

type ListIntegrationsQuery struct {
	reader IntegrationReader
}

func NewListIntegrationsQuery(reader IntegrationReader) *ListIntegrationsQuery {
	return &ListIntegrationsQuery{reader: reader}
}

func (q *ListIntegrationsQuery) Query(ctx context.Context, msg ListIntegrationsMessage) ([]Integration, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: integration reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListIntegrations(ctx, msg.Tenant)
}

type ListEventsQuery struct {
	reader EventReader
}

func NewListEventsQuery(reader EventReader) *ListEventsQuery {
	return &ListEventsQuery{reader: reader}
}

func (q *ListEventsQuery) Query(ctx context.Context, msg ListEventsMessage) (core.EventPage, error) {
	if q == nil || q.reader == nil {
		return core.EventPage{}, queryDependencyError("query: event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.EventPage{}, err
	}
	return q.reader.ListEvents(ctx, msg.Tenant, msg.Filter)
}

type GetEventQuery struct {
	reader EventReader
}

func NewGetEventQuery(reader EventReader) *GetEventQuery {
	return &GetEventQuery{reader: reader}
}

func (q *GetEventQuery) Query(ctx context.Context, msg GetEventMessage) (EventDetail, error) {
	if q == nil || q.reader == nil {
		return EventDetail{}, queryDependencyError("query: event reader is required")
	}
	if err := msg.Validate(); err != nil {
		return EventDetail{}, err
	}
	return q.reader.GetEvent(ctx, msg.Tenant, msg.EventID)
}

type ListAuditQuery struct {
	reader AuditReader
}

func NewListAuditQuery(reader AuditReader) *ListAuditQuery {
	return &ListAuditQuery{reader: reader}
}

func (q *ListAuditQuery) Query(ctx context.Context, msg ListAuditMessage) (core.AuditPage, error) {
	if q == nil || q.reader == nil {
		return core.AuditPage{}, queryDependencyError("query: audit reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.AuditPage{}, err
	}
	return q.reader.ListAudit(ctx, msg.Tenant, msg.Filter)
}

type GetNotificationQuery struct {
	reader NotificationReader
}

func NewGetNotificationQuery(reader NotificationReader) *GetNotificationQuery {
	return &GetNotificationQuery{reader: reader}
}

func (q *GetNotificationQuery) Query(ctx context.Context, msg GetNotificationMessage) (core.Notification, error) {
	if q == nil || q.reader == nil {
		return core.Notification{}, queryDependencyError("query: notification reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Notification{}, err
	}
	return q.reader.GetNotification(ctx, msg.Tenant, msg.NotificationID)
}

type ListSubscriptionsQuery struct {
	reader SubscriptionReader
}

func NewListSubscriptionsQuery(reader SubscriptionReader) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(ctx context.Context, msg ListSubscriptionsMessage) ([]core.Subscription, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.ListSubscriptions(ctx, msg.Tenant)
}

type GetSubscriptionQuery struct {
	reader SubscriptionReader
}

func NewGetSubscriptionQuery(reader SubscriptionReader) *GetSubscriptionQuery {
	return &GetSubscriptionQuery{reader: reader}
}

func (q *GetSubscriptionQuery) Query(ctx context.Context, msg GetSubscriptionMessage) (core.Subscription, error) {
	if q == nil || q.reader == nil {
		return core.Subscription{}, queryDependencyError("query: subscription reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Subscription{}, err
	}
	return q.reader.GetSubscription(ctx, msg.Tenant, msg.SubscriptionID)
}
