package query

import (
	"strings"

	"github.com/goliatone/go-integration-broker/core"
)

const (
	TypeListIntegrations  = "broker.query.integrations.list"
	TypeListEvents        = "broker.query.events.list"
	TypeGetEvent          = "broker.query.events.get"
	TypeListAudit         = "broker.query.audit.list"
	TypeGetNotification   = "broker.query.notification.get"
	TypeListSubscriptions = "broker.query.subscriptions.list"
	TypeGetSubscription   = "broker.query.subscriptions.get"
)

type ListIntegrationsMessage struct {
	Tenant core.TenantID
}

func (ListIntegrationsMessage) Type() string { return TypeListIntegrations }

func (m ListIntegrationsMessage) Validate() error {
	return requireTenant(m.Tenant)
}

type ListEventsMessage struct {
	Tenant core.TenantID
	Filter core.EventFilter
}

func (ListEventsMessage) Type() string { return TypeListEvents }

func (m ListEventsMessage) Validate() error {
	if err := requireTenant(m.Tenant); err != nil {
		return err
	}
	if m.Filter.Provider != "" && !m.Filter.Provider.Valid() {
		return queryValidationError("provider", "unsupported provider")
	}
	return validatePage(m.Filter.Limit, m.Filter.Offset)
}

type GetEventMessage struct {
	Tenant  core.TenantID
	EventID string
}

func (GetEventMessage) Type() string { return TypeGetEvent }

func (m GetEventMessage) Validate() error {
	if err := requireTenant(m.Tenant); err != nil {
		return err
	}
	if strings.TrimSpace(m.EventID) == "" {
		return queryValidationError("eventId", "event id is required")
	}
	return nil
}

type ListAuditMessage struct {
	Tenant core.TenantID
	Filter core.AuditFilter
}

func (ListAuditMessage) Type() string { return TypeListAudit }

func (m ListAuditMessage) Validate() error {
	if err := requireTenant(m.Tenant); err != nil {
		return err
	}
	return validatePage(m.Filter.Limit, m.Filter.Offset)
}

type GetNotificationMessage struct {
	Tenant         core.TenantID
	NotificationID string
}

func (GetNotificationMessage) Type() string { return TypeGetNotification }

func (m GetNotificationMessage) Validate() error {
	if err := requireTenant(m.Tenant); err != nil {
		return err
	}
	if strings.TrimSpace(m.NotificationID) == "" {
		return queryValidationError("notificationId", "notification id is required")
	}
	return nil
}

type ListSubscriptionsMessage struct {
	Tenant core.TenantID
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (m ListSubscriptionsMessage) Validate() error {
	return requireTenant(m.Tenant)
}

type GetSubscriptionMessage struct {
	Tenant         core.TenantID
	SubscriptionID string
}

func (GetSubscriptionMessage) Type() string { return TypeGetSubscription }

func (m GetSubscriptionMessage) Validate() error {
	if err := requireTenant(m.Tenant); err != nil {
		return err
	}
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return queryValidationError("subscriptionId", "subscription id is required")
	}
	return nil
}

func requireTenant(tenant core.TenantID) error {
	if tenant.IsZero() {
		return core.NewAuthError("query: tenant is required")
	}
	return nil
}

func validatePage(limit int, offset int) error {
	if limit < 0 {
		return queryValidationError("limit", "limit must be >= 0")
	}
	if limit > core.MaxPageLimit {
		return queryValidationError("limit", "limit is too large")
	}
	if offset < 0 {
		return queryValidationError("offset", "offset must be >= 0")
	}
	return nil
}
