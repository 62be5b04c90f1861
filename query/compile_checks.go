package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integration-broker/core"
)

var (
	_ gocmd.Querier[ListIntegrationsMessage, []Integration]        = (*ListIntegrationsQuery)(nil)
	_ gocmd.Querier[ListEventsMessage, core.EventPage]             = (*ListEventsQuery)(nil)
	_ gocmd.Querier[GetEventMessage, EventDetail]                  = (*GetEventQuery)(nil)
	_ gocmd.Querier[ListAuditMessage, core.AuditPage]              = (*ListAuditQuery)(nil)
	_ gocmd.Querier[GetNotificationMessage, core.Notification]     = (*GetNotificationQuery)(nil)
	_ gocmd.Querier[ListSubscriptionsMessage, []core.Subscription] = (*ListSubscriptionsQuery)(nil)
	_ gocmd.Querier[GetSubscriptionMessage, core.Subscription]     = (*GetSubscriptionQuery)(nil)
)
