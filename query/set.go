package query

// Set holds one query handler per read path, all bound to one reader.
type Set struct {
	ListIntegrations  *ListIntegrationsQuery
	ListEvents        *ListEventsQuery
	GetEvent          *GetEventQuery
	ListAudit         *ListAuditQuery
	GetNotification   *GetNotificationQuery
	ListSubscriptions *ListSubscriptionsQuery
	GetSubscription   *GetSubscriptionQuery
}

func NewSet(reader Reader) Set {
	return Set{
		ListIntegrations:  NewListIntegrationsQuery(reader),
		ListEvents:        NewListEventsQuery(reader),
		GetEvent:          NewGetEventQuery(reader),
		ListAudit:         NewListAuditQuery(reader),
		GetNotification:   NewGetNotificationQuery(reader),
		ListSubscriptions: NewListSubscriptionsQuery(reader),
		GetSubscription:   NewGetSubscriptionQuery(reader),
	}
}
