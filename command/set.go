package command

// Set holds one command handler per write path, all bound to one service.
type Set struct {
	StartOAuth               *StartOAuthCommand
	CompleteOAuth            *CompleteOAuthCommand
	RotateWebhookSecret      *RotateWebhookSecretCommand
	EnqueueNotification      *EnqueueNotificationCommand
	UpdateNotificationStatus *UpdateNotificationStatusCommand
	RetryNotification        *RetryNotificationCommand
	RecordApproval           *RecordApprovalCommand
	RedeliverEvent           *RedeliverEventCommand
	CreateSubscription       *CreateSubscriptionCommand
	DeleteSubscription       *DeleteSubscriptionCommand
	PruneReplayGuard         *PruneReplayGuardCommand
}

func NewSet(service MutatingService) Set {
	return Set{
		StartOAuth:               NewStartOAuthCommand(service),
		CompleteOAuth:            NewCompleteOAuthCommand(service),
		RotateWebhookSecret:      NewRotateWebhookSecretCommand(service),
		EnqueueNotification:      NewEnqueueNotificationCommand(service),
		UpdateNotificationStatus: NewUpdateNotificationStatusCommand(service),
		RetryNotification:        NewRetryNotificationCommand(service),
		RecordApproval:           NewRecordApprovalCommand(service),
		RedeliverEvent:           NewRedeliverEventCommand(service),
		CreateSubscription:       NewCreateSubscriptionCommand(service),
		DeleteSubscription:       NewDeleteSubscriptionCommand(service),
		PruneReplayGuard:         NewPruneReplayGuardCommand(service),
	}
}
