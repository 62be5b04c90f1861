package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[StartOAuthMessage]               = (*StartOAuthCommand)(nil)
	_ gocmd.Commander[CompleteOAuthMessage]            = (*CompleteOAuthCommand)(nil)
	_ gocmd.Commander[RotateWebhookSecretMessage]      = (*RotateWebhookSecretCommand)(nil)
	_ gocmd.Commander[EnqueueNotificationMessage]      = (*EnqueueNotificationCommand)(nil)
	_ gocmd.Commander[UpdateNotificationStatusMessage] = (*UpdateNotificationStatusCommand)(nil)
	_ gocmd.Commander[RetryNotificationMessage]        = (*RetryNotificationCommand)(nil)
	_ gocmd.Commander[RecordApprovalMessage]           = (*RecordApprovalCommand)(nil)
	_ gocmd.Commander[RedeliverEventMessage]           = (*RedeliverEventCommand)(nil)
	_ gocmd.Commander[CreateSubscriptionMessage]       = (*CreateSubscriptionCommand)(nil)
	_ gocmd.Commander[DeleteSubscriptionMessage]       = (*DeleteSubscriptionCommand)(nil)
	_ gocmd.Commander[PruneReplayGuardMessage]         = (*PruneReplayGuardCommand)(nil)
)
