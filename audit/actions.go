package audit

const (
	ActionAuthRejected = "auth.rejected"

	ActionOAuthStarted        = "oauth.started"
	ActionOAuthStateMismatch  = "oauth.state_mismatch"
	ActionOAuthExchangeFailed = "oauth.exchange_failed"
	ActionOAuthGranted        = "oauth.granted"
	ActionOAuthStoreFailed    = "oauth.store_failed"
	ActionOAuthRefreshed      = "oauth.refreshed"

	ActionWebhookAccepted         = "webhook.accepted"
	ActionWebhookSignatureInvalid = "webhook.signature_invalid"
	ActionWebhookNoSecret         = "webhook.no_secret"
	ActionWebhookReplayRejected   = "webhook.replay_rejected"
	ActionWebhookStaleTimestamp   = "webhook.stale_timestamp"
	ActionWebhookMalformed        = "webhook.malformed"
	ActionWebhookFailed           = "webhook.failed"
	ActionWebhookSecretRotated    = "webhook_secret.rotated"

	ActionRateLimitRejected = "ratelimit.rejected"

	ActionDispatchAccepted            = "dispatch.accepted"
	ActionDispatchQueued              = "dispatch.queued"
	ActionDispatchFailed              = "dispatch.failed"
	ActionDispatchUnrouted            = "dispatch.unrouted"
	ActionDispatchRedeliveryRequested = "dispatch.redelivery_requested"

	ActionNotificationEnqueued         = "notification.enqueued"
	ActionNotificationSent             = "notification.sent"
	ActionNotificationFailed           = "notification.failed"
	ActionNotificationStatus           = "notification.status"
	ActionNotificationRetried          = "notification.retried"
	ActionNotificationRetriesExhausted = "notification.retries_exhausted"

	ActionApprovalRecorded = "approval.recorded"

	ActionSubscriptionCreated = "subscription.created"
	ActionSubscriptionDeleted = "subscription.deleted"
)
