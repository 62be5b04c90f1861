package sqlstore

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

func newOAuthTokenRecord(id string, credential core.EncryptedCredential, now time.Time) *oauthTokenRecord {
	return &oauthTokenRecord{
		ID:            id,
		TenantID:      credential.TenantID.String(),
		Provider:      string(credential.Provider),
		AccessToken:   append([]byte(nil), credential.AccessToken...),
		RefreshToken:  append([]byte(nil), credential.RefreshToken...),
		TokenType:     strings.TrimSpace(credential.TokenType),
		ExpiresAt:     timePointer(credential.ExpiresAt),
		Scopes:        nonNilStrings(credential.Scopes),
		EncryptionKey: credential.EncryptionKey,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *oauthTokenRecord) toDomain() (core.EncryptedCredential, error) {
	if r == nil {
		return core.EncryptedCredential{}, nil
	}
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.EncryptedCredential{}, err
	}
	return core.EncryptedCredential{
		TenantID:      tenant,
		Provider:      core.Provider(r.Provider),
		AccessToken:   append([]byte(nil), r.AccessToken...),
		RefreshToken:  append([]byte(nil), r.RefreshToken...),
		TokenType:     r.TokenType,
		ExpiresAt:     timeValue(r.ExpiresAt),
		Scopes:        append([]string(nil), r.Scopes...),
		EncryptionKey: r.EncryptionKey,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

func newOAuthStateRecord(state core.OAuthState) *oauthStateRecord {
	return &oauthStateRecord{
		State:     state.State,
		TenantID:  state.TenantID.String(),
		Provider:  string(state.Provider),
		Scopes:    nonNilStrings(state.Scopes),
		CreatedAt: state.CreatedAt.UTC(),
		ExpiresAt: state.ExpiresAt.UTC(),
	}
}

func (r *oauthStateRecord) toDomain() (core.OAuthState, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.OAuthState{}, err
	}
	return core.OAuthState{
		State:     r.State,
		TenantID:  tenant,
		Provider:  core.Provider(r.Provider),
		Scopes:    append([]string(nil), r.Scopes...),
		CreatedAt: r.CreatedAt.UTC(),
		ExpiresAt: r.ExpiresAt.UTC(),
	}, nil
}

func newWebhookSecretRecord(id string, secret core.EncryptedWebhookSecret, now time.Time) *webhookSecretRecord {
	record := &webhookSecretRecord{
		ID:        id,
		TenantID:  secret.TenantID.String(),
		Provider:  string(secret.Provider),
		Secret:    append([]byte(nil), secret.Secret...),
		CreatedAt: now,
		RotatedAt: now,
	}
	if accountID := strings.TrimSpace(secret.AccountID); accountID != "" {
		record.AccountID = &accountID
	}
	return record
}

func (r *webhookSecretRecord) toDomain() (core.EncryptedWebhookSecret, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.EncryptedWebhookSecret{}, err
	}
	secret := core.EncryptedWebhookSecret{
		TenantID:  tenant,
		Provider:  core.Provider(r.Provider),
		Secret:    append([]byte(nil), r.Secret...),
		CreatedAt: r.CreatedAt.UTC(),
		RotatedAt: r.RotatedAt.UTC(),
	}
	if r.AccountID != nil {
		secret.AccountID = *r.AccountID
	}
	return secret, nil
}

func newSubscriptionRecord(id string, subscription core.Subscription, now time.Time) *subscriptionRecord {
	return &subscriptionRecord{
		ID:        id,
		TenantID:  subscription.TenantID.String(),
		Provider:  string(subscription.Provider),
		EventType: strings.TrimSpace(subscription.EventType),
		Target:    strings.TrimSpace(subscription.Target),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *subscriptionRecord) toDomain() (core.Subscription, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.Subscription{}, err
	}
	return core.Subscription{
		ID:        r.ID,
		TenantID:  tenant,
		Provider:  core.Provider(r.Provider),
		EventType: r.EventType,
		Target:    r.Target,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}, nil
}

func newEventRecord(event core.NormalizedEvent, now time.Time) (*eventRecord, error) {
	actor, err := structToMap(event.Actor)
	if err != nil {
		return nil, err
	}
	resource, err := structToMap(event.Resource)
	if err != nil {
		return nil, err
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &eventRecord{
		ID:            event.EventID,
		TenantID:      event.TenantID.String(),
		SchemaVersion: event.SchemaVersion,
		Provider:      string(event.Provider),
		DeliveryID:    event.DeliveryID,
		EventType:     event.EventType,
		TriggerType:   event.TriggerType,
		OccurredAt:    event.OccurredAt.UTC(),
		Actor:         actor,
		Resource:      resource,
		Raw:           nonNilAnyMap(event.Raw),
		Labels:        nonNilStringMap(event.Labels),
		CreatedAt:     createdAt.UTC(),
	}, nil
}

func (r *eventRecord) toDomain() (core.NormalizedEvent, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.NormalizedEvent{}, err
	}
	event := core.NormalizedEvent{
		SchemaVersion: r.SchemaVersion,
		EventID:       r.ID,
		TenantID:      tenant,
		Provider:      core.Provider(r.Provider),
		DeliveryID:    r.DeliveryID,
		EventType:     r.EventType,
		TriggerType:   r.TriggerType,
		OccurredAt:    r.OccurredAt.UTC(),
		Raw:           nonNilAnyMap(r.Raw),
		Labels:        nonNilStringMap(r.Labels),
		CreatedAt:     r.CreatedAt.UTC(),
	}
	if err := mapToStruct(r.Actor, &event.Actor); err != nil {
		return core.NormalizedEvent{}, err
	}
	if err := mapToStruct(r.Resource, &event.Resource); err != nil {
		return core.NormalizedEvent{}, err
	}
	return event, nil
}

func newDispatchRecord(id string, record core.DispatchRecord, now time.Time) *dispatchRecord {
	return &dispatchRecord{
		ID:             id,
		TenantID:       record.TenantID.String(),
		EventID:        record.EventID,
		Provider:       string(record.Provider),
		EventType:      record.EventType,
		Status:         string(record.Status),
		Attempts:       record.Attempts,
		CorrelationID:  record.CorrelationID,
		Targets:        nonNilStrings(record.Targets),
		LastError:      record.LastError,
		LastStatusCode: record.LastStatusCode,
		NextAttemptAt:  timePointer(record.NextAttemptAt),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (r *dispatchRecord) toDomain() (core.DispatchRecord, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.DispatchRecord{}, err
	}
	return core.DispatchRecord{
		ID:             r.ID,
		TenantID:       tenant,
		EventID:        r.EventID,
		Provider:       core.Provider(r.Provider),
		EventType:      r.EventType,
		Status:         core.DispatchStatus(r.Status),
		Attempts:       r.Attempts,
		CorrelationID:  r.CorrelationID,
		Targets:        append([]string(nil), r.Targets...),
		LastError:      r.LastError,
		LastStatusCode: r.LastStatusCode,
		NextAttemptAt:  timeValue(r.NextAttemptAt),
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}, nil
}

func newDispatchAttemptRecord(id string, attempt core.DispatchAttempt, now time.Time) *dispatchAttemptRecord {
	createdAt := attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	return &dispatchAttemptRecord{
		ID:            id,
		TenantID:      attempt.TenantID.String(),
		DispatchID:    attempt.DispatchID,
		EventID:       attempt.EventID,
		Attempt:       attempt.Attempt,
		CorrelationID: attempt.CorrelationID,
		Outcome:       string(attempt.Outcome),
		StatusCode:    attempt.StatusCode,
		Error:         attempt.Error,
		DurationMS:    attempt.DurationMS,
		CreatedAt:     createdAt.UTC(),
	}
}

func (r *dispatchAttemptRecord) toDomain() (core.DispatchAttempt, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.DispatchAttempt{}, err
	}
	return core.DispatchAttempt{
		ID:            r.ID,
		TenantID:      tenant,
		DispatchID:    r.DispatchID,
		EventID:       r.EventID,
		Attempt:       r.Attempt,
		CorrelationID: r.CorrelationID,
		Outcome:       core.DispatchOutcome(r.Outcome),
		StatusCode:    r.StatusCode,
		Error:         r.Error,
		DurationMS:    r.DurationMS,
		CreatedAt:     r.CreatedAt.UTC(),
	}, nil
}

func newNotificationRecord(id string, notification core.Notification, now time.Time) *notificationRecord {
	schemaVersion := notification.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = core.NotificationSchemaVersion
	}
	return &notificationRecord{
		ID:            id,
		TenantID:      notification.TenantID.String(),
		SchemaVersion: schemaVersion,
		Channel:       string(notification.Channel),
		Subject:       notification.Subject,
		Body:          notification.Body,
		Status:        string(notification.Status),
		Metadata:      nonNilAnyMap(notification.Metadata),
		RetryCount:    notification.RetryCount,
		MaxRetries:    notification.MaxRetries,
		LastError:     notification.LastError,
		ProviderRef:   notification.ProviderRef,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (r *notificationRecord) toDomain() (core.Notification, error) {
	tenant, err := core.ParseTenantID(r.TenantID)
	if err != nil {
		return core.Notification{}, err
	}
	return core.Notification{
		SchemaVersion: r.SchemaVersion,
		ID:            r.ID,
		TenantID:      tenant,
		Channel:       core.NotificationChannel(r.Channel),
		Subject:       r.Subject,
		Body:          r.Body,
		Status:        core.NotificationStatus(r.Status),
		Metadata:      nonNilAnyMap(r.Metadata),
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		LastError:     r.LastError,
		ProviderRef:   r.ProviderRef,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

func (r *auditLogRecord) toDomain() (core.AuditLogEntry, error) {
	tenant, err := core.ParseAuditTenantID(r.TenantID)
	if err != nil {
		return core.AuditLogEntry{}, err
	}
	return core.AuditLogEntry{
		ID:        r.ID,
		TenantID:  tenant,
		Action:    r.Action,
		Details:   nonNilAnyMap(r.Details),
		CreatedAt: r.CreatedAt.UTC(),
	}, nil
}

func structToMap(value any) (map[string]any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func mapToStruct(value map[string]any, target any) error {
	if len(value) == 0 {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func timeValue(value *time.Time) time.Time {
	if value == nil {
		return time.Time{}
	}
	return value.UTC()
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return append([]string(nil), values...)
}

func nonNilAnyMap(values map[string]any) map[string]any {
	if values == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

func nonNilStringMap(values map[string]string) map[string]string {
	if values == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}
