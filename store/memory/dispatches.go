package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	"github.com/google/uuid"
)

type DispatchStore struct {
	mu       sync.Mutex
	rows     map[string]core.DispatchRecord
	byEvent  map[string]string
	attempts map[string][]core.DispatchAttempt
	Now      func() time.Time
}

func NewDispatchStore() *DispatchStore {
	return &DispatchStore{
		rows:     map[string]core.DispatchRecord{},
		byEvent:  map[string]string{},
		attempts: map[string][]core.DispatchAttempt{},
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *DispatchStore) Create(_ context.Context, tenant core.TenantID, record core.DispatchRecord) (core.DispatchRecord, error) {
	if tenant.IsZero() {
		return core.DispatchRecord{}, core.NewAuthError("tenant is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byEvent[scopedKey(tenant, record.EventID)]; ok {
		return cloneDispatch(s.rows[scopedKey(tenant, id)]), nil
	}
	now := s.now()
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = core.DispatchStatusPending
	}
	if record.NextAttemptAt.IsZero() && record.Status.Claimable() {
		record.NextAttemptAt = now
	}
	record.TenantID = tenant
	record.CreatedAt = now
	record.UpdatedAt = now
	s.rows[scopedKey(tenant, record.ID)] = cloneDispatch(record)
	s.byEvent[scopedKey(tenant, record.EventID)] = record.ID
	return cloneDispatch(record), nil
}

func (s *DispatchStore) Get(_ context.Context, tenant core.TenantID, id string) (core.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.rows[scopedKey(tenant, strings.TrimSpace(id))]
	if !ok {
		return core.DispatchRecord{}, core.NewNotFoundError("dispatch record not found")
	}
	return cloneDispatch(record), nil
}

func (s *DispatchStore) GetByEvent(ctx context.Context, tenant core.TenantID, eventID string) (core.DispatchRecord, error) {
	s.mu.Lock()
	id, ok := s.byEvent[scopedKey(tenant, strings.TrimSpace(eventID))]
	s.mu.Unlock()
	if !ok {
		return core.DispatchRecord{}, core.NewNotFoundError("dispatch record not found")
	}
	return s.Get(ctx, tenant, id)
}

func (s *DispatchStore) Claim(
	_ context.Context,
	tenant core.TenantID,
	id string,
	now time.Time,
	leaseUntil time.Time,
) (core.DispatchRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, strings.TrimSpace(id))
	record, ok := s.rows[key]
	if !ok || !record.Status.Claimable() {
		return core.DispatchRecord{}, false, nil
	}
	if !record.NextAttemptAt.IsZero() && record.NextAttemptAt.After(now) {
		return core.DispatchRecord{}, false, nil
	}
	record.Status = core.DispatchStatusDispatching
	record.NextAttemptAt = leaseUntil.UTC()
	record.UpdatedAt = now.UTC()
	s.rows[key] = record
	return cloneDispatch(record), true, nil
}

func (s *DispatchStore) Update(_ context.Context, tenant core.TenantID, record core.DispatchRecord) (core.DispatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, strings.TrimSpace(record.ID))
	existing, ok := s.rows[key]
	if !ok {
		return core.DispatchRecord{}, core.NewNotFoundError("dispatch record not found")
	}
	existing.Status = record.Status
	existing.Attempts = record.Attempts
	existing.CorrelationID = record.CorrelationID
	existing.Targets = slices.Clone(record.Targets)
	existing.LastError = record.LastError
	existing.LastStatusCode = record.LastStatusCode
	existing.NextAttemptAt = record.NextAttemptAt
	existing.UpdatedAt = s.now()
	s.rows[key] = existing
	return cloneDispatch(existing), nil
}

func (s *DispatchStore) RecordAttempt(_ context.Context, tenant core.TenantID, attempt core.DispatchAttempt) error {
	if tenant.IsZero() {
		return core.NewAuthError("tenant is required")
	}
	attempt.TenantID = tenant
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}
	s.mu.Lock()
	key := scopedKey(tenant, attempt.DispatchID)
	s.attempts[key] = append(s.attempts[key], attempt)
	s.mu.Unlock()
	return nil
}

func (s *DispatchStore) ListAttempts(_ context.Context, tenant core.TenantID, dispatchID string) ([]core.DispatchAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Clone(s.attempts[scopedKey(tenant, strings.TrimSpace(dispatchID))])
	if out == nil {
		out = []core.DispatchAttempt{}
	}
	return out, nil
}

func (s *DispatchStore) ListDue(_ context.Context, now time.Time, limit int) ([]core.DispatchRef, error) {
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	due := []core.DispatchRecord{}
	for _, record := range s.rows {
		if !record.Status.Claimable() {
			continue
		}
		if !record.NextAttemptAt.IsZero() && record.NextAttemptAt.After(now) {
			continue
		}
		due = append(due, record)
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	refs := make([]core.DispatchRef, 0, min(limit, len(due)))
	for _, record := range due[:min(limit, len(due))] {
		refs = append(refs, core.DispatchRef{TenantID: record.TenantID, DispatchID: record.ID, EventID: record.EventID})
	}
	return refs, nil
}

func (s *DispatchStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func cloneDispatch(record core.DispatchRecord) core.DispatchRecord {
	record.Targets = slices.Clone(record.Targets)
	return record
}

type NotificationStore struct {
	mu   sync.Mutex
	rows map[string]core.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{rows: map[string]core.Notification{}}
}

func (s *NotificationStore) Create(_ context.Context, tenant core.TenantID, notification core.Notification) (core.Notification, error) {
	if tenant.IsZero() {
		return core.Notification{}, core.NewAuthError("tenant is required")
	}
	now := time.Now().UTC()
	if strings.TrimSpace(notification.ID) == "" {
		notification.ID = uuid.NewString()
	}
	notification.TenantID = tenant
	notification.CreatedAt = now
	notification.UpdatedAt = now
	notification.Metadata = maps.Clone(notification.Metadata)
	s.mu.Lock()
	s.rows[scopedKey(tenant, notification.ID)] = notification
	s.mu.Unlock()
	return notification, nil
}

func (s *NotificationStore) Get(_ context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	notification, ok := s.rows[scopedKey(tenant, strings.TrimSpace(id))]
	if !ok {
		return core.Notification{}, core.NewNotFoundError("notification not found")
	}
	notification.Metadata = maps.Clone(notification.Metadata)
	return notification, nil
}

func (s *NotificationStore) Update(
	_ context.Context,
	tenant core.TenantID,
	notification core.Notification,
	expected core.NotificationStatus,
) (core.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, strings.TrimSpace(notification.ID))
	existing, ok := s.rows[key]
	if !ok {
		return core.Notification{}, core.NewNotFoundError("notification not found")
	}
	if existing.Status != expected {
		return core.Notification{}, core.NewError(
			core.ErrorInvalidTransition,
			"notification status is "+string(existing.Status)+", expected "+string(expected),
		)
	}
	existing.Status = notification.Status
	existing.Metadata = maps.Clone(notification.Metadata)
	existing.RetryCount = notification.RetryCount
	existing.MaxRetries = notification.MaxRetries
	existing.LastError = notification.LastError
	existing.ProviderRef = notification.ProviderRef
	existing.UpdatedAt = time.Now().UTC()
	s.rows[key] = existing
	return existing, nil
}

var (
	_ core.DispatchStore     = (*DispatchStore)(nil)
	_ core.DueDispatchSource = (*DispatchStore)(nil)
	_ core.NotificationStore = (*NotificationStore)(nil)
)
