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

type SubscriptionStore struct {
	mu   sync.Mutex
	rows map[string]core.Subscription
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{rows: map[string]core.Subscription{}}
}

func (s *SubscriptionStore) Create(_ context.Context, tenant core.TenantID, subscription core.Subscription) (core.Subscription, error) {
	if tenant.IsZero() {
		return core.Subscription{}, core.NewAuthError("tenant is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.rows {
		if existing.TenantID == tenant && existing.Provider == subscription.Provider &&
			existing.EventType == subscription.EventType && existing.Target == subscription.Target {
			return core.Subscription{}, core.NewBadInputError("subscription already exists")
		}
	}
	now := time.Now().UTC()
	subscription.ID = uuid.NewString()
	subscription.TenantID = tenant
	subscription.CreatedAt = now
	subscription.UpdatedAt = now
	s.rows[scopedKey(tenant, subscription.ID)] = subscription
	return subscription, nil
}

func (s *SubscriptionStore) Get(_ context.Context, tenant core.TenantID, id string) (core.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subscription, ok := s.rows[scopedKey(tenant, strings.TrimSpace(id))]
	if !ok {
		return core.Subscription{}, core.NewNotFoundError("subscription not found")
	}
	return subscription, nil
}

func (s *SubscriptionStore) List(ctx context.Context, tenant core.TenantID) ([]core.Subscription, error) {
	return s.filter(tenant, func(core.Subscription) bool { return true }), nil
}

func (s *SubscriptionStore) ListForProvider(_ context.Context, tenant core.TenantID, provider core.Provider) ([]core.Subscription, error) {
	return s.filter(tenant, func(sub core.Subscription) bool { return sub.Provider == provider }), nil
}

func (s *SubscriptionStore) Delete(_ context.Context, tenant core.TenantID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, strings.TrimSpace(id))
	if _, ok := s.rows[key]; !ok {
		return core.NewNotFoundError("subscription not found")
	}
	delete(s.rows, key)
	return nil
}

func (s *SubscriptionStore) filter(tenant core.TenantID, keep func(core.Subscription) bool) []core.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.Subscription{}
	for _, subscription := range s.rows {
		if subscription.TenantID == tenant && keep(subscription) {
			out = append(out, subscription)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type EventStore struct {
	mu    sync.Mutex
	rows  map[string]core.NormalizedEvent
	order []string
}

func NewEventStore() *EventStore {
	return &EventStore{rows: map[string]core.NormalizedEvent{}}
}

func (s *EventStore) Append(_ context.Context, tenant core.TenantID, event core.NormalizedEvent) (core.NormalizedEvent, bool, error) {
	if tenant.IsZero() {
		return core.NormalizedEvent{}, false, core.NewAuthError("tenant is required")
	}
	if strings.TrimSpace(event.EventID) == "" {
		return core.NormalizedEvent{}, false, core.NewBadInputError("event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, event.EventID)
	if existing, ok := s.rows[key]; ok {
		return cloneEvent(existing), false, nil
	}
	event.TenantID = tenant
	event.CreatedAt = time.Now().UTC()
	event = cloneEvent(event)
	s.rows[key] = event
	s.order = append(s.order, key)
	return cloneEvent(event), true, nil
}

func (s *EventStore) Get(_ context.Context, tenant core.TenantID, eventID string) (core.NormalizedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.rows[scopedKey(tenant, strings.TrimSpace(eventID))]
	if !ok {
		return core.NormalizedEvent{}, core.NewNotFoundError("event not found")
	}
	return cloneEvent(event), nil
}

func (s *EventStore) List(_ context.Context, tenant core.TenantID, filter core.EventFilter) (core.EventPage, error) {
	limit, offset := core.NormalizePage(filter.Limit, filter.Offset)
	s.mu.Lock()
	matched := []core.NormalizedEvent{}
	for _, key := range slices.Backward(s.order) {
		event := s.rows[key]
		if event.TenantID != tenant {
			continue
		}
		if filter.Provider != "" && event.Provider != filter.Provider {
			continue
		}
		if filter.EventType != "" && event.EventType != filter.EventType {
			continue
		}
		matched = append(matched, cloneEvent(event))
	}
	s.mu.Unlock()

	page := core.EventPage{Items: []core.NormalizedEvent{}, Total: len(matched)}
	if offset < len(matched) {
		page.Items = matched[offset:min(offset+limit, len(matched))]
	}
	return page, nil
}

// Count returns the number of events stored for tenant.
func (s *EventStore) Count(tenant core.TenantID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, event := range s.rows {
		if event.TenantID == tenant {
			count++
		}
	}
	return count
}

func cloneEvent(event core.NormalizedEvent) core.NormalizedEvent {
	event.Raw = maps.Clone(event.Raw)
	event.Labels = maps.Clone(event.Labels)
	return event
}

var (
	_ core.SubscriptionStore = (*SubscriptionStore)(nil)
	_ core.EventStore        = (*EventStore)(nil)
)
