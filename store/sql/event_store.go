package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type EventStore struct {
	db   *bun.DB
	repo repository.Repository[*eventRecord]
	now  func() time.Time
}

func NewEventStore(db *bun.DB) (*EventStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "event", eventHandlers())
	if err != nil {
		return nil, err
	}
	return &EventStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *EventStore) Append(
	ctx context.Context,
	tenant core.TenantID,
	event core.NormalizedEvent,
) (core.NormalizedEvent, bool, error) {
	if s == nil || s.repo == nil {
		return core.NormalizedEvent{}, false, fmt.Errorf("sqlstore: event store is not configured")
	}
	if tenant.IsZero() {
		return core.NormalizedEvent{}, false, core.NewAuthError("tenant is required")
	}
	if strings.TrimSpace(event.EventID) == "" {
		return core.NormalizedEvent{}, false, core.NewBadInputError("event id is required")
	}
	event.TenantID = tenant
	record, err := newEventRecord(event, s.now())
	if err != nil {
		return core.NormalizedEvent{}, false, core.NewStorageError(err, "encode event")
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := s.Get(ctx, tenant, event.EventID)
			if getErr != nil {
				return core.NormalizedEvent{}, false, getErr
			}
			return existing, false, nil
		}
		return core.NormalizedEvent{}, false, core.NewStorageError(err, "append event")
	}
	stored, err := created.toDomain()
	if err != nil {
		return core.NormalizedEvent{}, false, core.NewStorageError(err, "decode event row")
	}
	return stored, true, nil
}

func (s *EventStore) Get(ctx context.Context, tenant core.TenantID, eventID string) (core.NormalizedEvent, error) {
	if s == nil || s.repo == nil {
		return core.NormalizedEvent{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("id", "=", strings.TrimSpace(eventID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.NormalizedEvent{}, core.NewStorageError(err, "load event")
	}
	if len(records) == 0 {
		return core.NormalizedEvent{}, core.NewNotFoundError("event not found")
	}
	event, err := records[0].toDomain()
	if err != nil {
		return core.NormalizedEvent{}, core.NewStorageError(err, "decode event row")
	}
	return event, nil
}

func (s *EventStore) List(ctx context.Context, tenant core.TenantID, filter core.EventFilter) (core.EventPage, error) {
	if s == nil || s.repo == nil {
		return core.EventPage{}, fmt.Errorf("sqlstore: event store is not configured")
	}
	limit, offset := core.NormalizePage(filter.Limit, filter.Offset)
	selectors := []repository.SelectCriteria{
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, offset),
	}
	if provider := strings.TrimSpace(string(filter.Provider)); provider != "" {
		selectors = append(selectors, repository.SelectBy("provider", "=", provider))
	}
	if eventType := strings.TrimSpace(filter.EventType); eventType != "" {
		selectors = append(selectors, repository.SelectBy("event_type", "=", eventType))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.EventPage{}, core.NewStorageError(err, "list events")
	}
	page := core.EventPage{Items: make([]core.NormalizedEvent, 0, len(records)), Total: total}
	for _, record := range records {
		event, convErr := record.toDomain()
		if convErr != nil {
			return core.EventPage{}, core.NewStorageError(convErr, "decode event row")
		}
		page.Items = append(page.Items, event)
	}
	return page, nil
}

var _ core.EventStore = (*EventStore)(nil)
