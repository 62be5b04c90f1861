package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var claimableDispatchStatuses = []string{
	string(core.DispatchStatusPending),
	string(core.DispatchStatusQueued),
	string(core.DispatchStatusDispatching),
}

// DispatchStore is the durable dispatch ledger: one row per event plus an
// append-only attempt log.
type DispatchStore struct {
	db          *bun.DB
	repo        repository.Repository[*dispatchRecord]
	attemptRepo repository.Repository[*dispatchAttemptRecord]
	now         func() time.Time
}

func NewDispatchStore(db *bun.DB) (*DispatchStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "dispatch", dispatchHandlers())
	if err != nil {
		return nil, err
	}
	attemptRepo, err := newRepository(db, "dispatch attempt", dispatchAttemptHandlers())
	if err != nil {
		return nil, err
	}
	return &DispatchStore{db: db, repo: repo, attemptRepo: attemptRepo, now: utcNow}, nil
}

// Create is idempotent per event: a second call for the same event returns
// the existing record.
func (s *DispatchStore) Create(
	ctx context.Context,
	tenant core.TenantID,
	record core.DispatchRecord,
) (core.DispatchRecord, error) {
	if s == nil || s.repo == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	if tenant.IsZero() {
		return core.DispatchRecord{}, core.NewAuthError("tenant is required")
	}
	record.TenantID = tenant
	id := strings.TrimSpace(record.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = core.DispatchStatusPending
	}
	now := s.now()
	if record.NextAttemptAt.IsZero() && record.Status.Claimable() {
		record.NextAttemptAt = now
	}
	created, err := s.repo.Create(ctx, newDispatchRecord(id, record, now))
	if err != nil {
		if isUniqueViolation(err) {
			return s.GetByEvent(ctx, tenant, record.EventID)
		}
		return core.DispatchRecord{}, core.NewStorageError(err, "create dispatch record")
	}
	return created.toDomain()
}

func (s *DispatchStore) Get(ctx context.Context, tenant core.TenantID, id string) (core.DispatchRecord, error) {
	return s.getBy(ctx, tenant, "id", id)
}

func (s *DispatchStore) GetByEvent(ctx context.Context, tenant core.TenantID, eventID string) (core.DispatchRecord, error) {
	return s.getBy(ctx, tenant, "event_id", eventID)
}

func (s *DispatchStore) Claim(
	ctx context.Context,
	tenant core.TenantID,
	id string,
	now time.Time,
	leaseUntil time.Time,
) (core.DispatchRecord, bool, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, false, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	id = strings.TrimSpace(id)
	result, err := s.db.NewUpdate().
		Model((*dispatchRecord)(nil)).
		Set("status = ?", string(core.DispatchStatusDispatching)).
		Set("next_attempt_at = ?", leaseUntil.UTC()).
		Set("updated_at = ?", now.UTC()).
		Where("id = ?", id).
		Where("tenant_id = ?", tenant.String()).
		Where("status IN (?)", bun.In(claimableDispatchStatuses)).
		Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now.UTC()).
		Exec(ctx)
	if err != nil {
		return core.DispatchRecord{}, false, core.NewStorageError(err, "claim dispatch record")
	}
	if affected, _ := result.RowsAffected(); affected != 1 {
		return core.DispatchRecord{}, false, nil
	}
	claimed, err := s.Get(ctx, tenant, id)
	if err != nil {
		return core.DispatchRecord{}, false, err
	}
	return claimed, true, nil
}

func (s *DispatchStore) Update(
	ctx context.Context,
	tenant core.TenantID,
	record core.DispatchRecord,
) (core.DispatchRecord, error) {
	if s == nil || s.db == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	record.TenantID = tenant
	row := newDispatchRecord(record.ID, record, s.now())
	result, err := s.db.NewUpdate().
		Model(row).
		Column("status", "attempts", "correlation_id", "targets", "last_error", "last_status_code", "next_attempt_at", "updated_at").
		Where("id = ?", row.ID).
		Where("tenant_id = ?", tenant.String()).
		Exec(ctx)
	if err != nil {
		return core.DispatchRecord{}, core.NewStorageError(err, "update dispatch record")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.DispatchRecord{}, core.NewNotFoundError("dispatch record not found")
	}
	return s.Get(ctx, tenant, row.ID)
}

func (s *DispatchStore) RecordAttempt(ctx context.Context, tenant core.TenantID, attempt core.DispatchAttempt) error {
	if s == nil || s.attemptRepo == nil {
		return fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	attempt.TenantID = tenant
	id := strings.TrimSpace(attempt.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := s.attemptRepo.Create(ctx, newDispatchAttemptRecord(id, attempt, s.now())); err != nil {
		return core.NewStorageError(err, "record dispatch attempt")
	}
	return nil
}

func (s *DispatchStore) ListAttempts(
	ctx context.Context,
	tenant core.TenantID,
	dispatchID string,
) ([]core.DispatchAttempt, error) {
	if s == nil || s.attemptRepo == nil {
		return nil, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	records, _, err := s.attemptRepo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("dispatch_id", "=", strings.TrimSpace(dispatchID)),
		repository.OrderBy("attempt ASC"),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, core.NewStorageError(err, "list dispatch attempts")
	}
	out := make([]core.DispatchAttempt, 0, len(records))
	for _, record := range records {
		attempt, convErr := record.toDomain()
		if convErr != nil {
			return nil, core.NewStorageError(convErr, "decode dispatch attempt row")
		}
		out = append(out, attempt)
	}
	return out, nil
}

// ListDue returns references to records whose next attempt is due, including
// dispatching records whose lease expired.
func (s *DispatchStore) ListDue(ctx context.Context, now time.Time, limit int) ([]core.DispatchRef, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	var rows []dispatchRecord
	err := s.db.NewSelect().
		Model(&rows).
		Column("id", "tenant_id", "event_id").
		Where("?TableAlias.status IN (?)", bun.In(claimableDispatchStatuses)).
		Where("(?TableAlias.next_attempt_at IS NULL OR ?TableAlias.next_attempt_at <= ?)", now.UTC()).
		OrderExpr("?TableAlias.next_attempt_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, core.NewStorageError(err, "list due dispatch records")
	}
	refs := make([]core.DispatchRef, 0, len(rows))
	for _, row := range rows {
		tenant, parseErr := core.ParseTenantID(row.TenantID)
		if parseErr != nil {
			continue
		}
		refs = append(refs, core.DispatchRef{TenantID: tenant, DispatchID: row.ID, EventID: row.EventID})
	}
	return refs, nil
}

func (s *DispatchStore) getBy(ctx context.Context, tenant core.TenantID, column string, value string) (core.DispatchRecord, error) {
	if s == nil || s.repo == nil {
		return core.DispatchRecord{}, fmt.Errorf("sqlstore: dispatch store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy(column, "=", strings.TrimSpace(value)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.DispatchRecord{}, core.NewStorageError(err, "load dispatch record")
	}
	if len(records) == 0 {
		return core.DispatchRecord{}, core.NewNotFoundError("dispatch record not found")
	}
	return records[0].toDomain()
}

var (
	_ core.DispatchStore     = (*DispatchStore)(nil)
	_ core.DueDispatchSource = (*DispatchStore)(nil)
)
