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

// AuditStore is append-only: it exposes no update or delete path.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditLogRecord]
	now  func() time.Time
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "audit log", auditLogHandlers())
	if err != nil {
		return nil, err
	}
	return &AuditStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *AuditStore) Append(ctx context.Context, tenant core.TenantID, entry core.AuditLogEntry) (core.AuditLogEntry, error) {
	if s == nil || s.repo == nil {
		return core.AuditLogEntry{}, fmt.Errorf("sqlstore: audit store is not configured")
	}
	tenant = tenant.AuditTenant()
	action := strings.TrimSpace(entry.Action)
	if action == "" {
		return core.AuditLogEntry{}, core.NewBadInputError("audit action is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	id := strings.TrimSpace(entry.ID)
	if id == "" {
		id = uuid.NewString()
	}
	record := &auditLogRecord{
		ID:        id,
		TenantID:  tenant.String(),
		Action:    action,
		Details:   nonNilAnyMap(entry.Details),
		CreatedAt: createdAt.UTC(),
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.AuditLogEntry{}, core.NewStorageError(err, "append audit log entry")
	}
	stored, err := created.toDomain()
	if err != nil {
		return core.AuditLogEntry{}, core.NewStorageError(err, "decode audit log row")
	}
	return stored, nil
}

func (s *AuditStore) List(ctx context.Context, tenant core.TenantID, filter core.AuditFilter) (core.AuditPage, error) {
	if s == nil || s.repo == nil {
		return core.AuditPage{}, fmt.Errorf("sqlstore: audit store is not configured")
	}
	limit, offset := core.NormalizePage(filter.Limit, filter.Offset)
	selectors := []repository.SelectCriteria{
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(limit, offset),
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		selectors = append(selectors, repository.SelectBy("action", "=", action))
	}

	records, total, err := s.repo.List(ctx, selectors...)
	if err != nil {
		return core.AuditPage{}, core.NewStorageError(err, "list audit log")
	}
	page := core.AuditPage{Items: make([]core.AuditLogEntry, 0, len(records)), Total: total}
	for _, record := range records {
		entry, convErr := record.toDomain()
		if convErr != nil {
			return core.AuditPage{}, core.NewStorageError(convErr, "decode audit log row")
		}
		page.Items = append(page.Items, entry)
	}
	return page, nil
}

var _ core.AuditStore = (*AuditStore)(nil)
