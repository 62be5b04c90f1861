package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	"github.com/uptrace/bun"
)

type ReplayGuardStore struct {
	db *bun.DB
}

func NewReplayGuardStore(db *bun.DB) (*ReplayGuardStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &ReplayGuardStore{db: db}, nil
}

// Insert relies on the (tenant_id, delivery_id) primary key; a violation
// means the delivery was already admitted.
func (s *ReplayGuardStore) Insert(
	ctx context.Context,
	tenant core.TenantID,
	record core.ReplayGuardRecord,
) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: replay guard store is not configured")
	}
	if tenant.IsZero() {
		return false, core.NewAuthError("tenant is required")
	}
	deliveryID := strings.TrimSpace(record.DeliveryID)
	if deliveryID == "" {
		return false, core.NewBadInputError("delivery id is required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = utcNow()
	}
	row := &replayGuardRecord{
		TenantID:   tenant.String(),
		DeliveryID: deliveryID,
		Provider:   string(record.Provider),
		CreatedAt:  createdAt.UTC(),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, core.NewStorageError(err, "insert replay guard record")
	}
	return true, nil
}

func (s *ReplayGuardStore) Delete(ctx context.Context, tenant core.TenantID, deliveryID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: replay guard store is not configured")
	}
	_, err := s.db.NewDelete().
		Model((*replayGuardRecord)(nil)).
		Where("tenant_id = ?", tenant.String()).
		Where("delivery_id = ?", strings.TrimSpace(deliveryID)).
		Exec(ctx)
	if err != nil {
		return core.NewStorageError(err, "delete replay guard record")
	}
	return nil
}

func (s *ReplayGuardStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: replay guard store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*replayGuardRecord)(nil)).
		Where("created_at < ?", cutoff.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, core.NewStorageError(err, "prune replay guard")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

var (
	_ core.ReplayGuardStore  = (*ReplayGuardStore)(nil)
	_ core.ReplayGuardPruner = (*ReplayGuardStore)(nil)
)
