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

type NotificationStore struct {
	db   *bun.DB
	repo repository.Repository[*notificationRecord]
	now  func() time.Time
}

func NewNotificationStore(db *bun.DB) (*NotificationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "notification", notificationHandlers())
	if err != nil {
		return nil, err
	}
	return &NotificationStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *NotificationStore) Create(
	ctx context.Context,
	tenant core.TenantID,
	notification core.Notification,
) (core.Notification, error) {
	if s == nil || s.repo == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	if tenant.IsZero() {
		return core.Notification{}, core.NewAuthError("tenant is required")
	}
	notification.TenantID = tenant
	id := strings.TrimSpace(notification.ID)
	if id == "" {
		id = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, newNotificationRecord(id, notification, s.now()))
	if err != nil {
		return core.Notification{}, core.NewStorageError(err, "create notification")
	}
	return created.toDomain()
}

func (s *NotificationStore) Get(ctx context.Context, tenant core.TenantID, id string) (core.Notification, error) {
	if s == nil || s.repo == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("id", "=", strings.TrimSpace(id)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Notification{}, core.NewStorageError(err, "load notification")
	}
	if len(records) == 0 {
		return core.Notification{}, core.NewNotFoundError("notification not found")
	}
	return records[0].toDomain()
}

// Update writes the mutable notification fields when the stored status still
// equals expected.
func (s *NotificationStore) Update(
	ctx context.Context,
	tenant core.TenantID,
	notification core.Notification,
	expected core.NotificationStatus,
) (core.Notification, error) {
	if s == nil || s.db == nil {
		return core.Notification{}, fmt.Errorf("sqlstore: notification store is not configured")
	}
	id := strings.TrimSpace(notification.ID)
	notification.TenantID = tenant
	record := newNotificationRecord(id, notification, s.now())
	result, err := s.db.NewUpdate().
		Model(record).
		Column("status", "metadata", "retry_count", "max_retries", "last_error", "provider_ref", "updated_at").
		Where("id = ?", id).
		Where("tenant_id = ?", tenant.String()).
		Where("status = ?", string(expected)).
		Exec(ctx)
	if err != nil {
		return core.Notification{}, core.NewStorageError(err, "update notification")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		current, getErr := s.Get(ctx, tenant, id)
		if getErr != nil {
			return core.Notification{}, getErr
		}
		return core.Notification{}, core.NewError(
			core.ErrorInvalidTransition,
			fmt.Sprintf("notification status is %s, expected %s", current.Status, expected),
		)
	}
	return s.Get(ctx, tenant, id)
}

var _ core.NotificationStore = (*NotificationStore)(nil)
