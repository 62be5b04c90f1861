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

type SubscriptionStore struct {
	db   *bun.DB
	repo repository.Repository[*subscriptionRecord]
	now  func() time.Time
}

func NewSubscriptionStore(db *bun.DB) (*SubscriptionStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "subscription", subscriptionHandlers())
	if err != nil {
		return nil, err
	}
	return &SubscriptionStore{db: db, repo: repo, now: utcNow}, nil
}

func (s *SubscriptionStore) Create(
	ctx context.Context,
	tenant core.TenantID,
	subscription core.Subscription,
) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	if tenant.IsZero() {
		return core.Subscription{}, core.NewAuthError("tenant is required")
	}
	subscription.TenantID = tenant
	id := strings.TrimSpace(subscription.ID)
	if id == "" {
		id = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, newSubscriptionRecord(id, subscription, s.now()))
	if err != nil {
		if isUniqueViolation(err) {
			return core.Subscription{}, core.NewBadInputError("subscription already exists")
		}
		return core.Subscription{}, core.NewStorageError(err, "create subscription")
	}
	return created.toDomain()
}

func (s *SubscriptionStore) Get(ctx context.Context, tenant core.TenantID, id string) (core.Subscription, error) {
	if s == nil || s.repo == nil {
		return core.Subscription{}, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("id", "=", strings.TrimSpace(id)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.Subscription{}, core.NewStorageError(err, "load subscription")
	}
	if len(records) == 0 {
		return core.Subscription{}, core.NewNotFoundError("subscription not found")
	}
	return records[0].toDomain()
}

func (s *SubscriptionStore) List(ctx context.Context, tenant core.TenantID) ([]core.Subscription, error) {
	return s.list(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.OrderBy("created_at ASC"),
	)
}

func (s *SubscriptionStore) ListForProvider(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
) ([]core.Subscription, error) {
	return s.list(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("provider", "=", string(provider)),
		repository.OrderBy("created_at ASC"),
	)
}

func (s *SubscriptionStore) Delete(ctx context.Context, tenant core.TenantID, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: subscription store is not configured")
	}
	result, err := s.db.NewDelete().
		Model((*subscriptionRecord)(nil)).
		Where("tenant_id = ?", tenant.String()).
		Where("id = ?", strings.TrimSpace(id)).
		Exec(ctx)
	if err != nil {
		return core.NewStorageError(err, "delete subscription")
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.NewNotFoundError("subscription not found")
	}
	return nil
}

func (s *SubscriptionStore) list(ctx context.Context, criteria ...repository.SelectCriteria) ([]core.Subscription, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: subscription store is not configured")
	}
	records, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, core.NewStorageError(err, "list subscriptions")
	}
	out := make([]core.Subscription, 0, len(records))
	for _, record := range records {
		subscription, convErr := record.toDomain()
		if convErr != nil {
			return nil, core.NewStorageError(convErr, "decode subscription row")
		}
		out = append(out, subscription)
	}
	return out, nil
}

var _ core.SubscriptionStore = (*SubscriptionStore)(nil)
