package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type WebhookSecretStore struct {
	db   *bun.DB
	repo repository.Repository[*webhookSecretRecord]
	now  func() time.Time
}

func NewWebhookSecretStore(db *bun.DB) (*WebhookSecretStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "webhook secret", webhookSecretHandlers())
	if err != nil {
		return nil, err
	}
	return &WebhookSecretStore{db: db, repo: repo, now: utcNow}, nil
}

// Put stores or rotates the tenant's secret for a provider.
func (s *WebhookSecretStore) Put(
	ctx context.Context,
	tenant core.TenantID,
	secret core.EncryptedWebhookSecret,
) (core.EncryptedWebhookSecret, error) {
	if s == nil || s.db == nil {
		return core.EncryptedWebhookSecret{}, fmt.Errorf("sqlstore: webhook secret store is not configured")
	}
	if tenant.IsZero() {
		return core.EncryptedWebhookSecret{}, core.NewAuthError("tenant is required")
	}
	secret.TenantID = tenant
	now := s.now()

	var stored *webhookSecretRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &webhookSecretRecord{}
		selectErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.tenant_id = ?", tenant.String()).
			Where("?TableAlias.provider = ?", string(secret.Provider)).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(selectErr, sql.ErrNoRows):
			created, createErr := s.repo.CreateTx(ctx, tx, newWebhookSecretRecord(uuid.NewString(), secret, now))
			if createErr != nil {
				return createErr
			}
			stored = created
			return nil
		case selectErr != nil:
			return selectErr
		}

		record := newWebhookSecretRecord(existing.ID, secret, now)
		record.CreatedAt = existing.CreatedAt
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Column("secret", "account_id", "rotated_at").
			Where("id = ?", existing.ID).
			Where("tenant_id = ?", tenant.String()).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		stored = record
		return nil
	})
	if err != nil {
		return core.EncryptedWebhookSecret{}, core.NewStorageError(err, "store webhook secret")
	}
	return stored.toDomain()
}

func (s *WebhookSecretStore) Get(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
) (core.EncryptedWebhookSecret, error) {
	if s == nil || s.repo == nil {
		return core.EncryptedWebhookSecret{}, fmt.Errorf("sqlstore: webhook secret store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("provider", "=", string(provider)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.EncryptedWebhookSecret{}, core.NewStorageError(err, "load webhook secret")
	}
	if len(records) == 0 {
		return core.EncryptedWebhookSecret{}, core.NewNotFoundError(
			fmt.Sprintf("no webhook secret for provider %s", provider),
		)
	}
	return records[0].toDomain()
}

func (s *WebhookSecretStore) List(ctx context.Context, tenant core.TenantID) ([]core.EncryptedWebhookSecret, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook secret store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.OrderBy("provider ASC"),
	)
	if err != nil {
		return nil, core.NewStorageError(err, "list webhook secrets")
	}
	return secretsToDomain(records)
}

// CandidatesForProvider returns every tenant's sealed secret for provider.
func (s *WebhookSecretStore) CandidatesForProvider(
	ctx context.Context,
	provider core.Provider,
) ([]core.EncryptedWebhookSecret, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: webhook secret store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("provider", "=", string(provider)),
		repository.OrderBy("tenant_id ASC"),
	)
	if err != nil {
		return nil, core.NewStorageError(err, "list webhook secret candidates")
	}
	return secretsToDomain(records)
}

func secretsToDomain(records []*webhookSecretRecord) ([]core.EncryptedWebhookSecret, error) {
	out := make([]core.EncryptedWebhookSecret, 0, len(records))
	for _, record := range records {
		secret, err := record.toDomain()
		if err != nil {
			return nil, core.NewStorageError(err, "decode webhook secret row")
		}
		out = append(out, secret)
	}
	return out, nil
}

var (
	_ core.WebhookSecretStore           = (*WebhookSecretStore)(nil)
	_ core.WebhookSecretCandidateSource = (*WebhookSecretStore)(nil)
)
