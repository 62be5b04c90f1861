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

// CredentialStore persists sealed OAuth tokens, one row per tenant and
// provider.
type CredentialStore struct {
	db   *bun.DB
	repo repository.Repository[*oauthTokenRecord]
	now  func() time.Time
}

func NewCredentialStore(db *bun.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo, err := newRepository(db, "oauth token", oauthTokenHandlers())
	if err != nil {
		return nil, err
	}
	return &CredentialStore{db: db, repo: repo, now: utcNow}, nil
}

// Upsert refreshes the tenant's credential in place, keeping its identity and
// creation time.
func (s *CredentialStore) Upsert(
	ctx context.Context,
	tenant core.TenantID,
	credential core.EncryptedCredential,
) (core.EncryptedCredential, error) {
	if s == nil || s.db == nil {
		return core.EncryptedCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	if tenant.IsZero() {
		return core.EncryptedCredential{}, core.NewAuthError("tenant is required")
	}
	credential.TenantID = tenant
	now := s.now()

	var stored *oauthTokenRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing := &oauthTokenRecord{}
		selectErr := tx.NewSelect().
			Model(existing).
			Where("?TableAlias.tenant_id = ?", tenant.String()).
			Where("?TableAlias.provider = ?", string(credential.Provider)).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(selectErr, sql.ErrNoRows):
			record := newOAuthTokenRecord(uuid.NewString(), credential, now)
			created, createErr := s.repo.CreateTx(ctx, tx, record)
			if createErr != nil {
				return createErr
			}
			stored = created
			return nil
		case selectErr != nil:
			return selectErr
		}

		record := newOAuthTokenRecord(existing.ID, credential, now)
		record.CreatedAt = existing.CreatedAt
		_, updateErr := tx.NewUpdate().
			Model(record).
			Column("access_token", "refresh_token", "token_type", "expires_at", "scopes", "encryption_key", "updated_at").
			Where("id = ?", existing.ID).
			Where("tenant_id = ?", tenant.String()).
			Exec(ctx)
		if updateErr != nil {
			return updateErr
		}
		stored = record
		return nil
	})
	if err != nil {
		return core.EncryptedCredential{}, core.NewStorageError(err, "store oauth credential")
	}
	return stored.toDomain()
}

func (s *CredentialStore) Get(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
) (core.EncryptedCredential, error) {
	if s == nil || s.repo == nil {
		return core.EncryptedCredential{}, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.SelectBy("provider", "=", string(provider)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.EncryptedCredential{}, core.NewStorageError(err, "load oauth credential")
	}
	if len(records) == 0 {
		return core.EncryptedCredential{}, core.NewNotFoundError(
			fmt.Sprintf("no credential for provider %s", provider),
		)
	}
	return records[0].toDomain()
}

func (s *CredentialStore) List(ctx context.Context, tenant core.TenantID) ([]core.EncryptedCredential, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("sqlstore: credential store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", tenant.String()),
		repository.OrderBy("provider ASC"),
	)
	if err != nil {
		return nil, core.NewStorageError(err, "list oauth credentials")
	}
	out := make([]core.EncryptedCredential, 0, len(records))
	for _, record := range records {
		credential, convErr := record.toDomain()
		if convErr != nil {
			return nil, core.NewStorageError(convErr, "decode oauth credential row")
		}
		out = append(out, credential)
	}
	return out, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

var _ core.CredentialStore = (*CredentialStore)(nil)
