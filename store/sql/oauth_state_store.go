package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	"github.com/uptrace/bun"
)

type OAuthStateStore struct {
	db  *bun.DB
	now func() time.Time
}

func NewOAuthStateStore(db *bun.DB) (*OAuthStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	return &OAuthStateStore{db: db, now: utcNow}, nil
}

// Save stores a new state and drops the tenant's expired ones.
func (s *OAuthStateStore) Save(ctx context.Context, tenant core.TenantID, state core.OAuthState) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: oauth state store is not configured")
	}
	if tenant.IsZero() {
		return core.NewAuthError("tenant is required")
	}
	if strings.TrimSpace(state.State) == "" {
		return core.NewBadInputError("oauth state value is required")
	}
	state.TenantID = tenant
	record := newOAuthStateRecord(state)

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*oauthStateRecord)(nil)).
			Where("tenant_id = ?", tenant.String()).
			Where("expires_at < ?", s.now()).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return core.NewStorageError(err, "save oauth state")
	}
	return nil
}

// Consume deletes the state row and returns it. Only the caller whose delete
// removed the row succeeds.
func (s *OAuthStateStore) Consume(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	state string,
) (core.OAuthState, error) {
	if s == nil || s.db == nil {
		return core.OAuthState{}, fmt.Errorf("sqlstore: oauth state store is not configured")
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return core.OAuthState{}, core.NewNotFoundError("oauth state not found")
	}

	var consumed core.OAuthState
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record := &oauthStateRecord{}
		if err := tx.NewSelect().
			Model(record).
			Where("?TableAlias.state = ?", state).
			Where("?TableAlias.tenant_id = ?", tenant.String()).
			Where("?TableAlias.provider = ?", string(provider)).
			Limit(1).
			Scan(ctx); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return core.NewNotFoundError("oauth state not found")
			}
			return err
		}
		result, err := tx.NewDelete().
			Model((*oauthStateRecord)(nil)).
			Where("state = ?", state).
			Where("tenant_id = ?", tenant.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := result.RowsAffected(); affected != 1 {
			return core.NewNotFoundError("oauth state already consumed")
		}
		converted, err := record.toDomain()
		if err != nil {
			return err
		}
		consumed = converted
		return nil
	})
	if err != nil {
		return core.OAuthState{}, core.NewStorageError(err, "consume oauth state")
	}
	return consumed, nil
}

var _ core.OAuthStateStore = (*OAuthStateStore)(nil)
