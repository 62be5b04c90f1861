package broker

import (
	"context"
	"io/fs"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"github.com/goliatone/go-integration-broker/migrations"
	"github.com/goliatone/go-integration-broker/oauth"
	"github.com/goliatone/go-integration-broker/replay"
	"github.com/goliatone/go-integration-broker/store/memory"
	sqlstore "github.com/goliatone/go-integration-broker/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
)

type stores struct {
	credentials   core.CredentialStore
	states        core.OAuthStateStore
	secrets       core.WebhookSecretStore
	candidates    core.WebhookSecretCandidateSource
	replay        core.ReplayGuardStore
	subscriptions core.SubscriptionStore
	events        core.EventStore
	dispatches    core.DispatchStore
	notifications core.NotificationStore
	audit         core.AuditStore

	owned *persistence.Client
}

func (s *stores) close() error {
	if s == nil || s.owned == nil {
		return nil
	}
	client := s.owned
	s.owned = nil
	return client.Close()
}

func openStores(ctx context.Context, cfg Config, o options) (*stores, error) {
	if o.memory {
		return memoryStores(), nil
	}
	client := o.client
	var owned *persistence.Client
	if client == nil {
		opened, err := sqlstore.OpenClient(cfg.Database)
		if err != nil {
			return nil, core.NewStorageError(err, "broker: open database")
		}
		if cfg.Database.AutoMigrate {
			if err := Migrate(ctx, opened, cfg.Database.Driver); err != nil {
				_ = opened.Close()
				return nil, err
			}
		}
		client, owned = opened, opened
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, sqlstore.WithSecretCacheTTL(cfg.Webhooks.SecretCacheTTL))
	if err != nil {
		if owned != nil {
			_ = owned.Close()
		}
		return nil, err
	}
	secrets := factory.WebhookSecretStore()
	return &stores{
		credentials:   factory.CredentialStore(),
		states:        factory.OAuthStateStore(),
		secrets:       secrets,
		candidates:    secrets,
		replay:        factory.ReplayGuardStore(),
		subscriptions: factory.SubscriptionStore(),
		events:        factory.EventStore(),
		dispatches:    factory.DispatchStore(),
		notifications: factory.NotificationStore(),
		audit:         factory.AuditStore(),
		owned:         owned,
	}, nil
}

func memoryStores() *stores {
	secrets := memory.NewWebhookSecretStore()
	return &stores{
		credentials:   memory.NewCredentialStore(),
		states:        oauth.NewMemoryStateStore(),
		secrets:       secrets,
		candidates:    secrets,
		replay:        replay.NewMemoryStore(),
		subscriptions: memory.NewSubscriptionStore(),
		events:        memory.NewEventStore(),
		dispatches:    memory.NewDispatchStore(),
		notifications: memory.NewNotificationStore(),
		audit:         audit.NewMemoryStore(),
	}
}

// Migrate registers the embedded migrations of driver's dialect on client
// and applies them.
func Migrate(ctx context.Context, client *persistence.Client, driver string) error {
	dialect, err := migrations.DialectForDriver(driver)
	if err != nil {
		return err
	}
	_, err = migrations.Register(ctx, GetMigrationsFS(), func(_ context.Context, _ string, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return core.NewStorageError(err, "broker: apply migrations")
	}
	return nil
}
