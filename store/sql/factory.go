package sqlstore

import (
	"fmt"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	credentialStore    *CredentialStore
	oauthStateStore    *OAuthStateStore
	webhookSecretStore *WebhookSecretStore
	cachedSecretStore  *CachedWebhookSecretStore
	replayGuardStore   *ReplayGuardStore
	subscriptionStore  *SubscriptionStore
	eventStore         *EventStore
	dispatchStore      *DispatchStore
	notificationStore  *NotificationStore
	auditStore         *AuditStore
}

type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	secretCacheTTL time.Duration
}

// WithSecretCacheTTL bounds how long webhook secret candidates are served
// from cache.
func WithSecretCacheTTL(ttl time.Duration) FactoryOption {
	return func(o *factoryOptions) {
		if ttl > 0 {
			o.secretCacheTTL = ttl
		}
	}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	return newRepositoryFactory(client, opts...)
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	return newRepositoryFactory(db, opts...)
}

func newRepositoryFactory(persistenceClient any, opts ...FactoryOption) (*RepositoryFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	options := factoryOptions{secretCacheTTL: 30 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	factory := &RepositoryFactory{db: db}
	if err := factory.initStores(options); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) CredentialStore() *CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) OAuthStateStore() *OAuthStateStore {
	if f == nil {
		return nil
	}
	return f.oauthStateStore
}

// WebhookSecretStore returns the cache-backed secret store; writes through it
// invalidate cached candidates.
func (f *RepositoryFactory) WebhookSecretStore() *CachedWebhookSecretStore {
	if f == nil {
		return nil
	}
	return f.cachedSecretStore
}

func (f *RepositoryFactory) ReplayGuardStore() *ReplayGuardStore {
	if f == nil {
		return nil
	}
	return f.replayGuardStore
}

func (f *RepositoryFactory) SubscriptionStore() *SubscriptionStore {
	if f == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) EventStore() *EventStore {
	if f == nil {
		return nil
	}
	return f.eventStore
}

func (f *RepositoryFactory) DispatchStore() *DispatchStore {
	if f == nil {
		return nil
	}
	return f.dispatchStore
}

func (f *RepositoryFactory) NotificationStore() *NotificationStore {
	if f == nil {
		return nil
	}
	return f.notificationStore
}

func (f *RepositoryFactory) AuditStore() *AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

func (f *RepositoryFactory) initStores(options factoryOptions) error {
	var err error
	if f.credentialStore, err = NewCredentialStore(f.db); err != nil {
		return err
	}
	if f.oauthStateStore, err = NewOAuthStateStore(f.db); err != nil {
		return err
	}
	if f.webhookSecretStore, err = NewWebhookSecretStore(f.db); err != nil {
		return err
	}
	cacheService, err := NewSecretCacheService(options.secretCacheTTL)
	if err != nil {
		return fmt.Errorf("sqlstore: webhook secret cache: %w", err)
	}
	if f.cachedSecretStore, err = NewCachedWebhookSecretStore(f.webhookSecretStore, cacheService); err != nil {
		return err
	}
	if f.replayGuardStore, err = NewReplayGuardStore(f.db); err != nil {
		return err
	}
	if f.subscriptionStore, err = NewSubscriptionStore(f.db); err != nil {
		return err
	}
	if f.eventStore, err = NewEventStore(f.db); err != nil {
		return err
	}
	if f.dispatchStore, err = NewDispatchStore(f.db); err != nil {
		return err
	}
	if f.notificationStore, err = NewNotificationStore(f.db); err != nil {
		return err
	}
	if f.auditStore, err = NewAuditStore(f.db); err != nil {
		return err
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		if typed == nil {
			return nil, fmt.Errorf("sqlstore: bun db is required")
		}
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
