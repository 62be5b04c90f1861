package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const webhookSecretCandidatesCacheKeyPrefix = "broker::webhook_secret_candidates::v1"

// SecretStore is the combined read/write surface the cache decorates.
type SecretStore interface {
	core.WebhookSecretStore
	core.WebhookSecretCandidateSource
}

// CachedWebhookSecretStore serves provider candidate lookups from cache and
// invalidates the provider's entry whenever a secret is written, so a rotated
// secret is never verified against its predecessor.
type CachedWebhookSecretStore struct {
	base  SecretStore
	cache repositorycache.CacheService
}

func NewCachedWebhookSecretStore(
	base SecretStore,
	cacheService repositorycache.CacheService,
) (*CachedWebhookSecretStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook secret store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook secret cache service is required")
	}
	return &CachedWebhookSecretStore{base: base, cache: cacheService}, nil
}

// NewSecretCacheService builds the in-process cache used for candidate
// lookups.
func NewSecretCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// WebhookSecretCandidatesCacheKey returns
// broker::webhook_secret_candidates::v1::<provider>.
func WebhookSecretCandidatesCacheKey(provider core.Provider) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(string(provider)))
	if normalized == "" {
		return "", fmt.Errorf("sqlstore: provider is required for webhook secret cache key")
	}
	return webhookSecretCandidatesCacheKeyPrefix + "::" + url.PathEscape(normalized), nil
}

func (s *CachedWebhookSecretStore) Put(
	ctx context.Context,
	tenant core.TenantID,
	secret core.EncryptedWebhookSecret,
) (core.EncryptedWebhookSecret, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.EncryptedWebhookSecret{}, fmt.Errorf("sqlstore: cached webhook secret store is not configured")
	}
	stored, err := s.base.Put(ctx, tenant, secret)
	if err != nil {
		return core.EncryptedWebhookSecret{}, err
	}
	if err := s.Invalidate(ctx, stored.Provider); err != nil {
		return core.EncryptedWebhookSecret{}, core.NewStorageError(err, "invalidate webhook secret cache")
	}
	return stored, nil
}

func (s *CachedWebhookSecretStore) Get(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
) (core.EncryptedWebhookSecret, error) {
	if s == nil || s.base == nil {
		return core.EncryptedWebhookSecret{}, fmt.Errorf("sqlstore: cached webhook secret store is not configured")
	}
	return s.base.Get(ctx, tenant, provider)
}

func (s *CachedWebhookSecretStore) List(ctx context.Context, tenant core.TenantID) ([]core.EncryptedWebhookSecret, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook secret store is not configured")
	}
	return s.base.List(ctx, tenant)
}

func (s *CachedWebhookSecretStore) CandidatesForProvider(
	ctx context.Context,
	provider core.Provider,
) ([]core.EncryptedWebhookSecret, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook secret store is not configured")
	}
	cacheKey, err := WebhookSecretCandidatesCacheKey(provider)
	if err != nil {
		return nil, err
	}
	candidates, err := repositorycache.GetOrFetch(ctx, s.cache, cacheKey, func(ctx context.Context) ([]core.EncryptedWebhookSecret, error) {
		fetched, fetchErr := s.base.CandidatesForProvider(ctx, provider)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return cloneSecrets(fetched), nil
	})
	if err != nil {
		return nil, err
	}
	return cloneSecrets(candidates), nil
}

func (s *CachedWebhookSecretStore) Invalidate(ctx context.Context, provider core.Provider) error {
	cacheKey, err := WebhookSecretCandidatesCacheKey(provider)
	if err != nil {
		return err
	}
	return s.cache.Delete(ctx, cacheKey)
}

func cloneSecrets(secrets []core.EncryptedWebhookSecret) []core.EncryptedWebhookSecret {
	out := make([]core.EncryptedWebhookSecret, len(secrets))
	for i, secret := range secrets {
		secret.Secret = append([]byte(nil), secret.Secret...)
		out[i] = secret
	}
	return out
}

var _ SecretStore = (*CachedWebhookSecretStore)(nil)
