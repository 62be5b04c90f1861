package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

type CredentialStore struct {
	mu   sync.Mutex
	rows map[string]core.EncryptedCredential
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{rows: map[string]core.EncryptedCredential{}}
}

func (s *CredentialStore) Upsert(_ context.Context, tenant core.TenantID, credential core.EncryptedCredential) (core.EncryptedCredential, error) {
	if tenant.IsZero() {
		return core.EncryptedCredential{}, core.NewAuthError("tenant is required")
	}
	now := time.Now().UTC()
	credential.TenantID = tenant
	credential.Scopes = slices.Clone(credential.Scopes)
	credential.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, credential.Provider.String())
	if existing, ok := s.rows[key]; ok {
		credential.CreatedAt = existing.CreatedAt
	} else {
		credential.CreatedAt = now
	}
	s.rows[key] = credential
	return credential, nil
}

func (s *CredentialStore) Get(_ context.Context, tenant core.TenantID, provider core.Provider) (core.EncryptedCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	credential, ok := s.rows[scopedKey(tenant, provider.String())]
	if !ok {
		return core.EncryptedCredential{}, core.NewNotFoundError("oauth credential not found")
	}
	return credential, nil
}

func (s *CredentialStore) List(_ context.Context, tenant core.TenantID) ([]core.EncryptedCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.EncryptedCredential{}
	for _, credential := range s.rows {
		if credential.TenantID == tenant {
			out = append(out, credential)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

type WebhookSecretStore struct {
	mu   sync.Mutex
	rows map[string]core.EncryptedWebhookSecret
}

func NewWebhookSecretStore() *WebhookSecretStore {
	return &WebhookSecretStore{rows: map[string]core.EncryptedWebhookSecret{}}
}

func (s *WebhookSecretStore) Put(_ context.Context, tenant core.TenantID, secret core.EncryptedWebhookSecret) (core.EncryptedWebhookSecret, error) {
	if tenant.IsZero() {
		return core.EncryptedWebhookSecret{}, core.NewAuthError("tenant is required")
	}
	now := time.Now().UTC()
	secret.TenantID = tenant
	secret.Secret = slices.Clone(secret.Secret)
	secret.RotatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopedKey(tenant, secret.Provider.String())
	if existing, ok := s.rows[key]; ok {
		secret.CreatedAt = existing.CreatedAt
	} else {
		secret.CreatedAt = now
	}
	s.rows[key] = secret
	return secret, nil
}

func (s *WebhookSecretStore) Get(_ context.Context, tenant core.TenantID, provider core.Provider) (core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.rows[scopedKey(tenant, provider.String())]
	if !ok {
		return core.EncryptedWebhookSecret{}, core.NewNotFoundError("webhook secret not found")
	}
	return secret, nil
}

func (s *WebhookSecretStore) List(_ context.Context, tenant core.TenantID) ([]core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.EncryptedWebhookSecret{}
	for _, secret := range s.rows {
		if secret.TenantID == tenant {
			out = append(out, secret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *WebhookSecretStore) CandidatesForProvider(_ context.Context, provider core.Provider) ([]core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.EncryptedWebhookSecret{}
	for _, secret := range s.rows {
		if secret.Provider == provider {
			out = append(out, secret)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID.String() < out[j].TenantID.String() })
	return out, nil
}

func scopedKey(tenant core.TenantID, parts ...string) string {
	key := tenant.String()
	for _, part := range parts {
		key += "\x00" + part
	}
	return key
}

var (
	_ core.CredentialStore              = (*CredentialStore)(nil)
	_ core.WebhookSecretStore           = (*WebhookSecretStore)(nil)
	_ core.WebhookSecretCandidateSource = (*WebhookSecretStore)(nil)
)
