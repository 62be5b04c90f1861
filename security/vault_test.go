package security

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

type memoryCredentialStore struct {
	mu   sync.Mutex
	rows map[string]core.EncryptedCredential
}

func (s *memoryCredentialStore) key(tenant core.TenantID, provider core.Provider) string {
	return tenant.String() + "|" + provider.String()
}

func (s *memoryCredentialStore) Upsert(_ context.Context, tenant core.TenantID, cred core.EncryptedCredential) (core.EncryptedCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]core.EncryptedCredential{}
	}
	if existing, ok := s.rows[s.key(tenant, cred.Provider)]; ok {
		cred.CreatedAt = existing.CreatedAt
	}
	s.rows[s.key(tenant, cred.Provider)] = cred
	return cred, nil
}

func (s *memoryCredentialStore) Get(_ context.Context, tenant core.TenantID, provider core.Provider) (core.EncryptedCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.rows[s.key(tenant, provider)]
	if !ok {
		return core.EncryptedCredential{}, core.NewNotFoundError("credential not found")
	}
	return cred, nil
}

func (s *memoryCredentialStore) List(_ context.Context, tenant core.TenantID) ([]core.EncryptedCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.EncryptedCredential{}
	for _, cred := range s.rows {
		if cred.TenantID == tenant {
			out = append(out, cred)
		}
	}
	return out, nil
}

type memorySecretStore struct {
	mu   sync.Mutex
	rows map[string]core.EncryptedWebhookSecret
}

func (s *memorySecretStore) Put(_ context.Context, tenant core.TenantID, secret core.EncryptedWebhookSecret) (core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rows == nil {
		s.rows = map[string]core.EncryptedWebhookSecret{}
	}
	s.rows[tenant.String()+"|"+secret.Provider.String()] = secret
	return secret, nil
}

func (s *memorySecretStore) Get(_ context.Context, tenant core.TenantID, provider core.Provider) (core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.rows[tenant.String()+"|"+provider.String()]
	if !ok {
		return core.EncryptedWebhookSecret{}, core.NewNotFoundError("secret not found")
	}
	return secret, nil
}

func (s *memorySecretStore) List(_ context.Context, tenant core.TenantID) ([]core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.EncryptedWebhookSecret{}
	for _, secret := range s.rows {
		if secret.TenantID == tenant {
			out = append(out, secret)
		}
	}
	return out, nil
}

func (s *memorySecretStore) CandidatesForProvider(_ context.Context, provider core.Provider) ([]core.EncryptedWebhookSecret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.EncryptedWebhookSecret{}
	for _, secret := range s.rows {
		if secret.Provider == provider {
			out = append(out, secret)
		}
	}
	return out, nil
}

func newTestVault(t *testing.T) (*Vault, *memoryCredentialStore, *memorySecretStore) {
	t.Helper()
	c, err := NewAESGCMCipher([]byte("vault-test-key-material"))
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	credentials := &memoryCredentialStore{}
	secrets := &memorySecretStore{}
	vault, err := NewVault(VaultConfig{
		Credentials: credentials,
		Secrets:     secrets,
		Candidates:  secrets,
		Cipher:      c,
		Now:         func() time.Time { return time.Date(2026, 2, 13, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return vault, credentials, secrets
}

func TestVaultStoreRetrieveRoundTrip(t *testing.T) {
	vault, credentials, _ := newTestVault(t)
	tenant := core.MustTenantID("acme")
	expires := time.Date(2026, 2, 13, 13, 0, 0, 0, time.UTC)

	_, err := vault.Store(context.Background(), tenant, core.ProviderSlack, core.OAuthToken{
		AccessToken:  "xoxb-access",
		RefreshToken: "xoxe-refresh",
		TokenType:    "bearer",
		ExpiresAt:    expires,
		Scopes:       []string{"chat:write"},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	raw, _ := credentials.Get(context.Background(), tenant, core.ProviderSlack)
	if bytes.Contains(raw.AccessToken, []byte("xoxb-access")) || bytes.Contains(raw.RefreshToken, []byte("xoxe-refresh")) {
		t.Fatalf("expected tokens to be sealed at rest")
	}

	cred, err := vault.Retrieve(context.Background(), tenant, core.ProviderSlack)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if cred.Token.AccessToken != "xoxb-access" || cred.Token.RefreshToken != "xoxe-refresh" {
		t.Fatalf("unexpected token round trip: %#v", cred.Token)
	}
	if !cred.Token.ExpiresAt.Equal(expires) || len(cred.Token.Scopes) != 1 {
		t.Fatalf("unexpected token metadata: %#v", cred.Token)
	}

	connected, err := vault.ConnectedProviders(context.Background(), tenant)
	if err != nil || len(connected) != 1 || connected[0].Provider != core.ProviderSlack {
		t.Fatalf("unexpected connected providers: %#v err=%v", connected, err)
	}
}

func TestVaultRejectsCiphertextMovedBetweenTenants(t *testing.T) {
	vault, credentials, _ := newTestVault(t)
	acme := core.MustTenantID("acme")
	globex := core.MustTenantID("globex")

	if _, err := vault.Store(context.Background(), acme, core.ProviderGitHub, core.OAuthToken{AccessToken: "gho_acme"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	row, _ := credentials.Get(context.Background(), acme, core.ProviderGitHub)
	row.TenantID = globex
	_, _ = credentials.Upsert(context.Background(), globex, row)

	if _, err := vault.Retrieve(context.Background(), globex, core.ProviderGitHub); !core.IsErrorCode(err, core.ErrorEncryption) {
		t.Fatalf("expected encryption error for swapped ciphertext, got %v", err)
	}
}

func TestVaultWebhookSecretCandidates(t *testing.T) {
	vault, _, secrets := newTestVault(t)
	acme := core.MustTenantID("acme")
	globex := core.MustTenantID("globex")

	if _, err := vault.PutWebhookSecret(context.Background(), acme, core.ProviderGitHub, []byte("acme-secret"), "acme-org"); err != nil {
		t.Fatalf("put acme: %v", err)
	}
	if _, err := vault.PutWebhookSecret(context.Background(), globex, core.ProviderGitHub, []byte("globex-secret"), ""); err != nil {
		t.Fatalf("put globex: %v", err)
	}
	if _, err := vault.PutWebhookSecret(context.Background(), globex, core.ProviderJira, []byte("jira-secret"), ""); err != nil {
		t.Fatalf("put jira: %v", err)
	}

	candidates, err := vault.WebhookSecretCandidates(context.Background(), core.ProviderGitHub)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 2 {
		t.Fatalf("expected two github candidates, got %d", len(candidates))
	}
	found := map[string]string{}
	for _, candidate := range candidates {
		found[candidate.TenantID.String()] = string(candidate.Secret)
	}
	if found["acme"] != "acme-secret" || found["globex"] != "globex-secret" {
		t.Fatalf("unexpected candidates: %#v", found)
	}

	for _, row := range secrets.rows {
		if bytes.Contains(row.Secret, []byte("-secret")) {
			t.Fatalf("expected webhook secrets to be sealed at rest")
		}
	}

	summaries, err := vault.WebhookSecrets(context.Background(), acme)
	if err != nil || len(summaries) != 1 || summaries[0].AccountID != "acme-org" {
		t.Fatalf("unexpected summaries: %#v err=%v", summaries, err)
	}
}

func TestVaultRequiresTenant(t *testing.T) {
	vault, _, _ := newTestVault(t)
	if _, err := vault.Store(context.Background(), core.TenantID{}, core.ProviderSlack, core.OAuthToken{AccessToken: "x"}); !core.IsErrorCode(err, core.ErrorAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if _, err := vault.Retrieve(context.Background(), core.TenantID{}, core.ProviderSlack); !core.IsErrorCode(err, core.ErrorAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
