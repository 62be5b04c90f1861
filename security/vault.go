package security

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/core"
)

// Vault is the only component that sees plaintext credential material. It
// seals OAuth tokens and webhook secrets before they reach a store and opens
// them on read.
type Vault struct {
	credentials core.CredentialStore
	secrets     core.WebhookSecretStore
	candidates  core.WebhookSecretCandidateSource
	cipher      Cipher
	observer    *core.Observer
	now         func() time.Time
}

type VaultConfig struct {
	Credentials core.CredentialStore
	Secrets     core.WebhookSecretStore
	Candidates  core.WebhookSecretCandidateSource
	Cipher      Cipher
	Observer    *core.Observer
	Now         func() time.Time
}

// ConnectedProvider describes a stored credential without token material.
type ConnectedProvider struct {
	Provider  core.Provider
	Scopes    []string
	ExpiresAt time.Time
	UpdatedAt time.Time
}

// SecretSummary describes a stored webhook secret without its value.
type SecretSummary struct {
	Provider  core.Provider
	AccountID string
	RotatedAt time.Time
}

func NewVault(cfg VaultConfig) (*Vault, error) {
	if cfg.Cipher == nil {
		return nil, core.NewEncryptionError(nil, "security: vault cipher is required")
	}
	if cfg.Credentials == nil || cfg.Secrets == nil {
		return nil, core.NewStorageError(nil, "security: vault stores are required")
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Vault{
		credentials: cfg.Credentials,
		secrets:     cfg.Secrets,
		candidates:  cfg.Candidates,
		cipher:      cfg.Cipher,
		observer:    cfg.Observer,
		now:         now,
	}, nil
}

// Store seals and persists the token for (tenant, provider), replacing any
// previous credential in place.
func (v *Vault) Store(ctx context.Context, tenant core.TenantID, provider core.Provider, token core.OAuthToken) (core.OAuthCredential, error) {
	if tenant.IsZero() {
		return core.OAuthCredential{}, core.NewAuthError("security: tenant is required")
	}
	if strings.TrimSpace(token.AccessToken) == "" {
		return core.OAuthCredential{}, core.NewBadInputError("security: access token is required")
	}
	startedAt := time.Now()
	access, err := v.cipher.Seal(ctx, []byte(token.AccessToken), credentialAAD(tenant, provider, "access"))
	if err != nil {
		v.observer.Operation(ctx, startedAt, "vault.store", err, vaultFields(tenant, provider))
		return core.OAuthCredential{}, err
	}
	var refresh []byte
	if token.RefreshToken != "" {
		refresh, err = v.cipher.Seal(ctx, []byte(token.RefreshToken), credentialAAD(tenant, provider, "refresh"))
		if err != nil {
			v.observer.Operation(ctx, startedAt, "vault.store", err, vaultFields(tenant, provider))
			return core.OAuthCredential{}, err
		}
	}
	now := v.now()
	stored, err := v.credentials.Upsert(ctx, tenant, core.EncryptedCredential{
		TenantID:     tenant,
		Provider:     provider,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    token.TokenType,
		ExpiresAt:    token.ExpiresAt,
		Scopes:       slices.Clone(token.Scopes),
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	v.observer.Operation(ctx, startedAt, "vault.store", err, vaultFields(tenant, provider))
	if err != nil {
		return core.OAuthCredential{}, err
	}
	token.Scopes = slices.Clone(stored.Scopes)
	return core.OAuthCredential{
		TenantID:  tenant,
		Provider:  provider,
		Token:     token,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

// Retrieve loads and opens the credential for (tenant, provider). Any
// authentication failure of the ciphertext fails the call as a whole.
func (v *Vault) Retrieve(ctx context.Context, tenant core.TenantID, provider core.Provider) (core.OAuthCredential, error) {
	if tenant.IsZero() {
		return core.OAuthCredential{}, core.NewAuthError("security: tenant is required")
	}
	stored, err := v.credentials.Get(ctx, tenant, provider)
	if err != nil {
		return core.OAuthCredential{}, err
	}
	access, err := v.cipher.Open(ctx, stored.AccessToken, credentialAAD(tenant, provider, "access"))
	if err != nil {
		v.observer.Error(ctx, "credential decryption failed", vaultFields(tenant, provider))
		return core.OAuthCredential{}, err
	}
	var refresh []byte
	if len(stored.RefreshToken) > 0 {
		refresh, err = v.cipher.Open(ctx, stored.RefreshToken, credentialAAD(tenant, provider, "refresh"))
		if err != nil {
			v.observer.Error(ctx, "credential decryption failed", vaultFields(tenant, provider))
			return core.OAuthCredential{}, err
		}
	}
	return core.OAuthCredential{
		TenantID: tenant,
		Provider: provider,
		Token: core.OAuthToken{
			AccessToken:  string(access),
			RefreshToken: string(refresh),
			TokenType:    stored.TokenType,
			ExpiresAt:    stored.ExpiresAt,
			Scopes:       slices.Clone(stored.Scopes),
		},
		CreatedAt: stored.CreatedAt,
		UpdatedAt: stored.UpdatedAt,
	}, nil
}

func (v *Vault) ConnectedProviders(ctx context.Context, tenant core.TenantID) ([]ConnectedProvider, error) {
	stored, err := v.credentials.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	out := make([]ConnectedProvider, 0, len(stored))
	for _, credential := range stored {
		out = append(out, ConnectedProvider{
			Provider:  credential.Provider,
			Scopes:    slices.Clone(credential.Scopes),
			ExpiresAt: credential.ExpiresAt,
			UpdatedAt: credential.UpdatedAt,
		})
	}
	return out, nil
}

// PutWebhookSecret seals and stores the tenant's secret for provider,
// replacing the previous one.
func (v *Vault) PutWebhookSecret(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	secret []byte,
	accountID string,
) (SecretSummary, error) {
	if tenant.IsZero() {
		return SecretSummary{}, core.NewAuthError("security: tenant is required")
	}
	if len(secret) == 0 {
		return SecretSummary{}, core.NewBadInputError("security: webhook secret is required")
	}
	sealed, err := v.cipher.Seal(ctx, secret, webhookSecretAAD(tenant, provider))
	if err != nil {
		return SecretSummary{}, err
	}
	now := v.now()
	stored, err := v.secrets.Put(ctx, tenant, core.EncryptedWebhookSecret{
		TenantID:  tenant,
		Provider:  provider,
		Secret:    sealed,
		AccountID: strings.TrimSpace(accountID),
		CreatedAt: now,
		RotatedAt: now,
	})
	if err != nil {
		return SecretSummary{}, err
	}
	return SecretSummary{Provider: stored.Provider, AccountID: stored.AccountID, RotatedAt: stored.RotatedAt}, nil
}

func (v *Vault) WebhookSecret(ctx context.Context, tenant core.TenantID, provider core.Provider) (core.WebhookSecret, error) {
	stored, err := v.secrets.Get(ctx, tenant, provider)
	if err != nil {
		return core.WebhookSecret{}, err
	}
	return v.openWebhookSecret(ctx, stored)
}

func (v *Vault) WebhookSecrets(ctx context.Context, tenant core.TenantID) ([]SecretSummary, error) {
	stored, err := v.secrets.List(ctx, tenant)
	if err != nil {
		return nil, err
	}
	out := make([]SecretSummary, 0, len(stored))
	for _, secret := range stored {
		out = append(out, SecretSummary{Provider: secret.Provider, AccountID: secret.AccountID, RotatedAt: secret.RotatedAt})
	}
	return out, nil
}

// WebhookSecretCandidates opens every tenant's secret for provider. It backs
// signature-match tenant resolution for inbound webhooks only.
func (v *Vault) WebhookSecretCandidates(ctx context.Context, provider core.Provider) ([]core.WebhookSecret, error) {
	if v.candidates == nil {
		return nil, core.NewStorageError(nil, "security: webhook secret candidate source is not configured")
	}
	stored, err := v.candidates.CandidatesForProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	out := make([]core.WebhookSecret, 0, len(stored))
	for _, candidate := range stored {
		opened, err := v.openWebhookSecret(ctx, candidate)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

func (v *Vault) openWebhookSecret(ctx context.Context, stored core.EncryptedWebhookSecret) (core.WebhookSecret, error) {
	plaintext, err := v.cipher.Open(ctx, stored.Secret, webhookSecretAAD(stored.TenantID, stored.Provider))
	if err != nil {
		v.observer.Error(ctx, "webhook secret decryption failed", vaultFields(stored.TenantID, stored.Provider))
		return core.WebhookSecret{}, err
	}
	return core.WebhookSecret{
		TenantID:  stored.TenantID,
		Provider:  stored.Provider,
		Secret:    plaintext,
		AccountID: stored.AccountID,
		CreatedAt: stored.CreatedAt,
		RotatedAt: stored.RotatedAt,
	}, nil
}

func credentialAAD(tenant core.TenantID, provider core.Provider, field string) []byte {
	return []byte("oauth_tokens:" + tenant.String() + ":" + provider.String() + ":" + field)
}

func webhookSecretAAD(tenant core.TenantID, provider core.Provider) []byte {
	return []byte("webhook_secrets:" + tenant.String() + ":" + provider.String())
}

func vaultFields(tenant core.TenantID, provider core.Provider) map[string]any {
	return map[string]any{
		"tenant_id": tenant.String(),
		"provider":  provider.String(),
	}
}
