package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/goliatone/go-integration-broker/audit"
	"github.com/goliatone/go-integration-broker/core"
	"golang.org/x/oauth2"
)

// Phase is the furthest step an authorization attempt reached.
type Phase string

const (
	PhaseStarted    Phase = "started"
	PhaseRedirected Phase = "redirected"
	PhaseCallbacked Phase = "callbacked"
	PhaseExchanged  Phase = "exchanged"
	PhaseStored     Phase = "stored"
)

const stateEntropyBytes = 24

// CredentialVault is the subset of the vault the broker hands tokens to.
type CredentialVault interface {
	Store(ctx context.Context, tenant core.TenantID, provider core.Provider, token core.OAuthToken) (core.OAuthCredential, error)
	Retrieve(ctx context.Context, tenant core.TenantID, provider core.Provider) (core.OAuthCredential, error)
}

type Config struct {
	Providers     map[core.Provider]core.ProviderConfig
	States        core.OAuthStateStore
	Vault         CredentialVault
	Audit         core.AuditRecorder
	HTTPClient    *http.Client
	StateTTL      time.Duration
	Timeout       time.Duration
	RetryBackoff  time.Duration
	RefreshLeeway time.Duration
	Observer      *core.Observer
	Now           func() time.Time
	Random        io.Reader
}

// Broker drives the authorization-code flow for each provider and hands the
// resulting tokens to the vault.
type Broker struct {
	providers     map[core.Provider]core.ProviderConfig
	states        core.OAuthStateStore
	vault         CredentialVault
	audit         core.AuditRecorder
	httpClient    *http.Client
	stateTTL      time.Duration
	timeout       time.Duration
	retryBackoff  time.Duration
	refreshLeeway time.Duration
	observer      *core.Observer
	now           func() time.Time
	random        io.Reader
}

type StartResult struct {
	AuthorizeURL string    `json:"authorizeUrl"`
	State        string    `json:"state"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type CallbackResult struct {
	Provider  core.Provider `json:"provider"`
	Scopes    []string      `json:"scopes"`
	ExpiresAt time.Time     `json:"expiresAt,omitzero"`
	Phase     Phase         `json:"-"`
}

func NewBroker(cfg Config) (*Broker, error) {
	if cfg.States == nil {
		return nil, fmt.Errorf("oauth: state store is required")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("oauth: credential vault is required")
	}
	if cfg.Audit == nil {
		return nil, fmt.Errorf("oauth: audit recorder is required")
	}
	broker := &Broker{
		providers:     map[core.Provider]core.ProviderConfig{},
		states:        cfg.States,
		vault:         cfg.Vault,
		audit:         cfg.Audit,
		httpClient:    cfg.HTTPClient,
		stateTTL:      cfg.StateTTL,
		timeout:       cfg.Timeout,
		retryBackoff:  cfg.RetryBackoff,
		refreshLeeway: cfg.RefreshLeeway,
		observer:      cfg.Observer,
		now:           cfg.Now,
		random:        cfg.Random,
	}
	for provider, providerCfg := range cfg.Providers {
		broker.providers[provider] = providerCfg
	}
	if broker.httpClient == nil {
		broker.httpClient = &http.Client{}
	}
	if broker.stateTTL <= 0 {
		broker.stateTTL = 10 * time.Minute
	}
	if broker.timeout <= 0 {
		broker.timeout = 10 * time.Second
	}
	if broker.retryBackoff < 0 {
		broker.retryBackoff = 0
	}
	if broker.refreshLeeway <= 0 {
		broker.refreshLeeway = time.Minute
	}
	if broker.now == nil {
		broker.now = func() time.Time { return time.Now().UTC() }
	}
	if broker.random == nil {
		broker.random = rand.Reader
	}
	return broker, nil
}

// Configured reports whether client credentials exist for provider.
func (b *Broker) Configured(provider core.Provider) bool {
	cfg, ok := b.providers[provider]
	return ok && cfg.OAuthConfigured()
}

// Start generates a single-use state bound to (tenant, provider) and returns
// the URL the user is redirected to.
func (b *Broker) Start(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	scopes []string,
) (result StartResult, err error) {
	startedAt := time.Now()
	fields := flowFields(tenant, provider, PhaseStarted)
	defer func() {
		b.observer.Operation(ctx, startedAt, "oauth_start", err, fields)
	}()

	if tenant.IsZero() {
		return StartResult{}, core.NewAuthError("oauth: tenant is required")
	}
	client, err := b.clientConfig(provider)
	if err != nil {
		return StartResult{}, err
	}
	requested := normalizeScopes(scopes)
	if len(requested) == 0 {
		requested = slices.Clone(client.Scopes)
	}
	client.Scopes = requested

	state, err := b.generateState()
	if err != nil {
		return StartResult{}, err
	}
	now := b.now()
	expiresAt := now.Add(b.stateTTL)
	if err = b.states.Save(ctx, tenant, core.OAuthState{
		State:     state,
		TenantID:  tenant,
		Provider:  provider,
		Scopes:    requested,
		CreatedAt: now,
		ExpiresAt: expiresAt,
	}); err != nil {
		return StartResult{}, core.NewStorageError(err, "oauth: save authorization state")
	}

	authorizeURL := client.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fields["phase"] = PhaseRedirected
	b.record(ctx, tenant, audit.ActionOAuthStarted, map[string]any{
		"provider": provider.String(),
		"scopes":   requested,
	})
	return StartResult{AuthorizeURL: authorizeURL, State: state, ExpiresAt: expiresAt}, nil
}

// Callback validates the returned state, exchanges the code and stores the
// token. The state is consumed before the exchange, so it can never be
// replayed even when a later step fails.
func (b *Broker) Callback(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	state string,
	code string,
) (result CallbackResult, err error) {
	startedAt := time.Now()
	fields := flowFields(tenant, provider, PhaseCallbacked)
	defer func() {
		b.observer.Operation(ctx, startedAt, "oauth_callback", err, fields)
	}()

	if tenant.IsZero() {
		return CallbackResult{}, core.NewAuthError("oauth: tenant is required")
	}
	client, err := b.clientConfig(provider)
	if err != nil {
		return CallbackResult{}, err
	}

	stored, err := b.consumeState(ctx, tenant, provider, state)
	if err != nil {
		return CallbackResult{}, err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		b.record(ctx, tenant, audit.ActionOAuthExchangeFailed, map[string]any{
			"provider": provider.String(),
			"reason":   "missing authorization code",
		})
		return CallbackResult{}, core.NewOAuthExchangeFailedError(nil, "oauth: authorization code is required")
	}

	token, err := b.exchange(ctx, client, code)
	if err != nil {
		b.record(ctx, tenant, audit.ActionOAuthExchangeFailed, map[string]any{
			"provider": provider.String(),
			"reason":   err.Error(),
		})
		return CallbackResult{}, core.NewOAuthExchangeFailedError(err, "oauth: token exchange failed")
	}
	fields["phase"] = PhaseExchanged

	granted := grantedScopes(token, stored.Scopes)
	credential, err := b.vault.Store(ctx, tenant, provider, core.OAuthToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
		ExpiresAt:    token.Expiry.UTC(),
		Scopes:       granted,
	})
	if err != nil {
		b.record(ctx, tenant, audit.ActionOAuthStoreFailed, map[string]any{
			"provider":   provider.String(),
			"error_code": core.ErrorTextCode(err),
		})
		return CallbackResult{Provider: provider, Phase: PhaseExchanged}, err
	}
	fields["phase"] = PhaseStored

	b.record(ctx, tenant, audit.ActionOAuthGranted, map[string]any{
		"provider":   provider.String(),
		"scopes":     granted,
		"expires_at": credential.Token.ExpiresAt,
	})
	return CallbackResult{
		Provider:  provider,
		Scopes:    granted,
		ExpiresAt: credential.Token.ExpiresAt,
		Phase:     PhaseStored,
	}, nil
}

// Token returns a usable access token for (tenant, provider), refreshing and
// re-storing it in place when it has expired.
func (b *Broker) Token(ctx context.Context, tenant core.TenantID, provider core.Provider) (core.OAuthToken, error) {
	credential, err := b.vault.Retrieve(ctx, tenant, provider)
	if err != nil {
		return core.OAuthToken{}, err
	}
	current := credential.Token
	if !current.Expired(b.now(), b.refreshLeeway) {
		return current, nil
	}
	if strings.TrimSpace(current.RefreshToken) == "" {
		return core.OAuthToken{}, core.NewAuthError("oauth: credential expired and has no refresh token")
	}
	client, err := b.clientConfig(provider)
	if err != nil {
		return core.OAuthToken{}, err
	}

	refreshCtx, cancel := context.WithTimeout(b.clientContext(ctx), b.timeout)
	defer cancel()
	source := client.TokenSource(refreshCtx, &oauth2.Token{
		AccessToken:  current.AccessToken,
		RefreshToken: current.RefreshToken,
		TokenType:    current.TokenType,
		Expiry:       b.now().Add(-time.Second),
	})
	refreshed, err := source.Token()
	if err != nil {
		return core.OAuthToken{}, core.NewOAuthExchangeFailedError(err, "oauth: token refresh failed")
	}
	next := core.OAuthToken{
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		TokenType:    refreshed.Type(),
		ExpiresAt:    refreshed.Expiry.UTC(),
		Scopes:       grantedScopes(refreshed, current.Scopes),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if _, err := b.vault.Store(ctx, tenant, provider, next); err != nil {
		return core.OAuthToken{}, err
	}
	b.record(ctx, tenant, audit.ActionOAuthRefreshed, map[string]any{
		"provider":   provider.String(),
		"expires_at": next.ExpiresAt,
	})
	return next, nil
}

func (b *Broker) consumeState(
	ctx context.Context,
	tenant core.TenantID,
	provider core.Provider,
	state string,
) (core.OAuthState, error) {
	mismatch := func(reason string) error {
		b.record(ctx, tenant, audit.ActionOAuthStateMismatch, map[string]any{
			"provider": provider.String(),
			"reason":   reason,
		})
		return core.NewOAuthStateMismatchError("oauth: " + reason)
	}

	state = strings.TrimSpace(state)
	if state == "" {
		return core.OAuthState{}, mismatch("state is missing")
	}
	stored, err := b.states.Consume(ctx, tenant, provider, state)
	if err != nil {
		if core.IsErrorCode(err, core.ErrorNotFound) {
			return core.OAuthState{}, mismatch("state is unknown or already used")
		}
		return core.OAuthState{}, core.NewStorageError(err, "oauth: consume authorization state")
	}
	if stored.State != state || stored.TenantID != tenant || stored.Provider != provider {
		return core.OAuthState{}, mismatch("state does not match the authorization request")
	}
	if !stored.ExpiresAt.IsZero() && b.now().After(stored.ExpiresAt) {
		return core.OAuthState{}, mismatch("state has expired")
	}
	return stored, nil
}

// exchange retries once after a transport failure. A provider rejection is
// final.
func (b *Broker) exchange(ctx context.Context, client *oauth2.Config, code string) (*oauth2.Token, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(b.retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		exchangeCtx, cancel := context.WithTimeout(b.clientContext(ctx), b.timeout)
		token, err := client.Exchange(exchangeCtx, code)
		cancel()
		if err == nil {
			return token, nil
		}
		lastErr = err
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (b *Broker) clientConfig(provider core.Provider) (*oauth2.Config, error) {
	cfg, ok := b.providers[provider]
	if !ok || !cfg.OAuthConfigured() {
		return nil, core.NewNotFoundError(fmt.Sprintf("oauth: provider %s is not configured", provider))
	}
	return ClientConfig(provider, cfg), nil
}

func (b *Broker) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
}

func (b *Broker) generateState() (string, error) {
	raw := make([]byte, stateEntropyBytes)
	if _, err := io.ReadFull(b.random, raw); err != nil {
		return "", core.WrapError(err, core.ErrorInternal, "oauth: generate state")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func grantedScopes(token *oauth2.Token, fallback []string) []string {
	if token != nil {
		if raw, ok := token.Extra("scope").(string); ok {
			if scopes := normalizeScopes([]string{raw}); len(scopes) > 0 {
				return scopes
			}
		}
	}
	return slices.Clone(fallback)
}

func flowFields(tenant core.TenantID, provider core.Provider, phase Phase) map[string]any {
	return map[string]any{
		"tenant_id": tenant.String(),
		"provider":  provider.String(),
		"phase":     phase,
	}
}

func (b *Broker) record(ctx context.Context, tenant core.TenantID, action string, details map[string]any) {
	if err := b.audit.Record(ctx, tenant, action, details); err != nil {
		b.observer.Error(ctx, "oauth: audit write failed", map[string]any{
			"tenant_id": tenant.AuditTenant().String(),
			"action":    action,
			"error":     err.Error(),
		})
	}
}
