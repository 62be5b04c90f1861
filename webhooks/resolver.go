package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goliatone/go-integration-broker/core"
)

// SecretSource lists the decrypted secret of every tenant for a provider.
type SecretSource interface {
	WebhookSecretCandidates(ctx context.Context, provider core.Provider) ([]core.WebhookSecret, error)
}

// Resolution is the outcome of attributing a delivery to a tenant. Suspect is
// the tenant the hint pointed at when verification failed, if it was unique.
type Resolution struct {
	Tenant  core.TenantID
	Suspect core.TenantID
}

// Resolver attributes a delivery to a tenant by signature match.
type Resolver struct {
	secrets  SecretSource
	verifier *Verifier
}

func NewResolver(secrets SecretSource, verifier *Verifier) *Resolver {
	if verifier == nil {
		verifier = NewVerifier()
	}
	return &Resolver{secrets: secrets, verifier: verifier}
}

// Resolve returns the tenant whose secret verifies the delivery. Candidates
// whose account id matches hint are tried exclusively when any exist.
func (r *Resolver) Resolve(
	ctx context.Context,
	provider core.Provider,
	hint string,
	headers http.Header,
	body []byte,
) (Resolution, error) {
	if err := r.verifier.Precheck(provider, headers); err != nil {
		return Resolution{}, err
	}
	candidates, err := r.secrets.WebhookSecretCandidates(ctx, provider)
	if err != nil {
		return Resolution{}, err
	}
	if len(candidates) == 0 {
		return Resolution{}, core.NewNoSecretConfiguredError("webhooks: no secret configured for " + provider.String())
	}

	candidates = narrowByHint(candidates, hint)
	for _, candidate := range candidates {
		verifyErr := r.verifier.Verify(provider, candidate.Secret, headers, body)
		if verifyErr == nil {
			return Resolution{Tenant: candidate.TenantID}, nil
		}
		if errors.Is(verifyErr, ErrStaleTimestamp) || errors.Is(verifyErr, ErrUnknownScheme) {
			return Resolution{}, verifyErr
		}
	}
	return Resolution{Suspect: uniqueTenant(candidates)}, ErrSignatureMismatch
}

func narrowByHint(candidates []core.WebhookSecret, hint string) []core.WebhookSecret {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return candidates
	}
	matched := make([]core.WebhookSecret, 0, 1)
	for _, candidate := range candidates {
		if candidate.AccountID != "" && strings.EqualFold(candidate.AccountID, hint) {
			matched = append(matched, candidate)
		}
	}
	if len(matched) == 0 {
		return candidates
	}
	return matched
}

func uniqueTenant(candidates []core.WebhookSecret) core.TenantID {
	if len(candidates) != 1 {
		return core.TenantID{}
	}
	return candidates[0].TenantID
}
