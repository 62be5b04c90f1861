package oauth

import (
	"slices"
	"strings"

	"github.com/goliatone/go-integration-broker/core"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

var defaultEndpoints = map[core.Provider]oauth2.Endpoint{
	core.ProviderSlack: {
		AuthURL:   "https://slack.com/oauth/v2/authorize",
		TokenURL:  "https://slack.com/api/oauth.v2.access",
		AuthStyle: oauth2.AuthStyleInParams,
	},
	core.ProviderGitHub: endpoints.GitHub,
	core.ProviderGoogle: endpoints.Google,
	core.ProviderJira: {
		AuthURL:   "https://auth.atlassian.com/authorize",
		TokenURL:  "https://auth.atlassian.com/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	},
}

var defaultScopes = map[core.Provider][]string{
	core.ProviderSlack:  {"chat:write", "channels:history"},
	core.ProviderGitHub: {"repo", "read:org"},
	core.ProviderGoogle: {"openid", "email", "https://www.googleapis.com/auth/drive.readonly"},
	core.ProviderJira:   {"read:jira-work", "offline_access"},
}

// Endpoint returns the provider's authorization endpoint, with any URL
// configured for the provider taking precedence.
func Endpoint(provider core.Provider, cfg core.ProviderConfig) oauth2.Endpoint {
	endpoint := defaultEndpoints[provider]
	if authURL := strings.TrimSpace(cfg.AuthURL); authURL != "" {
		endpoint.AuthURL = authURL
	}
	if tokenURL := strings.TrimSpace(cfg.TokenURL); tokenURL != "" {
		endpoint.TokenURL = tokenURL
	}
	return endpoint
}

func DefaultScopes(provider core.Provider) []string {
	return slices.Clone(defaultScopes[provider])
}

// ClientConfig builds the x/oauth2 client configuration for provider.
func ClientConfig(provider core.Provider, cfg core.ProviderConfig) *oauth2.Config {
	scopes := normalizeScopes(cfg.Scopes)
	if len(scopes) == 0 {
		scopes = DefaultScopes(provider)
	}
	return &oauth2.Config{
		ClientID:     strings.TrimSpace(cfg.ClientID),
		ClientSecret: strings.TrimSpace(cfg.ClientSecret),
		RedirectURL:  strings.TrimSpace(cfg.RedirectURL),
		Endpoint:     Endpoint(provider, cfg),
		Scopes:       scopes,
	}
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		for _, part := range strings.FieldsFunc(scope, func(r rune) bool { return r == ',' || r == ' ' }) {
			if part = strings.TrimSpace(part); part != "" && !slices.Contains(out, part) {
				out = append(out, part)
			}
		}
	}
	return out
}
