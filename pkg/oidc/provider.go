// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package oidc

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/oauth2/endpoints"
	"golang.org/x/oauth2/github"

	"github.com/openchami/authcore/pkg/errors"
)

// ProviderName identifies an identity provider. Names are upper case and
// double as the prefix of the provider's configuration keys.
type ProviderName string

const (
	ProviderGoogle ProviderName = "GOOGLE"
	ProviderGitHub ProviderName = "GITHUB"
)

// ParseProviderName normalizes a provider name taken from user input.
func ParseProviderName(s string) ProviderName {
	return ProviderName(strings.ToUpper(strings.TrimSpace(s)))
}

// ProviderConfig is the resolved configuration for one provider.
type ProviderConfig struct {
	ClientID              string
	ClientSecret          string `json:"-"`
	RedirectURI           string
	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSURI               string
	UserinfoEndpoint      string
	Issuer                string
	Scopes                []string
}

// SupportsIDTokenVerification reports whether ID tokens from this provider
// can be verified, which requires a JWKS endpoint.
func (c *ProviderConfig) SupportsIDTokenVerification() bool {
	return c.JWKSURI != ""
}

// ProfileFetcher turns an access token into a NormalizedUser by calling a
// provider specific profile API.
type ProfileFetcher func(ctx context.Context, c *Client, cfg *ProviderConfig, accessToken string) (*NormalizedUser, error)

// Provider is the capability record for an identity provider. Adding a
// provider means registering a record; the client has no per-provider
// branches.
type Provider struct {
	Name ProviderName
	// Defaults holds endpoints and scopes used when configuration does not
	// override them. Credentials never live here.
	Defaults ProviderConfig
	// SupportsIDToken marks providers whose token response carries an ID token.
	SupportsIDToken bool
	// FetchProfile is set for providers that need a profile call to
	// identify the user.
	FetchProfile ProfileFetcher
}

// GoogleProvider returns the built-in Google record.
func GoogleProvider() *Provider {
	return &Provider{
		Name: ProviderGoogle,
		Defaults: ProviderConfig{
			AuthorizationEndpoint: endpoints.Google.AuthURL,
			TokenEndpoint:         endpoints.Google.TokenURL,
			JWKSURI:               "https://www.googleapis.com/oauth2/v3/certs",
			UserinfoEndpoint:      "https://openidconnect.googleapis.com/v1/userinfo",
			Issuer:                "https://accounts.google.com",
			Scopes:                []string{"openid", "email", "profile"},
		},
		SupportsIDToken: true,
	}
}

// GitHubProvider returns the built-in GitHub record. GitHub is plain OAuth2:
// no ID token, identity comes from the REST user API.
func GitHubProvider() *Provider {
	return &Provider{
		Name: ProviderGitHub,
		Defaults: ProviderConfig{
			AuthorizationEndpoint: github.Endpoint.AuthURL,
			TokenEndpoint:         github.Endpoint.TokenURL,
			UserinfoEndpoint:      "https://api.github.com/user",
			Scopes:                []string{"read:user", "user:email"},
		},
		FetchProfile: fetchGitHubProfile,
	}
}

// Registry holds the known providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[ProviderName]*Provider
}

// NewRegistry creates a registry preloaded with Google and GitHub.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[ProviderName]*Provider)}
	r.Register(GoogleProvider())
	r.Register(GitHubProvider())
	return r
}

// Register adds or replaces a provider.
func (r *Registry) Register(p *Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name] = p
}

// Lookup returns the provider registered under name.
func (r *Registry) Lookup(name ProviderName) (*Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.New(errors.ErrCodeUnknownProvider, "unknown provider").
			WithDetails("provider", string(name))
	}
	return p, nil
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []ProviderName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]ProviderName, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Settings is the source of provider configuration. *viper.Viper satisfies it.
type Settings interface {
	GetString(key string) string
}

// MapSettings is a fixed Settings source.
type MapSettings map[string]string

// GetString returns the value stored under key.
func (m MapSettings) GetString(key string) string {
	return m[key]
}

// resolveConfig overlays settings named <PROVIDER>_<FIELD> onto the
// provider defaults. It runs on every call so configuration is read lazily.
func resolveConfig(p *Provider, settings Settings) *ProviderConfig {
	cfg := p.Defaults
	cfg.Scopes = append([]string(nil), p.Defaults.Scopes...)
	if settings == nil {
		return &cfg
	}

	prefix := string(p.Name) + "_"
	overlay := func(dst *string, key string) {
		if v := strings.TrimSpace(settings.GetString(prefix + key)); v != "" {
			*dst = v
		}
	}
	overlay(&cfg.ClientID, "CLIENT_ID")
	overlay(&cfg.ClientSecret, "CLIENT_SECRET")
	overlay(&cfg.RedirectURI, "REDIRECT_URI")
	overlay(&cfg.AuthorizationEndpoint, "AUTHORIZATION_ENDPOINT")
	overlay(&cfg.TokenEndpoint, "TOKEN_ENDPOINT")
	overlay(&cfg.JWKSURI, "JWKS_URI")
	overlay(&cfg.UserinfoEndpoint, "USERINFO_ENDPOINT")
	overlay(&cfg.Issuer, "ISSUER")

	if scopes := settings.GetString(prefix + "SCOPES"); scopes != "" {
		cfg.Scopes = strings.FieldsFunc(scopes, func(r rune) bool {
			return r == ',' || r == ' '
		})
	}
	return &cfg
}

// requireFields reports PROVIDER_NOT_CONFIGURED naming each missing setting.
// Values are never included.
func requireFields(name ProviderName, fields map[string]string) error {
	var missing []string
	for key, value := range fields {
		if value == "" {
			missing = append(missing, string(name)+"_"+key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return errors.New(errors.ErrCodeProviderNotConfigured, "provider is not configured").
		WithDetails("provider", string(name)).
		WithDetails("missing", strings.Join(missing, ","))
}
