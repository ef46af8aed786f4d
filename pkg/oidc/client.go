// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package oidc implements the federated login flow: authorization URLs,
// authorization-code exchange, remote ID token verification against a cached
// JWKS, and normalization of provider identities.
package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"golang.org/x/oauth2"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/logging"
)

// DefaultHTTPTimeout bounds every outbound provider call.
const DefaultHTTPTimeout = 10 * time.Second

// TokenResponse is what a provider's token endpoint returned.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token,omitempty"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`
}

// NormalizedUser is the provider independent identity produced by a login.
type NormalizedUser struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Client runs the federation flow against registered providers.
type Client struct {
	registry   *Registry
	settings   Settings
	httpClient *http.Client
	timeout    time.Duration
	jwks       *JWKSCache
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRegistry replaces the default provider registry.
func WithRegistry(r *Registry) ClientOption {
	return func(c *Client) { c.registry = r }
}

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout bounds each outbound call.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithJWKSCache sets the cache used to resolve provider signing keys.
func WithJWKSCache(cache *JWKSCache) ClientOption {
	return func(c *Client) { c.jwks = cache }
}

// WithNow replaces time.Now for expiry checks.
func WithNow(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client reading provider configuration from settings.
func NewClient(settings Settings, opts ...ClientOption) *Client {
	c := &Client{
		registry: NewRegistry(),
		settings: settings,
		timeout:  DefaultHTTPTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.jwks == nil {
		c.jwks = NewJWKSCache(nil, c.httpClient, DefaultJWKSCacheTTL)
	}
	return c
}

// Registry returns the provider registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) provider(name ProviderName) (*Provider, *ProviderConfig, error) {
	p, err := c.registry.Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	return p, resolveConfig(p, c.settings), nil
}

func oauth2Config(cfg *ProviderConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthorizationEndpoint,
			TokenURL:  cfg.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL builds the provider redirect for a login attempt
// identified by state. Providers that can issue verifiable ID tokens also
// get a nonce derived from state.
func (c *Client) AuthorizationURL(name ProviderName, state string) (string, error) {
	_, cfg, err := c.provider(name)
	if err != nil {
		return "", err
	}
	if err := requireFields(name, map[string]string{
		"CLIENT_ID":              cfg.ClientID,
		"REDIRECT_URI":           cfg.RedirectURI,
		"AUTHORIZATION_ENDPOINT": cfg.AuthorizationEndpoint,
	}); err != nil {
		return "", err
	}

	var opts []oauth2.AuthCodeOption
	if cfg.SupportsIDTokenVerification() {
		opts = append(opts, oauth2.SetAuthURLParam("nonce", ExpectedNonce(state)))
	}
	return oauth2Config(cfg).AuthCodeURL(state, opts...), nil
}

// ExchangeToken trades an authorization code for provider tokens. Credentials
// are sent as form parameters. Provider error bodies are logged at debug
// level and never returned.
func (c *Client) ExchangeToken(ctx context.Context, name ProviderName, code string) (*TokenResponse, error) {
	start := time.Now()
	logger := logging.NewStructuredLoggerFromContext(ctx, "oidc").WithField("provider", string(name))

	_, cfg, err := c.provider(name)
	if err != nil {
		return nil, err
	}
	if err := requireFields(name, map[string]string{
		"CLIENT_ID":      cfg.ClientID,
		"CLIENT_SECRET":  cfg.ClientSecret,
		"REDIRECT_URI":   cfg.RedirectURI,
		"TOKEN_ENDPOINT": cfg.TokenEndpoint,
	}); err != nil {
		return nil, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := oauth2Config(cfg).Exchange(ctx, code)
	if err != nil {
		logger.LogOIDCOperation("exchange_token", string(name), false, time.Since(start))
		return nil, exchangeError(logger, err)
	}
	logger.LogOIDCOperation("exchange_token", string(name), true, time.Since(start))

	resp := &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   tok.ExpiresIn,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idToken
	}
	return resp, nil
}

func exchangeError(logger *logging.StructuredLogger, err error) error {
	var re *oauth2.RetrieveError
	if stderrors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		logger.WithFields(map[string]interface{}{
			"status_code": status,
			"error_code":  re.ErrorCode,
			"body":        truncate(string(re.Body), 256),
		}).Debug("token endpoint returned error")
		return errors.New(errors.ErrCodeTokenExchangeFailed, "token exchange failed").
			WithDetails("status_code", status)
	}
	logger.WithError(err).Error("token exchange request failed")
	return errors.Wrap(err, errors.ErrCodeTokenExchangeFailed, "token exchange failed")
}

// ProviderJWKS returns the key set published at jwksURI, from cache when
// possible.
func (c *Client) ProviderJWKS(ctx context.Context, jwksURI string) (jwk.Set, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.jwks.Get(ctx, jwksURI)
}

type idTokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// VerifyIDToken verifies a provider ID token and returns its claims. Checks
// run in a fixed order: structure, key lookup, signature, expiry, then
// issuer and audience. Nothing from the payload is trusted before the
// signature has been verified.
func (c *Client) VerifyIDToken(ctx context.Context, name ProviderName, rawToken string) (jwt.MapClaims, error) {
	start := time.Now()
	logger := logging.NewStructuredLoggerFromContext(ctx, "oidc").WithField("provider", string(name))

	claims, err := c.verifyIDToken(ctx, name, rawToken)
	logger.LogOIDCOperation("verify_id_token", string(name), err == nil, time.Since(start))
	if err != nil {
		logger.WithError(err).Warn("ID token rejected")
		return nil, err
	}
	return claims, nil
}

func (c *Client) verifyIDToken(ctx context.Context, name ProviderName, rawToken string) (jwt.MapClaims, error) {
	_, cfg, err := c.provider(name)
	if err != nil {
		return nil, err
	}
	if !cfg.SupportsIDTokenVerification() {
		return nil, errors.New(errors.ErrCodeProviderNotOIDC, "provider does not publish a JWKS").
			WithDetails("provider", string(name))
	}

	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, errors.New(errors.ErrCodeMalformedToken, "malformed ID token")
	}
	var header idTokenHeader
	if err := decodeSegment(parts[0], &header); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedToken, "invalid ID token header")
	}
	if header.Alg != jwt.SigningMethodRS256.Alg() {
		return nil, errors.New(errors.ErrCodeMalformedToken, "unsupported ID token algorithm").
			WithDetails("alg", header.Alg)
	}

	publicKey, err := c.lookupKey(ctx, cfg.JWKSURI, header.Kid)
	if err != nil {
		return nil, err
	}

	sig, err := segmentEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidSignature, "invalid ID token signature encoding")
	}
	if err := jwt.SigningMethodRS256.Verify(parts[0]+"."+parts[1], sig, publicKey); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidSignature, "ID token signature verification failed")
	}

	var claims jwt.MapClaims
	if err := decodeSegment(parts[1], &claims); err != nil || claims == nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "invalid ID token payload")
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "invalid exp claim")
	}
	if exp == nil || !c.now().Before(exp.Time) {
		return nil, errors.New(errors.ErrCodeTokenExpired, "ID token has expired")
	}

	if cfg.Issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != cfg.Issuer {
			return nil, errors.New(errors.ErrCodeUnauthorized, "ID token issuer mismatch").
				WithDetails("iss", iss)
		}
	}
	if cfg.ClientID != "" {
		aud, _ := claims.GetAudience()
		if !slices.Contains([]string(aud), cfg.ClientID) {
			return nil, errors.New(errors.ErrCodeUnauthorized, "ID token audience mismatch")
		}
	}
	return claims, nil
}

// lookupKey finds kid in the provider JWKS, refetching the set once when the
// kid is unknown so rotated keys are picked up.
func (c *Client) lookupKey(ctx context.Context, jwksURI, kid string) (*rsa.PublicKey, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	set, err := c.jwks.Get(ctx, jwksURI)
	if err != nil {
		return nil, err
	}
	key, ok := findKey(set, kid)
	if !ok {
		if set, err = c.jwks.Refresh(ctx, jwksURI); err != nil {
			return nil, err
		}
		if key, ok = findKey(set, kid); !ok {
			return nil, errors.New(errors.ErrCodeKeyNotFound, "signing key not found in JWKS").
				WithDetails("kid", kid)
		}
	}

	var raw interface{}
	if err := jwk.Export(key, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKeyNotFound, "failed to export JWKS key")
	}
	publicKey, ok := raw.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New(errors.ErrCodeKeyNotFound, "JWKS key is not an RSA public key").
			WithDetails("kid", kid)
	}
	return publicKey, nil
}

// findKey matches by kid. A token without kid is accepted only when the set
// holds exactly one key.
func findKey(set jwk.Set, kid string) (jwk.Key, bool) {
	if kid == "" {
		if set.Len() == 1 {
			return set.Key(0)
		}
		return nil, false
	}
	return set.LookupKeyID(kid)
}

// GitHubUser fetches the GitHub identity behind accessToken.
func (c *Client) GitHubUser(ctx context.Context, accessToken string) (*NormalizedUser, error) {
	p, cfg, err := c.provider(ProviderGitHub)
	if err != nil {
		return nil, err
	}
	return c.fetchProfile(ctx, p, cfg, accessToken)
}

func (c *Client) fetchProfile(ctx context.Context, p *Provider, cfg *ProviderConfig, accessToken string) (*NormalizedUser, error) {
	if p.FetchProfile == nil {
		return nil, errors.New(errors.ErrCodeUnsupportedProviderFlow, "provider has no profile API").
			WithDetails("provider", string(p.Name))
	}
	start := time.Now()
	user, err := p.FetchProfile(ctx, c, cfg, accessToken)
	logging.NewStructuredLoggerFromContext(ctx, "oidc").
		LogOIDCOperation("fetch_profile", string(p.Name), err == nil, time.Since(start))
	return user, err
}

// NormalizedUser maps a token response to a NormalizedUser, verifying the ID
// token for ID token providers and calling the profile API for the others.
func (c *Client) NormalizedUser(ctx context.Context, name ProviderName, tokens *TokenResponse) (*NormalizedUser, error) {
	return c.normalize(ctx, name, tokens, "")
}

// CompleteLogin runs the callback half of the flow: code exchange followed by
// normalization. When an ID token is used its nonce must match state.
func (c *Client) CompleteLogin(ctx context.Context, name ProviderName, code, state string) (*NormalizedUser, error) {
	tokens, err := c.ExchangeToken(ctx, name, code)
	if err != nil {
		return nil, err
	}
	return c.normalize(ctx, name, tokens, state)
}

func (c *Client) normalize(ctx context.Context, name ProviderName, tokens *TokenResponse, state string) (*NormalizedUser, error) {
	p, cfg, err := c.provider(name)
	if err != nil {
		return nil, err
	}
	if tokens == nil {
		tokens = &TokenResponse{}
	}

	switch {
	case p.SupportsIDToken && tokens.IDToken != "":
		claims, err := c.VerifyIDToken(ctx, name, tokens.IDToken)
		if err != nil {
			return nil, err
		}
		if state != "" {
			nonce, _ := claims["nonce"].(string)
			if !nonceMatches(state, nonce) {
				return nil, errors.New(errors.ErrCodeUnauthorized, "ID token nonce mismatch")
			}
		}
		return userFromClaims(claims)
	case p.FetchProfile != nil && tokens.AccessToken != "":
		return c.fetchProfile(ctx, p, cfg, tokens.AccessToken)
	default:
		return nil, errors.New(errors.ErrCodeUnsupportedProviderFlow, "provider has no usable identity source").
			WithDetails("provider", string(name))
	}
}

func userFromClaims(claims jwt.MapClaims) (*NormalizedUser, error) {
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, errors.New(errors.ErrCodeInvalidPayload, "ID token has no subject")
	}
	user := &NormalizedUser{Subject: sub}
	user.Email, _ = claims["email"].(string)
	user.Name, _ = claims["name"].(string)
	return user, nil
}

// segmentEncoding rejects non-zero trailing bits so that every character of a
// segment is significant.
var segmentEncoding = base64.RawURLEncoding.Strict()

func decodeSegment(seg string, v interface{}) error {
	b, err := segmentEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
