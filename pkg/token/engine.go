// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package token creates and verifies the compact RS256 tokens this service
// issues to its own sessions.
package token

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/keys"
	"github.com/openchami/authcore/pkg/logging"
)

const (
	// SigningAlgorithm is the only algorithm this engine emits or accepts.
	SigningAlgorithm = "RS256"
	// DefaultTTL is the lifetime applied when Create is given a zero TTL.
	DefaultTTL = time.Hour

	tokenType = "JWT"
)

// Claims is the payload of a self-issued token.
type Claims = jwt.MapClaims

// Header is the protected header of a self-issued token.
type Header struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
	Kid string `json:"kid"`
}

// Engine issues and verifies tokens bound to a key store.
type Engine struct {
	keys       keys.Provider
	defaultTTL time.Duration
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultTTL overrides DefaultTTL.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.defaultTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an Engine that signs with the keys returned by kp.
func NewEngine(kp keys.Provider, opts ...Option) *Engine {
	e := &Engine{
		keys:       kp,
		defaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Create signs claims into a compact token that expires after ttl. A zero ttl
// uses the engine default; a negative ttl yields an already expired token.
// Any "exp" in claims is replaced.
func (e *Engine) Create(claims map[string]interface{}, ttl time.Duration) (string, error) {
	start := time.Now()
	logger := logging.NewStructuredLogger("token")

	signed, err := e.create(claims, ttl)
	logger.LogTokenOperation("create", err == nil, time.Since(start))
	if err != nil {
		logger.WithError(err).Error("failed to create token")
		return "", err
	}
	return signed, nil
}

func (e *Engine) create(claims map[string]interface{}, ttl time.Duration) (string, error) {
	km, err := e.keys.GetKeys()
	if err != nil {
		return "", err
	}
	if ttl == 0 {
		ttl = e.defaultTTL
	}

	header, err := json.Marshal(Header{Alg: SigningAlgorithm, Typ: tokenType, Kid: km.KID})
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to encode token header")
	}

	payload := make(Claims, len(claims)+1)
	for k, v := range claims {
		payload[k] = v
	}
	payload["exp"] = e.now().Add(ttl).Unix()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInvalidPayload, "claims are not serializable")
	}

	signingString := encodeSegment(header) + "." + encodeSegment(body)
	sig, err := jwt.SigningMethodRS256.Sign(signingString, km.PrivateKey)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to sign token")
	}

	return signingString + "." + encodeSegment(sig), nil
}

// Parse checks the structure and signature of token and returns its claims.
// Expiry is not checked; use Verify for that.
func (e *Engine) Parse(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return nil, ErrMalformedToken
	}

	var header Header
	if err := decodeJSONSegment(parts[0], &header); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedToken, "invalid token header")
	}
	if header.Alg != SigningAlgorithm {
		return nil, errors.New(errors.ErrCodeMalformedToken, "unsupported token algorithm").
			WithDetails("alg", header.Alg)
	}

	if header.Kid == "" {
		return nil, errors.New(errors.ErrCodeMalformedToken, "token header has no kid")
	}

	km, err := e.keys.GetKeys()
	if err != nil {
		return nil, err
	}
	if header.Kid != km.KID {
		return nil, errors.New(errors.ErrCodeInvalidSignature, "token signed by unknown key").
			WithDetails("kid", header.Kid)
	}

	sig, err := segmentEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidSignature, "invalid signature encoding")
	}
	// Verification runs over the received bytes, never a re-encoding.
	if err := jwt.SigningMethodRS256.Verify(parts[0]+"."+parts[1], sig, km.PublicKey); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidSignature, "signature verification failed")
	}

	var claims Claims
	if err := decodeJSONSegment(parts[1], &claims); err != nil || claims == nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidPayload, "invalid token payload")
	}
	return claims, nil
}

// Verify parses token and rejects it when exp is missing or not in the future.
func (e *Engine) Verify(token string) (Claims, error) {
	claims, err := e.Parse(token)
	if err != nil {
		return nil, err
	}
	if err := checkExpiry(claims, e.now()); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifySession authenticates r by its bearer token. Every trust failure is
// reported as the same UNAUTHORIZED error; the cause is only logged.
func (e *Engine) VerifySession(r *http.Request) (Claims, error) {
	logger := logging.NewStructuredLoggerFromContext(r.Context(), "token")

	raw, ok := BearerToken(r)
	if !ok {
		logger.Debug("missing bearer token")
		return nil, ErrUnauthorized
	}

	claims, err := e.Verify(raw)
	if err != nil {
		if errors.IsTrustError(err) {
			logger.WithError(err).Debug("session token rejected")
			return nil, ErrUnauthorized
		}
		logger.WithError(err).Error("session verification failed")
		return nil, err
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	scheme, value, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func checkExpiry(claims Claims, now time.Time) error {
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidPayload, "invalid exp claim")
	}
	if exp == nil || !now.Before(exp.Time) {
		return ErrTokenExpired
	}
	return nil
}

// segmentEncoding rejects non-zero trailing bits so that every character of a
// segment is significant.
var segmentEncoding = base64.RawURLEncoding.Strict()

func encodeSegment(b []byte) string {
	return segmentEncoding.EncodeToString(b)
}

func decodeJSONSegment(seg string, v interface{}) error {
	b, err := segmentEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
