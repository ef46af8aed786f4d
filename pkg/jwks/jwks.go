// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package jwks publishes the service's public signing keys as a JSON Web Key
// Set so third parties can verify self-issued tokens.
package jwks

import (
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/keys"
	"github.com/openchami/authcore/pkg/logging"
)

// Path is the well-known location of the discovery document.
const Path = "/.well-known/jwks.json"

// PublicKeyToJWK converts an RSA public key into a signing JWK with
// kty, use, kid, alg, n and e populated. The kid matches keys.KeyID.
func PublicKeyToJWK(publicKey *rsa.PublicKey) (jwk.Key, error) {
	kid, err := keys.KeyID(publicKey)
	if err != nil {
		return nil, err
	}

	key, err := jwk.Import(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, kid); err != nil {
		return nil, fmt.Errorf("failed to set key ID: %w", err)
	}
	if err := key.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		return nil, fmt.Errorf("failed to set algorithm: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set key usage: %w", err)
	}
	return key, nil
}

// PEMToJWK converts a PEM encoded RSA public key (PKIX or PKCS#1) to a JWK.
func PEMToJWK(publicKeyPEM []byte) (jwk.Key, error) {
	publicKey, err := keys.ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	return PublicKeyToJWK(publicKey)
}

// CreateJWKS bundles keys into a set. Several keys may coexist while a
// rotation is rolling out.
func CreateJWKS(jwks ...jwk.Key) (jwk.Set, error) {
	set := jwk.NewSet()
	for _, key := range jwks {
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("failed to add key to set: %w", err)
		}
	}
	return set, nil
}

// FromKeyMaterial builds the single-key set for km.
func FromKeyMaterial(km *keys.KeyMaterial) (jwk.Set, error) {
	key, err := PublicKeyToJWK(km.PublicKey)
	if err != nil {
		return nil, err
	}
	return CreateJWKS(key)
}

// Handler serves the discovery document for the keys in kp.
type Handler struct {
	keys   keys.Provider
	maxAge time.Duration
}

// NewHandler creates a Handler. maxAge sets the Cache-Control lifetime.
func NewHandler(kp keys.Provider, maxAge time.Duration) *Handler {
	return &Handler{keys: kp, maxAge: maxAge}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.NewStructuredLoggerFromContext(r.Context(), "jwks")

	km, err := h.keys.GetKeys()
	if err != nil {
		logger.WithError(err).Error("failed to load keys for JWKS")
		http.Error(w, "Failed to get public key", errors.GetHTTPStatus(err))
		return
	}

	set, err := FromKeyMaterial(km)
	if err != nil {
		logger.WithError(err).Error("failed to build JWKS")
		http.Error(w, "Failed to build key set", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if h.maxAge > 0 {
		w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.maxAge.Seconds())))
	}
	if err := json.NewEncoder(w).Encode(set); err != nil {
		logger.WithError(err).Warn("failed to encode JWKS")
	}
}
