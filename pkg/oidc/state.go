package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// GenerateState returns a random, URL safe state value for one login attempt.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ExpectedNonce derives the nonce bound into the authorization request from
// its state.
func ExpectedNonce(state string) string {
	sum := sha256.Sum256([]byte(state))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func nonceMatches(state, nonce string) bool {
	return subtle.ConstantTimeCompare([]byte(ExpectedNonce(state)), []byte(nonce)) == 1
}
