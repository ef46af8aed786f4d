// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMaterial(t *testing.T) {
	t.Run("GenerateKeyPair with FIPS-compliant key size", func(t *testing.T) {
		km, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, km.PrivateKey.N.BitLen(), MinRSAKeySize)
		assert.Equal(t, &km.PrivateKey.PublicKey, km.PublicKey)
		assert.NotEmpty(t, km.KID)
	})

	t.Run("NewKeyMaterial with non-compliant key size", func(t *testing.T) {
		smallKey, err := rsa.GenerateKey(rand.Reader, 1024)
		require.NoError(t, err)

		_, err = NewKeyMaterial(smallKey)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "below minimum required")
	})

	t.Run("KeyID is deterministic", func(t *testing.T) {
		km, err := GenerateKeyPair()
		require.NoError(t, err)

		first, err := KeyID(km.PublicKey)
		require.NoError(t, err)
		second, err := KeyID(&rsa.PublicKey{N: km.PublicKey.N, E: km.PublicKey.E})
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, km.KID, first)
		assert.Len(t, first, 43)
		assert.NotContains(t, first, "=")
	})

	t.Run("KeyID differs between keys", func(t *testing.T) {
		a, err := GenerateKeyPair()
		require.NoError(t, err)
		b, err := GenerateKeyPair()
		require.NoError(t, err)
		assert.NotEqual(t, a.KID, b.KID)
	})
}

func TestPEMParsing(t *testing.T) {
	km, err := GenerateKeyPair()
	require.NoError(t, err)

	t.Run("PKCS8 private key", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(km.PrivateKey)
		require.NoError(t, err)
		data := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

		parsed, err := ParsePrivateKeyPEM(data)
		require.NoError(t, err)
		assert.True(t, parsed.Equal(km.PrivateKey))
	})

	t.Run("PKCS1 public key yields the same kid", func(t *testing.T) {
		data := pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(km.PublicKey)})

		parsed, err := ParsePublicKeyPEM(data)
		require.NoError(t, err)
		kid, err := KeyID(parsed)
		require.NoError(t, err)
		assert.Equal(t, km.KID, kid)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParsePrivateKeyPEM([]byte("not pem"))
		assert.Error(t, err)
		_, err = ParsePublicKeyPEM([]byte("not pem"))
		assert.Error(t, err)
	})
}

func TestStore(t *testing.T) {
	t.Run("Save and Load RSA keys", func(t *testing.T) {
		dir := t.TempDir()
		km, err := GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, SaveKeyPair(km, dir))

		info, err := os.Stat(filepath.Join(dir, PrivateKeyFile))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		store := NewStore(dir)
		loaded, err := store.GetKeys()
		require.NoError(t, err)
		assert.Equal(t, km.KID, loaded.KID)
		assert.True(t, loaded.PrivateKey.Equal(km.PrivateKey))

		again, err := store.GetKeys()
		require.NoError(t, err)
		assert.Same(t, loaded, again)
	})

	t.Run("missing files fail instead of generating", func(t *testing.T) {
		store := NewStore(t.TempDir())
		_, err := store.GetKeys()
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, ErrKeyMaterialUnavailable))
	})

	t.Run("recovers once files appear", func(t *testing.T) {
		dir := t.TempDir()
		store := NewStore(dir)
		_, err := store.GetKeys()
		require.Error(t, err)

		km, err := GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, SaveKeyPair(km, dir))

		loaded, err := store.GetKeys()
		require.NoError(t, err)
		assert.Equal(t, km.KID, loaded.KID)
	})

	t.Run("mismatched public key is rejected", func(t *testing.T) {
		dir := t.TempDir()
		a, err := GenerateKeyPair()
		require.NoError(t, err)
		b, err := GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, SavePrivateKey(a.PrivateKey, filepath.Join(dir, PrivateKeyFile)))
		require.NoError(t, SavePublicKey(b.PublicKey, filepath.Join(dir, PublicKeyFile)))

		_, err = NewStore(dir).GetKeys()
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, ErrKeyMaterialUnavailable))
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("Reset reloads rotated keys", func(t *testing.T) {
		dir := t.TempDir()
		first, err := GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, SaveKeyPair(first, dir))

		store := NewStore(dir)
		loaded, err := store.GetKeys()
		require.NoError(t, err)
		assert.Equal(t, first.KID, loaded.KID)

		second, err := GenerateKeyPair()
		require.NoError(t, err)
		require.NoError(t, SaveKeyPair(second, dir))

		loaded, err = store.GetKeys()
		require.NoError(t, err)
		assert.Equal(t, first.KID, loaded.KID)

		store.Reset()
		loaded, err = store.GetKeys()
		require.NoError(t, err)
		assert.Equal(t, second.KID, loaded.KID)
	})

	t.Run("static store", func(t *testing.T) {
		km, err := GenerateKeyPair()
		require.NoError(t, err)
		store := NewStaticStore(km)
		store.Reset()
		loaded, err := store.GetKeys()
		require.NoError(t, err)
		assert.Same(t, km, loaded)
	})
}
