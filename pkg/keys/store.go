// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

package keys

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/openchami/authcore/pkg/errors"
	"github.com/openchami/authcore/pkg/logging"
)

// File names used inside a key directory.
const (
	PrivateKeyFile = "private.pem"
	PublicKeyFile  = "public.pem"
)

// ErrKeyMaterialUnavailable is returned when the signing keys cannot be loaded.
var ErrKeyMaterialUnavailable = errors.New(errors.ErrCodeKeyMaterialUnavailable, "key material unavailable")

// Provider supplies the key material used to sign and verify tokens.
type Provider interface {
	GetKeys() (*KeyMaterial, error)
}

// Store loads the key pair from disk on first use and keeps it for the life
// of the process. It never generates keys on its own: a missing or unreadable
// key file is an error, because fresh ephemeral keys would silently
// invalidate every outstanding token.
type Store struct {
	privatePath string
	publicPath  string

	mu       sync.Mutex
	material *KeyMaterial
}

// NewStore creates a store reading private.pem and public.pem from dir.
func NewStore(dir string) *Store {
	return &Store{
		privatePath: filepath.Join(dir, PrivateKeyFile),
		publicPath:  filepath.Join(dir, PublicKeyFile),
	}
}

// NewStaticStore creates a store that always returns km.
func NewStaticStore(km *KeyMaterial) *Store {
	return &Store{material: km}
}

// GetKeys returns the cached key material, loading it on the first call.
// Failed loads are not cached so a later call can succeed once the files
// appear.
func (s *Store) GetKeys() (*KeyMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.material != nil {
		return s.material, nil
	}

	km, err := s.load()
	if err != nil {
		logging.NewStructuredLogger("keys").WithError(err).Error("failed to load key material")
		return nil, err
	}

	logging.NewStructuredLogger("keys").WithField("kid", km.KID).Info("loaded key material")
	s.material = km
	return km, nil
}

// Reset drops the cached key material so the next GetKeys reloads it from
// disk. It is the hook used after keys are rotated on disk.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.privatePath != "" {
		s.material = nil
	}
}

func (s *Store) load() (*KeyMaterial, error) {
	if s.privatePath == "" {
		return nil, errors.New(errors.ErrCodeKeyMaterialUnavailable, "no key location configured")
	}

	data, err := os.ReadFile(s.privatePath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKeyMaterialUnavailable, "failed to read private key file")
	}
	privateKey, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKeyMaterialUnavailable, "failed to parse private key file")
	}

	km, err := NewKeyMaterial(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeKeyMaterialUnavailable, "invalid private key")
	}

	// The public file is optional, but when present it must describe the
	// same key, otherwise the published JWKS would not verify our tokens.
	pubData, err := os.ReadFile(s.publicPath)
	switch {
	case err == nil:
		publicKey, err := ParsePublicKeyPEM(pubData)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeKeyMaterialUnavailable, "failed to parse public key file")
		}
		if !publicKey.Equal(km.PublicKey) {
			return nil, errors.New(errors.ErrCodeKeyMaterialUnavailable, "public key file does not match private key")
		}
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrap(err, errors.ErrCodeKeyMaterialUnavailable, fmt.Sprintf("failed to read public key file %s", filepath.Base(s.publicPath)))
	}

	return km, nil
}
