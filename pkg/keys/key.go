// Copyright © 2025 OpenCHAMI a Series of LF Projects, LLC
//
// SPDX-License-Identifier: MIT

// Package keys loads, generates and persists the RSA key pair that signs
// self-issued tokens, and derives the key identifier (kid) published with it.
package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// MinRSAKeySize is the smallest modulus accepted for signing keys (FIPS 186-4).
const MinRSAKeySize = 2048

const (
	pemTypePKCS1Private = "RSA PRIVATE KEY"
	pemTypePKCS8Private = "PRIVATE KEY"
	pemTypePKCS1Public  = "RSA PUBLIC KEY"
	pemTypePKIXPublic   = "PUBLIC KEY"
)

// KeyMaterial is an immutable RSA key pair plus its key identifier.
type KeyMaterial struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
	KID        string
}

// NewKeyMaterial builds KeyMaterial from a private key, validating its size
// and deriving the kid from the public half.
func NewKeyMaterial(privateKey *rsa.PrivateKey) (*KeyMaterial, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("private key must be provided")
	}
	if privateKey.N.BitLen() < MinRSAKeySize {
		return nil, fmt.Errorf("RSA key size %d is below minimum required %d bits", privateKey.N.BitLen(), MinRSAKeySize)
	}

	kid, err := KeyID(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	return &KeyMaterial{
		PrivateKey: privateKey,
		PublicKey:  &privateKey.PublicKey,
		KID:        kid,
	}, nil
}

// GenerateKeyPair generates a new 2048-bit RSA key pair.
func GenerateKeyPair() (*KeyMaterial, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, MinRSAKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key pair: %w", err)
	}
	return NewKeyMaterial(privateKey)
}

// PublicKeyPEM encodes a public key as a PKIX "PUBLIC KEY" PEM block. This is
// the canonical form the kid is computed over.
func PublicKeyPEM(publicKey *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: pemTypePKIXPublic, Bytes: der}), nil
}

// KeyID returns the base64url (unpadded) SHA-256 digest of the canonical PEM
// encoding of publicKey. The same key always yields the same kid.
func KeyID(publicKey *rsa.PublicKey) (string, error) {
	if publicKey == nil {
		return "", fmt.Errorf("public key must be provided")
	}
	pemBytes, err := PublicKeyPEM(publicKey)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(pemBytes)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// ParsePrivateKeyPEM decodes a PKCS#1 or PKCS#8 RSA private key.
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case pemTypePKCS1Private:
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		return key, nil
	case pemTypePKCS8Private:
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not an RSA key")
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported private key PEM type %q", block.Type)
	}
}

// ParsePublicKeyPEM decodes a PKIX or PKCS#1 RSA public key.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case pemTypePKIXPublic:
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not an RSA key")
		}
		return key, nil
	case pemTypePKCS1Public:
		key, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("unsupported public key PEM type %q", block.Type)
	}
}

// SavePrivateKey writes the private key as PKCS#1 PEM with 0600 permissions.
func SavePrivateKey(privateKey *rsa.PrivateKey, keyPath string) error {
	if privateKey == nil {
		return fmt.Errorf("no private key available")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  pemTypePKCS1Private,
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(keyPath, privateKeyPEM, 0600); err != nil {
		return fmt.Errorf("failed to write private key file: %w", err)
	}
	return nil
}

// SavePublicKey writes the public key as PKIX PEM with 0644 permissions.
func SavePublicKey(publicKey *rsa.PublicKey, keyPath string) error {
	if publicKey == nil {
		return fmt.Errorf("no public key available")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	publicKeyPEM, err := PublicKeyPEM(publicKey)
	if err != nil {
		return err
	}
	if err := os.WriteFile(keyPath, publicKeyPEM, 0644); err != nil {
		return fmt.Errorf("failed to write public key file: %w", err)
	}
	return nil
}

// SaveKeyPair persists both halves of km into dir as private.pem and public.pem.
func SaveKeyPair(km *KeyMaterial, dir string) error {
	if km == nil {
		return fmt.Errorf("no key material available")
	}
	if err := SavePrivateKey(km.PrivateKey, filepath.Join(dir, PrivateKeyFile)); err != nil {
		return err
	}
	return SavePublicKey(km.PublicKey, filepath.Join(dir, PublicKeyFile))
}
