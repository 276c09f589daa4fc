// Package crypto provides the cryptographic primitives the licensing core
// depends on: authenticated symmetric encryption for license material,
// detached Ed25519 request signatures, and digest helpers. Callers outside
// this package never see partial failure detail for license material; any
// decrypt or parse failure surfaces as ErrInvalidLicenseMaterial.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// ErrInvalidLicenseMaterial is returned for any malformed, truncated, or
// tampered ciphertext. The single opaque error is deliberate: decrypt
// failures must not leak which stage rejected the input.
var ErrInvalidLicenseMaterial = errors.New("invalid license material")

// scrypt parameters follow the OWASP recommended minimums for AES-256 key
// derivation.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	gcmNonceSize = 12
)

// KeyCodec performs authenticated encryption of license material (license
// keys and user ids) with AES-256-GCM. The key is derived once from the
// configured secret and salt via scrypt.
type KeyCodec struct {
	aead cipher.AEAD
}

// NewKeyCodec derives the AES-256 key from secret and salt and prepares the
// GCM cipher. The salt must be at least 16 bytes.
func NewKeyCodec(secret string, salt []byte) (*KeyCodec, error) {
	if secret == "" {
		return nil, errors.New("crypto: secret must not be empty")
	}
	if len(salt) < 16 {
		return nil, errors.New("crypto: salt must be at least 16 bytes")
	}

	key, err := scrypt.Key([]byte(secret), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("crypto: key derivation failed: %w", err)
	}
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, gcmNonceSize)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}

	return &KeyCodec{aead: aead}, nil
}

// Encrypt seals plaintext with a fresh random nonce and returns
// base64url(nonce || ciphertext || tag).
func (c *KeyCodec) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Every failure mode collapses to
// ErrInvalidLicenseMaterial.
func (c *KeyCodec) Decrypt(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidLicenseMaterial
	}
	if len(raw) <= gcmNonceSize {
		return "", ErrInvalidLicenseMaterial
	}
	nonce, sealed := raw[:gcmNonceSize], raw[gcmNonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrInvalidLicenseMaterial
	}
	return string(plaintext), nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
