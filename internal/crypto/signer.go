package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Signer produces detached Ed25519 signatures over payload digests.
// Clients hold the private key; the service side normally only verifies.
// The Signer exists for key tooling and for tests.
type Signer struct {
	priv ed25519.PrivateKey
}

// Verifier checks detached Ed25519 request signatures.
type Verifier struct {
	pub ed25519.PublicKey
}

// NewSigner wraps an Ed25519 private key.
func NewSigner(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv}
}

// NewVerifier wraps an Ed25519 public key.
func NewVerifier(pub ed25519.PublicKey) *Verifier {
	return &Verifier{pub: pub}
}

// Sign signs a digest and returns the base64url-encoded signature.
func (s *Signer) Sign(digest []byte) string {
	return base64.RawURLEncoding.EncodeToString(ed25519.Sign(s.priv, digest))
}

// Verify reports whether signature is a valid base64url-encoded Ed25519
// signature of digest.
func (v *Verifier) Verify(signature string, digest []byte) bool {
	raw, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(v.pub, digest, raw)
}

// RequestDigest computes the canonical detached-signature payload digest for
// a token request: sha256 over the pipe-joined service id, service version,
// instance id, and the sha256 hex of the credential material (the presented
// token or the license key ciphertext).
func RequestDigest(serviceID, serviceVersion, instanceID, material string) []byte {
	credential := sha256.Sum256([]byte(material))
	payload := strings.Join([]string{
		serviceID,
		serviceVersion,
		instanceID,
		fmt.Sprintf("%x", credential),
	}, "|")
	digest := sha256.Sum256([]byte(payload))
	return digest[:]
}

// ParseEd25519PrivateKey decodes a base64-encoded Ed25519 private key seed
// or full private key.
func ParseEd25519PrivateKey(encoded string) (ed25519.PrivateKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key encoding: %w", err)
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.New("crypto: invalid private key length")
	}
}

// ParseEd25519PublicKey decodes a base64-encoded Ed25519 public key.
func ParseEd25519PublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("crypto: invalid public key length")
	}
	return ed25519.PublicKey(raw), nil
}

// GenerateSigningKeys creates a fresh Ed25519 key pair. Used when the
// configuration does not pin keys (development mode).
func GenerateSigningKeys() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return pub, priv, nil
}
