package licensing

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"licsvc/pkg/contracts/domain"
)

// Sentinel errors the request validator switches on. The expired condition
// must stay distinguishable from every other verification failure.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed or incorrectly signed")
)

// AccessClaims are the claims minted into every access token. The subject
// is the deterministic binding key.
type AccessClaims struct {
	jwt.RegisteredClaims
	Tier    domain.LicenseTier   `json:"tier"`
	Status  domain.LicenseStatus `json:"status"`
	Message string               `json:"message,omitempty"`
}

// TokenIssuer mints and verifies access tokens, signed with an Ed25519 key
// (EdDSA). Expiry carries bounded random jitter so tokens minted in a burst
// do not all expire in the same instant and stampede the refresh path.
type TokenIssuer struct {
	priv      ed25519.PrivateKey
	pub       ed25519.PublicKey
	issuer    string
	ttl       time.Duration
	jitterMax time.Duration
}

// NewTokenIssuer builds an issuer. jitterMax may be zero to disable jitter.
func NewTokenIssuer(priv ed25519.PrivateKey, issuer string, ttl, jitterMax time.Duration) (*TokenIssuer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("licensing: invalid token signing key")
	}
	if ttl <= 0 {
		return nil, errors.New("licensing: token TTL must be positive")
	}
	if jitterMax < 0 {
		jitterMax = 0
	}
	return &TokenIssuer{
		priv:      priv,
		pub:       priv.Public().(ed25519.PublicKey),
		issuer:    issuer,
		ttl:       ttl,
		jitterMax: jitterMax,
	}, nil
}

// Issue mints a token for bindingKey with the given entitlement context.
func (t *TokenIssuer) Issue(bindingKey string, tier domain.LicenseTier, status domain.LicenseStatus, message string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   bindingKey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl + t.jitter())),
		},
		Tier:    tier,
		Status:  status,
		Message: message,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(t.priv)
	if err != nil {
		return "", fmt.Errorf("licensing: token signing failed: %w", err)
	}
	return signed, nil
}

// Verify parses and verifies a token, returning its claims. An expired but
// otherwise valid token returns the claims together with ErrTokenExpired;
// every other failure returns ErrTokenMalformed.
func (t *TokenIssuer) Verify(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.pub, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
	)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, ErrTokenExpired
	default:
		return nil, ErrTokenMalformed
	}
}

// CheckFormat performs the structural and algorithm checks a token must
// pass before any cryptographic verification: three dot-separated
// segments, decodable header/claims, and the EdDSA algorithm.
func (t *TokenIssuer) CheckFormat(token string) error {
	if strings.Count(token, ".") != 2 {
		return ErrTokenMalformed
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ErrTokenMalformed
	}
	if parsed.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
		return ErrTokenMalformed
	}
	return nil
}

// TTL returns the configured base token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// jitter returns a random duration in [0, jitterMax]. Never negative, never
// above the ceiling.
func (t *TokenIssuer) jitter() time.Duration {
	if t.jitterMax == 0 {
		return 0
	}
	return rand.N(t.jitterMax + 1)
}
