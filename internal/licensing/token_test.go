package licensing

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licsvc/internal/crypto"
	"licsvc/pkg/contracts/domain"
)

func newTestIssuer(t *testing.T, ttl, jitterMax time.Duration) *TokenIssuer {
	t.Helper()
	_, priv, err := crypto.GenerateSigningKeys()
	require.NoError(t, err)
	issuer, err := NewTokenIssuer(priv, "licsvc-test", ttl, jitterMax)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_Validation(t *testing.T) {
	_, priv, err := crypto.GenerateSigningKeys()
	require.NoError(t, err)

	t.Run("rejects truncated key", func(t *testing.T) {
		_, err := NewTokenIssuer(priv[:16], "licsvc", time.Hour, 0)
		assert.Error(t, err)
	})

	t.Run("rejects non-positive ttl", func(t *testing.T) {
		_, err := NewTokenIssuer(priv, "licsvc", 0, 0)
		assert.Error(t, err)
	})

	t.Run("clamps negative jitter to zero", func(t *testing.T) {
		issuer, err := NewTokenIssuer(priv, "licsvc", time.Hour, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), issuer.jitterMax)
	})
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour, 0)
	key := BindingKey(testServiceID, testVersion, testInstanceID)

	token, err := issuer.Issue(key, domain.LicenseTierProfessional, domain.LicenseStatusActive, accessGrantedMessage)
	require.NoError(t, err)
	assert.Equal(t, 3, len(strings.Split(token, ".")))

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, key, claims.Subject)
	assert.Equal(t, "licsvc-test", claims.Issuer)
	assert.Equal(t, domain.LicenseTierProfessional, claims.Tier)
	assert.Equal(t, domain.LicenseStatusActive, claims.Status)
	assert.Equal(t, accessGrantedMessage, claims.Message)
}

func TestTokenIssuer_ExpiryJitterBounds(t *testing.T) {
	const jitterMax = 5 * time.Minute
	issuer := newTestIssuer(t, time.Hour, jitterMax)

	for i := 0; i < 50; i++ {
		before := time.Now()
		token, err := issuer.Issue("binding", domain.LicenseTierBasic, domain.LicenseStatusActive, "")
		require.NoError(t, err)
		after := time.Now()

		claims, err := issuer.Verify(token)
		require.NoError(t, err)

		lifetime := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
		assert.GreaterOrEqual(t, lifetime, time.Hour)
		assert.LessOrEqual(t, lifetime, time.Hour+jitterMax)
		// NumericDate truncates to seconds; allow a one second skew.
		assert.WithinDuration(t, before, claims.IssuedAt.Time, after.Sub(before)+time.Second)
	}
}

func TestTokenIssuer_Verify_Failures(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour, 0)

	t.Run("expired token returns claims with ErrTokenExpired", func(t *testing.T) {
		short := newTestIssuer(t, time.Nanosecond, 0)
		// Re-key the short issuer so both share the same signing key.
		short.priv = issuer.priv
		short.pub = issuer.pub
		token, err := short.Issue("binding", domain.LicenseTierBasic, domain.LicenseStatusActive, "")
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)

		claims, err := issuer.Verify(token)
		require.ErrorIs(t, err, ErrTokenExpired)
		require.NotNil(t, claims)
		assert.Equal(t, "binding", claims.Subject)
	})

	t.Run("token signed with a different key", func(t *testing.T) {
		other := newTestIssuer(t, time.Hour, 0)
		token, err := other.Issue("binding", domain.LicenseTierBasic, domain.LicenseStatusActive, "")
		require.NoError(t, err)

		claims, err := issuer.Verify(token)
		assert.ErrorIs(t, err, ErrTokenMalformed)
		assert.Nil(t, claims)
	})

	t.Run("garbage token", func(t *testing.T) {
		claims, err := issuer.Verify("not.a.token")
		assert.ErrorIs(t, err, ErrTokenMalformed)
		assert.Nil(t, claims)
	})

	t.Run("token without expiry claim", func(t *testing.T) {
		raw := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.RegisteredClaims{Subject: "binding"})
		token, err := raw.SignedString(issuer.priv)
		require.NoError(t, err)

		claims, err := issuer.Verify(token)
		assert.ErrorIs(t, err, ErrTokenMalformed)
		assert.Nil(t, claims)
	})
}

func TestTokenIssuer_CheckFormat(t *testing.T) {
	issuer := newTestIssuer(t, time.Hour, 0)

	valid, err := issuer.Issue("binding", domain.LicenseTierBasic, domain.LicenseStatusActive, "")
	require.NoError(t, err)

	hmacToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "binding"})
	hmacSigned, err := hmacToken.SignedString([]byte("shared-secret"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{name: "well formed token", token: valid},
		{name: "empty string", token: "", wantErr: true},
		{name: "two segments", token: "aaaa.bbbb", wantErr: true},
		{name: "four segments", token: valid + ".extra", wantErr: true},
		{name: "undecodable header", token: "!!!.bbbb.cccc", wantErr: true},
		{name: "wrong signing algorithm", token: hmacSigned, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := issuer.CheckFormat(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrTokenMalformed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBlacklistTTL(t *testing.T) {
	assert.Equal(t, 2*time.Hour, BlacklistTTL(time.Hour, 4*time.Hour))
	assert.Equal(t, 90*time.Minute, BlacklistTTL(time.Hour, 90*time.Minute))
	assert.Equal(t, 2*time.Hour, BlacklistTTL(time.Hour, 0))
}
