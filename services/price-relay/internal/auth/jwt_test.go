package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCfg = Config{
	Enabled:  true,
	Secret:   "0123456789abcdef0123",
	Issuer:   "crypto-relay",
	Audience: "price-relay",
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, testCfg.Validate())
	assert.Error(t, Config{Enabled: true, Secret: "short"}.Validate())
	assert.Error(t, Config{Enabled: true, Secret: testCfg.Secret, Leeway: -time.Second}.Validate())
}

func TestVerifier_Valid(t *testing.T) {
	v, err := NewVerifier(testCfg)
	require.NoError(t, err)

	tok, err := Issue(testCfg, "user-42", time.Minute, "viewer")
	require.NoError(t, err)

	id, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID)
	assert.Equal(t, []string{"viewer"}, id.Roles)

	id, err = v.Verify("Bearer " + tok)
	require.NoError(t, err)
	assert.Equal(t, "user-42", id.UserID)
}

func TestVerifier_Rejects(t *testing.T) {
	v, err := NewVerifier(testCfg)
	require.NoError(t, err)

	expired, err := Issue(testCfg, "u", -time.Minute)
	require.NoError(t, err)

	otherSecret := testCfg
	otherSecret.Secret = "ffffffffffffffffffff"
	forged, err := Issue(otherSecret, "u", time.Minute)
	require.NoError(t, err)

	otherIssuer := testCfg
	otherIssuer.Issuer = "someone-else"
	wrongIss, err := Issue(otherIssuer, "u", time.Minute)
	require.NoError(t, err)

	otherAud := testCfg
	otherAud.Audience = "billing"
	wrongAud, err := Issue(otherAud, "u", time.Minute)
	require.NoError(t, err)

	noSubject, err := Issue(testCfg, "", time.Minute)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "u",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-jwt",
		"expired":      expired,
		"wrong secret": forged,
		"wrong issuer": wrongIss,
		"wrong aud":    wrongAud,
		"no subject":   noSubject,
		"alg none":     none,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(tok)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestVerifier_Disabled(t *testing.T) {
	v, err := NewVerifier(Config{})
	require.NoError(t, err)
	assert.False(t, v.Enabled())

	id, err := v.Verify("")
	require.NoError(t, err)
	assert.Equal(t, Anonymous, id)
}
