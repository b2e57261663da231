package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenVerifier_RoundTrip(t *testing.T) {
	v, err := NewTokenVerifier("secret", "identity")
	require.NoError(t, err)

	token, err := v.IssueToken("s1", RoleStudent, time.Hour)
	require.NoError(t, err)

	claims, err := v.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "s1", claims.UserID())
	assert.Equal(t, RoleStudent, claims.Role)
}

func TestTokenVerifier_Rejects(t *testing.T) {
	v, err := NewTokenVerifier("secret", "identity")
	require.NoError(t, err)

	expired, err := v.IssueToken("s1", RoleStudent, -time.Minute)
	require.NoError(t, err)
	_, err = v.ParseToken(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = v.ParseToken("not-a-token")
	assert.ErrorIs(t, err, ErrTokenMalformed)

	other, _ := NewTokenVerifier("other-secret", "identity")
	foreign, err := other.IssueToken("s1", RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = v.ParseToken(foreign)
	assert.ErrorIs(t, err, ErrTokenInvalid, "Чужая подпись отклоняется")

	wrongIssuer, _ := NewTokenVerifier("secret", "someone-else")
	token, err := wrongIssuer.IssueToken("s1", RoleStudent, time.Hour)
	require.NoError(t, err)
	_, err = v.ParseToken(token)
	assert.ErrorIs(t, err, ErrTokenInvalid, "Неверный issuer отклоняется")

	badRole, err := v.IssueToken("s1", "admin", time.Hour)
	require.NoError(t, err)
	_, err = v.ParseToken(badRole)
	assert.ErrorIs(t, err, ErrTokenInvalid, "Неизвестная роль отклоняется")

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Role: RoleTeacher})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.ParseToken(unsigned)
	assert.Error(t, err, "alg=none не принимается")
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier("", "")
	assert.Error(t, err)
}
