package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_Verify(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.GenerateToken("subject-1", "buyer-1", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "subject-1", id.Subject)
	assert.Equal(t, "buyer-1", id.UserID)
}

func TestJWTVerifier_UserIDFallsBackToSubject(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	token, err := v.GenerateToken("subject-1", "", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "subject-1", id.UserID)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("test-secret")

	expired, err := v.GenerateToken("subject-1", "", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewJWTVerifier("other-secret").GenerateToken("subject-1", "", time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "subject-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify(context.Background(), "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
