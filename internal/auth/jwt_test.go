package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	token, err := v.Generate(Principal{ID: "user-1", Email: "a@b.c"}, time.Hour)
	require.NoError(t, err)

	p, err := v.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.ID)
	assert.Equal(t, "a@b.c", p.Email)
}

func TestJWTVerifier_NoExpiry(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))

	token, err := v.Generate(Principal{ID: "user-1"}, 0)
	require.NoError(t, err)

	_, err = v.Authenticate(context.Background(), token)
	assert.NoError(t, err)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier([]byte("secret"))
	other := NewJWTVerifier([]byte("other"))

	foreign, err := other.Generate(Principal{ID: "user-1"}, time.Hour)
	require.NoError(t, err)

	expired, err := v.Generate(Principal{ID: "user-1"}, -time.Minute)
	require.NoError(t, err)

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"iat": time.Now().Unix()}).
		SignedString([]byte("secret"))
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"expired":      expired,
		"missing sub":  noSub,
		"alg none":     none,
	}

	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Authenticate(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}
