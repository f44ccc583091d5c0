// Package auth verifies the bearer tokens presented by WebSocket clients.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrUnauthenticated is returned for a missing, malformed or expired token.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// Principal is an authenticated user.
type Principal struct {
	ID    string
	Email string
}

// JWTVerifier validates HS256 tokens whose "sub" claim names the user.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for the given secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Authenticate validates token and returns its principal.
func (v *JWTVerifier) Authenticate(ctx context.Context, token string) (Principal, error) {
	if token == "" {
		return Principal{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, fmt.Errorf("%w: token expired", ErrUnauthenticated)
		}
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, fmt.Errorf("%w: missing sub claim", ErrUnauthenticated)
	}
	email, _ := claims["email"].(string)

	return Principal{ID: sub, Email: email}, nil
}

// Generate signs a token for the principal. A zero expiresIn yields a token
// without an expiry.
func (v *JWTVerifier) Generate(p Principal, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": p.ID,
		"iat": now.Unix(),
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if expiresIn != 0 {
		claims["exp"] = now.Add(expiresIn).Unix()
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
