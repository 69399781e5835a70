package mockauth

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type authClaims struct {
	Email string `json:"email"`
	Gen   int64  `json:"gen"`
	jwt.RegisteredClaims
}

// tokenSigner issues and validates short-lived HS256 access tokens. The
// generation counter lets tests revoke everything issued so far.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
	gen    atomic.Int64
}

func newTokenSigner(ttl time.Duration) *tokenSigner {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(fmt.Sprintf("mockauth: generating signing secret: %v", err))
	}
	return &tokenSigner{secret: secret, ttl: ttl}
}

func (t *tokenSigner) issue(email string) (string, error) {
	now := time.Now()
	claims := authClaims{
		Email: email,
		Gen:   t.gen.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "mockauth",
			Subject:   email,
			// Unique per issuance so reissued tokens never collide.
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

func (t *tokenSigner) validate(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("missing token")
	}

	var claims authClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Gen != t.gen.Load() {
		return "", fmt.Errorf("token revoked")
	}
	return claims.Email, nil
}

func (t *tokenSigner) bumpGeneration() {
	t.gen.Add(1)
}
