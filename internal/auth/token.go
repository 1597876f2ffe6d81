// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Token modes understood by NewTokenIssuer.
const (
	TokenModeOpaque = "opaque"
	TokenModeJWT    = "jwt"
)

// Token configuration.
const (
	OpaqueTokenBytes   = 32 // 32 bytes = 64 hex chars
	MinJWTSecretLength = 32
	DefaultTokenTTL    = 24 * time.Hour
)

// TokenIssuer produces the bearer value returned by a successful login.
// Every call must return a distinct value.
type TokenIssuer interface {
	Issue(ctx context.Context, account *Account) (string, error)
}

// NewTokenIssuer returns the issuer for mode.
func NewTokenIssuer(mode, secret string, ttl time.Duration) (TokenIssuer, error) {
	switch mode {
	case "", TokenModeOpaque:
		return OpaqueIssuer{}, nil
	case TokenModeJWT:
		return NewJWTIssuer(secret, ttl)
	default:
		return nil, oops.Code("TOKEN_UNKNOWN_MODE").
			With("mode", mode).
			Errorf("unknown token mode %q", mode)
	}
}

// OpaqueIssuer issues random hex tokens with no embedded meaning.
type OpaqueIssuer struct{}

// Issue returns OpaqueTokenBytes of crypto/rand output, hex encoded.
func (OpaqueIssuer) Issue(_ context.Context, _ *Account) (string, error) {
	b := make([]byte, OpaqueTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(b), nil
}

// Claims are the JWT claims issued on login.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTIssuer issues HS256 signed tokens.
type JWTIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTIssuer creates a JWTIssuer. Zero ttl selects DefaultTokenTTL.
func NewJWTIssuer(secret string, ttl time.Duration) (*JWTIssuer, error) {
	if len(secret) < MinJWTSecretLength {
		return nil, oops.Code("TOKEN_SECRET_TOO_SHORT").
			Errorf("jwt secret must be at least %d bytes", MinJWTSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &JWTIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for account.
func (i *JWTIssuer) Issue(_ context.Context, account *Account) (string, error) {
	now := i.now()
	claims := Claims{
		Email: account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	return signed, nil
}

// Parse verifies the signature and expiry of token and returns its claims.
func (i *JWTIssuer) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrap(err)
	}
	return claims, nil
}
