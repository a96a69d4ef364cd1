// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Token configuration.
const (
	DefaultTokenTTL = 24 * time.Hour
	MinSecretLength = 32 // bytes, HS256 key size
	TokenType       = "Bearer"
	tokenIssuer     = "homeheaven"
)

// Clock returns the current time. Tests inject a fixed or advancing clock.
type Clock func() time.Time

// SigningKey is an HMAC secret identified by a key id carried in the token header.
type SigningKey struct {
	ID     string
	Secret []byte
}

// Claims are the verified contents of a bearer token.
type Claims struct {
	Subject   string
	Role      Role
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// tokenClaims is the JWT payload.
type tokenClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenIssuer creates and verifies signed, time-bounded bearer tokens.
// The first key signs new tokens; every key is accepted for verification so
// tokens issued before a rotation stay valid until they expire.
type TokenIssuer struct {
	keys  []SigningKey
	byID  map[string][]byte
	clock Clock
}

// NewTokenIssuer creates a TokenIssuer. keys must be non-empty, ordered
// newest first, with unique ids and secrets of at least MinSecretLength bytes.
func NewTokenIssuer(keys []SigningKey, clock Clock) (*TokenIssuer, error) {
	if len(keys) == 0 {
		return nil, oops.Code("TOKEN_KEYS_REQUIRED").Errorf("at least one signing key is required")
	}
	if clock == nil {
		clock = time.Now
	}

	byID := make(map[string][]byte, len(keys))
	owned := make([]SigningKey, 0, len(keys))
	for i, k := range keys {
		if k.ID == "" {
			return nil, oops.Code("TOKEN_KEY_INVALID").With("index", i).Errorf("signing key id cannot be empty")
		}
		if len(k.Secret) < MinSecretLength {
			return nil, oops.Code("TOKEN_KEY_INVALID").
				With("key_id", k.ID).
				With("min", MinSecretLength).
				Errorf("signing key must be at least %d bytes", MinSecretLength)
		}
		if _, dup := byID[k.ID]; dup {
			return nil, oops.Code("TOKEN_KEY_INVALID").With("key_id", k.ID).Errorf("duplicate signing key id")
		}
		secret := append([]byte(nil), k.Secret...)
		byID[k.ID] = secret
		owned = append(owned, SigningKey{ID: k.ID, Secret: secret})
	}

	return &TokenIssuer{keys: owned, byID: byID, clock: clock}, nil
}

// Issue produces a token binding subject and role for ttl and returns it
// with its absolute expiry.
func (t *TokenIssuer) Issue(subject string, role Role, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").Errorf("subject cannot be empty")
	}
	if !role.Valid() {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").With("role", string(role)).Errorf("invalid role")
	}
	// NumericDate has second precision, so shorter lifetimes would encode an
	// already-expired token.
	if ttl < time.Second {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").With("ttl", ttl.String()).Errorf("token ttl must be at least one second")
	}

	now := t.clock().Truncate(time.Second)
	expiresAt := now.Add(ttl).Truncate(time.Second)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Role: string(role),
	}

	signing := t.keys[0]
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = signing.ID

	signed, err := token.SignedString(signing.Secret)
	if err != nil {
		return "", time.Time{}, oops.Code("TOKEN_ISSUE_FAILED").With("key_id", signing.ID).Wrap(err)
	}
	return signed, expiresAt, nil
}

// Verify checks the signature, structure and expiry of token and returns its
// claims. Every failure yields the same AUTH_TOKEN_INVALID error.
func (t *TokenIssuer) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, errInvalidToken()
	}

	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, t.keyFor,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.clock),
		jwt.WithStrictDecoding(),
	)
	if err != nil || !parsed.Valid {
		return nil, errInvalidToken()
	}

	role := Role(claims.Role)
	if claims.Subject == "" || !role.Valid() || claims.IssuedAt == nil {
		return nil, errInvalidToken()
	}

	return &Claims{
		Subject:   claims.Subject,
		Role:      role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (t *TokenIssuer) keyFor(token *jwt.Token) (any, error) {
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, oops.Errorf("missing kid header")
	}
	secret, ok := t.byID[kid]
	if !ok {
		return nil, oops.With("key_id", kid).Errorf("unknown signing key")
	}
	return secret, nil
}
