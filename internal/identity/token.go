// Package identity issues and verifies the bearer tokens producers present
// when submitting frames for sealing.
package identity

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scopes understood by the sealing service.
const (
	ScopeSeal = "ledger:seal"
	ScopeRead = "ledger:read"
)

// minSecretLen is the shortest HMAC secret NewTokenIssuer accepts.
const minSecretLen = 32

// ErrWeakSecret is returned when the signing secret is too short.
var ErrWeakSecret = fmt.Errorf("token secret must be at least %d bytes", minSecretLen)

// ProducerClaims are the JWT claims carried by a producer token. Subject
// names the capture source (a camera rig, an ingest worker) that sealed the
// frame.
type ProducerClaims struct {
	jwt.RegisteredClaims
	Producer string   `json:"producer"`
	Scopes   []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope.
func (c *ProducerClaims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// TokenIssuer issues and verifies producer tokens signed with HS256.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuer: the "iss" claim value; typically the service's base URL.
//	ttl:    token lifetime (default: 24 hours).
func NewTokenIssuer(secret []byte, issuer string, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: slices.Clone(secret),
		issuer: issuer,
		ttl:    ttl,
	}, nil
}

// Issue creates a signed token for producer with the requested scopes.
func (t *TokenIssuer) Issue(producer string, scopes []string) (string, error) {
	if producer == "" {
		return "", errors.New("issue token: producer is required")
	}
	now := time.Now().UTC()
	claims := ProducerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   producer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.New().String(),
		},
		Producer: producer,
		Scopes:   scopes,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a producer token, returning its claims on success.
func (t *TokenIssuer) Verify(tokenStr string) (*ProducerClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ProducerClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, ok := token.Claims.(*ProducerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Producer == "" || claims.Producer != claims.Subject {
		return nil, fmt.Errorf("token producer does not match subject")
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }
