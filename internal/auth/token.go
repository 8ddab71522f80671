// Package auth issues and verifies the HS256 session tokens that guard
// the HTTP API. Operator tokens carry Role="operator" and may resolve
// threats, revoke device trust, and manage webhook subscriptions;
// regular tokens are scoped to their own user ID.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RoleOperator marks tokens allowed to act on any user's account.
const RoleOperator = "operator"

// Claims are the JWT claims for an API session token.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// IsOperator reports whether the claims carry the operator role.
func (c *Claims) IsOperator() bool {
	return c != nil && c.Role == RoleOperator
}

// TokenIssuer issues and verifies session JWTs signed with a shared secret.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a TokenIssuer.
//
//	issuerURL — The "iss" claim value; matches the service's base URL.
//	ttl       — Token lifetime (default: 24 hours).
func NewTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *TokenIssuer {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{
		secret: secret,
		issuer: issuerURL,
		ttl:    ttl,
	}
}

// Issue creates a signed session token for userID.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	return t.issue(userID, "", t.ttl)
}

// IssueOperator creates a signed operator token. Operator tokens are
// issued only in exchange for the static operator secret, never via the
// regular login flow.
func (t *TokenIssuer) IssueOperator(ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return t.issue("operator", RoleOperator, ttl)
}

func (t *TokenIssuer) issue(userID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.New().String(),
		},
		UserID: userID,
		Role:   role,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a session token, returning its claims.
func (t *TokenIssuer) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return t.secret, nil
		},
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify session token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid session token claims")
	}
	return claims, nil
}
