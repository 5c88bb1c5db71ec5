// Package auth turns bearer credentials into validated user identities.
// Token issuance and validation live here; what a user may do with that
// identity is the access package's concern.
package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrUnauthorized is returned for missing, malformed or expired credentials.
var ErrUnauthorized = errors.New("auth: unauthorized")

const tokenTTL = 24 * time.Hour

// Claims is the JWT payload carried by every session token.
type Claims struct {
	Username string    `json:"username"`
	ID       uuid.UUID `json:"id"`
	jwt.RegisteredClaims
}

// Tokens issues and validates session tokens signed with a shared secret.
type Tokens struct {
	secret []byte
}

func NewTokens(secret string) *Tokens {
	return &Tokens{secret: []byte(secret)}
}

// Issue signs a token for the given user.
func (t *Tokens) Issue(userID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		Username: username,
		ID:       userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Parse validates a token and returns the user id it carries.
func (t *Tokens) Parse(token string) (uuid.UUID, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrUnauthorized
		}
		return t.secret, nil
	})
	if err != nil || !parsed.Valid {
		return uuid.Nil, ErrUnauthorized
	}
	if claims.ID == uuid.Nil {
		return uuid.Nil, ErrUnauthorized
	}
	return claims.ID, nil
}

// BearerToken extracts the bearer token from the Authorization header, or
// "" when absent.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

// ClientSecret extracts the trusted-caller credential header, or "" when
// absent. It is compared verbatim against the configured secret by the
// permission resolver.
func ClientSecret(r *http.Request) string {
	return r.Header.Get("Client-Secret")
}
