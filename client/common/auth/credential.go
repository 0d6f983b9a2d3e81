package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrEmptyCredential = errors.New("credential is empty")

// Claims mirrors the access token issued by the session service.
type Claims struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is what the client needs to know about the credential holder.
type Identity struct {
	Subject   string
	TenantID  string
	Role      string
	ExpiresAt time.Time
}

// ParseUnverified decodes the payload segment of a bearer token without
// checking its signature. The backend remains the authority on validity.
func ParseUnverified(token string) (*Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return nil, ErrEmptyCredential
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("decode credential: %w", err)
	}
	return claims, nil
}

func IdentityFromToken(token string) (Identity, error) {
	claims, err := ParseUnverified(token)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{
		Subject:  strings.TrimSpace(claims.UserID),
		TenantID: strings.TrimSpace(claims.TenantID),
		Role:     strings.TrimSpace(claims.Role),
	}
	if id.Subject == "" {
		id.Subject = strings.TrimSpace(claims.Subject)
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if id.Subject == "" {
		return Identity{}, errors.New("credential has no subject")
	}
	return id, nil
}

// SubjectFromToken returns the subject identifier, or "" when the token
// cannot be decoded.
func SubjectFromToken(token string) string {
	id, err := IdentityFromToken(token)
	if err != nil {
		return ""
	}
	return id.Subject
}

// Expired reports whether the token carries an expiry that is already past.
// Tokens without an expiry never expire from the client's point of view.
func Expired(token string, now time.Time) bool {
	id, err := IdentityFromToken(token)
	if err != nil || id.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(id.ExpiresAt)
}

// UnverifiedParser adapts the unverified decode to the gin middleware.
type UnverifiedParser struct{}

func (UnverifiedParser) ParseAuthContext(token string) (userID, tenantID, role string, err error) {
	id, err := IdentityFromToken(token)
	if err != nil {
		return "", "", "", err
	}
	return id.Subject, id.TenantID, id.Role, nil
}
