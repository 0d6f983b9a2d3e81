package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestIdentityFromToken_UserIDClaim(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, Claims{
		UserID:   "u-1",
		TenantID: "acme",
		Role:     "user",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ignored",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})

	id, err := IdentityFromToken(token)
	if err != nil {
		t.Fatalf("IdentityFromToken: %v", err)
	}
	if id.Subject != "u-1" {
		t.Errorf("Subject = %q, want u-1", id.Subject)
	}
	if id.TenantID != "acme" {
		t.Errorf("TenantID = %q, want acme", id.TenantID)
	}
	if !id.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", id.ExpiresAt, exp)
	}
}

func TestIdentityFromToken_FallsBackToSub(t *testing.T) {
	token := signToken(t, jwt.RegisteredClaims{Subject: "u-2"})
	if got := SubjectFromToken("Bearer " + token); got != "u-2" {
		t.Errorf("SubjectFromToken = %q, want u-2", got)
	}
}

func TestSubjectFromToken_Invalid(t *testing.T) {
	for _, raw := range []string{"", "not-a-jwt", "a.b.c"} {
		if got := SubjectFromToken(raw); got != "" {
			t.Errorf("SubjectFromToken(%q) = %q, want empty", raw, got)
		}
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	past := signToken(t, Claims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute))}})
	future := signToken(t, Claims{UserID: "u", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))}})
	noExp := signToken(t, Claims{UserID: "u"})

	if !Expired(past, now) {
		t.Error("expected past token to be expired")
	}
	if Expired(future, now) {
		t.Error("expected future token to be valid")
	}
	if Expired(noExp, now) {
		t.Error("expected token without exp to be valid")
	}
}
