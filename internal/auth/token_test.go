package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims(7, "Avery", "nextpage", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued, "nextpage")
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	id, err := claims.UserID()
	if err != nil || id != 7 || claims.Name != "Avery" {
		t.Fatalf("unexpected claims: %+v (id=%d, err=%v)", claims, id, err)
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, NewClaims(7, "Avery", "nextpage", time.Minute, time.Now().Add(-time.Hour)))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	_, err = ParseToken(secret, issued, "nextpage")
	if !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestParseTokenRejectsWrongSecretAndIssuer(t *testing.T) {
	issued, err := IssueToken([]byte("secret"), NewClaims(7, "Avery", "nextpage", time.Hour, time.Now()))
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	if _, err := ParseToken([]byte("other"), issued, "nextpage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
	if _, err := ParseToken([]byte("secret"), issued, "someone-else"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong issuer, got %v", err)
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := NewClaims(7, "Avery", "nextpage", time.Hour, time.Now())
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}
	if _, err := ParseToken([]byte("secret"), unsigned, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestClaimsUserIDRejectsGarbage(t *testing.T) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "abc"}}
	if _, err := claims.UserID(); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
