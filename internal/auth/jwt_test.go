package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService("test-secret-at-least-16-chars!!", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short", time.Hour); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_ZeroTTLUsesDefault(t *testing.T) {
	ts, err := NewTokenService("this-is-16-chars", 0)
	if err != nil {
		t.Fatalf("NewTokenService() error = %v", err)
	}
	if ts.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", ts.ttl, DefaultTTL)
	}
}

// =========================================================================
// GENERATE / VALIDATE
// =========================================================================

func TestGenerate_LooksLikeJWT(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.Generate("665f1c2a9b1e4a0012345678")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if n := strings.Count(token, "."); n != 2 {
		t.Errorf("token has %d dots, want 2", n)
	}
}

func TestValidate_RoundTrip(t *testing.T) {
	ts := newTestTokenService(t)
	userID := "665f1c2a9b1e4a0012345678"

	token, err := ts.Generate(userID)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got, err := ts.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got != userID {
		t.Errorf("Validate() = %q, want %q", got, userID)
	}
}

func TestValidate_ExpiredToken(t *testing.T) {
	ts := newTestTokenService(t)

	token, err := ts.GenerateWithDuration("user-1", -time.Second)
	if err != nil {
		t.Fatalf("GenerateWithDuration() error = %v", err)
	}

	_, err = ts.Validate(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Validate() error = %v, want ErrTokenExpired", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("a-different-secret-entirely!!", time.Hour)

	good, _ := ts.Generate("user-1")
	foreign, _ := other.Generate("user-1")
	noSubject, _ := ts.Generate("")

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt.token",
		"tampered":     good[:len(good)-3] + "xxx",
		"wrong secret": foreign,
		"no subject":   noSubject,
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ts.Validate(token); err == nil {
				t.Fatal("Validate() should fail")
			}
		})
	}
}
