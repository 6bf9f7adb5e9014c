package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"bankrecon/internal/shared/clock"
)

func TestJWT_GenerateAndValidate(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	j := NewJWT("my-secret-key", time.Hour, clk)

	token, err := j.Generate("tenant-1", "user-7")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	claims, err := j.Validate(token)
	if err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}
	if claims.TenantID != "tenant-1" || claims.Subject != "user-7" {
		t.Errorf("Validate() claims = %+v", claims)
	}
	if claims.Exp-claims.Iat != int64(time.Hour/time.Second) {
		t.Errorf("token lifetime = %ds, want 3600", claims.Exp-claims.Iat)
	}

	// Tampered signature
	parts := strings.Split(token, ".")
	if _, err := j.Validate(parts[0] + "." + parts[1] + ".invalidsignature"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("tampered signature: err = %v, want ErrInvalidToken", err)
	}

	// Tampered claims: swap the tenant, keep the signature
	forged, _ := json.Marshal(Claims{TenantID: "tenant-2", Subject: "user-7", Iat: claims.Iat, Exp: claims.Exp})
	forgedToken := parts[0] + "." + base64.RawURLEncoding.EncodeToString(forged) + "." + parts[2]
	if _, err := j.Validate(forgedToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("forged tenant: err = %v, want ErrInvalidToken", err)
	}

	// Wrong secret
	other := NewJWT("other-secret", time.Hour, clk)
	if _, err := other.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("wrong secret: err = %v, want ErrInvalidToken", err)
	}
}

func TestJWT_Expiry(t *testing.T) {
	clk := clock.Fake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	j := NewJWT("secret", time.Hour, clk)

	token, err := j.Generate("tenant-1", "user-7")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	clk.Advance(time.Hour)
	if _, err := j.Validate(token); err != nil {
		t.Errorf("token at exactly exp should still be valid: %v", err)
	}

	clk.Advance(time.Second)
	if _, err := j.Validate(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}
}

func TestJWT_Malformed(t *testing.T) {
	j := NewJWT("secret", 0, clock.Real())

	for _, token := range []string{"", "a.b", "a.b.c.d", "not-a-token"} {
		if _, err := j.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestJWT_GenerateRequiresIdentity(t *testing.T) {
	j := NewJWT("secret", 0, clock.Real())

	if _, err := j.Generate("", "user"); err == nil {
		t.Error("expected error for empty tenant")
	}
	if _, err := j.Generate("tenant", ""); err == nil {
		t.Error("expected error for empty subject")
	}
}
