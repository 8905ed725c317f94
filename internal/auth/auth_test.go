package auth

import "testing"

func TestHashAndCheck(t *testing.T) {
	hash, err := HashPassword("Site-Pass-1")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := CheckPassword("Site-Pass-1", hash); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPassword("wrong", hash); err == nil {
		t.Fatalf("expected mismatch")
	}
}

func TestValidatePassword(t *testing.T) {
	if ValidatePassword("short") != ErrWeakPassword {
		t.Fatalf("short password must be rejected")
	}
	if err := ValidatePassword("long-enough"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCSRF(t *testing.T) {
	a, err := NewCSRFToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _ := NewCSRFToken()
	if a == b {
		t.Fatalf("tokens must differ")
	}
	if !CSRFMatch(a, " "+a+" ") {
		t.Fatalf("same token should match")
	}
	if CSRFMatch(a, b) {
		t.Fatalf("different tokens must not match")
	}
	if CSRFMatch("", "") {
		t.Fatalf("empty tokens must never match")
	}
}
