package identity

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNormalizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"10.0.0.5", "10.0.0.5"},
		{"10.0.0.5:52311", "10.0.0.5"},
		{"[::1]:8080", "::1"},
		{"::ffff:10.0.0.5", "10.0.0.5"},
		{"fe80::1%eth0", "fe80::1"},
		{" 192.168.1.1 ", "192.168.1.1"},
		{"not-an-ip", "not-an-ip"},
	}

	for _, tt := range tests {
		if got := NormalizeIP(tt.in); got != tt.want {
			t.Errorf("NormalizeIP(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidIP(t *testing.T) {
	valid := []string{"10.0.0.5", "::1", "2001:db8::1"}
	invalid := []string{"", "10.0.0.256", "10.0.0", "evil'; --", "1.2.3.4.5"}

	for _, ip := range valid {
		if !ValidIP(ip) {
			t.Errorf("expected %q to be valid", ip)
		}
	}
	for _, ip := range invalid {
		if ValidIP(ip) {
			t.Errorf("expected %q to be invalid", ip)
		}
	}
}

func TestResolveAnonymous(t *testing.T) {
	r := NewResolver(nil, false)

	req := httptest.NewRequest("GET", "/api/conversions/limits", nil)
	req.RemoteAddr = "10.0.0.5:40000"
	req.Header.Set("Authorization", "Bearer whatever")

	id := r.Resolve(req)
	if id.IsAuthenticated() {
		t.Fatalf("expected anonymous identity, got %s", id)
	}
	if id.IPAddress != "10.0.0.5" {
		t.Errorf("expected ip 10.0.0.5, got %s", id.IPAddress)
	}
}

func TestResolveBearer(t *testing.T) {
	v := NewTokenVerifier("test-secret-0123456789abcdefghijk", "mediaconvert", time.Minute)
	token, err := v.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	r := NewResolver(v, false)
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.5:40000"
	req.Header.Set("Authorization", "Bearer "+token)

	id := r.Resolve(req)
	if !id.IsAuthenticated() || id.UserID != "user-42" {
		t.Fatalf("expected user-42, got %s", id)
	}
}

func TestResolveInvalidTokenFallsBackToAnonymous(t *testing.T) {
	v := NewTokenVerifier("test-secret-0123456789abcdefghijk", "", 0)
	other := NewTokenVerifier("other-secret-0123456789abcdefghij", "", 0)
	token, err := other.IssueToken("user-42", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	r := NewResolver(v, false)
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.7:1234"
	req.Header.Set("Authorization", "Bearer "+token)

	id := r.Resolve(req)
	if id.IsAuthenticated() {
		t.Fatalf("expected anonymous identity for foreign signature, got %s", id)
	}
	if id.IPAddress != "10.0.0.7" {
		t.Errorf("expected ip 10.0.0.7, got %s", id.IPAddress)
	}
}

func TestClientIPProxyHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "172.16.0.1:80"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 172.16.0.1")

	if got := NewResolver(nil, false).ClientIP(req); got != "172.16.0.1" {
		t.Errorf("untrusted proxy: expected RemoteAddr, got %s", got)
	}
	if got := NewResolver(nil, true).ClientIP(req); got != "203.0.113.9" {
		t.Errorf("trusted proxy: expected forwarded address, got %s", got)
	}

	req.Header.Set("X-Forwarded-For", "garbage")
	req.Header.Set("X-Real-IP", "198.51.100.4")
	if got := NewResolver(nil, true).ClientIP(req); got != "198.51.100.4" {
		t.Errorf("expected X-Real-IP fallback, got %s", got)
	}
}

func TestVerifyExpired(t *testing.T) {
	v := NewTokenVerifier("test-secret-0123456789abcdefghijk", "", 0)
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.IssueToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	v.now = time.Now
	if _, err := v.Verify(token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyIssuer(t *testing.T) {
	issuer := NewTokenVerifier("test-secret-0123456789abcdefghijk", "someone-else", 0)
	token, err := issuer.IssueToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	v := NewTokenVerifier("test-secret-0123456789abcdefghijk", "mediaconvert", 0)
	if _, err := v.Verify(token); !errors.Is(err, ErrInvalidIssuer) {
		t.Errorf("expected ErrInvalidIssuer, got %v", err)
	}
}

func TestVerifyGarbage(t *testing.T) {
	v := NewTokenVerifier("test-secret-0123456789abcdefghijk", "", 0)
	if _, err := v.Verify("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(""); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestNewTokenVerifierWithoutSecret(t *testing.T) {
	if v := NewTokenVerifier("", "", 0); v != nil {
		t.Error("expected nil verifier when no secret is configured")
	}
}
