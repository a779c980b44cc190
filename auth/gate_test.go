package auth

import (
	"errors"
	"testing"
	"time"
)

func validToken(userID, purpose string, ttl time.Duration) string {
	raw, _ := EncodeToken(&Token{
		UserID:  userID,
		Exp:     time.Now().Add(ttl).UnixMilli(),
		Purpose: purpose,
	})
	return raw
}

func TestAuthenticateValidToken(t *testing.T) {
	g := NewGate("relay", 5, 10, time.Minute)

	userID, err := g.Authenticate(validToken("user-1", "relay", time.Hour))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if userID != "user-1" {
		t.Errorf("expected user-1, got %s", userID)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	g := NewGate("relay", 5, 10, time.Minute)

	_, err := g.Authenticate(validToken("user-1", "relay", -time.Minute))
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired, got %v", err)
	}
}

func TestAuthenticatePurposeMismatch(t *testing.T) {
	g := NewGate("relay", 5, 10, time.Minute)

	_, err := g.Authenticate(validToken("user-1", "dashboard", time.Hour))
	if !errors.Is(err, ErrWrongPurpose) {
		t.Errorf("expected ErrWrongPurpose, got %v", err)
	}
}

func TestAuthenticateMalformed(t *testing.T) {
	g := NewGate("relay", 5, 10, time.Minute)

	for _, raw := range []string{"", "!!!not-base64!!!", "bm90IGpzb24="} {
		if _, err := g.Authenticate(raw); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("token %q: expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestAuthenticateEmptyUser(t *testing.T) {
	g := NewGate("relay", 5, 10, time.Minute)

	_, err := g.Authenticate(validToken("", "relay", time.Hour))
	if !errors.Is(err, ErrNoUser) {
		t.Errorf("expected ErrNoUser, got %v", err)
	}
}

func TestConnectionLimit(t *testing.T) {
	g := NewGate("relay", 5, 10, time.Minute)

	for i := 0; i < 5; i++ {
		if err := g.AcquireConn("user-1"); err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
	}
	if g.CheckConnectionLimit("user-1") {
		t.Error("expected limit reached after 5 connections")
	}
	if err := g.AcquireConn("user-1"); !errors.Is(err, ErrSessionLimit) {
		t.Errorf("6th acquire: expected ErrSessionLimit, got %v", err)
	}

	// Other users are unaffected
	if !g.CheckConnectionLimit("user-2") {
		t.Error("user-2 should not be limited")
	}

	g.ReleaseConn("user-1")
	if err := g.AcquireConn("user-1"); err != nil {
		t.Errorf("acquire after release failed: %v", err)
	}
}

func TestReleaseConnIsIdempotent(t *testing.T) {
	g := NewGate("relay", 2, 10, time.Minute)

	g.ReleaseConn("user-1") // never acquired
	if got := g.ConnCount("user-1"); got != 0 {
		t.Errorf("expected 0 conns, got %d", got)
	}
}

func TestMessageRateLimit(t *testing.T) {
	g := NewGate("relay", 5, 3, time.Minute)

	allowed, rejected := 0, 0
	for i := 0; i < 4; i++ {
		if g.AllowMessage("user-1") {
			allowed++
		} else {
			rejected++
		}
	}
	if allowed != 3 || rejected != 1 {
		t.Errorf("expected 3 allowed / 1 rejected, got %d / %d", allowed, rejected)
	}
}

func TestMessageRateLimitWindowReset(t *testing.T) {
	g := NewGate("relay", 5, 2, time.Minute)

	current := time.Now()
	g.now = func() time.Time { return current }

	if !g.AllowMessage("user-1") || !g.AllowMessage("user-1") {
		t.Fatal("first two messages should pass")
	}
	if g.AllowMessage("user-1") {
		t.Fatal("third message should be rejected")
	}

	current = current.Add(2 * time.Minute)
	if !g.AllowMessage("user-1") {
		t.Error("message after window reset should pass")
	}
}
