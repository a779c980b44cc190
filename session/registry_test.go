package session

import (
	"context"
	"testing"
	"time"

	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/config"
)

func testConfig() *config.Config {
	return &config.Config{
		MaxSessions:        100,
		MaxSessionsPerUser: 5,
		SessionTimeout:     30 * time.Minute,
		HeartbeatInterval:  30 * time.Second,
	}
}

func testRegistry() (*Registry, *auth.Gate) {
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	return NewRegistry(testConfig(), gate, nil), gate
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	sess, err := r.Register(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if sess.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", sess.UserID)
	}
	if sess.State() != StateConnecting {
		t.Errorf("new session should be connecting, got %s", sess.State())
	}

	got, ok := r.Get(sess.ID)
	if !ok || got != sess {
		t.Error("Get should return the registered session")
	}
	if r.Count() != 1 {
		t.Errorf("expected 1 session, got %d", r.Count())
	}
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r, gate := testRegistry()
	ctx := context.Background()

	if err := gate.AcquireConn("user-1"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sess, err := r.Register(ctx, "user-1", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Unregister(ctx, sess.ID)
	if _, ok := r.Get(sess.ID); ok {
		t.Error("session should be gone after unregister")
	}
	if gate.ConnCount("user-1") != 0 {
		t.Error("connection slot should be released")
	}

	// Second call is a no-op, not an error, and must not double-release
	gate.AcquireConn("user-1")
	r.Unregister(ctx, sess.ID)
	if gate.ConnCount("user-1") != 1 {
		t.Error("repeat unregister released a slot it does not own")
	}
}

func TestUnregisterClosesSession(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	sess, _ := r.Register(ctx, "user-1", nil)
	r.Unregister(ctx, sess.ID)

	if sess.State() != StateClosed {
		t.Errorf("expected closed, got %s", sess.State())
	}
	select {
	case <-sess.CloseChan:
	default:
		t.Error("CloseChan should be closed")
	}
}

func TestForEachSessionBroadcast(t *testing.T) {
	r, _ := testRegistry()
	ctx := context.Background()

	s1, _ := r.Register(ctx, "user-1", nil)
	s2, _ := r.Register(ctx, "user-1", nil)
	r.Register(ctx, "user-2", nil)

	seen := map[string]bool{}
	r.ForEachSession("user-1", func(s *Session) { seen[s.ID] = true })

	if len(seen) != 2 || !seen[s1.ID] || !seen[s2.ID] {
		t.Errorf("broadcast reached %v", seen)
	}
	if r.UserCount("user-1") != 2 || r.UserCount("user-2") != 1 {
		t.Error("per-user counts wrong")
	}
}

func TestRegisterGlobalCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSessions = 2
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	r := NewRegistry(cfg, gate, nil)
	ctx := context.Background()

	r.Register(ctx, "user-1", nil)
	r.Register(ctx, "user-2", nil)
	if _, err := r.Register(ctx, "user-3", nil); err == nil {
		t.Error("expected global session ceiling to reject")
	}
}

func TestCleanupInactive(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeout = 10 * time.Millisecond
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	r := NewRegistry(cfg, gate, nil)
	ctx := context.Background()

	stale, _ := r.Register(ctx, "user-1", nil)
	time.Sleep(20 * time.Millisecond)
	fresh, _ := r.Register(ctx, "user-2", nil)

	r.CleanupInactive(ctx)

	if _, ok := r.Get(stale.ID); ok {
		t.Error("stale session should be reaped")
	}
	if _, ok := r.Get(fresh.ID); !ok {
		t.Error("fresh session should survive")
	}
}

func TestStateMachineTransitions(t *testing.T) {
	s := New("s-1", "user-1", nil)

	if !s.Open() {
		t.Fatal("connecting -> open should succeed")
	}
	if s.Open() {
		t.Error("open -> open should fail")
	}
	if !s.BeginClose() {
		t.Fatal("open -> closing should succeed")
	}
	if s.State() != StateClosing {
		t.Errorf("expected closing, got %s", s.State())
	}
	if s.Open() {
		t.Error("closing -> open must be impossible")
	}

	s.Close()
	if s.State() != StateClosed {
		t.Errorf("expected closed, got %s", s.State())
	}
	// Close is idempotent
	s.Close()
}

func TestCloseRejectsInFlight(t *testing.T) {
	s := New("s-1", "user-1", nil)
	s.Open()
	s.BeginClose()

	if !s.IsClosed() {
		t.Error("closing session should report IsClosed")
	}
}
