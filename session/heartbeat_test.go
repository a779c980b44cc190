package session

import (
	"context"
	"testing"
	"time"

	"github.com/romiteld/eva-assistant-sub007/auth"
)

func openTestSession(t *testing.T, r *Registry, userID string) *Session {
	t.Helper()
	sess, err := r.Register(context.Background(), userID, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !sess.Open() {
		t.Fatal("open failed")
	}
	return sess
}

func TestTwoMissedBeatsTerminate(t *testing.T) {
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	r := NewRegistry(testConfig(), gate, nil)
	m := NewMonitor(r, 30*time.Second)
	ctx := context.Background()

	sess := openTestSession(t, r, "user-1")

	// Tick 1: the initial grace beat is consumed, a probe goes out
	m.Tick(ctx)
	if !sess.IsAlive() {
		t.Fatal("session should be alive after first tick")
	}

	// Tick 2: no answer to the probe -> first miss
	m.Tick(ctx)
	if sess.IsAlive() {
		t.Error("first miss should mark session not alive")
	}
	if _, ok := r.Get(sess.ID); !ok {
		t.Fatal("one miss must not terminate")
	}

	// Tick 3: still no answer -> second consecutive miss, terminated
	m.Tick(ctx)
	if _, ok := r.Get(sess.ID); ok {
		t.Error("two consecutive misses should terminate the session")
	}
	if sess.State() != StateClosed {
		t.Errorf("expected closed, got %s", sess.State())
	}
}

func TestTimelyPongResetsStrikes(t *testing.T) {
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	r := NewRegistry(testConfig(), gate, nil)
	m := NewMonitor(r, 30*time.Second)
	ctx := context.Background()

	sess := openTestSession(t, r, "user-1")

	m.Tick(ctx)
	m.Tick(ctx) // first miss
	if sess.IsAlive() {
		t.Fatal("expected first miss")
	}

	// Client answers before the next interval
	sess.MarkAlive()

	m.Tick(ctx)
	if _, ok := r.Get(sess.ID); !ok {
		t.Error("a timely pong after one miss must not terminate")
	}
	if !sess.IsAlive() {
		t.Error("answered session should be alive again")
	}
}

func TestMonitorSkipsNonOpenSessions(t *testing.T) {
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	r := NewRegistry(testConfig(), gate, nil)
	m := NewMonitor(r, 30*time.Second)
	ctx := context.Background()

	// Still connecting: the monitor must leave it alone
	sess, _ := r.Register(ctx, "user-1", nil)

	for i := 0; i < 4; i++ {
		m.Tick(ctx)
	}
	if _, ok := r.Get(sess.ID); !ok {
		t.Error("connecting session must not be reaped by the monitor")
	}
}
