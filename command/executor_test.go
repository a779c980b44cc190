package command

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteUnknownCommand(t *testing.T) {
	e := NewExecutor(3, time.Millisecond)

	called := false
	e.Register("known", func(context.Context, map[string]interface{}, string) (interface{}, error) {
		called = true
		return nil, nil
	})

	_, err := e.Execute(context.Background(), "unknown", nil, "user-1")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
	if called {
		t.Error("unknown command must have no side effects")
	}
}

func TestExecuteSuccess(t *testing.T) {
	e := NewExecutor(3, time.Millisecond)
	e.Register("echo", func(_ context.Context, params map[string]interface{}, userID string) (interface{}, error) {
		return map[string]interface{}{"params": params, "user": userID}, nil
	})

	result, err := e.Execute(context.Background(), "echo", map[string]interface{}{"x": 1}, "user-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	m := result.(map[string]interface{})
	if m["user"] != "user-1" {
		t.Errorf("expected user-1, got %v", m["user"])
	}
}

func TestExecuteRetriesWithBackoff(t *testing.T) {
	e := NewExecutor(3, 100*time.Millisecond)

	var delays []time.Duration
	e.sleep = func(d time.Duration) { delays = append(delays, d) }

	attempts := 0
	e.Register("flaky", func(context.Context, map[string]interface{}, string) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	})

	result, err := e.Execute(context.Background(), "flaky", nil, "user-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "ok" {
		t.Errorf("expected ok, got %v", result)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %d", len(want), len(delays))
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("sleep %d: %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	e := NewExecutor(2, time.Millisecond)
	e.sleep = func(time.Duration) {}

	attempts := 0
	e.Register("broken", func(context.Context, map[string]interface{}, string) (interface{}, error) {
		attempts++
		return nil, errors.New("permanent")
	})

	_, err := e.Execute(context.Background(), "broken", nil, "user-1")
	if err == nil {
		t.Fatal("expected failure")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteStopsOnCancelledContext(t *testing.T) {
	e := NewExecutor(5, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	e.sleep = func(time.Duration) { cancel() }
	e.Register("slow", func(context.Context, map[string]interface{}, string) (interface{}, error) {
		attempts++
		return nil, errors.New("fail")
	})

	_, err := e.Execute(ctx, "slow", nil, "user-1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected retry loop to stop after cancel, got %d attempts", attempts)
	}
}

func TestRegisterIgnoresNilBody(t *testing.T) {
	e := NewExecutor(1, 0)
	e.Register("ghost", nil)
	if e.Known("ghost") {
		t.Error("a nil body must not enter the allow-list")
	}
	if _, err := e.Execute(context.Background(), "ghost", nil, "user-1"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestNames(t *testing.T) {
	noop := func(context.Context, map[string]interface{}, string) (interface{}, error) {
		return nil, nil
	}
	e := NewExecutor(1, 0)
	e.Register("b", noop)
	e.Register("a", noop)

	names := e.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("unexpected names %v", names)
	}
	if !e.Known("a") || e.Known("c") {
		t.Error("Known() mismatch")
	}
}
