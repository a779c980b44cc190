package command

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// ErrUnknownCommand is returned for names outside the allow-list. No side
// effects occur for unknown names.
var ErrUnknownCommand = errors.New("command: unknown command")

// Func is one command body. Bodies are external collaborators (scheduling,
// email, CRM updates); the executor only owns dispatch and retry.
type Func func(ctx context.Context, params map[string]interface{}, userID string) (interface{}, error)

// Executor dispatches named commands through an allow-list with bounded
// retry. Registration happens at startup; execution is concurrent-safe.
type Executor struct {
	mu       sync.RWMutex
	registry map[string]Func

	maxAttempts int
	baseDelay   time.Duration

	// test hook
	sleep func(time.Duration)
}

// NewExecutor creates an executor with the given retry budget
func NewExecutor(maxAttempts int, baseDelay time.Duration) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		registry:    make(map[string]Func),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       time.Sleep,
	}
}

// Register adds a command to the allow-list. Registering an existing name
// replaces its body. A nil body is ignored: a name without an executable
// body must not pass the allow-list check.
func (e *Executor) Register(name string, fn Func) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[name] = fn
}

// Known reports whether the name is on the allow-list
func (e *Executor) Known(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.registry[name]
	return ok
}

// Names returns the allow-list in sorted order
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.registry))
	for name := range e.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs a command with retry. Each failed attempt waits the base
// delay doubled per attempt before trying again, up to the attempt
// ceiling. The context is checked between attempts but an in-flight
// attempt is not forcibly cancelled.
func (e *Executor) Execute(ctx context.Context, name string, params map[string]interface{}, userID string) (interface{}, error) {
	e.mu.RLock()
	fn, ok := e.registry[name]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	var lastErr error
	delay := e.baseDelay
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			e.sleep(delay)
			delay *= 2
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		result, err := fn(ctx, params, userID)
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Printf("⚠️ command %s attempt %d/%d failed: %v", name, attempt, e.maxAttempts, err)
	}
	return nil, fmt.Errorf("command %s failed after %d attempts: %w", name, e.maxAttempts, lastErr)
}
