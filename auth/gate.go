package auth

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrSessionLimit is returned when a user already holds the maximum
// number of concurrent connections.
var ErrSessionLimit = errors.New("auth: connection limit reached")

const bucketCount = 32

// Gate authenticates connection attempts and enforces per-user connection
// and message-rate ceilings. State is sharded into buckets keyed by a hash
// of the user id, each with its own mutex, so one user's traffic never
// contends with another's on a global lock.
type Gate struct {
	resource    string
	maxConns    int
	rateCeiling int
	rateWindow  time.Duration

	buckets [bucketCount]bucket

	// test hook
	now func() time.Time
}

type bucket struct {
	mu      sync.Mutex
	conns   map[string]int
	windows map[string]*rateWindow
}

type rateWindow struct {
	count         int
	windowResetAt time.Time
}

// NewGate creates a gate. resource is the purpose string tokens must carry.
func NewGate(resource string, maxConns, rateCeiling int, window time.Duration) *Gate {
	g := &Gate{
		resource:    resource,
		maxConns:    maxConns,
		rateCeiling: rateCeiling,
		rateWindow:  window,
		now:         time.Now,
	}
	for i := range g.buckets {
		g.buckets[i].conns = make(map[string]int)
		g.buckets[i].windows = make(map[string]*rateWindow)
	}
	return g
}

func (g *Gate) bucketFor(userID string) *bucket {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return &g.buckets[h.Sum32()%bucketCount]
}

// Authenticate validates a raw capability token against the gate's
// resource and returns the user id.
func (g *Gate) Authenticate(rawToken string) (string, error) {
	tok, err := ParseToken(rawToken)
	if err != nil {
		return "", err
	}
	return tok.Verify(g.resource, g.now())
}

// CheckConnectionLimit reports whether the user may open another session.
func (g *Gate) CheckConnectionLimit(userID string) bool {
	b := g.bucketFor(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[userID] < g.maxConns
}

// AcquireConn claims a connection slot for the user. Returns
// ErrSessionLimit if the user is at the ceiling.
func (g *Gate) AcquireConn(userID string) error {
	b := g.bucketFor(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[userID] >= g.maxConns {
		return ErrSessionLimit
	}
	b.conns[userID]++
	return nil
}

// ReleaseConn frees a previously acquired slot. Safe to call for a user
// with no slots held.
func (g *Gate) ReleaseConn(userID string) {
	b := g.bucketFor(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conns[userID] > 0 {
		b.conns[userID]--
	}
	if b.conns[userID] == 0 {
		delete(b.conns, userID)
	}
}

// ConnCount returns the number of slots the user currently holds.
func (g *Gate) ConnCount(userID string) int {
	b := g.bucketFor(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[userID]
}

// AllowMessage increments the user's fixed-window counter and reports
// whether the message is within the rate ceiling. The counter resets when
// the window expires. Exceeding the ceiling rejects the message only; the
// connection stays open.
func (g *Gate) AllowMessage(userID string) bool {
	b := g.bucketFor(userID)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := g.now()
	w := b.windows[userID]
	if w == nil || now.After(w.windowResetAt) {
		w = &rateWindow{windowResetAt: now.Add(g.rateWindow)}
		b.windows[userID] = w
	}
	if w.count >= g.rateCeiling {
		return false
	}
	w.count++
	return true
}
