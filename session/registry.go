package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/config"
)

// Registry owns all live sessions, indexed by session id and by user id.
// Redis, when reachable, mirrors session metadata for external dashboards;
// the in-memory maps are authoritative.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*Session
	byUser map[string]map[string]*Session

	gate   *auth.Gate
	redis  *redis.Client
	config *config.Config
}

// NewRegistry creates a registry. The gate's per-user connection slots
// are released on unregister. redisClient may be nil.
func NewRegistry(cfg *config.Config, gate *auth.Gate, redisClient *redis.Client) *Registry {
	return &Registry{
		byID:   make(map[string]*Session),
		byUser: make(map[string]map[string]*Session),
		gate:   gate,
		redis:  redisClient,
		config: cfg,
	}
}

// Register allocates a session for the user in the connecting state. The
// caller must already hold a connection slot from the gate.
func (r *Registry) Register(ctx context.Context, userID string, conn *websocket.Conn) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.byID) >= r.config.MaxSessions {
		return nil, fmt.Errorf("maximum sessions reached")
	}

	sess := New(uuid.New().String(), userID, conn)
	r.byID[sess.ID] = sess
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*Session)
	}
	r.byUser[userID][sess.ID] = sess

	if r.redis != nil {
		r.redis.HSet(ctx, "session:"+sess.ID, map[string]interface{}{
			"user_id":    userID,
			"created_at": sess.CreatedAt.Format(time.RFC3339),
			"status":     "active",
		})
		r.redis.SAdd(ctx, "active_sessions", sess.ID)
		r.redis.Expire(ctx, "session:"+sess.ID, r.config.SessionTimeout)
	}

	return sess, nil
}

// Unregister removes and closes a session, releasing its connection slot.
// Idempotent: the heartbeat reaper and the close handler may race here,
// and the second call is a no-op.
func (r *Registry) Unregister(ctx context.Context, sessionID string) {
	r.mu.Lock()
	sess, exists := r.byID[sessionID]
	if exists {
		delete(r.byID, sessionID)
		if userSessions := r.byUser[sess.UserID]; userSessions != nil {
			delete(userSessions, sessionID)
			if len(userSessions) == 0 {
				delete(r.byUser, sess.UserID)
			}
		}
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	sess.Close()
	r.gate.ReleaseConn(sess.UserID)

	if r.redis != nil {
		r.redis.Del(ctx, "session:"+sessionID)
		r.redis.SRem(ctx, "active_sessions", sessionID)
	}
}

// Get retrieves a session by id
func (r *Registry) Get(sessionID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.byID[sessionID]
	return sess, ok
}

// ForEachSession invokes fn for each of a user's live sessions. Used to
// broadcast to every connection a user holds.
func (r *Registry) ForEachSession(userID string, fn func(*Session)) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byUser[userID]))
	for _, s := range r.byUser[userID] {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		fn(s)
	}
}

// forEachOpen snapshots every session for the heartbeat monitor
func (r *Registry) forEachOpen(fn func(*Session)) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		if s.State() == StateOpen {
			fn(s)
		}
	}
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// UserCount returns the number of live sessions held by one user
func (r *Registry) UserCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// CleanupInactive unregisters sessions idle past the session timeout
func (r *Registry) CleanupInactive(ctx context.Context) {
	cutoff := time.Now().Add(-r.config.SessionTimeout)

	r.mu.RLock()
	var stale []string
	for id, sess := range r.byID {
		if sess.LastActivity().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		log.Printf("🧹 reaping inactive session %s", short(id))
		r.Unregister(ctx, id)
	}
}

// StartCleanupRoutine runs periodic cleanup until the context is done
func (r *Registry) StartCleanupRoutine(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.CleanupInactive(ctx)
		}
	}
}

// Shutdown closes every session and the Redis connection
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.byID))
	for _, s := range r.byID {
		sessions = append(sessions, s)
	}
	r.byID = make(map[string]*Session)
	r.byUser = make(map[string]map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
		r.gate.ReleaseConn(s.UserID)
		if r.redis != nil {
			r.redis.Del(ctx, "session:"+s.ID)
			r.redis.SRem(ctx, "active_sessions", s.ID)
		}
	}
	// The redis client is injected and shared with the audit sink; its
	// owner closes it.
}
