package audit

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	auditKeyPrefix = "audit:"
	defaultTTL     = 24 * time.Hour
)

// RedisSink appends entries to a per-session Redis list so transcripts and
// analysis survive the session. Keys expire after the configured TTL.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSink creates a Redis-backed sink. ttl <= 0 uses the default.
func NewRedisSink(client *redis.Client, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisSink{client: client, ttl: ttl}
}

// Record implements Sink
func (s *RedisSink) Record(ctx context.Context, entry Entry) error {
	val, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	key := auditKeyPrefix + entry.SessionID
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, key, val)
	pipe.Expire(ctx, key, s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Close implements Sink. The redis client is injected and may be shared
// with the session registry, so closing it is its owner's job.
func (s *RedisSink) Close() error {
	return nil
}
