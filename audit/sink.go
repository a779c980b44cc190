package audit

import (
	"context"
	"time"
)

// Entry is one audited relay event. Selected handler output (transcripts,
// scene analysis) and every routed message pass through here.
type Entry struct {
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
	Payload   string    `json:"payload,omitempty"`
}

// Sink persists audit entries. Drivers must tolerate concurrent Record
// calls; the router writes asynchronously and never blocks on the sink.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
	Close() error
}
