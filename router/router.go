package router

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/romiteld/eva-assistant-sub007/audit"
	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/command"
	"github.com/romiteld/eva-assistant-sub007/messages"
	"github.com/romiteld/eva-assistant-sub007/session"
)

// Router parses inbound frames into typed messages and dispatches each to
// exactly one handler. It also relays upstream traffic back to the
// client; both directions arrive on the session's single event loop, so
// handlers run one message at a time per session.
type Router struct {
	gate     *auth.Gate
	executor *command.Executor
	sink     audit.Sink
	maxBytes int

	handlers map[string]func(*session.Session, *messages.Envelope)
}

// New creates a router. maxBytes is the inbound frame byte ceiling.
func New(gate *auth.Gate, executor *command.Executor, sink audit.Sink, maxBytes int) *Router {
	r := &Router{
		gate:     gate,
		executor: executor,
		sink:     sink,
		maxBytes: maxBytes,
	}
	r.handlers = map[string]func(*session.Session, *messages.Envelope){
		messages.TypeAudio:     r.handleAudio,
		messages.TypeVideo:     r.handleVideo,
		messages.TypeScreen:    r.handleVideo,
		messages.TypeText:      r.handleText,
		messages.TypeCommand:   r.handleCommand,
		messages.TypeHeartbeat: r.handleHeartbeat,
	}
	return r
}

// HandleClientFrame implements session.Handler for inbound client frames
func (r *Router) HandleClientFrame(s *session.Session, raw []byte) {
	// Size check comes before parsing: an oversized frame is rejected
	// without touching session state.
	if len(raw) > r.maxBytes {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodePayloadTooLarge, "message exceeds size limit"))
		return
	}

	var env messages.Envelope
	if err := messages.Unmarshal(raw, &env); err != nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid message format"))
		return
	}
	if env.Type == "" {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "missing message type"))
		return
	}
	if env.Data == nil && env.Type != messages.TypeHeartbeat {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "missing message data"))
		return
	}

	handler, ok := r.handlers[env.Type]
	if !ok {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "unknown message type: "+env.Type))
		return
	}

	if s.IsClosed() {
		// Session is tearing down; reject cleanly instead of racing it
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeSessionFailed, "session is closing"))
		return
	}

	// Rate limiting rejects the frame, never the connection
	if !r.gate.AllowMessage(s.UserID) {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeRateLimited, "message rate limit exceeded"))
		return
	}

	r.stamp(s, &env)
	handler(s, &env)
	r.auditAsync(s, &env, "")
}

// stamp fills in server-authoritative fields. The relay always overrides
// identity fields; messageId and timestamp are kept when supplied so
// clients can correlate retries.
func (r *Router) stamp(s *session.Session, env *messages.Envelope) {
	env.UserID = s.UserID
	env.SessionID = s.ID
	if env.MessageID == "" {
		env.MessageID = uuid.New().String()
	}
	if env.Timestamp == "" {
		env.Timestamp = messages.Now()
	}
}

// auditAsync logs a routed message without blocking the session loop
func (r *Router) auditAsync(s *session.Session, env *messages.Envelope, payload string) {
	entry := audit.Entry{
		SessionID: s.ID,
		UserID:    s.UserID,
		Type:      env.Type,
		MessageID: env.MessageID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	go func() {
		if err := r.sink.Record(context.Background(), entry); err != nil {
			log.Printf("⚠️ [%s] audit write failed: %v", shortID(s.ID), err)
		}
	}()
}

// persistAsync records handler output (transcripts, analysis, replies)
func (r *Router) persistAsync(s *session.Session, entryType, payload string) {
	entry := audit.Entry{
		SessionID: s.ID,
		UserID:    s.UserID,
		Type:      entryType,
		MessageID: uuid.New().String(),
		Timestamp: time.Now(),
		Payload:   payload,
	}
	go func() {
		if err := r.sink.Record(context.Background(), entry); err != nil {
			log.Printf("⚠️ [%s] audit write failed: %v", shortID(s.ID), err)
		}
	}()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
