package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/romiteld/eva-assistant-sub007/audit"
	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/command"
	"github.com/romiteld/eva-assistant-sub007/messages"
	"github.com/romiteld/eva-assistant-sub007/session"
)

const testMaxBytes = 4096

func testRouter() (*Router, *audit.MemorySink, *command.Executor) {
	gate := auth.NewGate("relay", 5, 100, time.Minute)
	executor := command.NewExecutor(2, time.Millisecond)
	sink := audit.NewMemorySink(0)
	return New(gate, executor, sink, testMaxBytes), sink, executor
}

func openSession() *session.Session {
	s := session.New("sess-1", "user-1", nil)
	s.Open()
	return s
}

// drainOne pops the next queued outbound message, or nil
func drainOne(s *session.Session) any {
	select {
	case msg := <-s.Outbound():
		return msg
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

func errorCode(msg any) string {
	env, ok := msg.(*messages.Envelope)
	if !ok || env.Error == nil {
		return ""
	}
	return env.Error.Code
}

func TestRouteOversizedPayload(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	big := make([]byte, testMaxBytes+1)
	r.HandleClientFrame(s, big)

	if code := errorCode(drainOne(s)); code != messages.ErrCodePayloadTooLarge {
		t.Errorf("expected PAYLOAD_TOO_LARGE, got %q", code)
	}
	if s.State() != session.StateOpen {
		t.Error("oversized payload must not alter session state")
	}
}

func TestRouteMalformedJSON(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	r.HandleClientFrame(s, []byte("{not json"))

	if code := errorCode(drainOne(s)); code != messages.ErrCodeInvalidMessage {
		t.Errorf("expected INVALID_MESSAGE, got %q", code)
	}
	if s.IsClosed() {
		t.Error("malformed frame must not close the connection")
	}
}

func TestRouteUnknownType(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	r.HandleClientFrame(s, []byte(`{"type":"teleport","data":{}}`))

	if code := errorCode(drainOne(s)); code != messages.ErrCodeInvalidMessage {
		t.Errorf("expected INVALID_MESSAGE, got %q", code)
	}
}

func TestRouteMissingFields(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	// data is required for every type except heartbeat
	r.HandleClientFrame(s, []byte(`{"type":"text"}`))
	if code := errorCode(drainOne(s)); code != messages.ErrCodeInvalidMessage {
		t.Errorf("missing data: expected INVALID_MESSAGE, got %q", code)
	}

	r.HandleClientFrame(s, []byte(`{"data":{}}`))
	if code := errorCode(drainOne(s)); code != messages.ErrCodeInvalidMessage {
		t.Errorf("missing type: expected INVALID_MESSAGE, got %q", code)
	}
}

func TestRouteHeartbeatEcho(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	before := time.Now().Add(-time.Second)
	r.HandleClientFrame(s, []byte(`{"type":"heartbeat","data":{}}`))

	msg := drainOne(s)
	env, ok := msg.(*messages.Envelope)
	if !ok || env.Type != messages.TypeHeartbeat {
		t.Fatalf("expected heartbeat echo, got %#v", msg)
	}
	ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
	if err != nil {
		t.Fatalf("bad timestamp %q: %v", env.Timestamp, err)
	}
	if ts.Before(before) {
		t.Error("echo timestamp should be current")
	}
	if s.State() != session.StateOpen {
		t.Error("heartbeat must not mutate session state")
	}
}

func TestRouteRateLimit(t *testing.T) {
	gate := auth.NewGate("relay", 5, 3, time.Minute)
	executor := command.NewExecutor(1, 0)
	sink := audit.NewMemorySink(0)
	r := New(gate, executor, sink, testMaxBytes)
	s := openSession()

	// ceiling+1 heartbeats: exactly one RATE_LIMIT error, ceiling echoes
	var echoes, limited int
	for i := 0; i < 4; i++ {
		r.HandleClientFrame(s, []byte(`{"type":"heartbeat","data":{}}`))
		msg := drainOne(s)
		switch {
		case errorCode(msg) == messages.ErrCodeRateLimited:
			limited++
		case msg != nil:
			echoes++
		}
	}
	if echoes != 3 || limited != 1 {
		t.Errorf("expected 3 routed / 1 limited, got %d / %d", echoes, limited)
	}
	if s.IsClosed() {
		t.Error("rate limiting must not close the connection")
	}
}

func TestRouteRejectsClosingSession(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()
	s.BeginClose()

	r.HandleClientFrame(s, []byte(`{"type":"heartbeat","data":{}}`))
	if code := errorCode(drainOne(s)); code != messages.ErrCodeSessionFailed {
		t.Errorf("expected SESSION_FAILED for closing session, got %q", code)
	}
}

func TestRouteAuditsRoutedMessages(t *testing.T) {
	r, sink, _ := testRouter()
	s := openSession()

	r.HandleClientFrame(s, []byte(`{"type":"heartbeat","data":{},"messageId":"m-1"}`))
	drainOne(s)

	// The audit write is asynchronous
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.ByType(messages.TypeHeartbeat)) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := sink.ByType(messages.TypeHeartbeat)
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SessionID != "sess-1" || e.UserID != "user-1" || e.MessageID != "m-1" {
		t.Errorf("audit entry not stamped: %+v", e)
	}
}

func TestRouteCommandUnknownName(t *testing.T) {
	r, _, executor := testRouter()
	executor.Register("schedule_meeting", func(context.Context, map[string]interface{}, string) (interface{}, error) {
		return nil, nil
	})
	s := openSession()

	r.HandleClientFrame(s, []byte(`{"type":"command","data":{"name":"rm_rf"}}`))
	if code := errorCode(drainOne(s)); code != messages.ErrCodeInvalidCommand {
		t.Errorf("expected INVALID_COMMAND, got %q", code)
	}
}

func TestRouteCommandExecutesAndReplies(t *testing.T) {
	r, _, executor := testRouter()
	executor.Register("echo", func(_ context.Context, params map[string]interface{}, _ string) (interface{}, error) {
		return params["x"], nil
	})
	s := openSession()

	r.HandleClientFrame(s, []byte(`{"type":"command","data":{"name":"echo","params":{"x":"y"}}}`))

	msg := drainOne(s)
	env, ok := msg.(*messages.Envelope)
	if !ok || env.Type != messages.TypeCommand {
		t.Fatalf("expected command result frame, got %#v", msg)
	}
	if !strings.Contains(string(env.Data), `"echo"`) {
		t.Errorf("result should name the command: %s", env.Data)
	}
}

func TestRouteAudioWithoutUpstream(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	// "AAAAAA==" is four zero bytes: two valid PCM16 samples
	r.HandleClientFrame(s, []byte(`{"type":"audio","data":{"audioData":"AAAAAA==","sampleRate":16000}}`))
	if code := errorCode(drainOne(s)); code != messages.ErrCodeUpstreamUnavailable {
		t.Errorf("expected UPSTREAM_UNAVAILABLE, got %q", code)
	}
}

func TestRouteAudioInvalidBase64(t *testing.T) {
	r, _, _ := testRouter()
	s := openSession()

	r.HandleClientFrame(s, []byte(`{"type":"audio","data":{"audioData":"!!!bad!!!"}}`))
	if code := errorCode(drainOne(s)); code != messages.ErrCodeInvalidMessage {
		t.Errorf("expected INVALID_MESSAGE, got %q", code)
	}
}

func TestUpstreamTextRelayAndPersist(t *testing.T) {
	r, sink, _ := testRouter()
	s := openSession()

	r.HandleUpstreamEvent(s, session.UpstreamEvent{
		Kind: session.UpstreamText,
		Text: "SIGNIFICANT: whiteboard with Q3 targets",
	})

	msg := drainOne(s)
	env, ok := msg.(*messages.Envelope)
	if !ok || env.Type != messages.TypeText {
		t.Fatalf("expected relayed text frame, got %#v", msg)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.ByType("analysis")) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if entries := sink.ByType("analysis"); len(entries) != 1 ||
		!strings.Contains(entries[0].Payload, "whiteboard") {
		t.Errorf("significant analysis not persisted: %v", entries)
	}
}

func TestUpstreamTranscriptPersisted(t *testing.T) {
	r, sink, _ := testRouter()
	s := openSession()

	r.HandleUpstreamEvent(s, session.UpstreamEvent{
		Kind: session.UpstreamTranscript,
		Text: "hello there",
	})
	drainOne(s)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.ByType("transcript")) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if entries := sink.ByType("transcript"); len(entries) != 1 || entries[0].Payload != "hello there" {
		t.Errorf("transcript not persisted: %v", entries)
	}
}
