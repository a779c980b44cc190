package router

import (
	"encoding/base64"
	"log"
	"strings"

	"google.golang.org/genai"

	"github.com/romiteld/eva-assistant-sub007/audio"
	"github.com/romiteld/eva-assistant-sub007/messages"
	"github.com/romiteld/eva-assistant-sub007/session"
)

// significantPrefix marks scene-analysis replies worth persisting. The
// upstream prompt instructs the model to emit it for notable frames.
const significantPrefix = "SIGNIFICANT:"

func (r *Router) handleAudio(s *session.Session, env *messages.Envelope) {
	var payload messages.AudioPayload
	if err := messages.Unmarshal(env.Data, &payload); err != nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid audio payload"))
		return
	}

	frame, err := audio.Decode(payload.AudioData)
	if err != nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid base64 audio data"))
		return
	}

	up := s.Upstream()
	if up == nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeUpstreamUnavailable, "upstream not connected"))
		return
	}
	if err := up.SendAudio(audio.Bytes(frame)); err != nil {
		log.Printf("❌ [%s] audio forward failed: %v", shortID(s.ID), err)
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeProcessingError, "failed to forward audio"))
	}
}

func (r *Router) handleVideo(s *session.Session, env *messages.Envelope) {
	var payload messages.VideoPayload
	if err := messages.Unmarshal(env.Data, &payload); err != nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid video payload"))
		return
	}

	imageData, err := base64.StdEncoding.DecodeString(payload.ImageData)
	if err != nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid base64 image data"))
		return
	}

	up := s.Upstream()
	if up == nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeUpstreamUnavailable, "upstream not connected"))
		return
	}
	if err := up.SendVideo(imageData, payload.MimeType); err != nil {
		log.Printf("❌ [%s] %s forward failed: %v", shortID(s.ID), env.Type, err)
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeProcessingError, "failed to forward frame"))
	}
}

func (r *Router) handleText(s *session.Session, env *messages.Envelope) {
	var payload messages.TextPayload
	if err := messages.Unmarshal(env.Data, &payload); err != nil || payload.Text == "" {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid text payload"))
		return
	}

	// Inbound text is persisted before forwarding
	r.persistAsync(s, "text", payload.Text)

	up := s.Upstream()
	if up == nil {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeUpstreamUnavailable, "upstream not connected"))
		return
	}
	if err := up.SendText(payload.Text); err != nil {
		log.Printf("❌ [%s] text forward failed: %v", shortID(s.ID), err)
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeProcessingError, "failed to forward text"))
	}
}

func (r *Router) handleCommand(s *session.Session, env *messages.Envelope) {
	var payload messages.CommandPayload
	if err := messages.Unmarshal(env.Data, &payload); err != nil || payload.Name == "" {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidMessage, "invalid command payload"))
		return
	}

	if !r.executor.Known(payload.Name) {
		s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeInvalidCommand, "unknown command: "+payload.Name))
		return
	}

	// Execution retries may outlive the message loop turn; run them off
	// the session loop and deliver (or audit) the result when done.
	go r.runCommand(s, payload.Name, payload.Params)
}

func (r *Router) runCommand(s *session.Session, name string, params map[string]interface{}) {
	result, err := r.executor.Execute(s.Context(), name, params, s.UserID)
	if err != nil {
		log.Printf("❌ [%s] command %s failed: %v", shortID(s.ID), name, err)
		if !s.IsClosed() {
			s.Queue(messages.NewErrorFrame(s.ID, messages.ErrCodeProcessingError, "command failed: "+name))
		}
		return
	}

	if s.IsClosed() {
		// The result frame has nowhere to go; keep it in the audit trail
		r.persistAsync(s, "command_result", name)
		return
	}
	s.Queue(messages.NewEnvelope(messages.TypeCommand, s.ID, messages.CommandResultPayload{
		Name:   name,
		Result: result,
	}))
}

func (r *Router) handleHeartbeat(s *session.Session, env *messages.Envelope) {
	s.MarkAlive()
	s.Queue(messages.NewHeartbeatFrame(s.ID))
}

// HandleUpstreamEvent implements session.Handler for upstream traffic
func (r *Router) HandleUpstreamEvent(s *session.Session, ev session.UpstreamEvent) {
	switch ev.Kind {
	case session.UpstreamAudio:
		encoded := base64.StdEncoding.EncodeToString(ev.Audio)
		s.Queue(messages.NewAudioFrame(s.ID, encoded, 24000))

	case session.UpstreamTranscript:
		r.persistAsync(s, "transcript", ev.Text)
		s.Queue(messages.NewTextFrame(s.ID, ev.Text))

	case session.UpstreamText:
		s.Queue(messages.NewTextFrame(s.ID, ev.Text))
		if strings.HasPrefix(strings.TrimSpace(ev.Text), significantPrefix) {
			r.persistAsync(s, "analysis", ev.Text)
		} else {
			r.persistAsync(s, "reply", ev.Text)
		}
		r.runDirectives(s, ev.Text)

	case session.UpstreamComplete:
		s.Queue(messages.NewStatusFrame(s.ID, "turn_complete", ""))

	case session.UpstreamToolCall:
		r.handleToolCalls(s, ev.Calls)
	}
}

// runDirectives extracts inline action directives from a reply and feeds
// each through the command executor.
func (r *Router) runDirectives(s *session.Session, text string) {
	for _, d := range ParseDirectives(text) {
		if !r.executor.Known(d.Name) {
			log.Printf("⚠️ [%s] reply referenced unknown action %q", shortID(s.ID), d.Name)
			continue
		}
		go r.runCommand(s, d.Name, d.Params)
	}
}

// handleToolCalls executes upstream function calls and returns results
func (r *Router) handleToolCalls(s *session.Session, calls []*genai.FunctionCall) {
	var responses []*genai.FunctionResponse

	for _, fc := range calls {
		log.Printf("🔧 [%s] function call: %s (id: %s)", shortID(s.ID), fc.Name, fc.ID)

		var response map[string]any
		result, err := r.executor.Execute(s.Context(), fc.Name, fc.Args, s.UserID)
		if err != nil {
			response = map[string]any{"error": err.Error()}
		} else {
			response = map[string]any{"output": result}
		}

		responses = append(responses, &genai.FunctionResponse{
			ID:       fc.ID,
			Name:     fc.Name,
			Response: response,
		})
	}

	up := s.Upstream()
	if up == nil {
		return
	}
	if err := up.SendToolResponse(responses); err != nil {
		log.Printf("❌ [%s] failed to send tool response: %v", shortID(s.ID), err)
	}
}
