package messages

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

// Message types on the client wire
const (
	TypeAudio     = "audio"
	TypeVideo     = "video"
	TypeScreen    = "screen"
	TypeText      = "text"
	TypeCommand   = "command"
	TypeHeartbeat = "heartbeat"
	TypeError     = "error"
	TypeStatus    = "status"
)

// Error codes
const (
	ErrCodeInvalidMessage      = "INVALID_MESSAGE"
	ErrCodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	ErrCodeRateLimited         = "RATE_LIMIT"
	ErrCodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	ErrCodeUpstreamLost        = "UPSTREAM_LOST"
	ErrCodeSessionFailed       = "SESSION_FAILED"
	ErrCodeInvalidCommand      = "INVALID_COMMAND"
	ErrCodeProcessingError     = "PROCESSING_ERROR"
	ErrCodeBufferFull          = "BUFFER_FULL"
)

// WebSocket close codes. Distinct codes let clients tell retryable
// failures (upstream trouble) from terminal ones (bad credentials).
const (
	CloseNormal            = 1000
	CloseUnauthenticated   = 4401
	CloseRateLimited       = 4429
	CloseUpstreamExhausted = 4502
)

// Envelope is the wire format exchanged with clients in both directions.
// userId/sessionId/messageId are stamped server-side when absent.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Error     *ErrorDetail    `json:"error,omitempty"`
}

// ErrorDetail carries a structured error to the client. Never a stack trace.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// AudioPayload carries base64 PCM16 audio
type AudioPayload struct {
	AudioData  string `json:"audioData"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// VideoPayload carries a base64 video or screen frame for scene analysis
type VideoPayload struct {
	ImageData string `json:"imageData"`
	MimeType  string `json:"mimeType,omitempty"`
	Source    string `json:"source,omitempty"` // "camera" or "screen"
}

// TextPayload carries a chat text message
type TextPayload struct {
	Text string `json:"text"`
}

// CommandPayload names an out-of-band action to execute
type CommandPayload struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// StatusPayload carries connection lifecycle updates
type StatusPayload struct {
	Status  string `json:"status"` // "connected", "turn_complete", "disconnected"
	Message string `json:"message,omitempty"`
}

// CommandResultPayload carries the outcome of an executed command
type CommandResultPayload struct {
	Name   string      `json:"name"`
	Result interface{} `json:"result,omitempty"`
}

// Marshal encodes a value for the wire
func Marshal(v interface{}) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal decodes wire bytes
func Unmarshal(data []byte, v interface{}) error {
	return sonic.Unmarshal(data, v)
}

// Now returns the wire timestamp format for the current time
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEnvelope builds an outbound envelope with a marshaled data payload
func NewEnvelope(msgType, sessionID string, payload interface{}) *Envelope {
	env := &Envelope{
		Type:      msgType,
		SessionID: sessionID,
		Timestamp: Now(),
	}
	if payload != nil {
		data, err := sonic.Marshal(payload)
		if err != nil {
			// Payload structs are our own; a marshal failure is a bug.
			data = []byte(fmt.Sprintf(`{"marshalError":%q}`, err.Error()))
		}
		env.Data = data
	}
	return env
}

// NewAudioFrame creates an outbound audio message
func NewAudioFrame(sessionID, base64Data string, sampleRate int) *Envelope {
	return NewEnvelope(TypeAudio, sessionID, AudioPayload{
		AudioData:  base64Data,
		Format:     "pcm16",
		SampleRate: sampleRate,
	})
}

// NewTextFrame creates an outbound text message
func NewTextFrame(sessionID, text string) *Envelope {
	return NewEnvelope(TypeText, sessionID, TextPayload{Text: text})
}

// NewStatusFrame creates a status update message
func NewStatusFrame(sessionID, status, message string) *Envelope {
	return NewEnvelope(TypeStatus, sessionID, StatusPayload{
		Status:  status,
		Message: message,
	})
}

// NewHeartbeatFrame creates the echo for a heartbeat probe
func NewHeartbeatFrame(sessionID string) *Envelope {
	return &Envelope{
		Type:      TypeHeartbeat,
		SessionID: sessionID,
		Timestamp: Now(),
	}
}

// NewErrorFrame creates a structured error message
func NewErrorFrame(sessionID, code, message string) *Envelope {
	return &Envelope{
		Type:      TypeError,
		SessionID: sessionID,
		Timestamp: Now(),
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	}
}
