package upstream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"google.golang.org/genai"
)

// ErrClosed is returned by send operations on a closed handle
var ErrClosed = errors.New("upstream: handle closed")

// Bridge opens streaming connections to the remote AI service. Credentials
// are injected server-side; nothing from the client reaches the dial path.
type Bridge struct {
	client         *genai.Client
	model          string
	systemPrompt   string
	connectTimeout time.Duration
	retry          RetryPolicy
}

// NewBridge creates a bridge sharing one API client across sessions. Each
// session still gets its own Live connection via Open.
func NewBridge(ctx context.Context, apiKey, model, systemPrompt string, connectTimeout time.Duration, retry RetryPolicy) (*Bridge, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &Bridge{
		client:         client,
		model:          model,
		systemPrompt:   systemPrompt,
		connectTimeout: connectTimeout,
		retry:          retry,
	}, nil
}

// Retry exposes the bridge's reconnect policy
func (b *Bridge) Retry() RetryPolicy { return b.retry }

// Handle is one session's outbound streaming connection. It is never
// shared across sessions: interleaving two users' streams on one channel
// would corrupt the upstream's turn-taking state.
type Handle struct {
	bridge    *Bridge
	sessionID string

	// Callbacks for upstream traffic. Set before StartReceiving.
	OnAudio      func(data []byte)
	OnText       func(text string)
	OnTranscript func(text string)
	OnComplete   func()
	OnToolCall   func(calls []*genai.FunctionCall)
	OnError      func(err error)

	mu      sync.RWMutex
	session *genai.Session
	closed  bool
}

// Open establishes a Live connection scoped to the given session id. The
// dial is bounded by the bridge's connect timeout; retrying across
// attempts is the caller's concern (see RetryPolicy).
func (b *Bridge) Open(ctx context.Context, sessionID string) (*Handle, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.connectTimeout)
	defer cancel()

	config := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{"AUDIO"},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: b.systemPrompt}},
		},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: "Zephyr",
				},
			},
		},
	}

	session, err := b.client.Live.Connect(dialCtx, b.model, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Live API: %w", err)
	}

	log.Printf("✅ [%s] upstream connected (%s)", short(sessionID), b.model)
	return &Handle{
		bridge:    b,
		sessionID: sessionID,
		session:   session,
	}, nil
}

// StartReceiving begins delivering upstream messages to the handle's
// callbacks until the connection drops or the handle closes.
func (h *Handle) StartReceiving(ctx context.Context) {
	go func() {
		for {
			h.mu.RLock()
			if h.closed || h.session == nil {
				h.mu.RUnlock()
				return
			}
			session := h.session
			h.mu.RUnlock()

			// Receive blocks until a message arrives or error occurs
			resp, err := session.Receive()
			if err != nil {
				h.mu.RLock()
				closed := h.closed
				h.mu.RUnlock()
				if !closed {
					log.Printf("❌ [%s] upstream receive error: %v", short(h.sessionID), err)
					if h.OnError != nil {
						h.OnError(err)
					}
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			h.handleResponse(resp)
		}
	}()
}

func (h *Handle) handleResponse(resp *genai.LiveServerMessage) {
	if resp.ToolCall != nil && len(resp.ToolCall.FunctionCalls) > 0 {
		if h.OnToolCall != nil {
			h.OnToolCall(resp.ToolCall.FunctionCalls)
		}
	}

	if resp.ServerContent != nil {
		if resp.ServerContent.OutputTranscription != nil &&
			resp.ServerContent.OutputTranscription.Text != "" && h.OnTranscript != nil {
			h.OnTranscript(resp.ServerContent.OutputTranscription.Text)
		}

		if resp.ServerContent.ModelTurn != nil {
			for _, part := range resp.ServerContent.ModelTurn.Parts {
				if part.Text != "" && h.OnText != nil {
					h.OnText(part.Text)
				}
				if part.InlineData != nil && h.OnAudio != nil {
					h.OnAudio(part.InlineData.Data)
				}
			}
		}

		if resp.ServerContent.TurnComplete && h.OnComplete != nil {
			h.OnComplete()
		}
	}
}

// SendAudio forwards one PCM16 chunk upstream
func (h *Handle) SendAudio(audioData []byte) error {
	return h.sendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: "audio/pcm;rate=16000",
			Data:     audioData,
		},
	})
}

// SendAudioBatch sends a complete utterance and signals end of stream so
// the model starts its turn.
func (h *Handle) SendAudioBatch(audioData []byte) error {
	if len(audioData) == 0 {
		return nil
	}
	if err := h.SendAudio(audioData); err != nil {
		return fmt.Errorf("failed to send audio batch: %w", err)
	}
	return h.sendRealtimeInput(genai.LiveRealtimeInput{AudioStreamEnd: true})
}

// SendVideo forwards one camera or screen frame for scene analysis
func (h *Handle) SendVideo(imageData []byte, mimeType string) error {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return h.sendRealtimeInput(genai.LiveRealtimeInput{
		Video: &genai.Blob{
			MIMEType: mimeType,
			Data:     imageData,
		},
	})
}

// SendText sends a user text turn upstream
func (h *Handle) SendText(text string) error {
	h.mu.RLock()
	session, closed := h.session, h.closed
	h.mu.RUnlock()
	if closed || session == nil {
		return ErrClosed
	}

	turnComplete := true
	err := session.SendClientContent(genai.LiveSendClientContentParameters{
		Turns: []*genai.Content{
			{
				Role:  "user",
				Parts: []*genai.Part{{Text: text}},
			},
		},
		TurnComplete: &turnComplete,
	})
	if err != nil {
		return fmt.Errorf("failed to send text: %w", err)
	}
	return nil
}

// SendToolResponse returns function-call results upstream
func (h *Handle) SendToolResponse(responses []*genai.FunctionResponse) error {
	h.mu.RLock()
	session, closed := h.session, h.closed
	h.mu.RUnlock()
	if closed || session == nil {
		return ErrClosed
	}

	err := session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: responses,
	})
	if err != nil {
		return fmt.Errorf("failed to send tool response: %w", err)
	}
	return nil
}

func (h *Handle) sendRealtimeInput(input genai.LiveRealtimeInput) error {
	h.mu.RLock()
	session, closed := h.session, h.closed
	h.mu.RUnlock()
	if closed || session == nil {
		return ErrClosed
	}
	if err := session.SendRealtimeInput(input); err != nil {
		return fmt.Errorf("failed to send realtime input: %w", err)
	}
	return nil
}

// IsClosed reports whether Close has been called
func (h *Handle) IsClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close tears down the upstream connection. Idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.session != nil {
		return h.session.Close()
	}
	return nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
