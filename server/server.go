package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/config"
	"github.com/romiteld/eva-assistant-sub007/messages"
	"github.com/romiteld/eva-assistant-sub007/router"
	"github.com/romiteld/eva-assistant-sub007/session"
	"github.com/romiteld/eva-assistant-sub007/upstream"
)

// Server accepts websocket clients, walks each through the auth gate,
// and hands accepted connections to the session registry.
type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader

	gate     *auth.Gate
	registry *session.Registry
	bridge   *upstream.Bridge
	router   *router.Router
	config   *config.Config
}

func New(cfg *config.Config, gate *auth.Gate, registry *session.Registry, bridge *upstream.Bridge, rt *router.Router) *Server {
	s := &Server{
		gate:     gate,
		registry: registry,
		bridge:   bridge,
		router:   rt,
		config:   cfg,
		upgrader: websocket.Upgrader{
			// The capability token rides the upgrade request, so the
			// handshake window is the authentication window.
			HandshakeTimeout:  cfg.AuthTimeout,
			ReadBufferSize:    64 * 1024, // 64KB for audio chunks
			WriteBufferSize:   64 * 1024, // 64KB for audio chunks
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	return s
}

// Start begins listening for connections
func (s *Server) Start() error {
	log.Printf("🚀 Relay listening on port %d", s.config.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost:%d/ws", s.config.Port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down server...")
	s.registry.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	rawToken := r.URL.Query().Get("token")

	// Authenticate before upgrading so a user already at the connection
	// ceiling gets a plain HTTP rejection instead of a doomed upgrade.
	userID, authErr := s.gate.Authenticate(rawToken)
	if authErr == nil && !s.gate.CheckConnectionLimit(userID) {
		http.Error(w, "too many concurrent sessions", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	if authErr != nil {
		// The close code is the only channel left; browsers can't read
		// handshake bodies through the WebSocket API.
		log.Printf("🚫 rejected connection: %v", authErr)
		closeWith(conn, messages.CloseUnauthenticated, "authentication failed")
		return
	}

	// Re-check under the slot lock: two sockets from the same user can
	// pass the pre-upgrade check concurrently.
	if err := s.gate.AcquireConn(userID); err != nil {
		log.Printf("🚫 [%s] connection limit reached", userID)
		closeWith(conn, messages.CloseRateLimited, "too many concurrent sessions")
		return
	}

	sess, err := s.registry.Register(r.Context(), userID, conn)
	if err != nil {
		log.Printf("Failed to create session: %v", err)
		_ = conn.WriteJSON(messages.NewErrorFrame("", messages.ErrCodeSessionFailed, err.Error()))
		s.gate.ReleaseConn(userID)
		conn.Close()
		return
	}

	log.Printf("✅ New session: %s (user %s)", sess.ID, userID)

	sess.Start(s.router)
	sess.Open()
	sess.Queue(messages.NewStatusFrame(sess.ID, "connected", "session established"))

	// The upstream dial can take seconds; don't hold up the client loop
	go s.openUpstream(sess)

	<-sess.CloseChan
	s.registry.Unregister(context.Background(), sess.ID)
	log.Printf("🔌 Session closed: %s", sess.ID)
}

// openUpstream dials the remote service with bounded retries. Each failed
// attempt is reported to the client; running out of attempts ends the
// session.
func (s *Server) openUpstream(sess *session.Session) {
	retry := s.bridge.Retry()

	for attempt := 1; ; attempt++ {
		handle, err := s.bridge.Open(sess.Context(), sess.ID)
		if err == nil {
			s.attach(sess, handle)
			return
		}

		log.Printf("❌ [%s] upstream connect attempt %d failed: %v", shortID(sess.ID), attempt, err)
		sess.Queue(messages.NewErrorFrame(sess.ID, messages.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("upstream connect failed (attempt %d)", attempt)))

		if retry.Exhausted(attempt) {
			sess.CloseWithCode(messages.CloseUpstreamExhausted, "upstream unavailable")
			return
		}

		select {
		case <-time.After(retry.Delay(attempt)):
		case <-sess.CloseChan:
			return
		}
	}
}

// attach wires an upstream handle's callbacks onto the session's event
// loop and publishes it for the router.
func (s *Server) attach(sess *session.Session, handle *upstream.Handle) {
	handle.OnAudio = func(data []byte) {
		sess.EnqueueUpstream(session.UpstreamEvent{Kind: session.UpstreamAudio, Audio: data})
	}
	handle.OnText = func(text string) {
		sess.EnqueueUpstream(session.UpstreamEvent{Kind: session.UpstreamText, Text: text})
	}
	handle.OnTranscript = func(text string) {
		sess.EnqueueUpstream(session.UpstreamEvent{Kind: session.UpstreamTranscript, Text: text})
	}
	handle.OnComplete = func() {
		sess.EnqueueUpstream(session.UpstreamEvent{Kind: session.UpstreamComplete})
	}
	handle.OnToolCall = func(calls []*genai.FunctionCall) {
		sess.EnqueueUpstream(session.UpstreamEvent{Kind: session.UpstreamToolCall, Calls: calls})
	}
	handle.OnError = func(err error) {
		s.superviseUpstream(sess, err)
	}

	handle.StartReceiving(sess.Context())
	sess.SetUpstream(handle)
	log.Printf("🤖 [%s] upstream connected", shortID(sess.ID))
}

// superviseUpstream handles a mid-session upstream failure: one
// reconnect attempt, then give up and close the session so the client
// can re-establish cleanly.
func (s *Server) superviseUpstream(sess *session.Session, cause error) {
	if sess.IsClosed() {
		return
	}
	log.Printf("⚠️ [%s] upstream dropped: %v", shortID(sess.ID), cause)

	if old := sess.Upstream(); old != nil {
		_ = old.Close()
	}

	handle, err := s.bridge.Open(sess.Context(), sess.ID)
	if err != nil {
		log.Printf("❌ [%s] upstream reconnect failed: %v", shortID(sess.ID), err)
		sess.Queue(messages.NewErrorFrame(sess.ID, messages.ErrCodeUpstreamLost, "upstream connection lost"))
		sess.CloseWithCode(messages.CloseUpstreamExhausted, "upstream lost")
		return
	}

	s.attach(sess, handle)
	sess.Queue(messages.NewStatusFrame(sess.ID, "reconnected", "upstream restored"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","sessions":%d}`, s.registry.Count())
}

// closeWith sends a close frame with an application close code and
// drops the socket.
func closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
