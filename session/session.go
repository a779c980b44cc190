package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/romiteld/eva-assistant-sub007/messages"
	"github.com/romiteld/eva-assistant-sub007/upstream"
)

const (
	writeBufferSize = 256
	eventBufferSize = 256
	writeTimeout    = 10 * time.Second

	// Max inbound frame size accepted by the websocket layer
	readLimit = 1024 * 1024
)

// State is a session's lifecycle position. Transitions never skip a
// state; closing exists so in-flight messages can be rejected cleanly
// instead of racing a half-torn-down session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// UpstreamEventKind discriminates events arriving from the remote service
type UpstreamEventKind int

const (
	UpstreamAudio UpstreamEventKind = iota
	UpstreamText
	UpstreamTranscript
	UpstreamComplete
	UpstreamToolCall
)

// UpstreamEvent is one message from the remote service, multiplexed onto
// the session's inbound loop so ordering is total within a session.
type UpstreamEvent struct {
	Kind  UpstreamEventKind
	Audio []byte
	Text  string
	Calls []*genai.FunctionCall
}

// Handler consumes a session's inbound traffic. Both directions are
// delivered from a single goroutine per session, in arrival order.
type Handler interface {
	HandleClientFrame(s *Session, raw []byte)
	HandleUpstreamEvent(s *Session, ev UpstreamEvent)
}

type inboundEvent struct {
	raw []byte
	up  *UpstreamEvent
}

// Session is one client connection plus its paired upstream handle. The
// Registry owns it; everything else holds non-owning references.
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time

	conn      *websocket.Conn
	writeChan chan any
	events    chan inboundEvent

	CloseChan chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc

	mu           sync.RWMutex
	state        State
	upstream     *upstream.Handle
	lastActivity time.Time
	closeCode    int
	closeReason  string

	// Heartbeat bookkeeping, owned by the Monitor
	beatSeen    bool
	missedBeats int
	isAlive     bool
}

// New creates a session in the connecting state. conn may be nil in tests.
func New(id, userID string, conn *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	if conn != nil {
		conn.SetReadLimit(readLimit)
		conn.EnableWriteCompression(true)
	}

	return &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    time.Now(),
		conn:         conn,
		writeChan:    make(chan any, writeBufferSize),
		events:       make(chan inboundEvent, eventBufferSize),
		CloseChan:    make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		state:        StateConnecting,
		lastActivity: time.Now(),
		beatSeen:     true, // no probe has been sent yet
		isAlive:      true,
		closeCode:    messages.CloseNormal,
	}
}

// Context is cancelled when the session closes
func (s *Session) Context() context.Context { return s.ctx }

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Open transitions connecting -> open after handshake success
func (s *Session) Open() bool {
	return s.transition(StateConnecting, StateOpen)
}

// BeginClose transitions into closing from either live state. Returns
// false if teardown is already underway.
func (s *Session) BeginClose() bool {
	return s.transition(StateConnecting, StateClosing) || s.transition(StateOpen, StateClosing)
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

// SetUpstream attaches the paired upstream handle
func (s *Session) SetUpstream(h *upstream.Handle) {
	s.mu.Lock()
	s.upstream = h
	s.mu.Unlock()
}

// Upstream returns the paired handle, or nil before the bridge opens
func (s *Session) Upstream() *upstream.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.upstream
}

// Touch records client activity for the inactivity reaper
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent client traffic
func (s *Session) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Start launches the session's pumps: one writer, one reader, and the
// single event loop that serializes both directions through the handler.
func (s *Session) Start(h Handler) {
	if s.conn != nil {
		s.conn.SetPongHandler(func(string) error {
			s.MarkAlive()
			return nil
		})
		go s.writePump()
		go s.readPump()
	}
	go s.eventLoop(h)
}

// Queue schedules an outbound message. Non-blocking; when the write
// buffer is full the message is dropped rather than stalling the session.
func (s *Session) Queue(msg any) {
	if s.State() == StateClosed {
		return
	}
	select {
	case s.writeChan <- msg:
	default:
		log.Printf("⚠️ [%s] write queue full, dropping message", short(s.ID))
	}
}

// Outbound exposes the write queue. When no websocket is attached (tests,
// embedded use) the caller drains this instead of the write pump.
func (s *Session) Outbound() <-chan any {
	return s.writeChan
}

// EnqueueUpstream multiplexes an upstream event onto the session's
// inbound loop. Blocks only against session close, never indefinitely.
func (s *Session) EnqueueUpstream(ev UpstreamEvent) {
	select {
	case s.events <- inboundEvent{up: &ev}:
	case <-s.CloseChan:
	}
}

// IsClosed reports whether teardown has completed or begun
func (s *Session) IsClosed() bool {
	st := s.State()
	return st == StateClosing || st == StateClosed
}

// CloseWithCode records the close code sent to the client, then closes
func (s *Session) CloseWithCode(code int, reason string) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.closeCode = code
		s.closeReason = reason
	}
	s.mu.Unlock()
	s.Close()
}

// Close tears the session down: cancels in-flight upstream work, closes
// the paired upstream handle and the client connection. Idempotent; the
// close handler and the heartbeat reaper may both get here.
func (s *Session) Close() {
	s.BeginClose()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	up := s.upstream
	s.mu.Unlock()

	s.cancel()
	close(s.CloseChan)

	// Linked lifetimes: the client going away takes the upstream
	// connection with it.
	if up != nil {
		_ = up.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

// writePump handles all outgoing messages in a single goroutine
func (s *Session) writePump() {
	defer func() {
		s.mu.RLock()
		code, reason := s.closeCode, s.closeReason
		s.mu.RUnlock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
		)
	}()

	for {
		select {
		case <-s.CloseChan:
			return
		case msg := <-s.writeChan:
			if err := s.writeOne(msg); err != nil {
				return
			}
			// Drain whatever queued while we were writing
			n := len(s.writeChan)
			for i := 0; i < n; i++ {
				select {
				case msg := <-s.writeChan:
					if err := s.writeOne(msg); err != nil {
						return
					}
				default:
				}
			}
		}
	}
}

func (s *Session) writeOne(msg any) error {
	data, err := messages.Marshal(msg)
	if err != nil {
		log.Printf("❌ [%s] marshal outbound: %v", short(s.ID), err)
		return nil
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readPump feeds raw client frames onto the inbound event loop
func (s *Session) readPump() {
	defer s.Close()
	for {
		select {
		case <-s.CloseChan:
			return
		default:
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				if !s.IsClosed() && !websocket.IsCloseError(err,
					websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("🔌 [%s] read error: %v", short(s.ID), err)
				}
				return
			}
			s.Touch()
			select {
			case s.events <- inboundEvent{raw: message}:
			case <-s.CloseChan:
				return
			}
		}
	}
}

// eventLoop is the session's single consumer: client frames and upstream
// events are handled one at a time, in arrival order.
func (s *Session) eventLoop(h Handler) {
	for {
		select {
		case <-s.CloseChan:
			return
		case ev := <-s.events:
			if ev.up != nil {
				h.HandleUpstreamEvent(s, *ev.up)
			} else {
				h.HandleClientFrame(s, ev.raw)
			}
		}
	}
}

// MarkAlive records a heartbeat response (JSON heartbeat or ws pong)
func (s *Session) MarkAlive() {
	s.mu.Lock()
	s.beatSeen = true
	s.missedBeats = 0
	s.isAlive = true
	s.mu.Unlock()
}

// IsAlive reports the heartbeat monitor's view of the session
func (s *Session) IsAlive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAlive
}

// checkBeat is called by the Monitor once per interval. It consumes the
// beat-seen flag and returns the number of consecutive missed intervals.
func (s *Session) checkBeat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beatSeen {
		s.beatSeen = false
		s.missedBeats = 0
		s.isAlive = true
		return 0
	}
	s.missedBeats++
	s.isAlive = false
	return s.missedBeats
}

// Ping sends a liveness probe: a websocket ping plus a heartbeat frame
// for clients that only speak the JSON protocol.
func (s *Session) Ping() {
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	}
	s.Queue(messages.NewHeartbeatFrame(s.ID))
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
