// Reference client for the relay. Reads raw PCM from stdin (pipe ffmpeg
// or arecord into it), runs the capture pipeline and streams speech to
// the relay, writing returned audio to stdout.
//
// Example:
//
//	ffmpeg -f pulse -i default -f s16le -ar 48000 -ac 2 - | \
//	  mic-client -user demo -rate 48000 -channels 2 > reply.pcm
package main

import (
	"encoding/base64"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/romiteld/eva-assistant-sub007/audio"
	"github.com/romiteld/eva-assistant-sub007/auth"
	"github.com/romiteld/eva-assistant-sub007/messages"
)

type stdinSource struct {
	r      io.Reader
	format audio.Format
}

func (s *stdinSource) Read(p []byte) (int, error) { return s.r.Read(p) }
func (s *stdinSource) Format() audio.Format       { return s.format }

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay websocket endpoint")
	user := flag.String("user", "mic-client", "user id to mint a token for")
	token := flag.String("token", "", "capability token (minted from -user when empty)")
	rate := flag.Int("rate", 48000, "input sample rate")
	channels := flag.Int("channels", 2, "input channel count")
	encoding := flag.String("encoding", "pcm16", "input encoding: pcm16 or mulaw")
	flag.Parse()

	rawToken := *token
	if rawToken == "" {
		var err error
		rawToken, err = auth.EncodeToken(&auth.Token{
			UserID:  *user,
			Exp:     time.Now().Add(time.Hour).UnixMilli(),
			Purpose: "relay",
		})
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url+"?token="+rawToken, nil)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("🔗 Connected to %s", *url)

	player := audio.NewPlayer(os.Stdout, 64)
	defer player.Close()

	// Single writer goroutine: the pipeline callback and the receive loop
	// both produce outbound frames, and the connection allows only one
	// concurrent writer.
	sendCh := make(chan []byte, 32)
	go writeLoop(conn, sendCh)

	done := make(chan struct{})
	go receiveLoop(conn, player, sendCh, done)

	pipeline := audio.NewPipeline()
	src := &stdinSource{r: os.Stdin, format: audio.Format{
		SampleRate: *rate,
		Channels:   *channels,
		Encoding:   *encoding,
	}}
	if err := pipeline.Initialize(src); err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	// Frames are batched per utterance: VAD opens the gate, silence after
	// speech flushes the accumulated segment as one send.
	utterance := audio.NewUtterance(1024 * 1024)

	err = pipeline.StartProcessing(func(f audio.Frame) {
		voiced := audio.DetectVoice(f)
		if voiced && !utterance.Speaking() {
			log.Println("🎤 Speech started")
		}
		if segment := utterance.Feed(f, voiced); segment != nil {
			log.Printf("🎤 Utterance complete (%d bytes)", len(segment))
			sendAudio(sendCh, segment)
		}
	})
	if err != nil {
		log.Fatalf("Failed to start pipeline: %v", err)
	}
	defer pipeline.StopProcessing()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("\nShutting down...")
	case <-done:
		log.Println("Connection closed by relay")
	}

	if dropped := pipeline.Dropped(); dropped > 0 {
		log.Printf("⚠️ %d capture frames dropped", dropped)
	}
}

func writeLoop(conn *websocket.Conn, sendCh <-chan []byte) {
	for data := range sendCh {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Printf("❌ send failed: %v", err)
			return
		}
	}
}

func sendAudio(sendCh chan<- []byte, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	frame := messages.NewAudioFrame("", base64.StdEncoding.EncodeToString(pcm), audio.WireSampleRate)
	data, err := messages.Marshal(frame)
	if err != nil {
		log.Printf("❌ marshal failed: %v", err)
		return
	}
	select {
	case sendCh <- data:
	default:
		log.Println("⚠️ send queue full, dropping utterance")
	}
}

func receiveLoop(conn *websocket.Conn, player *audio.Player, sendCh chan<- []byte, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env messages.Envelope
		if err := messages.Unmarshal(data, &env); err != nil {
			log.Printf("⚠️ bad frame from relay: %v", err)
			continue
		}

		switch env.Type {
		case messages.TypeAudio:
			var payload messages.AudioPayload
			if err := messages.Unmarshal(env.Data, &payload); err != nil {
				continue
			}
			frame, err := audio.Decode(payload.AudioData)
			if err != nil {
				continue
			}
			player.Enqueue(frame)

		case messages.TypeText:
			var payload messages.TextPayload
			if err := messages.Unmarshal(env.Data, &payload); err == nil {
				log.Printf("💬 %s", payload.Text)
			}

		case messages.TypeStatus:
			var payload messages.StatusPayload
			if err := messages.Unmarshal(env.Data, &payload); err == nil {
				log.Printf("ℹ️ %s", payload.Status)
			}

		case messages.TypeError:
			if env.Error != nil {
				log.Printf("❌ relay error %s: %s", env.Error.Code, env.Error.Message)
			}

		case messages.TypeHeartbeat:
			// Echo probes back so the relay keeps the session alive
			reply, err := messages.Marshal(&messages.Envelope{Type: messages.TypeHeartbeat, Timestamp: messages.Now()})
			if err == nil {
				select {
				case sendCh <- reply:
				default:
				}
			}
		}
	}
}
