package audio

import (
	"io"
	"log"
	"sync"
)

// Player writes decoded frames to a PCM sink (an ffplay pipe, a sound
// device) strictly in arrival order, never overlapped, so the upstream's
// turn order is preserved. The queue is bounded; under backpressure the
// oldest queued frame is dropped.
type Player struct {
	sink    io.Writer
	queue   chan Frame
	stop    chan struct{}
	done    chan struct{}
	dropped int64

	mu     sync.Mutex
	closed bool
}

// NewPlayer creates a player with the given queue depth (<= 0 uses the
// default) and starts its playback loop.
func NewPlayer(sink io.Writer, depth int) *Player {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	p := &Player{
		sink:  sink,
		queue: make(chan Frame, depth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.playLoop()
	return p
}

// Enqueue schedules a frame for playback. Non-blocking: when the queue is
// full the oldest pending frame is dropped to make room.
func (p *Player) Enqueue(f Frame) {
	for {
		select {
		case <-p.stop:
			return
		case p.queue <- f:
			return
		default:
			select {
			case <-p.queue:
				p.mu.Lock()
				p.dropped++
				p.mu.Unlock()
			default:
			}
		}
	}
}

// Dropped returns the number of frames discarded under backpressure
func (p *Player) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close drains queued frames, then stops the playback loop. Idempotent.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stop)
	p.mu.Unlock()
	<-p.done
}

func (p *Player) playLoop() {
	defer close(p.done)
	for {
		select {
		case f := <-p.queue:
			if _, err := p.sink.Write(Bytes(f)); err != nil {
				log.Printf("🔈 playback write error: %v", err)
				return
			}
		case <-p.stop:
			// Drain whatever is already queued, in order
			for {
				select {
				case f := <-p.queue:
					if _, err := p.sink.Write(Bytes(f)); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
