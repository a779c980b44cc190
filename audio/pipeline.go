package audio

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

const (
	// Samples per emitted wire frame (64 ms at 16 kHz)
	defaultFrameSamples = 1024

	// Outbound frames buffered before the oldest is dropped. Audio is
	// soft real time: a stale frame is worse than a lost one.
	defaultQueueDepth = 32
)

var ErrNotInitialized = errors.New("audio: pipeline not initialized")

// Pipeline binds a capture source and emits wire-format frames at a fixed
// buffer cadence. Whatever the source's native format, emitted frames are
// always mono 16 kHz PCM16. Noise suppression calibrates on the first
// frames and applies thereafter.
type Pipeline struct {
	mu         sync.Mutex
	src        Source
	suppressor *Suppressor
	queue      chan Frame
	dropped    int64

	frameSamples int
	running      bool
	stop         chan struct{}
	done         chan struct{}
	captureDone  chan struct{}

	lastFrame Frame
	lastMu    sync.RWMutex
}

// NewPipeline creates an unbound pipeline with default sizing
func NewPipeline() *Pipeline {
	return &Pipeline{
		suppressor:   NewSuppressor(DefaultCalibrationFrames),
		frameSamples: defaultFrameSamples,
		queue:        make(chan Frame, defaultQueueDepth),
	}
}

// Initialize binds the pipeline to a capture source
func (p *Pipeline) Initialize(src Source) error {
	if src == nil {
		return errors.New("audio: nil source")
	}
	f := src.Format()
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid source sample rate %d", f.SampleRate)
	}
	switch f.Encoding {
	case "pcm16", "mulaw":
	default:
		return fmt.Errorf("audio: unsupported source encoding %q", f.Encoding)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("audio: cannot rebind while processing")
	}
	p.src = src
	return nil
}

// StartProcessing begins emitting frames to onFrame. Emission order is
// capture order; when the consumer cannot keep up the oldest queued frame
// is dropped. StopProcessing halts emission without unbinding the source.
func (p *Pipeline) StartProcessing(onFrame func(Frame)) error {
	p.mu.Lock()
	if p.src == nil {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if p.running {
		p.mu.Unlock()
		return errors.New("audio: already processing")
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.captureDone = make(chan struct{})
	stop, done, captureDone := p.stop, p.done, p.captureDone
	src := p.src
	p.mu.Unlock()

	// Discard frames left over from a previous run so the new callback
	// never sees stale audio
	for {
		select {
		case <-p.queue:
			continue
		default:
		}
		break
	}

	go func() {
		defer close(captureDone)
		p.captureLoop(src, stop)
	}()
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case f := <-p.queue:
				onFrame(f)
			}
		}
	}()
	return nil
}

// StopProcessing halts frame emission. The source binding is retained;
// StartProcessing may be called again.
func (p *Pipeline) StopProcessing() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done, captureDone := p.done, p.captureDone
	p.mu.Unlock()
	<-done
	// The capture loop notices stop once its in-flight read returns; a
	// restart before then would put two readers on one source.
	<-captureDone
}

// IsVoiceDetected reports whether the most recently emitted frame carries
// voice energy. Stateless per frame; see DetectVoice.
func (p *Pipeline) IsVoiceDetected() bool {
	p.lastMu.RLock()
	f := p.lastFrame
	p.lastMu.RUnlock()
	return DetectVoice(f)
}

// Suppressor exposes the pipeline's noise suppressor (for calibration
// control and tests).
func (p *Pipeline) Suppressor() *Suppressor {
	return p.suppressor
}

// Dropped returns the number of frames discarded under backpressure
func (p *Pipeline) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

func (p *Pipeline) captureLoop(src Source, stop chan struct{}) {
	format := src.Format()

	// Native bytes needed to yield one wire frame after conversion
	nativeSamples := p.frameSamples * format.SampleRate / WireSampleRate * max(format.Channels, 1)
	bytesPerSample := 2
	if format.Encoding == "mulaw" {
		bytesPerSample = 1
	}
	buf := make([]byte, nativeSamples*bytesPerSample)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := io.ReadFull(src, buf)
		if n > 0 {
			frame := p.convert(buf[:n-n%bytesPerSample], format)
			if len(frame.PCM) > 0 {
				p.emit(frame)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				log.Printf("🎤 capture read error: %v", err)
			}
			return
		}
	}
}

// convert normalizes one native buffer to the wire format
func (p *Pipeline) convert(raw []byte, format Format) Frame {
	var pcm []int16
	if format.Encoding == "mulaw" {
		pcm = DecodeMuLaw(raw)
	} else {
		pcm = make([]int16, len(raw)/2)
		for i := range pcm {
			pcm[i] = int16(uint16(raw[i*2]) | uint16(raw[i*2+1])<<8)
		}
	}

	pcm = downmix(pcm, format.Channels)
	pcm = resampleLinear(pcm, format.SampleRate, WireSampleRate)

	frame := Frame{
		PCM:        pcm,
		SampleRate: WireSampleRate,
		Channels:   WireChannels,
		Timestamp:  time.Now(),
	}

	if !p.suppressor.Calibrated() {
		p.suppressor.Calibrate(frame)
	} else {
		frame = p.suppressor.Process(frame)
	}
	return frame
}

func (p *Pipeline) emit(f Frame) {
	p.lastMu.Lock()
	p.lastFrame = f
	p.lastMu.Unlock()

	for {
		select {
		case p.queue <- f:
			return
		default:
			// Queue full: drop the oldest frame, keep the newest
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
