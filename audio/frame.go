package audio

import "time"

// Wire contract: everything the relay carries is mono 16 kHz 16-bit PCM.
const (
	WireSampleRate = 16000
	WireChannels   = 1
)

// Frame is one buffer of PCM16 audio. Frames are immutable once emitted;
// processing stages return new frames rather than mutating in place.
type Frame struct {
	PCM        []int16
	SampleRate int
	Channels   int
	Timestamp  time.Time
}

// Format describes a capture source's native audio format
type Format struct {
	SampleRate int
	Channels   int
	Encoding   string // "pcm16" or "mulaw"
}

// Source is a microphone-like stream of raw audio in its native format.
// ffmpeg pipes, telephony streams and files all satisfy it.
type Source interface {
	Read(p []byte) (n int, err error)
	Format() Format
}

// NewWireFrame wraps samples already in the wire format
func NewWireFrame(pcm []int16) Frame {
	return Frame{
		PCM:        pcm,
		SampleRate: WireSampleRate,
		Channels:   WireChannels,
		Timestamp:  time.Now(),
	}
}
