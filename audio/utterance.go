package audio

import "sync"

// Utterance batches capture frames into one contiguous speech segment.
// Voiced frames accumulate; the first unvoiced frame after speech closes
// the segment. Batching whole utterances instead of streaming every frame
// keeps short silences from splitting a sentence across sends.
type Utterance struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	speaking bool
}

// NewUtterance creates an accumulator capped at maxBytes of wire PCM
func NewUtterance(maxBytes int) *Utterance {
	return &Utterance{maxBytes: maxBytes}
}

// Feed adds one frame under the speech gate. It returns a completed
// segment when speech just ended, or an early flush when the cap is hit
// mid-speech; otherwise nil.
func (u *Utterance) Feed(f Frame, voiced bool) []byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	if voiced {
		u.speaking = true
		b := Bytes(f)
		if len(u.data)+len(b) > u.maxBytes && len(u.data) > 0 {
			// Cap reached: ship what we have, current frame opens the
			// next segment
			out := u.data
			u.data = append(make([]byte, 0, len(b)), b...)
			return out
		}
		u.data = append(u.data, b...)
		return nil
	}

	if !u.speaking {
		return nil
	}
	u.speaking = false
	out := u.data
	u.data = nil
	return out
}

// Speaking reports whether the accumulator is inside a speech segment
func (u *Utterance) Speaking() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.speaking
}

// Size returns the bytes accumulated so far
func (u *Utterance) Size() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.data)
}

// Reset discards any partial segment and closes the speech gate
func (u *Utterance) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.data = nil
	u.speaking = false
}
