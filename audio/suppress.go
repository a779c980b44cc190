package audio

import "math"

const (
	// Frames accumulated before the noise profile is ready
	DefaultCalibrationFrames = 20

	// A bin is treated as signal when its magnitude exceeds this multiple
	// of the profile's reference magnitude for that bin.
	signalRatio = 1.5

	// Attenuation applied to bins classified as noise
	noiseAttenuation = 0.1
)

// Suppressor removes steady background noise by spectral subtraction
// against a profile captured during a calibration phase. Until
// calibration completes, Process is the identity function.
type Suppressor struct {
	target  int
	seen    int
	fftSize int
	accum   []float64
	profile []float64 // nil until calibration completes
}

// NewSuppressor creates a suppressor that calibrates over the given
// number of frames. frames <= 0 uses the default.
func NewSuppressor(frames int) *Suppressor {
	if frames <= 0 {
		frames = DefaultCalibrationFrames
	}
	return &Suppressor{target: frames}
}

// Calibrate feeds one frame of ambient noise into the profile. Returns
// true once calibration is complete. Frames fed after completion are
// ignored.
func (s *Suppressor) Calibrate(f Frame) bool {
	if s.profile != nil {
		return true
	}

	spec := spectrum(f.PCM)
	mags := magnitudes(spec)

	if s.accum == nil {
		s.fftSize = len(spec)
		s.accum = make([]float64, len(mags))
	}
	if len(spec) != s.fftSize {
		// Frame size changed mid-calibration; restart with the new size.
		s.fftSize = len(spec)
		s.accum = make([]float64, len(mags))
		s.seen = 0
	}

	for i, m := range mags {
		s.accum[i] += m
	}
	s.seen++

	if s.seen >= s.target {
		s.profile = make([]float64, len(s.accum))
		for i, sum := range s.accum {
			s.profile[i] = sum / float64(s.seen)
		}
		return true
	}
	return false
}

// Calibrated reports whether the noise profile is ready
func (s *Suppressor) Calibrated() bool {
	return s.profile != nil
}

// Process applies spectral subtraction and returns a new frame. Per bin:
// a zero reference magnitude in the profile always passes through as
// signal (the noise-to-signal ratio is undefined against zero); a
// magnitude above 1.5x the reference is attenuated by subtracting the
// reference; anything else is treated as noise and heavily attenuated.
func (s *Suppressor) Process(f Frame) Frame {
	if s.profile == nil || len(f.PCM) == 0 {
		return f
	}

	spec := spectrum(f.PCM)
	if len(spec) != s.fftSize {
		// Profile does not apply to this frame size
		return f
	}

	n := len(spec)
	half := n / 2
	for i := 0; i < half; i++ {
		mag := math.Hypot(real(spec[i]), imag(spec[i]))
		ref := s.profile[i]

		var factor float64
		switch {
		case ref == 0 && mag > 0:
			factor = 1
		case mag > signalRatio*ref:
			factor = (mag - ref) / mag
		default:
			factor = noiseAttenuation
		}

		spec[i] *= complex(factor, 0)
		// Mirror bin keeps the inverse transform real
		if i > 0 {
			spec[n-i] *= complex(factor, 0)
		}
	}

	fft(spec, true)
	out := make([]int16, len(f.PCM))
	for i := range out {
		out[i] = clampInt16(real(spec[i]) * 32768.0)
	}
	return Frame{
		PCM:        out,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Timestamp:  f.Timestamp,
	}
}
