package audio

// Voice-activity detection over the speech band.
const (
	voiceBandLowHz  = 85.0
	voiceBandHighHz = 3000.0

	// Mean bin magnitude (normalized samples) above which a frame counts
	// as voiced. Tuned against 16 kHz speech captures.
	voiceThreshold = 0.015
)

// DetectVoice reports whether the frame carries voice energy: it averages
// magnitude over the 85 Hz - 3000 Hz bins of the frame's spectrum and
// compares against a fixed threshold. The decision is stateless and
// per-frame, with no hysteresis, so a short transient (a door slam, a
// keyboard click) can false-trigger for a single frame.
func DetectVoice(f Frame) bool {
	if len(f.PCM) == 0 {
		return false
	}
	spec := spectrum(f.PCM)
	mags := magnitudes(spec)

	binHz := float64(f.SampleRate) / float64(len(spec))
	lo := int(voiceBandLowHz / binHz)
	hi := int(voiceBandHighHz / binHz)
	if lo < 1 {
		lo = 1 // skip DC
	}
	if hi >= len(mags) {
		hi = len(mags) - 1
	}
	if hi < lo {
		return false
	}

	var sum float64
	for i := lo; i <= hi; i++ {
		sum += mags[i]
	}
	avg := sum / float64(hi-lo+1)
	return avg > voiceThreshold
}
