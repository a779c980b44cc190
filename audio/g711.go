package audio

var muLawToPCMTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		muLawToPCMTable[i] = decodeMuLawByte(byte(i))
	}
}

// DecodeMuLaw expands G.711 mu-law bytes to linear PCM16 samples.
// Telephony sources deliver 8 kHz mu-law; the pipeline decodes here and
// resamples to the wire rate.
func DecodeMuLaw(data []byte) []int16 {
	pcm := make([]int16, len(data))
	for i, b := range data {
		pcm[i] = muLawToPCMTable[b]
	}
	return pcm
}

// EncodeMuLaw compresses linear PCM16 samples to G.711 mu-law bytes
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = encodeMuLawByte(s)
	}
	return out
}

// This logic is based on the Sun Microsystems G.711 reference implementation.
func decodeMuLawByte(uVal byte) int16 {
	// Mu-law definition requires inverting bits before processing
	uVal = ^uVal

	sign := uVal & 0x80
	exponent := (uVal >> 4) & 0x07
	mantissa := uVal & 0x0F

	// The geometric bias for mu-law is 33 (0x21); 0x84 after alignment.
	sample := int16((int32(mantissa)<<3 + 0x84) << exponent)
	sample -= 0x84

	if sign != 0 {
		return -sample
	}
	return sample
}

func encodeMuLawByte(pcm int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)

	// Widen before negating: -32768 has no int16 counterpart
	sample := int32(pcm)
	var sign int32
	if sample < 0 {
		sign = 0x80
		sample = -sample
	}
	if sample > clip {
		sample = clip
	}
	sample += bias

	exponent := int32(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}

	mantissa := (sample >> (exponent + 3)) & 0x0F
	ulawByte := byte(sign | (exponent << 4) | mantissa)

	// Compressed format stores inverted bits
	return ^ulawByte
}
