package audio

import "math"

// Minimal iterative radix-2 FFT. The pipeline only needs magnitude
// spectra and spectral subtraction, which never justifies a DSP
// dependency for frames this small.

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fft transforms in place. len(x) must be a power of two.
func fft(x []complex128, inverse bool) {
	n := len(x)
	if n <= 1 {
		return
	}

	// Bit-reversal permutation
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		angle := 2 * math.Pi / float64(length)
		if !inverse {
			angle = -angle
		}
		wl := complex(math.Cos(angle), math.Sin(angle))
		for i := 0; i < n; i += length {
			w := complex(1, 0)
			for j := 0; j < length/2; j++ {
				u := x[i+j]
				v := x[i+j+length/2] * w
				x[i+j] = u + v
				x[i+j+length/2] = u - v
				w *= wl
			}
		}
	}

	if inverse {
		for i := range x {
			x[i] /= complex(float64(n), 0)
		}
	}
}

// spectrum returns the FFT of the frame's samples normalized to [-1, 1],
// zero-padded to a power of two. The returned slice length is the FFT size.
func spectrum(pcm []int16) []complex128 {
	n := nextPow2(len(pcm))
	x := make([]complex128, n)
	for i, s := range pcm {
		x[i] = complex(float64(s)/32768.0, 0)
	}
	fft(x, false)
	return x
}

// magnitudes returns per-bin magnitudes for the first half of the
// spectrum (the rest mirrors it for real input).
func magnitudes(spec []complex128) []float64 {
	half := len(spec) / 2
	mags := make([]float64, half)
	for i := 0; i < half; i++ {
		mags[i] = math.Hypot(real(spec[i]), imag(spec[i]))
	}
	return mags
}
