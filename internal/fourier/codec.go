// Package fourier compresses angular distance signals into truncated
// real-FFT coefficient sets and reconstructs them, including the
// log-domain decode used for predicted signals.
package fourier

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Codec transforms length-N signals to and from K retained complex
// coefficients. K is fixed at construction; the remaining high-frequency
// bins are discarded on the forward pass and zero-filled on the inverse.
type Codec struct {
	n   int
	k   int
	fft *fourier.FFT
}

// NewCodec creates a codec for signals of length n keeping k
// coefficients. Requesting more coefficients than the one-sided spectrum
// holds (n/2+1) is a construction-time error.
func NewCodec(n, k int) (*Codec, error) {
	if n <= 0 {
		return nil, fmt.Errorf("fourier: signal length %d must be positive", n)
	}
	if k <= 0 || k > n/2+1 {
		return nil, fmt.Errorf("fourier: coefficient count %d out of range [1,%d]", k, n/2+1)
	}
	return &Codec{n: n, k: k, fft: fourier.NewFFT(n)}, nil
}

// SignalLength returns the signal length N.
func (c *Codec) SignalLength() int { return c.n }

// Coefficients returns the retained coefficient count K.
func (c *Codec) Coefficients() int { return c.k }

// Forward computes the one-sided real DFT of sig and returns the first K
// complex coefficients.
func (c *Codec) Forward(sig []float64) ([]complex128, error) {
	if len(sig) != c.n {
		return nil, fmt.Errorf("fourier: signal length %d, want %d", len(sig), c.n)
	}
	full := c.fft.Coefficients(nil, sig)
	out := make([]complex128, c.k)
	copy(out, full[:c.k])
	return out, nil
}

// Inverse reconstructs a length-N signal from up to K coefficients.
// Missing high-frequency bins are zero-filled before the inverse
// transform. The output is normalized so that Forward followed by
// Inverse with the full spectrum is the identity.
func (c *Codec) Inverse(coeffs []complex128) ([]float64, error) {
	half := c.n/2 + 1
	if len(coeffs) > half {
		return nil, fmt.Errorf("fourier: %d coefficients exceed one-sided spectrum %d", len(coeffs), half)
	}
	padded := make([]complex128, half)
	copy(padded, coeffs)
	seq := c.fft.Sequence(nil, padded)
	inv := 1 / float64(c.n)
	for i := range seq {
		seq[i] *= inv
	}
	return seq, nil
}

// Decode reconstructs a distance signal from predicted coefficients.
// Predictions live in the log-distance domain, so the inverse transform
// output is exponentiated, which also keeps decoded distances positive.
func (c *Codec) Decode(coeffs []complex128) ([]float64, error) {
	seq, err := c.Inverse(coeffs)
	if err != nil {
		return nil, err
	}
	for i := range seq {
		seq[i] = math.Exp(seq[i])
	}
	return seq, nil
}

// PairsToComplex reinterprets an interleaved [re0,im0,re1,im1,...] slice
// as complex coefficients, the layout prediction tensors use.
func PairsToComplex(pairs []float64) ([]complex128, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("fourier: interleaved coefficient length %d is odd", len(pairs))
	}
	out := make([]complex128, len(pairs)/2)
	for i := range out {
		out[i] = complex(pairs[2*i], pairs[2*i+1])
	}
	return out, nil
}

// ComplexToPairs flattens complex coefficients into interleaved
// real/imaginary pairs.
func ComplexToPairs(coeffs []complex128) []float64 {
	out := make([]float64, 2*len(coeffs))
	for i, c := range coeffs {
		out[2*i] = real(c)
		out[2*i+1] = imag(c)
	}
	return out
}
