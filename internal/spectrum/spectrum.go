// Package spectrum holds the FFT products shared by deconvolution and
// cross-correlation.
package spectrum

import (
	"fmt"
	"math/cmplx"

	"github.com/athompson36/ambi-glass-sub000/internal/numeric"
	algofft "github.com/cwbudde/algo-fft"
)

// Size returns the zero-padded transform length for a linear product of
// inputs with lengths na and nb.
func Size(na, nb int) int {
	return numeric.NextPow2(na + nb - 1)
}

// Convolve returns the full circular buffer of IFFT(FFT(a)·FFT(b)) at
// length Size(len(a), len(b)), which holds the linear convolution.
func Convolve(a, b []float32) ([]float64, error) {
	return product(a, b, false)
}

// CrossCorrelate returns IFFT(FFT(a)·conj(FFT(b))) at length
// Size(len(a), len(b)). Index k holds sum_n a[n+k]·b[n]; negative lags wrap
// to the top half.
func CrossCorrelate(a, b []float32) ([]float64, error) {
	return product(a, b, true)
}

func product(a, b []float32, conjB bool) ([]float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return nil, fmt.Errorf("empty operand: len(a)=%d len(b)=%d", len(a), len(b))
	}
	n := Size(len(a), len(b))
	plan, err := algofft.NewPlan64(n)
	if err != nil {
		return nil, fmt.Errorf("NewPlan64: %w", err)
	}

	inA := make([]complex128, n)
	inB := make([]complex128, n)
	for i, v := range a {
		inA[i] = complex(float64(v), 0)
	}
	for i, v := range b {
		inB[i] = complex(float64(v), 0)
	}
	specA := make([]complex128, n)
	specB := make([]complex128, n)
	if err := plan.Forward(specA, inA); err != nil {
		return nil, fmt.Errorf("Forward: %w", err)
	}
	if err := plan.Forward(specB, inB); err != nil {
		return nil, fmt.Errorf("Forward: %w", err)
	}

	// Inverse through the forward plan: ifft(X) = conj(fft(conj(X))) / n.
	for k := range specA {
		y := specB[k]
		if conjB {
			y = cmplx.Conj(y)
		}
		inA[k] = cmplx.Conj(specA[k] * y)
	}
	if err := plan.Forward(specB, inA); err != nil {
		return nil, fmt.Errorf("Forward: %w", err)
	}

	out := make([]float64, n)
	scale := 1.0 / float64(n)
	for i := range out {
		out[i] = real(specB[i]) * scale
	}
	return out, nil
}
