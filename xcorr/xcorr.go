// Package xcorr estimates the delay between a reference signal and its
// recorded return by FFT cross-correlation.
package xcorr

import (
	"fmt"
	"math"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/spectrum"
	"github.com/cwbudde/algo-vecmath"
)

// Result describes the correlation peak.
type Result struct {
	// Lag is the delay of recorded relative to reference in samples.
	// Negative values mean recorded leads.
	Lag int
	// Peak is the correlation value at Lag.
	Peak float64
	// Confidence is the peak magnitude over the mean magnitude.
	Confidence float64
}

// EstimateDelay returns the lag in samples at which recorded best matches
// reference.
func EstimateDelay(reference, recorded []float32) (int, error) {
	res, err := Estimate(reference, recorded)
	if err != nil {
		return 0, err
	}
	return res.Lag, nil
}

// Estimate cross-correlates the two signals and reports the global peak.
func Estimate(reference, recorded []float32) (Result, error) {
	if len(reference) == 0 || len(recorded) == 0 {
		return Result{}, fmt.Errorf("%w: cross-correlation needs two non-empty signals (got %d, %d)", audioerr.ErrEmptyInput, len(reference), len(recorded))
	}
	r, err := spectrum.CrossCorrelate(recorded, reference)
	if err != nil {
		return Result{}, fmt.Errorf("cross-correlate: %w", err)
	}

	m := vecmath.MaxAbs(r)
	idx := -1
	var sum float64
	for i, v := range r {
		a := math.Abs(v)
		sum += a
		if idx < 0 && a == m {
			idx = i
		}
	}
	if idx < 0 {
		idx = 0
	}
	n := len(r)
	lag := idx
	if idx > n/2 {
		lag = idx - n
	}
	res := Result{Lag: lag, Peak: r[idx]}
	if mean := sum / float64(n); mean > 0 {
		res.Confidence = m / mean
	}
	return res, nil
}

// SamplesToMs converts a lag in samples to milliseconds.
func SamplesToMs(samples int, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(samples) / float64(sampleRate) * 1000
}
