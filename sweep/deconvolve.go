package sweep

import (
	"fmt"
	"math"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/spectrum"
	"github.com/cwbudde/algo-approx"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-vecmath"
)

// Options controls the window extracted around the deconvolution peak.
type Options struct {
	PreS   float64 // kept before the peak
	PostS  float64 // kept after the peak
	DecayS float64 // time constant of the tail fade; <= 0 disables it
}

func DefaultOptions() Options {
	return Options{PreS: 0.1, PostS: 2.0, DecayS: 1.0}
}

// Result is a windowed impulse response plus where it came from.
type Result struct {
	IR []float32
	// PeakIndex is the peak position in the unwindowed correlation.
	PeakIndex int
	// WindowStart is the correlation index of IR[0].
	WindowStart int
	// PeakValue is the raw correlation value before normalization.
	PeakValue float64
}

// PeakOffset returns the peak position inside IR.
func (r Result) PeakOffset() int { return r.PeakIndex - r.WindowStart }

// Deconvolve recovers an impulse response from a recorded sweep using the
// default window.
func Deconvolve(recorded, inverse []float32, sampleRate int) ([]float32, error) {
	res, err := DeconvolveWithOptions(recorded, inverse, sampleRate, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return res.IR, nil
}

// DeconvolveWithOptions convolves recorded with inverse by FFT, finds the
// largest-magnitude sample, keeps [peak−PreS, peak+PostS) clamped to the
// correlation, scales it so the peak sample is exactly 1 and fades the part
// after the peak with e^(−t/DecayS).
func DeconvolveWithOptions(recorded, inverse []float32, sampleRate int, opts Options) (Result, error) {
	if len(recorded) == 0 || len(inverse) == 0 {
		return Result{}, fmt.Errorf("%w: deconvolve needs recorded and inverse samples (got %d, %d)", audioerr.ErrEmptyInput, len(recorded), len(inverse))
	}
	if sampleRate <= 0 {
		return Result{}, fmt.Errorf("%w: sample rate must be > 0, got %d", audioerr.ErrInvalidConfig, sampleRate)
	}
	if opts.PreS < 0 || opts.PostS <= 0 {
		return Result{}, fmt.Errorf("%w: window must have PreS >= 0 and PostS > 0", audioerr.ErrInvalidConfig)
	}

	full, err := spectrum.Convolve(recorded, inverse)
	if err != nil {
		return Result{}, fmt.Errorf("deconvolve: %w", err)
	}

	peakIdx := peakIndex(full)
	peakVal := full[peakIdx]

	sr := float64(sampleRate)
	pre := int(sr * opts.PreS)
	post := int(sr * opts.PostS)
	start := max(peakIdx-pre, 0)
	end := min(peakIdx+post, len(full))
	win := full[start:end]

	if peakVal != 0 {
		vecmath.ScaleBlockInPlace(win, 1/peakVal)
	}

	if opts.DecayS > 0 {
		offset := peakIdx - start
		for i := offset + 1; i < len(win); i++ {
			t := float64(i-offset) / sr
			g := float64(approx.FastExp(float32(-t / opts.DecayS)))
			win[i] = dspcore.FlushDenormals(win[i] * g)
		}
	}

	ir := make([]float32, len(win))
	for i, v := range win {
		ir[i] = float32(v)
	}
	// Rounding through float32 must not move the peak off 1.0.
	if peakVal != 0 {
		ir[peakIdx-start] = 1
	}
	return Result{
		IR:          ir,
		PeakIndex:   peakIdx,
		WindowStart: start,
		PeakValue:   peakVal,
	}, nil
}

// peakIndex returns the first index holding the largest magnitude.
func peakIndex(x []float64) int {
	m := vecmath.MaxAbs(x)
	for i, v := range x {
		if math.Abs(v) == m {
			return i
		}
	}
	return 0
}
