// Package sweep generates exponential sine sweeps, their inverse filters and
// recovers impulse responses from recorded sweeps by FFT deconvolution.
package sweep

import (
	"fmt"
	"math"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	dspsweep "github.com/cwbudde/algo-dsp/measure/sweep"
)

// Spec describes an exponential sine sweep.
type Spec struct {
	SampleRate int
	DurationS  float64
	StartHz    float64
	EndHz      float64
}

// DefaultSpec returns a 5 s, 20 Hz to 20 kHz sweep at 48 kHz.
func DefaultSpec() Spec {
	return Spec{
		SampleRate: 48000,
		DurationS:  5.0,
		StartHz:    20,
		EndHz:      20000,
	}
}

func (s *Spec) Validate() error {
	if s.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate must be > 0, got %d", audioerr.ErrInvalidConfig, s.SampleRate)
	}
	if s.DurationS <= 0 {
		return fmt.Errorf("%w: duration must be > 0", audioerr.ErrInvalidConfig)
	}
	if s.StartHz <= 0 {
		return fmt.Errorf("%w: start frequency must be > 0", audioerr.ErrInvalidConfig)
	}
	if s.EndHz <= s.StartHz {
		return fmt.Errorf("%w: end frequency %.3f must exceed start %.3f", audioerr.ErrInvalidConfig, s.EndHz, s.StartHz)
	}
	if s.Frames() < 1 {
		return fmt.Errorf("%w: sweep shorter than one sample", audioerr.ErrInvalidConfig)
	}
	return nil
}

// Frames returns the sweep length in samples.
func (s Spec) Frames() int {
	return int(float64(s.SampleRate) * s.DurationS)
}

// rate returns L/T, the exponential growth rate of the instantaneous frequency.
func (s Spec) rate() float64 {
	return math.Log(s.EndHz/s.StartHz) / s.DurationS
}

// Generate returns y[n] = sin(2π·f0·T/L·(e^(t·L/T) − 1)) with t = n/sr and
// L = ln(f1/f0). The same spec always yields the same samples.
func Generate(spec Spec) ([]float32, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ls := dspsweep.LogSweep{
		StartFreq:  spec.StartHz,
		EndFreq:    spec.EndHz,
		Duration:   spec.DurationS,
		SampleRate: float64(spec.SampleRate),
	}
	x, err := ls.Generate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audioerr.ErrInvalidConfig, err)
	}
	// LogSweep rounds the length; Frames truncates.
	out := make([]float32, spec.Frames())
	for i := range out {
		if i < len(x) {
			out[i] = float32(x[i])
		}
	}
	return out, nil
}

// Inverse returns the time-reversed sweep weighted by e^(t·L/T), where t is
// the time of the source sample measured from the start of the sweep.
func Inverse(sweep []float32, spec Spec) []float32 {
	n := len(sweep)
	out := make([]float32, n)
	if n == 0 || spec.SampleRate <= 0 || spec.DurationS <= 0 || spec.StartHz <= 0 || spec.EndHz <= spec.StartHz {
		return out
	}
	k := spec.rate()
	sr := float64(spec.SampleRate)
	for i := range out {
		t := float64(n-1-i) / sr
		out[i] = sweep[n-1-i] * float32(math.Exp(t*k))
	}
	return out
}

// Pair generates a sweep and its inverse filter.
func Pair(spec Spec) (sweep, inverse []float32, err error) {
	sweep, err = Generate(spec)
	if err != nil {
		return nil, nil, err
	}
	return sweep, Inverse(sweep, spec), nil
}
