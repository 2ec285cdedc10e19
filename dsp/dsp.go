// Package dsp adapts the algo-dsp filter and delay primitives to the float32
// sample blocks the measurement chain moves around: biquad cascades for DC
// removal and band limiting, and the delay line the simulated interface uses
// to model I/O latency.
package dsp

import (
	"errors"

	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/delay"
	"github.com/cwbudde/algo-dsp/dsp/filter/biquad"
	"github.com/cwbudde/algo-dsp/dsp/filter/design"
)

// ErrInvalidFilter is returned when a cutoff cannot be realized at the
// given sample rate.
var ErrInvalidFilter = errors.New("dsp: cutoff must be in (0, sampleRate/2)")

// Filter runs a biquad cascade over float32 samples. State is float64 so
// long captures at low cutoffs stay stable.
type Filter struct {
	chain   *biquad.Chain
	scratch []float64
}

func newFilter(coeffs []biquad.Coefficients) *Filter {
	return &Filter{chain: biquad.NewChain(coeffs)}
}

func validCutoff(cutoff, sampleRate float64) bool {
	return sampleRate > 0 && cutoff > 0 && cutoff < sampleRate/2
}

// NewLowpass returns a single RBJ lowpass section.
func NewLowpass(cutoff, sampleRate, q float64) (*Filter, error) {
	if !validCutoff(cutoff, sampleRate) {
		return nil, ErrInvalidFilter
	}
	return newFilter([]biquad.Coefficients{design.Lowpass(cutoff, q, sampleRate)}), nil
}

// NewHighpass is used to strip DC from captures before deconvolution.
func NewHighpass(cutoff, sampleRate, q float64) (*Filter, error) {
	if !validCutoff(cutoff, sampleRate) {
		return nil, ErrInvalidFilter
	}
	return newFilter([]biquad.Coefficients{design.Highpass(cutoff, q, sampleRate)}), nil
}

// NewButterworthHighpass cascades order/2 sections (plus a first-order one
// for odd orders).
func NewButterworthHighpass(cutoff, sampleRate float64, order int) (*Filter, error) {
	if !validCutoff(cutoff, sampleRate) || order < 1 {
		return nil, ErrInvalidFilter
	}
	return newFilter(design.ButterworthHP(cutoff, order, sampleRate)), nil
}

func (f *Filter) Process(x float32) float32 {
	return float32(f.chain.ProcessSample(float64(x)))
}

// ProcessBlock filters block in place.
func (f *Filter) ProcessBlock(block []float32) {
	if cap(f.scratch) < len(block) {
		f.scratch = make([]float64, len(block))
	}
	buf := f.scratch[:len(block)]
	for i, v := range block {
		buf[i] = float64(v)
	}
	f.chain.ProcessBlock(buf)
	for i, v := range buf {
		block[i] = float32(dspcore.FlushDenormals(v))
	}
}

// MagnitudeDB is the cascade's response at freq.
func (f *Filter) MagnitudeDB(freq, sampleRate float64) float64 {
	return f.chain.MagnitudeDB(freq, sampleRate)
}

func (f *Filter) Order() int { return f.chain.Order() }

func (f *Filter) Reset() { f.chain.Reset() }

// DelayLine is a fixed-size ring buffer. Read(1) returns the newest sample
// and reads up to the buffer size are valid.
type DelayLine struct {
	line *delay.Line
}

func NewDelayLine(size int) *DelayLine {
	l, err := delay.New(max(size, 1))
	if err != nil {
		// size is clamped to >= 1 above.
		panic(err)
	}
	return &DelayLine{line: l}
}

func (d *DelayLine) Len() int { return d.line.Len() }

func (d *DelayLine) Write(x float32) { d.line.Write(float64(x)) }

func (d *DelayLine) Read(delay int) float32 { return float32(d.line.Read(delay)) }

// ReadFractional interpolates with a cubic Hermite kernel. Delays are clamped
// to [0, Len()-3].
func (d *DelayLine) ReadFractional(delay float64) float32 {
	return float32(d.line.ReadFractional(delay))
}

// Process writes x and returns the sample written delay calls ago; delay 0
// returns x.
func (d *DelayLine) Process(x float32, delay int) float32 {
	d.line.Write(float64(x))
	return float32(d.line.Read(delay + 1))
}

func (d *DelayLine) Reset() { d.line.Reset() }

// FlushDenormals zeroes values too small to matter.
func FlushDenormals(x float32) float32 {
	return float32(dspcore.FlushDenormals(float64(x)))
}
