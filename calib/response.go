package calib

import (
	"fmt"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/numeric"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/window"
	algofft "github.com/cwbudde/algo-fft"
	"github.com/cwbudde/algo-vecmath"
)

// Analysis defaults.
const (
	DefaultWindow = 4096
	DefaultHop    = 2048

	minAnalysisHz = 20.0
	maxAnalysisHz = 20000.0
	floorDB       = -120.0
)

// AnalyzeResponse averages the Hann-windowed power spectrum of signal over
// frames of win samples taken every hop samples and returns the bins in
// 20 Hz - 20 kHz as power dB. win and hop <= 0 use the defaults.
func AnalyzeResponse(signal []float32, sampleRate, win, hop int) (Curve, error) {
	if win <= 0 {
		win = DefaultWindow
	}
	if hop <= 0 {
		hop = DefaultHop
	}
	if sampleRate <= 0 {
		return Curve{}, fmt.Errorf("%w: sample rate must be > 0", audioerr.ErrInvalidConfig)
	}
	if len(signal) < win {
		return Curve{}, fmt.Errorf("%w: signal has %d samples, analysis window needs %d", audioerr.ErrEmptyInput, len(signal), win)
	}

	fftSize := numeric.NextPow2(win)
	plan, err := algofft.NewPlanReal64(fftSize)
	if err != nil {
		return Curve{}, fmt.Errorf("fft plan: %w", err)
	}

	hann := window.Generate(window.TypeHann, win)

	nBins := fftSize / 2
	buf := make([]float64, fftSize)
	spec := make([]complex128, nBins+1)
	re := make([]float64, nBins)
	im := make([]float64, nBins)
	pow := make([]float64, nBins)
	sum := make([]float64, nBins)
	frames := 0
	for pos := 0; pos+win <= len(signal); pos += hop {
		clear(buf)
		for i := range win {
			buf[i] = float64(signal[pos+i]) * hann[i]
		}
		if err := plan.Forward(spec, buf); err != nil {
			return Curve{}, fmt.Errorf("fft: %w", err)
		}
		for k := range nBins {
			re[k] = real(spec[k])
			im[k] = imag(spec[k])
		}
		vecmath.Power(pow, re, im)
		vecmath.AddBlockInPlace(sum, pow)
		frames++
	}
	vecmath.ScaleBlockInPlace(sum, 1/float64(frames))

	binHz := float64(sampleRate) / float64(fftSize)
	var c Curve
	for k := 1; k < nBins; k++ {
		f := float64(k) * binHz
		if f < minAnalysisHz || f > maxAnalysisHz {
			continue
		}
		db := max(dspcore.LinearPowerToDB(sum[k]), floorDB)
		c.Freqs = append(c.Freqs, f)
		c.Gains = append(c.Gains, db)
	}
	if c.Len() < 2 {
		return Curve{}, fmt.Errorf("%w: fewer than two analysis bins between %.0f and %.0f Hz at %d Hz", audioerr.ErrInvalidConfig, minAnalysisHz, maxAnalysisHz, sampleRate)
	}
	return c, nil
}

// CapsuleCalibrations analyzes the reference recording and every capsule
// recording and returns one correction curve per capsule that maps the
// capsule response onto the reference.
func CapsuleCalibrations(reference []float32, capsules [][]float32, sampleRate int) ([]Curve, error) {
	ref, err := AnalyzeResponse(reference, sampleRate, DefaultWindow, DefaultHop)
	if err != nil {
		return nil, fmt.Errorf("reference: %w", err)
	}
	out := make([]Curve, len(capsules))
	for i, capsule := range capsules {
		m, err := AnalyzeResponse(capsule, sampleRate, DefaultWindow, DefaultHop)
		if err != nil {
			return nil, fmt.Errorf("capsule %d: %w", i+1, err)
		}
		out[i] = CalibrationCurve(ref, m, DefaultCurvePoints)
	}
	return out, nil
}
