// Package analysis reports quality metrics for measured impulse responses.
package analysis

import (
	"fmt"
	"math"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/xcorr"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	dspir "github.com/cwbudde/algo-dsp/measure/ir"
	"github.com/cwbudde/algo-vecmath"
)

// Metrics summarizes one impulse response. Fields that could not be
// estimated are zero.
type Metrics struct {
	SampleRate int `json:"sample_rate"`
	Frames     int `json:"frames"`

	PeakIndex  int     `json:"peak_index"`
	PeakValue  float64 `json:"peak_value"`
	PeakTimeMs float64 `json:"peak_time_ms"`
	OnsetIndex int     `json:"onset_index"`

	EnergyDB      float64 `json:"energy_db"`
	DecayDBPerS   float64 `json:"decay_db_per_s"`
	RT60S         float64 `json:"rt60_s"`
	EDTS          float64 `json:"edt_s"`
	T20S          float64 `json:"t20_s"`
	T30S          float64 `json:"t30_s"`
	C50DB         float64 `json:"c50_db"`
	C80DB         float64 `json:"c80_db"`
	D50           float64 `json:"d50"`
	CenterTimeMs  float64 `json:"center_time_ms"`
	NoiseFloorDB  float64 `json:"noise_floor_db"`
	PeakToNoiseDB float64 `json:"peak_to_noise_db"`
}

// IRMetrics runs the room-acoustic analysis (Schroeder decay, clarity,
// definition) from the peak onward and adds the peak-to-noise ratio. The
// noise floor is the RMS of the final tenth of the response. The onset is
// the first sample within 20 dB of the peak.
func IRMetrics(ir []float32, sampleRate int) (Metrics, error) {
	if len(ir) == 0 {
		return Metrics{}, fmt.Errorf("%w: empty impulse response", audioerr.ErrEmptyInput)
	}
	if sampleRate <= 0 {
		return Metrics{}, fmt.Errorf("%w: sample rate must be > 0, got %d", audioerr.ErrInvalidConfig, sampleRate)
	}
	x := toFloat64(ir)
	an := dspir.NewAnalyzer(float64(sampleRate))
	am, err := an.Analyze(x)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: %v", audioerr.ErrInvalidConfig, err)
	}
	onset, err := an.FindImpulseStart(x)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: %v", audioerr.ErrEmptyInput, err)
	}

	m := Metrics{
		SampleRate:   sampleRate,
		Frames:       len(x),
		PeakIndex:    am.PeakIndex,
		PeakValue:    x[am.PeakIndex],
		PeakTimeMs:   float64(am.PeakIndex) / float64(sampleRate) * 1000,
		OnsetIndex:   onset,
		EnergyDB:     powToDB(vecmath.DotProduct(x, x)),
		RT60S:        finite(am.RT60),
		EDTS:         finite(am.EDT),
		T20S:         finite(am.T20),
		T30S:         finite(am.T30),
		C50DB:        finite(am.C50),
		C80DB:        finite(am.C80),
		D50:          finite(am.D50),
		CenterTimeMs: finite(am.CenterTime) * 1000,
	}
	if m.RT60S > 0 {
		m.DecayDBPerS = -60 / m.RT60S
	}

	tail := x[len(x)-max(len(x)/10, 1):]
	m.NoiseFloorDB = linToDB(rms(tail))
	m.PeakToNoiseDB = linToDB(vecmath.MaxAbs(x)) - m.NoiseFloorDB
	return m, nil
}

// ChannelLags reports each channel's delay relative to channel 0 in
// samples, estimated by cross-correlation. Entry 0 is always 0.
func ChannelLags(irs [][]float32) ([]int, error) {
	if len(irs) == 0 {
		return nil, fmt.Errorf("%w: no channels", audioerr.ErrEmptyInput)
	}
	lags := make([]int, len(irs))
	for c := 1; c < len(irs); c++ {
		lag, err := xcorr.EstimateDelay(irs[0], irs[c])
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", c, err)
		}
		lags[c] = lag
	}
	return lags, nil
}

func toFloat64(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(vecmath.DotProduct(x, x) / float64(len(x)))
}

// linToDB and powToDB floor at -240 dB so silent input stays finite.
func linToDB(x float64) float64 {
	return dspcore.LinearToDB(max(x, 1e-12))
}

func powToDB(p float64) float64 {
	return dspcore.LinearPowerToDB(max(p, 1e-24))
}

// finite maps NaN and ±Inf (clarity of a silent tail) to 0 so metrics stay
// JSON-encodable.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
