// Package irsynth generates deterministic synthetic room impulse responses
// for one or more microphone capsules. Simulated measurements and tests use
// them as the "true" room a sweep is played into.
package irsynth

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/cwbudde/algo-approx"
	"github.com/cwbudde/algo-vecmath"
)

// Config controls synthetic room IR generation.
type Config struct {
	SampleRate int
	DurationS  float64
	Seed       int64

	// DirectDelayS places the direct-path impulse; every capsule shares it.
	DirectDelayS float64
	DirectLevel  float64

	EarlyCount   int
	EarlyWindowS float64 // reflections land within this span after the direct path

	Modes     int     // low-frequency room modes
	ModeLevel float64 // per-mode amplitude before brightness rolloff

	LateLevel  float64
	Brightness float64
	LowDecayS  float64
	HighDecayS float64

	// Spread decorrelates capsules: 0 gives identical channels.
	Spread float64

	FadeOutS      float64 // Cosine fade-out at the end; 0 = no fade
	NormalizePeak float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		DurationS:     0.5,
		Seed:          1,
		DirectDelayS:  0.002,
		DirectLevel:   1.0,
		EarlyCount:    16,
		EarlyWindowS:  0.05,
		Modes:         16,
		ModeLevel:     0.01,
		LateLevel:     0.06,
		Brightness:    0.8,
		LowDecayS:     0.4,
		HighDecayS:    0.1,
		Spread:        0.6,
		FadeOutS:      0.01,
		NormalizePeak: 0.9,
	}
}

func (c *Config) Validate() error {
	if c.SampleRate < 8000 {
		return fmt.Errorf("%w: sample rate too low: %d", audioerr.ErrInvalidConfig, c.SampleRate)
	}
	if c.DurationS <= 0 {
		return fmt.Errorf("%w: duration must be > 0", audioerr.ErrInvalidConfig)
	}
	if c.DirectDelayS < 0 || c.DirectDelayS >= c.DurationS {
		return fmt.Errorf("%w: direct delay must be in [0, duration)", audioerr.ErrInvalidConfig)
	}
	if c.DirectLevel <= 0 {
		return fmt.Errorf("%w: direct level must be > 0", audioerr.ErrInvalidConfig)
	}
	if c.EarlyCount < 0 || c.Modes < 0 {
		return fmt.Errorf("%w: early count and modes must be >= 0", audioerr.ErrInvalidConfig)
	}
	if c.EarlyCount > 0 && c.EarlyWindowS <= 0 {
		return fmt.Errorf("%w: early window must be > 0", audioerr.ErrInvalidConfig)
	}
	if c.ModeLevel < 0 || c.LateLevel < 0 || c.Spread < 0 {
		return fmt.Errorf("%w: levels and spread must be >= 0", audioerr.ErrInvalidConfig)
	}
	if c.Brightness <= 0 {
		return fmt.Errorf("%w: brightness must be > 0", audioerr.ErrInvalidConfig)
	}
	if c.LowDecayS <= 0 || c.HighDecayS <= 0 {
		return fmt.Errorf("%w: decay seconds must be > 0", audioerr.ErrInvalidConfig)
	}
	if c.NormalizePeak <= 0 {
		return fmt.Errorf("%w: normalize peak must be > 0", audioerr.ErrInvalidConfig)
	}
	return nil
}

// Frames returns the IR length in samples.
func (c *Config) Frames() int {
	return max(int(math.Round(c.DurationS*float64(c.SampleRate))), 1)
}

// DirectIndex is the sample index of the direct path.
func (c *Config) DirectIndex() int {
	return int(math.Round(c.DirectDelayS * float64(c.SampleRate)))
}

// Generate synthesizes one IR per capsule. All channels share the direct
// path and reflection times; levels, mode phases and the diffuse tail vary
// per channel according to Spread. The loudest sample across all channels
// is scaled to NormalizePeak.
func Generate(cfg Config, channels int) ([][]float32, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if channels < 1 {
		return nil, fmt.Errorf("%w: need at least one channel, got %d", audioerr.ErrChannelCount, channels)
	}

	n := cfg.Frames()
	sr := float64(cfg.SampleRate)
	d := cfg.DirectIndex()
	rng := rand.New(rand.NewSource(cfg.Seed))

	bufs := make([][]float64, channels)
	for c := range bufs {
		bufs[c] = make([]float64, n)
	}
	// Capsule position in [-1, 1] drives level and phase skew.
	pos := func(c int) float64 {
		if channels == 1 {
			return 0
		}
		return 2*float64(c)/float64(channels-1) - 1
	}

	for c := range bufs {
		bufs[c][d] += cfg.DirectLevel * (1.0 - 0.05*cfg.Spread*pos(c))
	}

	// Early reflections share arrival times across capsules.
	for i := 0; i < cfg.EarlyCount; i++ {
		t := 0.001 + (cfg.EarlyWindowS-0.001)*rng.Float64()
		idx := d + int(t*sr)
		amp := (0.10 + 0.35*rng.Float64()) * math.Exp(-t*20.0)
		amp *= math.Pow(0.5+0.5*rng.Float64(), 1.0/cfg.Brightness)
		dir := rng.Float64()*2.0 - 1.0
		if idx >= n {
			continue
		}
		for c := range bufs {
			bufs[c][idx] += amp * (1.0 + 0.5*cfg.Spread*dir*pos(c))
		}
	}

	// Low room modes, log-spaced between 35 Hz and 300 Hz.
	const minF, maxF = 35.0, 300.0
	for m := 0; m < cfg.Modes; m++ {
		f := minF * math.Pow(maxF/minF, (float64(m)+0.5)/float64(cfg.Modes))
		amp := cfg.ModeLevel / math.Pow(1.0+f/120.0, 0.7+0.9*cfg.Brightness)
		amp *= 0.7 + 0.6*rng.Float64()
		tau := lerp(cfg.LowDecayS, cfg.HighDecayS, f/maxF)
		decay := math.Exp(-1.0 / (tau * sr))
		phi := rng.Float64() * 2.0 * math.Pi
		skew := rng.Float64()*2.0 - 1.0
		for c := range bufs {
			p := skew * cfg.Spread * pos(c)
			addModeRec(bufs[c][d:], amp*(1.0-0.3*p), f*(1.0+0.004*p), phi+0.5*p, decay, cfg.SampleRate)
		}
	}

	// Diffuse tail, independent noise per capsule.
	if cfg.LateLevel > 0 {
		brightness := max(0.3*(cfg.Brightness-0.3), 0)
		for c := range bufs {
			lp, hp := 0.0, 0.0
			shared := 1.0 - min(cfg.Spread, 1.0)
			common := rand.New(rand.NewSource(cfg.Seed + 1))
			for i := d; i < n; i++ {
				t := float32(float64(i-d) / sr)
				lowEnv := float64(approx.FastExp(-t / float32(0.75*cfg.LowDecayS)))
				highEnv := float64(approx.FastExp(-t / float32(0.75*cfg.HighDecayS)))
				v := shared*common.NormFloat64() + (1.0-shared)*rng.NormFloat64()
				lp = 0.985*lp + 0.015*v
				hp = 0.15*v - 0.15*hp
				bufs[c][i] += cfg.LateLevel * (lowEnv*lp + brightness*highEnv*hp)
			}
		}
	}

	peak := 0.0
	for c := range bufs {
		highpassDC(bufs[c], 0.995)
		applyFadeOut(bufs[c], cfg.FadeOutS, cfg.SampleRate)
		peak = max(peak, vecmath.MaxAbs(bufs[c]))
	}
	if peak < 1e-12 {
		peak = 1e-12
	}
	s := cfg.NormalizePeak / peak
	out := make([][]float32, channels)
	for c := range bufs {
		out[c] = make([]float32, n)
		for i, v := range bufs[c] {
			out[c][i] = float32(v * s)
		}
	}
	return out, nil
}

func addModeRec(out []float64, amp float64, freq float64, phase float64, decay float64, sampleRate int) {
	if len(out) == 0 {
		return
	}
	w := 2.0 * math.Pi * freq / float64(sampleRate)
	cw := math.Cos(w)
	x0 := math.Cos(phase)
	x1 := math.Cos(phase + w)
	env := 1.0

	out[0] += amp * env * x0
	env *= decay
	if len(out) == 1 {
		return
	}
	out[1] += amp * env * x1
	env *= decay
	for i := 2; i < len(out); i++ {
		x2 := 2.0*cw*x1 - x0
		x0 = x1
		x1 = x2
		out[i] += amp * env * x2
		env *= decay
	}
}

func highpassDC(x []float64, r float64) {
	prevIn := 0.0
	prevOut := 0.0
	for i := range x {
		y := x[i] - prevIn + r*prevOut
		prevIn = x[i]
		prevOut = y
		x[i] = y
	}
}

// applyFadeOut applies a cosine fade-out to the last fadeS seconds of buf.
func applyFadeOut(buf []float64, fadeS float64, sampleRate int) {
	if fadeS <= 0 || len(buf) == 0 {
		return
	}
	fadeSamples := min(int(math.Round(fadeS*float64(sampleRate))), len(buf))
	start := len(buf) - fadeSamples
	for i := 0; i < fadeSamples; i++ {
		t := float64(i) / float64(fadeSamples)
		buf[start+i] *= 0.5 * (1.0 + math.Cos(t*math.Pi))
	}
}

func lerp(a, b, t float64) float64 {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return a + (b-a)*t
}
