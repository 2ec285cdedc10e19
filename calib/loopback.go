package calib

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/measure"
	"github.com/athompson36/ambi-glass-sub000/sweep"
	"github.com/athompson36/ambi-glass-sub000/xcorr"
	"github.com/cwbudde/algo-vecmath"
)

// Device is the audio interface under calibration.
type Device = measure.Loopback

// LoopbackConfig describes a loopback calibration run. Each input in
// InputChannels is recorded in its own pass with the sweep played on
// OutputChannel.
type LoopbackConfig struct {
	DeviceID      string
	BufferFrames  int
	Sweep         sweep.Spec
	OutputChannel int
	InputChannels [4]int
	Logger        *slog.Logger
	// Now stamps the resulting profile; nil uses time.Now.
	Now func() time.Time
}

// DefaultLoopbackConfig calibrates inputs 0-3 of the "default" device with
// a 5 s sweep at 48 kHz and 1024-frame buffers.
func DefaultLoopbackConfig() LoopbackConfig {
	return LoopbackConfig{
		DeviceID:      "default",
		BufferFrames:  1024,
		Sweep:         sweep.DefaultSpec(),
		InputChannels: [4]int{0, 1, 2, 3},
	}
}

func (c *LoopbackConfig) Validate() error {
	if err := c.Sweep.Validate(); err != nil {
		return err
	}
	if c.DeviceID == "" {
		return fmt.Errorf("%w: device id is empty", audioerr.ErrInvalidConfig)
	}
	if c.BufferFrames <= 0 {
		return fmt.Errorf("%w: buffer frames must be > 0", audioerr.ErrInvalidConfig)
	}
	return nil
}

// ChannelResult is the measured return of one input.
type ChannelResult struct {
	Input      int
	LagSamples int
	GainDB     float64
	Confidence float64
}

// Run plays a sweep through dev once per input, estimates each return's
// delay by cross-correlation and its gain from the RMS ratio of the aligned
// return to the sweep. The profile latency is the first input's delay.
func Run(ctx context.Context, cfg LoopbackConfig, dev Device) (Profile, error) {
	p, _, err := RunDetailed(ctx, cfg, dev)
	return p, err
}

// RunDetailed is Run that also returns the per-input measurements.
func RunDetailed(ctx context.Context, cfg LoopbackConfig, dev Device) (Profile, [4]ChannelResult, error) {
	var results [4]ChannelResult
	if dev == nil {
		return Profile{}, results, fmt.Errorf("%w: no device", audioerr.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Profile{}, results, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	exc, err := sweep.Generate(cfg.Sweep)
	if err != nil {
		return Profile{}, results, err
	}
	refRMS := rms(exc)

	for i, input := range cfg.InputChannels {
		if err := ctx.Err(); err != nil {
			return Profile{}, results, err
		}
		recs, err := dev.PlayRecord(ctx, exc, cfg.OutputChannel, []int{input})
		if err != nil {
			return Profile{}, results, fmt.Errorf("input %d: %w", input, err)
		}
		if len(recs) != 1 {
			return Profile{}, results, fmt.Errorf("%w: device returned %d recordings for input %d", audioerr.ErrChannelCount, len(recs), input)
		}
		est, err := xcorr.Estimate(exc, recs[0])
		if err != nil {
			return Profile{}, results, fmt.Errorf("input %d: %w", input, err)
		}
		results[i] = ChannelResult{
			Input:      input,
			LagSamples: est.Lag,
			GainDB:     alignedGainDB(recs[0], est.Lag, len(exc), refRMS),
			Confidence: est.Confidence,
		}
		logger.Debug("loopback channel", "input", input, "lag", est.Lag, "gain_db", results[i].GainDB)
	}

	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	p := Profile{
		DeviceID:     cfg.DeviceID,
		SampleRate:   cfg.Sweep.SampleRate,
		BufferFrames: cfg.BufferFrames,
		LatencyMs:    xcorr.SamplesToMs(results[0].LagSamples, cfg.Sweep.SampleRate),
		CreatedAt:    now(),
	}
	for i, r := range results {
		p.GainsDB[i] = r.GainDB
	}
	logger.Info("loopback calibration", "device", p.DeviceID, "latency_ms", p.LatencyMs, "gains_db", p.GainsDB)
	return p, results, nil
}

// alignedGainDB compares the RMS of rec[lag:lag+n] against refRMS.
func alignedGainDB(rec []float32, lag, n int, refRMS float64) float64 {
	start := max(lag, 0)
	end := min(start+n, len(rec))
	if end <= start || refRMS == 0 {
		return 0
	}
	r := rms(rec[start:end])
	if r == 0 {
		return 0
	}
	return 20 * math.Log10(r/refRMS)
}

func rms(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	v := make([]float64, len(x))
	for i, s := range x {
		v[i] = float64(s)
	}
	return math.Sqrt(vecmath.DotProduct(v, v) / float64(len(v)))
}

// Simulated interface behavior: per-channel delays in samples and gain
// offsets in dB.
var (
	SimulatedDelays  = [4]int{240, 260, 250, 255}
	SimulatedGainsDB = [4]float64{0.0, -0.1, 0.2, -0.05}
)

// NewSimulatedDevice returns a four-input loopback whose inputs are a
// plain wire with SimulatedDelays and SimulatedGainsDB applied.
func NewSimulatedDevice(sampleRate int) *measure.SimulatedLoopback {
	rooms := make([][]float32, 4)
	for i := range rooms {
		rooms[i] = []float32{1}
	}
	dev := measure.NewSimulatedLoopback(sampleRate, rooms)
	dev.LatencySamples = append([]int(nil), SimulatedDelays[:]...)
	dev.GainsDB = append([]float64(nil), SimulatedGainsDB[:]...)
	return dev
}
