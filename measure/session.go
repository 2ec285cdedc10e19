// Package measure runs swept-sine impulse response measurements through a
// Loopback and exports the results.
package measure

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/dsp"
	"github.com/athompson36/ambi-glass-sub000/sweep"
	"golang.org/x/sync/errgroup"
)

// highpassOrder is the Butterworth order of the pre-deconvolution
// high-pass.
const highpassOrder = 2

// Config describes one measurement.
type Config struct {
	Sweep         sweep.Spec
	Window        sweep.Options
	OutputChannel int
	InputChannels []int
	// HighpassHz strips DC and rumble from recordings before
	// deconvolution; 0 disables it.
	HighpassHz float64
}

// DefaultConfig measures all four capsules from output 0 with the default
// sweep.
func DefaultConfig() Config {
	return Config{
		Sweep:         sweep.DefaultSpec(),
		Window:        sweep.DefaultOptions(),
		InputChannels: []int{0, 1, 2, 3},
	}
}

func (c *Config) Validate() error {
	if err := c.Sweep.Validate(); err != nil {
		return err
	}
	if len(c.InputChannels) == 0 {
		return fmt.Errorf("%w: no input channels selected", audioerr.ErrChannelCount)
	}
	if c.OutputChannel < 0 {
		return fmt.Errorf("%w: output channel must be >= 0", audioerr.ErrInvalidConfig)
	}
	if c.HighpassHz < 0 || c.HighpassHz >= float64(c.Sweep.SampleRate)/2 {
		return fmt.Errorf("%w: high-pass cutoff %.1f Hz out of range", audioerr.ErrInvalidConfig, c.HighpassHz)
	}
	return nil
}

// Result holds one impulse response per measured input.
type Result struct {
	IRs        [][]float32
	SampleRate int
	Channels   int
	// PeakOffsets is each IR's peak index inside its window.
	PeakOffsets []int
	// PeakIndices are the unwindowed peak positions. Every IR is
	// normalized and windowed on its own, so inter-channel timing is only
	// kept here.
	PeakIndices []int
}

// RelativeLags returns each channel's peak position relative to the first.
func (r *Result) RelativeLags() []int {
	lags := make([]int, len(r.PeakIndices))
	for i, p := range r.PeakIndices {
		lags[i] = p - r.PeakIndices[0]
	}
	return lags
}

// Frames returns the longest IR length.
func (r *Result) Frames() int {
	n := 0
	for _, ir := range r.IRs {
		n = max(n, len(ir))
	}
	return n
}

// Progress receives a completion fraction in [0, 1] and a status message.
type Progress func(fraction float64, message string)

// Session runs measurements on a Loopback.
type Session struct {
	Loopback Loopback
	Progress Progress
	Logger   *slog.Logger
}

func (s *Session) report(f float64, msg string) {
	if s.Progress != nil {
		s.Progress(f, msg)
	}
}

func (s *Session) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Run plays the sweep, records every selected input and deconvolves the
// recordings into impulse responses, up to GOMAXPROCS at a time.
func (s *Session) Run(ctx context.Context, cfg Config) (Result, error) {
	if s.Loopback == nil {
		return Result{}, fmt.Errorf("%w: session has no loopback", audioerr.ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}

	s.report(0, "Generating sweep…")
	exc, inv, err := sweep.Pair(cfg.Sweep)
	if err != nil {
		return Result{}, err
	}

	s.report(0.1, "Playing sweep…")
	recs, err := s.Loopback.PlayRecord(ctx, exc, cfg.OutputChannel, cfg.InputChannels)
	if err != nil {
		return Result{}, fmt.Errorf("play/record: %w", err)
	}
	if len(recs) != len(cfg.InputChannels) {
		return Result{}, fmt.Errorf("%w: loopback returned %d recordings for %d inputs", audioerr.ErrChannelCount, len(recs), len(cfg.InputChannels))
	}

	res := Result{
		IRs:         make([][]float32, len(recs)),
		SampleRate:  cfg.Sweep.SampleRate,
		Channels:    len(recs),
		PeakOffsets: make([]int, len(recs)),
		PeakIndices: make([]int, len(recs)),
	}
	var (
		mu   sync.Mutex
		done int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rec := range recs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if cfg.HighpassHz > 0 {
				hp, err := dsp.NewButterworthHighpass(cfg.HighpassHz, float64(cfg.Sweep.SampleRate), highpassOrder)
				if err != nil {
					return fmt.Errorf("%w: %v", audioerr.ErrInvalidConfig, err)
				}
				rec = append([]float32(nil), rec...)
				hp.ProcessBlock(rec)
			}
			d, err := sweep.DeconvolveWithOptions(rec, inv, cfg.Sweep.SampleRate, cfg.Window)
			if err != nil {
				return fmt.Errorf("input %d: %w", cfg.InputChannels[i], err)
			}
			res.IRs[i] = d.IR
			res.PeakOffsets[i] = d.PeakOffset()
			res.PeakIndices[i] = d.PeakIndex
			s.logger().Debug("deconvolved input", "input", cfg.InputChannels[i], "peak_index", d.PeakIndex, "ir_frames", len(d.IR))

			// Progress callbacks are serialized.
			mu.Lock()
			defer mu.Unlock()
			done++
			s.report(0.3+0.7*float64(done)/float64(len(recs)), fmt.Sprintf("Deconvolving channel %d/%d…", done, len(recs)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	s.report(1, "Complete!")
	return res, nil
}
