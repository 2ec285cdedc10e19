package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/analysis"
	"github.com/athompson36/ambi-glass-sub000/internal/audioload"
	"github.com/athompson36/ambi-glass-sub000/irsynth"
	"github.com/athompson36/ambi-glass-sub000/measure"
	"github.com/athompson36/ambi-glass-sub000/preset"
	"github.com/athompson36/ambi-glass-sub000/sweep"
)

func main() {
	spec := sweep.DefaultSpec()
	window := sweep.DefaultOptions()
	room := irsynth.DefaultConfig()

	mode := flag.String("mode", "simulate", "sweep | deconvolve | simulate")
	outDir := flag.String("out-dir", "out", "Output directory")
	flag.IntVar(&spec.SampleRate, "sample-rate", spec.SampleRate, "Sweep sample rate in Hz")
	flag.Float64Var(&spec.DurationS, "duration", spec.DurationS, "Sweep duration in seconds")
	flag.Float64Var(&spec.StartHz, "f0", spec.StartHz, "Sweep start frequency in Hz")
	flag.Float64Var(&spec.EndHz, "f1", spec.EndHz, "Sweep end frequency in Hz")
	flag.Float64Var(&window.PreS, "pre", window.PreS, "IR window before the peak (s)")
	flag.Float64Var(&window.PostS, "post", window.PostS, "IR window after the peak (s)")
	flag.Float64Var(&window.DecayS, "decay", window.DecayS, "Exponential tail fade time constant (s), 0 disables")
	recorded := flag.String("recorded", "", "Recorded sweep (deconvolve mode; wav, mp3 or ogg)")
	channel := flag.Int("channel", 0, "Channel of -recorded to deconvolve")
	bits := flag.Int("bits", 0, "Write IRs as 16/24/32-bit PCM instead of float32")
	highpass := flag.Float64("highpass", 20, "DC high-pass cutoff in Hz before deconvolution (simulate mode), 0 disables")
	presetPath := flag.String("preset", "", "Mic profile JSON used for the FOA export")
	flag.Float64Var(&room.DurationS, "room-duration", room.DurationS, "Synthetic room IR length (s)")
	flag.Int64Var(&room.Seed, "seed", room.Seed, "Synthetic room seed")
	flag.Float64Var(&room.LowDecayS, "low-decay", room.LowDecayS, "Synthetic room low-frequency decay (s)")
	flag.Float64Var(&room.HighDecayS, "high-decay", room.HighDecayS, "Synthetic room high-frequency decay (s)")
	flag.Float64Var(&room.Spread, "spread", room.Spread, "Inter-capsule tail decorrelation (0-1)")
	noise := flag.Float64("noise", 0, "Simulated noise floor RMS")
	jsonOut := flag.Bool("json", false, "Print metrics as JSON")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logger := newLogger(*verbose)

	switch *mode {
	case "sweep":
		runSweep(spec, *outDir)
	case "deconvolve":
		if *recorded == "" {
			die("-recorded is required in deconvolve mode")
		}
		runDeconvolve(spec, window, *recorded, *channel, *outDir, *bits, *jsonOut)
	case "simulate":
		room.SampleRate = spec.SampleRate
		cfg := measure.DefaultConfig()
		cfg.Sweep = spec
		cfg.Window = window
		cfg.HighpassHz = *highpass
		runSimulate(cfg, room, *noise, *presetPath, *outDir, *bits, *jsonOut, logger)
	default:
		die("unknown -mode %q", *mode)
	}
}

func runSweep(spec sweep.Spec, outDir string) {
	exc, inv, err := sweep.Pair(spec)
	if err != nil {
		die("sweep: %v", err)
	}
	sweepPath := filepath.Join(outDir, "sweep.wav")
	invPath := filepath.Join(outDir, "inverse.wav")
	if err := measure.ExportMono(sweepPath, exc, spec.SampleRate); err != nil {
		die("write sweep: %v", err)
	}
	if err := measure.ExportMono(invPath, inv, spec.SampleRate); err != nil {
		die("write inverse: %v", err)
	}
	fmt.Printf("Wrote %s and %s\n", sweepPath, invPath)
	fmt.Printf("SampleRate: %d Hz, Duration: %.3f s, Sweep: %.1f-%.1f Hz, Samples: %d\n",
		spec.SampleRate, spec.DurationS, spec.StartHz, spec.EndHz, len(exc))
}

func runDeconvolve(spec sweep.Spec, window sweep.Options, recordedPath string, channel int, outDir string, bits int, jsonOut bool) {
	rec, sr, err := audioload.LoadChannel(recordedPath, channel)
	if err != nil {
		die("failed to read recording: %v", err)
	}
	rec, err = audioload.ResampleIfNeeded(rec, sr, spec.SampleRate)
	if err != nil {
		die("failed to resample recording: %v", err)
	}
	_, inv, err := sweep.Pair(spec)
	if err != nil {
		die("sweep: %v", err)
	}
	res, err := sweep.DeconvolveWithOptions(rec, inv, spec.SampleRate, window)
	if err != nil {
		die("deconvolve: %v", err)
	}
	path := filepath.Join(outDir, "ir.wav")
	if err := writeIRs(path, [][]float32{res.IR}, spec.SampleRate, bits); err != nil {
		die("write IR: %v", err)
	}
	m, err := analysis.IRMetrics(res.IR, spec.SampleRate)
	if err != nil {
		die("metrics: %v", err)
	}
	if jsonOut {
		printJSON(map[string]any{"output": path, "peak_index": res.PeakIndex, "metrics": m})
		return
	}
	fmt.Printf("Wrote %s (%d samples, peak at %d in recording)\n", path, len(res.IR), res.PeakIndex)
	printMetrics("IR", m)
}

func runSimulate(cfg measure.Config, room irsynth.Config, noise float64, presetPath, outDir string, bits int, jsonOut bool, logger *slog.Logger) {
	lb, err := measure.NewSimulatedRoom(room, 4)
	if err != nil {
		die("room: %v", err)
	}
	lb.NoiseLevel = noise

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := &measure.Session{
		Loopback: lb,
		Logger:   logger,
		Progress: func(f float64, msg string) {
			if !jsonOut {
				fmt.Fprintf(os.Stderr, "\r%3.0f%% %-36s", f*100, msg)
			}
		},
	}
	res, err := s.Run(ctx, cfg)
	if !jsonOut {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		die("measurement failed: %v", err)
	}

	aPath := filepath.Join(outDir, "ir_aformat.wav")
	if err := writeIRs(aPath, res.IRs, res.SampleRate, bits); err != nil {
		die("write A-format IR: %v", err)
	}
	enc := ambisonic.DefaultConfig()
	if presetPath != "" {
		p, err := preset.LoadJSON(presetPath)
		if err != nil {
			die("preset: %v", err)
		}
		enc = p.Config()
	}
	foaPath := filepath.Join(outDir, "ir_foa.wav")
	if err := measure.ExportFOA(foaPath, res.IRs, res.SampleRate, enc); err != nil {
		die("write FOA IR: %v", err)
	}

	metrics := make([]analysis.Metrics, len(res.IRs))
	scores := make([]analysis.Comparison, len(res.IRs))
	for i, ir := range res.IRs {
		if metrics[i], err = analysis.IRMetrics(ir, res.SampleRate); err != nil {
			die("metrics channel %d: %v", i, err)
		}
		if scores[i], err = analysis.Compare(lb.Rooms[i], ir, res.SampleRate); err != nil {
			die("compare channel %d: %v", i, err)
		}
	}
	lags, err := analysis.ChannelLags(res.IRs)
	if err != nil {
		die("channel lags: %v", err)
	}

	if jsonOut {
		printJSON(map[string]any{
			"aformat":       aPath,
			"foa":           foaPath,
			"metrics":       metrics,
			"vs_room":       scores,
			"peak_lags":     res.RelativeLags(),
			"xcorr_lags":    lags,
			"sample_rate":   res.SampleRate,
			"channel_count": res.Channels,
		})
		return
	}
	fmt.Printf("Wrote %s and %s\n", aPath, foaPath)
	for i, m := range metrics {
		printMetrics(fmt.Sprintf("Capsule %d", i+1), m)
		fmt.Printf("  vs room: lag=%d score=%.4f similarity=%.4f\n", scores[i].LagSamples, scores[i].Score, scores[i].Similarity)
	}
	fmt.Printf("Peak lags: %v  Cross-correlation lags: %v\n", res.RelativeLags(), lags)
}

func writeIRs(path string, irs [][]float32, sampleRate, bits int) error {
	if bits != 0 {
		return measure.ExportPCM(path, irs, sampleRate, bits)
	}
	switch len(irs) {
	case 1:
		return measure.ExportMono(path, irs[0], sampleRate)
	case 2:
		return measure.ExportStereo(path, irs[0], irs[1], sampleRate)
	default:
		return measure.ExportAFormat(path, irs, sampleRate)
	}
}

func printMetrics(label string, m analysis.Metrics) {
	fmt.Printf("%s: peak=%.4f @ %.2f ms, onset=%d, energy=%.1f dB, decay=%.1f dB/s, RT60=%.3f s, EDT=%.3f s, C80=%.1f dB, noise=%.1f dB, PNR=%.1f dB\n",
		label, m.PeakValue, m.PeakTimeMs, m.OnsetIndex, m.EnergyDB, m.DecayDBPerS, m.RT60S, m.EDTS, m.C80DB, m.NoiseFloorDB, m.PeakToNoiseDB)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		die("json: %v", err)
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
