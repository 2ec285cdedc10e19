package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"github.com/athompson36/ambi-glass-sub000/irsynth"
	"github.com/athompson36/ambi-glass-sub000/measure"
)

func main() {
	cfg := irsynth.DefaultConfig()

	output := flag.String("output", "out/room_aformat.wav", "Output WAV path")
	channels := flag.Int("channels", 4, "Number of capsule IRs")
	bits := flag.Int("bits", 0, "Write 16/24/32-bit PCM instead of float32")
	flag.IntVar(&cfg.SampleRate, "sample-rate", cfg.SampleRate, "Output sample rate")
	flag.Float64Var(&cfg.DurationS, "duration", cfg.DurationS, "IR length in seconds")
	flag.IntVar(&cfg.Modes, "modes", cfg.Modes, "Number of damped room modes")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed")
	flag.Float64Var(&cfg.Brightness, "brightness", cfg.Brightness, "Spectral brightness control (>0)")
	flag.Float64Var(&cfg.Spread, "spread", cfg.Spread, "Inter-capsule tail decorrelation (0-1)")
	flag.Float64Var(&cfg.DirectDelayS, "direct-delay", cfg.DirectDelayS, "Direct path delay (s)")
	flag.Float64Var(&cfg.DirectLevel, "direct", cfg.DirectLevel, "Direct impulse level")
	flag.IntVar(&cfg.EarlyCount, "early", cfg.EarlyCount, "Number of early reflections")
	flag.Float64Var(&cfg.LateLevel, "late", cfg.LateLevel, "Diffuse late-tail level")
	flag.Float64Var(&cfg.LowDecayS, "low-decay", cfg.LowDecayS, "Low-frequency decay time (s)")
	flag.Float64Var(&cfg.HighDecayS, "high-decay", cfg.HighDecayS, "High-frequency decay time (s)")
	flag.Float64Var(&cfg.NormalizePeak, "normalize", cfg.NormalizePeak, "Peak normalization target")
	flag.Parse()

	irs, err := irsynth.Generate(cfg, *channels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ir-synth error: %v\n", err)
		os.Exit(1)
	}

	if err := write(*output, irs, cfg.SampleRate, *bits); err != nil {
		fmt.Fprintf(os.Stderr, "wav write error: %v\n", err)
		os.Exit(1)
	}

	peak, rms := stats(irs)
	fmt.Printf("Wrote %s\n", *output)
	fmt.Printf("SampleRate: %d Hz, Duration: %.3f s, Channels: %d, Samples: %d\n", cfg.SampleRate, cfg.DurationS, len(irs), len(irs[0]))
	fmt.Printf("Peak: %.6f, RMS: %.6f\n", peak, rms)
}

func write(path string, irs [][]float32, sampleRate, bits int) error {
	if bits != 0 {
		return measure.ExportPCM(path, irs, sampleRate, bits)
	}
	switch len(irs) {
	case 1:
		return measure.ExportMono(path, irs[0], sampleRate)
	case 2:
		return measure.ExportStereo(path, irs[0], irs[1], sampleRate)
	case 4:
		return measure.ExportAFormat(path, irs, sampleRate)
	default:
		return measure.ExportPCM(path, irs, sampleRate, 32)
	}
}

func stats(irs [][]float32) (peak float64, rms float64) {
	var sum float64
	n := 0
	for _, ch := range irs {
		for _, v := range ch {
			a := math.Abs(float64(v))
			if a > peak {
				peak = a
			}
			sum += float64(v) * float64(v)
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return peak, math.Sqrt(sum / float64(n))
}
