package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/athompson36/ambi-glass-sub000/calib"
	"github.com/athompson36/ambi-glass-sub000/internal/audioload"
	"github.com/athompson36/ambi-glass-sub000/preset"
)

func main() {
	cfg := calib.DefaultLoopbackConfig()

	storeDir := flag.String("store", "profiles", "Profile store directory")
	list := flag.Bool("list", false, "List stored interface profiles and exit")
	latest := flag.Bool("latest", false, "Print the latest profile for -device/-sample-rate/-buffer and exit")
	flag.StringVar(&cfg.DeviceID, "device", cfg.DeviceID, "Device id recorded in the profile")
	flag.IntVar(&cfg.Sweep.SampleRate, "sample-rate", cfg.Sweep.SampleRate, "Sample rate in Hz")
	flag.IntVar(&cfg.BufferFrames, "buffer", cfg.BufferFrames, "I/O buffer size in frames")
	flag.Float64Var(&cfg.Sweep.DurationS, "duration", cfg.Sweep.DurationS, "Calibration sweep duration in seconds")
	importMic := flag.String("import-mic", "", "Store the mic profile JSON at this path and exit")
	reference := flag.String("reference", "", "Reference microphone recording for capsule calibration (wav, mp3 or ogg)")
	capsules := flag.String("capsules", "", "Comma-separated capsule recordings, in capsule order")
	calName := flag.String("name", "mic", "Base name for calibration curve files")
	jsonOut := flag.Bool("json", false, "Print results as JSON")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	logger := newLogger(*verbose)
	cfg.Logger = logger
	store := calib.NewFileStore(*storeDir)

	switch {
	case *list:
		profiles, err := store.List()
		if err != nil {
			die("list profiles: %v", err)
		}
		if *jsonOut {
			printJSON(profiles)
			return
		}
		for _, p := range profiles {
			printProfile(p)
		}
	case *latest:
		p, ok, err := store.Latest(cfg.DeviceID, cfg.Sweep.SampleRate, cfg.BufferFrames)
		if err != nil {
			die("latest profile: %v", err)
		}
		if !ok {
			die("no profile for %s at %d Hz / %d frames", cfg.DeviceID, cfg.Sweep.SampleRate, cfg.BufferFrames)
		}
		if *jsonOut {
			printJSON(p)
			return
		}
		printProfile(p)
	case *importMic != "":
		p, err := preset.LoadJSON(*importMic)
		if err != nil {
			die("mic profile: %v", err)
		}
		if err := store.SaveMicProfile(*p); err != nil {
			die("store mic profile: %v", err)
		}
		fmt.Printf("Stored mic profile %q in %s\n", p.Name, store.Dir())
	case *reference != "":
		runMicCalibration(*reference, *capsules, *calName, store.Dir(), *jsonOut)
	default:
		runLoopback(cfg, store, *jsonOut)
	}
}

func runLoopback(cfg calib.LoopbackConfig, store *calib.FileStore, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Device I/O is not available here; calibrate the simulated interface.
	dev := calib.NewSimulatedDevice(cfg.Sweep.SampleRate)
	p, details, err := calib.RunDetailed(ctx, cfg, dev)
	if err != nil {
		die("calibration failed: %v", err)
	}
	if err := store.Save(p); err != nil {
		die("save profile: %v", err)
	}
	if jsonOut {
		printJSON(map[string]any{"profile": p, "id": p.ID(), "channels": details})
		return
	}
	printProfile(p)
	for _, d := range details {
		fmt.Printf("  input %d: lag=%d samples, gain=%+.3f dB, confidence=%.1f\n", d.Input, d.LagSamples, d.GainDB, d.Confidence)
	}
	fmt.Printf("Saved to %s\n", store.Dir())
}

func runMicCalibration(refPath, capsuleList, name, dir string, jsonOut bool) {
	if capsuleList == "" {
		die("-capsules is required with -reference")
	}
	paths := strings.Split(capsuleList, ",")
	ref, sr, err := audioload.LoadMono(refPath)
	if err != nil {
		die("reference: %v", err)
	}
	recs := make([][]float32, len(paths))
	for i, p := range paths {
		mono, capSR, err := audioload.LoadMono(strings.TrimSpace(p))
		if err != nil {
			die("capsule %d: %v", i+1, err)
		}
		if recs[i], err = audioload.ResampleIfNeeded(mono, capSR, sr); err != nil {
			die("capsule %d resample: %v", i+1, err)
		}
	}
	curves, err := calib.CapsuleCalibrations(ref, recs, sr)
	if err != nil {
		die("analysis: %v", err)
	}
	files, err := calib.SaveCapsuleCurves(dir, name, curves, time.Now())
	if err != nil {
		die("save curves: %v", err)
	}
	if jsonOut {
		printJSON(map[string]any{"files": files, "curves": curves})
		return
	}
	for i, c := range curves {
		fmt.Printf("Capsule %d: %d points, 100 Hz %+.2f dB, 1 kHz %+.2f dB, 10 kHz %+.2f dB\n",
			i+1, c.Len(), c.GainAt(100), c.GainAt(1000), c.GainAt(10000))
	}
	for _, f := range files {
		fmt.Printf("Wrote %s\n", f)
	}
}

func printProfile(p calib.Profile) {
	fmt.Printf("%s: latency %.3f ms, gains [%+.3f %+.3f %+.3f %+.3f] dB, created %s\n",
		p.ID(), p.LatencyMs, p.GainsDB[0], p.GainsDB[1], p.GainsDB[2], p.GainsDB[3], p.CreatedAt.Format(time.RFC3339))
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
