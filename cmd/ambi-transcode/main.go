package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/calib"
	"github.com/athompson36/ambi-glass-sub000/internal/numeric"
	"github.com/athompson36/ambi-glass-sub000/layout"
	"github.com/athompson36/ambi-glass-sub000/preset"
	"github.com/athompson36/ambi-glass-sub000/transcode"
)

func main() {
	layoutNames := make([]string, 0, 5)
	for _, l := range layout.All() {
		layoutNames = append(layoutNames, l.String())
	}

	layoutFlag := flag.String("layout", "ambix", "Output layout: "+strings.Join(layoutNames, ", ")+" or all")
	outDir := flag.String("out-dir", ".", "Directory for <Layout>_<unix>.wav outputs")
	output := flag.String("output", "", "Explicit output path (single layout only)")
	presetPath := flag.String("preset", "", "Mic profile JSON (matrix, ordering, orientation, capsule trims)")
	profileDir := flag.String("profile-dir", "", "Calibration profile directory; the latest profile's gains are applied")
	yaw := flag.Float64("yaw", 0, "Yaw in degrees (overrides preset)")
	pitch := flag.Float64("pitch", 0, "Pitch in degrees (overrides preset)")
	roll := flag.Float64("roll", 0, "Roll in degrees (overrides preset)")
	chunkRaw := flag.String("chunk-frames", "auto", "Frames per chunk, or 'auto'")
	flushEvery := flag.Int("flush-every", transcode.DefaultFlushEvery, "Flush output every N chunks")
	maxBufferMB := flag.Int64("max-buffer-mb", transcode.DefaultMaxBufferBytes>>20, "Memory limit for inputs that cannot be streamed (MiB)")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: ambi-transcode [flags] capsule-1.wav capsule-2.wav capsule-3.wav capsule-4.wav\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	logger := newLogger(*verbose)

	inputs, err := transcode.OrderCapsuleFiles(flag.Args())
	if err != nil {
		die("capsule files: %v", err)
	}
	chunkFrames, err := numeric.ParseFrames(*chunkRaw, transcode.DefaultChunkFrames)
	if err != nil {
		die("invalid -chunk-frames: %v", err)
	}

	layouts := layout.All()
	if !strings.EqualFold(*layoutFlag, "all") {
		l, err := layout.Parse(*layoutFlag)
		if err != nil {
			die("%v", err)
		}
		layouts = []layout.Layout{l}
	}
	if *output != "" && len(layouts) > 1 {
		die("-output needs a single -layout")
	}

	cfg := ambisonic.DefaultConfig()
	if *presetPath != "" {
		profile, err := preset.LoadJSON(*presetPath)
		if err != nil {
			die("preset: %v", err)
		}
		cfg = profile.Config()
		fmt.Printf("Mic profile: %s (%s)\n", profile.Name, profile.Ordering)
	}
	if *yaw != 0 || *pitch != 0 || *roll != 0 {
		cfg.Orientation = ambisonic.OrientationDegrees(*yaw, *pitch, *roll)
	}
	if *profileDir != "" {
		p, ok, err := calib.NewFileStore(*profileDir).LatestAny()
		if err != nil {
			die("calibration profiles: %v", err)
		}
		if ok {
			calib.ApplyProfile(p, &cfg.Gains)
			fmt.Printf("Interface profile: %s (latency %.2f ms)\n", p.ID(), p.LatencyMs)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	now := time.Now()
	for _, l := range layouts {
		out := *output
		if out == "" {
			out = transcode.OutputPath(*outDir, l, now)
		}
		job := transcode.NewJob(inputs, out, l)
		job.Encoder = cfg
		job.ChunkFrames = chunkFrames
		job.FlushEvery = *flushEvery
		job.MaxBufferBytes = *maxBufferMB << 20
		job.Logger = logger

		sum, err := transcode.Run(ctx, job, printProgress(l))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			die("%s export failed: %v", l, err)
		}
		printSummary(os.Stdout, sum)
	}
}

func printSummary(w io.Writer, sum transcode.Summary) {
	fmt.Fprintf(w, "Wrote %s\n", sum.Output)
	fmt.Fprintf(w, "Layout: %s, Channels: %d, SampleRate: %d Hz, Frames: %d (%.2f s), Chunks: %d, Elapsed: %s\n",
		sum.Layout, sum.Channels, sum.SampleRate, sum.Frames,
		float64(sum.Frames)/float64(sum.SampleRate), sum.Chunks, sum.Elapsed.Round(time.Millisecond))
	if sum.Clamped {
		fmt.Fprintf(w, "Warning: header size fields were clamped at the WAV 4 GiB limit; all samples were written\n")
	}
}

func printProgress(l layout.Layout) transcode.ProgressFunc {
	return func(p transcode.Progress) {
		fmt.Fprintf(os.Stderr, "\r[%s] %3.0f%% %-40s", l, p.Fraction*100, p.Phase)
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
