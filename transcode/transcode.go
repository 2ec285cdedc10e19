package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/audioload"
	"github.com/athompson36/ambi-glass-sub000/layout"
	"github.com/athompson36/ambi-glass-sub000/wavstream"
)

const (
	DefaultChunkFrames = 16384
	DefaultFlushEvery  = 500
	// DefaultMaxBufferBytes bounds the memory a fully decoded capsule may
	// take when it cannot be streamed.
	DefaultMaxBufferBytes int64 = 1 << 30

	logEvery = 1000
)

// Job describes one export of four capsule files.
type Job struct {
	// Inputs are the capsule files in capsule order 1-4.
	Inputs  [4]string
	Output  string
	Layout  layout.Layout
	Encoder ambisonic.Config

	ChunkFrames    int
	FlushEvery     int
	MaxBufferBytes int64
	Logger         *slog.Logger
	// Decoders open capsules that are not WAV files; nil uses the
	// default .mp3/.ogg registry.
	Decoders *audioload.Registry
}

// NewJob returns a job with default chunking and an identity encoder.
func NewJob(inputs [4]string, output string, l layout.Layout) Job {
	return Job{
		Inputs:         inputs,
		Output:         output,
		Layout:         l,
		Encoder:        ambisonic.DefaultConfig(),
		ChunkFrames:    DefaultChunkFrames,
		FlushEvery:     DefaultFlushEvery,
		MaxBufferBytes: DefaultMaxBufferBytes,
	}
}

// OutputPath joins dir with OutputName(l, t).
func OutputPath(dir string, l layout.Layout, t time.Time) string {
	return filepath.Join(dir, OutputName(l, t))
}

func (j *Job) Validate() error {
	for i, p := range j.Inputs {
		if p == "" {
			return fmt.Errorf("%w: capsule %d has no input file", audioerr.ErrInvalidConfig, i+1)
		}
	}
	if j.Output == "" {
		return fmt.Errorf("%w: no output path", audioerr.ErrInvalidConfig)
	}
	if j.Layout.Channels() == 0 {
		return fmt.Errorf("%w: unknown layout %d", audioerr.ErrInvalidConfig, int(j.Layout))
	}
	if j.ChunkFrames < 0 || j.FlushEvery < 0 {
		return fmt.Errorf("%w: chunk frames and flush interval must be >= 0", audioerr.ErrInvalidConfig)
	}
	return j.Encoder.Validate()
}

// Summary describes a finished export.
type Summary struct {
	Output     string
	Layout     layout.Layout
	SampleRate int
	Channels   int
	Frames     int64
	Chunks     int
	DataBytes  int64
	// Clamped is set when the header size fields were clamped at the WAV
	// 4 GiB limit. All samples are still written.
	Clamped bool
	Elapsed time.Duration
}

type runner struct {
	job      Job
	progress ProgressFunc
	log      *slog.Logger
	state    State
	fraction float64
}

func (r *runner) set(s State, fraction float64, phase string) {
	r.state = s
	r.fraction = fraction
	if r.progress != nil {
		r.progress(Progress{Fraction: fraction, Phase: phase, State: s})
	}
}

func (r *runner) fail(err error) error {
	r.set(Error, r.fraction, err.Error())
	r.log.Error("transcode failed", "output", r.job.Output, "err", err)
	return err
}

// Run streams the four inputs through the encoder and the layout decoder
// into job.Output. On cancellation the frames written so far are kept and
// the header is finalized before the context error is returned.
func Run(ctx context.Context, job Job, progress ProgressFunc) (Summary, error) {
	r := &runner{job: job, progress: progress, log: job.Logger}
	if r.log == nil {
		r.log = slog.Default()
	}
	if job.ChunkFrames == 0 {
		job.ChunkFrames = DefaultChunkFrames
	}
	if job.FlushEvery == 0 {
		job.FlushEvery = DefaultFlushEvery
	}
	if err := job.Validate(); err != nil {
		return Summary{}, r.fail(err)
	}
	sum, err := r.run(ctx, job)
	if err != nil {
		return sum, r.fail(err)
	}
	return sum, nil
}

func (r *runner) run(ctx context.Context, job Job) (sum Summary, err error) {
	start := time.Now()
	r.set(Loading, 0, "Loading…")

	srcs := make([]source, 4)
	defer func() {
		if cerr := closeAll(srcs); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for i, p := range job.Inputs {
		src, err := openSource(p, job.MaxBufferBytes, job.Decoders)
		if err != nil {
			return Summary{}, fmt.Errorf("capsule %d: %w", i+1, err)
		}
		srcs[i] = src
	}
	rate := srcs[0].SampleRate()
	frames := srcs[0].Frames()
	for i, s := range srcs[1:] {
		if s.SampleRate() != rate {
			return Summary{}, fmt.Errorf("%w: capsule %d is %d Hz, capsule 1 is %d Hz", audioerr.ErrSampleRateMismatch, i+2, s.SampleRate(), rate)
		}
		frames = min(frames, s.Frames())
	}
	if frames == 0 {
		return Summary{}, fmt.Errorf("%w: capsule files hold no audio", audioerr.ErrEmptyInput)
	}

	channels := job.Layout.Channels()
	w, err := wavstream.Create(job.Output, rate, channels, wavstream.WithLogger(r.log))
	if err != nil {
		return Summary{}, err
	}
	defer w.Close()

	chunk := int(min(int64(job.ChunkFrames), frames))
	var caps ambisonic.Capsules
	for i := range caps {
		caps[i] = make([]float32, chunk)
	}
	b := ambisonic.NewBFormat(chunk)
	out, err := AllocateBuffer(channels, chunk, 0)
	if err != nil {
		return Summary{}, err
	}
	enc := ambisonic.NewEncoder(job.Encoder)

	r.log.Info("transcode starting", "output", job.Output, "layout", job.Layout.String(),
		"sample_rate", rate, "frames", frames, "chunk_frames", chunk)

	totalS := float64(frames) / float64(rate)
	var processed int64
	chunks := 0
	var cancelErr error
	for processed < frames {
		if err := ctx.Err(); err != nil {
			cancelErr = fmt.Errorf("transcode cancelled after %d frames: %w", processed, err)
			break
		}
		want := int(min(int64(chunk), frames-processed))
		n, err := readLockstep(srcs, caps, want)
		if err != nil {
			return Summary{}, err
		}
		if n == 0 {
			// A data chunk ended early; keep what every capsule delivered.
			r.log.Warn("capsule input ended early", "frames", processed, "expected", frames)
			break
		}

		r.state = Encoding
		var src ambisonic.Capsules
		var dst ambisonic.BFormat
		for i := range src {
			src[i] = caps[i][:n]
			dst[i] = b[i][:n]
		}
		if err := enc.Process(dst, src); err != nil {
			return Summary{}, err
		}
		planar := make([][]float32, channels)
		for i := range planar {
			planar[i] = out[i][:n]
		}
		if err := layout.Decode(job.Layout, planar, dst); err != nil {
			return Summary{}, err
		}

		r.state = Writing
		if err := w.WritePlanar(planar); err != nil {
			return Summary{}, err
		}
		processed += int64(n)
		chunks++
		if chunks%job.FlushEvery == 0 {
			if err := w.Flush(); err != nil {
				return Summary{}, err
			}
		}
		if chunks%logEvery == 0 {
			r.log.Debug("transcode chunk", "chunks", chunks, "frames", processed)
		}
		doneS := float64(processed) / float64(rate)
		r.set(Writing, 0.95*float64(processed)/float64(frames), fmt.Sprintf("Processing… %.1f/%.1f s", doneS, totalS))
	}

	r.set(Finalizing, 0.98, "Finalizing…")
	res, err := w.Finalize()
	if err != nil {
		return Summary{}, err
	}
	sum = Summary{
		Output:     res.Path,
		Layout:     job.Layout,
		SampleRate: rate,
		Channels:   channels,
		Frames:     res.Frames,
		Chunks:     chunks,
		DataBytes:  res.DataBytes,
		Clamped:    res.Clamped,
		Elapsed:    time.Since(start),
	}
	if cancelErr != nil {
		return sum, cancelErr
	}
	r.log.Info("transcode complete", "output", res.Path, "frames", res.Frames, "chunks", chunks, "elapsed", sum.Elapsed)
	r.set(Complete, 1, "Complete!")
	return sum, nil
}

// readLockstep reads want frames from every source into caps and returns
// the frame count all of them delivered.
func readLockstep(srcs []source, caps ambisonic.Capsules, want int) (int, error) {
	n := want
	for i, s := range srcs {
		got, err := s.Read(caps[i][:want])
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("capsule %d: %w", i+1, err)
		}
		n = min(n, got)
	}
	return n, nil
}
