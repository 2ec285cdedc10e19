package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/wavstream"
	"golang.org/x/sync/errgroup"
)

// DefaultQueueDepth is the number of buffers that may wait between the
// capture goroutine and the encoder.
const DefaultQueueDepth = 8

// Meter receives the absolute peak of every input channel for each
// buffer, before encoding.
type Meter func(seq uint64, peaks []float32)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Output receives the encoded AmbiX stream.
	Output string
	// RawOutput, when set, also receives the unprocessed input channels.
	RawOutput  string
	Encoder    ambisonic.Config
	QueueDepth int
	Meter      Meter
	Logger     *slog.Logger
}

// Stats summarizes a finished recording.
type Stats struct {
	Buffers uint64
	Frames  int64
	AmbiX   wavstream.Result
	Raw     *wavstream.Result
}

// Recorder encodes a live capture to disk. Encoder settings may be changed
// from any goroutine while recording; each buffer is encoded with one
// complete configuration.
type Recorder struct {
	cfg RecorderConfig
	enc *ambisonic.Encoder
	log *slog.Logger
}

func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Output == "" {
		return nil, fmt.Errorf("%w: recorder needs an output path", audioerr.ErrInvalidConfig)
	}
	if err := cfg.Encoder.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultQueueDepth
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{cfg: cfg, enc: ambisonic.NewEncoder(cfg.Encoder), log: log}, nil
}

// SetConfig replaces the encoder configuration from the next buffer on.
func (r *Recorder) SetConfig(cfg ambisonic.Config) { r.enc.SetConfig(cfg) }

// SetOrientation replaces only the orientation from the next buffer on.
func (r *Recorder) SetOrientation(o ambisonic.Orientation) { r.enc.SetOrientation(o) }

// Config returns the configuration the next buffer will use.
func (r *Recorder) Config() ambisonic.Config { return r.enc.Config() }

// Record runs c until it ends or ctx is cancelled. Cancelling ctx is the
// normal way to stop a live capture: queued buffers are still written, the
// files are finalized and Record returns a nil error.
func (r *Recorder) Record(ctx context.Context, c AudioCapture) (stats Stats, err error) {
	channels := c.Channels()
	if channels < 4 {
		return Stats{}, fmt.Errorf("%w: A-format capture needs 4 channels, got %d", audioerr.ErrChannelCount, channels)
	}
	rate := c.SampleRate()

	ambix, err := wavstream.Create(r.cfg.Output, rate, 4, wavstream.WithLogger(r.log))
	if err != nil {
		return Stats{}, err
	}
	defer ambix.Close()
	var raw *wavstream.Writer
	if r.cfg.RawOutput != "" {
		raw, err = wavstream.Create(r.cfg.RawOutput, rate, channels, wavstream.WithLogger(r.log))
		if err != nil {
			return Stats{}, err
		}
		defer raw.Close()
	}

	queue := make(chan Buffer, r.cfg.QueueDepth)
	g, gctx := errgroup.WithContext(ctx)
	pctx, stop := context.WithCancel(gctx)
	defer stop()
	g.Go(func() error {
		// Errors caused by stopping the capture are not failures.
		if err := c.Start(pctx, queue); err != nil && pctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return r.consume(queue, channels, ambix, raw, &stats, stop)
	})
	runErr := g.Wait()
	if ctx.Err() != nil {
		r.log.Info("capture stopped", "buffers", stats.Buffers, "frames", stats.Frames)
	}

	res, err := ambix.Finalize()
	if err != nil {
		return stats, errors.Join(runErr, err)
	}
	stats.AmbiX = res
	if raw != nil {
		rawRes, err := raw.Finalize()
		if err != nil {
			return stats, errors.Join(runErr, err)
		}
		stats.Raw = &rawRes
	}
	return stats, runErr
}

// consume drains the queue until the producer closes it. After an error it
// stops the producer and keeps draining so it never blocks on a full queue.
func (r *Recorder) consume(queue <-chan Buffer, channels int, ambix, raw *wavstream.Writer, stats *Stats, stop context.CancelFunc) error {
	var firstErr error
	var b ambisonic.BFormat
	peaks := make([]float32, channels)
	for buf := range queue {
		if firstErr != nil {
			continue
		}
		if err := r.write(buf, channels, &b, peaks, ambix, raw, stats); err != nil {
			firstErr = err
			stop()
		}
	}
	return firstErr
}

func (r *Recorder) write(buf Buffer, channels int, b *ambisonic.BFormat, peaks []float32, ambix, raw *wavstream.Writer, stats *Stats) error {
	if buf.Seq != stats.Buffers {
		return fmt.Errorf("%w: buffer %d arrived, expected %d", audioerr.ErrInvalidLayout, buf.Seq, stats.Buffers)
	}
	if buf.Channels != channels {
		return fmt.Errorf("%w: buffer %d has %d channels, capture has %d", audioerr.ErrChannelCount, buf.Seq, buf.Channels, channels)
	}
	n := buf.Frames()
	if b.Frames() < n {
		*b = ambisonic.NewBFormat(n)
	}
	var dst ambisonic.BFormat
	for i := range dst {
		dst[i] = b[i][:n]
	}
	if _, err := ambisonic.EncodeInterleaved(dst, buf.Interleaved, channels, r.enc.Config()); err != nil {
		return err
	}
	if r.cfg.Meter != nil {
		clear(peaks)
		for i, v := range buf.Interleaved {
			c := i % channels
			peaks[c] = max(peaks[c], abs32(v))
		}
		r.cfg.Meter(buf.Seq, peaks)
	}
	if err := ambix.WritePlanar(dst[:]); err != nil {
		return err
	}
	if raw != nil {
		if err := raw.WriteInterleaved(buf.Interleaved); err != nil {
			return err
		}
	}
	stats.Buffers++
	stats.Frames += int64(n)
	return nil
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
