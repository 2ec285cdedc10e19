package capture

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/audioload"
	"github.com/athompson36/ambi-glass-sub000/wavstream"
)

// FileCapture replays recorded A-format audio as if it were arriving from
// an interface: either one multichannel file, decoded up front, or one
// mono file per channel, streamed.
type FileCapture struct {
	rate     int
	channels int
	block    int

	clip    *audioload.Clip
	readers []*wavstream.Reader
}

// NewFileCapture opens paths for replay in blocks of blockFrames. One path
// is read as a multichannel file; several paths are mono channels in
// order and must share a sample rate.
func NewFileCapture(blockFrames int, paths ...string) (*FileCapture, error) {
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}
	fc := &FileCapture{block: blockFrames}
	switch len(paths) {
	case 0:
		return nil, fmt.Errorf("%w: no capture files", audioerr.ErrChannelCount)
	case 1:
		clip, err := audioload.Load(paths[0])
		if err != nil {
			return nil, err
		}
		fc.clip = clip
		fc.rate = clip.SampleRate
		fc.channels = clip.Channels
		return fc, nil
	}
	for i, p := range paths {
		r, err := wavstream.Open(p)
		if err != nil {
			fc.Close()
			return nil, err
		}
		fc.readers = append(fc.readers, r)
		if i == 0 {
			fc.rate = r.SampleRate()
		} else if r.SampleRate() != fc.rate {
			fc.Close()
			return nil, fmt.Errorf("%w: %s is %d Hz, expected %d Hz", audioerr.ErrSampleRateMismatch, p, r.SampleRate(), fc.rate)
		}
	}
	fc.channels = len(paths)
	return fc, nil
}

func (f *FileCapture) SampleRate() int { return f.rate }
func (f *FileCapture) Channels() int   { return f.channels }

// Start replays the files once. It closes the underlying readers.
func (f *FileCapture) Start(ctx context.Context, out chan<- Buffer) error {
	defer close(out)
	defer f.Close()
	if f.clip != nil {
		return f.replayClip(ctx, out)
	}
	return f.replayReaders(ctx, out)
}

func (f *FileCapture) replayClip(ctx context.Context, out chan<- Buffer) error {
	step := f.block * f.channels
	var seq uint64
	for pos := 0; pos < len(f.clip.Samples); pos += step {
		end := min(pos+step, len(f.clip.Samples))
		buf := Buffer{Interleaved: f.clip.Samples[pos:end:end], Channels: f.channels, Seq: seq}
		if err := send(ctx, out, buf); err != nil {
			return err
		}
		seq++
	}
	return nil
}

func (f *FileCapture) replayReaders(ctx context.Context, out chan<- Buffer) error {
	chunks := make([][]float32, f.channels)
	for i := range chunks {
		chunks[i] = make([]float32, f.block)
	}
	var seq uint64
	for {
		n := f.block
		for i, r := range f.readers {
			got, err := r.ReadChunkInto(chunks[i])
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			n = min(n, got)
		}
		if n == 0 {
			return nil
		}
		buf := Buffer{Interleaved: make([]float32, n*f.channels), Channels: f.channels, Seq: seq}
		for c, ch := range chunks {
			for i := 0; i < n; i++ {
				buf.Interleaved[i*f.channels+c] = ch[i]
			}
		}
		if err := send(ctx, out, buf); err != nil {
			return err
		}
		seq++
	}
}

// Close releases any open readers. It is safe to call more than once.
func (f *FileCapture) Close() error {
	var errs []error
	for _, r := range f.readers {
		errs = append(errs, r.Close())
	}
	return errors.Join(errs...)
}
