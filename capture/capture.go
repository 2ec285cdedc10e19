// Package capture feeds multichannel A-format audio from a capture source
// through the ambisonic encoder into WAV files.
package capture

import (
	"context"
	"fmt"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
)

// Buffer is one block of interleaved samples. Seq counts up from 0 without
// gaps for the lifetime of a capture.
type Buffer struct {
	Interleaved []float32
	Channels    int
	Seq         uint64
}

// Frames returns the number of sample frames in b.
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Interleaved) / b.Channels
}

// AudioCapture produces buffers until it runs out of input or ctx is done.
// Start closes out before it returns.
type AudioCapture interface {
	SampleRate() int
	Channels() int
	Start(ctx context.Context, out chan<- Buffer) error
}

// DefaultBlockFrames is the block size used when none is given.
const DefaultBlockFrames = 1024

// SliceCapture replays planar in-memory channels in fixed-size blocks.
type SliceCapture struct {
	Rate        int
	Data        [][]float32
	BlockFrames int
}

func (s *SliceCapture) SampleRate() int { return s.Rate }
func (s *SliceCapture) Channels() int   { return len(s.Data) }

func (s *SliceCapture) Start(ctx context.Context, out chan<- Buffer) error {
	defer close(out)
	if len(s.Data) == 0 {
		return fmt.Errorf("%w: capture has no channels", audioerr.ErrChannelCount)
	}
	frames := len(s.Data[0])
	for c, ch := range s.Data {
		if len(ch) != frames {
			return fmt.Errorf("%w: channel %d has %d frames, channel 0 has %d", audioerr.ErrInvalidLayout, c, len(ch), frames)
		}
	}
	block := s.BlockFrames
	if block <= 0 {
		block = DefaultBlockFrames
	}
	var seq uint64
	for pos := 0; pos < frames; pos += block {
		n := min(block, frames-pos)
		buf := Buffer{Interleaved: make([]float32, n*len(s.Data)), Channels: len(s.Data), Seq: seq}
		for c, ch := range s.Data {
			for i := 0; i < n; i++ {
				buf.Interleaved[i*len(s.Data)+c] = ch[pos+i]
			}
		}
		if err := send(ctx, out, buf); err != nil {
			return err
		}
		seq++
	}
	return nil
}

func send(ctx context.Context, out chan<- Buffer, b Buffer) error {
	select {
	case out <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
