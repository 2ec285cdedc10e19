package transcode

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/audioload"
	"github.com/athompson36/ambi-glass-sub000/wavstream"
)

// source yields mono capsule samples in chunks.
type source interface {
	SampleRate() int
	Frames() int64
	// Read fills dst and returns the frames written, or io.EOF when done.
	Read(dst []float32) (int, error)
	Close() error
}

type streamSource struct{ r *wavstream.Reader }

func (s streamSource) SampleRate() int                 { return s.r.SampleRate() }
func (s streamSource) Frames() int64                   { return s.r.TotalFrames() }
func (s streamSource) Read(dst []float32) (int, error) { return s.r.ReadChunkInto(dst) }
func (s streamSource) Close() error                    { return s.r.Close() }

// memorySource serves channel 0 of a fully decoded file.
type memorySource struct {
	samples []float32
	rate    int
	pos     int
}

func (m *memorySource) SampleRate() int { return m.rate }
func (m *memorySource) Frames() int64   { return int64(len(m.samples)) }
func (m *memorySource) Close() error    { return nil }

func (m *memorySource) Read(dst []float32) (int, error) {
	if m.pos >= len(m.samples) {
		return 0, io.EOF
	}
	n := copy(dst, m.samples[m.pos:])
	m.pos += n
	return n, nil
}

var defaultDecoders = audioload.DefaultRegistry()

func openStream(path string) (source, error) {
	r, err := wavstream.Open(path)
	if err != nil {
		return nil, err
	}
	return streamSource{r}, nil
}

// openDecoded decodes a compressed capsule whole and keeps its first
// channel. The header is sized against maxBytes before anything is decoded.
func openDecoded(path string, maxBytes int64, reg *audioload.Registry) (source, error) {
	info, err := reg.ReadInfo(path)
	if err != nil {
		return nil, err
	}
	if err := checkBufferSize(info.Channels, info.Frames, maxBytes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	clip, err := reg.Load(path)
	if err != nil {
		return nil, err
	}
	// Header lengths of compressed streams are estimates.
	if err := checkBufferSize(clip.Channels, int64(clip.Frames()), maxBytes); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	mono, err := clip.Channel(0)
	if err != nil {
		return nil, err
	}
	return &memorySource{samples: mono, rate: clip.SampleRate}, nil
}

// openSource streams WAV capsules. Only files that are not RIFF/WAVE at all
// fall back to the decoders; a WAV in an unsupported format is rejected.
func openSource(path string, maxBytes int64, reg *audioload.Registry) (source, error) {
	src, err := openStream(path)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, wavstream.ErrNotWAVE) {
		return nil, err
	}
	if reg == nil {
		reg = defaultDecoders
	}
	return openDecoded(path, maxBytes, reg)
}

// checkBufferSize reports ErrFileTooLarge when channels x frames float32
// samples exceed maxBytes. maxBytes <= 0 means no limit.
func checkBufferSize(channels int, frames int64, maxBytes int64) error {
	if channels <= 0 || frames < 0 {
		return fmt.Errorf("%w: %d channels x %d frames", audioerr.ErrBufferAllocation, channels, frames)
	}
	if frames > 0 && int64(channels) > math.MaxInt64/4/frames {
		return fmt.Errorf("%w: %d channels x %d frames overflows", audioerr.ErrBufferAllocation, channels, frames)
	}
	need := int64(channels) * frames * 4
	if maxBytes > 0 && need > maxBytes {
		return fmt.Errorf("%w: need %d bytes, limit is %d", audioerr.ErrFileTooLarge, need, maxBytes)
	}
	if need > int64(math.MaxInt) {
		return fmt.Errorf("%w: %d bytes exceeds address space", audioerr.ErrBufferAllocation, need)
	}
	return nil
}

// AllocateBuffer returns channels zeroed slices of frames samples, or
// ErrFileTooLarge when they would exceed maxBytes. maxBytes <= 0 means no
// limit.
func AllocateBuffer(channels, frames int, maxBytes int64) ([][]float32, error) {
	if err := checkBufferSize(channels, int64(frames), maxBytes); err != nil {
		return nil, err
	}
	out := make([][]float32, channels)
	for i := range out {
		out[i] = make([]float32, frames)
	}
	return out, nil
}

func closeAll(srcs []source) error {
	var errs []error
	for _, s := range srcs {
		if s != nil {
			errs = append(errs, s.Close())
		}
	}
	return errors.Join(errs...)
}
