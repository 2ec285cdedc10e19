package wavstream

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/go-audio/riff"
)

const (
	headerSize = 44

	// riffOverhead is the part of the RIFF size field that is not sample data.
	riffOverhead = headerSize - 8

	// MaxDataBytes is the largest data chunk a 32-bit size field can describe
	// while keeping the RIFF size field in range.
	MaxDataBytes = math.MaxUint32 - riffOverhead
)

// Result describes a finalized file.
type Result struct {
	Path      string
	Frames    int64
	DataBytes int64
	// Clamped is set when the data exceeded the 32-bit size fields and the
	// header sizes were saturated.
	Clamped bool
}

// Writer streams interleaved float32 frames to a WAV file (format tag 3).
// The header is written with zero sizes on Create and patched by Finalize.
type Writer struct {
	path     string
	f        *os.File
	channels int
	rate     int

	bytesWritten int64
	maxData      int64
	scratch      []byte
	planar       []float32

	logger    *slog.Logger
	finalized bool
	result    Result
	finalErr  error
}

// Option adjusts a Writer at creation.
type Option func(*Writer)

// WithLogger routes writer warnings to l.
func WithLogger(l *slog.Logger) Option {
	return func(w *Writer) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMaxDataBytes lowers the data size at which Finalize saturates the
// header size fields.
func WithMaxDataBytes(n int64) Option {
	return func(w *Writer) {
		if n > 0 && n < w.maxData {
			w.maxData = n
		}
	}
}

// Create truncates path, writes the placeholder header and returns a writer
// positioned at the first sample.
func Create(path string, sampleRate, channels int, opts ...Option) (*Writer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be > 0, got %d", audioerr.ErrInvalidConfig, sampleRate)
	}
	if channels < 1 || channels > math.MaxUint16 {
		return nil, fmt.Errorf("%w: channel count %d out of range", audioerr.ErrInvalidConfig, channels)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, audioerr.IO("mkdir "+dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, audioerr.IO("create "+path, err)
	}
	w := &Writer{
		path:     path,
		f:        f,
		channels: channels,
		rate:     sampleRate,
		maxData:  MaxDataBytes,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.writeFull(w.header(0)); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) header(dataBytes uint32) []byte {
	le := binary.LittleEndian
	blockAlign := w.channels * 4
	h := make([]byte, headerSize)
	copy(h[0:], riff.RiffID[:])
	le.PutUint32(h[4:], dataBytes+riffOverhead)
	copy(h[8:], riff.WavFormatID[:])
	copy(h[12:], riff.FmtID[:])
	le.PutUint32(h[16:], 16)
	le.PutUint16(h[20:], FormatFloat)
	le.PutUint16(h[22:], uint16(w.channels))
	le.PutUint32(h[24:], uint32(w.rate))
	le.PutUint32(h[28:], uint32(w.rate*blockAlign))
	le.PutUint16(h[32:], uint16(blockAlign))
	le.PutUint16(h[34:], 32)
	copy(h[36:], riff.DataFormatID[:])
	le.PutUint32(h[40:], dataBytes)
	return h
}

// Path returns the output path.
func (w *Writer) Path() string { return w.path }

// Channels returns the interleaved channel count.
func (w *Writer) Channels() int { return w.channels }

// SampleRate returns the header sample rate.
func (w *Writer) SampleRate() int { return w.rate }

// Frames returns the number of whole frames written so far.
func (w *Writer) Frames() int64 { return w.bytesWritten / int64(w.channels*4) }

// BytesWritten returns the number of sample data bytes written so far.
func (w *Writer) BytesWritten() int64 { return w.bytesWritten }

// WriteInterleaved appends frames. len(samples) must be a multiple of the
// channel count.
func (w *Writer) WriteInterleaved(samples []float32) error {
	if w.finalized {
		return fmt.Errorf("%w: write after finalize", audioerr.ErrIO)
	}
	if len(samples)%w.channels != 0 {
		return fmt.Errorf("%w: %d samples is not a multiple of %d channels", audioerr.ErrInvalidLayout, len(samples), w.channels)
	}
	if len(samples) == 0 {
		return nil
	}
	need := len(samples) * 4
	if cap(w.scratch) < need {
		w.scratch = make([]byte, need)
	}
	buf := w.scratch[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	if err := w.writeFull(buf); err != nil {
		return err
	}
	w.bytesWritten += int64(need)
	return nil
}

// WritePlanar interleaves equal-length channel slices and appends them.
func (w *Writer) WritePlanar(channels [][]float32) error {
	if len(channels) != w.channels {
		return fmt.Errorf("%w: got %d channels, writer has %d", audioerr.ErrInvalidLayout, len(channels), w.channels)
	}
	frames := len(channels[0])
	for c, ch := range channels {
		if len(ch) != frames {
			return fmt.Errorf("%w: channel %d has %d frames, want %d", audioerr.ErrInvalidLayout, c, len(ch), frames)
		}
	}
	need := frames * w.channels
	if cap(w.planar) < need {
		w.planar = make([]float32, need)
	}
	buf := w.planar[:need]
	for i := 0; i < frames; i++ {
		for c := range channels {
			buf[i*w.channels+c] = channels[c][i]
		}
	}
	return w.WriteInterleaved(buf)
}

// writeFull writes b, retrying a short write once before failing.
func (w *Writer) writeFull(b []byte) error {
	n, err := w.f.Write(b)
	if err == nil && n == len(b) {
		return nil
	}
	if n < len(b) {
		m, rerr := w.f.Write(b[n:])
		if rerr == nil && n+m == len(b) {
			return nil
		}
		if rerr != nil {
			err = rerr
		}
	}
	if err == nil {
		err = fmt.Errorf("short write to %s", w.path)
	}
	return audioerr.IO("write "+w.path, err)
}

// Flush commits written data to stable storage.
func (w *Writer) Flush() error {
	if w.finalized {
		return nil
	}
	if err := w.f.Sync(); err != nil {
		return audioerr.IO("sync "+w.path, err)
	}
	return nil
}

// Finalize patches the RIFF and data sizes, syncs and closes the file.
// Calling it again returns the first result and error without touching the
// file.
func (w *Writer) Finalize() (Result, error) {
	if w.finalized {
		return w.result, w.finalErr
	}
	w.finalized = true
	w.result, w.finalErr = w.finalize()
	return w.result, w.finalErr
}

func (w *Writer) finalize() (Result, error) {
	res := Result{Path: w.path, Frames: w.Frames(), DataBytes: w.bytesWritten}
	data := w.bytesWritten
	if data > w.maxData {
		res.Clamped = true
		w.logger.Warn("wav data exceeds 32-bit size fields; header sizes clamped",
			"path", w.path, "data_bytes", data, "max_bytes", w.maxData)
		data = w.maxData
	}

	var sz [4]byte
	binary.LittleEndian.PutUint32(sz[:], uint32(data+riffOverhead))
	if _, err := w.f.WriteAt(sz[:], 4); err != nil {
		w.f.Close()
		return res, audioerr.IO("patch riff size", err)
	}
	binary.LittleEndian.PutUint32(sz[:], uint32(data))
	if _, err := w.f.WriteAt(sz[:], 40); err != nil {
		w.f.Close()
		return res, audioerr.IO("patch data size", err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return res, audioerr.IO("sync "+w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return res, audioerr.IO("close "+w.path, err)
	}
	return res, nil
}

// Close finalizes the file if that has not happened yet.
func (w *Writer) Close() error {
	_, err := w.Finalize()
	return err
}
