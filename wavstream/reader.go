// Package wavstream reads mono WAV files and writes multichannel float32 WAV
// files in bounded-size chunks.
package wavstream

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/go-audio/audio"
	"github.com/go-audio/riff"
)

// WAVE format tags understood by the reader.
const (
	FormatPCM        uint16 = 1
	FormatFloat      uint16 = 3
	FormatExtensible uint16 = 0xFFFE
)

const (
	readBufferSize = 64 << 10
	// maxFmtChunkSize bounds the fmt chunk read; WAVE_FORMAT_EXTENSIBLE
	// needs 40 bytes.
	maxFmtChunkSize = 64
)

// ErrNotWAVE marks files that are not RIFF/WAVE containers at all, as
// opposed to WAV files whose format is unsupported. It is always wrapped
// together with audioerr.ErrFormatUnsupported.
var ErrNotWAVE = errors.New("not a RIFF/WAVE container")

// Reader streams mono samples out of a WAV file in bounded chunks.
// Memory use is independent of file length.
type Reader struct {
	path string
	f    *os.File
	br   *bufio.Reader

	sampleRate  int
	bitDepth    int
	formatTag   uint16
	blockAlign  int
	totalFrames int64
	pos         int64

	raw    []byte
	closed bool
}

type fmtChunk struct {
	tag        uint16
	channels   int
	sampleRate int
	blockAlign int
	bits       int
}

// Open parses the RIFF header of path and positions the reader at the first
// sample of the data chunk. Chunks other than fmt and data are skipped.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audioerr.IO("open "+path, err)
	}
	r := &Reader{path: path, f: f, br: bufio.NewReaderSize(f, readBufferSize)}
	if err := r.parseHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseHeader() error {
	p := riff.New(r.br)
	if err := p.ParseHeaders(); err != nil {
		return fmt.Errorf("%w: %w: %s: %v", audioerr.ErrFormatUnsupported, ErrNotWAVE, r.path, err)
	}
	if p.Format != riff.WavFormatID {
		return fmt.Errorf("%w: %w: %s: form type %q", audioerr.ErrFormatUnsupported, ErrNotWAVE, r.path, p.Format[:])
	}

	var info *fmtChunk
	for {
		ch, err := p.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: %s: no data chunk", audioerr.ErrFormatUnsupported, r.path)
			}
			return audioerr.IO("read chunk header", err)
		}
		switch ch.ID {
		case riff.FmtID:
			if ch.Size < 0 || ch.Size > maxFmtChunkSize {
				return fmt.Errorf("%w: %s: fmt chunk of %d bytes", audioerr.ErrFormatUnsupported, r.path, ch.Size)
			}
			body := make([]byte, ch.Size)
			if _, err := io.ReadFull(ch, body); err != nil {
				return fmt.Errorf("%w: %s: truncated fmt chunk", audioerr.ErrFormatUnsupported, r.path)
			}
			fc, err := parseFmt(body)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", audioerr.ErrFormatUnsupported, r.path, err)
			}
			info = fc
		case riff.DataFormatID:
			if info == nil {
				return fmt.Errorf("%w: %s: data chunk precedes fmt chunk", audioerr.ErrFormatUnsupported, r.path)
			}
			r.sampleRate = info.sampleRate
			r.bitDepth = info.bits
			r.formatTag = info.tag
			r.blockAlign = info.blockAlign
			r.totalFrames = int64(ch.Size / info.blockAlign)
			return nil
		default:
			ch.Drain()
		}
	}
}

func parseFmt(b []byte) (*fmtChunk, error) {
	if len(b) < 16 {
		return nil, fmt.Errorf("fmt chunk too short (%d bytes)", len(b))
	}
	le := binary.LittleEndian
	fc := &fmtChunk{
		tag:        le.Uint16(b[0:]),
		channels:   int(le.Uint16(b[2:])),
		sampleRate: int(le.Uint32(b[4:])),
		bits:       int(le.Uint16(b[14:])),
	}
	if fc.tag == FormatExtensible {
		// cbSize(2) validBits(2) channelMask(4) then the sub-format GUID whose
		// first two bytes carry the plain format tag.
		if len(b) < 26 {
			return nil, fmt.Errorf("extensible fmt chunk too short (%d bytes)", len(b))
		}
		fc.tag = le.Uint16(b[24:])
	}
	if fc.channels != 1 {
		return nil, fmt.Errorf("expected mono, got %d channels", fc.channels)
	}
	if fc.sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", fc.sampleRate)
	}
	switch fc.tag {
	case FormatPCM:
		if fc.bits != 16 && fc.bits != 24 && fc.bits != 32 {
			return nil, fmt.Errorf("unsupported PCM bit depth %d", fc.bits)
		}
	case FormatFloat:
		if fc.bits != 32 {
			return nil, fmt.Errorf("unsupported float bit depth %d", fc.bits)
		}
	default:
		return nil, fmt.Errorf("unsupported format tag 0x%04x", fc.tag)
	}
	fc.blockAlign = fc.bits / 8
	return fc, nil
}

// Path returns the file the reader was opened on.
func (r *Reader) Path() string { return r.path }

// SampleRate returns the stream rate in Hz.
func (r *Reader) SampleRate() int { return r.sampleRate }

// BitDepth returns the stored bits per sample.
func (r *Reader) BitDepth() int { return r.bitDepth }

// FormatTag returns FormatPCM or FormatFloat. Extensible files report their sub-format.
func (r *Reader) FormatTag() uint16 { return r.formatTag }

// TotalFrames returns the number of frames declared by the data chunk.
func (r *Reader) TotalFrames() int64 { return r.totalFrames }

// Position returns the number of frames already returned.
func (r *Reader) Position() int64 { return r.pos }

// Remaining returns the number of frames left before EOF.
func (r *Reader) Remaining() int64 { return r.totalFrames - r.pos }

// ReadChunk returns up to maxFrames samples in [-1, 1]. It returns fewer
// only when the data chunk ends, and an empty slice with io.EOF once the
// stream is exhausted.
func (r *Reader) ReadChunk(maxFrames int) ([]float32, error) {
	if maxFrames <= 0 {
		return []float32{}, nil
	}
	if rem := r.Remaining(); rem < int64(maxFrames) {
		maxFrames = int(max(rem, 0))
	}
	if maxFrames == 0 {
		return []float32{}, io.EOF
	}
	out := make([]float32, maxFrames)
	n, err := r.ReadChunkInto(out)
	return out[:n], err
}

// ReadChunkInto fills dst and returns the number of samples written.
func (r *Reader) ReadChunkInto(dst []float32) (int, error) {
	if r.closed {
		return 0, fmt.Errorf("%w: read on closed reader", audioerr.ErrIO)
	}
	rem := r.Remaining()
	if rem <= 0 {
		return 0, io.EOF
	}
	if len(dst) == 0 {
		return 0, nil
	}
	n := len(dst)
	if int64(n) > rem {
		n = int(rem)
	}

	need := n * r.blockAlign
	if cap(r.raw) < need {
		r.raw = make([]byte, need)
	}
	raw := r.raw[:need]
	got, err := io.ReadFull(r.br, raw)
	if err != nil {
		if !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return 0, audioerr.IO("read "+r.path, err)
		}
		// Data chunk shorter than declared: end the stream at the last whole frame.
		n = got / r.blockAlign
		r.totalFrames = r.pos + int64(n)
		if n == 0 {
			return 0, io.EOF
		}
	}

	r.decode(dst[:n], raw)
	r.pos += int64(n)
	return n, nil
}

func (r *Reader) decode(dst []float32, raw []byte) {
	le := binary.LittleEndian
	switch {
	case r.formatTag == FormatFloat:
		for i := range dst {
			dst[i] = math.Float32frombits(le.Uint32(raw[i*4:]))
		}
	case r.bitDepth == 16:
		for i := range dst {
			dst[i] = float32(int16(le.Uint16(raw[i*2:]))) / 32768
		}
	case r.bitDepth == 24:
		for i := range dst {
			dst[i] = float32(audio.Int24LETo32(raw[i*3:i*3+3])) / 8388608
		}
	case r.bitDepth == 32:
		for i := range dst {
			dst[i] = float32(float64(int32(le.Uint32(raw[i*4:]))) / 2147483648)
		}
	}
}

// Close releases the file handle. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.f.Close(); err != nil {
		return audioerr.IO("close "+r.path, err)
	}
	return nil
}
