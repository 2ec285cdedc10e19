// Package audioload decodes whole audio files into memory. It backs the
// fallback open strategy of the transcoder and the reference-recording
// loaders used by calibration.
package audioload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/cwbudde/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Clip is a fully decoded file with interleaved samples in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames.
func (c *Clip) Frames() int {
	if c.Channels < 1 {
		return 0
	}
	return len(c.Samples) / c.Channels
}

// Bytes is the in-memory size of the decoded samples.
func (c *Clip) Bytes() int64 { return int64(len(c.Samples)) * 4 }

// Channel extracts one channel.
func (c *Clip) Channel(ch int) ([]float32, error) {
	if ch < 0 || ch >= c.Channels {
		return nil, fmt.Errorf("%w: channel %d of %d", audioerr.ErrChannelCount, ch, c.Channels)
	}
	n := c.Frames()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = c.Samples[i*c.Channels+ch]
	}
	return out, nil
}

// Mono averages all channels.
func (c *Clip) Mono() []float32 {
	n := c.Frames()
	out := make([]float32, n)
	if n == 0 {
		return out
	}
	inv := 1 / float32(c.Channels)
	for i := 0; i < n; i++ {
		var sum float32
		for ch := 0; ch < c.Channels; ch++ {
			sum += c.Samples[i*c.Channels+ch]
		}
		out[i] = sum * inv
	}
	return out
}

// Decoder turns a byte stream into a Clip.
type Decoder interface {
	Decode(r io.Reader) (*Clip, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(r io.Reader) (*Clip, error)

func (f DecoderFunc) Decode(r io.Reader) (*Clip, error) { return f(r) }

// Info is what a file's header says about its decoded size.
type Info struct {
	SampleRate int
	Channels   int
	Frames     int64
}

// Bytes is the in-memory size a full decode would take.
func (i Info) Bytes() int64 { return int64(i.Channels) * i.Frames * 4 }

// InfoReader is implemented by decoders that can size a file from its headers
// without decoding the audio.
type InfoReader interface {
	ReadInfo(rs io.ReadSeeker) (Info, error)
}

// codec pairs a decoder with its header reader.
type codec struct {
	decode func(io.Reader) (*Clip, error)
	info   func(io.ReadSeeker) (Info, error)
}

func (c codec) Decode(r io.Reader) (*Clip, error) { return c.decode(r) }
func (c codec) ReadInfo(rs io.ReadSeeker) (Info, error) { return c.info(rs) }

// Registry maps lower-case file extensions (".wav") to decoders.
type Registry struct {
	codecs map[string]Decoder
	mtx    sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]Decoder)}
}

// DefaultRegistry knows .wav, .mp3 and .ogg.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	wavCodec := codec{decodeWAV, wavInfo}
	r.Register(".wav", wavCodec)
	r.Register(".wave", wavCodec)
	r.Register(".mp3", codec{decodeMP3, mp3Info})
	r.Register(".ogg", codec{decodeOgg, oggInfo})
	return r
}

func (r *Registry) Register(ext string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.codecs[strings.ToLower(ext)] = d
}

func (r *Registry) Get(ext string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	d, ok := r.codecs[strings.ToLower(ext)]
	return d, ok
}

// Load decodes path with the decoder registered for its extension.
func (r *Registry) Load(path string) (*Clip, error) {
	ext := filepath.Ext(path)
	d, ok := r.Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %q", audioerr.ErrFormatUnsupported, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, audioerr.IO("open "+path, err)
	}
	defer f.Close()

	clip, err := d.Decode(f)
	if err != nil {
		if errors.Is(err, audioerr.ErrFormatUnsupported) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", audioerr.ErrFormatUnsupported, path, err)
	}
	if clip.Channels < 1 || clip.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: %s: %d channels at %d Hz", audioerr.ErrFormatUnsupported, path, clip.Channels, clip.SampleRate)
	}
	return clip, nil
}

// ReadInfo reads only the headers of path and reports the decoded size.
func (r *Registry) ReadInfo(path string) (Info, error) {
	ext := filepath.Ext(path)
	d, ok := r.Get(ext)
	if !ok {
		return Info{}, fmt.Errorf("%w: no decoder for %q", audioerr.ErrFormatUnsupported, ext)
	}
	p, ok := d.(InfoReader)
	if !ok {
		return Info{}, fmt.Errorf("%w: decoder for %q cannot size files", audioerr.ErrFormatUnsupported, ext)
	}
	f, err := os.Open(path)
	if err != nil {
		return Info{}, audioerr.IO("open "+path, err)
	}
	defer f.Close()

	info, err := p.ReadInfo(f)
	if err != nil {
		if errors.Is(err, audioerr.ErrFormatUnsupported) {
			return Info{}, fmt.Errorf("%s: %w", path, err)
		}
		return Info{}, fmt.Errorf("%w: %s: %v", audioerr.ErrFormatUnsupported, path, err)
	}
	if info.Channels < 1 || info.SampleRate <= 0 || info.Frames < 0 {
		return Info{}, fmt.Errorf("%w: %s: %d channels at %d Hz", audioerr.ErrFormatUnsupported, path, info.Channels, info.SampleRate)
	}
	return info, nil
}

var defaultRegistry = DefaultRegistry()

// ReadInfo sizes path with the default registry.
func ReadInfo(path string) (Info, error) { return defaultRegistry.ReadInfo(path) }

// Load decodes path with the default registry.
func Load(path string) (*Clip, error) { return defaultRegistry.Load(path) }

// LoadMono decodes path and downmixes to mono.
func LoadMono(path string) ([]float32, int, error) {
	clip, err := Load(path)
	if err != nil {
		return nil, 0, err
	}
	return clip.Mono(), clip.SampleRate, nil
}

// LoadChannel decodes path and returns channel ch.
func LoadChannel(path string, ch int) ([]float32, int, error) {
	clip, err := Load(path)
	if err != nil {
		return nil, 0, err
	}
	out, err := clip.Channel(ch)
	if err != nil {
		return nil, 0, err
	}
	return out, clip.SampleRate, nil
}

func decodeWAV(r io.Reader) (*Clip, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, fmt.Errorf("%w: wav decoding needs a seekable reader", audioerr.ErrFormatUnsupported)
	}
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav file", audioerr.ErrFormatUnsupported)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: invalid wav buffer", audioerr.ErrFormatUnsupported)
	}
	return &Clip{
		Samples:    buf.Data,
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}

func wavInfo(rs io.ReadSeeker) (Info, error) {
	dec := wav.NewDecoder(rs)
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, err
	}
	frameBytes := int64(dec.NumChans) * int64(dec.BitDepth) / 8
	if frameBytes <= 0 {
		return Info{}, fmt.Errorf("%w: %d channels of %d bits", audioerr.ErrFormatUnsupported, dec.NumChans, dec.BitDepth)
	}
	return Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Frames:     dec.PCMLen() / frameBytes,
	}, nil
}

// mp3Info scans frame headers only; go-mp3 always yields 16-bit stereo.
func mp3Info(rs io.ReadSeeker) (Info, error) {
	dec, err := gomp3.NewDecoder(rs)
	if err != nil {
		return Info{}, err
	}
	if dec.Length() < 0 {
		return Info{}, fmt.Errorf("%w: mp3 length unknown", audioerr.ErrFormatUnsupported)
	}
	return Info{SampleRate: dec.SampleRate(), Channels: 2, Frames: dec.Length() / 4}, nil
}

func oggInfo(rs io.ReadSeeker) (Info, error) {
	n, format, err := oggvorbis.GetLength(rs)
	if err != nil {
		return Info{}, err
	}
	return Info{SampleRate: format.SampleRate, Channels: format.Channels, Frames: n}, nil
}

// decodeMP3 reads go-mp3's 16-bit little-endian stereo stream.
func decodeMP3(r io.Reader) (*Clip, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, 8192)
	var out []float32
	for {
		n, err := dec.Read(raw)
		for i := 0; i+1 < n; i += 2 {
			v := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
			out = append(out, float32(v)/32768)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return &Clip{Samples: out, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// decodeOgg appends interleaved values; Read reports values, not frames.
func decodeOgg(r io.Reader) (*Clip, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, err
	}
	ch := dec.Channels()
	frame := make([]float32, 4096*ch)
	var out []float32
	for {
		n, err := dec.Read(frame)
		out = append(out, frame[:n]...)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return &Clip{Samples: out, SampleRate: dec.SampleRate(), Channels: ch}, nil
}
