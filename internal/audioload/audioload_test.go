package audioload

import (
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
)

func TestWritePCMThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ir.wav")
	left := []float32{0, 0.5, -0.5, 0.25}
	right := []float32{0.1, -0.1, 0.2, -0.2}
	if err := WritePCM(path, [][]float32{left, right}, 48000, 16); err != nil {
		t.Fatalf("WritePCM: %v", err)
	}

	got, sr, err := LoadChannel(path, 1)
	if err != nil {
		t.Fatalf("LoadChannel: %v", err)
	}
	if sr != 48000 || len(got) != len(right) {
		t.Fatalf("unexpected clip: sr=%d frames=%d", sr, len(got))
	}
	for i := range right {
		if math.Abs(float64(got[i]-right[i])) > 1e-3 {
			t.Fatalf("right[%d]=%f want %f", i, got[i], right[i])
		}
	}

	mono, _, err := LoadMono(path)
	if err != nil {
		t.Fatalf("LoadMono: %v", err)
	}
	for i := range mono {
		want := 0.5 * (left[i] + right[i])
		if math.Abs(float64(mono[i]-want)) > 1e-3 {
			t.Fatalf("mono[%d]=%f want %f", i, mono[i], want)
		}
	}

	if _, _, err := LoadChannel(path, 2); !errors.Is(err, audioerr.ErrChannelCount) {
		t.Fatalf("expected ErrChannelCount, got %v", err)
	}
}

func TestWritePCMRejects(t *testing.T) {
	dir := t.TempDir()
	if err := WritePCM(filepath.Join(dir, "a.wav"), [][]float32{{1}}, 48000, 8); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
	if err := WritePCM(filepath.Join(dir, "b.wav"), [][]float32{{1, 2}, {1}}, 48000, 16); !errors.Is(err, audioerr.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
	if err := WritePCM(filepath.Join(dir, "c.wav"), nil, 48000, 16); !errors.Is(err, audioerr.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestLoadUnknownExtension(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "take.flac")); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
}

func TestRegistryCustomDecoder(t *testing.T) {
	r := NewRegistry()
	r.Register(".TXT", DecoderFunc(func(rd io.Reader) (*Clip, error) {
		b, err := io.ReadAll(rd)
		if err != nil {
			return nil, err
		}
		return &Clip{Samples: make([]float32, len(strings.TrimSpace(string(b)))), SampleRate: 8000, Channels: 1}, nil
	}))
	if _, ok := r.Get(".txt"); !ok {
		t.Fatalf("extension lookup should be case-insensitive")
	}

	path := filepath.Join(t.TempDir(), "x.txt")
	if err := os.WriteFile(path, []byte("abcd\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	clip, err := r.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if clip.Frames() != 4 || clip.Bytes() != 16 {
		t.Fatalf("unexpected clip: frames=%d bytes=%d", clip.Frames(), clip.Bytes())
	}
}

func TestDecodeFailureIsFormatUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not a riff file"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
}

func TestReadInfoUsesHeadersOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stereo.wav")
	ch := make([]float32, 1000)
	if err := WritePCM(path, [][]float32{ch, ch, ch}, 44100, 24); err != nil {
		t.Fatalf("WritePCM: %v", err)
	}
	info, err := ReadInfo(path)
	if err != nil {
		t.Fatalf("ReadInfo: %v", err)
	}
	if info.Channels != 3 || info.Frames != 1000 || info.SampleRate != 44100 {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Bytes() != 3*1000*4 {
		t.Fatalf("bytes=%d", info.Bytes())
	}

	junk := filepath.Join(dir, "junk.mp3")
	if err := os.WriteFile(junk, []byte("not audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadInfo(junk); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
	if _, err := ReadInfo(filepath.Join(dir, "x.flac")); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported for unknown extension, got %v", err)
	}
	r := NewRegistry()
	r.Register(".raw", DecoderFunc(func(io.Reader) (*Clip, error) { return &Clip{}, nil }))
	if _, err := r.ReadInfo(filepath.Join(dir, "a.raw")); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("decoder without an info reader should not size files: %v", err)
	}
}

func TestResampleIfNeeded(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * 440 * float64(i) / 48000))
	}
	same, err := ResampleIfNeeded(in, 48000, 48000)
	if err != nil || &same[0] != &in[0] {
		t.Fatalf("equal rates must return the input slice")
	}
	half, err := ResampleIfNeeded(in, 48000, 24000)
	if err != nil {
		t.Fatalf("ResampleIfNeeded: %v", err)
	}
	if len(half) < 2000 || len(half) > 2800 {
		t.Fatalf("unexpected resampled length: %d", len(half))
	}
	if _, err := ResampleIfNeeded(in, 0, 48000); !errors.Is(err, audioerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
