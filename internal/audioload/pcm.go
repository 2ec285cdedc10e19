package audioload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
	"github.com/cwbudde/wav"
	"github.com/go-audio/audio"
)

// ResampleIfNeeded converts in from fromRate to toRate. Equal rates return
// in unchanged.
func ResampleIfNeeded(in []float32, fromRate, toRate int) ([]float32, error) {
	if fromRate == toRate {
		return in, nil
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("%w: resample %d -> %d Hz", audioerr.ErrInvalidConfig, fromRate, toRate)
	}
	r, err := dspresample.NewForRates(
		float64(fromRate),
		float64(toRate),
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return nil, err
	}

	in64 := make([]float64, len(in))
	for i, v := range in {
		in64[i] = float64(v)
	}
	out64 := r.Process(in64)
	out := make([]float32, len(out64))
	for i, v := range out64 {
		out[i] = float32(v)
	}
	return out, nil
}

// Interleave packs equal-length planar channels into one slice.
func Interleave(channels [][]float32) ([]float32, error) {
	if len(channels) == 0 {
		return nil, audioerr.ErrEmptyInput
	}
	n := len(channels[0])
	for c, ch := range channels {
		if len(ch) != n {
			return nil, fmt.Errorf("%w: channel %d has %d frames, channel 0 has %d", audioerr.ErrInvalidLayout, c, len(ch), n)
		}
	}
	nc := len(channels)
	out := make([]float32, n*nc)
	for c, ch := range channels {
		for i, v := range ch {
			out[i*nc+c] = v
		}
	}
	return out, nil
}

// WritePCM writes planar channels as an integer PCM WAV of the given bit
// depth (16, 24 or 32).
func WritePCM(path string, channels [][]float32, sampleRate, bits int) error {
	switch bits {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d-bit PCM", audioerr.ErrFormatUnsupported, bits)
	}
	data, err := Interleave(channels)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return audioerr.IO("mkdir", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return audioerr.IO("create "+path, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, bits, len(channels), 1)
	buf := &audio.Float32Buffer{
		Format: &audio.Format{
			SampleRate:  sampleRate,
			NumChannels: len(channels),
		},
		Data:           data,
		SourceBitDepth: bits,
	}
	if err := enc.Write(buf); err != nil {
		return audioerr.IO("write "+path, err)
	}
	if err := enc.Close(); err != nil {
		return audioerr.IO("close "+path, err)
	}
	return nil
}
