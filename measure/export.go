package measure

import (
	"fmt"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/internal/audioload"
	"github.com/athompson36/ambi-glass-sub000/wavstream"
)

// ExportMono writes one IR as a mono float32 WAV.
func ExportMono(path string, ir []float32, sampleRate int) error {
	return exportPlanar(path, [][]float32{ir}, sampleRate)
}

// ExportStereo writes two IRs as a stereo float32 WAV. The shorter one is
// zero-padded.
func ExportStereo(path string, left, right []float32, sampleRate int) error {
	return exportPlanar(path, [][]float32{left, right}, sampleRate)
}

// ExportAFormat writes four capsule IRs as a 4-channel float32 WAV.
func ExportAFormat(path string, irs [][]float32, sampleRate int) error {
	if len(irs) != 4 {
		return fmt.Errorf("%w: A-format export needs 4 IRs, got %d", audioerr.ErrChannelCount, len(irs))
	}
	return exportPlanar(path, irs, sampleRate)
}

// ExportFOA encodes four capsule IRs to first-order AmbiX B-format with cfg
// and writes them as a 4-channel float32 WAV.
func ExportFOA(path string, irs [][]float32, sampleRate int, cfg ambisonic.Config) error {
	if len(irs) != 4 {
		return fmt.Errorf("%w: FOA export needs 4 IRs, got %d", audioerr.ErrChannelCount, len(irs))
	}
	padded := padToLongest(irs)
	var caps ambisonic.Capsules
	copy(caps[:], padded)
	b := ambisonic.NewBFormat(len(padded[0]))
	if err := ambisonic.Encode(b, caps, cfg); err != nil {
		return err
	}
	return exportPlanar(path, b[:], sampleRate)
}

// ExportPCM writes IRs as integer PCM (16, 24 or 32 bit).
func ExportPCM(path string, irs [][]float32, sampleRate, bits int) error {
	if len(irs) == 0 {
		return fmt.Errorf("%w: nothing to export", audioerr.ErrEmptyInput)
	}
	return audioload.WritePCM(path, padToLongest(irs), sampleRate, bits)
}

func exportPlanar(path string, irs [][]float32, sampleRate int) error {
	padded := padToLongest(irs)
	if len(padded) == 0 || len(padded[0]) == 0 {
		return fmt.Errorf("%w: nothing to export", audioerr.ErrEmptyInput)
	}
	w, err := wavstream.Create(path, sampleRate, len(padded))
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.WritePlanar(padded); err != nil {
		return err
	}
	_, err = w.Finalize()
	return err
}

// padToLongest returns irs with every channel zero-padded to the longest
// length. Channels already at full length are shared, not copied.
func padToLongest(irs [][]float32) [][]float32 {
	n := 0
	for _, ir := range irs {
		n = max(n, len(ir))
	}
	out := make([][]float32, len(irs))
	for i, ir := range irs {
		if len(ir) == n {
			out[i] = ir
			continue
		}
		out[i] = make([]float32, n)
		copy(out[i], ir)
	}
	return out
}
