package xcorr

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/sweep"
)

func delayed(x []float32, d int, gain float32) []float32 {
	out := make([]float32, len(x)+d)
	for i, v := range x {
		out[i+d] = v * gain
	}
	return out
}

func TestEstimateDelayOnSweep(t *testing.T) {
	spec := sweep.Spec{SampleRate: 48000, DurationS: 0.25, StartHz: 20, EndHz: 20000}
	ref, err := sweep.Generate(spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, d := range []int{0, 1, 240, 255, 1000} {
		got, err := EstimateDelay(ref, delayed(ref, d, 0.8))
		if err != nil {
			t.Fatalf("EstimateDelay: %v", err)
		}
		if diff := got - d; diff < -20 || diff > 20 {
			t.Fatalf("delay %d estimated as %d", d, got)
		}
	}
}

func TestEstimateDelayWithNoise(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ref := make([]float32, 8192)
	for i := range ref {
		ref[i] = float32(rng.NormFloat64())
	}
	rec := delayed(ref, 333, 0.5)
	for i := range rec {
		rec[i] += float32(0.05 * rng.NormFloat64())
	}
	res, err := Estimate(ref, rec)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if res.Lag != 333 {
		t.Fatalf("lag mismatch: %d", res.Lag)
	}
	if res.Peak <= 0 || res.Confidence < 10 {
		t.Fatalf("weak peak: %+v", res)
	}
}

func TestEstimateNegativeLag(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rec := make([]float32, 4096)
	for i := range rec {
		rec[i] = float32(rng.NormFloat64())
	}
	ref := delayed(rec, 50, 1)
	got, err := EstimateDelay(ref, rec)
	if err != nil {
		t.Fatalf("EstimateDelay: %v", err)
	}
	if got != -50 {
		t.Fatalf("expected -50, got %d", got)
	}
}

func TestSamplesToMs(t *testing.T) {
	if got := SamplesToMs(240, 48000); math.Abs(got-5) > 1e-12 {
		t.Fatalf("240 samples @48k = %f ms", got)
	}
	if got := SamplesToMs(-48, 48000); math.Abs(got+1) > 1e-12 {
		t.Fatalf("-48 samples @48k = %f ms", got)
	}
	if SamplesToMs(10, 0) != 0 {
		t.Fatalf("zero rate must yield 0")
	}
}

func TestEstimateRejectsEmpty(t *testing.T) {
	if _, err := EstimateDelay(nil, []float32{1}); !errors.Is(err, audioerr.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}
