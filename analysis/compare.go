package analysis

import (
	"fmt"
	"math"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/xcorr"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
	dspir "github.com/cwbudde/algo-dsp/measure/ir"
	"github.com/cwbudde/algo-vecmath"
)

const (
	// minCompareFrames is the shortest overlap worth scoring.
	minCompareFrames = 256
	// decayFloorDB limits the decay comparison to the range a real
	// measurement resolves above its noise.
	decayFloorDB = -60.0
)

// Comparison scores how closely a measured IR matches a reference IR.
type Comparison struct {
	LagSamples    int     `json:"lag_samples"`
	AlignedFrames int     `json:"aligned_frames"`
	TimeRMSE      float64 `json:"time_rmse"`
	DecayRMSEDB   float64 `json:"decay_rmse_db"`

	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// Compare aligns candidate to reference by cross-correlation, normalizes
// both to equal RMS and combines sample error with the distance between
// their Schroeder decay curves into a score in [0, 1] (0 is identical).
func Compare(reference, candidate []float32, sampleRate int) (Comparison, error) {
	if len(reference) == 0 || len(candidate) == 0 {
		return Comparison{}, fmt.Errorf("%w: compare needs two non-empty signals", audioerr.ErrEmptyInput)
	}
	if sampleRate <= 0 {
		return Comparison{}, fmt.Errorf("%w: sample rate must be > 0, got %d", audioerr.ErrInvalidConfig, sampleRate)
	}
	lag, err := xcorr.EstimateDelay(reference, candidate)
	if err != nil {
		return Comparison{}, err
	}
	c := Comparison{LagSamples: lag, Score: 1}

	ref, cand := toFloat64(reference), toFloat64(candidate)
	if lag >= 0 {
		cand = cand[min(lag, len(cand)):]
	} else {
		ref = ref[min(-lag, len(ref)):]
	}
	n := min(len(ref), len(cand))
	if n < minCompareFrames {
		return c, nil
	}
	ref = normalizeRMS(ref[:n], 0.1)
	cand = normalizeRMS(cand[:n], 0.1)
	c.AlignedFrames = n

	var sum float64
	for i := 0; i < n; i++ {
		d := ref[i] - cand[i]
		sum += d * d
	}
	c.TimeRMSE = math.Sqrt(sum / float64(n))

	an := dspir.NewAnalyzer(float64(sampleRate))
	refDecay, err := an.SchroederIntegral(ref)
	if err != nil {
		return Comparison{}, err
	}
	candDecay, err := an.SchroederIntegral(cand)
	if err != nil {
		return Comparison{}, err
	}
	diff := make([]float64, n)
	for i := range diff {
		diff[i] = max(refDecay[i], decayFloorDB) - max(candDecay[i], decayFloorDB)
	}
	c.DecayRMSEDB = rms(diff)

	timeNorm := dspcore.Clamp(c.TimeRMSE/0.25, 0, 1)
	decayNorm := dspcore.Clamp(c.DecayRMSEDB/30.0, 0, 1)
	c.Score = dspcore.Clamp(0.6*timeNorm+0.4*decayNorm, 0, 1)
	c.Similarity = dspcore.Clamp(math.Exp(-4.0*c.Score), 0, 1)
	return c, nil
}

func normalizeRMS(x []float64, target float64) []float64 {
	out := append([]float64(nil), x...)
	r := rms(x)
	if r <= 1e-12 {
		return out
	}
	vecmath.ScaleBlockInPlace(out, target/r)
	return out
}
