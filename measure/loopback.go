package measure

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/dsp"
	"github.com/athompson36/ambi-glass-sub000/irsynth"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
)

// Loopback plays an excitation on one output and records it on a set of
// inputs. A real implementation talks to an audio interface; the returned
// slices hold one recording per requested input, in request order.
type Loopback interface {
	PlayRecord(ctx context.Context, excitation []float32, outputChannel int, inputChannels []int) ([][]float32, error)
}

// SimulatedLoopback renders recordings by convolving the excitation with a
// per-input room IR, then applying per-input latency, gain and noise.
type SimulatedLoopback struct {
	SampleRate int
	Outputs    int
	// Rooms holds one IR per input channel; its length sets the input count.
	Rooms [][]float32
	// LatencySamples and GainsDB are per input; missing entries mean 0.
	LatencySamples []int
	GainsDB        []float64
	// NoiseLevel is the RMS of white noise added to each recording.
	NoiseLevel float64
	Seed       int64
	PartSize   int
}

// NewSimulatedLoopback wires rooms as the inputs of a two-output device.
func NewSimulatedLoopback(sampleRate int, rooms [][]float32) *SimulatedLoopback {
	return &SimulatedLoopback{
		SampleRate: sampleRate,
		Outputs:    2,
		Rooms:      rooms,
		Seed:       1,
		PartSize:   DefaultPartSize,
	}
}

// NewSimulatedRoom generates channels synthetic room IRs with irsynth and
// wraps them in a SimulatedLoopback.
func NewSimulatedRoom(cfg irsynth.Config, channels int) (*SimulatedLoopback, error) {
	rooms, err := irsynth.Generate(cfg, channels)
	if err != nil {
		return nil, err
	}
	return NewSimulatedLoopback(cfg.SampleRate, rooms), nil
}

// Inputs returns the number of simulated input channels.
func (s *SimulatedLoopback) Inputs() int { return len(s.Rooms) }

// PlayRecord returns len(excitation)+tail+latency samples per input so the
// full room decay is captured.
func (s *SimulatedLoopback) PlayRecord(ctx context.Context, excitation []float32, outputChannel int, inputChannels []int) ([][]float32, error) {
	if len(excitation) == 0 {
		return nil, fmt.Errorf("%w: empty excitation", audioerr.ErrEmptyInput)
	}
	if outputChannel < 0 || (s.Outputs > 0 && outputChannel >= s.Outputs) {
		return nil, fmt.Errorf("%w: output channel %d of %d", audioerr.ErrChannelCount, outputChannel, s.Outputs)
	}
	if len(inputChannels) == 0 {
		return nil, fmt.Errorf("%w: no input channels requested", audioerr.ErrChannelCount)
	}
	rooms := make([][]float32, len(inputChannels))
	maxLatency := 0
	for i, ch := range inputChannels {
		if ch < 0 || ch >= len(s.Rooms) {
			return nil, fmt.Errorf("%w: input channel %d of %d", audioerr.ErrChannelCount, ch, len(s.Rooms))
		}
		rooms[i] = s.Rooms[ch]
		maxLatency = max(maxLatency, s.latency(ch))
	}

	conv, err := NewConvolver(rooms, s.PartSize)
	if err != nil {
		return nil, err
	}
	total := len(excitation) + conv.TailFrames() + maxLatency
	partSize := s.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}

	delays := make([]*dsp.DelayLine, len(inputChannels))
	gains := make([]float32, len(inputChannels))
	out := make([][]float32, len(inputChannels))
	for i, ch := range inputChannels {
		delays[i] = dsp.NewDelayLine(s.latency(ch) + 1)
		gains[i] = float32(dspcore.DBToLinear(s.gainDB(ch)))
		out[i] = make([]float32, 0, total)
	}
	rng := rand.New(rand.NewSource(s.Seed))

	block := make([]float32, partSize)
	for pos := 0; pos < total; pos += partSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := min(partSize, total-pos)
		clear(block)
		if pos < len(excitation) {
			copy(block[:n], excitation[pos:min(pos+n, len(excitation))])
		}
		wet, err := conv.Process(block[:n])
		if err != nil {
			return nil, err
		}
		for i, ch := range inputChannels {
			lat := s.latency(ch)
			for j := 0; j < n; j++ {
				v := delays[i].Process(wet[i][j], lat) * gains[i]
				if s.NoiseLevel > 0 {
					v += float32(rng.NormFloat64() * s.NoiseLevel)
				}
				out[i] = append(out[i], dsp.FlushDenormals(v))
			}
		}
	}
	return out, nil
}

func (s *SimulatedLoopback) latency(ch int) int {
	if ch < len(s.LatencySamples) {
		return max(s.LatencySamples[ch], 0)
	}
	return 0
}

func (s *SimulatedLoopback) gainDB(ch int) float64 {
	if ch < len(s.GainsDB) {
		return s.GainsDB[ch]
	}
	return 0
}
