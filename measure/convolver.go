package measure

import (
	"fmt"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	dspconv "github.com/cwbudde/algo-dsp/dsp/conv"
)

// DefaultPartSize is the streaming block length used by NewConvolver.
const DefaultPartSize = 256

// Convolver runs one mono input through several impulse responses with
// block overlap-add convolution, one output per IR. Each block's ring-out is
// carried into the next call.
type Convolver struct {
	partSize int
	irLen    int

	olas  []*dspconv.OverlapAdd
	tails [][]float64

	// Reused per block.
	in  []float64
	out []float64
}

// NewConvolver builds a convolver for irs. Empty IRs act as a unit impulse.
func NewConvolver(irs [][]float32, partSize int) (*Convolver, error) {
	if len(irs) == 0 {
		return nil, fmt.Errorf("%w: convolver needs at least one IR", audioerr.ErrChannelCount)
	}
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	c := &Convolver{
		partSize: partSize,
		irLen:    1,
		olas:     make([]*dspconv.OverlapAdd, len(irs)),
		tails:    make([][]float64, len(irs)),
		in:       make([]float64, partSize),
	}
	for i, ir := range irs {
		kernel := []float64{1}
		if len(ir) > 0 {
			kernel = make([]float64, len(ir))
			for j, v := range ir {
				kernel[j] = float64(v)
			}
		}
		ola, err := dspconv.NewOverlapAdd(kernel, partSize)
		if err != nil {
			return nil, fmt.Errorf("ir %d: %w", i, err)
		}
		c.olas[i] = ola
		c.tails[i] = make([]float64, len(kernel)-1)
		c.irLen = max(c.irLen, len(kernel))
	}
	c.out = make([]float64, partSize+c.irLen-1)
	return c, nil
}

// Channels returns the number of IRs.
func (c *Convolver) Channels() int { return len(c.olas) }

// TailFrames is how many samples the longest IR rings after the input ends.
func (c *Convolver) TailFrames() int { return c.irLen - 1 }

// Process convolves input with every IR and returns len(input) samples per
// IR. State carries over between calls.
func (c *Convolver) Process(input []float32) ([][]float32, error) {
	outputs := make([][]float32, len(c.olas))
	for i := range outputs {
		outputs[i] = make([]float32, len(input))
	}

	for processed := 0; processed < len(input); processed += c.partSize {
		blockEnd := min(processed+c.partSize, len(input))
		blockLen := blockEnd - processed
		in := c.in[:blockLen]
		for j, v := range input[processed:blockEnd] {
			in[j] = float64(v)
		}

		for i, ola := range c.olas {
			tail := c.tails[i]
			full := c.out[:blockLen+len(tail)]
			if err := ola.ProcessTo(full, in); err != nil {
				return nil, fmt.Errorf("convolve ir %d: %w", i, err)
			}
			for j, v := range tail {
				full[j] += v
			}
			for j, v := range full[:blockLen] {
				outputs[i][processed+j] = float32(v)
			}
			copy(tail, full[blockLen:])
		}
	}
	return outputs, nil
}

// Reset clears the carried ring-out of every IR.
func (c *Convolver) Reset() {
	for _, t := range c.tails {
		clear(t)
	}
}
