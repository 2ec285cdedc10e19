// Package layout decodes first-order B-format (AmbiX W, Y, Z, X) into
// output channel layouts.
package layout

import (
	"fmt"
	"math"
	"strings"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
)

// Layout identifies an output channel arrangement.
type Layout int

const (
	AmbiX Layout = iota
	FuMa
	Stereo
	Surround51
	Surround71
)

var all = []Layout{AmbiX, FuMa, Stereo, Surround51, Surround71}

var names = map[Layout]string{
	AmbiX:      "ambix",
	FuMa:       "fuma",
	Stereo:     "stereo",
	Surround51: "5.1",
	Surround71: "7.1",
}

// filePrefix is the output file name prefix for each layout.
var filePrefix = map[Layout]string{
	AmbiX:      "AmbiX",
	FuMa:       "FuMa",
	Stereo:     "Stereo",
	Surround51: "5.1",
	Surround71: "7.1",
}

var channelNames = map[Layout][]string{
	AmbiX:      {"W", "Y", "Z", "X"},
	FuMa:       {"W", "X", "Y", "Z"},
	Stereo:     {"L", "R"},
	Surround51: {"L", "R", "C", "LFE", "Ls", "Rs"},
	Surround71: {"L", "R", "C", "LFE", "Ls", "Rs", "Lb", "Rb"},
}

// All returns every supported layout.
func All() []Layout {
	return append([]Layout(nil), all...)
}

func (l Layout) String() string {
	if s, ok := names[l]; ok {
		return s
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// FilePrefix returns the prefix used for exported file names.
func (l Layout) FilePrefix() string { return filePrefix[l] }

// Channels returns the output channel count.
func (l Layout) Channels() int { return len(channelNames[l]) }

// ChannelNames returns the output channel labels in file order.
func (l Layout) ChannelNames() []string {
	return append([]string(nil), channelNames[l]...)
}

// Parse accepts layout names case-insensitively ("ambix", "FuMa", "5.1", ...).
func Parse(s string) (Layout, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "51", "5_1", "surround51":
		v = "5.1"
	case "71", "7_1", "surround71":
		v = "7.1"
	}
	for _, l := range all {
		if names[l] == v {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown layout %q", audioerr.ErrInvalidConfig, s)
}

var (
	invSqrt2 = float32(1 / math.Sqrt2)
	sqrt3_2  = float32(math.Sqrt(1.5))
)

// NewBuffer allocates l.Channels() slices of n frames.
func NewBuffer(l Layout, n int) [][]float32 {
	out := make([][]float32, l.Channels())
	for c := range out {
		out[c] = make([]float32, n)
	}
	return out
}

// Decode writes the layout's channels for every frame of b into dst.
// dst must hold l.Channels() slices, each at least as long as b.
func Decode(l Layout, dst [][]float32, b ambisonic.BFormat) error {
	n := b.Frames()
	if n < 0 {
		return fmt.Errorf("%w: B-format channels differ in length", audioerr.ErrInvalidLayout)
	}
	want := l.Channels()
	if want == 0 {
		return fmt.Errorf("%w: unknown layout %d", audioerr.ErrInvalidConfig, int(l))
	}
	if len(dst) != want {
		return fmt.Errorf("%w: %s needs %d output channels, got %d", audioerr.ErrInvalidLayout, l, want, len(dst))
	}
	for c, ch := range dst {
		if len(ch) < n {
			return fmt.Errorf("%w: output channel %d holds %d frames, need %d", audioerr.ErrInvalidLayout, c, len(ch), n)
		}
	}

	w, y, z, x := b[ambisonic.W], b[ambisonic.Y], b[ambisonic.Z], b[ambisonic.X]
	switch l {
	case AmbiX:
		for c := 0; c < 4; c++ {
			copy(dst[c], b[c][:n])
		}
	case FuMa:
		for i := 0; i < n; i++ {
			dst[0][i] = w[i] * invSqrt2
			dst[1][i] = x[i] * sqrt3_2
			dst[2][i] = y[i] * sqrt3_2
			dst[3][i] = z[i] * sqrt3_2
		}
	case Stereo:
		for i := 0; i < n; i++ {
			dst[0][i] = w[i] + x[i]
			dst[1][i] = w[i] - x[i]
		}
	case Surround51, Surround71:
		for i := 0; i < n; i++ {
			dst[0][i] = (w[i] + x[i]) * invSqrt2
			dst[1][i] = (w[i] - x[i]) * invSqrt2
			dst[2][i] = w[i] * invSqrt2
			dst[3][i] = 0
			dst[4][i] = (w[i] + y[i]) * invSqrt2
			dst[5][i] = (w[i] - y[i]) * invSqrt2
		}
		if l == Surround71 {
			// Rear pair from the vertical component.
			for i := 0; i < n; i++ {
				dst[6][i] = (w[i] + z[i]) * invSqrt2
				dst[7][i] = (w[i] - z[i]) * invSqrt2
			}
		}
	}
	return nil
}
