// Package ambisonic converts four tetrahedral capsule signals (A-format) into
// first-order B-format in AmbiX channel order (W, Y, Z, X).
package ambisonic

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	dspcore "github.com/cwbudde/algo-dsp/dsp/core"
)

// B-format channel indices in AmbiX (ACN) order.
const (
	W = iota
	Y
	Z
	X
)

// Capsules holds one slice per capsule, all of equal length.
type Capsules [4][]float32

// BFormat holds W, Y, Z, X channel slices.
type BFormat [4][]float32

// NewBFormat allocates a zeroed B-format buffer of n frames.
func NewBFormat(n int) BFormat {
	var b BFormat
	for c := range b {
		b[c] = make([]float32, n)
	}
	return b
}

// Frames returns the common channel length, or -1 if lengths differ.
func (b BFormat) Frames() int {
	n := len(b[0])
	for _, ch := range b[1:] {
		if len(ch) != n {
			return -1
		}
	}
	return n
}

// ABMatrix is a row-major 4×4 matrix. Rows produce W, Y, Z, X; columns
// weight capsules 0..3.
type ABMatrix [16]float32

// IdentityMatrix maps capsule i straight to output row i.
func IdentityMatrix() ABMatrix {
	return ABMatrix{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// TetrahedralMatrix is the textbook FLU/FRD/BLD/BRU conversion with the
// 0.5 scale folded in.
func TetrahedralMatrix() ABMatrix {
	return ABMatrix{
		0.5, 0.5, 0.5, 0.5,   // W
		0.5, -0.5, 0.5, -0.5, // Y
		0.5, -0.5, -0.5, 0.5, // Z
		0.5, 0.5, -0.5, -0.5, // X
	}
}

// CapsuleGains are per-capsule trims and interface offsets in dB.
// The zero value is unity gain.
type CapsuleGains struct {
	TrimsDB     [4]float32
	InterfaceDB [4]float32
}

// LinearGain converts decibels to a linear amplitude factor.
func LinearGain(db float32) float32 {
	return float32(dspcore.DBToLinear(float64(db)))
}

// Linear returns the combined linear factor trim·interface per capsule.
func (g CapsuleGains) Linear() [4]float32 {
	var out [4]float32
	for i := range out {
		out[i] = LinearGain(g.TrimsDB[i]) * LinearGain(g.InterfaceDB[i])
	}
	return out
}

// Orientation is a yaw/pitch/roll rotation in radians.
type Orientation struct {
	Yaw, Pitch, Roll float64
}

// OrientationDegrees builds an Orientation from angles in degrees.
func OrientationDegrees(yaw, pitch, roll float64) Orientation {
	const d2r = math.Pi / 180
	return Orientation{Yaw: yaw * d2r, Pitch: pitch * d2r, Roll: roll * d2r}
}

// Degrees returns yaw, pitch and roll in degrees.
func (o Orientation) Degrees() (yaw, pitch, roll float64) {
	const r2d = 180 / math.Pi
	return o.Yaw * r2d, o.Pitch * r2d, o.Roll * r2d
}

func (o Orientation) IsZero() bool {
	return o.Yaw == 0 && o.Pitch == 0 && o.Roll == 0
}

// RotationMatrix returns R = Rz(yaw)·Ry(pitch)·Rx(roll), row-major, acting
// on the column vector (X, Y, Z).
func RotationMatrix(o Orientation) [9]float32 {
	cy, sy := math.Cos(o.Yaw), math.Sin(o.Yaw)
	cp, sp := math.Cos(o.Pitch), math.Sin(o.Pitch)
	cr, sr := math.Cos(o.Roll), math.Sin(o.Roll)
	return [9]float32{
		float32(cy * cp), float32(cy*sp*sr - sy*cr), float32(cy*sp*cr + sy*sr),
		float32(sy * cp), float32(sy*sp*sr + cy*cr), float32(sy*sp*cr - cy*sr),
		float32(-sp), float32(cp * sr), float32(cp * cr),
	}
}

// Config is everything the encoder needs for one buffer.
type Config struct {
	Matrix      ABMatrix
	Gains       CapsuleGains
	Orientation Orientation
}

// DefaultConfig is the identity matrix with unity gains and no rotation.
func DefaultConfig() Config {
	return Config{Matrix: IdentityMatrix()}
}

func (c *Config) Validate() error {
	for i, v := range c.Matrix {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: matrix[%d] is not finite", audioerr.ErrInvalidConfig, i)
		}
	}
	for i := 0; i < 4; i++ {
		t, f := float64(c.Gains.TrimsDB[i]), float64(c.Gains.InterfaceDB[i])
		if math.IsNaN(t) || math.IsInf(t, 0) || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: capsule %d gain is not finite", audioerr.ErrInvalidConfig, i)
		}
	}
	o := c.Orientation
	if math.IsNaN(o.Yaw) || math.IsNaN(o.Pitch) || math.IsNaN(o.Roll) {
		return fmt.Errorf("%w: orientation is not finite", audioerr.ErrInvalidConfig)
	}
	return nil
}

// Encode writes B-format for src into dst. All capsule slices must share a
// length n and every dst channel must hold at least n frames. Encode keeps
// no state between calls.
func Encode(dst BFormat, src Capsules, cfg Config) error {
	n := len(src[0])
	for i, c := range src {
		if len(c) != n {
			return fmt.Errorf("%w: capsule %d has %d frames, capsule 0 has %d", audioerr.ErrInvalidLayout, i, len(c), n)
		}
	}
	for i, c := range dst {
		if len(c) < n {
			return fmt.Errorf("%w: output channel %d holds %d frames, need %d", audioerr.ErrInvalidLayout, i, len(c), n)
		}
	}

	g := cfg.Gains.Linear()
	m := &cfg.Matrix
	a0, a1, a2, a3 := src[0], src[1], src[2], src[3]
	w, y, z, x := dst[W][:n], dst[Y][:n], dst[Z][:n], dst[X][:n]
	for i := 0; i < n; i++ {
		v0, v1, v2, v3 := a0[i]*g[0], a1[i]*g[1], a2[i]*g[2], a3[i]*g[3]
		w[i] = m[0]*v0 + m[1]*v1 + m[2]*v2 + m[3]*v3
		y[i] = m[4]*v0 + m[5]*v1 + m[6]*v2 + m[7]*v3
		z[i] = m[8]*v0 + m[9]*v1 + m[10]*v2 + m[11]*v3
		x[i] = m[12]*v0 + m[13]*v1 + m[14]*v2 + m[15]*v3
	}

	if !cfg.Orientation.IsZero() {
		rotate(x, y, z, RotationMatrix(cfg.Orientation))
	}
	return nil
}

// rotate applies r to (X, Y, Z) in place. W is never rotated.
func rotate(x, y, z []float32, r [9]float32) {
	for i := range x {
		xv, yv, zv := x[i], y[i], z[i]
		x[i] = r[0]*xv + r[1]*yv + r[2]*zv
		y[i] = r[3]*xv + r[4]*yv + r[5]*zv
		z[i] = r[6]*xv + r[7]*yv + r[8]*zv
	}
}

// EncodeInterleaved encodes the first four channels of an interleaved tap
// buffer and returns the number of frames written to dst.
func EncodeInterleaved(dst BFormat, interleaved []float32, channels int, cfg Config) (int, error) {
	if channels < 4 {
		return 0, fmt.Errorf("%w: A-format needs 4 channels, got %d", audioerr.ErrChannelCount, channels)
	}
	if len(interleaved)%channels != 0 {
		return 0, fmt.Errorf("%w: %d samples is not a multiple of %d channels", audioerr.ErrInvalidLayout, len(interleaved), channels)
	}
	n := len(interleaved) / channels
	var caps Capsules
	for c := range caps {
		caps[c] = make([]float32, n)
	}
	for i := 0; i < n; i++ {
		base := i * channels
		caps[0][i] = interleaved[base]
		caps[1][i] = interleaved[base+1]
		caps[2][i] = interleaved[base+2]
		caps[3][i] = interleaved[base+3]
	}
	if err := Encode(dst, caps, cfg); err != nil {
		return 0, err
	}
	return n, nil
}

// Encoder holds a Config that may be replaced between buffers while another
// goroutine encodes. A buffer always sees one complete Config.
type Encoder struct {
	cfg atomic.Pointer[Config]
}

// NewEncoder returns an encoder using cfg.
func NewEncoder(cfg Config) *Encoder {
	e := &Encoder{}
	e.SetConfig(cfg)
	return e
}

// SetConfig takes effect from the next Process call.
func (e *Encoder) SetConfig(cfg Config) {
	c := cfg
	e.cfg.Store(&c)
}

// SetOrientation replaces only the orientation.
func (e *Encoder) SetOrientation(o Orientation) {
	c := e.Config()
	c.Orientation = o
	e.SetConfig(c)
}

// Config returns a copy of the current configuration.
func (e *Encoder) Config() Config {
	if p := e.cfg.Load(); p != nil {
		return *p
	}
	return DefaultConfig()
}

// Process encodes one buffer with the current configuration.
func (e *Encoder) Process(dst BFormat, src Capsules) error {
	return Encode(dst, src, e.Config())
}
