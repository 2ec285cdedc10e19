// Package preset loads and saves microphone profiles as JSON.
package preset

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
)

// File is the JSON schema for mic profile presets. Absent fields keep the
// identity defaults.
type File struct {
	Name           *string      `json:"name"`
	Matrix         []float32    `json:"matrix"`
	Ordering       *string      `json:"ordering"`
	Orientation    *Orientation `json:"orientation"`
	CapsuleTrimsDB []float32    `json:"capsuleTrims_dB"`
}

// Orientation is a partial yaw/pitch/roll override in degrees.
type Orientation struct {
	Yaw   *float64 `json:"yaw"`
	Pitch *float64 `json:"pitch"`
	Roll  *float64 `json:"roll"`
}

// LoadJSON loads a preset JSON file and applies it on top of the identity
// profile.
func LoadJSON(path string) (*ambisonic.MicProfile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, audioerr.IO("read preset", err)
	}

	var f File
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", audioerr.ErrInvalidConfig, path, err)
	}

	p := ambisonic.DefaultMicProfile()
	if err := ApplyFile(&p, &f); err != nil {
		return nil, err
	}
	if f.Name == nil {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

// ApplyFile applies a parsed preset file onto an existing profile.
func ApplyFile(dst *ambisonic.MicProfile, f *File) error {
	if dst == nil {
		return fmt.Errorf("%w: nil destination profile", audioerr.ErrInvalidConfig)
	}
	if f == nil {
		return nil
	}

	if f.Name != nil {
		dst.Name = strings.TrimSpace(*f.Name)
	}
	if f.Matrix != nil {
		if len(f.Matrix) != len(dst.Matrix) {
			return fmt.Errorf("%w: matrix must have 16 values, got %d", audioerr.ErrInvalidConfig, len(f.Matrix))
		}
		for i, v := range f.Matrix {
			if !finite(float64(v)) {
				return fmt.Errorf("%w: matrix[%d] is not finite", audioerr.ErrInvalidConfig, i)
			}
		}
		copy(dst.Matrix[:], f.Matrix)
	}
	if f.Ordering != nil {
		switch o := strings.TrimSpace(*f.Ordering); {
		case strings.EqualFold(o, ambisonic.OrderingAmbiX):
			dst.Ordering = ambisonic.OrderingAmbiX
		case strings.EqualFold(o, ambisonic.OrderingFuMa):
			dst.Ordering = ambisonic.OrderingFuMa
		default:
			return fmt.Errorf("%w: ordering must be AmbiX or FuMa, got %q", audioerr.ErrInvalidConfig, o)
		}
	}
	if o := f.Orientation; o != nil {
		for name, v := range map[string]*float64{"yaw": o.Yaw, "pitch": o.Pitch, "roll": o.Roll} {
			if v != nil && !finite(*v) {
				return fmt.Errorf("%w: orientation.%s is not finite", audioerr.ErrInvalidConfig, name)
			}
		}
		if o.Yaw != nil {
			dst.Orientation.Yaw = *o.Yaw
		}
		if o.Pitch != nil {
			dst.Orientation.Pitch = *o.Pitch
		}
		if o.Roll != nil {
			dst.Orientation.Roll = *o.Roll
		}
	}
	if f.CapsuleTrimsDB != nil {
		if len(f.CapsuleTrimsDB) != 4 {
			return fmt.Errorf("%w: capsuleTrims_dB must have 4 values, got %d", audioerr.ErrInvalidConfig, len(f.CapsuleTrimsDB))
		}
		for i, v := range f.CapsuleTrimsDB {
			if !finite(float64(v)) {
				return fmt.Errorf("%w: capsuleTrims_dB[%d] is not finite", audioerr.ErrInvalidConfig, i)
			}
		}
		copy(dst.CapsuleTrimsDB[:], f.CapsuleTrimsDB)
	}
	return nil
}

// SaveJSON writes p as an indented preset file.
func SaveJSON(path string, p ambisonic.MicProfile) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return audioerr.IO("mkdir", err)
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return audioerr.IO("write preset", err)
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
