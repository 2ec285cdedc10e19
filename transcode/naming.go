package transcode

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/layout"
)

// CapsuleIndex derives the 1-based capsule number from a file name. A "-N"
// marker wins over "_N", which is checked together with a trailing ".N".
// The digit must not be followed by another digit, so "take-12" has no
// index. It returns 0 when no marker for 1 to 4 is present.
func CapsuleIndex(path string) int {
	name := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
	for n := 1; n <= 4; n++ {
		if hasMarker(name, fmt.Sprintf("-%d", n)) {
			return n
		}
	}
	for n := 1; n <= 4; n++ {
		if hasMarker(name, fmt.Sprintf("_%d", n)) || strings.HasSuffix(name, fmt.Sprintf(".%d", n)) {
			return n
		}
	}
	return 0
}

func hasMarker(name, marker string) bool {
	for i := 0; ; {
		j := strings.Index(name[i:], marker)
		if j < 0 {
			return false
		}
		end := i + j + len(marker)
		if end == len(name) || name[end] < '0' || name[end] > '9' {
			return true
		}
		i = i + j + 1
	}
}

// OrderCapsuleFiles sorts four capsule paths by the index in their names.
// Every index from 1 to 4 must appear exactly once.
func OrderCapsuleFiles(paths []string) ([4]string, error) {
	var out [4]string
	if len(paths) != 4 {
		return out, fmt.Errorf("%w: need 4 capsule files, got %d", audioerr.ErrChannelCount, len(paths))
	}
	type indexed struct {
		path  string
		index int
	}
	files := make([]indexed, len(paths))
	for i, p := range paths {
		files[i] = indexed{p, CapsuleIndex(p)}
		if files[i].index == 0 {
			return out, fmt.Errorf("%w: no capsule index (-1..-4, _1.._4, .1...4) in %q", audioerr.ErrInvalidConfig, filepath.Base(p))
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].index < files[j].index })
	for i, f := range files {
		if f.index != i+1 {
			return out, fmt.Errorf("%w: capsule indices must be 1-4 once each", audioerr.ErrInvalidConfig)
		}
		out[i] = f.path
	}
	return out, nil
}

// OutputName returns the export file name for l at t, e.g. AmbiX_1700000000.wav.
func OutputName(l layout.Layout, t time.Time) string {
	return fmt.Sprintf("%s_%d.wav", l.FilePrefix(), t.Unix())
}
