package calib

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/cwbudde/algo-vecmath"
)

// Curve is a frequency response correction in dB. Freqs are ascending Hz
// and Gains has the same length.
type Curve struct {
	Freqs []float64 `json:"freqs"`
	Gains []float64 `json:"gains"`
}

// Len returns the number of points.
func (c Curve) Len() int { return min(len(c.Freqs), len(c.Gains)) }

// GainAt interpolates the gain at freq linearly in log frequency. Outside
// the curve the nearest end point is held. Curves with fewer than two
// points read as 0 dB.
func (c Curve) GainAt(freq float64) float64 {
	n := c.Len()
	if n < 2 {
		return 0
	}
	if freq <= c.Freqs[0] {
		return c.Gains[0]
	}
	if freq >= c.Freqs[n-1] {
		return c.Gains[n-1]
	}
	i := sort.SearchFloat64s(c.Freqs[:n], freq)
	if c.Freqs[i] == freq {
		return c.Gains[i]
	}
	f0, f1 := c.Freqs[i-1], c.Freqs[i]
	g0, g1 := c.Gains[i-1], c.Gains[i]
	t := (math.Log(freq) - math.Log(f0)) / (math.Log(f1) - math.Log(f0))
	return g0 + (g1-g0)*t
}

// ParseCurve reads "frequency gain" pairs separated by commas or
// whitespace, one per line. Blank lines, lines starting with '#' and any
// line mentioning "frequency" are skipped, as are lines that do not parse.
// The result is sorted by frequency.
func ParseCurve(r io.Reader) (Curve, error) {
	type point struct{ f, g float64 }
	var pts []point
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.Contains(strings.ToLower(line), "frequency") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(line, ",", " "))
		if len(fields) < 2 {
			continue
		}
		f, err1 := strconv.ParseFloat(fields[0], 64)
		g, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		pts = append(pts, point{f, g})
	}
	if err := sc.Err(); err != nil {
		return Curve{}, audioerr.IO("read calibration curve", err)
	}
	if len(pts) < 2 {
		return Curve{}, fmt.Errorf("%w: calibration curve needs at least 2 points, got %d", audioerr.ErrFormatUnsupported, len(pts))
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].f < pts[j].f })
	c := Curve{Freqs: make([]float64, len(pts)), Gains: make([]float64, len(pts))}
	for i, p := range pts {
		c.Freqs[i] = p.f
		c.Gains[i] = p.g
	}
	return c, nil
}

// LoadCurve parses the calibration file at path.
func LoadCurve(path string) (Curve, error) {
	f, err := os.Open(path)
	if err != nil {
		return Curve{}, audioerr.IO("open "+path, err)
	}
	defer f.Close()
	return ParseCurve(f)
}

// WriteCurve writes c as a commented "frequency,gain" text file.
func WriteCurve(w io.Writer, name string, c Curve) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Calibration file: %s\n", name)
	fmt.Fprintf(bw, "# Format: Frequency (Hz), Gain (dB)\n")
	fmt.Fprintf(bw, "# Frequency,Gain\n")
	for i := 0; i < c.Len(); i++ {
		fmt.Fprintf(bw, "%.2f,%.4f\n", c.Freqs[i], c.Gains[i])
	}
	if err := bw.Flush(); err != nil {
		return audioerr.IO("write calibration curve", err)
	}
	return nil
}

// SaveCurve writes c to dir/Calibrations/<name>_<unix>.cal and returns the
// path.
func SaveCurve(dir, name string, c Curve, t time.Time) (string, error) {
	sub := filepath.Join(dir, "Calibrations")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		return "", audioerr.IO("create "+sub, err)
	}
	path := filepath.Join(sub, fmt.Sprintf("%s_%d.cal", name, t.Unix()))
	f, err := os.Create(path)
	if err != nil {
		return "", audioerr.IO("create "+path, err)
	}
	if err := WriteCurve(f, name, c); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", audioerr.IO("close "+path, err)
	}
	return path, nil
}

// SaveCapsuleCurves saves one file per capsule named
// <baseName>_Capsule<n> plus their average as <baseName>_Average.
func SaveCapsuleCurves(dir, baseName string, curves []Curve, t time.Time) ([]string, error) {
	var paths []string
	for i, c := range curves {
		p, err := SaveCurve(dir, fmt.Sprintf("%s_Capsule%d", baseName, i+1), c, t)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	if len(curves) > 0 {
		p, err := SaveCurve(dir, baseName+"_Average", AverageCurves(curves), t)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

// AverageCurves averages curves on the frequency grid of the first one.
func AverageCurves(curves []Curve) Curve {
	if len(curves) == 0 {
		return Curve{}
	}
	freqs := append([]float64(nil), curves[0].Freqs[:curves[0].Len()]...)
	gains := make([]float64, len(freqs))
	row := make([]float64, len(freqs))
	for _, c := range curves {
		for i, f := range freqs {
			row[i] = c.GainAt(f)
		}
		vecmath.AddBlockInPlace(gains, row)
	}
	vecmath.ScaleBlockInPlace(gains, 1/float64(len(curves)))
	return Curve{Freqs: freqs, Gains: gains}
}

// DefaultCurvePoints is the resolution of CalibrationCurve.
const DefaultCurvePoints = 200

// CalibrationCurve returns reference - measured sampled at points
// log-spaced frequencies over the range both curves cover. points < 2
// uses DefaultCurvePoints.
func CalibrationCurve(reference, measured Curve, points int) Curve {
	if points < 2 {
		points = DefaultCurvePoints
	}
	lo, hi := 20.0, 20000.0
	if reference.Len() > 0 && measured.Len() > 0 {
		lo = math.Max(reference.Freqs[0], measured.Freqs[0])
		hi = math.Min(reference.Freqs[reference.Len()-1], measured.Freqs[measured.Len()-1])
	}
	logLo, logHi := math.Log10(lo), math.Log10(hi)
	c := Curve{Freqs: make([]float64, points), Gains: make([]float64, points)}
	for i := range points {
		f := math.Pow(10, logLo+float64(i)*(logHi-logLo)/float64(points-1))
		c.Freqs[i] = f
		c.Gains[i] = reference.GainAt(f) - measured.GainAt(f)
	}
	return c
}
