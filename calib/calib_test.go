package calib

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/athompson36/ambi-glass-sub000/ambisonic"
	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/athompson36/ambi-glass-sub000/sweep"
)

func TestProfileID(t *testing.T) {
	p := Profile{DeviceID: "usb", SampleRate: 48000, BufferFrames: 256, CreatedAt: time.Unix(1700000000, 0)}
	if got := p.ID(); got != "usb_48000_256_1700000000" {
		t.Fatalf("unexpected id %q", got)
	}
}

func TestApplyProfile(t *testing.T) {
	var g ambisonic.CapsuleGains
	ApplyProfile(Profile{GainsDB: [4]float64{1, -2, 0.5, 0}}, &g)
	want := [4]float32{1, -2, 0.5, 0}
	if g.InterfaceDB != want {
		t.Fatalf("interface gains=%v want %v", g.InterfaceDB, want)
	}
	ApplyProfile(Profile{}, nil)
}

func TestFileStoreLatest(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "profiles"))
	if _, ok, err := s.LatestAny(); err != nil || ok {
		t.Fatalf("empty store: ok=%v err=%v", ok, err)
	}
	base := time.Unix(1700000000, 0)
	saves := []Profile{
		{DeviceID: "a", SampleRate: 48000, BufferFrames: 256, LatencyMs: 1, CreatedAt: base},
		{DeviceID: "a", SampleRate: 48000, BufferFrames: 256, LatencyMs: 2, CreatedAt: base.Add(time.Hour)},
		{DeviceID: "a", SampleRate: 44100, BufferFrames: 256, LatencyMs: 3, CreatedAt: base.Add(2 * time.Hour)},
		{DeviceID: "b", SampleRate: 48000, BufferFrames: 256, LatencyMs: 4, CreatedAt: base.Add(-time.Hour)},
	}
	for _, p := range saves {
		if err := s.Save(p); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, err := s.List()
	if err != nil || len(list) != 4 {
		t.Fatalf("List: len=%d err=%v", len(list), err)
	}
	p, ok, err := s.Latest("a", 48000, 256)
	if err != nil || !ok || p.LatencyMs != 2 {
		t.Fatalf("Latest: %+v ok=%v err=%v", p, ok, err)
	}
	if _, ok, _ := s.Latest("c", 48000, 256); ok {
		t.Fatal("expected no match for unknown device")
	}
	p, ok, err = s.LatestAny()
	if err != nil || !ok || p.LatencyMs != 3 {
		t.Fatalf("LatestAny: %+v ok=%v err=%v", p, ok, err)
	}

	// A second store on the same directory sees the persisted list.
	other := NewFileStore(s.Dir())
	if list, _ := other.List(); len(list) != 4 {
		t.Fatalf("reopened store has %d profiles", len(list))
	}
}

func TestFileStoreCorruptListIsAnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, interfaceFile)
	corrupt := []byte("{not json")
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(dir)
	if _, err := s.List(); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("List: expected ErrFormatUnsupported, got %v", err)
	}
	if _, _, err := s.LatestAny(); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("LatestAny: expected ErrFormatUnsupported, got %v", err)
	}
	if err := s.Save(Profile{DeviceID: "x"}); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("Save: expected ErrFormatUnsupported, got %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(corrupt) {
		t.Fatalf("corrupt list was overwritten: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, micFile), []byte("[{"), 0o644); err != nil {
		t.Fatal(err)
	}
	mic := ambisonic.DefaultMicProfile()
	mic.Name = "alice"
	if err := s.SaveMicProfile(mic); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("SaveMicProfile: expected ErrFormatUnsupported, got %v", err)
	}
}

func TestFileStoreUnreadableListIsIOFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory where the list file should be cannot be read as a file.
	if err := os.Mkdir(filepath.Join(dir, interfaceFile), 0o755); err != nil {
		t.Fatal(err)
	}
	s := NewFileStore(dir)
	if _, err := s.List(); !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if err := s.Save(Profile{DeviceID: "x"}); !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("Save: expected ErrIO, got %v", err)
	}
}

func TestFileStoreMissingListIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "not-yet"))
	list, err := s.List()
	if err != nil || len(list) != 0 {
		t.Fatalf("missing list: len=%d err=%v", len(list), err)
	}
	if _, ok, err := s.LatestAny(); err != nil || ok {
		t.Fatalf("LatestAny on empty store: ok=%v err=%v", ok, err)
	}
}

func TestFileStoreMicProfilesReplaceByName(t *testing.T) {
	s := NewFileStore(t.TempDir())
	a := ambisonic.DefaultMicProfile()
	a.Name = "alice"
	if err := s.SaveMicProfile(a); err != nil {
		t.Fatalf("SaveMicProfile: %v", err)
	}
	b := ambisonic.DefaultMicProfile()
	b.Name = "bob"
	if err := s.SaveMicProfile(b); err != nil {
		t.Fatalf("SaveMicProfile: %v", err)
	}
	a.CapsuleTrimsDB = [4]float32{1, 2, 3, 4}
	if err := s.SaveMicProfile(a); err != nil {
		t.Fatalf("SaveMicProfile: %v", err)
	}
	mics, err := s.MicProfiles()
	if err != nil || len(mics) != 2 {
		t.Fatalf("MicProfiles: len=%d err=%v", len(mics), err)
	}
	if mics[1].Name != "alice" || mics[1].CapsuleTrimsDB[3] != 4 {
		t.Fatalf("replaced profile not stored last: %+v", mics)
	}
	if err := s.SaveMicProfile(ambisonic.MicProfile{}); !errors.Is(err, audioerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for unnamed profile, got %v", err)
	}
}

func shortLoopback() LoopbackConfig {
	cfg := DefaultLoopbackConfig()
	cfg.Sweep = sweep.Spec{SampleRate: 48000, DurationS: 0.25, StartHz: 20, EndHz: 20000}
	cfg.Now = func() time.Time { return time.Unix(1700000000, 0) }
	return cfg
}

func TestLoopbackRecoversSimulatedDevice(t *testing.T) {
	p, details, err := RunDetailed(context.Background(), shortLoopback(), NewSimulatedDevice(48000))
	if err != nil {
		t.Fatalf("RunDetailed: %v", err)
	}
	for i, d := range details {
		if d.LagSamples != SimulatedDelays[i] {
			t.Fatalf("input %d lag=%d want %d", i, d.LagSamples, SimulatedDelays[i])
		}
		if math.Abs(p.GainsDB[i]-SimulatedGainsDB[i]) > 0.01 {
			t.Fatalf("input %d gain=%.4f dB want %.4f", i, p.GainsDB[i], SimulatedGainsDB[i])
		}
	}
	if math.Abs(p.LatencyMs-5.0) > 1e-9 {
		t.Fatalf("latency=%f ms want 5", p.LatencyMs)
	}
	if p.ID() != "default_48000_1024_1700000000" {
		t.Fatalf("unexpected profile id %q", p.ID())
	}
}

func TestLoopbackValidates(t *testing.T) {
	ctx := context.Background()
	if _, err := Run(ctx, shortLoopback(), nil); !errors.Is(err, audioerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig without device, got %v", err)
	}
	cfg := shortLoopback()
	cfg.DeviceID = ""
	if _, err := Run(ctx, cfg, NewSimulatedDevice(48000)); !errors.Is(err, audioerr.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for empty device id, got %v", err)
	}
	cfg = shortLoopback()
	cfg.InputChannels = [4]int{0, 1, 2, 7}
	if _, err := Run(ctx, cfg, NewSimulatedDevice(48000)); !errors.Is(err, audioerr.ErrChannelCount) {
		t.Fatalf("expected ErrChannelCount for missing input, got %v", err)
	}
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Run(cancelled, shortLoopback(), NewSimulatedDevice(48000)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestCurveGainAt(t *testing.T) {
	c := Curve{Freqs: []float64{100, 1000, 10000}, Gains: []float64{0, 10, -10}}
	cases := []struct {
		f, want float64
	}{
		{50, 0},
		{100, 0},
		{math.Sqrt(100 * 1000), 5},
		{1000, 10},
		{math.Sqrt(1000 * 10000), 0},
		{20000, -10},
	}
	for _, tc := range cases {
		if got := c.GainAt(tc.f); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("GainAt(%f)=%f want %f", tc.f, got, tc.want)
		}
	}
	if got := (Curve{Freqs: []float64{100}, Gains: []float64{3}}).GainAt(100); got != 0 {
		t.Fatalf("single-point curve should read 0 dB, got %f", got)
	}
}

func TestParseCurve(t *testing.T) {
	in := `# Calibration file: test
Frequency,Gain
1000, 1.5
20	-2
garbage line
5000 0.25
`
	c, err := ParseCurve(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCurve: %v", err)
	}
	wantF := []float64{20, 1000, 5000}
	wantG := []float64{-2, 1.5, 0.25}
	for i := range wantF {
		if c.Freqs[i] != wantF[i] || c.Gains[i] != wantG[i] {
			t.Fatalf("point %d = (%f, %f) want (%f, %f)", i, c.Freqs[i], c.Gains[i], wantF[i], wantG[i])
		}
	}
	if _, err := ParseCurve(strings.NewReader("# only\n100 1\n")); !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
}

func TestCurveWriteParseRoundTrip(t *testing.T) {
	c := Curve{Freqs: []float64{20, 1000, 20000}, Gains: []float64{-1.25, 0, 3.5}}
	var buf bytes.Buffer
	if err := WriteCurve(&buf, "mic", c); err != nil {
		t.Fatalf("WriteCurve: %v", err)
	}
	if !strings.Contains(buf.String(), "1000.00,0.0000") {
		t.Fatalf("unexpected curve text:\n%s", buf.String())
	}
	got, err := ParseCurve(&buf)
	if err != nil {
		t.Fatalf("ParseCurve: %v", err)
	}
	for i := range c.Freqs {
		if got.Freqs[i] != c.Freqs[i] || got.Gains[i] != c.Gains[i] {
			t.Fatalf("round trip mismatch at %d: %+v", i, got)
		}
	}
}

func TestSaveCapsuleCurves(t *testing.T) {
	dir := t.TempDir()
	curves := []Curve{
		{Freqs: []float64{100, 1000}, Gains: []float64{0, 2}},
		{Freqs: []float64{100, 1000}, Gains: []float64{2, 4}},
	}
	paths, err := SaveCapsuleCurves(dir, "alice", curves, time.Unix(42, 0))
	if err != nil {
		t.Fatalf("SaveCapsuleCurves: %v", err)
	}
	if len(paths) != 3 || filepath.Base(paths[2]) != "alice_Average_42.cal" {
		t.Fatalf("unexpected paths: %v", paths)
	}
	avg, err := LoadCurve(paths[2])
	if err != nil {
		t.Fatalf("LoadCurve: %v", err)
	}
	if avg.Gains[0] != 1 || avg.Gains[1] != 3 {
		t.Fatalf("unexpected average: %+v", avg)
	}
}

func TestAverageCurvesResamplesOntoFirstGrid(t *testing.T) {
	a := Curve{Freqs: []float64{100, 1000, 10000}, Gains: []float64{0, 0, 0}}
	b := Curve{Freqs: []float64{100, 10000}, Gains: []float64{6, 6}}
	c := Curve{Freqs: []float64{100, 10000}, Gains: []float64{0, 12}}
	avg := AverageCurves([]Curve{a, b, c})
	if avg.Len() != 3 || avg.Freqs[1] != 1000 {
		t.Fatalf("grid=%v want first curve's", avg.Freqs)
	}
	// c is log-interpolated: 6 dB at 1 kHz.
	want := []float64{2, 4, 6}
	for i, g := range avg.Gains {
		if math.Abs(g-want[i]) > 1e-9 {
			t.Fatalf("gain %d = %f want %f", i, g, want[i])
		}
	}
	if AverageCurves(nil).Len() != 0 {
		t.Fatalf("empty input should give an empty curve")
	}
}

func TestCalibrationCurveIsDifference(t *testing.T) {
	ref := Curve{Freqs: []float64{20, 20000}, Gains: []float64{3, 3}}
	meas := Curve{Freqs: []float64{50, 10000}, Gains: []float64{1, 1}}
	c := CalibrationCurve(ref, meas, 0)
	if c.Len() != DefaultCurvePoints {
		t.Fatalf("points=%d want %d", c.Len(), DefaultCurvePoints)
	}
	if math.Abs(c.Freqs[0]-50) > 1e-9 || math.Abs(c.Freqs[c.Len()-1]-10000) > 1e-6 {
		t.Fatalf("range=%f..%f want 50..10000", c.Freqs[0], c.Freqs[c.Len()-1])
	}
	for i, g := range c.Gains {
		if math.Abs(g-2) > 1e-9 {
			t.Fatalf("gain %d = %f want 2", i, g)
		}
	}
}

func sine(freq float64, sr, n int, amp float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sr)))
	}
	return out
}

func TestAnalyzeResponsePeaksAtTone(t *testing.T) {
	const sr = 48000
	// 1500 Hz sits exactly on bin 128 of a 4096-point transform.
	c, err := AnalyzeResponse(sine(1500, sr, sr/2, 0.5), sr, 0, 0)
	if err != nil {
		t.Fatalf("AnalyzeResponse: %v", err)
	}
	if c.Freqs[0] < 20 || c.Freqs[c.Len()-1] > 20000 {
		t.Fatalf("bins outside 20 Hz - 20 kHz: %f..%f", c.Freqs[0], c.Freqs[c.Len()-1])
	}
	best := 0
	for i, g := range c.Gains {
		if g > c.Gains[best] {
			best = i
		}
	}
	if math.Abs(c.Freqs[best]-1500) > 1e-9 {
		t.Fatalf("peak at %f Hz want 1500", c.Freqs[best])
	}
	if _, err := AnalyzeResponse(make([]float32, 100), sr, 4096, 2048); !errors.Is(err, audioerr.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestCapsuleCalibrationsCorrectLevel(t *testing.T) {
	const sr = 48000
	ref := sine(1500, sr, sr/2, 0.5)
	quiet := sine(1500, sr, sr/2, 0.25)
	curves, err := CapsuleCalibrations(ref, [][]float32{ref, quiet}, sr)
	if err != nil {
		t.Fatalf("CapsuleCalibrations: %v", err)
	}
	if len(curves) != 2 {
		t.Fatalf("expected 2 curves, got %d", len(curves))
	}
	if g := curves[0].GainAt(1500); math.Abs(g) > 1e-6 {
		t.Fatalf("identical capsule needs no correction, got %f dB", g)
	}
	// Half amplitude is -6.02 dB; the correction boosts it back.
	if g := curves[1].GainAt(1500); math.Abs(g-6.0206) > 0.05 {
		t.Fatalf("correction at 1500 Hz = %f dB want ~6.02", g)
	}
}
