package wavstream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/athompson36/ambi-glass-sub000/audioerr"
	"github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

func rampSignal(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(math.Sin(float64(i)*0.013)) * 0.8
	}
	return out
}

func writeFloatMono(t *testing.T, path string, data []float32) {
	t.Helper()
	w, err := Create(path, 48000, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteInterleaved(data); err != nil {
		t.Fatalf("WriteInterleaved: %v", err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func readAll(t *testing.T, r *Reader, chunk int) []float32 {
	t.Helper()
	var out []float32
	for {
		c, err := r.ReadChunk(chunk)
		if errors.Is(err, io.EOF) {
			if len(c) != 0 {
				t.Fatalf("expected empty chunk at EOF, got %d samples", len(c))
			}
			return out
		}
		if err != nil {
			t.Fatalf("ReadChunk: %v", err)
		}
		out = append(out, c...)
	}
}

func TestFloatRoundTripAcrossChunkSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mono.wav")
	src := rampSignal(10007)
	writeFloatMono(t, path, src)

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if got := binary.LittleEndian.Uint32(raw[40:]); got != uint32(len(src)*4) {
		t.Fatalf("data size field mismatch: got=%d want=%d", got, len(src)*4)
	}
	if got := binary.LittleEndian.Uint32(raw[4:]); got != uint32(36+len(src)*4) {
		t.Fatalf("riff size field mismatch: got=%d", got)
	}

	for _, chunk := range []int{1, 17, 4096} {
		r, err := Open(path)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if r.SampleRate() != 48000 || r.FormatTag() != FormatFloat || r.BitDepth() != 32 {
			t.Fatalf("unexpected metadata: sr=%d tag=%d bits=%d", r.SampleRate(), r.FormatTag(), r.BitDepth())
		}
		if r.TotalFrames() != int64(len(src)) {
			t.Fatalf("frames mismatch: got=%d want=%d", r.TotalFrames(), len(src))
		}
		got := readAll(t, r, chunk)
		r.Close()
		if len(got) != len(src) {
			t.Fatalf("chunk=%d: length mismatch got=%d want=%d", chunk, len(got), len(src))
		}
		for i := range src {
			if got[i] != src[i] {
				t.Fatalf("chunk=%d: sample %d mismatch got=%f want=%f", chunk, i, got[i], src[i])
			}
		}
	}
}

func TestReadPCMFixtures(t *testing.T) {
	for _, bits := range []int{16, 24, 32} {
		path := filepath.Join(t.TempDir(), "pcm.wav")
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		full := audio.IntMaxSignedValue(bits)
		ints := []int{0, full / 2, -full / 2, full / 4, -(full + 1)}
		enc := gowav.NewEncoder(f, 44100, bits, 1, 1)
		buf := &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: 44100, NumChannels: 1},
			Data:           ints,
			SourceBitDepth: bits,
		}
		if err := enc.Write(buf); err != nil {
			t.Fatalf("bits=%d encode: %v", bits, err)
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("bits=%d close encoder: %v", bits, err)
		}
		f.Close()

		r, err := Open(path)
		if err != nil {
			t.Fatalf("bits=%d Open: %v", bits, err)
		}
		if r.BitDepth() != bits || r.FormatTag() != FormatPCM || r.SampleRate() != 44100 {
			t.Fatalf("bits=%d unexpected metadata: bits=%d tag=%d sr=%d", bits, r.BitDepth(), r.FormatTag(), r.SampleRate())
		}
		got := readAll(t, r, 3)
		r.Close()
		want := []float64{0, 0.5, -0.5, 0.25, -1}
		if len(got) != len(want) {
			t.Fatalf("bits=%d length mismatch: %d", bits, len(got))
		}
		tol := 2.0 / math.Pow(2, float64(bits-1))
		for i := range want {
			if math.Abs(float64(got[i])-want[i]) > tol {
				t.Fatalf("bits=%d sample %d: got=%f want=%f", bits, i, got[i], want[i])
			}
		}
	}
}

func chunkBytes(id string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString(id)
	binary.Write(&b, binary.LittleEndian, uint32(len(body)))
	b.Write(body)
	if len(body)%2 == 1 {
		b.WriteByte(0)
	}
	return b.Bytes()
}

func buildWAV(chunks ...[]byte) []byte {
	var body bytes.Buffer
	body.WriteString("WAVE")
	for _, c := range chunks {
		body.Write(c)
	}
	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func fmtBody(tag uint16, channels uint16, rate uint32, bits uint16) []byte {
	var b bytes.Buffer
	align := channels * bits / 8
	binary.Write(&b, binary.LittleEndian, tag)
	binary.Write(&b, binary.LittleEndian, channels)
	binary.Write(&b, binary.LittleEndian, rate)
	binary.Write(&b, binary.LittleEndian, rate*uint32(align))
	binary.Write(&b, binary.LittleEndian, align)
	binary.Write(&b, binary.LittleEndian, bits)
	return b.Bytes()
}

func floatData(v ...float32) []byte {
	var b bytes.Buffer
	binary.Write(&b, binary.LittleEndian, v)
	return b.Bytes()
}

func TestOpenSkipsUnknownChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.wav")
	file := buildWAV(
		chunkBytes("LIST", []byte("INFOx")),
		chunkBytes("fmt ", fmtBody(FormatFloat, 1, 48000, 32)),
		chunkBytes("JUNK", make([]byte, 12)),
		chunkBytes("data", floatData(0.25, -0.5, 1)),
	)
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got := readAll(t, r, 16)
	want := []float32{0.25, -0.5, 1}
	if len(got) != len(want) {
		t.Fatalf("length mismatch: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got=%f want=%f", i, got[i], want[i])
		}
	}
}

func TestOpenAcceptsExtensibleFloat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ext.wav")
	body := fmtBody(FormatExtensible, 1, 96000, 32)
	var ext bytes.Buffer
	ext.Write(body)
	binary.Write(&ext, binary.LittleEndian, uint16(22)) // cbSize
	binary.Write(&ext, binary.LittleEndian, uint16(32)) // valid bits
	binary.Write(&ext, binary.LittleEndian, uint32(4))  // channel mask
	binary.Write(&ext, binary.LittleEndian, uint16(FormatFloat))
	ext.Write(make([]byte, 14))
	file := buildWAV(
		chunkBytes("fmt ", ext.Bytes()),
		chunkBytes("data", floatData(0.5)),
	)
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if r.FormatTag() != FormatFloat || r.SampleRate() != 96000 {
		t.Fatalf("unexpected metadata: tag=%d sr=%d", r.FormatTag(), r.SampleRate())
	}
	got := readAll(t, r, 4)
	if len(got) != 1 || got[0] != 0.5 {
		t.Fatalf("unexpected samples: %v", got)
	}
}

func TestOpenRejectsUnsupportedLayouts(t *testing.T) {
	cases := map[string][]byte{
		"stereo":    buildWAV(chunkBytes("fmt ", fmtBody(FormatPCM, 2, 48000, 16)), chunkBytes("data", make([]byte, 8))),
		"pcm8":      buildWAV(chunkBytes("fmt ", fmtBody(FormatPCM, 1, 48000, 8)), chunkBytes("data", make([]byte, 8))),
		"float64":   buildWAV(chunkBytes("fmt ", fmtBody(FormatFloat, 1, 48000, 64)), chunkBytes("data", make([]byte, 8))),
		"alaw":      buildWAV(chunkBytes("fmt ", fmtBody(6, 1, 8000, 8)), chunkBytes("data", make([]byte, 8))),
		"no-data":   buildWAV(chunkBytes("fmt ", fmtBody(FormatFloat, 1, 48000, 32))),
		"data-only": buildWAV(chunkBytes("data", make([]byte, 8))),
		"not-riff":  []byte("this is not a wav file at all, honestly"),
	}
	dir := t.TempDir()
	for name, content := range cases {
		path := filepath.Join(dir, name+".wav")
		if err := os.WriteFile(path, content, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		r, err := Open(path)
		if err == nil {
			r.Close()
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, audioerr.ErrFormatUnsupported) {
			t.Fatalf("%s: expected ErrFormatUnsupported, got %v", name, err)
		}
		if foreign := errors.Is(err, ErrNotWAVE); foreign != (name == "not-riff") {
			t.Fatalf("%s: ErrNotWAVE=%v: %v", name, foreign, err)
		}
	}
}

func TestOpenClassifiesForeignContainers(t *testing.T) {
	dir := t.TempDir()
	avi := []byte("RIFF\x04\x00\x00\x00AVI ")
	path := filepath.Join(dir, "clip.wav")
	if err := os.WriteFile(path, avi, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(path)
	if !errors.Is(err, ErrNotWAVE) || !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrNotWAVE, got %v", err)
	}
}

func TestOpenRejectsOversizedFmtChunk(t *testing.T) {
	// The fmt header claims 1 GiB; only 16 bytes follow.
	var fmtChunk bytes.Buffer
	fmtChunk.WriteString("fmt ")
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(1<<30))
	fmtChunk.Write(fmtBody(FormatFloat, 1, 48000, 32))
	path := filepath.Join(t.TempDir(), "huge-fmt.wav")
	if err := os.WriteFile(path, buildWAV(fmtChunk.Bytes()), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := Open(path)
	if !errors.Is(err, audioerr.ErrFormatUnsupported) {
		t.Fatalf("expected ErrFormatUnsupported, got %v", err)
	}
	if !strings.Contains(err.Error(), "fmt chunk of") {
		t.Fatalf("expected fmt size rejection, got %v", err)
	}
}

func TestOpenMissingFileIsIOFailure(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("expected ErrIO, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped os.ErrNotExist, got %v", err)
	}
}

func TestReadAfterEOFStaysEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	writeFloatMono(t, path, []float32{0.1, 0.2})
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	c, err := r.ReadChunk(10)
	if err != nil || len(c) != 2 {
		t.Fatalf("first read: len=%d err=%v", len(c), err)
	}
	for i := 0; i < 3; i++ {
		c, err = r.ReadChunk(10)
		if !errors.Is(err, io.EOF) || len(c) != 0 {
			t.Fatalf("read %d after end: len=%d err=%v", i, len(c), err)
		}
	}
	if r.Position() != 2 {
		t.Fatalf("position mismatch: %d", r.Position())
	}
}

func TestTruncatedDataEndsAtLastWholeFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.wav")
	file := buildWAV(
		chunkBytes("fmt ", fmtBody(FormatFloat, 1, 48000, 32)),
		chunkBytes("data", floatData(0.1, 0.2, 0.3, 0.4)),
	)
	// Drop the last sample and a half while keeping the declared size.
	file = file[:len(file)-6]
	if err := os.WriteFile(path, file, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got := readAll(t, r, 8)
	if len(got) != 2 {
		t.Fatalf("expected 2 whole frames, got %d", len(got))
	}
}

func TestWriterRejectsPartialFrames(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "b.wav"), 48000, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()
	if err := w.WriteInterleaved(make([]float32, 6)); !errors.Is(err, audioerr.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout, got %v", err)
	}
	if err := w.WritePlanar([][]float32{{1}, {2}, {3}}); !errors.Is(err, audioerr.ErrInvalidLayout) {
		t.Fatalf("expected ErrInvalidLayout for channel count, got %v", err)
	}
}

func TestWriterHeaderAndPlanar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quad.wav")
	w, err := Create(path, 48000, 4)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	planar := [][]float32{{1, 2}, {3, 4}, {5, 6}, {7, 8}}
	if err := w.WritePlanar(planar); err != nil {
		t.Fatalf("WritePlanar: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	res, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if res.Frames != 2 || res.DataBytes != 32 || res.Clamped {
		t.Fatalf("unexpected result: %+v", res)
	}
	// Second finalize is a no-op.
	res2, err := w.Finalize()
	if err != nil || res2 != res {
		t.Fatalf("second Finalize: res=%+v err=%v", res2, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close after Finalize: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(raw) != 44+32 {
		t.Fatalf("file size mismatch: %d", len(raw))
	}
	le := binary.LittleEndian
	if string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" || string(raw[36:40]) != "data" {
		t.Fatalf("bad chunk tags")
	}
	if le.Uint16(raw[20:]) != 3 || le.Uint16(raw[22:]) != 4 || le.Uint32(raw[24:]) != 48000 {
		t.Fatalf("bad fmt fields")
	}
	if le.Uint32(raw[28:]) != 48000*16 || le.Uint16(raw[32:]) != 16 || le.Uint16(raw[34:]) != 32 {
		t.Fatalf("bad byte rate or block align")
	}
	if le.Uint32(raw[40:]) != 32 {
		t.Fatalf("data size mismatch: %d", le.Uint32(raw[40:]))
	}
	// Frame 1, channel 2 holds 6.
	if v := math.Float32frombits(le.Uint32(raw[44+(1*4+2)*4:])); v != 6 {
		t.Fatalf("interleave mismatch: %f", v)
	}
}

func TestFinalizeClampsOversizedData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.wav")
	w, err := Create(path, 48000, 1, WithMaxDataBytes(8))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteInterleaved([]float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteInterleaved: %v", err)
	}
	res, err := w.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if !res.Clamped || res.DataBytes != 16 {
		t.Fatalf("expected clamped result, got %+v", res)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := binary.LittleEndian.Uint32(raw[40:]); got != 8 {
		t.Fatalf("clamped data size mismatch: %d", got)
	}
	if got := binary.LittleEndian.Uint32(raw[4:]); got != 44 {
		t.Fatalf("clamped riff size mismatch: %d", got)
	}
}

func TestWriteAfterFinalizeFails(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "c.wav"), 48000, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := w.WriteInterleaved([]float32{1}); err == nil {
		t.Fatalf("expected error writing after finalize")
	}
}

func TestFinalizeFailureIsSticky(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "f.wav"), 48000, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteInterleaved([]float32{1, 2}); err != nil {
		t.Fatalf("WriteInterleaved: %v", err)
	}
	// Header patches fail on a closed file.
	w.f.Close()
	if _, err := w.Finalize(); !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("Finalize: expected ErrIO, got %v", err)
	}
	if _, err := w.Finalize(); !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("second Finalize hid the failure: %v", err)
	}
	if err := w.Close(); !errors.Is(err, audioerr.ErrIO) {
		t.Fatalf("Close hid the failure: %v", err)
	}
}
