package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/athompson36/ambi-glass-sub000/layout"
	"github.com/athompson36/ambi-glass-sub000/transcode"
)

func TestPrintSummaryClampedHeader(t *testing.T) {
	sum := transcode.Summary{Output: "out.wav", Layout: layout.AmbiX, SampleRate: 48000, Channels: 4, Frames: 48000, Chunks: 12}
	var plain bytes.Buffer
	printSummary(&plain, sum)
	if strings.Contains(plain.String(), "Warning") {
		t.Fatalf("unclamped summary warns: %q", plain.String())
	}

	sum.Clamped = true
	var b bytes.Buffer
	printSummary(&b, sum)
	out := b.String()
	if !strings.Contains(out, "header size fields were clamped") || !strings.Contains(out, "all samples were written") {
		t.Fatalf("missing clamp warning: %q", out)
	}
	if strings.Contains(out, "truncated") {
		t.Fatalf("clamp warning claims data loss: %q", out)
	}
}
