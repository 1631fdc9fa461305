package ffmpeg

import (
	"strings"
	"testing"
	"time"

	"github.com/gwlsn/firefly/internal/probe"
)

func TestParseProgressExtractsOutTime(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	p, ok := ParseProgress("out_time_ms=5000000", 20, start)
	if !ok {
		t.Fatal("expected a progress sample")
	}
	if p.EncodedSeconds != 5 {
		t.Errorf("EncodedSeconds = %v, want 5", p.EncodedSeconds)
	}
	if p.Percent != 25 {
		t.Errorf("Percent = %v, want 25", p.Percent)
	}
}

func TestParseProgressIgnoresUnrelatedLines(t *testing.T) {
	if _, ok := ParseProgress("frame=120 fps=30", 20, time.Now()); ok {
		t.Error("expected no progress sample from a non-progress line")
	}
}

func TestParseProgressClampsPercentAt100(t *testing.T) {
	start := time.Now().Add(-10 * time.Second)
	p, ok := ParseProgress("out_time_ms=999000000", 20, start)
	if !ok {
		t.Fatal("expected a progress sample")
	}
	if p.Percent != 100 {
		t.Errorf("Percent = %v, want clamped to 100", p.Percent)
	}
}

func TestFormatDurationDropsZeroLeadingUnits(t *testing.T) {
	cases := map[time.Duration]string{
		45 * time.Second:                   "45s",
		2*time.Minute + 3*time.Second:      "2m3s",
		1*time.Hour + 2*time.Minute:        "1h2m",
		0:                                  "0s",
	}
	for d, want := range cases {
		if got := formatDuration(d); got != want {
			t.Errorf("formatDuration(%v) = %q, want %q", d, got, want)
		}
	}
}

func TestBuildEncodeArgsIncludesX265Params(t *testing.T) {
	cm := &probe.ContainerMetadata{ColorPrimaries: "bt709", ColorTRC: "bt709", ColorSpace: "bt709"}
	args := BuildEncodeArgs("in.mp4", "out.mp4", cm, 24, 8, "medium")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "crf=24:pools=8:ssim-rd=1:aq-mode=3") {
		t.Errorf("missing x265-params string: %s", joined)
	}
	if !strings.Contains(joined, "-color_primaries bt709") {
		t.Errorf("missing colour metadata pass-through: %s", joined)
	}
	if !strings.Contains(joined, "-tag:v hvc1") {
		t.Errorf("missing hvc1 tag: %s", joined)
	}
}

func TestBuildEncodeArgsOmitsColourWhenAbsent(t *testing.T) {
	args := BuildEncodeArgs("in.mp4", "out.mp4", nil, 24, 8, "medium")
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "-color_primaries") {
		t.Errorf("expected no colour metadata flags without container metadata: %s", joined)
	}
}
