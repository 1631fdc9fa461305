package jobs

import (
	"testing"

	"github.com/gwlsn/firefly/internal/probe"
)

func jobWith(heightPx, bitrateKbps int) *EncoderJob {
	return &EncoderJob{
		JobData: &JobData{
			SourceVideo: SourceVideo{
				VideoAttributes: &probe.VideoAttributes{HeightPx: heightPx, BitrateKbps: bitrateKbps},
			},
		},
	}
}

func TestLowBitrateRule(t *testing.T) {
	if m := LowBitrateRule(jobWith(1080, 500)); m != 0.1 {
		t.Errorf("expected 0.1 for low-bitrate source, got %v", m)
	}
	if m := LowBitrateRule(jobWith(1080, 5000)); m != 1.0 {
		t.Errorf("expected 1.0 for normal-bitrate source, got %v", m)
	}
}

func TestResolutionRule(t *testing.T) {
	cases := []struct {
		height int
		want   float64
	}{
		{2160, 2.0},
		{1080, 1.5},
		{720, 1.0},
		{480, 0.5},
	}
	for _, c := range cases {
		if m := ResolutionRule(jobWith(c.height, 5000)); m != c.want {
			t.Errorf("height=%d: got %v, want %v", c.height, m, c.want)
		}
	}
}

func TestPrioritizeSortsDescending(t *testing.T) {
	low := jobWith(480, 5000)   // 1.0 * 0.5 = 0.5
	high := jobWith(2160, 5000) // 1.0 * 2.0 = 2.0
	jobsList := []*EncoderJob{low, high}

	Prioritize(jobsList, DefaultRules)

	if jobsList[0] != high || jobsList[1] != low {
		t.Errorf("expected high-priority job first, got order %v", jobsList)
	}
	if high.Priority != 2.0 {
		t.Errorf("expected high job priority 2.0, got %v", high.Priority)
	}
	if low.Priority != 0.5 {
		t.Errorf("expected low job priority 0.5, got %v", low.Priority)
	}
}
