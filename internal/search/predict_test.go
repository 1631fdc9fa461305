package search

import (
	"testing"

	"github.com/gwlsn/firefly/internal/jobs"
)

func TestPredictReturnsMidpointWithOneIteration(t *testing.T) {
	last := 26
	iterations := []jobs.Iteration{
		{EncoderSettings: jobs.EncoderSettings{CRF: 26}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 98}},
	}
	got := predict(iterations, &last, 95, 97, 18, 32)
	if got != (18+32)/2 {
		t.Errorf("predict = %d, want midpoint %d", got, (18+32)/2)
	}
}

func TestPredictFitsLinearRegressionWithTwoIterations(t *testing.T) {
	last := 28
	iterations := []jobs.Iteration{
		{EncoderSettings: jobs.EncoderSettings{CRF: 20}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 99}},
		{EncoderSettings: jobs.EncoderSettings{CRF: 28}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 95}},
	}
	// linear fit: vmaf = 99 + (95-99)/(28-20) * (crf-20) = 99 - 0.5*(crf-20)
	// target = (95+97)/2 = 96 -> 96 = 99 - 0.5*(crf-20) -> crf = 26
	got := predict(iterations, &last, 95, 97, 18, 32)
	if got != 26 {
		t.Errorf("predict = %d, want 26", got)
	}
}

func TestPredictClampsToWindow(t *testing.T) {
	last := 20
	iterations := []jobs.Iteration{
		{EncoderSettings: jobs.EncoderSettings{CRF: 18}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 99.9}},
		{EncoderSettings: jobs.EncoderSettings{CRF: 20}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 99.8}},
	}
	got := predict(iterations, &last, 95, 97, 18, 20)
	if got < 18 || got > 20 {
		t.Errorf("predict = %d, expected to be clamped to [18,20]", got)
	}
}

func TestPredictFallsBackToMidpointOnDegenerateFit(t *testing.T) {
	last := 24
	iterations := []jobs.Iteration{
		{EncoderSettings: jobs.EncoderSettings{CRF: 24}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 96}},
		{EncoderSettings: jobs.EncoderSettings{CRF: 24}, ExecutionData: jobs.ExecutionData{SourceToEncodedVMAFPercent: 96}},
	}
	got := predict(iterations, &last, 95, 97, 18, 32)
	if got != (18+32)/2 {
		t.Errorf("predict = %d, want midpoint fallback %d", got, (18+32)/2)
	}
}
