package jobs

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestJob(stage StageName) *EncoderJob {
	return &EncoderJob{
		JobData: &JobData{
			SourceVideo: SourceVideo{
				FileAttributes: FileAttributes{FileName: "sample.mp4"},
			},
			EncodingStage: EncodingStage{StageName: stage},
		},
	}
}

func TestValidateMissingSourceFails(t *testing.T) {
	dir := t.TempDir()
	job := newTestJob(StagePrepared)
	if Validate(job, dir, dir) {
		t.Error("expected validation to fail when source file is missing")
	}
}

func TestValidatePreparedWithSourcePresent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	job := newTestJob(StagePrepared)
	if !Validate(job, dir, dir) {
		t.Error("expected PREPARED job with present source to validate")
	}
}

func TestValidateSafeErrorStages(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, s := range []StageName{StageStoppedVMAFDelta, StageUnreachableVMAF} {
		job := newTestJob(s)
		if !Validate(job, dir, dir) {
			t.Errorf("expected safe-error stage %s to validate", s)
		}
	}
}

func TestValidateCRFFoundRequiresAcceptedIteration(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sample.mp4"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	job := newTestJob(StageCRFFound)
	job.JobData.EncodingStage.CRFRangeMin = 26
	job.JobData.EncodingStage.CRFRangeMax = 26
	vmaf := 96.4
	job.JobData.EncodingStage.LastVMAF = &vmaf

	if Validate(job, dir, dir) {
		t.Error("expected CRF_FOUND job with no matching iteration output to fail validation")
	}

	outputName := "sample_libx265_medium_crf_26.mp4"
	if err := os.WriteFile(filepath.Join(dir, outputName), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	job.JobData.Iterations = []Iteration{{
		FileAttributes:  FileAttributes{FileName: outputName},
		EncoderSettings: EncoderSettings{CRF: 26},
		ExecutionData:   ExecutionData{SourceToEncodedVMAFPercent: 96.4},
	}}

	if !Validate(job, dir, dir) {
		t.Error("expected CRF_FOUND job with matching accepted iteration to validate")
	}
}
