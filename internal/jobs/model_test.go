package jobs

import "testing"

func TestStageNumberSignIffError(t *testing.T) {
	for name, num := range stageNumbers {
		isError := IsErrorStage(name)
		if (num < 0) != isError {
			t.Errorf("stage %s: number=%d IsErrorStage=%v, expected matching sign", name, num, isError)
		}
	}
}

func TestIsSafeError(t *testing.T) {
	safe := []StageName{StageStoppedVMAFDelta, StageUnreachableVMAF, StageSkippedIsHDRVideo}
	for _, s := range safe {
		if !IsSafeError(s) {
			t.Errorf("%s should be a safe error", s)
		}
	}
	if IsSafeError(StageFailed) {
		t.Error("FAILED should not be a safe error")
	}
	if IsSafeError(StageCompleted) {
		t.Error("COMPLETED is not an error stage at all")
	}
}

func TestSetStageKeepsNumberConsistent(t *testing.T) {
	var s EncodingStage
	s.SetStage(StageSearchingCRF)
	if s.StageNumberFrom1 != 3 {
		t.Errorf("expected stage number 3, got %d", s.StageNumberFrom1)
	}
	s.SetStage(StageUnreachableVMAF)
	if s.StageNumberFrom1 != -3 {
		t.Errorf("expected stage number -3, got %d", s.StageNumberFrom1)
	}
}

func TestStem(t *testing.T) {
	job := &EncoderJob{JobData: &JobData{SourceVideo: SourceVideo{
		FileAttributes: FileAttributes{FileName: "movie.night.mp4"},
	}}}
	if got := job.Stem(); got != "movie.night" {
		t.Errorf("Stem() = %q, want %q", got, "movie.night")
	}
}
