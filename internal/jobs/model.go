// Package jobs defines the persisted job data model of spec.md §3, and
// the validator/prioritizer of §4.9. Grounded on
// _examples/original_source/app/model.py and app/model/json/*.py for
// field shape, and the teacher's internal/jobs/job.go for the Go-struct
// idiom (plain exported fields, JSON tags, value-type composition).
package jobs

import (
	"time"

	"github.com/gwlsn/firefly/internal/probe"
)

// StageName is one of the named positions of spec.md §3 EncodingStage.
type StageName string

const (
	StagePrepared           StageName = "PREPARED"
	StageMetadataExtracted  StageName = "METADATA_EXTRACTED"
	StageSearchingCRF       StageName = "SEARCHING_CRF"
	StageCRFFound           StageName = "CRF_FOUND"
	StageCompleted          StageName = "COMPLETED"
	StageFailed             StageName = "FAILED"
	StageStoppedVMAFDelta   StageName = "STOPPED_VMAF_DELTA"
	StageUnreachableVMAF    StageName = "UNREACHABLE_VMAF"
	StageSkippedIsHDRVideo  StageName = "SKIPPED_IS_HDR_VIDEO"
)

// stageNumbers maps each stage name to its signed stage_number_from_1,
// per spec.md §3: negative numbers are error kinds.
var stageNumbers = map[StageName]int{
	StagePrepared:          1,
	StageMetadataExtracted: 2,
	StageSearchingCRF:      3,
	StageCRFFound:          4,
	StageCompleted:         5,
	StageFailed:            -1,
	StageStoppedVMAFDelta:  -2,
	StageUnreachableVMAF:   -3,
	StageSkippedIsHDRVideo: -4,
}

// StageNumber returns the signed stage number for a stage name.
func StageNumber(name StageName) int {
	return stageNumbers[name]
}

// IsErrorStage reports whether a stage name is an error kind (negative
// stage_number_from_1).
func IsErrorStage(name StageName) bool {
	return StageNumber(name) < 0
}

// IsSafeError reports whether a terminal error kind is "safe" per
// spec.md's glossary: a best-effort output (or the original) can be
// retained for the user.
func IsSafeError(name StageName) bool {
	switch name {
	case StageStoppedVMAFDelta, StageUnreachableVMAF, StageSkippedIsHDRVideo:
		return true
	}
	return false
}

// FileAttributes identifies a file's name and size.
type FileAttributes struct {
	FileName      string `json:"file_name"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// SourceVideo identifies a discovered input file (spec.md §3).
type SourceVideo struct {
	FileAttributes  FileAttributes             `json:"file_attributes"`
	SHA256Hash      string                     `json:"sha256_hash"`
	VideoAttributes *probe.VideoAttributes     `json:"video_attributes,omitempty"`
	FfmpegMetadata  *probe.ContainerMetadata   `json:"ffmpeg_metadata,omitempty"`
}

// EncodingStage is the job's position in the state machine (spec.md §3).
type EncodingStage struct {
	StageNumberFrom1   int       `json:"stage_number_from_1"`
	StageName          StageName `json:"stage_name"`
	CRFRangeMin        int       `json:"crf_range_min"`
	CRFRangeMax        int       `json:"crf_range_max"`
	LastVMAF           *float64  `json:"last_vmaf"`
	LastCRF            *int      `json:"last_crf"`
	JobTotalTimeSeconds *float64 `json:"job_total_time_seconds"`
}

// SetStage transitions the stage, keeping stage_number_from_1 consistent
// with the name per spec.md §3's invariant.
func (s *EncodingStage) SetStage(name StageName) {
	s.StageName = name
	s.StageNumberFrom1 = StageNumber(name)
}

// EncoderSettings describes the encoder invocation of one iteration.
type EncoderSettings struct {
	Encoder         string `json:"encoder"`
	Preset          string `json:"preset"`
	CRF             int    `json:"crf"`
	CPUThreadsToUse int    `json:"cpu_threads_to_use"`
}

// ExecutionData holds the measured results of one iteration.
type ExecutionData struct {
	CommandUsed               string    `json:"ffmpeg_command_used"`
	SourceToEncodedVMAFPercent float64  `json:"source_to_encoded_vmaf_percent"`
	EncodingTimeSeconds        float64  `json:"encoding_time_seconds"`
	VMAFComputationTimeSeconds float64  `json:"vmaf_computation_time_seconds"`
	TotalIterationTimeSeconds  float64  `json:"total_iteration_time_seconds"`
	VMAFThreadCount            int      `json:"vmaf_thread_count"`
	EncodingFinishedAt         time.Time `json:"encoding_finished_datetime"`
}

// Environment records tool versions and host info for provenance.
type Environment struct {
	ScriptVersion  string `json:"script_version"`
	FfmpegVersion  string `json:"ffmpeg_version"`
	EncoderVersion string `json:"encoder_version"`
	CPUName        string `json:"cpu_name"`
	CPUThreads     int    `json:"cpu_threads"`
	RunID          string `json:"run_id"`
}

// Iteration is an immutable record of one attempted encode (spec.md §3).
// Iterations are append-only within a job.
type Iteration struct {
	FileAttributes  FileAttributes           `json:"file_attributes"`
	SHA256Hash      string                   `json:"sha256_hash"`
	VideoAttributes *probe.VideoAttributes   `json:"video_attributes,omitempty"`
	EncoderSettings EncoderSettings          `json:"encoder_settings"`
	ExecutionData   ExecutionData            `json:"execution_data"`
	Environment     Environment              `json:"environment"`
	FfmpegMetadata  *probe.ContainerMetadata `json:"ffmpeg_metadata,omitempty"`
}

// JobData is the persisted unit spec.md §3 defines: the journal's
// contents.
type JobData struct {
	SchemaVersion int           `json:"schema_version"`
	SourceVideo   SourceVideo   `json:"source_video"`
	EncodingStage EncodingStage `json:"encoding_stage"`
	Iterations    []Iteration   `json:"iterations"`
}

// EncoderJob is the runtime handle spec.md §3 defines: a JobData paired
// with its source path, journal path, and a mutable priority score.
type EncoderJob struct {
	SourceFilePath       string
	MetadataJSONFilePath string
	JobData              *JobData
	Priority              float64
}

// Stem returns the source file's name without extension, used to derive
// journal and output-iteration file names.
func (j *EncoderJob) Stem() string {
	name := j.JobData.SourceVideo.FileAttributes.FileName
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
