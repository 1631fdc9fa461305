// Validator implementing spec.md §4.9: drop invalid jobs, keeping the
// durable journal consistent with what's actually on disk. Grounded on
// _examples/original_source/app/job_validator.py.
package jobs

import (
	"os"
	"path/filepath"
)

// Validate reports whether job is valid per spec.md §4.9. inputDir and
// outputDir are needed to resolve the source and output file paths.
func Validate(job *EncoderJob, inputDir, outputDir string) bool {
	if job.JobData == nil {
		return false
	}

	sourcePath := filepath.Join(inputDir, job.JobData.SourceVideo.FileAttributes.FileName)
	if _, err := os.Stat(sourcePath); err != nil {
		return false
	}

	switch job.JobData.EncodingStage.StageName {
	case StagePrepared, StageMetadataExtracted, StageSearchingCRF,
		StageStoppedVMAFDelta, StageUnreachableVMAF:
		return true
	case StageCRFFound, StageCompleted:
		return hasAcceptedFinalIteration(job, outputDir)
	default:
		// Any other terminal/error kind (FAILED, SKIPPED_IS_HDR_VIDEO) is
		// considered valid to load; the driver decides what to do with it.
		return true
	}
}

// hasAcceptedFinalIteration requires that some iteration was encoded at
// exactly the collapsed CRF window and matches last_vmaf, with its
// output file still present.
func hasAcceptedFinalIteration(job *EncoderJob, outputDir string) bool {
	stage := job.JobData.EncodingStage
	if stage.CRFRangeMin != stage.CRFRangeMax {
		return false
	}
	if stage.LastVMAF == nil {
		return false
	}

	for _, it := range job.JobData.Iterations {
		if it.EncoderSettings.CRF != stage.CRFRangeMin {
			continue
		}
		if it.ExecutionData.SourceToEncodedVMAFPercent != *stage.LastVMAF {
			continue
		}
		outputPath := filepath.Join(outputDir, it.FileAttributes.FileName)
		if _, err := os.Stat(outputPath); err == nil {
			return true
		}
	}
	return false
}
