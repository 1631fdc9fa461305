package pipeline

import (
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/gwlsn/firefly/internal/fileutil"
	"github.com/gwlsn/firefly/internal/jobs"
	"github.com/gwlsn/firefly/internal/journal"
	"github.com/gwlsn/firefly/internal/lock"
	"github.com/gwlsn/firefly/internal/logger"
)

// cleanupConcurrency bounds how many stale iteration outputs are deleted
// at once during terminal cleanup.
const cleanupConcurrency = 4

// finalize applies spec.md §4.11's terminal cleanup rules to job, based
// on its current stage, and tallies the outcome into s. Jobs not yet at
// a terminal stage are left untouched.
func (d *Driver) finalize(job *jobs.EncoderJob, s *summary) {
	stage := &job.JobData.EncodingStage

	switch stage.StageName {
	case jobs.StageCRFFound:
		d.finalizeCRFFound(job, s)
	case jobs.StageStoppedVMAFDelta, jobs.StageUnreachableVMAF, jobs.StageSkippedIsHDRVideo:
		d.finalizeSafeError(job, s)
	}
}

// finalizeCRFFound keeps the single iteration at the collapsed CRF
// window, deletes every other iteration's output, falls back to a source
// copy if that final output is somehow missing, and advances the stage
// to COMPLETED (spec.md §4.11).
func (d *Driver) finalizeCRFFound(job *jobs.EncoderJob, s *summary) {
	jd := job.JobData
	stage := &jd.EncodingStage
	finalCRF := stage.CRFRangeMin

	var keep *jobs.Iteration
	var toDelete []string
	for i := range jd.Iterations {
		it := &jd.Iterations[i]
		if it.EncoderSettings.CRF == finalCRF && keep == nil {
			keep = it
			continue
		}
		toDelete = append(toDelete, filepath.Join(d.Config.Params.OutputDir, it.FileAttributes.FileName))
	}
	deleteConcurrently(d.Lock, toDelete)

	finalPath := filepath.Join(d.Config.Params.OutputDir, jd.SourceVideo.FileAttributes.FileName)
	if keep != nil {
		finalPath = filepath.Join(d.Config.Params.OutputDir, keep.FileAttributes.FileName)
	}
	if !fileExists(finalPath) {
		finalPath = d.copySourceFallback(job)
	}

	stage.SetStage(jobs.StageCompleted)
	if err := journal.Save(d.Lock, job.MetadataJSONFilePath, jd); err != nil {
		logger.Warn("pipeline: persisting COMPLETED failed", "job", job.Stem(), "error", err)
	}

	s.completed++
	s.bytesIn += jd.SourceVideo.FileAttributes.FileSizeBytes
	if size, err := fileutil.SizeBytes(finalPath); err == nil {
		s.bytesOut += size
	}
}

// finalizeSafeError handles the three safe-error terminals: among
// iterations whose VMAF lies in [vmaf_min, vmaf_max], it keeps the one
// nearest the midpoint of that band (SPEC_FULL.md's best-iteration
// selection) and deletes every other iteration output; if none are
// acceptable, every iteration output is deleted and the source is copied
// through as the final output.
func (d *Driver) finalizeSafeError(job *jobs.EncoderJob, s *summary) {
	jd := job.JobData
	cfg := d.Config.Params
	mid := (cfg.VMAFMin + cfg.VMAFMax) / 2

	var best *jobs.Iteration
	bestDist := 0.0
	for i := range jd.Iterations {
		it := &jd.Iterations[i]
		v := it.ExecutionData.SourceToEncodedVMAFPercent
		if v < cfg.VMAFMin || v > cfg.VMAFMax {
			continue
		}
		dist := v - mid
		if dist < 0 {
			dist = -dist
		}
		if best == nil || dist < bestDist {
			best = it
			bestDist = dist
		}
	}

	var toDelete []string
	for i := range jd.Iterations {
		it := &jd.Iterations[i]
		if best != nil && it == best {
			continue
		}
		toDelete = append(toDelete, filepath.Join(cfg.OutputDir, it.FileAttributes.FileName))
	}
	deleteConcurrently(d.Lock, toDelete)

	finalPath := filepath.Join(cfg.OutputDir, jd.SourceVideo.FileAttributes.FileName)
	if best != nil {
		finalPath = filepath.Join(cfg.OutputDir, best.FileAttributes.FileName)
	}
	if !fileExists(finalPath) {
		finalPath = d.copySourceFallback(job)
	}

	switch jd.EncodingStage.StageName {
	case jobs.StageSkippedIsHDRVideo:
		s.skippedHDR++
	default:
		s.stoppedOrDelta++
	}
	s.bytesIn += jd.SourceVideo.FileAttributes.FileSizeBytes
	if size, err := fileutil.SizeBytes(finalPath); err == nil {
		s.bytesOut += size
	}
}

// copySourceFallback copies the original source to output_dir under its
// own filename, used when no iteration output survives terminal cleanup
// (spec.md §4.11, §8 boundary behaviour).
func (d *Driver) copySourceFallback(job *jobs.EncoderJob) string {
	dest := filepath.Join(d.Config.Params.OutputDir, job.JobData.SourceVideo.FileAttributes.FileName)
	if fileExists(dest) {
		return dest
	}
	if err := fileutil.CopyFile(d.Lock, job.SourceFilePath, dest); err != nil {
		logger.Warn("pipeline: source fallback copy failed", "job", job.Stem(), "error", err)
	}
	return dest
}

func fileExists(path string) bool {
	_, err := fileutil.SizeBytes(path)
	return err == nil
}

// deleteConcurrently removes every path in paths, bounded to
// cleanupConcurrency in flight at once (SPEC_FULL.md's errgroup-bounded
// cleanup fan-out). Individual failures are logged, not propagated —
// terminal cleanup is best-effort.
func deleteConcurrently(lm *lock.Manager, paths []string) {
	g := new(errgroup.Group)
	g.SetLimit(cleanupConcurrency)
	for _, p := range paths {
		path := p
		g.Go(func() error {
			if err := fileutil.Delete(lm, path); err != nil {
				logger.Warn("pipeline: deleting non-final iteration output failed", "path", path, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
