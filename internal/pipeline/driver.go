// Package pipeline implements spec.md §4.11: the top-level orchestration
// of one firefly run — compose, validate, extract metadata, filter HDR
// sources, prioritize, search, and terminal cleanup — all under the
// single application lock. Grounded on
// _examples/original_source/app/main.py's top-level orchestration shape
// (its resolution-bucket-sorting body is an out-of-scope peripheral
// script and is not used) and the teacher's internal/jobs/worker.go
// processJob supervisory-loop idiom.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/gwlsn/firefly/internal/compose"
	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/ffmpeg"
	"github.com/gwlsn/firefly/internal/fileutil"
	"github.com/gwlsn/firefly/internal/jobs"
	"github.com/gwlsn/firefly/internal/journal"
	"github.com/gwlsn/firefly/internal/lock"
	"github.com/gwlsn/firefly/internal/logger"
	"github.com/gwlsn/firefly/internal/probe"
	"github.com/gwlsn/firefly/internal/search"
)

// Driver runs one end-to-end pass over every job in output_dir.
type Driver struct {
	Config     *config.Config
	Lock       *lock.Manager
	Prober     *probe.Prober
	Supervisor *ffmpeg.Supervisor
	RunID      string
}

// NewDriver builds a Driver, generating a fresh per-run correlation ID
// (spec.md's Environment.run_id, SPEC_FULL.md's "per-run correlation ID"
// supplemented feature).
func NewDriver(cfg *config.Config, lm *lock.Manager, prober *probe.Prober, sup *ffmpeg.Supervisor) *Driver {
	return &Driver{Config: cfg, Lock: lm, Prober: prober, Supervisor: sup, RunID: uuid.NewString()}
}

// summary tallies one run's outcomes for the closing structured log line.
type summary struct {
	completed      int
	skippedHDR     int
	stoppedOrDelta int
	failed         int
	bytesIn        int64
	bytesOut       int64
}

// Run executes one complete pass: compose, validate, extract metadata,
// filter HDR, prioritize, search, and terminal cleanup (spec.md §4.11).
// It holds the application lock for the whole pass, so a second instance
// pointed at the same output_dir fails to acquire it, and processes jobs
// one after another, matching spec.md §5's "single driving thread"
// concurrency model.
// Cancellation (ctx.Done) stops the run after the active iteration is
// killed; already-durable journal state is left untouched (resumable).
func (d *Driver) Run(ctx context.Context) error {
	logger.Info("pipeline: run starting", "run_id", d.RunID)

	release, err := d.Lock.AcquireApplication()
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	defer release.Release()

	allJobs, err := compose.Compose(d.Config, d.Lock)
	if err != nil {
		return fmt.Errorf("pipeline: composing jobs: %w", err)
	}

	allJobs = d.dropInvalid(allJobs)
	d.extractMetadata(ctx, allJobs)
	searchable := d.filterHDR(allJobs)

	jobs.Prioritize(searchable, jobs.DefaultRules)

	var s summary
	for _, job := range searchable {
		if err := ctx.Err(); err != nil {
			logger.Warn("pipeline: cancelled, stopping before next job", "run_id", d.RunID)
			break
		}
		d.runOneJob(ctx, job, &s)
	}

	for _, job := range allJobs {
		d.finalize(job, &s)
	}

	logger.Info("pipeline: run complete",
		"run_id", d.RunID,
		"completed", s.completed,
		"skipped_hdr", s.skippedHDR,
		"stopped_or_unreachable", s.stoppedOrDelta,
		"failed", s.failed,
		"bytes_in", humanize.Bytes(uint64(max64(s.bytesIn, 0))),
		"bytes_out", humanize.Bytes(uint64(max64(s.bytesOut, 0))),
	)
	return nil
}

// runOneJob takes the per-source job lock and drives one job's CRF
// search. A job-lock timeout or an encoding/VMAF failure is logged and
// skipped (spec.md §7): the journal is left at its last persisted
// checkpoint and the driver moves on to the next job.
func (d *Driver) runOneJob(ctx context.Context, job *jobs.EncoderJob, s *summary) {
	jobLock, err := d.Lock.AcquireJob(job.Stem())
	if err != nil {
		logger.Warn("pipeline: job lock timed out, skipping", "job", job.Stem(), "error", err)
		return
	}
	defer jobLock.Release()

	engine := search.NewEngine(d.Config, d.Lock, d.Prober, d.Supervisor, d.RunID)
	if err := engine.Run(ctx, job, job.MetadataJSONFilePath); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, ffmpeg.ErrCancelled) {
			logger.Warn("pipeline: job cancelled mid-search", "job", job.Stem())
			return
		}
		logger.Warn("pipeline: iteration failed, job stays in SEARCHING_CRF for next run", "job", job.Stem(), "error", err)
		s.failed++
		return
	}
}

// dropInvalid re-validates every job (spec.md §4.11's explicit "Validate"
// step following Compose), dropping (without deleting the journal again
// — compose already owns that) any job that somehow fails validation
// between composition and this pass.
func (d *Driver) dropInvalid(all []*jobs.EncoderJob) []*jobs.EncoderJob {
	kept := all[:0]
	for _, job := range all {
		if jobs.Validate(job, d.Config.Params.InputDir, d.Config.Params.OutputDir) {
			kept = append(kept, job)
		} else {
			logger.Warn("pipeline: dropping job that failed re-validation", "job", job.Stem())
		}
	}
	return kept
}

// extractMetadata probes every PREPARED job's source file, advancing it
// to METADATA_EXTRACTED (spec.md §4.11).
func (d *Driver) extractMetadata(ctx context.Context, all []*jobs.EncoderJob) {
	for _, job := range all {
		if job.JobData.EncodingStage.StageName != jobs.StagePrepared {
			continue
		}

		va, cm, err := d.Prober.Probe(ctx, job.SourceFilePath)
		if err != nil {
			logger.Warn("pipeline: probing source failed, leaving job PREPARED", "job", job.Stem(), "error", err)
			continue
		}
		job.JobData.SourceVideo.VideoAttributes = va
		job.JobData.SourceVideo.FfmpegMetadata = cm
		job.JobData.EncodingStage.SetStage(jobs.StageMetadataExtracted)

		if err := journal.Save(d.Lock, job.MetadataJSONFilePath, job.JobData); err != nil {
			logger.Warn("pipeline: persisting metadata extraction failed", "job", job.Stem(), "error", err)
		}
	}
}

// filterHDR routes HDR sources to SKIPPED_IS_HDR_VIDEO with a
// straight source copy to output, and returns every remaining job still
// eligible for CRF search (METADATA_EXTRACTED or a resumed SEARCHING_CRF).
func (d *Driver) filterHDR(all []*jobs.EncoderJob) []*jobs.EncoderJob {
	var searchable []*jobs.EncoderJob
	for _, job := range all {
		stage := &job.JobData.EncodingStage
		if stage.StageName == jobs.StageMetadataExtracted && job.JobData.SourceVideo.FfmpegMetadata != nil && job.JobData.SourceVideo.FfmpegMetadata.IsHDR() {
			dest := filepath.Join(d.Config.Params.OutputDir, job.JobData.SourceVideo.FileAttributes.FileName)
			if err := fileutil.CopyFile(d.Lock, job.SourceFilePath, dest); err != nil {
				logger.Warn("pipeline: copying HDR source through failed", "job", job.Stem(), "error", err)
				continue
			}
			stage.SetStage(jobs.StageSkippedIsHDRVideo)
			if err := journal.Save(d.Lock, job.MetadataJSONFilePath, job.JobData); err != nil {
				logger.Warn("pipeline: persisting HDR skip failed", "job", job.Stem(), "error", err)
			}
			continue
		}

		switch stage.StageName {
		case jobs.StageMetadataExtracted, jobs.StageSearchingCRF:
			searchable = append(searchable, job)
		}
	}
	return searchable
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
