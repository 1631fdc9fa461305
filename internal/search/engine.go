// Package search implements spec.md §4.10: the CRF search engine, the
// state-machine loop at the heart of firefly. Grounded on
// _examples/original_source/app/encoder.py (encode_job, _predict_next_crf,
// _compose_encoding_command), reimplemented around internal/ffmpeg's
// Supervisor rather than the original's direct subprocess calls.
package search

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/fileutil"
	"github.com/gwlsn/firefly/internal/ffmpeg"
	"github.com/gwlsn/firefly/internal/governor"
	"github.com/gwlsn/firefly/internal/jobs"
	"github.com/gwlsn/firefly/internal/journal"
	"github.com/gwlsn/firefly/internal/lock"
	"github.com/gwlsn/firefly/internal/logger"
	"github.com/gwlsn/firefly/internal/probe"
)

// Engine runs the CRF search loop for one job at a time, sharing a
// Supervisor and Prober across every job a driver processes.
type Engine struct {
	Config     *config.Config
	Lock       *lock.Manager
	Prober     *probe.Prober
	Supervisor *ffmpeg.Supervisor
	RunID      string

	versionOnce sync.Once
	ffmpegVer   string
}

// NewEngine builds an Engine sharing the given collaborators across
// every job run through it.
func NewEngine(cfg *config.Config, lm *lock.Manager, prober *probe.Prober, sup *ffmpeg.Supervisor, runID string) *Engine {
	return &Engine{Config: cfg, Lock: lm, Prober: prober, Supervisor: sup, RunID: runID}
}

// Run executes the search loop against job until a terminal stage is
// reached, persisting the journal after every decision (spec.md §4.10).
// journalPath is the job's journal file.
func (e *Engine) Run(ctx context.Context, job *jobs.EncoderJob, journalPath string) error {
	jd := job.JobData
	stage := &jd.EncodingStage
	stage.SetStage(jobs.StageSearchingCRF)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if stage.CRFRangeMin > stage.CRFRangeMax {
			stage.SetStage(jobs.StageUnreachableVMAF)
			return journal.Save(e.Lock, journalPath, jd)
		}

		crfToTest := e.predictNext(jd)
		if crfToTest < stage.CRFRangeMin || crfToTest > stage.CRFRangeMax {
			stage.SetStage(jobs.StageUnreachableVMAF)
			return journal.Save(e.Lock, journalPath, jd)
		}

		iteration, err := e.runIteration(ctx, job, crfToTest)
		if err != nil {
			return err
		}
		jd.Iterations = append(jd.Iterations, *iteration)
		v := iteration.ExecutionData.SourceToEncodedVMAFPercent

		if v >= e.Config.Params.VMAFMin && v <= e.Config.Params.VMAFMax {
			stage.CRFRangeMin = crfToTest
			stage.CRFRangeMax = crfToTest
			stage.LastCRF = &crfToTest
			stage.LastVMAF = &v
			stage.SetStage(jobs.StageCRFFound)
			return journal.Save(e.Lock, journalPath, jd)
		}

		if stage.LastCRF != nil {
			crfDelta := crfToTest - *stage.LastCRF
			if crfDelta < 0 {
				crfDelta = -crfDelta
			}
			deltaVMAF := v - *stage.LastVMAF
			if deltaVMAF < 0 {
				deltaVMAF = -deltaVMAF
			}
			if crfDelta > 0 && deltaVMAF/float64(crfDelta) < e.Config.Params.EfficiencyThreshold {
				best := nearestToVMAFMin(jd.Iterations, e.Config.Params.VMAFMin)
				stage.LastCRF = &best.EncoderSettings.CRF
				bestVMAF := best.ExecutionData.SourceToEncodedVMAFPercent
				stage.LastVMAF = &bestVMAF
				stage.SetStage(jobs.StageStoppedVMAFDelta)
				return journal.Save(e.Lock, journalPath, jd)
			}
		}

		if v > e.Config.Params.VMAFMax {
			stage.CRFRangeMin = crfToTest + 1
		} else {
			stage.CRFRangeMax = crfToTest - 1
		}
		stage.LastCRF = &crfToTest
		stage.LastVMAF = &v
		stage.SetStage(jobs.StageSearchingCRF)
		if err := journal.Save(e.Lock, journalPath, jd); err != nil {
			return err
		}
	}
}

// predictNext wraps predict(), substituting the configured initial CRF
// when no iteration has run yet.
func (e *Engine) predictNext(jd *jobs.JobData) int {
	stage := jd.EncodingStage
	if stage.LastCRF == nil {
		return e.Config.Params.InitialCRF
	}
	return predict(jd.Iterations, stage.LastCRF, e.Config.Params.VMAFMin, e.Config.Params.VMAFMax, stage.CRFRangeMin, stage.CRFRangeMax)
}

// nearestToVMAFMin returns the iteration whose VMAF is closest to
// vmafMin, per spec.md §4.10 step 5.
func nearestToVMAFMin(iterations []jobs.Iteration, vmafMin float64) *jobs.Iteration {
	best := &iterations[0]
	bestDist := absFloat(best.ExecutionData.SourceToEncodedVMAFPercent - vmafMin)
	for i := 1; i < len(iterations); i++ {
		d := absFloat(iterations[i].ExecutionData.SourceToEncodedVMAFPercent - vmafMin)
		if d < bestDist {
			best = &iterations[i]
			bestDist = d
		}
	}
	return best
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// OutputPath returns the per-iteration output path spec.md §4.10 names:
// "<stem>_libx265_<preset>_crf_<N>.<ext>" under output_dir.
func OutputPath(outputDir, stem, preset string, crf int, ext string) string {
	return filepath.Join(outputDir, fmt.Sprintf("%s_libx265_%s_crf_%d%s", stem, preset, crf, ext))
}

// runIteration runs one encode+VMAF attempt at crf, retrying the whole
// attempt after a governor-configured sleep on transient LowResources
// pressure (spec.md §4.10), and accumulates the effective elapsed time
// across retries into total_iteration_time_seconds.
func (e *Engine) runIteration(ctx context.Context, job *jobs.EncoderJob, crf int) (*jobs.Iteration, error) {
	jd := job.JobData
	cfg := e.Config.Params
	ext := filepath.Ext(job.SourceFilePath)
	outputPath := OutputPath(cfg.OutputDir, job.Stem(), cfg.EncoderPreset, crf, ext)

	if err := fileutil.Delete(e.Lock, outputPath); err != nil {
		return nil, err
	}

	var totalElapsed time.Duration
	var encodeSeconds, vmafSeconds float64
	var vmafScore float64

	for {
		attemptStart := time.Now()

		va := jd.SourceVideo.VideoAttributes
		totalDuration := 0.0
		if va != nil {
			totalDuration = va.DurationSeconds
		}
		cm := jd.SourceVideo.FfmpegMetadata

		encodeStart := time.Now()
		err := e.Supervisor.Encode(ctx, job.SourceFilePath, outputPath, totalDuration, cm, crf, cfg.ThreadsCount, cfg.EncoderPreset, cfg.EncoderProcessPriority, func(p ffmpeg.Progress) {
			logger.Info(ffmpeg.FormatProgressLine(p), "job", job.Stem(), "crf", crf)
		})
		encodeSeconds = time.Since(encodeStart).Seconds()

		if errors.Is(err, governor.ErrLowResources) {
			totalElapsed += time.Since(attemptStart)
			logger.Warn("search: low resources during encode, retrying", "job", job.Stem(), "crf", crf, "sleep_seconds", cfg.LowResourcesRestartDelaySecs)
			if slept := e.sleep(ctx, cfg.LowResourcesRestartDelaySecs); slept != nil {
				return nil, slept
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		refWidth, refHeight := 0, 0
		if va != nil {
			refWidth, refHeight = va.WidthPx, va.HeightPx
		}

		vmafStart := time.Now()
		vmafScore, err = e.Supervisor.ScoreVMAF(ctx, cfg.VMAFModelsDir, job.SourceFilePath, outputPath, refWidth, refHeight, cfg.ThreadsCount, cfg.VMAFProcessPriority)
		vmafSeconds = time.Since(vmafStart).Seconds()
		totalElapsed += time.Since(attemptStart)

		if errors.Is(err, governor.ErrLowResources) {
			logger.Warn("search: low resources during vmaf scoring, retrying", "job", job.Stem(), "crf", crf, "sleep_seconds", cfg.LowResourcesRestartDelaySecs)
			if slept := e.sleep(ctx, cfg.LowResourcesRestartDelaySecs); slept != nil {
				return nil, slept
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		break
	}

	outAttrs, outCM, err := e.Prober.Probe(ctx, outputPath)
	if err != nil {
		return nil, fmt.Errorf("search: probing iteration output: %w", err)
	}
	hash, err := fileutil.HashFile(outputPath)
	if err != nil {
		return nil, err
	}
	size, err := fileutil.SizeBytes(outputPath)
	if err != nil {
		return nil, err
	}

	command := strings.Join(ffmpeg.BuildEncodeArgs(job.SourceFilePath, outputPath, jd.SourceVideo.FfmpegMetadata, crf, cfg.ThreadsCount, cfg.EncoderPreset), " ")

	iteration := jobs.Iteration{
		FileAttributes: jobs.FileAttributes{
			FileName:      filepath.Base(outputPath),
			FileSizeBytes: size,
		},
		SHA256Hash:      hash,
		VideoAttributes: outAttrs,
		EncoderSettings: jobs.EncoderSettings{
			Encoder:         "libx265",
			Preset:          cfg.EncoderPreset,
			CRF:             crf,
			CPUThreadsToUse: cfg.ThreadsCount,
		},
		ExecutionData: jobs.ExecutionData{
			CommandUsed:                command,
			SourceToEncodedVMAFPercent: vmafScore,
			EncodingTimeSeconds:        encodeSeconds,
			VMAFComputationTimeSeconds: vmafSeconds,
			TotalIterationTimeSeconds:  totalElapsed.Seconds(),
			VMAFThreadCount:            cfg.ThreadsCount,
			EncodingFinishedAt:         time.Now().UTC(),
		},
		Environment:    e.environment(),
		FfmpegMetadata: outCM,
	}

	meta := ffmpeg.EmbeddedMetadata{
		SourceName:     filepath.Base(job.SourceFilePath),
		SourceHash:     jd.SourceVideo.SHA256Hash,
		EncoderVersion: e.Config.Meta.CompressionEngineVersion,
		EncoderPreset:  cfg.EncoderPreset,
		CRF:            crf,
		Codec:          "libx265",
		VMAF:           vmafScore,
		Command:        command,
		CompletedAtUTC: time.Now().UTC(),
	}
	if err := e.Supervisor.EmbedMetadata(ctx, e.Prober, outputPath, meta, cfg.EncoderProcessPriority); err != nil {
		logger.Warn("search: embedding provenance metadata failed", "output", outputPath, "error", err)
	}

	return &iteration, nil
}

// sleep blocks for seconds, respecting ctx cancellation; it returns ctx's
// error if cancelled mid-sleep, else nil.
func (e *Engine) sleep(ctx context.Context, seconds float64) error {
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// environment snapshots tool/host provenance for one iteration
// (spec.md §3 Environment), grounded on the original's environment
// snapshot in encoder.py. The ffmpeg version line is resolved once per
// Engine and cached; the CPU name is read on every call. Failures degrade
// to an empty string rather than aborting.
func (e *Engine) environment() jobs.Environment {
	e.versionOnce.Do(func() {
		out, err := exec.Command(e.Config.Params.FFmpegPath, "-version").Output()
		if err == nil {
			if line := strings.SplitN(string(out), "\n", 2)[0]; line != "" {
				e.ffmpegVer = line
			}
		}
	})

	cpuName := ""
	if info, err := cpu.Info(); err == nil && len(info) > 0 {
		cpuName = info[0].ModelName
	}

	return jobs.Environment{
		ScriptVersion:  e.Config.Meta.AppVersion,
		FfmpegVersion:  e.ffmpegVer,
		EncoderVersion: e.Config.Meta.CompressionEngineVersion,
		CPUName:        cpuName,
		CPUThreads:     e.Config.Params.ThreadsCount,
		RunID:          e.RunID,
	}
}
