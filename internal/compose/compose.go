// Package compose implements spec.md §4.8's Job Composer: load and
// validate existing journals, then create a new job for every
// un-represented source file. Grounded on
// _examples/original_source/app/job_composer.py (compose_jobs,
// _load_existing_jobs, _create_jobs_from_source_files).
package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/fileutil"
	"github.com/gwlsn/firefly/internal/index"
	"github.com/gwlsn/firefly/internal/jobs"
	"github.com/gwlsn/firefly/internal/journal"
	"github.com/gwlsn/firefly/internal/journal/migration"
	"github.com/gwlsn/firefly/internal/lock"
	"github.com/gwlsn/firefly/internal/logger"
	"github.com/gwlsn/firefly/internal/probe"
)

// Migrator is the ordered schema migration chain applied while loading
// journals, per spec.md §6.
var Migrator = migration.NewManager(migration.V1ToV3{})

// Compose runs the two-phase composition of spec.md §4.8 under the
// application lock the caller is expected to already hold: load and
// validate every existing journal under cfg.JobsDir(), deleting any that
// fail to parse or validate, then create a PREPARED job for every
// `.mp4` directly under input_dir whose hash isn't already represented.
func Compose(cfg *config.Config, lm *lock.Manager) ([]*jobs.EncoderJob, error) {
	jobsDir := cfg.JobsDir()
	if err := os.MkdirAll(jobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("compose: preparing jobs directory: %w", err)
	}

	journalPaths, err := filepath.Glob(filepath.Join(jobsDir, "*"+journal.Suffix))
	if err != nil {
		return nil, fmt.Errorf("compose: listing journals: %w", err)
	}

	validJobs, knownHashes, err := loadExisting(cfg, lm, journalPaths)
	if err != nil {
		return nil, err
	}

	idx := openIndex(cfg, validJobs)
	if idx != nil {
		defer idx.Close()
	}

	newJobs, err := createNewJobs(cfg, lm, jobsDir, knownHashes, idx)
	if err != nil {
		return nil, err
	}

	return append(validJobs, newJobs...), nil
}

// loadExisting loads, migrates and validates every journal at
// journalPaths, deleting any that fail to parse or validate (spec.md
// §4.8 step 1), and returns the surviving jobs plus the set of hashes
// (source + every iteration) they represent.
func loadExisting(cfg *config.Config, lm *lock.Manager, journalPaths []string) ([]*jobs.EncoderJob, map[string]bool, error) {
	var valid []*jobs.EncoderJob
	known := map[string]bool{}

	for _, path := range journalPaths {
		jd, err := journal.Load(lm, path, Migrator, cfg.Params.SchemaVersion)
		if err != nil {
			logger.Warn("compose: deleting unparseable journal", "path", path, "error", err)
			_ = fileutil.Delete(lm, path)
			continue
		}

		job := &jobs.EncoderJob{
			SourceFilePath:       filepath.Join(cfg.Params.InputDir, jd.SourceVideo.FileAttributes.FileName),
			MetadataJSONFilePath: path,
			JobData:              jd,
		}

		if !jobs.Validate(job, cfg.Params.InputDir, cfg.Params.OutputDir) {
			logger.Warn("compose: deleting invalid journal", "path", path, "stage", jd.EncodingStage.StageName)
			_ = fileutil.Delete(lm, path)
			continue
		}

		valid = append(valid, job)
		known[jd.SourceVideo.SHA256Hash] = true
		for _, it := range jd.Iterations {
			known[it.SHA256Hash] = true
		}
	}

	return valid, known, nil
}

// openIndex opens the hash-index accelerator (internal/index) and
// reconciles it against the journals just loaded, so the Job Composer's
// dedup pass (spec.md §4.8) can consult it; every journal has already
// been parsed by loadExisting at this point. Reconciliation compares the index's full hash
// set — not just its row count — against the freshly parsed journals, so
// corruption that preserves row count (a swapped or truncated hash) is
// still caught and triggers a rebuild. The index itself never gates
// correctness: callers fall back to the in-memory knownHashes set built
// straight from the journals whenever the index is unavailable or a
// lookup misses, so an Open/rebuild failure is logged and otherwise
// ignored, and this returns nil on failure.
func openIndex(cfg *config.Config, validJobs []*jobs.EncoderJob) *index.Index {
	idx, err := index.Open(filepath.Join(cfg.JobsDir(), ".hash_index.sqlite"))
	if err != nil {
		logger.Warn("compose: hash index unavailable, continuing without it", "error", err)
		return nil
	}

	entries := map[string]string{}
	for _, job := range validJobs {
		entries[job.JobData.SourceVideo.SHA256Hash] = job.MetadataJSONFilePath
		for _, it := range job.JobData.Iterations {
			entries[it.SHA256Hash] = job.MetadataJSONFilePath
		}
	}

	cached, err := idx.AllHashes()
	if err != nil || !sameHashSet(cached, entries) {
		if err := idx.Rebuild(entries); err != nil {
			logger.Warn("compose: rebuilding hash index failed", "error", err)
		}
	}

	return idx
}

// sameHashSet reports whether cached (a hash set) represents exactly the
// hashes that entries (hash -> journal path) maps.
func sameHashSet(cached map[string]bool, entries map[string]string) bool {
	if len(cached) != len(entries) {
		return false
	}
	for hash := range entries {
		if !cached[hash] {
			return false
		}
	}
	return true
}

// createNewJobs walks input_dir (non-recursive, per spec.md §6) for
// every `.mp4` file absent from knownHashes, creating and persisting a
// PREPARED job for each (spec.md §4.8 step 2). idx, when non-nil, is
// consulted as the dedup fast path via Lookup before falling back to the
// knownHashes set parsed straight from the journals, and is updated via
// Put for every newly created job so the next run's fast path sees it
// immediately rather than waiting for the next full rebuild.
func createNewJobs(cfg *config.Config, lm *lock.Manager, jobsDir string, knownHashes map[string]bool, idx *index.Index) ([]*jobs.EncoderJob, error) {
	entries, err := os.ReadDir(cfg.Params.InputDir)
	if err != nil {
		return nil, fmt.Errorf("compose: reading input_dir: %w", err)
	}

	var created []*jobs.EncoderJob

	for _, entry := range entries {
		if entry.IsDir() || !probe.IsMP4(entry.Name()) {
			continue
		}
		sourcePath := filepath.Join(cfg.Params.InputDir, entry.Name())

		hash, err := fileutil.HashFile(sourcePath)
		if err != nil {
			logger.Warn("compose: hashing candidate source failed, skipping", "path", sourcePath, "error", err)
			continue
		}
		if isKnownHash(idx, knownHashes, hash) {
			continue
		}

		size, err := fileutil.SizeBytes(sourcePath)
		if err != nil {
			return nil, err
		}

		jd := &jobs.JobData{
			SchemaVersion: cfg.Params.SchemaVersion,
			SourceVideo: jobs.SourceVideo{
				FileAttributes: jobs.FileAttributes{FileName: entry.Name(), FileSizeBytes: size},
				SHA256Hash:     hash,
			},
			EncodingStage: jobs.EncodingStage{
				CRFRangeMin: cfg.Params.CRFMin,
				CRFRangeMax: cfg.Params.CRFMax,
			},
		}
		jd.EncodingStage.SetStage(jobs.StagePrepared)

		stem := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		journalPath := journal.PathFor(jobsDir, stem)
		if err := journal.Save(lm, journalPath, jd); err != nil {
			return nil, fmt.Errorf("compose: persisting new job %s: %w", stem, err)
		}

		knownHashes[hash] = true
		if idx != nil {
			if err := idx.Put(hash, journalPath); err != nil {
				logger.Warn("compose: recording new hash in index failed", "path", journalPath, "error", err)
			}
		}
		created = append(created, &jobs.EncoderJob{
			SourceFilePath:       sourcePath,
			MetadataJSONFilePath: journalPath,
			JobData:              jd,
		})
	}

	return created, nil
}

// isKnownHash consults idx's Lookup as the fast path (avoiding a hit on
// the in-memory knownHashes set built from a full journal parse) before
// falling back to knownHashes, so a nil or momentarily stale index never
// causes a false negative.
func isKnownHash(idx *index.Index, knownHashes map[string]bool, hash string) bool {
	if idx != nil {
		if _, ok, err := idx.Lookup(hash); err == nil && ok {
			return true
		}
	}
	return knownHashes[hash]
}
