// Package journal implements spec.md §4.5: atomic read/write of the
// per-job journal file, migrating through the schema migration pipeline
// on load. Grounded on _examples/original_source/app/json_serializer.py
// for the load/migrate/parse shape, and the teacher's
// internal/jobs/queue.go persist() for the Go atomic tmp+rename idiom.
package journal

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gwlsn/firefly/internal/jobs"
	"github.com/gwlsn/firefly/internal/journal/migration"
	"github.com/gwlsn/firefly/internal/lock"
)

// Suffix is the filename suffix every journal file carries, per
// spec.md §6: "<stem>_encoderdata.json".
const Suffix = "_encoderdata.json"

// PathFor returns the journal path for a given source stem under
// jobsDir (output/firefly/data/jobs per spec.md §4.5/§6).
func PathFor(jobsDir, stem string) string {
	return jobsDir + "/" + stem + Suffix
}

// Load reads the journal at path under a shared metadata lock, applies
// the migration chain up to targetSchemaVersion, and returns the fully
// parsed JobData. A parse or migration failure returns an error; the
// caller (C8 Job Composer) is responsible for deleting an invalid
// journal per spec.md §4.8/§7.
func Load(lm *lock.Manager, path string, migrator *migration.Manager, targetSchemaVersion int) (*jobs.JobData, error) {
	r, err := lm.AcquireMetadata(path, lock.Shared)
	if err != nil {
		return nil, err
	}
	defer r.Release()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: reading %s: %w", path, err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("journal: invalid json in %s: %w", path, err)
	}

	if err := migrator.Apply(raw, targetSchemaVersion); err != nil {
		return nil, fmt.Errorf("journal: migrating %s: %w", path, err)
	}

	migrated, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("journal: re-marshaling migrated journal: %w", err)
	}

	var jd jobs.JobData
	if err := json.Unmarshal(migrated, &jd); err != nil {
		return nil, fmt.Errorf("journal: parsing migrated journal into strict shape: %w", err)
	}

	return &jd, nil
}

// Save serializes jd to path atomically (sibling .tmp then rename) under
// an exclusive metadata lock, per spec.md §4.5/§7.
func Save(lm *lock.Manager, path string, jd *jobs.JobData) error {
	r, err := lm.AcquireMetadata(path, lock.Exclusive)
	if err != nil {
		return err
	}
	defer r.Release()

	data, err := json.MarshalIndent(jd, "", "  ")
	if err != nil {
		return fmt.Errorf("journal: serializing: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("journal: writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("journal: renaming temp file into place: %w", err)
	}
	return nil
}
