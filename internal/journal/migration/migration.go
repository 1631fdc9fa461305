// Package migration implements the schema migration pipeline of
// spec.md §4.5: migrators operate on a semi-structured tree
// (map[string]any), each declaring source_version -> target_version, and
// are applied in sequence by linear lookup until the target version is
// reached. Grounded on
// _examples/original_source/app/migrations/{migration_manager,
// job_data_migrator}.py and versions/v1_to_v3_migrator.py.
package migration

import "fmt"

// Migrator mutates a raw parsed journal (field additions, rewrites, unit
// conversions) and declares the version range it bridges.
type Migrator interface {
	SourceVersion() int
	TargetVersion() int
	Apply(raw map[string]any) error
}

// Error is raised when no migrator is found for the journal's current
// schema_version (spec.md §4.5 "MigrationError").
type Error struct {
	CurrentVersion int
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration: no migrator found for schema_version %d", e.CurrentVersion)
}

// Manager holds the ordered chain of migrators and applies them.
type Manager struct {
	migrators []Migrator
}

// NewManager builds a Manager with the given ordered migrator chain.
func NewManager(migrators ...Migrator) *Manager {
	return &Manager{migrators: migrators}
}

// Apply mutates raw in place, applying migrators in sequence while the
// embedded schema_version is below target. It bumps schema_version after
// each migrator runs.
func (m *Manager) Apply(raw map[string]any, target int) error {
	for {
		current, err := schemaVersion(raw)
		if err != nil {
			return err
		}
		if current >= target {
			return nil
		}

		mig := m.find(current)
		if mig == nil {
			return &Error{CurrentVersion: current}
		}
		if err := mig.Apply(raw); err != nil {
			return fmt.Errorf("migration: applying %d->%d: %w", mig.SourceVersion(), mig.TargetVersion(), err)
		}
		raw["schema_version"] = mig.TargetVersion()
	}
}

func (m *Manager) find(currentVersion int) Migrator {
	for _, mig := range m.migrators {
		if mig.SourceVersion() == currentVersion {
			return mig
		}
	}
	return nil
}

func schemaVersion(raw map[string]any) (int, error) {
	v, ok := raw["schema_version"]
	if !ok {
		return 0, fmt.Errorf("migration: journal has no schema_version field")
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("migration: schema_version has unexpected type %T", v)
	}
}
