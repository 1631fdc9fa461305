// Package index implements C8's hash-index accelerator: a derived,
// rebuildable sqlite cache mapping a source/iteration SHA-256 hash to the
// journal file that recorded it, which the Job Composer's dedup pass
// (spec.md §4.8) checks before its in-memory hash set. Every journal is
// still parsed on every run. The journal files under firefly/data/jobs/
// remain the single durable source of truth; this index is rebuilt
// outright whenever its hash set differs from the parsed journals'. Grounded on the teacher's
// internal/store/sqlite.go for the database/sql + modernc.org/sqlite
// open/schema idiom, adapted from a job-queue table to a derived cache
// table since spec.md has no shared mutable job-queue concern.
package index

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS hash_cache (
	sha256_hash  TEXT PRIMARY KEY,
	journal_path TEXT NOT NULL
);
`

// Index wraps the on-disk hash cache.
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at dbPath.
func Open(dbPath string) (*Index, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index: preparing directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("index: opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("index: creating schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Count returns the number of cached hash rows.
func (idx *Index) Count() (int, error) {
	var n int
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM hash_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("index: counting rows: %w", err)
	}
	return n, nil
}

// Lookup returns the journal path cached for hash, if any.
func (idx *Index) Lookup(hash string) (string, bool, error) {
	var path string
	err := idx.db.QueryRow("SELECT journal_path FROM hash_cache WHERE sha256_hash = ?", hash).Scan(&path)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: looking up hash: %w", err)
	}
	return path, true, nil
}

// Put records hash as belonging to journalPath, overwriting any prior
// mapping.
func (idx *Index) Put(hash, journalPath string) error {
	_, err := idx.db.Exec(
		"INSERT INTO hash_cache (sha256_hash, journal_path) VALUES (?, ?) "+
			"ON CONFLICT(sha256_hash) DO UPDATE SET journal_path = excluded.journal_path",
		hash, journalPath,
	)
	if err != nil {
		return fmt.Errorf("index: writing hash: %w", err)
	}
	return nil
}

// Rebuild clears the cache and repopulates it from entries (hash ->
// journal path), used when the cache is missing or found inconsistent
// with the jobs directory.
func (idx *Index) Rebuild(entries map[string]string) error {
	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("index: starting rebuild transaction: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM hash_cache"); err != nil {
		tx.Rollback()
		return fmt.Errorf("index: clearing cache: %w", err)
	}
	for hash, path := range entries {
		if _, err := tx.Exec("INSERT INTO hash_cache (sha256_hash, journal_path) VALUES (?, ?)", hash, path); err != nil {
			tx.Rollback()
			return fmt.Errorf("index: inserting %s: %w", hash, err)
		}
	}
	return tx.Commit()
}

// AllHashes returns every cached hash as a set, used by the Job Composer
// to check the index against the hashes parsed from the journals.
func (idx *Index) AllHashes() (map[string]bool, error) {
	rows, err := idx.db.Query("SELECT sha256_hash FROM hash_cache")
	if err != nil {
		return nil, fmt.Errorf("index: listing hashes: %w", err)
	}
	defer rows.Close()

	set := map[string]bool{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("index: scanning hash: %w", err)
		}
		set[h] = true
	}
	return set, rows.Err()
}
