package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gwlsn/firefly/internal/jobs"
	"github.com/gwlsn/firefly/internal/journal/migration"
	"github.com/gwlsn/firefly/internal/lock"
)

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lm := lock.NewManager(dir, 200*time.Millisecond)
	path := PathFor(dir, "sample")

	jd := &jobs.JobData{
		SchemaVersion: 3,
		SourceVideo: jobs.SourceVideo{
			FileAttributes: jobs.FileAttributes{FileName: "sample.mp4", FileSizeBytes: 1048576},
			SHA256Hash:     "deadbeef",
		},
		EncodingStage: jobs.EncodingStage{
			StageNumberFrom1: 1,
			StageName:        jobs.StagePrepared,
			CRFRangeMin:      18,
			CRFRangeMax:      32,
		},
	}

	if err := Save(lm, path, jd); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temp file to be gone after rename")
	}

	mgr := migration.NewManager(migration.V1ToV3{})
	loaded, err := Load(lm, path, mgr, 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.SourceVideo.SHA256Hash != jd.SourceVideo.SHA256Hash {
		t.Errorf("round-trip mismatch: %+v != %+v", loaded, jd)
	}
	if loaded.EncodingStage.StageName != jobs.StagePrepared {
		t.Errorf("expected PREPARED stage, got %v", loaded.EncodingStage.StageName)
	}
}

func TestLoadMigratesV1Journal(t *testing.T) {
	dir := t.TempDir()
	lm := lock.NewManager(dir, 200*time.Millisecond)
	path := PathFor(dir, "legacy")

	v1 := map[string]any{
		"schema_version": 1,
		"source_video": map[string]any{
			"file_attributes": map[string]any{
				"file_name":           "legacy.mp4",
				"file_size_megabytes": 2.0,
			},
			"sha256_hash": "abc123",
		},
		"encoding_stage": map[string]any{
			"stage_number_from_1": 1,
			"stage_name":          "PREPARED",
			"crf_range_min":       18,
			"crf_range_max":       32,
		},
		"iterations": []any{},
	}
	data, err := json.Marshal(v1)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := migration.NewManager(migration.V1ToV3{})
	loaded, err := Load(lm, path, mgr, 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SchemaVersion != 3 {
		t.Errorf("expected migrated schema_version 3, got %d", loaded.SchemaVersion)
	}
	if loaded.SourceVideo.FileAttributes.FileSizeBytes != 2097152 {
		t.Errorf("expected migrated file_size_bytes 2097152, got %d", loaded.SourceVideo.FileAttributes.FileSizeBytes)
	}
}

func TestLoadInvalidJSONErrors(t *testing.T) {
	dir := t.TempDir()
	lm := lock.NewManager(dir, 200*time.Millisecond)
	path := filepath.Join(dir, "broken_encoderdata.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	mgr := migration.NewManager(migration.V1ToV3{})
	if _, err := Load(lm, path, mgr, 3); err == nil {
		t.Fatal("expected error loading invalid json")
	}
}

func TestPathFor(t *testing.T) {
	got := PathFor("/out/firefly/data/jobs", "sample")
	want := "/out/firefly/data/jobs/sample_encoderdata.json"
	if got != want {
		t.Errorf("PathFor() = %s, want %s", got, want)
	}
}
