package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTOML(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in")
	output := filepath.Join(dir, "out")
	if err := os.Mkdir(input, 0o755); err != nil {
		t.Fatal(err)
	}

	params := writeTOML(t, dir, "params.toml", `
[params]
input_dir = "`+input+`"
output_dir = "`+output+`"
crf_min = 18
crf_max = 32
initial_crf = 26
vmaf_min = 95.0
vmaf_max = 97.0
efficiency_threshold = 0.1
encoder_preset = "medium"
schema_version = 3
`)
	meta := writeTOML(t, dir, "meta.toml", `
app_name = "firefly"
app_version = "1.0.0"
compression_engine_version = "x265-3.5"
schema_version = 3
`)

	cfg, err := Load(params, meta)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Params.CRFMin != 18 || cfg.Params.CRFMax != 32 {
		t.Errorf("unexpected CRF range: %d-%d", cfg.Params.CRFMin, cfg.Params.CRFMax)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("output_dir was not created: %v", err)
	}
}

func TestInvalidCRFRange(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in")
	if err := os.Mkdir(input, 0o755); err != nil {
		t.Fatal(err)
	}
	params := writeTOML(t, dir, "params.toml", `
[params]
input_dir = "`+input+`"
output_dir = "`+filepath.Join(dir, "out")+`"
crf_min = 30
crf_max = 20
`)

	_, err := Load(params, "")
	if err == nil {
		t.Fatal("expected configuration error for inverted CRF range")
	}
	cfgErr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if cfgErr.Reason != "Invalid CRF range" {
		t.Errorf("unexpected reason: %s", cfgErr.Reason)
	}
}

func TestMissingInputDirIsFatal(t *testing.T) {
	dir := t.TempDir()
	params := writeTOML(t, dir, "params.toml", `
[params]
input_dir = "`+filepath.Join(dir, "does-not-exist")+`"
output_dir = "`+filepath.Join(dir, "out")+`"
`)
	if _, err := Load(params, ""); err == nil {
		t.Fatal("expected error for missing input_dir")
	}
}

func TestUnsafeValuesClamp(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in")
	if err := os.Mkdir(input, 0o755); err != nil {
		t.Fatal(err)
	}
	params := writeTOML(t, dir, "params.toml", `
[params]
input_dir = "`+input+`"
output_dir = "`+filepath.Join(dir, "out")+`"
low_resources_restart_delay_seconds = 0.01
ram_monitoring_interval_seconds = 0.01
ram_percent_hard_limit = 150
encoder_process_priority = "not_a_real_priority"
efficiency_threshold = 0.9
encoder_preset = "bogus"
`)

	cfg, err := Load(params, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Params.LowResourcesRestartDelaySecs != 0.5 {
		t.Errorf("expected clamp to 0.5, got %v", cfg.Params.LowResourcesRestartDelaySecs)
	}
	if cfg.Params.RAMMonitoringIntervalSecs != 0.5 {
		t.Errorf("expected clamp to 0.5, got %v", cfg.Params.RAMMonitoringIntervalSecs)
	}
	if cfg.Params.RAMPercentHardLimit != 90.0 {
		t.Errorf("expected clamp to 90.0, got %v", cfg.Params.RAMPercentHardLimit)
	}
	if cfg.Params.EncoderProcessPriority != PriorityNormal {
		t.Errorf("expected fallback to normal priority, got %v", cfg.Params.EncoderProcessPriority)
	}
	if cfg.Params.EfficiencyThreshold != 0.1 {
		t.Errorf("expected clamp to default 0.1, got %v", cfg.Params.EfficiencyThreshold)
	}
	if cfg.Params.EncoderPreset != "medium" {
		t.Errorf("expected fallback preset medium, got %v", cfg.Params.EncoderPreset)
	}
}

func TestJobsDir(t *testing.T) {
	cfg := &Config{Params: Params{OutputDir: "/out"}}
	want := filepath.Join("/out", "firefly", "data", "jobs")
	if got := cfg.JobsDir(); got != want {
		t.Errorf("JobsDir() = %s, want %s", got, want)
	}
}
