// Package config loads, validates and freezes the global tunables that
// drive one firefly run. A Config is read once at startup and never
// mutated afterward; every component that needs it receives the same
// frozen value explicitly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/pelletier/go-toml/v2"
)

// Priority is an OS process-priority policy string.
type Priority string

const (
	PriorityIdle        Priority = "idle"
	PriorityBelowNormal Priority = "below_normal"
	PriorityNormal      Priority = "normal"
	PriorityAboveNormal Priority = "above_normal"
	PriorityHigh        Priority = "high"
	PriorityRealTime    Priority = "real_time"
)

func validPriority(p Priority) bool {
	switch p {
	case PriorityIdle, PriorityBelowNormal, PriorityNormal, PriorityAboveNormal, PriorityHigh, PriorityRealTime:
		return true
	}
	return false
}

// validPresets are the libx265 presets accepted for encoder_preset.
// Adapted from the teacher's multi-encoder preset table
// (internal/ffmpeg/presets.go), trimmed to the single libx265 preset name
// set spec.md requires.
var validPresets = map[string]bool{
	"ultrafast": true, "superfast": true, "veryfast": true, "faster": true,
	"fast": true, "medium": true, "slow": true, "slower": true,
	"veryslow": true, "placebo": true,
}

// Params mirrors every recognized option of spec.md §4.1.
type Params struct {
	InputDir  string `toml:"input_dir"`
	OutputDir string `toml:"output_dir"`

	RandomizeThreadsCount bool `toml:"randomize_threads_count"`
	ThreadsCount          int  `toml:"threads_count"`

	DisableResourcesMonitoring   bool    `toml:"disable_resources_monitoring"`
	LowResourcesRestartDelaySecs float64 `toml:"low_resources_restart_delay_seconds"`

	EncoderProcessPriority Priority `toml:"encoder_process_priority"`
	VMAFProcessPriority    Priority `toml:"vmaf_process_priority"`

	RAMMonitoringIntervalSecs float64 `toml:"ram_monitoring_interval_seconds"`
	RAMPercentHardLimit       float64 `toml:"ram_percent_hard_limit"`
	RAMHardLimitBytes         int64   `toml:"ram_hard_limit_bytes"`

	CRFMin     int `toml:"crf_min"`
	CRFMax     int `toml:"crf_max"`
	InitialCRF int `toml:"initial_crf"`

	VMAFMin float64 `toml:"vmaf_min"`
	VMAFMax float64 `toml:"vmaf_max"`

	EfficiencyThreshold float64 `toml:"efficiency_threshold"`

	EncoderPreset string `toml:"encoder_preset"`

	SchemaVersion int `toml:"schema_version"`

	// FFmpegPath and FFprobePath locate the external tool binaries
	// spec.md §1/§6 treats as out-of-scope collaborators; empty defaults
	// to resolving "ffmpeg"/"ffprobe" from PATH.
	FFmpegPath  string `toml:"ffmpeg_path"`
	FFprobePath string `toml:"ffprobe_path"`

	// VMAFModelsDir locates the NEG model files spec.md §6 requires
	// ("vmaf_v0.6.1neg.json", "vmaf_4k_v0.6.1neg.json") at a known
	// location; empty defaults to "vmaf_models" under the working
	// directory, mirroring the original's app-relative model path.
	VMAFModelsDir string `toml:"vmaf_models_dir"`
}

// Meta carries the companion TOML values spec.md §6 describes.
type Meta struct {
	AppName                  string `toml:"app_name"`
	AppVersion               string `toml:"app_version"`
	CompressionEngineVersion string `toml:"compression_engine_version"`
	SchemaVersion            int    `toml:"schema_version"`
}

// Config is the frozen, validated configuration handed to every
// component. Once returned from Load it must not be mutated.
type Config struct {
	Params Params
	Meta   Meta
}

// LockTimeout is the fixed timeout spec.md §8 scenario 8 names for
// application-lock contention.
const LockTimeout = 5

// Error is a fatal configuration error (spec.md §7 "Config error").
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "configuration error: " + e.Reason }

func defaultParams() Params {
	return Params{
		RandomizeThreadsCount:         false,
		ThreadsCount:                  0,
		DisableResourcesMonitoring:    false,
		LowResourcesRestartDelaySecs:  5.0,
		EncoderProcessPriority:        PriorityNormal,
		VMAFProcessPriority:           PriorityBelowNormal,
		RAMMonitoringIntervalSecs:     2.0,
		RAMPercentHardLimit:           90.0,
		RAMHardLimitBytes:             0,
		CRFMin:                        18,
		CRFMax:                        32,
		InitialCRF:                    26,
		VMAFMin:                       95.0,
		VMAFMax:                       97.0,
		EfficiencyThreshold:           0.1,
		EncoderPreset:                 "medium",
		SchemaVersion:                 3,
		FFmpegPath:                    "ffmpeg",
		FFprobePath:                   "ffprobe",
		VMAFModelsDir:                 "vmaf_models",
	}
}

// Load reads the params TOML at paramsPath (a `[params]` table, per
// spec.md §6) and the companion meta TOML at metaPath, applies defaults,
// validates, and returns a frozen Config.
func Load(paramsPath, metaPath string) (*Config, error) {
	cfg := &Config{Params: defaultParams()}

	if err := loadTOMLTable(paramsPath, &cfg.Params); err != nil {
		return nil, err
	}
	if metaPath != "" {
		data, err := os.ReadFile(metaPath)
		if err != nil {
			return nil, fmt.Errorf("reading meta config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg.Meta); err != nil {
			return nil, fmt.Errorf("parsing meta config: %w", err)
		}
	}
	if cfg.Meta.SchemaVersion != 0 {
		cfg.Params.SchemaVersion = cfg.Meta.SchemaVersion
	}

	if err := cfg.clampAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadTOMLTable(path string, out *Params) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading params config: %w", err)
	}
	var doc struct {
		Params Params `toml:"params"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing params config: %w", err)
	}
	*out = mergeDefaults(doc.Params, *out)
	return nil
}

// mergeDefaults overlays zero-valued fields of parsed with the defaults,
// so an omitted TOML key keeps its default rather than becoming zero.
// crf_min is the exception: a zero crf_min takes its default only when
// crf_max equals its default; next to any other crf_max it stays 0.
func mergeDefaults(parsed, defaults Params) Params {
	if parsed.EncoderProcessPriority == "" {
		parsed.EncoderProcessPriority = defaults.EncoderProcessPriority
	}
	if parsed.VMAFProcessPriority == "" {
		parsed.VMAFProcessPriority = defaults.VMAFProcessPriority
	}
	if parsed.LowResourcesRestartDelaySecs == 0 {
		parsed.LowResourcesRestartDelaySecs = defaults.LowResourcesRestartDelaySecs
	}
	if parsed.RAMMonitoringIntervalSecs == 0 {
		parsed.RAMMonitoringIntervalSecs = defaults.RAMMonitoringIntervalSecs
	}
	if parsed.RAMPercentHardLimit == 0 {
		parsed.RAMPercentHardLimit = defaults.RAMPercentHardLimit
	}
	if parsed.CRFMax == 0 {
		parsed.CRFMax = defaults.CRFMax
	}
	if parsed.CRFMin == 0 && defaults.CRFMin != 0 && parsed.CRFMax == defaults.CRFMax {
		parsed.CRFMin = defaults.CRFMin
	}
	if parsed.InitialCRF == 0 {
		parsed.InitialCRF = defaults.InitialCRF
	}
	if parsed.VMAFMin == 0 {
		parsed.VMAFMin = defaults.VMAFMin
	}
	if parsed.VMAFMax == 0 {
		parsed.VMAFMax = defaults.VMAFMax
	}
	if parsed.EfficiencyThreshold == 0 {
		parsed.EfficiencyThreshold = defaults.EfficiencyThreshold
	}
	if parsed.EncoderPreset == "" {
		parsed.EncoderPreset = defaults.EncoderPreset
	}
	if parsed.SchemaVersion == 0 {
		parsed.SchemaVersion = defaults.SchemaVersion
	}
	if parsed.FFmpegPath == "" {
		parsed.FFmpegPath = defaults.FFmpegPath
	}
	if parsed.FFprobePath == "" {
		parsed.FFprobePath = defaults.FFprobePath
	}
	if parsed.VMAFModelsDir == "" {
		parsed.VMAFModelsDir = defaults.VMAFModelsDir
	}
	return parsed
}

// clampAndValidate enforces spec.md §4.1: some violations are fatal
// (Config error), others clamp to a safe default with a warning.
func (c *Config) clampAndValidate() error {
	p := &c.Params

	if p.InputDir == "" {
		return &Error{Reason: "input_dir is required"}
	}
	if info, err := os.Stat(p.InputDir); err != nil || !info.IsDir() {
		return &Error{Reason: fmt.Sprintf("input_dir does not exist: %s", p.InputDir)}
	}
	if p.OutputDir == "" {
		return &Error{Reason: "output_dir is required"}
	}
	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return &Error{Reason: fmt.Sprintf("cannot create output_dir: %v", err)}
	}

	if p.ThreadsCount < 0 {
		p.ThreadsCount = 0
	}
	hostThreads := runtime.NumCPU()
	if p.ThreadsCount == 0 || p.ThreadsCount > hostThreads {
		p.ThreadsCount = hostThreads
	}

	if p.LowResourcesRestartDelaySecs < 0.5 {
		p.LowResourcesRestartDelaySecs = 0.5
	}
	if p.RAMMonitoringIntervalSecs < 0.5 {
		p.RAMMonitoringIntervalSecs = 0.5
	}
	if p.RAMPercentHardLimit <= 0 || p.RAMPercentHardLimit >= 100 {
		p.RAMPercentHardLimit = 90.0
	}
	if p.RAMHardLimitBytes < 0 {
		p.RAMHardLimitBytes = 0
	}

	if !validPriority(p.EncoderProcessPriority) {
		p.EncoderProcessPriority = PriorityNormal
	}
	if !validPriority(p.VMAFProcessPriority) {
		p.VMAFProcessPriority = PriorityBelowNormal
	}

	if p.CRFMin < 0 || p.CRFMax > 51 || p.CRFMin >= p.CRFMax {
		return &Error{Reason: "Invalid CRF range"}
	}
	if p.InitialCRF < p.CRFMin || p.InitialCRF > p.CRFMax {
		p.InitialCRF = (p.CRFMin + p.CRFMax) / 2
	}

	if p.VMAFMin < 0.0 || p.VMAFMax > 100.0 || p.VMAFMin >= p.VMAFMax {
		return &Error{Reason: "Invalid VMAF range"}
	}

	if p.EfficiencyThreshold <= 0 || p.EfficiencyThreshold >= 0.5 {
		p.EfficiencyThreshold = 0.1
	}

	if !validPresets[p.EncoderPreset] {
		p.EncoderPreset = "medium"
	}

	if p.SchemaVersion <= 0 {
		p.SchemaVersion = 3
	}

	return nil
}

// JobsDir is the per-job journal directory spec.md §4.5/§6 names.
func (c *Config) JobsDir() string {
	return filepath.Join(c.Params.OutputDir, "firefly", "data", "jobs")
}
