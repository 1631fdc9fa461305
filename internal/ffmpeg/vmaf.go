package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gwlsn/firefly/internal/config"
)

// ModelFor selects the NEG VMAF model by source geometry, per spec.md
// §4.7: width>1920 or height>1080 uses the 4K model, else the standard
// one. Grounded on
// _examples/original_source/app/vmaf_comparator.py _get_optimal_model_name.
func ModelFor(width, height int) string {
	if width > 1920 || height > 1080 {
		return "vmaf_4k_v0.6.1neg.json"
	}
	return "vmaf_v0.6.1neg.json"
}

type vmafLog struct {
	PooledMetrics struct {
		VMAF struct {
			Mean float64 `json:"mean"`
		} `json:"vmaf"`
	} `json:"pooled_metrics"`
}

// ScoreVMAF computes the VMAF of encodedPath against referencePath, at
// threads n_threads, selecting the NEG model by the reference's
// resolution (refWidth, refHeight). Both legs are normalized to
// yuv420p and the encoded leg is rescaled to the reference's frame
// geometry before scoring, per spec.md §4.7. modelsDir locates the NEG
// model JSON files (config.Params.VMAFModelsDir). It returns the parsed
// pooled_metrics.vmaf.mean. Grounded on
// _examples/original_source/app/vmaf_comparator.py calculate_vmaf.
func (s *Supervisor) ScoreVMAF(ctx context.Context, modelsDir, referencePath, encodedPath string, refWidth, refHeight, threads int, priority config.Priority) (float64, error) {
	modelPath := filepath.Join(modelsDir, ModelFor(refWidth, refHeight))

	logFile, err := os.CreateTemp("", "firefly-vmaf-*.json")
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: creating vmaf log file: %w", err)
	}
	logPath := logFile.Name()
	logFile.Close()
	os.Remove(logPath) // libvmaf creates it fresh; only the unique name matters
	defer os.Remove(logPath)

	filter := fmt.Sprintf(
		"[1:v][0:v]scale2ref=flags=bicubic[dist][ref];"+
			"[dist]format=yuv420p[dist_f];[ref]format=yuv420p[ref_f];"+
			"[dist_f][ref_f]libvmaf=model='path=%s:n_threads=%d':log_path='%s':log_fmt=json",
		modelPath, threads, logPath)

	args := []string{
		"-i", referencePath,
		"-i", encodedPath,
		"-lavfi", filter,
		"-f", "null",
		"-progress", "pipe:2",
		"-loglevel", "error",
		"-",
	}

	if err := s.Run(ctx, args, priority, nil); err != nil {
		return 0, fmt.Errorf("ffmpeg: computing vmaf score: %w", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: reading vmaf log file: %w", err)
	}
	var parsed vmafLog
	if err := json.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("ffmpeg: parsing vmaf log file: %w", err)
	}
	return parsed.PooledMetrics.VMAF.Mean, nil
}
