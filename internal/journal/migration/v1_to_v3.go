package migration

import "math"

// V1ToV3 is the mandatory migrator of spec.md §6: it converts
// file_size_megabytes (float MB) to file_size_bytes (integer bytes) on
// both the source video and every iteration.
//
// The original Python migrator (versions/v1_to_v3_migrator.py) truncates
// via int(size_mb * 1024*1024); spec.md §6/§8 is explicit that the
// conversion must round instead (round(MB x 1,048,576)), so that formula
// is implemented here rather than the original's truncation — spec.md is
// not silent on this detail, so it takes precedence.
type V1ToV3 struct{}

const mebibyte = 1048576.0

func (V1ToV3) SourceVersion() int { return 1 }
func (V1ToV3) TargetVersion() int { return 3 }

func (V1ToV3) Apply(raw map[string]any) error {
	if sourceVideo, ok := raw["source_video"].(map[string]any); ok {
		convertFileAttributes(sourceVideo)
	}
	if iterations, ok := raw["iterations"].([]any); ok {
		for _, it := range iterations {
			if iteration, ok := it.(map[string]any); ok {
				convertFileAttributes(iteration)
			}
		}
	}
	return nil
}

func convertFileAttributes(parent map[string]any) {
	fa, ok := parent["file_attributes"].(map[string]any)
	if !ok {
		return
	}
	mb, ok := fa["file_size_megabytes"].(float64)
	if !ok {
		return
	}
	fa["file_size_bytes"] = int64(math.Round(mb * mebibyte))
	delete(fa, "file_size_megabytes")
}
