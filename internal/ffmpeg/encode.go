package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/gwlsn/firefly/internal/config"
	"github.com/gwlsn/firefly/internal/probe"
)

// Progress is one sampled point of encoding progress, reported off the
// "out_time_ms=" lines ffmpeg writes to its progress pipe (spec.md §4.7).
type Progress struct {
	Percent        float64
	Elapsed        time.Duration
	ETA            time.Duration
	EncodedSeconds float64
	TotalSeconds   float64
}

var outTimeRe = regexp.MustCompile(`out_time_ms=(\d+)`)

// ParseProgress extracts a Progress sample from one stderr line, given the
// total video duration and the wall-clock time the subprocess started at.
// It reports false if the line carries no progress field.
func ParseProgress(line string, totalDuration float64, startedAt time.Time) (Progress, bool) {
	m := outTimeRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	outTimeMicros, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Progress{}, false
	}

	encodedSeconds := float64(outTimeMicros) / 1_000_000
	elapsed := time.Since(startedAt)

	p := Progress{
		Elapsed:        elapsed,
		EncodedSeconds: encodedSeconds,
		TotalSeconds:   totalDuration,
	}
	if totalDuration > 0 && encodedSeconds > 0 {
		p.Percent = min(100, encodedSeconds/totalDuration*100)
		speed := encodedSeconds / elapsed.Seconds()
		if speed > 0 {
			remaining := totalDuration - encodedSeconds
			p.ETA = time.Duration(remaining / speed * float64(time.Second))
		}
	}
	return p, true
}

// FormatProgressLine renders a one-line progress display, per spec.md
// §4.7: "percent | elapsed | eta | encoded_s/total_s".
func FormatProgressLine(p Progress) string {
	return fmt.Sprintf("%.2f%% | elapsed %s | eta %s | %.1fs/%.1fs",
		p.Percent, formatDuration(p.Elapsed), formatDuration(p.ETA), p.EncodedSeconds, p.TotalSeconds)
}

// formatDuration renders a duration as "1h2m3s"-style text, dropping
// zero-valued leading units. Grounded on the original's _format_duration.
func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		return "0s"
	}
	h, m, s := total/3600, (total%3600)/60, total%60

	out := ""
	if h > 0 {
		out += fmt.Sprintf("%dh", h)
	}
	if m > 0 {
		out += fmt.Sprintf("%dm", m)
	}
	if s > 0 || out == "" {
		out += fmt.Sprintf("%ds", s)
	}
	return out
}

// BuildEncodeArgs assembles the encoder argument list spec.md §4.7
// describes: libx265 with the CRF/threads/preset x265-params string,
// colour metadata pass-through when present, audio copy, stream/chapter/
// metadata maps, faststart, progress on stderr, quiet log level.
// Grounded on _examples/original_source/app/encoder.py
// _compose_encoding_command.
func BuildEncodeArgs(sourcePath, outputPath string, cm *probe.ContainerMetadata, crf, threads int, preset string) []string {
	x265Params := fmt.Sprintf("crf=%d:pools=%d:ssim-rd=1:aq-mode=3", crf, threads)

	args := []string{
		"-i", sourcePath,
		"-c:v", "libx265",
		"-x265-params", x265Params,
		"-preset", preset,
		"-fps_mode", "passthrough",
	}

	if cm != nil && cm.ColorPrimaries != "" && cm.ColorTRC != "" && cm.ColorSpace != "" {
		args = append(args,
			"-color_primaries", cm.ColorPrimaries,
			"-color_trc", cm.ColorTRC,
			"-colorspace", cm.ColorSpace,
		)
	}

	args = append(args,
		"-tag:v", "hvc1",
		"-c:a", "copy",
		"-map", "0:v:0",
		"-map", "0:a?",
		"-map_metadata", "0",
		"-map_chapters", "0",
		"-movflags", "+faststart",
		outputPath,
		"-progress", "pipe:2",
		"-loglevel", "quiet",
		"-y",
	)
	return args
}

// Encode runs one CRF encode iteration: sourcePath -> outputPath at crf,
// using threads and preset, reporting progress against totalDuration. The
// output path is assumed to already be clear of stale content; the caller
// (internal/search, per spec.md §4.10) owns stale-output deletion.
func (s *Supervisor) Encode(ctx context.Context, sourcePath, outputPath string, totalDuration float64, cm *probe.ContainerMetadata, crf, threads int, preset string, priority config.Priority, onProgress func(Progress)) error {
	args := BuildEncodeArgs(sourcePath, outputPath, cm, crf, threads, preset)
	startedAt := time.Now()

	return s.Run(ctx, args, priority, func(line string) {
		if onProgress == nil {
			return
		}
		if p, ok := ParseProgress(line, totalDuration, startedAt); ok {
			onProgress(p)
		}
	})
}
