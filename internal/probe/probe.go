// Package probe invokes the external probe tool (ffprobe-compatible) and
// extracts video attributes, container metadata and the HDR type set, per
// spec.md §4.4. Grounded on the teacher's internal/ffmpeg/probe.go for
// JSON shape and extraction idiom, extended with the literal HDR
// side-data/tag detection rules spec.md lists (which the teacher's
// simpler heuristic does not implement).
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/gwlsn/firefly/internal/logger"
)

// HDRType is one of the HDR kinds spec.md §4.4 enumerates.
type HDRType string

const (
	HDRPQ          HDRType = "pq"
	HDRHLG         HDRType = "hlg"
	HDRDolbyVision HDRType = "dolby_vision"
	HDR10Plus      HDRType = "hdr10_plus"
	HDR10          HDRType = "hdr10"
)

// VideoAttributes holds probed stream attributes (spec.md §3 SourceVideo).
type VideoAttributes struct {
	Codec             string  `json:"codec"`
	WidthPx           int     `json:"width_px"`
	HeightPx          int     `json:"height_px"`
	DurationSeconds   float64 `json:"duration_seconds"`
	FPS               float64 `json:"fps"`
	BitrateKbps       int     `json:"bitrate_kilobits_per_second"`
	ActualFrameCount  int     `json:"actual_frame_count"`
}

// ContainerMetadata holds the probed container/colour fields.
type ContainerMetadata struct {
	PixelAspectRatio     string    `json:"pixel_aspect_ratio"`
	PixelFormat          string    `json:"pixel_format"`
	ChromaSampleLocation string    `json:"chroma_sample_location"`
	ColorPrimaries       string    `json:"color_primaries"`
	ColorTRC             string    `json:"color_trc"`
	ColorSpace           string    `json:"colorspace"`
	Profile              string    `json:"profile"`
	Level                int       `json:"level"`
	HDRTypes             []HDRType `json:"hdr_types"`
}

// IsHDR reports whether any HDR type was detected (non-empty set).
func (c *ContainerMetadata) IsHDR() bool {
	return len(c.HDRTypes) > 0
}

// Prober wraps the external probe tool.
type Prober struct {
	ffprobePath string
}

// NewProber builds a Prober invoking the tool at ffprobePath.
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

type ffprobeSideData struct {
	SideDataType string `json:"side_data_type"`
}

type ffprobeStream struct {
	Index                int               `json:"index"`
	CodecType            string            `json:"codec_type"`
	CodecName            string            `json:"codec_name"`
	Width                int               `json:"width"`
	Height               int               `json:"height"`
	RFrameRate           string            `json:"r_frame_rate"`
	AvgFrameRate         string            `json:"avg_frame_rate"`
	NbFrames             string            `json:"nb_frames"`
	Profile              string            `json:"profile"`
	Level                int               `json:"level"`
	PixFmt               string            `json:"pix_fmt"`
	SampleAspectRatio    string            `json:"sample_aspect_ratio"`
	ChromaLocation       string            `json:"chroma_location"`
	ColorPrimaries       string            `json:"color_primaries"`
	ColorTransfer        string            `json:"color_transfer"`
	ColorSpace           string            `json:"color_space"`
	Tags                 map[string]string `json:"tags"`
	SideDataList         []ffprobeSideData `json:"side_data_list"`
}

// Probe runs the external tool against path and returns the video
// attributes and container metadata spec.md §4.4 requires. Fields that
// cannot be determined keep their zero value; a warning is logged only
// when the duration cannot be parsed or no video stream is found, not for
// the other fields. Pixel aspect ratio defaults to "1:1".
func (p *Prober) Probe(ctx context.Context, path string) (*VideoAttributes, *ContainerMetadata, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_entries", "stream=index,codec_type,codec_name,width,height,r_frame_rate,avg_frame_rate,nb_frames,profile,level,pix_fmt,sample_aspect_ratio,chroma_location,color_primaries,color_transfer,color_space,tags,side_data_list:format=duration,bit_rate",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, nil, fmt.Errorf("probe: ffprobe failed: %s", string(exitErr.Stderr))
		}
		return nil, nil, fmt.Errorf("probe: ffprobe failed: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, nil, fmt.Errorf("probe: parsing ffprobe output: %w", err)
	}

	va := &VideoAttributes{}
	cm := &ContainerMetadata{PixelAspectRatio: "1:1"}

	if parsed.Format.Duration != "" {
		if d, err := strconv.ParseFloat(parsed.Format.Duration, 64); err == nil {
			va.DurationSeconds = d
		} else {
			logger.Warn("probe: could not determine duration", "path", path)
		}
	}
	if parsed.Format.BitRate != "" {
		if b, err := strconv.ParseInt(parsed.Format.BitRate, 10, 64); err == nil {
			va.BitrateKbps = int(b / 1000)
		}
	}

	for _, s := range parsed.Streams {
		if s.CodecType != "video" {
			continue
		}
		va.Codec = s.CodecName
		va.WidthPx = s.Width
		va.HeightPx = s.Height
		va.FPS = parseFrameRate(s.RFrameRate)
		if va.FPS == 0 {
			va.FPS = parseFrameRate(s.AvgFrameRate)
		}
		if n, err := strconv.Atoi(s.NbFrames); err == nil {
			va.ActualFrameCount = n
		} else if va.FPS > 0 && va.DurationSeconds > 0 {
			va.ActualFrameCount = int(va.FPS * va.DurationSeconds)
		}

		cm.PixelFormat = s.PixFmt
		cm.ColorPrimaries = s.ColorPrimaries
		cm.ColorTRC = s.ColorTransfer
		cm.ColorSpace = s.ColorSpace
		cm.Profile = s.Profile
		cm.Level = s.Level
		cm.ChromaSampleLocation = s.ChromaLocation
		if s.SampleAspectRatio != "" {
			cm.PixelAspectRatio = s.SampleAspectRatio
		}
		cm.HDRTypes = detectHDRTypes(s)
		break
	}

	if va.Codec == "" {
		logger.Warn("probe: no video stream found", "path", path)
	}

	return va, cm, nil
}

// detectHDRTypes implements spec.md §4.4's literal detection rules.
// The returned set may contain multiple kinds; empty means SDR.
func detectHDRTypes(s ffprobeStream) []HDRType {
	set := map[HDRType]bool{}

	transfer := strings.ToLower(s.ColorTransfer)
	isPQ := transfer == "smpte2084"
	if isPQ {
		set[HDRPQ] = true
	}
	if transfer == "arib-std-b67" {
		set[HDRHLG] = true
	}

	hasSideData := func(substr string) bool {
		for _, sd := range s.SideDataList {
			if strings.Contains(strings.ToUpper(sd.SideDataType), strings.ToUpper(substr)) {
				return true
			}
		}
		return false
	}

	if hasSideData("DOVI") || hasSideData("Dolby Vision") {
		set[HDRDolbyVision] = true
	}
	if _, ok := s.Tags["dv_profile"]; ok {
		set[HDRDolbyVision] = true
	}

	if hasSideData("HDR Dynamic Metadata 2094-40") {
		set[HDR10Plus] = true
	}

	hasMasteringDisplay := hasSideData("Mastering display metadata")
	hasCLL := hasSideData("Content light level metadata")
	if isPQ && (hasMasteringDisplay || hasCLL) {
		set[HDR10] = true
	}

	types := make([]HDRType, 0, len(set))
	for _, t := range []HDRType{HDRPQ, HDRHLG, HDRDolbyVision, HDR10Plus, HDR10} {
		if set[t] {
			types = append(types, t)
		}
	}
	return types
}

func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0
	}
	return num / den
}

// IsMP4 reports whether path has a case-insensitive .mp4 suffix, per
// spec.md §6's input filter.
func IsMP4(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".mp4")
}

// ReadComment extracts the container's format-level "comment" tag,
// used to read back embedded provenance metadata written by
// internal/ffmpeg's EmbedMetadata (SPEC_FULL.md's read-back validation).
func (p *Prober) ReadComment(ctx context.Context, path string) (string, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_entries", "format_tags=comment",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("probe: reading comment tag: %w", err)
	}

	var parsed struct {
		Format struct {
			Tags struct {
				Comment string `json:"comment"`
			} `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return "", fmt.Errorf("probe: parsing comment tag: %w", err)
	}
	return parsed.Format.Tags.Comment, nil
}
