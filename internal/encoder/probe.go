package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe output the encoder needs.
type ProbeResult struct {
	Width           int
	Height          int
	DurationSeconds float64
	VideoCodec      string
	HasAudio        bool
	// Rotation in degrees from the display matrix, 0 when absent.
	Rotation int
}

// probe runs a single ffprobe JSON call against path.
func (e *Encoder) probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		// a killed ffprobe says nothing about the input
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("probe %s: %w", path, ctxErr)
		}
		return nil, &MetadataError{Path: path, Reason: "ffprobe failed", Err: err}
	}

	pr, err := ParseJSON(out)
	if err != nil {
		return nil, &MetadataError{Path: path, Reason: "unreadable ffprobe output", Err: err}
	}
	if pr.Width <= 0 || pr.Height <= 0 {
		return nil, &MetadataError{Path: path, Reason: "no video stream"}
	}
	return pr, nil
}

// ParseJSON converts raw ffprobe JSON output into a ProbeResult. The first
// non cover-art video stream wins.
func ParseJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	pr := &ProbeResult{DurationSeconds: parseFloat(raw.Format.Duration)}
	found := false
	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if found || s.Disposition["attached_pic"] == 1 {
				continue
			}
			found = true
			pr.Width = s.Width
			pr.Height = s.Height
			pr.VideoCodec = s.CodecName
			pr.Rotation = streamRotation(s)
			if pr.DurationSeconds == 0 {
				pr.DurationSeconds = parseFloat(s.Duration)
			}
		case "audio":
			pr.HasAudio = true
		}
	}
	return pr, nil
}

// DisplaySize returns the frame size after rotation metadata is applied.
// ffmpeg autorotates, so a 90 degree portrait clip stored as 1920x1080 is
// encoded as 1080x1920.
func (p *ProbeResult) DisplaySize() (int, int) {
	switch ((p.Rotation % 360) + 360) % 360 {
	case 90, 270:
		return p.Height, p.Width
	}
	return p.Width, p.Height
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

type ffprobeStream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	Duration     string            `json:"duration"`
	Disposition  map[string]int    `json:"disposition"`
	Tags         map[string]string `json:"tags"`
	SideDataList []struct {
		SideDataType string `json:"side_data_type"`
		Rotation     int    `json:"rotation"`
	} `json:"side_data_list"`
}

func streamRotation(s *ffprobeStream) int {
	for _, sd := range s.SideDataList {
		if sd.SideDataType == "Display Matrix" {
			return sd.Rotation
		}
	}
	if r, ok := s.Tags["rotate"]; ok {
		n, _ := strconv.Atoi(strings.TrimSpace(r))
		return n
	}
	return 0
}

// ffprobe reports numbers as strings
func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
