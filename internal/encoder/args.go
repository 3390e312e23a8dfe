package encoder

import (
	"strconv"
)

// Profile is the fixed output contract for normalized video.
type Profile struct {
	VideoCodec   string
	Preset       string
	VideoProfile string
	Level        string
	PixFmt       string
	FrameRate    int
	CRF          int
	MaxRate      string
	BufSize      string
	GOP          int
	AudioCodec   string
	AudioBitrate string
	AudioRate    int
}

// DefaultProfile is H.264 constrained baseline at level 3.1, 4:2:0, 30fps,
// CRF 23 with a capped bitrate and a closed 30-frame GOP.
func DefaultProfile() Profile {
	return Profile{
		VideoCodec:   "libx264",
		Preset:       "veryfast",
		VideoProfile: "baseline",
		Level:        "3.1",
		PixFmt:       "yuv420p",
		FrameRate:    30,
		CRF:          23,
		MaxRate:      "2500k",
		BufSize:      "5000k",
		GOP:          30,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		AudioRate:    44100,
	}
}

// BuildArgs returns the ffmpeg argument list (without the binary) that
// encodes input to output at width x height. scale is false when the source
// already fits and no scaling filter is needed.
func BuildArgs(p Profile, input, output string, width, height int, scale, hasAudio bool) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-y",
		"-i", input,
		"-map", "0:v:0",
	}
	if hasAudio {
		args = append(args, "-map", "0:a:0")
	}

	args = append(args,
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-profile:v", p.VideoProfile,
		"-level:v", p.Level,
		"-pix_fmt", p.PixFmt,
		"-r", strconv.Itoa(p.FrameRate),
		"-crf", strconv.Itoa(p.CRF),
		"-maxrate", p.MaxRate,
		"-bufsize", p.BufSize,
		"-g", strconv.Itoa(p.GOP),
		"-keyint_min", strconv.Itoa(p.GOP),
		"-sc_threshold", "0",
		"-flags", "+cgop",
	)

	if scale {
		args = append(args, "-vf", "scale="+strconv.Itoa(width)+":"+strconv.Itoa(height))
	}

	if hasAudio {
		args = append(args,
			"-c:a", p.AudioCodec,
			"-b:a", p.AudioBitrate,
			"-ar", strconv.Itoa(p.AudioRate),
			"-ac", "2",
		)
	} else {
		args = append(args, "-an")
	}

	return append(args, "-movflags", "+faststart", output)
}
