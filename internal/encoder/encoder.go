// Package encoder normalizes uploaded video with ffprobe and ffmpeg.
package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/socialnet/backend/internal/logger"
)

// stderrTail bounds how much ffmpeg output is kept for diagnostics.
const stderrTail = 2048

// Result describes a finished encode. OutputPath is owned by the caller.
type Result struct {
	OutputPath      string  `json:"output_path"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"duration_seconds"`
	FileSizeBytes   int64   `json:"file_size_bytes"`
}

// Config configures an Encoder. Empty binary paths resolve through $PATH.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string
	MaxWidth    int
	MaxHeight   int
	Profile     *Profile
	Logger      *logger.Logger
}

// Encoder is stateless between calls and safe for concurrent use on
// different inputs.
type Encoder struct {
	ffmpegPath  string
	ffprobePath string
	workDir     string
	maxWidth    int
	maxHeight   int
	profile     Profile
	log         *logger.Logger
}

func New(cfg Config) (*Encoder, error) {
	e := &Encoder{
		ffmpegPath:  cfg.FFmpegPath,
		ffprobePath: cfg.FFprobePath,
		workDir:     cfg.WorkDir,
		maxWidth:    cfg.MaxWidth,
		maxHeight:   cfg.MaxHeight,
		profile:     DefaultProfile(),
		log:         cfg.Logger,
	}
	if e.ffmpegPath == "" {
		e.ffmpegPath = "ffmpeg"
	}
	if e.ffprobePath == "" {
		e.ffprobePath = "ffprobe"
	}
	if e.workDir == "" {
		e.workDir = filepath.Join(os.TempDir(), "transcode")
	}
	if e.maxWidth <= 0 {
		e.maxWidth = MaxWidth
	}
	if e.maxHeight <= 0 {
		e.maxHeight = MaxHeight
	}
	if cfg.Profile != nil {
		e.profile = *cfg.Profile
	}
	if e.log == nil {
		e.log = logger.Default().WithComponent("encoder")
	}

	if err := os.MkdirAll(e.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	return e, nil
}

// WorkDir is where encoded outputs are written.
func (e *Encoder) WorkDir() string {
	return e.workDir
}

// CheckBinaries verifies ffmpeg and ffprobe can be resolved.
func (e *Encoder) CheckBinaries() error {
	for _, bin := range []string{e.ffmpegPath, e.ffprobePath} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("%s not available: %w", bin, err)
		}
	}
	return nil
}

// Encode probes inputPath and writes a normalized MP4 into the work
// directory. Cancelling ctx kills the ffmpeg process. On failure no output
// file is left behind. The input file is never touched.
func (e *Encoder) Encode(ctx context.Context, inputPath string) (*Result, error) {
	pr, err := e.probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}

	srcW, srcH := pr.DisplaySize()
	width, height := TargetResolution(srcW, srcH, e.maxWidth, e.maxHeight)
	scale := width != srcW || height != srcH

	output := filepath.Join(e.workDir, uuid.New().String()+".mp4")
	args := BuildArgs(e.profile, inputPath, output, width, height, scale, pr.HasAudio)

	e.log.Debug(ctx, "encoding", logger.Fields{
		"input":      inputPath,
		"output":     output,
		"src_width":  srcW,
		"src_height": srcH,
		"width":      width,
		"height":     height,
	})

	start := time.Now()
	stderr, runErr := e.run(ctx, args)
	if runErr != nil {
		e.removePartial(ctx, output)
		if ctxErr := ctx.Err(); ctxErr != nil {
			runErr = ctxErr
		}
		return nil, &EncodeError{Path: inputPath, Stderr: stderr, Err: runErr}
	}

	info, err := os.Stat(output)
	if err != nil {
		e.removePartial(ctx, output)
		return nil, &EncodeError{Path: inputPath, Stderr: stderr, Err: fmt.Errorf("stat output: %w", err)}
	}
	if info.Size() == 0 {
		e.removePartial(ctx, output)
		return nil, &EncodeError{Path: inputPath, Stderr: stderr, Err: errors.New("empty output")}
	}

	e.log.Info(ctx, "encode finished", logger.Fields{
		"input":       inputPath,
		"width":       width,
		"height":      height,
		"size_bytes":  info.Size(),
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return &Result{
		OutputPath:      output,
		Width:           width,
		Height:          height,
		DurationSeconds: pr.DurationSeconds,
		FileSizeBytes:   info.Size(),
	}, nil
}

func (e *Encoder) run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	// children that inherit stderr must not keep Wait blocked after a kill
	cmd.WaitDelay = 5 * time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	return tail(stderr.String(), stderrTail), err
}

func (e *Encoder) removePartial(ctx context.Context, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.log.Warn(ctx, "failed to remove partial output", err, logger.Fields{"path": path})
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
