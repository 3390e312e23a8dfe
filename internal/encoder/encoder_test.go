package encoder

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/socialnet/backend/internal/logger"
)

// writeScript creates an executable shell script standing in for ffmpeg or ffprobe.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func probeScript(width, height int) string {
	return `cat <<'JSON'
{"streams":[{"codec_type":"video","codec_name":"h264","width":` + itoa(width) + `,"height":` + itoa(height) + `},{"codec_type":"audio"}],"format":{"duration":"4.0"}}
JSON
`
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}

// last argument is the output path
const ffmpegOK = `for a; do out="$a"; done
printf 'encoded-bytes' > "$out"
`

const ffmpegFail = `for a; do out="$a"; done
printf 'partial' > "$out"
echo "Invalid data found when processing input" >&2
exit 1
`

const ffmpegHang = `for a; do out="$a"; done
printf 'partial' > "$out"
exec sleep 30
`

func newTestEncoder(t *testing.T, probe, ffmpeg string) (*Encoder, string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fakes require a POSIX shell")
	}
	bin := t.TempDir()
	work := t.TempDir()
	enc, err := New(Config{
		FFmpegPath:  writeScript(t, bin, "ffmpeg", ffmpeg),
		FFprobePath: writeScript(t, bin, "ffprobe", probe),
		WorkDir:     work,
		Logger:      logger.New(&logger.Config{Output: io.Discard}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return enc, work
}

func inputFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.mov")
	if err := os.WriteFile(path, []byte("source"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func workDirEntries(t *testing.T, dir string) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return entries
}

func TestEncode_ScalesLargeSource(t *testing.T) {
	enc, work := newTestEncoder(t, probeScript(4000, 3000), ffmpegOK)

	res, err := enc.Encode(context.Background(), inputFile(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.Width != 960 || res.Height != 720 {
		t.Errorf("expected 960x720, got %dx%d", res.Width, res.Height)
	}
	if res.DurationSeconds != 4.0 {
		t.Errorf("expected duration 4.0, got %v", res.DurationSeconds)
	}
	if res.FileSizeBytes != int64(len("encoded-bytes")) {
		t.Errorf("unexpected size %d", res.FileSizeBytes)
	}
	if filepath.Dir(res.OutputPath) != work {
		t.Errorf("output %s not in work dir %s", res.OutputPath, work)
	}
}

func TestEncode_PassesThroughSmallSource(t *testing.T) {
	enc, _ := newTestEncoder(t, probeScript(640, 360), ffmpegOK)

	res, err := enc.Encode(context.Background(), inputFile(t))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.Width != 640 || res.Height != 360 {
		t.Errorf("expected 640x360, got %dx%d", res.Width, res.Height)
	}
}

func TestEncode_ProbeFailureIsMetadataError(t *testing.T) {
	tests := []struct {
		name  string
		probe string
	}{
		{"ffprobe exits non-zero", "exit 1\n"},
		{"garbage output", "echo nonsense\n"},
		{"no video stream", `echo '{"streams":[{"codec_type":"audio"}],"format":{}}'` + "\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, work := newTestEncoder(t, tt.probe, ffmpegOK)

			_, err := enc.Encode(context.Background(), inputFile(t))
			var metaErr *MetadataError
			if !errors.As(err, &metaErr) {
				t.Fatalf("expected MetadataError, got %v", err)
			}
			if n := len(workDirEntries(t, work)); n != 0 {
				t.Errorf("expected empty work dir, found %d entries", n)
			}
		})
	}
}

func TestEncode_FailureRemovesPartialOutput(t *testing.T) {
	enc, work := newTestEncoder(t, probeScript(1920, 1080), ffmpegFail)

	_, err := enc.Encode(context.Background(), inputFile(t))
	var encErr *EncodeError
	if !errors.As(err, &encErr) {
		t.Fatalf("expected EncodeError, got %v", err)
	}
	if encErr.Stderr == "" {
		t.Error("expected captured stderr")
	}
	if n := len(workDirEntries(t, work)); n != 0 {
		t.Errorf("expected partial output removed, found %d entries", n)
	}
}

func TestEncode_TimeoutKillsAndCleansUp(t *testing.T) {
	enc, work := newTestEncoder(t, probeScript(1920, 1080), ffmpegHang)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := enc.Encode(ctx, inputFile(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("encode was not interrupted promptly")
	}
	if n := len(workDirEntries(t, work)); n != 0 {
		t.Errorf("expected partial output removed, found %d entries", n)
	}
}

func TestEncode_ProbeTimeoutIsNotMetadataError(t *testing.T) {
	enc, _ := newTestEncoder(t, "exec sleep 30\n", ffmpegOK)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := enc.Encode(ctx, inputFile(t))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	var metaErr *MetadataError
	if errors.As(err, &metaErr) {
		t.Errorf("timeout reported as metadata error: %v", err)
	}
}

func TestEncode_LeavesInputAlone(t *testing.T) {
	enc, _ := newTestEncoder(t, probeScript(640, 360), ffmpegOK)
	in := inputFile(t)

	if _, err := enc.Encode(context.Background(), in); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := os.Stat(in); err != nil {
		t.Errorf("input should still exist: %v", err)
	}
}

func TestCheckBinaries(t *testing.T) {
	enc, _ := newTestEncoder(t, probeScript(640, 360), ffmpegOK)
	if err := enc.CheckBinaries(); err != nil {
		t.Errorf("expected fake binaries to resolve: %v", err)
	}

	enc.ffmpegPath = filepath.Join(t.TempDir(), "missing-ffmpeg")
	if err := enc.CheckBinaries(); err == nil {
		t.Error("expected error for missing ffmpeg")
	}
}
