package sweeper

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/socialnet/backend/internal/logger"
)

type fakeRequeuer struct {
	n     int
	err   error
	calls int
}

func (f *fakeRequeuer) Requeue(ctx context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Output: io.Discard})
}

func touch(t *testing.T, path string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatal(err)
	}
}

func remaining(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestSweep_RemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

	touch(t, filepath.Join(dir, "old.mp4"), now.Add(-7*time.Hour))
	touch(t, filepath.Join(dir, "fresh.mp4"), now.Add(-time.Minute))
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	touch(t, filepath.Join(dir, "nested", "old.mp4"), now.Add(-7*time.Hour))

	rq := &fakeRequeuer{n: 2}
	s, err := New(Config{Dir: dir, MaxAge: 6 * time.Hour, Schedule: "@every 1h", Requeuer: rq, Logger: quietLogger(), now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Removed != 1 || res.Requeued != 2 {
		t.Errorf("result = %+v", res)
	}
	if rq.calls != 1 {
		t.Errorf("requeue calls = %d", rq.calls)
	}

	got := remaining(t, dir)
	if len(got) != 2 || got[0] != "fresh.mp4" || got[1] != "nested" {
		t.Errorf("remaining = %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested", "old.mp4")); err != nil {
		t.Errorf("nested file touched: %v", err)
	}
}

func TestSweep_MissingDir(t *testing.T) {
	s, err := New(Config{Dir: filepath.Join(t.TempDir(), "gone"), MaxAge: time.Hour, Schedule: "@every 1h", Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if res, err := s.Sweep(context.Background()); err != nil || res.Removed != 0 {
		t.Errorf("got %+v, %v", res, err)
	}
}

func TestSweep_RequeueError(t *testing.T) {
	rq := &fakeRequeuer{err: errors.New("store down")}
	s, err := New(Config{Dir: t.TempDir(), MaxAge: time.Hour, Schedule: "@every 1h", Requeuer: rq, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Error("expected requeue error")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no dir", Config{MaxAge: time.Hour, Schedule: "@every 1h"}},
		{"no max age", Config{Dir: "/tmp", Schedule: "@every 1h"}},
		{"bad schedule", Config{Dir: "/tmp", MaxAge: time.Hour, Schedule: "every now and then"}},
		{"five field expression", Config{Dir: "/tmp", MaxAge: time.Hour, Schedule: "*/15 * * * *"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Logger = quietLogger()
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	rq := &fakeRequeuer{}
	s, err := New(Config{Dir: t.TempDir(), MaxAge: time.Hour, Schedule: "0 */15 * * * *", Requeuer: rq, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
