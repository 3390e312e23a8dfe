package transcode

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/socialnet/backend/internal/encoder"
	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/storage"
)

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Output: io.Discard, Level: logger.LevelError})
}

// fakeEncoder writes a small output file, or runs fn when set.
type fakeEncoder struct {
	dir string
	fn  func(ctx context.Context, input string) (*encoder.Result, error)

	mu     sync.Mutex
	inputs []string
}

func (f *fakeEncoder) Encode(ctx context.Context, input string) (*encoder.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.fn != nil {
		return f.fn(ctx, input)
	}
	return f.writeOutput(960, 720)
}

func (f *fakeEncoder) writeOutput(w, h int) (*encoder.Result, error) {
	out, err := os.CreateTemp(f.dir, "out-*.mp4")
	if err != nil {
		return nil, err
	}
	out.WriteString("mp4")
	out.Close()
	return &encoder.Result{OutputPath: out.Name(), Width: w, Height: h, DurationSeconds: 4, FileSizeBytes: 3}, nil
}

func (f *fakeEncoder) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

// fakeBlobs records uploads; err makes every Put fail.
type fakeBlobs struct {
	mu   sync.Mutex
	puts []string
	err  error
}

func (b *fakeBlobs) Put(ctx context.Context, localPath, name string) (*storage.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return nil, b.err
	}
	if _, err := os.Stat(localPath); err != nil {
		return nil, err
	}
	b.puts = append(b.puts, localPath)
	key := "videos/" + filepath.Base(localPath)
	return &storage.Object{Key: key, URL: "https://cdn.example.com/" + key, ContentType: storage.ContentTypeMP4}, nil
}

type harness struct {
	t     *testing.T
	store *MemoryStore
	enc   *fakeEncoder
	blobs *fakeBlobs
	d     *Dispatcher
	dir   string
}

func newHarness(t *testing.T, cfg DispatcherConfig) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		t:     t,
		store: NewMemoryStore(),
		enc:   &fakeEncoder{dir: dir},
		blobs: &fakeBlobs{},
		dir:   dir,
	}
	if cfg.Store == nil {
		cfg.Store = h.store
	}
	cfg.Encoder = h.enc
	cfg.Blobs = h.blobs
	cfg.Logger = quietLogger()
	if cfg.UploadRetry == nil {
		cfg.UploadRetry = &apperrors.RetryConfig{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffFactor: 1}
	}
	h.d = NewDispatcher(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.d.Stop(ctx)
	})
	return h
}

// input creates a source file the way an upload flow would.
func (h *harness) input(name string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte("source"), 0o644); err != nil {
		h.t.Fatal(err)
	}
	return path
}

func (h *harness) submit(name string) *Job {
	h.t.Helper()
	job, err := h.d.Submit(context.Background(), SubmitRequest{
		InputPath:        h.input(name),
		Type:             TypePost,
		SubmittedBy:      "user-1",
		OriginalFilename: name,
	})
	if err != nil {
		h.t.Fatalf("Submit: %v", err)
	}
	return job
}

// nextEvent waits for one event from the dispatcher.
func (h *harness) nextEvent() Event {
	h.t.Helper()
	select {
	case ev, ok := <-h.d.Events():
		if !ok {
			h.t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		h.t.Fatal("timed out waiting for job event")
	}
	return Event{}
}

// localFiles lists regular files left in the harness directory.
func (h *harness) localFiles() []string {
	h.t.Helper()
	entries, err := os.ReadDir(h.dir)
	if err != nil {
		h.t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

var errPermanent = errors.New("bucket does not exist")
