// Package sweeper periodically removes stale encoder outputs and hands
// stranded QUEUED jobs back to the dispatcher.
package sweeper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/socialnet/backend/internal/logger"
)

// Requeuer re-dispatches stored QUEUED jobs that are not waiting in memory.
type Requeuer interface {
	Requeue(ctx context.Context) (int, error)
}

type Config struct {
	// Dir is the encoder work directory. Only regular files directly inside
	// it are considered.
	Dir string
	// MaxAge must exceed the job timeout so a running encode never loses
	// its output.
	MaxAge time.Duration
	// Schedule is a cron expression with a seconds field.
	Schedule string
	Requeuer Requeuer
	Logger   *logger.Logger
	now      func() time.Time
}

// Result summarizes one sweep.
type Result struct {
	Removed  int
	Requeued int
}

type Sweeper struct {
	cron     *cron.Cron
	dir      string
	maxAge   time.Duration
	requeuer Requeuer
	log      *logger.Logger
	now      func() time.Time
}

func New(cfg Config) (*Sweeper, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("sweeper: work directory is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("sweeper: max age must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default().WithComponent("sweeper")
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	s := &Sweeper{
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		dir:      cfg.Dir,
		maxAge:   cfg.MaxAge,
		requeuer: cfg.Requeuer,
		log:      cfg.Logger,
		now:      cfg.now,
	}

	if _, err := s.cron.AddFunc(cfg.Schedule, s.run); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop prevents new runs and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	ctx := context.Background()
	res, err := s.Sweep(ctx)
	if err != nil {
		s.log.Error(ctx, "sweep failed", err)
		return
	}
	if res.Removed > 0 || res.Requeued > 0 {
		s.log.Info(ctx, "sweep finished", logger.Fields{
			"removed":  res.Removed,
			"requeued": res.Requeued,
		})
	}
}

// Sweep runs one pass. A file that cannot be removed is logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	entries, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("read work dir: %w", err)
	}

	cutoff := s.now().Add(-s.maxAge)
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed concurrently
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn(ctx, "failed to remove stale file", err, logger.Fields{"path": path})
			continue
		}
		res.Removed++
	}

	if s.requeuer != nil {
		n, err := s.requeuer.Requeue(ctx)
		if err != nil {
			return res, fmt.Errorf("requeue: %w", err)
		}
		res.Requeued = n
	}
	return res, nil
}
