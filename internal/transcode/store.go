package transcode

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStatusConflict means the job was not in the expected prior status.
	ErrStatusConflict = errors.New("job status changed concurrently")
)

// Transition is a compare-and-set status change: it applies only while the
// job is still in From.
type Transition struct {
	From   Status
	To     Status
	Error  string
	Result *Output
	At     time.Time
}

func (tr Transition) validate() error {
	if !CanTransition(tr.From, tr.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tr.From, tr.To)
	}
	return nil
}

// ListFilter selects a submitter's jobs, newest first.
type ListFilter struct {
	SubmittedBy string
	Status      Status // empty matches every status
	Offset      int
	Limit       int
}

// Store persists job records. Implementations must make Transition atomic
// with respect to concurrent callers.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Transition(ctx context.Context, id string, tr Transition) (*Job, error)
	List(ctx context.Context, f ListFilter) ([]*Job, int, error)
	// ListByStatus returns jobs in status, oldest first. limit <= 0 means all.
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)
}

// MemoryStore keeps jobs in process memory. Used for tests and
// JOB_STORE=memory deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Transition(ctx context.Context, id string, tr Transition) (*Job, error) {
	if err := tr.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	if job.Status != tr.From {
		return nil, fmt.Errorf("%w: job %s is %s, expected %s", ErrStatusConflict, id, job.Status, tr.From)
	}
	job.apply(tr)
	return job.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f ListFilter) ([]*Job, int, error) {
	s.mu.RLock()
	var matched []*Job
	for _, job := range s.jobs {
		if job.SubmittedBy != f.SubmittedBy {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		matched = append(matched, job.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []*Job{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	s.mu.RLock()
	var matched []*Job
	for _, job := range s.jobs {
		if job.Status == status {
			matched = append(matched, job.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}
