package transcode

import (
	"context"
	"errors"

	"github.com/socialnet/backend/internal/logger"
)

// ErrForbidden is returned when a requester asks for someone else's job.
var ErrForbidden = errors.New("job belongs to another user")

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListOptions filters and pages a submitter's jobs.
type ListOptions struct {
	Status Status
	Page   int
	Limit  int
}

// Pagination describes the page returned by ListJobs.
type Pagination struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
}

type JobPage struct {
	Jobs       []*Job     `json:"jobs"`
	Pagination Pagination `json:"pagination"`
}

// Service is the query and submission surface over the store and dispatcher.
type Service struct {
	store      Store
	dispatcher *Dispatcher
}

func NewService(store Store, dispatcher *Dispatcher) *Service {
	return &Service{store: store, dispatcher: dispatcher}
}

func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	return s.dispatcher.Submit(ctx, req)
}

// GetStatus returns the job. When requesterID is non-empty it must match the
// submitter, otherwise ErrForbidden is returned and the record is withheld.
func (s *Service) GetStatus(ctx context.Context, jobID, requesterID string) (*Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if requesterID != "" && job.SubmittedBy != requesterID {
		return nil, ErrForbidden
	}
	return job, nil
}

// ListJobs returns submittedBy's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, submittedBy string, opts ListOptions) (*JobPage, error) {
	page, limit := normalizePage(opts.Page, opts.Limit)

	jobs, total, err := s.store.List(ctx, ListFilter{
		SubmittedBy: submittedBy,
		Status:      opts.Status,
		Offset:      (page - 1) * limit,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*Job{}
	}

	totalPages := (total + limit - 1) / limit
	return &JobPage{
		Jobs: jobs,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}, nil
}

func (s *Service) QueueStats() Stats {
	return s.dispatcher.Stats()
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

// SubmitOrDegrade submits req for an upload flow that must succeed even when
// transcoding is unavailable. On ErrQueueFull it logs and returns nil, and
// the caller stores its content without transcoding metadata. Other errors
// are returned.
func SubmitOrDegrade(ctx context.Context, d *Dispatcher, req SubmitRequest) (*Job, error) {
	job, err := d.Submit(ctx, req)
	if errors.Is(err, ErrQueueFull) {
		logger.Warn(ctx, "transcoding skipped, queue full", err, logger.Fields{
			"submitted_by":      req.SubmittedBy,
			"original_filename": req.OriginalFilename,
		})
		return nil, nil
	}
	return job, err
}
