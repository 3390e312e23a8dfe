package media

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var (
	ErrRecordNotFound = errors.New("media record not found")
	// ErrAlreadyTranscoded is returned by MarkTranscoded when the record was
	// already flipped, so replays change nothing.
	ErrAlreadyTranscoded = errors.New("media record already transcoded")
)

// Record is the stored media asset that content items reference by
// PublicID. Transcoding state lives here, never on the content item.
type Record struct {
	PublicID             string    `json:"public_id"`
	URL                  string    `json:"url"`
	Kind                 Kind      `json:"kind"`
	IsTranscoding        bool      `json:"is_transcoding"`
	TranscodingCompleted bool      `json:"transcoding_completed"`
	TranscodingJobID     *string   `json:"transcoding_job_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Lookup is the read side used by the enricher.
type Lookup interface {
	// FindByPublicIDs returns the records that exist, keyed by PublicID.
	FindByPublicIDs(ctx context.Context, publicIDs []string) (map[string]*Record, error)
}

// Store adds the writes the completion reconciler performs.
type Store interface {
	Lookup
	FindByJobID(ctx context.Context, jobID string) (*Record, error)
	// MarkTranscoded swaps in url and clears IsTranscoding for the record
	// bound to jobID, only if TranscodingCompleted is still false.
	MarkTranscoded(ctx context.Context, jobID, url string) (*Record, error)
}

// MemoryStore is an in-process Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// Put inserts or replaces a record, as the upload flow would.
func (s *MemoryStore) Put(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	s.records[rec.PublicID] = &rec
}

func (s *MemoryStore) FindByPublicIDs(ctx context.Context, publicIDs []string) (map[string]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*Record, len(publicIDs))
	for _, id := range publicIDs {
		if rec, ok := s.records[id]; ok {
			c := *rec
			out[id] = &c
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByJobID(ctx context.Context, jobID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.byJob(jobID)
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MemoryStore) MarkTranscoded(ctx context.Context, jobID, url string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.byJob(jobID)
	if rec == nil {
		return nil, ErrRecordNotFound
	}
	if rec.TranscodingCompleted {
		return nil, ErrAlreadyTranscoded
	}
	rec.URL = url
	rec.IsTranscoding = false
	rec.TranscodingCompleted = true
	rec.UpdatedAt = time.Now().UTC()
	c := *rec
	return &c, nil
}

// byJob requires s.mu. Several records may share a job id when a caller
// reuses one job for renditions; the oldest wins, matching the SQL store.
func (s *MemoryStore) byJob(jobID string) *Record {
	var matches []*Record
	for _, rec := range s.records {
		if rec.TranscodingJobID != nil && *rec.TranscodingJobID == jobID {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches[0]
}
