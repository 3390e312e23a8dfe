package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyJob        = "transcode:job:"
	keyUserJobs   = "transcode:user:"
	keyStatusJobs = "transcode:status:"

	// transitionAttempts bounds WATCH retries on a contended job key.
	transitionAttempts = 5
)

var errJobExists = errors.New("job already exists")

// RedisStore keeps each job as a JSON string with sorted-set indexes per
// submitter and per status, scored by creation time.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

// Create writes the record and both index entries in one MULTI, watching the
// job key so an existing job is never overwritten.
func (s *RedisStore) Create(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	key := keyJob + job.ID
	member := redis.Z{Score: score(job.CreatedAt), Member: job.ID}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", errJobExists, job.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, keyUserJobs+job.SubmittedBy, member)
			pipe.ZAdd(ctx, keyStatusJobs+string(job.Status), member)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, errJobExists):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// someone wrote the key between WATCH and EXEC
		return fmt.Errorf("%w: %s", errJobExists, job.ID)
	}
	return fmt.Errorf("failed to save job: %w", err)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	data, err := s.client.Get(ctx, keyJob+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return decodeJob(data)
}

func decodeJob(data []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

// Transition applies tr under WATCH on the job key so a concurrent writer
// aborts the transaction instead of being overwritten.
func (s *RedisStore) Transition(ctx context.Context, id string, tr Transition) (*Job, error) {
	if err := tr.validate(); err != nil {
		return nil, err
	}

	key := keyJob + id
	var updated *Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrJobNotFound
			}
			return err
		}
		job, err := decodeJob(data)
		if err != nil {
			return err
		}
		if job.Status != tr.From {
			return fmt.Errorf("%w: job %s is %s, expected %s", ErrStatusConflict, id, job.Status, tr.From)
		}

		job.apply(tr)
		next, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			pipe.ZRem(ctx, keyStatusJobs+string(tr.From), id)
			pipe.ZAdd(ctx, keyStatusJobs+string(tr.To), redis.Z{Score: score(job.CreatedAt), Member: id})
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for i := 0; i < transitionAttempts; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: job %s kept changing", ErrStatusConflict, id)
}

func (s *RedisStore) List(ctx context.Context, f ListFilter) ([]*Job, int, error) {
	userKey := keyUserJobs + f.SubmittedBy

	if f.Status == "" {
		total, err := s.client.ZCard(ctx, userKey).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
		}
		stop := int64(-1)
		if f.Limit > 0 {
			stop = int64(f.Offset + f.Limit - 1)
		}
		ids, err := s.client.ZRevRange(ctx, userKey, int64(f.Offset), stop).Result()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
		}
		jobs, err := s.load(ctx, ids)
		return jobs, int(total), err
	}

	// Status filters are rare, so the submitter's index is scanned in full
	// rather than kept as a third per-user-per-status index.
	ids, err := s.client.ZRevRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	all, err := s.load(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	var matched []*Job
	for _, job := range all {
		if job.Status == f.Status {
			matched = append(matched, job)
		}
	}

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

func (s *RedisStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRange(ctx, keyStatusJobs+string(status), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", status, err)
	}
	jobs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	// the index can briefly lead the record during a transition
	out := jobs[:0]
	for _, job := range jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	return out, nil
}

// load fetches records in ids order with one MGET, skipping ids whose record
// is gone.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*Job, error) {
	jobs := make([]*Job, 0, len(ids))
	if len(ids) == 0 {
		return jobs, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyJob + id
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob([]byte(raw))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
