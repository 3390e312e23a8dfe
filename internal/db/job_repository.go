package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/socialnet/backend/internal/transcode"
)

// JobRepository is the Postgres transcode.Store.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, input_path, job_type, target, submitted_by, original_filename,
	status, error, result, created_at, updated_at, started_at, completed_at`

func (r *JobRepository) Create(ctx context.Context, job *transcode.Job) error {
	payload, err := transcode.EncodeTarget(job.Target)
	if err != nil {
		return err
	}
	// lib/pq sends []byte as bytea, so JSON goes over as text
	var target sql.NullString
	if string(payload) != "null" {
		target = sql.NullString{String: string(payload), Valid: true}
	}

	query := `
		INSERT INTO transcoding_jobs (id, input_path, job_type, target, submitted_by,
			original_filename, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.db.ExecContext(ctx, query,
		job.ID, job.InputPath, string(job.Type), target, job.SubmittedBy,
		job.OriginalFilename, string(job.Status), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// validJobID reports whether id can match the uuid id column. Anything else
// makes Postgres fail the cast instead of returning no rows.
func validJobID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *JobRepository) Get(ctx context.Context, id string) (*transcode.Job, error) {
	if !validJobID(id) {
		return nil, transcode.ErrJobNotFound
	}
	query := `SELECT ` + jobColumns + ` FROM transcoding_jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, transcode.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Transition updates the row only while it still has tr.From, so concurrent
// workers race on the WHERE clause rather than in Go.
func (r *JobRepository) Transition(ctx context.Context, id string, tr transcode.Transition) (*transcode.Job, error) {
	if !transcode.CanTransition(tr.From, tr.To) {
		return nil, fmt.Errorf("%w: %s -> %s", transcode.ErrInvalidTransition, tr.From, tr.To)
	}
	if !validJobID(id) {
		return nil, transcode.ErrJobNotFound
	}

	at := tr.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var errMsg, result sql.NullString
	if tr.To == transcode.StatusFailed {
		errMsg = sql.NullString{String: tr.Error, Valid: true}
	}
	if tr.To == transcode.StatusCompleted && tr.Result != nil {
		b, err := json.Marshal(tr.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		UPDATE transcoding_jobs SET
			status = $3,
			updated_at = $4,
			started_at = CASE WHEN $3 = 'PROCESSING' THEN $4 ELSE started_at END,
			completed_at = CASE WHEN $3 IN ('COMPLETED', 'FAILED') THEN $4 ELSE completed_at END,
			error = COALESCE($5, error),
			result = COALESCE($6::jsonb, result)
		WHERE id = $1 AND status = $2
		RETURNING ` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query,
		id, string(tr.From), string(tr.To), at, errMsg, result,
	))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// no row matched: tell a missing job apart from a lost race
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: job %s is %s, expected %s", transcode.ErrStatusConflict, id, current.Status, tr.From)
}

func (r *JobRepository) List(ctx context.Context, f transcode.ListFilter) ([]*transcode.Job, int, error) {
	where := `WHERE submitted_by = $1`
	args := []interface{}{f.SubmittedBy}
	if f.Status != "" {
		where += ` AND status = $2`
		args = append(args, string(f.Status))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transcoding_jobs `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	query := fmt.Sprintf(`SELECT %s FROM transcoding_jobs %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, jobColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, f.Offset)

	jobs, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (r *JobRepository) ListByStatus(ctx context.Context, status transcode.Status, limit int) ([]*transcode.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcoding_jobs WHERE status = $1 ORDER BY created_at ASC, id ASC`
	args := []interface{}{string(status)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

func (r *JobRepository) query(ctx context.Context, query string, args ...interface{}) ([]*transcode.Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*transcode.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*transcode.Job, error) {
	var (
		job         transcode.Job
		jobType     string
		status      string
		target      []byte
		errMsg      sql.NullString
		result      []byte
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&job.ID, &job.InputPath, &jobType, &target, &job.SubmittedBy, &job.OriginalFilename,
		&status, &errMsg, &result, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Type = transcode.JobType(jobType)
	job.Status = transcode.Status(status)
	job.Error = errMsg.String
	if job.Target, err = transcode.DecodeTarget(job.Type, target); err != nil {
		return nil, fmt.Errorf("job %s: %w", job.ID, err)
	}
	if len(result) > 0 {
		var out transcode.Output
		if err := json.Unmarshal(result, &out); err != nil {
			return nil, fmt.Errorf("job %s: failed to decode result: %w", job.ID, err)
		}
		job.Result = &out
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
