package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/socialnet/backend/internal/media"
)

// MediaRepository is the Postgres media.Store.
type MediaRepository struct {
	db *DB
}

func NewMediaRepository(db *DB) *MediaRepository {
	return &MediaRepository{db: db}
}

const mediaColumns = `public_id, url, kind, is_transcoding, transcoding_completed,
	transcoding_job_id, created_at, updated_at`

// Create registers a media record, as the upload flow does.
func (r *MediaRepository) Create(ctx context.Context, rec *media.Record) error {
	query := `
		INSERT INTO media_records (public_id, url, kind, is_transcoding,
			transcoding_completed, transcoding_job_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query,
		rec.PublicID, rec.URL, string(rec.Kind), rec.IsTranscoding,
		rec.TranscodingCompleted, rec.TranscodingJobID,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert media record: %w", err)
	}
	return nil
}

// FindByPublicIDs resolves every id in one round trip.
func (r *MediaRepository) FindByPublicIDs(ctx context.Context, publicIDs []string) (map[string]*media.Record, error) {
	out := make(map[string]*media.Record, len(publicIDs))
	if len(publicIDs) == 0 {
		return out, nil
	}

	query := `SELECT ` + mediaColumns + ` FROM media_records WHERE public_id = ANY($1)`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(publicIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query media records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out[rec.PublicID] = rec
	}
	return out, rows.Err()
}

func (r *MediaRepository) FindByJobID(ctx context.Context, jobID string) (*media.Record, error) {
	if !validJobID(jobID) {
		return nil, media.ErrRecordNotFound
	}
	query := `SELECT ` + mediaColumns + ` FROM media_records
		WHERE transcoding_job_id = $1 ORDER BY created_at ASC LIMIT 1`
	rec, err := scanMedia(r.db.QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.ErrRecordNotFound
	}
	return rec, err
}

// MarkTranscoded flips the record only while transcoding_completed is still
// false, which makes replays no-ops.
func (r *MediaRepository) MarkTranscoded(ctx context.Context, jobID, url string) (*media.Record, error) {
	if !validJobID(jobID) {
		return nil, media.ErrRecordNotFound
	}
	query := `
		UPDATE media_records SET
			url = $2,
			is_transcoding = FALSE,
			transcoding_completed = TRUE,
			updated_at = NOW()
		WHERE public_id = (
			SELECT public_id FROM media_records
			WHERE transcoding_job_id = $1
			ORDER BY created_at ASC LIMIT 1
		) AND transcoding_completed = FALSE
		RETURNING ` + mediaColumns

	rec, err := scanMedia(r.db.QueryRowContext(ctx, query, jobID, url))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update media record: %w", err)
	}

	if _, findErr := r.FindByJobID(ctx, jobID); findErr != nil {
		return nil, findErr
	}
	return nil, media.ErrAlreadyTranscoded
}

func scanMedia(row rowScanner) (*media.Record, error) {
	var (
		rec   media.Record
		kind  string
		jobID sql.NullString
	)
	err := row.Scan(
		&rec.PublicID, &rec.URL, &kind, &rec.IsTranscoding, &rec.TranscodingCompleted,
		&jobID, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Kind = media.Kind(kind)
	if jobID.Valid {
		rec.TranscodingJobID = &jobID.String
	}
	return &rec, nil
}
