package db

import (
	"context"
	"fmt"

	"github.com/socialnet/backend/internal/reconcile"
	"github.com/socialnet/backend/internal/transcode"
)

// CourseRepository updates course video rows owned by the course service.
type CourseRepository struct {
	db *DB
}

func NewCourseRepository(db *DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// CreateUploading inserts a course video waiting for its encode.
func (r *CourseRepository) CreateUploading(ctx context.Context, courseID, videoID, creatorID, title string) error {
	query := `
		INSERT INTO course_videos (id, course_id, creator_id, title, status)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, videoID, courseID, creatorID, title, reconcile.CourseVideoUploading); err != nil {
		return fmt.Errorf("failed to insert course video: %w", err)
	}
	return nil
}

func (r *CourseRepository) MarkVideoReady(ctx context.Context, target transcode.CourseTarget, url string) error {
	query := `
		UPDATE course_videos SET status = $1, video_url = $2, updated_at = NOW()
		WHERE course_id = $3 AND id = $4 AND status = $5
	`
	res, err := r.db.ExecContext(ctx, query,
		reconcile.CourseVideoReady, url, target.CollectionID, target.ContentItemID, reconcile.CourseVideoUploading,
	)
	if err != nil {
		return fmt.Errorf("failed to update course video: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM course_videos WHERE course_id = $1 AND id = $2)`,
		target.CollectionID, target.ContentItemID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up course video: %w", err)
	}
	if !exists {
		return reconcile.ErrVideoNotFound
	}
	return reconcile.ErrVideoNotUploading
}

// VideoStatus returns a course video's status and url.
func (r *CourseRepository) VideoStatus(ctx context.Context, courseID, videoID string) (string, string, error) {
	var status string
	var url *string
	err := r.db.QueryRowContext(ctx,
		`SELECT status, video_url FROM course_videos WHERE course_id = $1 AND id = $2`,
		courseID, videoID,
	).Scan(&status, &url)
	if err != nil {
		return "", "", err
	}
	if url == nil {
		return status, "", nil
	}
	return status, *url, nil
}
