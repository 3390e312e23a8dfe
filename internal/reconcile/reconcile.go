package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/media"
	"github.com/socialnet/backend/internal/transcode"
)

// Course video statuses owned by the course content system.
const (
	CourseVideoUploading = "UPLOADING"
	CourseVideoReady     = "READY"
)

var (
	// ErrVideoNotUploading means the course video already left UPLOADING.
	ErrVideoNotUploading = errors.New("course video is not uploading")
	// ErrVideoNotFound means no course video matches the job's linkage.
	ErrVideoNotFound = errors.New("course video not found")
)

// CourseContent flips course videos once their encode has been published.
type CourseContent interface {
	// MarkVideoReady moves the video from UPLOADING to READY with url. It
	// returns ErrVideoNotFound when no video matches target and
	// ErrVideoNotUploading when the video is in any other state.
	MarkVideoReady(ctx context.Context, target transcode.CourseTarget, url string) error
}

// Reconciler applies finished jobs to the records that reference them. It is
// registered first on the event fanout so notifiers observe reconciled state.
type Reconciler struct {
	media   media.Store
	courses CourseContent
	log     *logger.Logger
}

func New(mediaStore media.Store, courses CourseContent, log *logger.Logger) *Reconciler {
	if log == nil {
		log = logger.Default().WithComponent("reconcile")
	}
	return &Reconciler{media: mediaStore, courses: courses, log: log}
}

// HandleEvent is safe to replay: every write is guarded on the prior state.
func (r *Reconciler) HandleEvent(ctx context.Context, ev transcode.Event) error {
	switch ev.Kind {
	case transcode.EventCompleted:
		return r.completed(ctx, ev)
	case transcode.EventFailed:
		r.failed(ctx, ev)
		return nil
	}
	return fmt.Errorf("unknown event kind %q", ev.Kind)
}

func (r *Reconciler) completed(ctx context.Context, ev transcode.Event) error {
	if ev.Result == nil || ev.Result.URL == "" {
		return fmt.Errorf("completed job %s has no output url", ev.JobID)
	}
	fields := logger.Fields{"job_id": ev.JobID, "url": ev.Result.URL}

	rec, err := r.media.MarkTranscoded(ctx, ev.JobID, ev.Result.URL)
	switch {
	case err == nil:
		r.log.Info(ctx, "media record transcoded", logger.Fields{"job_id": ev.JobID, "public_id": rec.PublicID})
	case errors.Is(err, media.ErrAlreadyTranscoded):
		r.log.Debug(ctx, "media record already reconciled", fields)
	case errors.Is(err, media.ErrRecordNotFound):
		// course uploads and direct API submissions may have no media record
		r.log.Debug(ctx, "no media record for job", fields)
	default:
		return fmt.Errorf("mark media transcoded: %w", err)
	}

	if ev.Job == nil {
		return nil
	}
	return r.applyTarget(ctx, ev.Job.Target, ev.Result.URL, fields)
}

// applyTarget runs the job-type specific side of reconciliation.
func (r *Reconciler) applyTarget(ctx context.Context, target transcode.Target, url string, fields logger.Fields) error {
	switch t := target.(type) {
	case transcode.CourseTarget:
		if r.courses == nil {
			return fmt.Errorf("course job %s completed but no course store is configured", fields["job_id"])
		}
		err := r.courses.MarkVideoReady(ctx, t, url)
		if errors.Is(err, ErrVideoNotUploading) {
			r.log.Debug(ctx, "course video already ready", fields)
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark course video ready: %w", err)
		}
		r.log.Info(ctx, "course video ready", logger.Fields{
			"job_id":     fields["job_id"],
			"video_id":   t.ContentItemID,
			"course_id":  t.CollectionID,
			"creator_id": t.CreatorID,
		})
		return nil
	case transcode.PostTarget, transcode.ReelTarget, transcode.StoryTarget, transcode.MediaTarget:
		// the media record flip is all these need
		return nil
	case nil:
		return nil
	default:
		return fmt.Errorf("unhandled target %T", target)
	}
}

// failed leaves the media record transcoding so the asset stays unplayable
// until an operator resubmits it.
func (r *Reconciler) failed(ctx context.Context, ev transcode.Event) {
	r.log.Warn(ctx, "transcoding job failed, media record left pending", nil, logger.Fields{
		"job_id": ev.JobID,
		"error":  ev.Error,
	})
}

type courseVideo struct {
	status    string
	url       string
	updatedAt time.Time
}

// MemoryCourses is an in-process CourseContent for tests and memory mode.
type MemoryCourses struct {
	mu     sync.Mutex
	videos map[string]*courseVideo
}

func NewMemoryCourses() *MemoryCourses {
	return &MemoryCourses{videos: make(map[string]*courseVideo)}
}

// AddUploading registers a course video awaiting its encode.
func (m *MemoryCourses) AddUploading(courseID, videoID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[courseID+"/"+videoID] = &courseVideo{status: CourseVideoUploading, updatedAt: time.Now().UTC()}
}

// Video returns the status and url of a course video.
func (m *MemoryCourses) Video(courseID, videoID string) (string, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[courseID+"/"+videoID]
	if !ok {
		return "", "", false
	}
	return v.status, v.url, true
}

func (m *MemoryCourses) MarkVideoReady(ctx context.Context, target transcode.CourseTarget, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[target.CollectionID+"/"+target.ContentItemID]
	if !ok {
		return ErrVideoNotFound
	}
	if v.status != CourseVideoUploading {
		return ErrVideoNotUploading
	}
	v.status = CourseVideoReady
	v.url = url
	v.updatedAt = time.Now().UTC()
	return nil
}
