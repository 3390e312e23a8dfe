package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/socialnet/backend/internal/encoder"
	apperrors "github.com/socialnet/backend/internal/errors"
	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/storage"
)

const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 100
	DefaultEventBuffer = 256
	DefaultJobTimeout  = 30 * time.Minute

	// interruptedMessage is recorded on jobs a previous process left running.
	interruptedMessage = "interrupted: worker stopped before the job finished"
)

var (
	// ErrQueueFull is returned by Submit when no queue slot is free. Nothing
	// is persisted in that case.
	ErrQueueFull         = errors.New("transcoding queue is full")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// Encoder turns an input file into a normalized local output file.
type Encoder interface {
	Encode(ctx context.Context, inputPath string) (*encoder.Result, error)
}

// BlobStore uploads a local file. name is a display filename used to derive
// the object key.
type BlobStore interface {
	Put(ctx context.Context, localPath, name string) (*storage.Object, error)
}

// Recorder receives pipeline measurements. metrics.Metrics implements it.
type Recorder interface {
	JobSubmitted(jobType string)
	JobRejected()
	JobFinished(jobType string, status string, elapsed time.Duration)
}

// SubmitRequest describes a new job. Linkage is required for course jobs.
type SubmitRequest struct {
	InputPath        string   `json:"input_path"`
	Type             JobType  `json:"job_type"`
	SubmittedBy      string   `json:"submitted_by"`
	OriginalFilename string   `json:"original_filename"`
	Linkage          *Linkage `json:"linkage,omitempty"`
}

// Stats is a point-in-time snapshot of the dispatcher. Completed and Failed
// count jobs finished by this process.
type Stats struct {
	Queued     int   `json:"queued_count"`
	Processing int   `json:"processing_count"`
	Completed  int64 `json:"completed_count"`
	Failed     int64 `json:"failed_count"`
	Workers    int   `json:"workers"`
	Capacity   int   `json:"queue_capacity"`
}

// DispatcherConfig holds the dispatcher's collaborators and limits.
type DispatcherConfig struct {
	Store       Store
	Encoder     Encoder
	Blobs       BlobStore
	Recorder    Recorder
	Logger      *logger.Logger
	WorkerCount int
	QueueSize   int
	EventBuffer int
	JobTimeout  time.Duration
	// UploadRetry overrides apperrors.StorageRetryConfig for output uploads.
	UploadRetry *apperrors.RetryConfig
}

type queuedJob struct {
	id        string
	inputPath string
}

// Dispatcher accepts jobs into a bounded FIFO queue and runs them on a
// fixed pool of workers.
type Dispatcher struct {
	store       Store
	encoder     Encoder
	blobs       BlobStore
	recorder    Recorder
	log         *logger.Logger
	workerCount int
	queueSize   int
	jobTimeout  time.Duration
	uploadRetry *apperrors.RetryConfig

	queue  chan queuedJob
	events chan Event

	// mu guards lifecycle flags and inQueue.
	mu       sync.Mutex
	running  bool
	stopped  bool
	inQueue  map[string]struct{}
	stopChan chan struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	statsMu    sync.Mutex
	queued     int
	processing int
	completed  int64
	failed     int64
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.UploadRetry == nil {
		cfg.UploadRetry = apperrors.StorageRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default().WithComponent("dispatcher")
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:       cfg.Store,
		encoder:     cfg.Encoder,
		blobs:       cfg.Blobs,
		recorder:    cfg.Recorder,
		log:         cfg.Logger,
		workerCount: cfg.WorkerCount,
		queueSize:   cfg.QueueSize,
		jobTimeout:  cfg.JobTimeout,
		uploadRetry: cfg.UploadRetry,
		queue:       make(chan queuedJob, cfg.QueueSize),
		events:      make(chan Event, cfg.EventBuffer),
		inQueue:     make(map[string]struct{}),
		stopChan:    make(chan struct{}),
		baseCtx:     baseCtx,
		cancel:      cancel,
	}
}

// Events is the outbound stream of job.completed and job.failed events. It
// is closed once Stop has drained the workers.
func (d *Dispatcher) Events() <-chan Event {
	return d.events
}

// Start launches the workers. It is a no-op when already running and
// cannot restart a stopped dispatcher.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running || d.stopped {
		return
	}
	d.running = true

	for i := 0; i < d.workerCount; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}

	d.log.Info(context.Background(), "dispatcher started", logger.Fields{
		"workers":        d.workerCount,
		"queue_capacity": d.queueSize,
		"job_timeout":    d.jobTimeout.String(),
	})
}

// Stop refuses new submissions and waits for in-flight jobs. When ctx ends
// first, running encodes are cancelled and recorded as failed. Jobs still
// waiting in the queue stay QUEUED in the store for Recover. The events
// channel is closed before Stop returns.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.running = false
	close(d.stopChan)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		d.log.Info(context.Background(), "dispatcher stopped gracefully")
	case <-ctx.Done():
		d.log.Warn(context.Background(), "dispatcher shutdown timed out, cancelling running encodes", ctx.Err())
		d.cancel()
		<-done
		err = ctx.Err()
	}

	d.cancel()
	close(d.events)
	return err
}

func (d *Dispatcher) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// IsRunning returns whether workers are accepting jobs
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Submit validates req, persists a QUEUED job and hands it to the worker
// pool. It never waits for encoding. ErrQueueFull is returned without
// persisting anything when every queue slot is taken.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	target, err := validateSubmit(req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &Job{
		ID:               uuid.New().String(),
		InputPath:        req.InputPath,
		Type:             target.JobType(),
		SubmittedBy:      req.SubmittedBy,
		OriginalFilename: req.OriginalFilename,
		Target:           target,
		Status:           StatusQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if d.isStopped() {
		return nil, ErrDispatcherStopped
	}
	if !d.reserveSlot() {
		if d.recorder != nil {
			d.recorder.JobRejected()
		}
		return nil, ErrQueueFull
	}

	if err := d.store.Create(ctx, job); err != nil {
		d.releaseSlot()
		return nil, fmt.Errorf("create job: %w", err)
	}

	d.mu.Lock()
	d.send(job)
	d.mu.Unlock()

	if d.recorder != nil {
		d.recorder.JobSubmitted(string(job.Type))
	}
	d.log.Info(ctx, "job queued", logger.Fields{
		"job_id":       job.ID,
		"job_type":     string(job.Type),
		"submitted_by": job.SubmittedBy,
	})
	return job, nil
}

func validateSubmit(req SubmitRequest) (Target, error) {
	if req.InputPath == "" {
		return nil, apperrors.ValidationError("input path is required")
	}
	if req.SubmittedBy == "" {
		return nil, apperrors.ValidationError("submitter is required")
	}
	jobType, err := ParseJobType(string(req.Type))
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	target, err := NewTarget(jobType, req.Linkage)
	if err != nil {
		return nil, apperrors.ValidationError(err.Error())
	}
	return target, nil
}

// reserveSlot claims one queue slot. The queued counter covers reserved,
// buffered and just-received jobs, so it never undercounts the channel.
func (d *Dispatcher) reserveSlot() bool {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if d.queued >= d.queueSize {
		return false
	}
	d.queued++
	return true
}

func (d *Dispatcher) releaseSlot() {
	d.statsMu.Lock()
	d.queued--
	d.statsMu.Unlock()
}

// send requires d.mu and a reserved slot, so the channel has room.
func (d *Dispatcher) send(job *Job) {
	d.inQueue[job.ID] = struct{}{}
	d.queue <- queuedJob{id: job.ID, inputPath: job.InputPath}
}

// Requeue hands stored QUEUED jobs that are not already waiting in memory to
// the workers, oldest first, while capacity allows. It returns how many jobs
// were enqueued.
func (d *Dispatcher) Requeue(ctx context.Context) (int, error) {
	pending, err := d.store.ListByStatus(ctx, StatusQueued, 0)
	if err != nil {
		return 0, fmt.Errorf("list queued jobs: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return 0, ErrDispatcherStopped
	}

	n := 0
	for _, job := range pending {
		if _, waiting := d.inQueue[job.ID]; waiting {
			continue
		}
		if !d.reserveSlot() {
			d.log.Warn(ctx, "queue full, leaving stored jobs queued", nil, logger.Fields{
				"remaining": len(pending) - n,
			})
			break
		}
		d.send(job)
		n++
	}
	return n, nil
}

// Recover fails jobs a previous process left PROCESSING and requeues stored
// QUEUED jobs. Call it once at startup, before Start, with a single
// dispatcher per job store.
func (d *Dispatcher) Recover(ctx context.Context) error {
	if d.isStopped() {
		return ErrDispatcherStopped
	}

	orphans, err := d.store.ListByStatus(ctx, StatusProcessing, 0)
	if err != nil {
		return fmt.Errorf("list processing jobs: %w", err)
	}

	for _, job := range orphans {
		failed, err := d.store.Transition(ctx, job.ID, Transition{
			From:  StatusProcessing,
			To:    StatusFailed,
			Error: interruptedMessage,
		})
		if err != nil {
			d.log.Error(ctx, "failed to mark interrupted job", err, logger.Fields{"job_id": job.ID})
			continue
		}
		d.removeFile(ctx, job.InputPath, "input")
		d.countFinished(failed, 0, false)
		d.emit(newEvent(failed))
	}

	requeued, err := d.Requeue(ctx)
	if err != nil {
		return err
	}

	d.log.Info(ctx, "recovery finished", logger.Fields{
		"interrupted": len(orphans),
		"requeued":    requeued,
	})
	return nil
}

// Stats returns queue and worker counters. Queued plus Processing never
// exceeds QueueSize plus WorkerCount.
func (d *Dispatcher) Stats() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return Stats{
		Queued:     d.queued,
		Processing: d.processing,
		Completed:  d.completed,
		Failed:     d.failed,
		Workers:    d.workerCount,
		Capacity:   d.queueSize,
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	log := d.log.With(logger.Fields{"worker": id})
	log.Debug(context.Background(), "worker started")

	for {
		// stop wins over a ready job
		select {
		case <-d.stopChan:
			log.Debug(context.Background(), "worker stopping")
			return
		default:
		}

		select {
		case <-d.stopChan:
			log.Debug(context.Background(), "worker stopping")
			return
		case qj := <-d.queue:
			d.dequeued(qj.id)
			d.process(log, qj)
		}
	}
}

// dequeued moves a job from the queued to the processing counter.
func (d *Dispatcher) dequeued(id string) {
	d.mu.Lock()
	delete(d.inQueue, id)
	d.mu.Unlock()

	d.statsMu.Lock()
	d.queued--
	d.processing++
	d.statsMu.Unlock()
}

func (d *Dispatcher) process(log *logger.Logger, qj queuedJob) {
	ctx := d.baseCtx
	start := time.Now()

	job, err := d.store.Transition(context.Background(), qj.id, Transition{
		From: StatusQueued,
		To:   StatusProcessing,
	})
	if err != nil {
		d.statsMu.Lock()
		d.processing--
		d.statsMu.Unlock()
		if errors.Is(err, ErrStatusConflict) {
			log.Debug(ctx, "job already claimed", logger.Fields{"job_id": qj.id})
			return
		}
		// input stays on disk so a later Requeue can retry the claim
		log.Error(ctx, "failed to claim job", err, logger.Fields{"job_id": qj.id})
		return
	}

	log.Info(ctx, "processing job", logger.Fields{"job_id": job.ID, "job_type": string(job.Type)})

	output, runErr := d.run(ctx, job)
	d.removeFile(ctx, job.InputPath, "input")

	var final *Job
	if runErr != nil {
		final, err = d.store.Transition(context.Background(), job.ID, Transition{
			From:  StatusProcessing,
			To:    StatusFailed,
			Error: failureMessage(runErr, d.jobTimeout),
		})
		log.Warn(ctx, "job failed", runErr, logger.Fields{"job_id": job.ID})
	} else {
		final, err = d.store.Transition(context.Background(), job.ID, Transition{
			From:   StatusProcessing,
			To:     StatusCompleted,
			Result: output,
		})
	}
	if err != nil {
		log.Error(ctx, "failed to record job outcome", err, logger.Fields{"job_id": job.ID})
		d.statsMu.Lock()
		d.processing--
		d.failed++
		d.statsMu.Unlock()
		return
	}

	d.countFinished(final, time.Since(start), true)
	if final.Status == StatusCompleted {
		log.Info(ctx, "job completed", logger.Fields{
			"job_id":      final.ID,
			"url":         output.URL,
			"width":       output.Width,
			"height":      output.Height,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
	d.emit(newEvent(final))
}

// run encodes and uploads under the per-job timeout. Every local file it
// creates is removed before it returns.
func (d *Dispatcher) run(ctx context.Context, job *Job) (*Output, error) {
	jobCtx, cancel := context.WithTimeout(ctx, d.jobTimeout)
	defer cancel()

	res, err := d.encoder.Encode(jobCtx, job.InputPath)
	if err != nil {
		return nil, err
	}
	defer d.removeFile(ctx, res.OutputPath, "output")

	obj, err := apperrors.RetryWithResult(jobCtx, d.uploadRetry, func(ctx context.Context) (*storage.Object, error) {
		return d.blobs.Put(ctx, res.OutputPath, job.OriginalFilename)
	})
	if err != nil {
		return nil, fmt.Errorf("upload output: %w", err)
	}

	return &Output{
		URL:             obj.URL,
		Key:             obj.Key,
		Width:           res.Width,
		Height:          res.Height,
		DurationSeconds: res.DurationSeconds,
		FileSizeBytes:   res.FileSizeBytes,
	}, nil
}

// countFinished records a terminal job. ownSlot is true when the job held
// one of this process's processing slots.
func (d *Dispatcher) countFinished(job *Job, elapsed time.Duration, ownSlot bool) {
	d.statsMu.Lock()
	if ownSlot {
		d.processing--
	}
	if job.Status == StatusCompleted {
		d.completed++
	} else {
		d.failed++
	}
	d.statsMu.Unlock()

	if d.recorder != nil {
		d.recorder.JobFinished(string(job.Type), string(job.Status), elapsed)
	}
}

// emit blocks while the event buffer is full so a slow consumer slows the
// workers instead of losing events. A forced shutdown drops the event.
func (d *Dispatcher) emit(ev Event) {
	select {
	case d.events <- ev:
	case <-d.baseCtx.Done():
		d.log.Warn(context.Background(), "dropping job event during shutdown", nil, logger.Fields{
			"job_id": ev.JobID,
			"kind":   string(ev.Kind),
		})
	}
}

func (d *Dispatcher) removeFile(ctx context.Context, path, what string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.Warn(ctx, "failed to remove "+what+" file", err, logger.Fields{"path": path})
	}
}

// failureMessage is the error text stored on a FAILED job.
func failureMessage(err error, timeout time.Duration) string {
	var metaErr *encoder.MetadataError
	var encErr *encoder.EncodeError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("encode timed out after %s", timeout)
	case errors.Is(err, context.Canceled):
		return interruptedMessage
	case errors.As(err, &metaErr):
		return "metadata error: " + metaErr.Error()
	case errors.As(err, &encErr):
		return "encode error: " + encErr.Error()
	}
	return err.Error()
}
