package transcode

import (
	"context"
	"fmt"
	"time"

	"github.com/socialnet/backend/internal/logger"
)

// EventKind names an outbound job event.
type EventKind string

const (
	EventCompleted EventKind = "job.completed"
	EventFailed    EventKind = "job.failed"
)

// Event is emitted exactly once per job when it reaches a terminal status.
// Job is a snapshot taken right after the transition.
type Event struct {
	Kind   EventKind `json:"kind"`
	JobID  string    `json:"job_id"`
	Job    *Job      `json:"job"`
	Result *Output   `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

func newEvent(job *Job) Event {
	ev := Event{JobID: job.ID, Job: job, At: job.UpdatedAt}
	if job.Status == StatusCompleted {
		ev.Kind = EventCompleted
		ev.Result = job.Result
	} else {
		ev.Kind = EventFailed
		ev.Error = job.Error
	}
	return ev
}

// Handler consumes job events. A returned error is logged and does not stop
// delivery to later handlers.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type namedHandler struct {
	name string
	h    Handler
}

// Fanout drains the dispatcher's event channel on a single goroutine and
// calls each handler in registration order. Register the reconciler first so
// notifiers observe reconciled state.
type Fanout struct {
	handlers []namedHandler
	timeout  time.Duration
	log      *logger.Logger
}

func NewFanout(log *logger.Logger) *Fanout {
	if log == nil {
		log = logger.Default().WithComponent("events")
	}
	return &Fanout{timeout: 30 * time.Second, log: log}
}

// Add registers h. Not safe to call once Run has started.
func (f *Fanout) Add(name string, h Handler) *Fanout {
	f.handlers = append(f.handlers, namedHandler{name: name, h: h})
	return f
}

// Run delivers events until the channel is closed. Closing happens in
// Dispatcher.Stop, so Run returns after the last event of a drained pool.
func (f *Fanout) Run(events <-chan Event) {
	for ev := range events {
		f.deliver(ev)
	}
	f.log.Info(context.Background(), "event stream closed")
}

func (f *Fanout) deliver(ev Event) {
	for _, nh := range f.handlers {
		ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
		err := f.call(ctx, nh, ev)
		cancel()
		if err != nil {
			f.log.Error(ctx, "event handler failed", err, logger.Fields{
				"handler": nh.name,
				"kind":    string(ev.Kind),
				"job_id":  ev.JobID,
			})
		}
	}
}

func (f *Fanout) call(ctx context.Context, nh namedHandler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return nh.h.HandleEvent(ctx, ev)
}
