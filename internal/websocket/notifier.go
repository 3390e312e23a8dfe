package websocket

import (
	"context"
	"time"

	"github.com/socialnet/backend/internal/logger"
	"github.com/socialnet/backend/internal/transcode"
)

// MessageTypeJob marks a terminal job notification.
const MessageTypeJob = "transcode_job"

// Message is pushed to the submitter's connections when a job finishes.
type Message struct {
	Type    string            `json:"type"`
	JobID   string            `json:"job_id"`
	UserID  string            `json:"-"` // routing only
	JobType transcode.JobType `json:"job_type"`
	Status  transcode.Status  `json:"status"`
	URL     string            `json:"url,omitempty"`
	Result  *transcode.Output `json:"result,omitempty"`
	Error   string            `json:"error,omitempty"`
	At      time.Time         `json:"at"`
}

// NewJobMessage builds the notification for ev. It returns nil for an event
// without a job snapshot, which cannot be routed.
func NewJobMessage(ev transcode.Event) *Message {
	if ev.Job == nil {
		return nil
	}
	msg := &Message{
		Type:    MessageTypeJob,
		JobID:   ev.JobID,
		UserID:  ev.Job.SubmittedBy,
		JobType: ev.Job.Type,
		Status:  ev.Job.Status,
		Result:  ev.Result,
		Error:   ev.Error,
		At:      ev.At,
	}
	if ev.Result != nil {
		msg.URL = ev.Result.URL
	}
	return msg
}

// Notifier pushes job events to connected submitters. It is a
// transcode.Handler.
type Notifier struct {
	hub *Hub
}

func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) HandleEvent(ctx context.Context, ev transcode.Event) error {
	msg := NewJobMessage(ev)
	if msg == nil {
		return nil
	}
	if n.hub.ClientCount(msg.UserID) == 0 {
		return nil
	}
	return n.hub.Broadcast(ctx, msg)
}

// Relay feeds the hub from a Redis event subscription so clients connected
// to any instance hear about jobs finished on another. It returns when the
// subscription channel closes or ctx is done.
func Relay(ctx context.Context, events <-chan transcode.Event, n *Notifier) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := n.HandleEvent(ctx, ev); err != nil && ctx.Err() == nil {
				n.hub.log.Warn(ctx, "failed to relay job event", err, logger.Fields{"job_id": ev.JobID})
			}
		}
	}
}
