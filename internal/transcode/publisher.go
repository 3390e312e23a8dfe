package transcode

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/socialnet/backend/internal/errors"
)

const keyEvents = "transcode:events:"

// EventChannel is the pub/sub channel carrying a submitter's job events.
func EventChannel(submittedBy string) string {
	return keyEvents + submittedBy
}

// RedisPublisher forwards job events to Redis pub/sub so other processes
// (upload services, notification workers) can react to them.
type RedisPublisher struct {
	client *redis.Client
	retry  *apperrors.RetryConfig
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client, retry: apperrors.NotifyRetryConfig()}
}

func (p *RedisPublisher) HandleEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	owner := ""
	if ev.Job != nil {
		owner = ev.Job.SubmittedBy
	}
	channel := EventChannel(owner)

	return apperrors.Retry(ctx, p.retry, func(ctx context.Context) error {
		return p.client.Publish(ctx, channel, data).Err()
	})
}

// Subscription decodes a submitter's job events from Redis pub/sub.
type Subscription struct {
	pubsub *redis.PubSub
}

func SubscribeEvents(ctx context.Context, client *redis.Client, submittedBy string) *Subscription {
	return &Subscription{pubsub: client.Subscribe(ctx, EventChannel(submittedBy))}
}

// SubscribeAllEvents follows every submitter's channel.
func SubscribeAllEvents(ctx context.Context, client *redis.Client) *Subscription {
	return &Subscription{pubsub: client.PSubscribe(ctx, keyEvents+"*")}
}

// Ready blocks until Redis confirms the subscription, so events published
// afterwards are not missed.
func (s *Subscription) Ready(ctx context.Context) error {
	_, err := s.pubsub.Receive(ctx)
	return err
}

// Channel returns decoded events. It is closed when the subscription is.
func (s *Subscription) Channel() <-chan Event {
	out := make(chan Event)

	go func() {
		defer close(out)
		for msg := range s.pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				continue
			}
			out <- ev
		}
	}()

	return out
}

func (s *Subscription) Close() error {
	return s.pubsub.Close()
}
