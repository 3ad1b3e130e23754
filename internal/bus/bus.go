// Package bus is the Progress Bus (C8): a topic-per-task pub/sub that
// carries task-update messages from workers to SSE endpoints. Built directly
// on github.com/redis/go-redis/v9's PubSub client, following the library's
// own documented idiom for channel-based subscriptions.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/funmagic-ai/magiworld-sub000/internal/taskstore"
)

// Event is published for every task-update.
type Event struct {
	TaskID     string           `json:"taskId"`
	OwnerID    string           `json:"ownerId"`
	Status     taskstore.Status `json:"status"`
	Progress   int              `json:"progress"`
	OutputData json.RawMessage  `json:"outputData,omitempty"`
	Error      string           `json:"error,omitempty"`
	Timestamp  int64            `json:"timestamp"`
}

func topic(taskID string) string { return "task-progress:" + taskID }

// Bus is the Progress Bus contract. A slow Subscription MUST NOT
// backpressure Publish; RedisBus enforces this with a bounded per-subscriber
// channel whose oldest unread event is dropped when it is full (see the
// forwarding goroutine in RedisBus.Subscribe).
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(ctx context.Context, taskID string) (*Subscription, error)
}

// Subscription delivers events for one task to one subscriber.
type Subscription struct {
	Events <-chan Event
	close  func()
}

// Close releases the underlying Redis subscription.
func (s *Subscription) Close() { s.close() }

// NewSubscription builds a Subscription from an events channel and a close
// callback, for Bus implementations outside this package (e.g. test fakes).
func NewSubscription(events <-chan Event, closeFn func()) *Subscription {
	return &Subscription{Events: events, close: closeFn}
}

const subscriberBufferSize = 64

// RedisBus implements Bus atop a *redis.Client, one channel name per task id.
type RedisBus struct {
	rdb *redis.Client
}

// NewRedisBus wraps an already-configured *redis.Client.
func NewRedisBus(rdb *redis.Client) *RedisBus { return &RedisBus{rdb: rdb} }

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("bus: marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, topic(ev.TaskID), body).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, taskID string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, topic(taskID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: subscribe: %w", err)
	}

	out := make(chan Event, subscriberBufferSize)
	raw := ps.Channel(redis.WithChannelSize(subscriberBufferSize))
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case msg, ok := <-raw:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				default:
					// A slow subscriber must never backpressure the
					// publishing worker; drop the oldest unread event
					// instead of blocking.
					select {
					case <-out:
					default:
					}
					select {
					case out <- ev:
					default:
					}
				}
			}
		}
	}()

	return &Subscription{
		Events: out,
		close: func() {
			close(done)
			_ = ps.Close()
		},
	}, nil
}
