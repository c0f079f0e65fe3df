package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/vietddude/invmon/internal/core/domain"
)

// DefaultRecentLimit is how many violations are kept per protocol for late
// subscribers.
const DefaultRecentLimit = 1000

// Publisher publishes violations on a per-protocol pub/sub channel and keeps
// the most recent ones in a capped list.
type Publisher struct {
	client *Client
	limit  int64
}

func NewPublisher(client *Client, limit int) *Publisher {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	return &Publisher{client: client, limit: int64(limit)}
}

func (p *Publisher) Name() string { return "redis" }

// Publish implements the reporter sink.
func (p *Publisher) Publish(ctx context.Context, event domain.ViolationEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal violation event: %w", err)
	}

	recent := p.client.recentKey(event.Protocol)
	pipe := p.client.rdb.TxPipeline()
	pipe.Publish(ctx, p.client.violationsChannel(event.Protocol), data)
	pipe.LPush(ctx, recent, data)
	pipe.LTrim(ctx, recent, 0, p.limit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish violation: %w", err)
	}
	return nil
}

// Recent returns up to n of the latest violations of a protocol, newest first.
func (p *Publisher) Recent(ctx context.Context, protocol string, n int) ([]domain.ViolationEvent, error) {
	if n <= 0 {
		return nil, nil
	}
	items, err := p.client.rdb.LRange(ctx, p.client.recentKey(protocol), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	events := make([]domain.ViolationEvent, 0, len(items))
	for _, item := range items {
		var event domain.ViolationEvent
		if err := json.Unmarshal([]byte(item), &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// Subscribe returns the stream of violations published for a protocol. The
// channel closes when ctx is done.
func (p *Publisher) Subscribe(ctx context.Context, protocol string) (<-chan domain.ViolationEvent, error) {
	sub := p.client.rdb.Subscribe(ctx, p.client.violationsChannel(protocol))
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan domain.ViolationEvent)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event domain.ViolationEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
