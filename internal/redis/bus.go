package redisclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventBus publishes and receives JSON messages over Redis Pub/Sub.
type EventBus struct {
	client *redis.Client
	retry  RetryConfig
	logger zerolog.Logger
}

func NewEventBus(client *redis.Client, logger zerolog.Logger) *EventBus {
	return &EventBus{
		client: client,
		retry:  DefaultRetryConfig(),
		logger: logger.With().Str("component", "event_bus").Logger(),
	}
}

// Publish marshals payload to JSON and publishes it, retrying transient failures.
func (b *EventBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", channel, err)
	}

	err = retry(ctx, b.retry, func() error {
		return b.client.Publish(ctx, channel, data).Err()
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}

	b.logger.Debug().Str("channel", channel).Int("bytes", len(data)).Msg("published event")
	return nil
}

// Subscribe streams raw payloads from channel until ctx is done. The returned
// channel is closed when the subscription ends.
func (b *EventBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	pubsub := b.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := make(chan []byte, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	b.logger.Info().Str("channel", channel).Msg("subscribed")
	return out, nil
}
