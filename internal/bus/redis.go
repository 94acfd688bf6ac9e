package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis pub/sub channel used when none is configured.
const DefaultChannel = "agent-governance:events"

// RedisBus publishes events as JSON on a Redis channel so every replica sees
// them. Subscriptions survive connection loss by resubscribing.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	buffer  int
	logger  *zap.Logger
	onDrop  func(Event)

	retryDelay time.Duration
}

func NewRedisBus(rdb *redis.Client, channel string, logger *zap.Logger, onDrop func(Event)) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{
		rdb:        rdb,
		channel:    channel,
		buffer:     defaultBuffer,
		logger:     logger,
		onDrop:     onDrop,
		retryDelay: 5 * time.Second,
	}
}

func (b *RedisBus) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	out := make(chan Event, b.buffer)
	go func() {
		defer close(out)
		b.listen(ctx, out)
	}()
	return out, nil
}

func (b *RedisBus) listen(ctx context.Context, out chan<- Event) {
	for {
		pubsub := b.rdb.Subscribe(ctx, b.channel)

		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("failed to subscribe", zap.String("channel", b.channel), zap.Error(err))
			if !sleepCtx(ctx, b.retryDelay) {
				return
			}
			continue
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.logger.Error("invalid event payload", zap.String("payload", msg.Payload), zap.Error(err))
					continue
				}
				select {
				case out <- e:
				default:
					b.logger.Warn("bus subscriber full, dropping event", zap.String("event_type", string(e.Type)))
					if b.onDrop != nil {
						b.onDrop(e)
					}
				}
			}
		}

		pubsub.Close()
		if !sleepCtx(ctx, time.Second) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
