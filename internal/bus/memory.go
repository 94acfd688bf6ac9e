package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

const defaultBuffer = 256

// MemoryBus is an in-process fan-out bus.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int

	logger *zap.Logger
	onDrop func(Event)
}

// NewMemoryBus creates a bus whose subscribers buffer up to buffer events.
// onDrop may be nil.
func NewMemoryBus(buffer int, logger *zap.Logger, onDrop func(Event)) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryBus{
		subs:   make(map[int]chan Event),
		buffer: buffer,
		logger: logger,
		onDrop: onDrop,
	}
}

func (b *MemoryBus) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Warn("bus subscriber full, dropping event",
				zap.String("event_type", string(e.Type)),
				zap.String("event_id", e.ID),
			)
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()

	return ch, nil
}

// Subscribers returns the number of live subscriptions.
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
