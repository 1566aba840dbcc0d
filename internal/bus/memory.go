package bus

import (
	"context"
	"sync"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/events"
)

const memoryQueueDepth = 1024

type memorySubscription struct {
	group   string
	kinds   map[string]bool
	queue   chan *events.Event
	handler Handler
}

// MemoryBus is an in-process Bus for single-node deployments and tests.
// Each subscribed group gets its own queue, so every group sees every event
// it subscribed to. A handler error re-enqueues the event once per delivery.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   []*memorySubscription
	closed bool
	logger logging.Logger
}

func NewMemoryBus(logger logging.Logger) *MemoryBus {
	return &MemoryBus{logger: logger}
}

func (b *MemoryBus) Publish(ctx context.Context, event *events.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.ConnectionError("bus is closed", nil)
	}

	for _, sub := range b.subs {
		if !sub.kinds[string(event.Kind)] {
			continue
		}
		select {
		case sub.queue <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, group string, kinds []string, handler Handler) error {
	kindSet := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	sub := &memorySubscription{
		group:   group,
		kinds:   kindSet,
		queue:   make(chan *events.Event, memoryQueueDepth),
		handler: handler,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.ConnectionError("bus is closed", nil)
	}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go b.consume(ctx, sub)
	return nil
}

func (b *MemoryBus) consume(ctx context.Context, sub *memorySubscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-sub.queue:
			if err := sub.handler(ctx, event); err != nil {
				b.logger.Warn("event handler failed, re-enqueueing",
					logging.Field{Key: "group", Value: sub.group},
					logging.Field{Key: "event_id", Value: event.ID},
					logging.Field{Key: "error", Value: err.Error()},
				)
				select {
				case sub.queue <- event:
				default:
					b.logger.Error("subscriber queue full, event dropped", nil,
						logging.Field{Key: "group", Value: sub.group},
						logging.Field{Key: "event_id", Value: event.ID},
					)
				}
			}
		}
	}
}

func (b *MemoryBus) Health() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.ConnectionError("bus is closed", nil)
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
