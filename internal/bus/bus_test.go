package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgelink/internal/common/logging"
	"edgelink/internal/events"
	"edgelink/internal/models"
)

func testLogger() logging.Logger {
	logger, _ := logging.NewZapLogger(logging.LogConfig{Level: logging.ErrorLevel})
	return logger
}

func clickEvent(t *testing.T, key string) *events.Event {
	t.Helper()
	event, err := events.NewClick(&models.ClickEvent{
		LinkKey:   key,
		OwnerID:   "acct-1",
		Timestamp: time.Now().UTC(),
		Device:    models.DeviceMobile,
	})
	require.NoError(t, err)
	return event
}

type eventCollector struct {
	mu     sync.Mutex
	events []*events.Event
}

func (c *eventCollector) handle(_ context.Context, event *events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *eventCollector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.events))
	for i, e := range c.events {
		ids[i] = e.ID
	}
	return ids
}

func TestMemoryBusDeliversToSubscribedGroups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	defer b.Close()

	clicks := &eventCollector{}
	all := &eventCollector{}
	require.NoError(t, b.Subscribe(ctx, "dispatcher", []string{"click"}, clicks.handle))
	require.NoError(t, b.Subscribe(ctx, "audit", []string{"click", "link.deleted"}, all.handle))

	event := clickEvent(t, "abc123")
	require.NoError(t, b.Publish(ctx, event))

	require.Eventually(t, func() bool {
		return clicks.count() == 1 && all.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, event.ID, clicks.ids()[0])
}

func TestMemoryBusKindFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	defer b.Close()

	got := &eventCollector{}
	require.NoError(t, b.Subscribe(ctx, "dispatcher", []string{"link.deleted"}, got.handle))

	require.NoError(t, b.Publish(ctx, clickEvent(t, "abc123")))

	link := &models.Link{Key: "abc123", OwnerID: "acct-1"}
	deleted, err := events.NewLinkEvent(events.KindLinkDeleted, link)
	require.NoError(t, err)
	require.NoError(t, b.Publish(ctx, deleted))

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, deleted.ID, got.ids()[0])
}

func TestMemoryBusRedeliversOnHandlerError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewMemoryBus(testLogger())
	defer b.Close()

	var attempts int32
	done := make(chan struct{})
	handler := func(_ context.Context, _ *events.Event) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return assert.AnError
		}
		close(done)
		return nil
	}
	require.NoError(t, b.Subscribe(ctx, "dispatcher", []string{"click"}, handler))
	require.NoError(t, b.Publish(ctx, clickEvent(t, "abc123")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event was not redelivered until the handler succeeded")
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestMemoryBusClosedRejectsPublish(t *testing.T) {
	b := NewMemoryBus(testLogger())
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish(context.Background(), clickEvent(t, "abc123")))
	assert.Error(t, b.Health())
}

func newRedisBus(t *testing.T, consumer string) (*RedisBus, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBus(&RedisConfig{
		Address:      mr.Addr(),
		ConsumerName: consumer,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func TestRedisBusPublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := newRedisBus(t, "c1")

	got := &eventCollector{}
	require.NoError(t, b.Subscribe(ctx, "dispatcher", []string{"click"}, got.handle))

	event := clickEvent(t, "abc123")
	require.NoError(t, b.Publish(ctx, event))

	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, event.ID, got.ids()[0])

	// Owner id travels over the bus even though it is not in the
	// webhook payload.
	got.mu.Lock()
	assert.Equal(t, "acct-1", got.events[0].OwnerID)
	got.mu.Unlock()
}

func TestRedisBusDeliversBacklogOnSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := newRedisBus(t, "c1")

	// Published before any consumer group exists.
	first := clickEvent(t, "abc123")
	second := clickEvent(t, "xyz789")
	require.NoError(t, b.Publish(ctx, first))
	require.NoError(t, b.Publish(ctx, second))

	got := &eventCollector{}
	require.NoError(t, b.Subscribe(ctx, "dispatcher", []string{"click"}, got.handle))

	require.Eventually(t, func() bool { return got.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{first.ID, second.ID}, got.ids())
}

func TestRedisBusRedeliversUnackedEntry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, _ := newRedisBus(t, "c1")
	b.redeliveryDelay = 10 * time.Millisecond

	var attempts int32
	done := make(chan struct{})
	handler := func(_ context.Context, _ *events.Event) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return assert.AnError
		}
		select {
		case <-done:
		default:
			close(done)
		}
		return nil
	}
	require.NoError(t, b.Subscribe(ctx, "dispatcher", []string{"click"}, handler))
	require.NoError(t, b.Publish(ctx, clickEvent(t, "abc123")))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("unacked entry was not read again from the pending list")
	}
	assert.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(2))
}

func TestRedisBusReplaysPendingEntriesOnRestart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, mr := newRedisBus(t, "c1")
	b.redeliveryDelay = 10 * time.Millisecond

	// First consumer reads the entry but never acks it.
	firstCtx, stopFirst := context.WithCancel(ctx)
	seen := make(chan struct{})
	require.NoError(t, b.Subscribe(firstCtx, "dispatcher", []string{"click"}, func(_ context.Context, _ *events.Event) error {
		select {
		case <-seen:
		default:
			close(seen)
		}
		return assert.AnError
	}))

	event := clickEvent(t, "abc123")
	require.NoError(t, b.Publish(ctx, event))
	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("entry never reached the first consumer")
	}
	stopFirst()

	// Same consumer name reconnects after a crash: the pending entry is
	// replayed before new ones.
	b2, err := NewRedisBus(&RedisConfig{Address: mr.Addr(), ConsumerName: "c1"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { b2.Close() })
	b2.redeliveryDelay = 10 * time.Millisecond

	got := &eventCollector{}
	require.NoError(t, b2.Subscribe(ctx, "dispatcher", []string{"click"}, got.handle))

	require.Eventually(t, func() bool { return got.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, event.ID, got.ids()[0])
}

func TestRedisBusConfigDefaults(t *testing.T) {
	cfg := &RedisConfig{Address: "localhost:6379"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "edgelink:events", cfg.StreamPrefix)
	assert.Equal(t, 10, cfg.PoolSize)

	assert.Error(t, (&RedisConfig{}).Validate())
}
