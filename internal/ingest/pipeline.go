// Package ingest records clicks off the redirect hot path. Recording is
// fire-and-forget: the redirect never waits on persistence, and when the
// queue is saturated clicks are dropped and counted rather than applying
// backpressure to visitors.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"edgelink/internal/bus"
	"edgelink/internal/common/logging"
	"edgelink/internal/events"
	"edgelink/internal/models"
)

// Store is the subset of storage the pipeline needs.
type Store interface {
	InsertClickEvent(ctx context.Context, click *models.ClickEvent) error
}

// Config controls queue depth, worker count, and the dedupe window.
type Config struct {
	QueueSize    int
	Workers      int
	DedupeWindow time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueSize <= 0 {
		out.QueueSize = 4096
	}
	if out.Workers <= 0 {
		out.Workers = 4
	}
	if out.DedupeWindow < 0 {
		out.DedupeWindow = 0
	}
	return out
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	Accepted  uint64 `json:"accepted"`
	Deduped   uint64 `json:"deduped"`
	Dropped   uint64 `json:"dropped"`
	Persisted uint64 `json:"persisted"`
	Failed    uint64 `json:"failed"`
	QueueLen  int    `json:"queue_len"`
	QueueCap  int    `json:"queue_cap"`
}

// Pipeline accepts click events, deduplicates rapid repeats, and hands
// them to workers that persist and publish them.
type Pipeline struct {
	config Config
	store  Store
	bus    bus.Bus
	logger logging.Logger

	queue chan *models.ClickEvent

	accepted  uint64
	deduped   uint64
	dropped   uint64
	persisted uint64
	failed    uint64

	mu   sync.Mutex
	seen map[string]time.Time

	now func() time.Time

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func NewPipeline(config Config, store Store, eventBus bus.Bus, logger logging.Logger) *Pipeline {
	cfg := config.withDefaults()
	return &Pipeline{
		config: cfg,
		store:  store,
		bus:    eventBus,
		logger: logger,
		queue:  make(chan *models.ClickEvent, cfg.QueueSize),
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

// Start launches the persistence workers.
func (p *Pipeline) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx)
	}
}

// Stop closes the queue and waits for queued clicks to drain, then
// releases the workers' context.
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		close(p.queue)
		p.wg.Wait()
		if p.cancel != nil {
			p.cancel()
		}
	})
}

// Ingest enqueues a click without blocking. Repeats of the same
// (client, link) pair inside the dedupe window are counted once; when the
// queue is full the click is dropped and the drop counter incremented.
func (p *Pipeline) Ingest(click *models.ClickEvent) {
	if p.isDuplicate(click) {
		atomic.AddUint64(&p.deduped, 1)
		return
	}

	select {
	case p.queue <- click:
		atomic.AddUint64(&p.accepted, 1)
	default:
		atomic.AddUint64(&p.dropped, 1)
		p.logger.Warn("click queue saturated, event dropped",
			logging.Field{Key: "link_key", Value: click.LinkKey},
		)
	}
}

func (p *Pipeline) isDuplicate(click *models.ClickEvent) bool {
	if p.config.DedupeWindow == 0 || click.ClientHash == "" {
		return false
	}

	key := click.ClientHash + "\x00" + click.LinkKey
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if last, ok := p.seen[key]; ok && now.Sub(last) < p.config.DedupeWindow {
		return true
	}
	p.seen[key] = now

	// Opportunistic sweep keeps the map bounded without a timer goroutine.
	if len(p.seen) > 2*p.config.QueueSize {
		for k, v := range p.seen {
			if now.Sub(v) >= p.config.DedupeWindow {
				delete(p.seen, k)
			}
		}
	}
	return false
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for click := range p.queue {
		p.process(ctx, click)
	}
}

func (p *Pipeline) process(ctx context.Context, click *models.ClickEvent) {
	if err := p.store.InsertClickEvent(ctx, click); err != nil {
		atomic.AddUint64(&p.failed, 1)
		p.logger.Error("failed to persist click", err,
			logging.Field{Key: "link_key", Value: click.LinkKey},
		)
		return
	}
	atomic.AddUint64(&p.persisted, 1)

	event, err := events.NewClick(click)
	if err != nil {
		p.logger.Error("failed to build click event", err,
			logging.Field{Key: "link_key", Value: click.LinkKey},
		)
		return
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Error("failed to publish click event", err,
			logging.Field{Key: "link_key", Value: click.LinkKey},
			logging.Field{Key: "event_id", Value: event.ID},
		)
	}
}

// Stats returns the current pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Accepted:  atomic.LoadUint64(&p.accepted),
		Deduped:   atomic.LoadUint64(&p.deduped),
		Dropped:   atomic.LoadUint64(&p.dropped),
		Persisted: atomic.LoadUint64(&p.persisted),
		Failed:    atomic.LoadUint64(&p.failed),
		QueueLen:  len(p.queue),
		QueueCap:  cap(p.queue),
	}
}
