package links

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
)

// PruneStore clears tombstones whose retention window has passed.
type PruneStore interface {
	PruneDeletedLinks(ctx context.Context, before time.Time) (int64, error)
}

// PrunerConfig controls the prune schedule and how long deleted slugs
// stay reserved.
type PrunerConfig struct {
	// Schedule is a cron expression; empty disables the scheduler.
	Schedule string
	// Retention is how long a tombstone reserves its slug after deletion.
	Retention time.Duration
}

func (c *PrunerConfig) withDefaults() PrunerConfig {
	out := *c
	if out.Schedule == "" {
		out.Schedule = "@daily"
	}
	if out.Retention <= 0 {
		out.Retention = 30 * 24 * time.Hour
	}
	return out
}

// Pruner periodically frees slugs held by expired tombstones, ending the
// retention window DeleteLink starts.
type Pruner struct {
	config PrunerConfig
	store  PruneStore
	logger logging.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewPruner(config PrunerConfig, store PruneStore, logger logging.Logger) *Pruner {
	return &Pruner{
		config: config.withDefaults(),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules periodic prune runs.
func (p *Pruner) Start(ctx context.Context) error {
	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.config.Schedule, func() {
		if err := p.Prune(ctx); err != nil {
			p.logger.Error("scheduled tombstone prune failed", err)
		}
	})
	if err != nil {
		return errors.ConfigError("invalid prune schedule: " + p.config.Schedule)
	}
	p.cron.Start()
	p.logger.Info("tombstone pruning scheduled",
		logging.Field{Key: "schedule", Value: p.config.Schedule},
		logging.Field{Key: "retention", Value: p.config.Retention.String()},
	)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (p *Pruner) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// Prune removes tombstones deleted longer ago than the retention window.
func (p *Pruner) Prune(ctx context.Context) error {
	cutoff := p.now().UTC().Add(-p.config.Retention)
	pruned, err := p.store.PruneDeletedLinks(ctx, cutoff)
	if err != nil {
		return errors.StoreUnavailableError("failed to prune deleted links", err)
	}
	if pruned > 0 {
		p.logger.Info("pruned expired tombstones",
			logging.Field{Key: "count", Value: pruned},
			logging.Field{Key: "cutoff", Value: cutoff.Format(time.RFC3339)},
		)
	}
	return nil
}
