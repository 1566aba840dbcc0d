// Package analytics folds the raw click log into per-hour rollups keyed by
// (link, bucket, dimension, value). Aggregation recomputes counts for the
// window it covers and upserts them, so re-running over the same window is
// idempotent and never double counts.
package analytics

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/models"
)

// Store is the subset of storage the aggregator needs.
type Store interface {
	ListClickEvents(ctx context.Context, from, to time.Time) ([]*models.ClickEvent, error)
	UpsertRollup(ctx context.Context, rollup *models.AnalyticsRollup) error
}

// Config controls the rollup schedule and recompute window.
type Config struct {
	// Schedule is a cron expression; empty disables the scheduler.
	Schedule string
	// Lookback is how far back each run recomputes. It should exceed the
	// schedule interval so late-arriving clicks are folded in.
	Lookback time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Schedule == "" {
		out.Schedule = "@every 5m"
	}
	if out.Lookback <= 0 {
		out.Lookback = 2 * time.Hour
	}
	return out
}

type rollupKey struct {
	linkKey   string
	bucket    time.Time
	dimension models.RollupDimension
	value     string
}

// Aggregator recomputes rollups from the click log.
type Aggregator struct {
	config Config
	store  Store
	logger logging.Logger
	cron   *cron.Cron
	now    func() time.Time
}

func NewAggregator(config Config, store Store, logger logging.Logger) *Aggregator {
	return &Aggregator{
		config: config.withDefaults(),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Start schedules periodic aggregation runs.
func (a *Aggregator) Start(ctx context.Context) error {
	a.cron = cron.New()
	_, err := a.cron.AddFunc(a.config.Schedule, func() {
		now := a.now().UTC()
		if err := a.Aggregate(ctx, now.Add(-a.config.Lookback), now); err != nil {
			a.logger.Error("scheduled aggregation failed", err)
		}
	})
	if err != nil {
		return errors.ConfigError("invalid aggregation schedule: " + a.config.Schedule)
	}
	a.cron.Start()
	a.logger.Info("analytics aggregation scheduled",
		logging.Field{Key: "schedule", Value: a.config.Schedule},
		logging.Field{Key: "lookback", Value: a.config.Lookback.String()},
	)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (a *Aggregator) Stop() {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}
}

// Aggregate recomputes rollups for clicks in [from, to). Counts are derived
// from the click log alone and written with replace semantics.
func (a *Aggregator) Aggregate(ctx context.Context, from, to time.Time) error {
	clicks, err := a.store.ListClickEvents(ctx, from, to)
	if err != nil {
		return errors.StoreUnavailableError("failed to read click log", err)
	}

	counts := make(map[rollupKey]int64)
	for _, click := range clicks {
		bucket := click.Timestamp.UTC().Truncate(time.Hour)
		add := func(dim models.RollupDimension, value string) {
			if value == "" {
				return
			}
			counts[rollupKey{click.LinkKey, bucket, dim, value}]++
		}
		add(models.DimensionDevice, string(click.Device))
		add(models.DimensionGeo, click.Country)
		add(models.DimensionReferrer, click.Referrer)
		add(models.DimensionVariant, click.Variant)
	}

	for key, count := range counts {
		rollup := &models.AnalyticsRollup{
			LinkKey:   key.linkKey,
			Bucket:    key.bucket,
			Dimension: key.dimension,
			Value:     key.value,
			Count:     count,
		}
		if err := a.store.UpsertRollup(ctx, rollup); err != nil {
			return errors.StoreUnavailableError("failed to write rollup", err)
		}
	}

	a.logger.Debug("aggregation run complete",
		logging.Field{Key: "clicks", Value: len(clicks)},
		logging.Field{Key: "rollups", Value: len(counts)},
		logging.Field{Key: "from", Value: from.Format(time.RFC3339)},
		logging.Field{Key: "to", Value: to.Format(time.RFC3339)},
	)
	return nil
}
