// Package storage defines the durable store behind the edgelink core:
// links and routing rules (read-heavy, written by the management API),
// the immutable click log, webhook subscriptions with their delivery
// attempt records, and analytics rollups.
package storage

import (
	"context"
	"time"

	"edgelink/internal/models"
)

// Storage is the persistence interface. SQLite and PostgreSQL adapters
// implement it; the factory picks one from configuration.
type Storage interface {
	Close() error
	Health() error

	// Rule store read interface. GetActiveLink returns the link for
	// (domain, key) including inactive, expired and tombstoned rows so
	// the decision engine can distinguish Gone from NotFound; it returns
	// nil when no row exists. GetRuleSet returns an empty versioned set
	// for links without rules.
	GetActiveLink(ctx context.Context, domain, key string) (*models.Link, error)
	GetRuleSet(ctx context.Context, linkID int64) (*models.RuleSet, error)

	// Link mutations, driven by the out-of-scope management API.
	// DeleteLink tombstones rather than removes: the slug stays reserved
	// until PruneDeletedLinks clears tombstones older than the retention
	// window, so deleted keys are not reassigned under live caches.
	CreateLink(ctx context.Context, link *models.Link) error
	UpdateLink(ctx context.Context, link *models.Link) error
	DeleteLink(ctx context.Context, domain, key string) (*models.Link, error)
	PruneDeletedLinks(ctx context.Context, before time.Time) (int64, error)

	// SetRuleSet replaces a link's rules atomically and bumps the rule
	// set version.
	SetRuleSet(ctx context.Context, linkID int64, rules []models.RoutingRule) (*models.RuleSet, error)

	// Click log. Write-once; rows are never updated.
	InsertClickEvent(ctx context.Context, event *models.ClickEvent) error
	ListClickEvents(ctx context.Context, from, to time.Time) ([]*models.ClickEvent, error)

	// Webhook subscriptions.
	CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	ListSubscriptionsForEvent(ctx context.Context, ownerID, kind string) ([]*models.WebhookSubscription, error)
	SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error

	// Delivery attempt records. One row per (event, subscription) pair;
	// the dispatcher owns all mutations of a given row. GetDeliveryAttempt
	// returns nil when no row exists, so a redelivered event can resume an
	// interrupted chain instead of starting a duplicate.
	CreateDeliveryAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) error
	GetDeliveryAttempt(ctx context.Context, eventID, subscriptionID string) (*models.WebhookDeliveryAttempt, error)
	UpdateDeliveryAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) error
	ListAttemptsBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.WebhookDeliveryAttempt, error)
	ListExhaustedAttempts(ctx context.Context, ownerID string, limit int) ([]*models.WebhookDeliveryAttempt, error)

	// Analytics rollups, keyed by (link, bucket, dimension, value).
	UpsertRollup(ctx context.Context, rollup *models.AnalyticsRollup) error
	GetRollups(ctx context.Context, linkKey string, dimension models.RollupDimension, from, to time.Time) ([]*models.AnalyticsRollup, error)
}

// StorageConfig is implemented by each adapter's configuration.
type StorageConfig interface {
	Validate() error
	GetType() string
}
