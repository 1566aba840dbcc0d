// Package sqlite implements the storage interface on SQLite, the
// default single-node backend.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"edgelink/internal/common/errors"
	"edgelink/internal/models"
)

type Adapter struct {
	db     *sql.DB
	config *Config
}

// NewAdapter opens the database, applies migrations and returns the
// adapter.
func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid SQLite config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	adapter := &Adapter{db: db, config: config}
	if err := adapter.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL,
		custom_domain TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		default_target TEXT NOT NULL,
		password_hash TEXT NOT NULL DEFAULT '',
		timezone TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP,
		deleted_at TIMESTAMP,
		UNIQUE(custom_domain, key)
	);

	CREATE TABLE IF NOT EXISTS rule_sets (
		link_id INTEGER PRIMARY KEY REFERENCES links(id) ON DELETE CASCADE,
		version INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS routing_rules (
		id TEXT PRIMARY KEY,
		link_id INTEGER NOT NULL REFERENCES links(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		priority INTEGER NOT NULL,
		target TEXT NOT NULL,
		devices TEXT NOT NULL DEFAULT '[]',
		countries TEXT NOT NULL DEFAULT '[]',
		referrer_patterns TEXT NOT NULL DEFAULT '[]',
		window_start TEXT NOT NULL DEFAULT '',
		window_end TEXT NOT NULL DEFAULT '',
		variant TEXT NOT NULL DEFAULT '',
		weight INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_routing_rules_link ON routing_rules(link_id, priority);

	CREATE TABLE IF NOT EXISTS click_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		link_key TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		device TEXT NOT NULL,
		country TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		matched_rule_id TEXT NOT NULL DEFAULT '',
		variant TEXT NOT NULL DEFAULT '',
		client_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_click_events_time ON click_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_click_events_link ON click_events(link_key, timestamp);

	CREATE TABLE IF NOT EXISTS webhook_subscriptions (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		endpoint_url TEXT NOT NULL,
		secret TEXT NOT NULL,
		event_kinds TEXT NOT NULL DEFAULT '[]',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_subscriptions_owner ON webhook_subscriptions(owner_id, enabled);

	CREATE TABLE IF NOT EXISTS delivery_attempts (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		subscription_id TEXT NOT NULL REFERENCES webhook_subscriptions(id) ON DELETE CASCADE,
		attempt_number INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		response_status INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(event_id, subscription_id)
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_subscription ON delivery_attempts(subscription_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_status ON delivery_attempts(status);

	CREATE TABLE IF NOT EXISTS analytics_rollups (
		link_key TEXT NOT NULL,
		bucket TIMESTAMP NOT NULL,
		dimension TEXT NOT NULL,
		value TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (link_key, bucket, dimension, value)
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health() error {
	if err := a.db.Ping(); err != nil {
		return errors.StoreUnavailableError("sqlite unreachable", err)
	}
	return nil
}

const linkColumns = `id, key, custom_domain, owner_id, default_target, password_hash, timezone, active, created_at, updated_at, expires_at, deleted_at`

func scanLink(row interface{ Scan(...interface{}) error }) (*models.Link, error) {
	var link models.Link
	err := row.Scan(&link.ID, &link.Key, &link.CustomDomain, &link.OwnerID, &link.DefaultTarget,
		&link.PasswordHash, &link.Timezone, &link.Active, &link.CreatedAt, &link.UpdatedAt,
		&link.ExpiresAt, &link.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

func (a *Adapter) GetActiveLink(ctx context.Context, domain, key string) (*models.Link, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+linkColumns+` FROM links WHERE custom_domain = ? AND key = ?`, domain, key)
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to load link", err)
	}
	return link, nil
}

func (a *Adapter) GetRuleSet(ctx context.Context, linkID int64) (*models.RuleSet, error) {
	ruleSet := &models.RuleSet{LinkID: linkID}

	err := a.db.QueryRowContext(ctx,
		`SELECT version, updated_at FROM rule_sets WHERE link_id = ?`, linkID).
		Scan(&ruleSet.Version, &ruleSet.UpdatedAt)
	if err == sql.ErrNoRows {
		return ruleSet, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to load rule set", err)
	}

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, kind, priority, target, devices, countries, referrer_patterns,
		       window_start, window_end, variant, weight
		FROM routing_rules WHERE link_id = ? ORDER BY priority ASC`, linkID)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to load routing rules", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rule models.RoutingRule
		var devices, countries, referrers string
		rule.LinkID = linkID
		if err := rows.Scan(&rule.ID, &rule.Kind, &rule.Priority, &rule.Target,
			&devices, &countries, &referrers,
			&rule.WindowStart, &rule.WindowEnd, &rule.Variant, &rule.Weight); err != nil {
			return nil, errors.InternalError("failed to scan routing rule", err)
		}
		if err := json.Unmarshal([]byte(devices), &rule.Devices); err != nil {
			return nil, errors.InternalError("corrupt devices column", err)
		}
		if err := json.Unmarshal([]byte(countries), &rule.Countries); err != nil {
			return nil, errors.InternalError("corrupt countries column", err)
		}
		if err := json.Unmarshal([]byte(referrers), &rule.ReferrerPatterns); err != nil {
			return nil, errors.InternalError("corrupt referrer_patterns column", err)
		}
		ruleSet.Rules = append(ruleSet.Rules, rule)
	}
	return ruleSet, rows.Err()
}

func (a *Adapter) CreateLink(ctx context.Context, link *models.Link) error {
	now := time.Now().UTC()
	link.CreatedAt = now
	link.UpdatedAt = now
	if link.Timezone == "" {
		link.Timezone = "UTC"
	}

	result, err := a.db.ExecContext(ctx, `
		INSERT INTO links (key, custom_domain, owner_id, default_target, password_hash, timezone, active, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		link.Key, link.CustomDomain, link.OwnerID, link.DefaultTarget, link.PasswordHash,
		link.Timezone, link.Active, link.CreatedAt, link.UpdatedAt, link.ExpiresAt)
	if err != nil {
		return errors.InternalError("failed to create link", err)
	}

	link.ID, err = result.LastInsertId()
	return err
}

func (a *Adapter) UpdateLink(ctx context.Context, link *models.Link) error {
	link.UpdatedAt = time.Now().UTC()
	result, err := a.db.ExecContext(ctx, `
		UPDATE links SET default_target = ?, password_hash = ?, timezone = ?, active = ?, updated_at = ?, expires_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		link.DefaultTarget, link.PasswordHash, link.Timezone, link.Active,
		link.UpdatedAt, link.ExpiresAt, link.ID)
	if err != nil {
		return errors.InternalError("failed to update link", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFoundError("link")
	}
	return nil
}

func (a *Adapter) DeleteLink(ctx context.Context, domain, key string) (*models.Link, error) {
	link, err := a.GetActiveLink(ctx, domain, key)
	if err != nil {
		return nil, err
	}
	if link == nil || link.DeletedAt != nil {
		return nil, errors.NotFoundError("link")
	}

	now := time.Now().UTC()
	_, err = a.db.ExecContext(ctx,
		`UPDATE links SET active = 0, deleted_at = ?, updated_at = ? WHERE id = ?`,
		now, now, link.ID)
	if err != nil {
		return nil, errors.InternalError("failed to delete link", err)
	}
	link.Active = false
	link.DeletedAt = &now
	return link, nil
}

func (a *Adapter) PruneDeletedLinks(ctx context.Context, before time.Time) (int64, error) {
	result, err := a.db.ExecContext(ctx,
		`DELETE FROM links WHERE deleted_at IS NOT NULL AND deleted_at < ?`, before)
	if err != nil {
		return 0, errors.InternalError("failed to prune deleted links", err)
	}
	return result.RowsAffected()
}

func (a *Adapter) SetRuleSet(ctx context.Context, linkID int64, rules []models.RoutingRule) (*models.RuleSet, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO rule_sets (link_id, version, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(link_id) DO UPDATE SET version = version + 1, updated_at = excluded.updated_at`,
		linkID, now); err != nil {
		return nil, errors.InternalError("failed to bump rule set version", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_rules WHERE link_id = ?`, linkID); err != nil {
		return nil, errors.InternalError("failed to clear routing rules", err)
	}

	for i := range rules {
		rule := &rules[i]
		rule.LinkID = linkID
		devices, _ := json.Marshal(rule.Devices)
		countries, _ := json.Marshal(rule.Countries)
		referrers, _ := json.Marshal(rule.ReferrerPatterns)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO routing_rules (id, link_id, kind, priority, target, devices, countries, referrer_patterns, window_start, window_end, variant, weight)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rule.ID, linkID, rule.Kind, rule.Priority, rule.Target,
			string(devices), string(countries), string(referrers),
			rule.WindowStart, rule.WindowEnd, rule.Variant, rule.Weight); err != nil {
			return nil, errors.InternalError("failed to insert routing rule", err)
		}
	}

	var version int64
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM rule_sets WHERE link_id = ?`, linkID).Scan(&version); err != nil {
		return nil, errors.InternalError("failed to read rule set version", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.InternalError("failed to commit rule set", err)
	}

	return &models.RuleSet{LinkID: linkID, Version: version, Rules: rules, UpdatedAt: now}, nil
}

func (a *Adapter) InsertClickEvent(ctx context.Context, event *models.ClickEvent) error {
	result, err := a.db.ExecContext(ctx, `
		INSERT INTO click_events (link_key, owner_id, timestamp, device, country, referrer, matched_rule_id, variant, client_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.LinkKey, event.OwnerID, event.Timestamp, event.Device, event.Country,
		event.Referrer, event.MatchedRuleID, event.Variant, event.ClientHash)
	if err != nil {
		return errors.StoreUnavailableError("failed to insert click event", err)
	}
	event.ID, _ = result.LastInsertId()
	return nil
}

func (a *Adapter) ListClickEvents(ctx context.Context, from, to time.Time) ([]*models.ClickEvent, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, link_key, owner_id, timestamp, device, country, referrer, matched_rule_id, variant, client_hash
		FROM click_events WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp ASC`, from, to)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to list click events", err)
	}
	defer rows.Close()

	var events []*models.ClickEvent
	for rows.Next() {
		var e models.ClickEvent
		if err := rows.Scan(&e.ID, &e.LinkKey, &e.OwnerID, &e.Timestamp, &e.Device,
			&e.Country, &e.Referrer, &e.MatchedRuleID, &e.Variant, &e.ClientHash); err != nil {
			return nil, errors.InternalError("failed to scan click event", err)
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (a *Adapter) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	kinds, _ := json.Marshal(sub.EventKinds)

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, owner_id, endpoint_url, secret, event_kinds, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.OwnerID, sub.EndpointURL, sub.Secret, string(kinds), sub.Enabled,
		sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return errors.InternalError("failed to create subscription", err)
	}
	return nil
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	var kinds string
	err := row.Scan(&sub.ID, &sub.OwnerID, &sub.EndpointURL, &sub.Secret, &kinds,
		&sub.Enabled, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(kinds), &sub.EventKinds); err != nil {
		return nil, err
	}
	return &sub, nil
}

const subscriptionColumns = `id, owner_id, endpoint_url, secret, event_kinds, enabled, created_at, updated_at`

func (a *Adapter) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	row := a.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("subscription")
	}
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to load subscription", err)
	}
	return sub, nil
}

func (a *Adapter) ListSubscriptionsForEvent(ctx context.Context, ownerID, kind string) ([]*models.WebhookSubscription, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE owner_id = ? AND enabled = 1`, ownerID)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to list subscriptions", err)
	}
	defer rows.Close()

	var subs []*models.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan subscription", err)
		}
		if sub.SubscribesTo(kind) {
			subs = append(subs, sub)
		}
	}
	return subs, rows.Err()
}

func (a *Adapter) SetSubscriptionEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := a.db.ExecContext(ctx,
		`UPDATE webhook_subscriptions SET enabled = ?, updated_at = ? WHERE id = ?`,
		enabled, time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to update subscription", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFoundError("subscription")
	}
	return nil
}

func (a *Adapter) CreateDeliveryAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) error {
	now := time.Now().UTC()
	attempt.CreatedAt = now
	attempt.UpdatedAt = now

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO delivery_attempts (id, event_id, subscription_id, attempt_number, status, response_status, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.EventID, attempt.SubscriptionID, attempt.AttemptNumber,
		attempt.Status, attempt.ResponseStatus, attempt.LastError, attempt.CreatedAt, attempt.UpdatedAt)
	if err != nil {
		return errors.InternalError("failed to create delivery attempt", err)
	}
	return nil
}

func (a *Adapter) UpdateDeliveryAttempt(ctx context.Context, attempt *models.WebhookDeliveryAttempt) error {
	attempt.UpdatedAt = time.Now().UTC()
	result, err := a.db.ExecContext(ctx, `
		UPDATE delivery_attempts SET attempt_number = ?, status = ?, response_status = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		attempt.AttemptNumber, attempt.Status, attempt.ResponseStatus, attempt.LastError,
		attempt.UpdatedAt, attempt.ID)
	if err != nil {
		return errors.InternalError("failed to update delivery attempt", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return errors.NotFoundError("delivery attempt")
	}
	return nil
}

func (a *Adapter) GetDeliveryAttempt(ctx context.Context, eventID, subscriptionID string) (*models.WebhookDeliveryAttempt, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE event_id = ? AND subscription_id = ?`, eventID, subscriptionID)
	attempt, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to get delivery attempt", err)
	}
	return attempt, nil
}

const attemptColumns = `id, event_id, subscription_id, attempt_number, status, response_status, last_error, created_at, updated_at`

func scanAttempt(row interface{ Scan(...interface{}) error }) (*models.WebhookDeliveryAttempt, error) {
	var at models.WebhookDeliveryAttempt
	err := row.Scan(&at.ID, &at.EventID, &at.SubscriptionID, &at.AttemptNumber, &at.Status,
		&at.ResponseStatus, &at.LastError, &at.CreatedAt, &at.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &at, nil
}

func (a *Adapter) ListAttemptsBySubscription(ctx context.Context, subscriptionID string, limit, offset int) ([]*models.WebhookDeliveryAttempt, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT `+attemptColumns+` FROM delivery_attempts
		WHERE subscription_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		subscriptionID, limit, offset)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to list delivery attempts", err)
	}
	defer rows.Close()

	var attempts []*models.WebhookDeliveryAttempt
	for rows.Next() {
		at, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan delivery attempt", err)
		}
		attempts = append(attempts, at)
	}
	return attempts, rows.Err()
}

func (a *Adapter) ListExhaustedAttempts(ctx context.Context, ownerID string, limit int) ([]*models.WebhookDeliveryAttempt, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT a.id, a.event_id, a.subscription_id, a.attempt_number, a.status, a.response_status, a.last_error, a.created_at, a.updated_at
		FROM delivery_attempts a
		JOIN webhook_subscriptions s ON s.id = a.subscription_id
		WHERE s.owner_id = ? AND a.status = 'exhausted'
		ORDER BY a.updated_at DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to list exhausted attempts", err)
	}
	defer rows.Close()

	var attempts []*models.WebhookDeliveryAttempt
	for rows.Next() {
		at, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan delivery attempt", err)
		}
		attempts = append(attempts, at)
	}
	return attempts, rows.Err()
}

func (a *Adapter) UpsertRollup(ctx context.Context, rollup *models.AnalyticsRollup) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO analytics_rollups (link_key, bucket, dimension, value, count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(link_key, bucket, dimension, value) DO UPDATE SET count = excluded.count`,
		rollup.LinkKey, rollup.Bucket, rollup.Dimension, rollup.Value, rollup.Count)
	if err != nil {
		return errors.InternalError("failed to upsert rollup", err)
	}
	return nil
}

func (a *Adapter) GetRollups(ctx context.Context, linkKey string, dimension models.RollupDimension, from, to time.Time) ([]*models.AnalyticsRollup, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT link_key, bucket, dimension, value, count FROM analytics_rollups
		WHERE link_key = ? AND dimension = ? AND bucket >= ? AND bucket < ?
		ORDER BY bucket ASC, value ASC`,
		linkKey, dimension, from, to)
	if err != nil {
		return nil, errors.StoreUnavailableError("failed to list rollups", err)
	}
	defer rows.Close()

	var rollups []*models.AnalyticsRollup
	for rows.Next() {
		var r models.AnalyticsRollup
		if err := rows.Scan(&r.LinkKey, &r.Bucket, &r.Dimension, &r.Value, &r.Count); err != nil {
			return nil, errors.InternalError("failed to scan rollup", err)
		}
		rollups = append(rollups, &r)
	}
	return rollups, rows.Err()
}
