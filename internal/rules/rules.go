// Package rules implements the link resolution and smart-routing engine:
// per-click selection of a destination URL from a link's ordered routing
// rules, plus the read-mostly rule cache that keeps the hot path off the
// durable store.
package rules

import (
	"context"
	"time"

	"edgelink/internal/models"
)

// RequestContext carries the per-request attributes a rule predicate can
// match on. Fields are best-effort; a zero field is a non-match for the
// rule kinds that need it, never an error.
type RequestContext struct {
	Device    models.DeviceClass
	Country   string // ISO code, upper case, "" when unknown
	Referrer  string // raw Referer header, possibly empty
	VisitorID string // stable client hash for split-test bucketing
	Now       time.Time

	// PasswordVerified skips the password gate after the caller has
	// checked the plaintext against the link's hash.
	PasswordVerified bool
}

// Decision is the outcome of resolving one request against one link.
type Decision struct {
	DestinationURL   string
	MatchedRuleID    string
	Variant          string
	PasswordRequired bool
	Link             *models.Link
}

// Source supplies a link and its rule set in one consistent snapshot.
// The production implementation is the Cache; the store behind it is
// populated by the out-of-scope management API.
type Source interface {
	Snapshot(ctx context.Context, domain, key string) (*models.Link, *models.RuleSet, error)
}

// Fetcher is the rule store read interface the cache refills from.
type Fetcher interface {
	GetActiveLink(ctx context.Context, domain, key string) (*models.Link, error)
	GetRuleSet(ctx context.Context, linkID int64) (*models.RuleSet, error)
}
