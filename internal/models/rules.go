package models

import "time"

// RuleKind identifies which request attribute a routing rule matches on.
type RuleKind string

const (
	RuleKindDevice    RuleKind = "device"
	RuleKindGeography RuleKind = "geography"
	RuleKindReferrer  RuleKind = "referrer"
	RuleKindTime      RuleKind = "time-window"
	RuleKindSplit     RuleKind = "split-test"
)

// DeviceClass buckets a clicking client by form factor.
type DeviceClass string

const (
	DeviceMobile  DeviceClass = "mobile"
	DeviceTablet  DeviceClass = "tablet"
	DeviceDesktop DeviceClass = "desktop"
	DeviceBot     DeviceClass = "bot"
	DeviceUnknown DeviceClass = "unknown"
)

// RoutingRule overrides a link's default destination when its predicate
// matches the request context. Exactly the fields for the rule's kind
// are populated; the rest stay zero.
type RoutingRule struct {
	ID       string   `json:"id" db:"id"`
	LinkID   int64    `json:"link_id" db:"link_id"`
	Kind     RuleKind `json:"kind" db:"kind"`
	Priority int      `json:"priority" db:"priority"`
	Target   string   `json:"target" db:"target"`

	// device
	Devices []DeviceClass `json:"devices,omitempty" db:"devices"`

	// geography: ISO country codes, upper case
	Countries []string `json:"countries,omitempty" db:"countries"`

	// referrer: domain patterns, matched against the referrer host
	// with an optional leading "*." wildcard
	ReferrerPatterns []string `json:"referrer_patterns,omitempty" db:"referrer_patterns"`

	// time-window: [Start, End) wall-clock minutes in the link's timezone
	WindowStart string `json:"window_start,omitempty" db:"window_start"` // "HH:MM"
	WindowEnd   string `json:"window_end,omitempty" db:"window_end"`     // "HH:MM"

	// split-test
	Variant string `json:"variant,omitempty" db:"variant"`
	Weight  int    `json:"weight,omitempty" db:"weight"` // percentage of traffic, 0-100
}

// RuleSet is the ordered collection of rules attached to a link.
// Evaluation order is ascending Priority; lower index wins ties.
// Version changes on every mutation so split-test hashing and cache
// invalidation both key off it.
type RuleSet struct {
	LinkID    int64         `json:"link_id"`
	Version   int64         `json:"version"`
	Rules     []RoutingRule `json:"rules"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// SplitRules returns the split-test rules in priority order, used to
// compute the total weight space for visitor bucketing.
func (rs *RuleSet) SplitRules() []RoutingRule {
	var split []RoutingRule
	for _, r := range rs.Rules {
		if r.Kind == RuleKindSplit {
			split = append(split, r)
		}
	}
	return split
}
