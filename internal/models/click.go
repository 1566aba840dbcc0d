package models

import "time"

// ClickEvent is the immutable record of one resolved redirect. Created
// once on the hot path, never mutated, retained per the account's
// data-retention tier.
type ClickEvent struct {
	ID            int64       `json:"id" db:"id"`
	LinkKey       string      `json:"link_key" db:"link_key"`
	OwnerID       string      `json:"owner_id" db:"owner_id"`
	Timestamp     time.Time   `json:"timestamp" db:"timestamp"`
	Device        DeviceClass `json:"device" db:"device"`
	Country       string      `json:"country" db:"country"`
	Referrer      string      `json:"referrer" db:"referrer"`
	MatchedRuleID string      `json:"matched_rule_id,omitempty" db:"matched_rule_id"`
	Variant       string      `json:"variant,omitempty" db:"variant"`
	ClientHash    string      `json:"client_hash" db:"client_hash"`
}
