package models

import "time"

// RollupDimension names the axis a click count is bucketed on.
type RollupDimension string

const (
	DimensionDevice   RollupDimension = "device"
	DimensionGeo      RollupDimension = "geo"
	DimensionReferrer RollupDimension = "referrer"
	DimensionVariant  RollupDimension = "variant"
)

// AnalyticsRollup is one time-bucketed counter. The aggregation key
// (link key, bucket, dimension, value) is stable, so re-aggregating the
// same click rows upserts the same counters instead of double-counting.
type AnalyticsRollup struct {
	LinkKey   string          `json:"link_key" db:"link_key"`
	Bucket    time.Time       `json:"bucket" db:"bucket"`
	Dimension RollupDimension `json:"dimension" db:"dimension"`
	Value     string          `json:"value" db:"value"`
	Count     int64           `json:"count" db:"count"`
}
