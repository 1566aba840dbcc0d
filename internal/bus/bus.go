// Package bus moves events from producers (the ingest pipeline, the link
// service) to consumers (the webhook dispatcher). Delivery within a consumer
// group is at-least-once: a handler error leaves the event unacknowledged so
// it is redelivered.
package bus

import (
	"context"

	"edgelink/internal/events"
)

// Handler processes a single event. Returning an error means the event was
// not handled and may be redelivered.
type Handler func(ctx context.Context, event *events.Event) error

// Bus is the transport between event producers and consumers.
type Bus interface {
	// Publish appends an event to the stream for the given kind.
	Publish(ctx context.Context, event *events.Event) error

	// Subscribe registers a handler for the given event kinds on behalf of
	// a named consumer group. Consumption runs until ctx is cancelled.
	Subscribe(ctx context.Context, group string, kinds []string, handler Handler) error

	// Health reports whether the transport is reachable.
	Health() error

	Close() error
}
