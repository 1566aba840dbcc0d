// Package events defines the DomainEvent published by the hot path and
// link mutations, and its wire payload consumed by webhook receivers.
package events

import (
	"encoding/json"
	"time"

	"edgelink/internal/common/utils"
	"edgelink/internal/models"
)

// Kind tags the variant of a domain event.
type Kind string

const (
	KindClick       Kind = "click"
	KindLinkCreated Kind = "link.created"
	KindLinkUpdated Kind = "link.updated"
	KindLinkDeleted Kind = "link.deleted"
)

// AllKinds lists every event kind a subscription may register for.
var AllKinds = []Kind{KindClick, KindLinkCreated, KindLinkUpdated, KindLinkDeleted}

// IsValidKind reports whether k names a known event kind.
func IsValidKind(k string) bool {
	for _, kind := range AllKinds {
		if string(kind) == k {
			return true
		}
	}
	return false
}

// Event is an immutable, uniquely identified fact. The ID is stable
// across redeliveries so receivers can process at-least-once delivery
// idempotently.
type Event struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"type"`
	OwnerID   string          `json:"-"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// wirePayload fixes the outbound field order. The body must stay
// byte-stable across delivery attempts of the same event.
type wirePayload struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Payload renders the exact JSON body webhooks receive:
// {"id", "type", "timestamp", "data"} with an ISO-8601 timestamp.
func (e *Event) Payload() ([]byte, error) {
	return json.Marshal(wirePayload{
		ID:        e.ID,
		Type:      string(e.Kind),
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339),
		Data:      e.Data,
	})
}

// clickData is the kind-specific payload of a click event.
type clickData struct {
	LinkKey       string `json:"link_key"`
	Device        string `json:"device"`
	Country       string `json:"country,omitempty"`
	Referrer      string `json:"referrer,omitempty"`
	MatchedRuleID string `json:"matched_rule_id,omitempty"`
	Variant       string `json:"variant,omitempty"`
}

// linkData is the kind-specific payload of link lifecycle events.
type linkData struct {
	LinkKey       string `json:"link_key"`
	DefaultTarget string `json:"default_target,omitempty"`
}

// NewClick builds a click event from a recorded click.
func NewClick(click *models.ClickEvent) (*Event, error) {
	data, err := json.Marshal(clickData{
		LinkKey:       click.LinkKey,
		Device:        string(click.Device),
		Country:       click.Country,
		Referrer:      click.Referrer,
		MatchedRuleID: click.MatchedRuleID,
		Variant:       click.Variant,
	})
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        utils.NewEventID(),
		Kind:      KindClick,
		OwnerID:   click.OwnerID,
		Timestamp: click.Timestamp,
		Data:      data,
	}, nil
}

// NewLinkEvent builds a link.created/updated/deleted event.
func NewLinkEvent(kind Kind, link *models.Link) (*Event, error) {
	data, err := json.Marshal(linkData{
		LinkKey:       link.Key,
		DefaultTarget: link.DefaultTarget,
	})
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        utils.NewEventID(),
		Kind:      kind,
		OwnerID:   link.OwnerID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Encode serializes the full event (including owner) for bus transport.
func (e *Event) Encode() ([]byte, error) {
	return json.Marshal(struct {
		ID        string          `json:"id"`
		Kind      Kind            `json:"kind"`
		OwnerID   string          `json:"owner_id"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}{e.ID, e.Kind, e.OwnerID, e.Timestamp, e.Data})
}

// Decode deserializes an event from bus transport.
func Decode(raw []byte) (*Event, error) {
	var wire struct {
		ID        string          `json:"id"`
		Kind      Kind            `json:"kind"`
		OwnerID   string          `json:"owner_id"`
		Timestamp time.Time       `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	return &Event{
		ID:        wire.ID,
		Kind:      wire.Kind,
		OwnerID:   wire.OwnerID,
		Timestamp: wire.Timestamp,
		Data:      wire.Data,
	}, nil
}
