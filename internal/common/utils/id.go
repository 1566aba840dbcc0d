// Package utils provides ID generation, client hashing and retry helpers
// shared across the edgelink core.
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// NewEventID returns a unique identifier for a domain event. The same id
// accompanies every delivery attempt of the event so receivers can
// deduplicate redeliveries.
func NewEventID() string {
	return uuid.NewString()
}

// NewAttemptID returns a unique identifier for a delivery attempt record.
func NewAttemptID() string {
	return uuid.NewString()
}

// ClientHash derives a stable, non-reversible identifier for a clicking
// client from its IP address and user agent. Used for click dedupe and
// split-test bucketing; raw values are never persisted.
func ClientHash(ip, userAgent string) string {
	sum := sha256.Sum256([]byte(ip + "\x00" + userAgent))
	return hex.EncodeToString(sum[:16])
}

// GenerateRandomID generates a cryptographically secure random hex ID
// of the given length.
func GenerateRandomID(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
