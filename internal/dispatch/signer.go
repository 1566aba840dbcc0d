// Package dispatch delivers domain events to webhook subscriptions with
// signed requests and retried, at-least-once semantics.
package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Header names carried on every delivery.
const (
	SignatureHeader = "X-EdgeLink-Signature"
	TimestampHeader = "X-EdgeLink-Timestamp"
)

// Sign computes the signature header value for a payload: the hex HMAC-SHA256
// of the exact body bytes under the subscription secret, prefixed with the
// scheme. The same payload always yields the same signature, so redeliveries
// are verifiable against the first attempt.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the body, and rejects
// deliveries whose timestamp header falls outside the replay window.
// Receivers use this; it is exported so integration tests exercise the
// exact verification a subscriber would run.
func Verify(secret string, body []byte, signature, timestamp string, window time.Duration, now time.Time) error {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp header: %w", err)
	}

	sent := time.Unix(unix, 0)
	if drift := now.Sub(sent); drift > window || drift < -window {
		return fmt.Errorf("delivery timestamp outside replay window")
	}

	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func timestampValue(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10)
}
