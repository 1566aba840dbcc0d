package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorFormatting(t *testing.T) {
	err := DeliveryFailedError("endpoint returned 503", fmt.Errorf("connection refused")).
		WithCode("DELIVERY_503").
		WithContext("subscription_id", "sub-1")

	msg := err.Error()
	assert.Contains(t, msg, "delivery_failed")
	assert.Contains(t, msg, "endpoint returned 503")
	assert.Contains(t, msg, "code=DELIVERY_503")
	assert.Contains(t, msg, "cause=connection refused")
	assert.Contains(t, msg, "subscription_id=sub-1")
}

func TestIsType(t *testing.T) {
	assert.True(t, IsType(NotFoundError("link"), ErrTypeNotFound))
	assert.True(t, IsType(GoneError("abc123"), ErrTypeGone))
	assert.False(t, IsType(GoneError("abc123"), ErrTypeNotFound))
	assert.False(t, IsType(nil, ErrTypeNotFound))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrTypeNotFound))
}

func TestIsTypeWrapped(t *testing.T) {
	inner := StoreUnavailableError("queue down", nil)
	wrapped := fmt.Errorf("ingest: %w", inner)

	assert.True(t, IsType(wrapped, ErrTypeStoreUnavailable))
	assert.Equal(t, ErrTypeStoreUnavailable, GetType(wrapped))
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("dial tcp: timeout")
	err := ConnectionError("redis unreachable", cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestDeliveryExhaustedMessage(t *testing.T) {
	err := DeliveryExhaustedError("evt-1", "sub-9", 5)
	assert.Contains(t, err.Error(), "evt-1")
	assert.Contains(t, err.Error(), "sub-9")
	assert.Contains(t, err.Error(), "5 attempts")
}
