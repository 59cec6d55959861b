package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/gateway/engine"
)

func TestClassifyPassesThroughClassified(t *testing.T) {
	orig := New(Validation, "quantity must be positive")
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	assert.Same(t, orig, got)
}

func TestClassifyAuthFailure(t *testing.T) {
	err := &engine.AuthFailure{VenueID: "BINANCE", Reason: "bad key"}
	got := Classify(err)
	require.NotNil(t, got)
	assert.Equal(t, Auth, got.Category)
	assert.False(t, got.Retryable)
	assert.Contains(t, got.Message, "BINANCE")
	// Credential detail stays out of the caller-facing message.
	assert.NotContains(t, got.Message, "bad key")
}

func TestClassifyConnFailureIsRetryable(t *testing.T) {
	got := Classify(&engine.ConnFailure{VenueID: "SIM", Reason: "dial tcp refused"})
	assert.Equal(t, Connection, got.Category)
	assert.True(t, got.Retryable)
}

func TestClassifyRejectKeepsVerbatimReason(t *testing.T) {
	got := Classify(&engine.RejectFailure{Reason: "Filter failure: MIN_NOTIONAL"})
	assert.Equal(t, Trading, got.Category)
	assert.False(t, got.Retryable)
	assert.Equal(t, "Filter failure: MIN_NOTIONAL", got.Message)
}

func TestClassifyContextErrors(t *testing.T) {
	assert.Equal(t, Timeout, Classify(context.DeadlineExceeded).Category)
	assert.Equal(t, Timeout, Classify(context.Canceled).Category)
	assert.True(t, Classify(context.DeadlineExceeded).Retryable)
}

func TestClassifyUnknownBecomesSystem(t *testing.T) {
	got := Classify(errors.New("slice index out of range"))
	assert.Equal(t, System, got.Category)
	assert.False(t, got.Retryable)
	assert.Equal(t, "internal error", got.Message)
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
	assert.False(t, IsRetryable(nil))
}

func TestWrapKeepsChain(t *testing.T) {
	inner := errors.New("disk full")
	wrapped := Wrap(System, inner, "persist failed")
	assert.True(t, errors.Is(wrapped, inner))
	assert.Equal(t, "SystemError: persist failed", wrapped.Error())
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, OrderBusy, CategoryOf(New(OrderBusy, "busy")))
	assert.True(t, IsRetryable(New(OrderBusy, "busy")))
}
