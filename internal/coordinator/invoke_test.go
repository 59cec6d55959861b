package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/fault"
	"nautgate/internal/gateway/engine"
)

func TestInvokeUnknownOperation(t *testing.T) {
	g := newTestGateway(t, Options{})
	_, err := g.core.Invoke(context.Background(), "teleport", nil)
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))
}

func TestInvokeAlwaysReturnsClassifiedErrors(t *testing.T) {
	g := newTestGateway(t, Options{})
	_, err := g.core.Invoke(context.Background(), "submitOrder", map[string]any{
		"venue_id": "SIM",
	})
	require.Error(t, err)
	var fe *fault.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fault.Session, fe.Category)
}

func TestInvokeFullFlow(t *testing.T) {
	g := newTestGateway(t, Options{})

	res, err := g.core.Invoke(context.Background(), "initialize", initConfig())
	require.NoError(t, err)
	info, ok := res.(SessionInfo)
	require.True(t, ok)
	assert.Equal(t, "READY", info.State)

	res, err = g.core.Invoke(context.Background(), "connectVenue", map[string]any{
		"venue_id":        "SIM",
		"credentials_ref": "env:TEST",
	})
	require.NoError(t, err)
	payload := res.(map[string]any)
	assert.Equal(t, "CONNECTED", payload["state"])

	// Weakly typed args: quantity as number, timeout as int.
	res, err = g.core.Invoke(context.Background(), "submitOrder", map[string]any{
		"client_order_id": "ord-1",
		"venue_id":        "SIM",
		"instrument_id":   "BTCUSDT",
		"side":            "BUY",
		"quantity":        10,
		"price":           "50000",
		"timeout_sec":     5,
	})
	require.NoError(t, err)
	order := res.(map[string]any)
	assert.Equal(t, "PENDING_SUBMIT", order["state"])
	assert.Equal(t, "10", order["quantity"])

	res, err = g.core.Invoke(context.Background(), "getOrder", map[string]any{
		"client_order_id": "ord-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "ord-1", res.(map[string]any)["client_order_id"])

	res, err = g.core.Invoke(context.Background(), "listOrders", map[string]any{
		"state": "PENDING_SUBMIT",
	})
	require.NoError(t, err)
	orders := res.(map[string]any)["orders"].([]map[string]any)
	assert.Len(t, orders, 1)

	res, err = g.core.Invoke(context.Background(), "getAccountInfo", map[string]any{
		"venue_id": "SIM",
	})
	require.NoError(t, err)
	assert.Equal(t, "SIM", res.(map[string]any)["venue_id"])

	_, err = g.core.Invoke(context.Background(), "disconnectVenue", map[string]any{
		"venue_id": "SIM",
	})
	require.NoError(t, err)
}

func TestInvokeListOrdersRejectsUnknownState(t *testing.T) {
	g := newTestGateway(t, Options{})
	g.ready(t)
	_, err := g.core.Invoke(context.Background(), "listOrders", map[string]any{
		"state": "LIMBO",
	})
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))
}

func TestInvokeBacktestDisabled(t *testing.T) {
	g := newTestGateway(t, Options{})
	g.ready(t)
	_, err := g.core.Invoke(context.Background(), "backtestSubmit", map[string]any{
		"instrument_id": "BTCUSDT",
	})
	require.Error(t, err)
	assert.Contains(t, fault.Classify(err).Message, "not enabled")
}

func TestSecondsToDuration(t *testing.T) {
	assert.Equal(t, time.Duration(0), secondsToDuration(0))
	assert.Equal(t, 1500*time.Millisecond, secondsToDuration(1.5))
}

func TestParseOrderStateRoundTrip(t *testing.T) {
	for _, s := range []string{
		"NEW", "PENDING_SUBMIT", "WORKING", "PARTIALLY_FILLED",
		"PENDING_CANCEL", "PENDING_MODIFY", "FILLED", "CANCELED",
		"REJECTED", "EXPIRED",
	} {
		state, ok := parseOrderState(s)
		require.True(t, ok, s)
		assert.Equal(t, s, state.String())
	}
	_, ok := parseOrderState("LIMBO")
	assert.False(t, ok)
}

func TestValidateInitConfig(t *testing.T) {
	assert.NoError(t, validateInitConfig(nil))
	assert.NoError(t, validateInitConfig(map[string]any{
		"trader_id":   "T-1",
		"environment": "sandbox",
		"venues": []any{
			map[string]any{"venue_id": "BINANCE", "credentials_ref": "env:PROD"},
		},
		"default_timeout_sec": 10,
	}))

	err := validateInitConfig(map[string]any{"environment": "prod"})
	require.Error(t, err)
	assert.Equal(t, fault.Validation, fault.CategoryOf(err))

	err = validateInitConfig(map[string]any{
		"venues": []any{map[string]any{"credentials_ref": "env:X"}},
	})
	require.Error(t, err)

	// map[any]any nesting from YAML decoders is normalized, not rejected.
	assert.NoError(t, validateInitConfig(map[string]any{
		"engine": map[any]any{"threads": 4},
	}))
}

var _ engine.Facade = (*hookFacade)(nil)
