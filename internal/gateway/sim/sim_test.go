package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/gateway/engine"
)

func connected(t *testing.T) *Facade {
	t.Helper()
	f := New()
	require.NoError(t, f.Connect(context.Background(), "SIM", "env:TEST"))
	return f
}

func TestConnectRejectsInvalidCredentials(t *testing.T) {
	f := New()
	err := f.Connect(context.Background(), "SIM", "env:invalid-keys")
	require.Error(t, err)
	var auth *engine.AuthFailure
	require.ErrorAs(t, err, &auth)
	assert.Equal(t, "SIM", auth.VenueID)
}

func TestSubmitRequiresConnection(t *testing.T) {
	f := New()
	_, err := f.Submit(context.Background(), engine.OrderSpec{
		VenueID: "SIM", Quantity: decimal.NewFromInt(1),
	})
	require.Error(t, err)
	var conn *engine.ConnFailure
	assert.ErrorAs(t, err, &conn)
}

func TestSubmitAssignsVenueOrderIDs(t *testing.T) {
	f := connected(t)
	a, err := f.Submit(context.Background(), engine.OrderSpec{VenueID: "SIM", Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	b, err := f.Submit(context.Background(), engine.OrderSpec{VenueID: "SIM", Quantity: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.NotEqual(t, a.VenueOrderID, b.VenueOrderID)
}

func TestAutoAcceptEmitsOnSubscription(t *testing.T) {
	f := connected(t)
	f.SetAutoAccept(true)
	sub, err := f.Subscribe(context.Background(), "SIM")
	require.NoError(t, err)
	defer sub.Stop()

	ack, err := f.Submit(context.Background(), engine.OrderSpec{
		VenueID: "SIM", ClientOrderID: "ord-1", Quantity: decimal.NewFromInt(1),
	})
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, engine.EventAccepted, ev.Type)
		assert.Equal(t, "ord-1", ev.ClientOrderID)
		assert.Equal(t, ack.VenueOrderID, ev.VenueOrderID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestInjectRaw(t *testing.T) {
	f := connected(t)
	sub, err := f.Subscribe(context.Background(), "SIM")
	require.NoError(t, err)
	defer sub.Stop()

	err = f.InjectRaw(`{"type":"FILL","venue":"SIM","client_order_id":"ord-1",
		"fill_qty":"4","fill_price":"60000","ts":1700000000000}`)
	require.NoError(t, err)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, engine.EventFill, ev.Type)
		assert.True(t, ev.FillQty.Equal(decimal.NewFromInt(4)))
		assert.Equal(t, int64(1700000000000), ev.Timestamp.UnixMilli())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	assert.Error(t, f.InjectRaw(`{not json`))
	assert.Error(t, f.InjectRaw(`{"venue":"SIM"}`))
	assert.Error(t, f.InjectRaw(`{"type":"FILL","fill_qty":"abc"}`))
}

func TestHeartbeatsFlowAndSilence(t *testing.T) {
	f := connected(t)
	f.SetHeartbeatInterval(5 * time.Millisecond)
	sub, err := f.Subscribe(context.Background(), "SIM")
	require.NoError(t, err)
	defer sub.Stop()

	select {
	case hb := <-sub.Heartbeats():
		assert.Equal(t, "SIM", hb.VenueID)
	case <-time.After(time.Second):
		t.Fatal("no heartbeat")
	}

	f.StopHeartbeats("SIM")
	// Drain anything already buffered, then expect silence.
	deadline := time.After(50 * time.Millisecond)
drain:
	for {
		select {
		case <-sub.Heartbeats():
		case <-deadline:
			break drain
		}
	}
	select {
	case _, ok := <-sub.Heartbeats():
		if ok {
			t.Fatal("heartbeat after silence")
		}
	case <-time.After(30 * time.Millisecond):
	}
}

func TestDisconnectStopsSubscriptions(t *testing.T) {
	f := connected(t)
	sub, err := f.Subscribe(context.Background(), "SIM")
	require.NoError(t, err)

	require.NoError(t, f.Disconnect(context.Background(), "SIM"))
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instruments.yaml")
	doc := `venues:
  - id: SIM
    instruments:
      - id: BTCUSDT
        base: BTC
        quote: USDT
        price_step: "0.1"
        qty_step: "0.001"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	f := connected(t)
	require.NoError(t, f.LoadCatalog(path))
	list, err := f.QueryInstruments(context.Background(), "SIM")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "BTCUSDT", list[0].ID)
	assert.True(t, list[0].PriceStep.Equal(decimal.RequireFromString("0.1")))

	assert.Error(t, f.LoadCatalog(filepath.Join(dir, "missing.yaml")))
}
