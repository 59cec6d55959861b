package sim

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"nautgate/internal/gateway/engine"
)

// InjectRaw parses a raw engine event payload and broadcasts it. This is the
// entry point for scripted fills in tests and for replaying captured engine
// traffic.
//
// Expected shape:
//
//	{"type":"FILL","venue":"BINANCE","client_order_id":"C1",
//	 "venue_order_id":"SIM-1","fill_qty":"4","fill_price":"60000",
//	 "reason":"","ts":1700000000000}
func (f *Facade) InjectRaw(payload string) error {
	if !gjson.Valid(payload) {
		return fmt.Errorf("sim: invalid event json")
	}
	doc := gjson.Parse(payload)
	typ := doc.Get("type").String()
	if typ == "" {
		return fmt.Errorf("sim: event missing type")
	}
	ev := engine.Event{
		Type:          engine.EventType(typ),
		VenueID:       doc.Get("venue").String(),
		ClientOrderID: doc.Get("client_order_id").String(),
		VenueOrderID:  doc.Get("venue_order_id").String(),
		Reason:        doc.Get("reason").String(),
		Timestamp:     time.Now(),
	}
	if ms := doc.Get("ts").Int(); ms > 0 {
		ev.Timestamp = time.UnixMilli(ms)
	}
	if raw := doc.Get("fill_qty").String(); raw != "" {
		qty, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("sim: fill_qty: %w", err)
		}
		ev.FillQty = qty
	}
	if raw := doc.Get("fill_price").String(); raw != "" {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("sim: fill_price: %w", err)
		}
		ev.FillPrice = price
	}
	f.Emit(ev)
	return nil
}
