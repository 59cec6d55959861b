// Package ledger tracks every order the gateway has accepted and enforces the
// order lifecycle state machine. It is the sole writer of order records and
// the idempotency boundary for submits.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"nautgate/internal/gateway/engine"
)

type OrderState int

const (
	StateNew OrderState = iota
	StatePendingSubmit
	StateWorking
	StatePartiallyFilled
	StatePendingCancel
	StatePendingModify
	StateFilled
	StateCanceled
	StateRejected
	StateExpired
)

func (s OrderState) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StatePendingSubmit:
		return "PENDING_SUBMIT"
	case StateWorking:
		return "WORKING"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatePendingCancel:
		return "PENDING_CANCEL"
	case StatePendingModify:
		return "PENDING_MODIFY"
	case StateFilled:
		return "FILLED"
	case StateCanceled:
		return "CANCELED"
	case StateRejected:
		return "REJECTED"
	case StateExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is permitted.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateExpired:
		return true
	default:
		return false
	}
}

// orderTransitions is the explicit lifecycle table. An edge absent here is
// illegal regardless of what event claims it.
var orderTransitions = map[OrderState][]OrderState{
	// NEW goes straight to REJECTED when the engine refuses the submit
	// synchronously, and straight to WORKING when the ACCEPTED event arrives
	// before the submit ack is committed.
	StateNew: {StatePendingSubmit, StateWorking, StateRejected},
	// PENDING_SUBMIT reaching fill states directly covers event-stream gaps
	// where the ACCEPTED event was missed across a reconnect.
	StatePendingSubmit: {StateWorking, StateRejected, StatePartiallyFilled, StateFilled, StateCanceled, StateExpired},
	StateWorking: {
		StatePartiallyFilled, StateFilled, StateCanceled, StateExpired,
		StatePendingCancel, StatePendingModify, StateRejected,
	},
	StatePartiallyFilled: {
		StateWorking, StateFilled, StateCanceled, StateExpired,
		StatePendingCancel, StatePendingModify,
	},
	StatePendingCancel: {StateCanceled, StateFilled, StatePartiallyFilled},
	StatePendingModify: {StateWorking, StatePartiallyFilled, StateFilled, StateCanceled},
	StateFilled:        {},
	StateCanceled:      {},
	StateRejected:      {},
	StateExpired:       {},
}

func (s OrderState) canTransition(to OrderState) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Amend is one tracked modification attempt. The original quantity and price
// of an order are immutable once it leaves NEW; accepted amends layer on top.
type Amend struct {
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Accepted bool             `json:"accepted"`
	Reason   string           `json:"reason,omitempty"`
	At       time.Time        `json:"at"`
}

// Order is one ledger entry. Values returned by the ledger are snapshots; the
// ledger's internal copy is the only mutable one.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	VenueID       string
	InstrumentID  string
	Side          engine.Side
	Type          engine.OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	TimeInForce   engine.TimeInForce
	State         OrderState
	FilledQty     decimal.Decimal
	AvgFillPrice  decimal.Decimal
	RejectReason  string
	Amends        []Amend
	CreatedAt     time.Time
	LastUpdatedAt time.Time

	// prior remembers the state a PENDING_MODIFY order returns to when the
	// amend is rejected.
	prior OrderState
	// pending holds the delta of an outstanding amend until it resolves.
	pending *engine.ModifyDelta
}

// EffectiveQuantity is the original quantity overlaid by the last accepted
// amend. Fill completion is measured against it.
func (o *Order) EffectiveQuantity() decimal.Decimal {
	for i := len(o.Amends) - 1; i >= 0; i-- {
		if o.Amends[i].Accepted && o.Amends[i].Quantity != nil {
			return *o.Amends[i].Quantity
		}
	}
	return o.Quantity
}

// EffectivePrice is the original price overlaid by the last accepted amend.
func (o *Order) EffectivePrice() *decimal.Decimal {
	for i := len(o.Amends) - 1; i >= 0; i-- {
		if o.Amends[i].Accepted && o.Amends[i].Price != nil {
			return o.Amends[i].Price
		}
	}
	return o.Price
}

func (o *Order) clone() Order {
	cp := *o
	if o.Price != nil {
		p := *o.Price
		cp.Price = &p
	}
	cp.Amends = make([]Amend, len(o.Amends))
	copy(cp.Amends, o.Amends)
	cp.pending = nil
	return cp
}

// specEqual reports whether an incoming submit spec is byte-identical to the
// order already registered under the same client order id.
func (o *Order) specEqual(spec engine.OrderSpec) bool {
	if o.VenueID != spec.VenueID ||
		o.InstrumentID != spec.InstrumentID ||
		o.Side != spec.Side ||
		o.Type != spec.Type ||
		o.TimeInForce != spec.TimeInForce {
		return false
	}
	if !o.Quantity.Equal(spec.Quantity) {
		return false
	}
	switch {
	case o.Price == nil && spec.Price == nil:
		return true
	case o.Price == nil || spec.Price == nil:
		return false
	default:
		return o.Price.Equal(*spec.Price)
	}
}
