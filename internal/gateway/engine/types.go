package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

// OrderSpec is the full intent handed to the facade on submit.
type OrderSpec struct {
	ClientOrderID string
	VenueID       string
	InstrumentID  string
	Side          Side
	Type          OrderType
	Quantity      decimal.Decimal
	Price         *decimal.Decimal
	TimeInForce   TimeInForce
}

// ModifyDelta carries the amended fields of a working order. Nil fields are
// left unchanged.
type ModifyDelta struct {
	Quantity *decimal.Decimal
	Price    *decimal.Decimal
}

// Ack is the synchronous acceptance of a submit: the engine has taken the
// order for routing and assigned a venue order id.
type Ack struct {
	VenueOrderID string
	Timestamp    time.Time
}

type EventType string

const (
	EventAccepted      EventType = "ACCEPTED"
	EventRejected      EventType = "REJECTED"
	EventFill          EventType = "FILL"
	EventCanceled      EventType = "CANCELED"
	EventExpired       EventType = "EXPIRED"
	EventAmendAccepted EventType = "AMEND_ACCEPTED"
	EventAmendRejected EventType = "AMEND_REJECTED"
)

// Event is one engine callback for an order. At least one of ClientOrderID /
// VenueOrderID is set.
type Event struct {
	Type          EventType
	VenueID       string
	ClientOrderID string
	VenueOrderID  string
	FillQty       decimal.Decimal
	FillPrice     decimal.Decimal
	Reason        string
	Timestamp     time.Time
}

// Heartbeat is the facade's liveness signal for a venue connection. A missed
// heartbeat window drives the session manager's CONNECTED -> LOST transition.
type Heartbeat struct {
	VenueID string
	At      time.Time
}

type Balance struct {
	Asset     string
	Total     decimal.Decimal
	Available decimal.Decimal
}

// AccountSnapshot is a request-scoped projection; the core never caches it.
type AccountSnapshot struct {
	VenueID  string
	Balances []Balance
	At       time.Time
}

type PositionSnapshot struct {
	VenueID       string
	InstrumentID  string
	Quantity      decimal.Decimal
	AvgEntryPrice decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

type Instrument struct {
	ID        string
	Base      string
	Quote     string
	PriceStep decimal.Decimal
	QtyStep   decimal.Decimal
}

// AuthFailure is a credential rejection by the venue. Not retryable without
// new credentials. Reason deliberately excludes the credential material.
type AuthFailure struct {
	VenueID string
	Reason  string
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("auth failure on %s: %s", e.VenueID, e.Reason)
}

// ConnFailure is a venue-level transport failure; usually retryable.
type ConnFailure struct {
	VenueID string
	Reason  string
}

func (e *ConnFailure) Error() string {
	return fmt.Sprintf("connection failure on %s: %s", e.VenueID, e.Reason)
}

// RejectFailure is the engine refusing a trading action. Reason is the
// engine's verbatim reject text.
type RejectFailure struct {
	Reason string
}

func (e *RejectFailure) Error() string {
	return fmt.Sprintf("engine reject: %s", e.Reason)
}
