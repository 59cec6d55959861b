// Package engine defines the single seam between the gateway core and the
// external trading engine. The core only ever talks to a Facade; it never
// reaches into venue adapters or the matching layer behind it.
package engine

import "context"

// Facade is the narrow interface the coordinator calls. Implementations are
// assumed safe for concurrent invocation; the core never relies on the facade
// serializing calls on its behalf.
type Facade interface {
	// Connect establishes the engine's connection to a venue. credentialsRef
	// is an opaque handle resolved by the implementation; the raw secret never
	// passes through the core.
	Connect(ctx context.Context, venueID, credentialsRef string) error

	// Disconnect tears down the venue connection. Disconnecting a venue that
	// is not connected is a no-op.
	Disconnect(ctx context.Context, venueID string) error

	// Submit sends a new order and returns the venue-assigned order id on
	// acceptance for routing. Lifecycle progress arrives on the event stream.
	Submit(ctx context.Context, spec OrderSpec) (Ack, error)

	// Cancel requests cancellation of a working order.
	Cancel(ctx context.Context, venueID, venueOrderID string) error

	// Modify requests an amend of a working order.
	Modify(ctx context.Context, venueID, venueOrderID string, delta ModifyDelta) error

	QueryAccount(ctx context.Context, venueID string) (AccountSnapshot, error)
	QueryPositions(ctx context.Context, venueID, instrumentID string) ([]PositionSnapshot, error)
	QueryInstruments(ctx context.Context, venueID string) ([]Instrument, error)

	// Subscribe opens the event stream for a venue. Each call yields a fresh
	// stream; streams are not restartable and gaps across reconnects are
	// expected, so event application must be idempotent.
	Subscribe(ctx context.Context, venueID string) (Subscription, error)
}

// Subscription is a cancellable event stream. Stop releases the underlying
// stream; after Stop the channels are closed and the subscription must not be
// reused.
type Subscription interface {
	Events() <-chan Event
	Heartbeats() <-chan Heartbeat
	Stop()
}
