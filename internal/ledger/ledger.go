package ledger

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"nautgate/internal/fault"
	"nautgate/internal/gateway/engine"
	"nautgate/internal/logger"
)

// Persister receives write-through snapshots of every committed order change.
// Persistence failures are logged, never fatal: the in-memory ledger is the
// source of truth for the session.
type Persister interface {
	SaveOrder(o Order) error
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	VenueID      string
	InstrumentID string
	State        *OrderState
}

// Ledger is the in-memory order registry. All mutation goes through it; it
// applies at most one state transition per call.
type Ledger struct {
	mu       sync.RWMutex
	byClient map[string]*Order
	byVenue  map[string]*Order
	store    Persister
}

func New(store Persister) *Ledger {
	return &Ledger{
		byClient: make(map[string]*Order),
		byVenue:  make(map[string]*Order),
		store:    store,
	}
}

func (l *Ledger) persist(o *Order) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveOrder(o.clone()); err != nil {
		logger.Warnf("ledger: persisting order %s failed: %v", o.ClientOrderID, err)
	}
}

// Register creates a ledger entry for a submit request, before the engine
// acknowledges anything. This is the idempotency boundary: re-registering the
// same client order id with an identical spec returns the existing order;
// a divergent spec is rejected with DuplicateClientOrderId.
func (l *Ledger) Register(spec engine.OrderSpec) (Order, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.byClient[spec.ClientOrderID]; ok {
		if existing.specEqual(spec) {
			return existing.clone(), false, nil
		}
		return Order{}, false, fault.Newf(fault.Validation,
			"DuplicateClientOrderId: %s already registered with a different spec", spec.ClientOrderID)
	}

	now := time.Now()
	o := &Order{
		ClientOrderID: spec.ClientOrderID,
		VenueID:       spec.VenueID,
		InstrumentID:  spec.InstrumentID,
		Side:          spec.Side,
		Type:          spec.Type,
		Quantity:      spec.Quantity,
		TimeInForce:   spec.TimeInForce,
		State:         StateNew,
		FilledQty:     decimal.Zero,
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
	if spec.Price != nil {
		p := *spec.Price
		o.Price = &p
	}
	l.byClient[spec.ClientOrderID] = o
	l.persist(o)
	return o.clone(), true, nil
}

func (l *Ledger) get(clientOrderID string) (*Order, error) {
	o, ok := l.byClient[clientOrderID]
	if !ok {
		return nil, fault.Newf(fault.Validation, "UnknownOrder: %s is not tracked in this session", clientOrderID)
	}
	return o, nil
}

func (l *Ledger) commit(o *Order, to OrderState) error {
	if o.State.Terminal() {
		return fault.Newf(fault.System,
			"transition out of terminal state %s attempted for order %s", o.State, o.ClientOrderID)
	}
	if !o.State.canTransition(to) {
		return fault.Newf(fault.System,
			"illegal order transition %s -> %s for %s", o.State, to, o.ClientOrderID)
	}
	o.State = to
	o.LastUpdatedAt = time.Now()
	l.persist(o)
	return nil
}

// CommitSubmit records engine acceptance-for-routing: NEW -> PENDING_SUBMIT
// with the venue order id bound. A timed-out submit never reaches here, so
// the order stays NEW and an idempotent retry is safe.
func (l *Ledger) CommitSubmit(clientOrderID, venueOrderID string) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.get(clientOrderID)
	if err != nil {
		return Order{}, err
	}
	if o.State != StateNew {
		// The entry already advanced: a retried submit raced the first ack, or
		// the ACCEPTED event outran this commit. Still bind the venue id.
		if venueOrderID != "" && o.VenueOrderID == "" {
			o.VenueOrderID = venueOrderID
			l.byVenue[venueOrderID] = o
			l.persist(o)
		}
		return o.clone(), nil
	}
	if err := l.commit(o, StatePendingSubmit); err != nil {
		return Order{}, err
	}
	if venueOrderID != "" {
		o.VenueOrderID = venueOrderID
		l.byVenue[venueOrderID] = o
	}
	return o.clone(), nil
}

// CommitCancelRequested moves WORKING|PARTIALLY_FILLED -> PENDING_CANCEL once
// the engine has accepted the cancel request. Terminal orders fail with
// OrderNotCancelable before any facade contact is attempted.
func (l *Ledger) CommitCancelRequested(clientOrderID string) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.get(clientOrderID)
	if err != nil {
		return Order{}, err
	}
	if err := l.commit(o, StatePendingCancel); err != nil {
		return Order{}, err
	}
	return o.clone(), nil
}

// CommitModifyRequested moves WORKING|PARTIALLY_FILLED -> PENDING_MODIFY,
// remembering the prior state and the pending delta until the amend resolves.
func (l *Ledger) CommitModifyRequested(clientOrderID string, delta engine.ModifyDelta) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, err := l.get(clientOrderID)
	if err != nil {
		return Order{}, err
	}
	prior := o.State
	if err := l.commit(o, StatePendingModify); err != nil {
		return Order{}, err
	}
	o.prior = prior
	o.pending = &delta
	return o.clone(), nil
}

// CheckCancelable validates a cancel precondition without mutating anything.
func (l *Ledger) CheckCancelable(clientOrderID string) (Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, err := l.get(clientOrderID)
	if err != nil {
		return Order{}, err
	}
	if o.State.Terminal() {
		return Order{}, fault.Newf(fault.Validation,
			"OrderNotCancelable: order %s is %s", clientOrderID, o.State)
	}
	if o.State != StateWorking && o.State != StatePartiallyFilled {
		return Order{}, fault.Newf(fault.Validation,
			"OrderNotCancelable: order %s is %s, not working", clientOrderID, o.State)
	}
	return o.clone(), nil
}

// CheckModifiable validates a modify precondition without mutating anything.
func (l *Ledger) CheckModifiable(clientOrderID string) (Order, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, err := l.get(clientOrderID)
	if err != nil {
		return Order{}, err
	}
	if o.State.Terminal() {
		return Order{}, fault.Newf(fault.Validation,
			"OrderNotModifiable: order %s is %s", clientOrderID, o.State)
	}
	if o.State != StateWorking && o.State != StatePartiallyFilled {
		return Order{}, fault.Newf(fault.Validation,
			"OrderNotModifiable: order %s is %s, not working", clientOrderID, o.State)
	}
	return o.clone(), nil
}

// Apply processes exactly one engine event. Events for unknown orders and
// events against terminal orders are dropped and logged, never applied. An
// overshooting fill is a protocol violation surfaced as a SystemError.
func (l *Ledger) Apply(ev engine.Event) (Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	o := l.resolve(ev)
	if o == nil {
		return Order{}, fault.Newf(fault.Validation,
			"UnknownOrder: event %s matches no tracked order (client=%q venue=%q)",
			ev.Type, ev.ClientOrderID, ev.VenueOrderID)
	}

	if o.State.Terminal() {
		logger.Warnf("ledger: dropping %s event for terminal order %s (state %s)",
			ev.Type, o.ClientOrderID, o.State)
		return o.clone(), nil
	}

	if ev.VenueOrderID != "" && o.VenueOrderID == "" {
		o.VenueOrderID = ev.VenueOrderID
		l.byVenue[ev.VenueOrderID] = o
	}

	switch ev.Type {
	case engine.EventAccepted:
		return l.applyAccepted(o)
	case engine.EventRejected:
		return l.applyTerminal(o, StateRejected, ev.Reason)
	case engine.EventFill:
		return l.applyFill(o, ev)
	case engine.EventCanceled:
		return l.applyTerminal(o, StateCanceled, ev.Reason)
	case engine.EventExpired:
		return l.applyTerminal(o, StateExpired, ev.Reason)
	case engine.EventAmendAccepted:
		return l.applyAmendAccepted(o)
	case engine.EventAmendRejected:
		return l.applyAmendRejected(o, ev.Reason)
	default:
		logger.Warnf("ledger: dropping unknown event type %q for order %s", ev.Type, o.ClientOrderID)
		return o.clone(), nil
	}
}

func (l *Ledger) resolve(ev engine.Event) *Order {
	if ev.ClientOrderID != "" {
		if o, ok := l.byClient[ev.ClientOrderID]; ok {
			return o
		}
	}
	if ev.VenueOrderID != "" {
		if o, ok := l.byVenue[ev.VenueOrderID]; ok {
			return o
		}
	}
	return nil
}

func (l *Ledger) applyAccepted(o *Order) (Order, error) {
	if err := l.commit(o, StateWorking); err != nil {
		return Order{}, err
	}
	return o.clone(), nil
}

func (l *Ledger) applyTerminal(o *Order, to OrderState, reason string) (Order, error) {
	if err := l.commit(o, to); err != nil {
		return Order{}, err
	}
	if reason != "" {
		o.RejectReason = reason
	}
	return o.clone(), nil
}

func (l *Ledger) applyFill(o *Order, ev engine.Event) (Order, error) {
	if ev.FillQty.Sign() <= 0 {
		return Order{}, fault.Newf(fault.System,
			"non-positive fill quantity %s for order %s", ev.FillQty, o.ClientOrderID)
	}
	total := o.FilledQty.Add(ev.FillQty)
	target := o.EffectiveQuantity()
	if total.GreaterThan(target) {
		// Overshoot is a protocol violation, never clamped.
		return Order{}, fault.Newf(fault.System,
			"fill overshoot on order %s: filled %s exceeds quantity %s",
			o.ClientOrderID, total, target)
	}

	switch {
	case total.Equal(target):
		if err := l.commit(o, StateFilled); err != nil {
			return Order{}, err
		}
	case o.State == StateWorking || o.State == StatePendingSubmit:
		if err := l.commit(o, StatePartiallyFilled); err != nil {
			return Order{}, err
		}
	default:
		// Already PARTIALLY_FILLED, or a fill racing a pending cancel/modify:
		// account the quantity without a state change.
	}

	// Volume-weighted average fill price.
	if ev.FillPrice.Sign() > 0 {
		notional := o.AvgFillPrice.Mul(o.FilledQty).Add(ev.FillPrice.Mul(ev.FillQty))
		o.AvgFillPrice = notional.Div(total)
	}
	o.FilledQty = total
	o.LastUpdatedAt = time.Now()
	l.persist(o)
	return o.clone(), nil
}

func (l *Ledger) applyAmendAccepted(o *Order) (Order, error) {
	if o.State != StatePendingModify {
		logger.Warnf("ledger: dropping AMEND_ACCEPTED for order %s in %s", o.ClientOrderID, o.State)
		return o.clone(), nil
	}
	if err := l.commit(o, StateWorking); err != nil {
		return Order{}, err
	}
	amend := Amend{Accepted: true, At: time.Now()}
	if o.pending != nil {
		amend.Quantity = o.pending.Quantity
		amend.Price = o.pending.Price
	}
	o.Amends = append(o.Amends, amend)
	o.pending = nil
	l.persist(o)
	return o.clone(), nil
}

func (l *Ledger) applyAmendRejected(o *Order, reason string) (Order, error) {
	if o.State != StatePendingModify {
		logger.Warnf("ledger: dropping AMEND_REJECTED for order %s in %s", o.ClientOrderID, o.State)
		return o.clone(), nil
	}
	prior := o.prior
	if prior != StateWorking && prior != StatePartiallyFilled {
		prior = StateWorking
	}
	if err := l.commit(o, prior); err != nil {
		return Order{}, err
	}
	amend := Amend{Accepted: false, Reason: reason, At: time.Now()}
	if o.pending != nil {
		amend.Quantity = o.pending.Quantity
		amend.Price = o.pending.Price
	}
	o.Amends = append(o.Amends, amend)
	o.pending = nil
	o.RejectReason = reason
	l.persist(o)
	return o.clone(), nil
}

// Find resolves either identifier to an order snapshot.
func (l *Ledger) Find(id string) (Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if o, ok := l.byClient[id]; ok {
		return o.clone(), true
	}
	if o, ok := l.byVenue[id]; ok {
		return o.clone(), true
	}
	return Order{}, false
}

// List returns matching orders ordered by creation time ascending. The result
// is computed per call, never a live view.
func (l *Ledger) List(f Filter) []Order {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Order, 0, len(l.byClient))
	for _, o := range l.byClient {
		if f.VenueID != "" && o.VenueID != f.VenueID {
			continue
		}
		if f.InstrumentID != "" && o.InstrumentID != f.InstrumentID {
			continue
		}
		if f.State != nil && o.State != *f.State {
			continue
		}
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ClientOrderID < out[j].ClientOrderID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Purge evicts terminal orders whose last update is older than horizon.
// Returns the number of evicted entries.
func (l *Ledger) Purge(horizon time.Duration) int {
	if horizon <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-horizon)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for id, o := range l.byClient {
		if !o.State.Terminal() || o.LastUpdatedAt.After(cutoff) {
			continue
		}
		delete(l.byClient, id)
		if o.VenueOrderID != "" {
			delete(l.byVenue, o.VenueOrderID)
		}
		n++
	}
	if n > 0 {
		logger.Infof("ledger: purged %d terminal orders older than %s", n, horizon)
	}
	return n
}
