// Package sim is an in-process engine facade used for dry-run mode and tests.
// It accepts orders, emits lifecycle events on its stream, and lets callers
// inject raw engine events to script fills and rejects.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"nautgate/internal/gateway/engine"
	"nautgate/internal/logger"
)

type venueConn struct {
	connected bool
}

// Facade implements engine.Facade entirely in memory.
type Facade struct {
	mu          sync.Mutex
	venues      map[string]*venueConn
	subs        map[string][]*subscription
	instruments map[string][]engine.Instrument
	balances    []engine.Balance
	positions   map[string][]engine.PositionSnapshot

	nextID        atomic.Int64
	heartbeatEach time.Duration
	// autoAccept emits an ACCEPTED event right after each submit, which is
	// the behavior dry-run mode wants; tests usually drive events manually.
	autoAccept bool
}

func New() *Facade {
	return &Facade{
		venues:        make(map[string]*venueConn),
		subs:          make(map[string][]*subscription),
		instruments:   make(map[string][]engine.Instrument),
		positions:     make(map[string][]engine.PositionSnapshot),
		heartbeatEach: time.Second,
		balances: []engine.Balance{
			{Asset: "USDT", Total: decimal.NewFromInt(100000), Available: decimal.NewFromInt(100000)},
		},
	}
}

// SetAutoAccept toggles immediate ACCEPTED events after submit.
func (f *Facade) SetAutoAccept(v bool) { f.autoAccept = v }

// SetHeartbeatInterval adjusts the simulated heartbeat cadence.
func (f *Facade) SetHeartbeatInterval(d time.Duration) {
	if d > 0 {
		f.heartbeatEach = d
	}
}

// SetPositions seeds the position projection returned for a venue.
func (f *Facade) SetPositions(venueID string, positions []engine.PositionSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[venueID] = positions
}

var _ engine.Facade = (*Facade)(nil)

// Connect simulates venue authentication: a credentials ref containing
// "invalid" is rejected the way a venue rejects bad keys.
func (f *Facade) Connect(_ context.Context, venueID, credentialsRef string) error {
	if strings.Contains(strings.ToLower(credentialsRef), "invalid") {
		return &engine.AuthFailure{VenueID: venueID, Reason: "credentials rejected"}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.venues[venueID] = &venueConn{connected: true}
	return nil
}

func (f *Facade) Disconnect(_ context.Context, venueID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.venues, venueID)
	for _, s := range f.subs[venueID] {
		s.stop()
	}
	delete(f.subs, venueID)
	return nil
}

func (f *Facade) requireVenue(venueID string) error {
	if v, ok := f.venues[venueID]; !ok || !v.connected {
		return &engine.ConnFailure{VenueID: venueID, Reason: "venue not connected"}
	}
	return nil
}

func (f *Facade) Submit(_ context.Context, spec engine.OrderSpec) (engine.Ack, error) {
	f.mu.Lock()
	if err := f.requireVenue(spec.VenueID); err != nil {
		f.mu.Unlock()
		return engine.Ack{}, err
	}
	if spec.Quantity.Sign() <= 0 {
		f.mu.Unlock()
		return engine.Ack{}, &engine.RejectFailure{Reason: "quantity must be positive"}
	}
	venueOrderID := fmt.Sprintf("SIM-%d", f.nextID.Add(1))
	f.mu.Unlock()

	if f.autoAccept {
		f.Emit(engine.Event{
			Type:          engine.EventAccepted,
			VenueID:       spec.VenueID,
			ClientOrderID: spec.ClientOrderID,
			VenueOrderID:  venueOrderID,
			Timestamp:     time.Now(),
		})
	}
	return engine.Ack{VenueOrderID: venueOrderID, Timestamp: time.Now()}, nil
}

func (f *Facade) Cancel(_ context.Context, venueID, venueOrderID string) error {
	f.mu.Lock()
	if err := f.requireVenue(venueID); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	if f.autoAccept {
		f.Emit(engine.Event{
			Type:         engine.EventCanceled,
			VenueID:      venueID,
			VenueOrderID: venueOrderID,
			Timestamp:    time.Now(),
		})
	}
	return nil
}

func (f *Facade) Modify(_ context.Context, venueID, venueOrderID string, _ engine.ModifyDelta) error {
	f.mu.Lock()
	if err := f.requireVenue(venueID); err != nil {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()

	if f.autoAccept {
		f.Emit(engine.Event{
			Type:         engine.EventAmendAccepted,
			VenueID:      venueID,
			VenueOrderID: venueOrderID,
			Timestamp:    time.Now(),
		})
	}
	return nil
}

func (f *Facade) QueryAccount(_ context.Context, venueID string) (engine.AccountSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireVenue(venueID); err != nil {
		return engine.AccountSnapshot{}, err
	}
	balances := make([]engine.Balance, len(f.balances))
	copy(balances, f.balances)
	return engine.AccountSnapshot{VenueID: venueID, Balances: balances, At: time.Now()}, nil
}

func (f *Facade) QueryPositions(_ context.Context, venueID, instrumentID string) ([]engine.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireVenue(venueID); err != nil {
		return nil, err
	}
	var out []engine.PositionSnapshot
	for _, p := range f.positions[venueID] {
		if instrumentID != "" && p.InstrumentID != instrumentID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *Facade) QueryInstruments(_ context.Context, venueID string) ([]engine.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireVenue(venueID); err != nil {
		return nil, err
	}
	list := make([]engine.Instrument, len(f.instruments[venueID]))
	copy(list, f.instruments[venueID])
	return list, nil
}

func (f *Facade) Subscribe(_ context.Context, venueID string) (engine.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.requireVenue(venueID); err != nil {
		return nil, err
	}
	s := newSubscription(venueID, f.heartbeatEach)
	f.subs[venueID] = append(f.subs[venueID], s)
	return s, nil
}

// Emit broadcasts an event to every live subscription of its venue.
func (f *Facade) Emit(ev engine.Event) {
	f.mu.Lock()
	subs := append([]*subscription(nil), f.subs[ev.VenueID]...)
	f.mu.Unlock()
	for _, s := range subs {
		s.deliver(ev)
	}
}

// StopHeartbeats silences heartbeat emission for a venue, simulating a dead
// connection so the session manager's LOST transition can be exercised.
func (f *Facade) StopHeartbeats(venueID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs[venueID] {
		s.silence()
	}
}

type subscription struct {
	venueID string
	events  chan engine.Event
	beats   chan engine.Heartbeat
	done    chan struct{}
	silent  atomic.Bool

	// closeMu serializes sends against Stop so a close never races a send.
	closeMu sync.Mutex
	closed  bool
}

func newSubscription(venueID string, heartbeatEach time.Duration) *subscription {
	s := &subscription{
		venueID: venueID,
		events:  make(chan engine.Event, 64),
		beats:   make(chan engine.Heartbeat, 8),
		done:    make(chan struct{}),
	}
	go s.beatLoop(heartbeatEach)
	return s
}

func (s *subscription) beatLoop(each time.Duration) {
	ticker := time.NewTicker(each)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case t := <-ticker.C:
			if s.silent.Load() {
				continue
			}
			s.closeMu.Lock()
			if !s.closed {
				select {
				case s.beats <- engine.Heartbeat{VenueID: s.venueID, At: t}:
				default:
				}
			}
			s.closeMu.Unlock()
		}
	}
}

func (s *subscription) deliver(ev engine.Event) {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		logger.Warnf("sim: dropping event %s for %s, subscriber backlog full", ev.Type, s.venueID)
	}
}

func (s *subscription) silence() { s.silent.Store(true) }

func (s *subscription) stop() {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	close(s.events)
	close(s.beats)
}

func (s *subscription) Events() <-chan engine.Event { return s.events }

func (s *subscription) Heartbeats() <-chan engine.Heartbeat { return s.beats }

func (s *subscription) Stop() { s.stop() }
