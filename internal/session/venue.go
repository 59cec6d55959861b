package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"nautgate/internal/fault"
	"nautgate/internal/gateway/engine"
	"nautgate/internal/logger"
)

type VenueState int

const (
	VenueDisconnected VenueState = iota
	VenueConnecting
	VenueConnected
	VenueAuthFailed
	VenueLost
)

func (s VenueState) String() string {
	switch s {
	case VenueDisconnected:
		return "DISCONNECTED"
	case VenueConnecting:
		return "CONNECTING"
	case VenueConnected:
		return "CONNECTED"
	case VenueAuthFailed:
		return "AUTH_FAILED"
	case VenueLost:
		return "LOST"
	default:
		return "UNKNOWN"
	}
}

var venueTransitions = map[VenueState][]VenueState{
	VenueDisconnected: {VenueConnecting},
	VenueConnecting:   {VenueConnected, VenueAuthFailed, VenueDisconnected},
	VenueConnected:    {VenueLost, VenueDisconnected},
	VenueAuthFailed:   {VenueConnecting, VenueDisconnected},
	VenueLost:         {VenueConnecting, VenueDisconnected},
}

// VenueInfo is a read-only snapshot of one venue connection.
type VenueInfo struct {
	VenueID        string
	State          VenueState
	CredentialsRef string
	LastHeartbeat  time.Time
}

type venue struct {
	id             string
	state          VenueState
	credentialsRef string
	lastHeartbeat  time.Time
	// lost is closed when the connection leaves CONNECTED, so in-flight
	// operations can fail fast instead of hanging on a dead venue.
	lost chan struct{}
}

func (v *venue) snapshot() VenueInfo {
	return VenueInfo{
		VenueID:        v.id,
		State:          v.state,
		CredentialsRef: v.credentialsRef,
		LastHeartbeat:  v.lastHeartbeat,
	}
}

func (v *venue) transition(to VenueState) bool {
	for _, allowed := range venueTransitions[v.state] {
		if allowed == to {
			if v.state == VenueConnected && to != VenueConnected {
				v.closeLost()
			}
			v.state = to
			return true
		}
	}
	return false
}

func (v *venue) closeLost() {
	if v.lost != nil {
		close(v.lost)
		v.lost = nil
	}
}

// AuditSink receives venue state transitions for durable audit. Failures are
// logged and never block the transition itself.
type AuditSink interface {
	RecordVenueEvent(venueID, from, to, detail string) error
}

// Manager owns the venue connection set. At most one connection exists per
// venue id, and it is mutated only through the transition API here.
type Manager struct {
	mu             sync.Mutex
	session        *Session
	facade         engine.Facade
	connectTimeout time.Duration
	venues         map[string]*venue
	audit          AuditSink
}

func NewManager(sess *Session, facade engine.Facade, connectTimeout time.Duration) *Manager {
	if connectTimeout <= 0 {
		connectTimeout = 15 * time.Second
	}
	return &Manager{
		session:        sess,
		facade:         facade,
		connectTimeout: connectTimeout,
		venues:         make(map[string]*venue),
	}
}

// SetAuditSink attaches a durable recorder for venue transitions.
func (m *Manager) SetAuditSink(sink AuditSink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = sink
}

func (m *Manager) recordTransition(venueID string, from, to VenueState, detail string) {
	m.mu.Lock()
	sink := m.audit
	m.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.RecordVenueEvent(venueID, from.String(), to.String(), detail); err != nil {
		logger.Warnf("session: recording venue transition for %s failed: %v", venueID, err)
	}
}

// Connect drives DISCONNECTED -> CONNECTING -> CONNECTED for a venue. A
// connect already in flight fails with AlreadyConnecting; connecting an
// already CONNECTED venue returns the existing connection.
func (m *Manager) Connect(ctx context.Context, venueID, credentialsRef string) (VenueInfo, error) {
	if err := m.session.Require(); err != nil {
		return VenueInfo{}, err
	}
	if venueID == "" {
		return VenueInfo{}, fault.New(fault.Validation, "venueId must not be empty")
	}

	m.mu.Lock()
	v, ok := m.venues[venueID]
	if !ok {
		v = &venue{id: venueID, state: VenueDisconnected}
		m.venues[venueID] = v
	}
	switch v.state {
	case VenueConnecting:
		m.mu.Unlock()
		return VenueInfo{}, fault.Newf(fault.Connection, "AlreadyConnecting: connect already in flight for %s", venueID)
	case VenueConnected:
		info := v.snapshot()
		m.mu.Unlock()
		return info, nil
	}
	v.transition(VenueConnecting)
	v.credentialsRef = credentialsRef
	m.mu.Unlock()

	// The facade round-trip runs outside the manager lock so a slow venue
	// does not stall unrelated connects.
	cctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	err := m.facade.Connect(cctx, venueID, credentialsRef)
	cancel()

	m.mu.Lock()
	if err != nil {
		classified := fault.Classify(err)
		to := VenueDisconnected
		if classified.Category == fault.Auth {
			to = VenueAuthFailed
		}
		v.transition(to)
		m.mu.Unlock()
		m.recordTransition(venueID, VenueConnecting, to, string(classified.Category))
		return VenueInfo{}, classified
	}
	if !v.transition(VenueConnected) {
		// Disconnected while the connect was in flight.
		m.mu.Unlock()
		return VenueInfo{}, fault.Newf(fault.Connection, "ConnectionLost: venue %s detached during connect", venueID)
	}
	v.lost = make(chan struct{})
	v.lastHeartbeat = time.Now()
	info := v.snapshot()
	m.mu.Unlock()
	m.recordTransition(venueID, VenueConnecting, VenueConnected, "")
	logger.Infof("session: venue %s connected", venueID)
	return info, nil
}

// Disconnect tears a venue down. Disconnecting an unknown or already
// DISCONNECTED venue is a no-op success.
func (m *Manager) Disconnect(ctx context.Context, venueID string) error {
	m.mu.Lock()
	v, ok := m.venues[venueID]
	if !ok || v.state == VenueDisconnected {
		m.mu.Unlock()
		return nil
	}
	from := v.state
	v.transition(VenueDisconnected)
	m.mu.Unlock()
	m.recordTransition(venueID, from, VenueDisconnected, "")

	if err := m.facade.Disconnect(ctx, venueID); err != nil {
		// Local state already committed; engine-side teardown is best effort.
		logger.Warnf("session: facade disconnect for %s failed: %v", venueID, err)
	}
	logger.Infof("session: venue %s disconnected", venueID)
	return nil
}

// RequireConnected is the precondition guard used by every venue-scoped
// operation.
func (m *Manager) RequireConnected(venueID string) (VenueInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[venueID]
	if !ok || v.state != VenueConnected {
		state := VenueDisconnected
		if ok {
			state = v.state
		}
		return VenueInfo{}, fault.Newf(fault.Connection, "VenueNotConnected: venue %s is %s", venueID, state)
	}
	return v.snapshot(), nil
}

// LostSignal returns a channel that closes when the venue leaves CONNECTED.
// In-flight operations select on it to fail with ConnectionLost instead of
// waiting out a dead connection.
func (m *Manager) LostSignal(venueID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[venueID]
	if !ok || v.lost == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return v.lost
}

// MarkHeartbeat records venue liveness.
func (m *Manager) MarkHeartbeat(venueID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.venues[venueID]; ok {
		v.lastHeartbeat = at
	}
}

// MarkLost drives CONNECTED -> LOST, waking any in-flight operation on the
// venue.
func (m *Manager) MarkLost(venueID string) {
	m.mu.Lock()
	v, ok := m.venues[venueID]
	if !ok || v.state != VenueConnected {
		m.mu.Unlock()
		return
	}
	v.transition(VenueLost)
	m.mu.Unlock()
	m.recordTransition(venueID, VenueConnected, VenueLost, "heartbeat timeout")
	logger.Warnf("session: venue %s heartbeat lost", venueID)
}

// WatchHeartbeats consumes a subscription's heartbeat channel and drives the
// LOST transition when beats stop arriving within timeout. It returns when
// the channel closes or the venue leaves CONNECTED.
func (m *Manager) WatchHeartbeats(venueID string, beats <-chan engine.Heartbeat, timeout time.Duration) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	lost := m.LostSignal(venueID)
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case hb, ok := <-beats:
			if !ok {
				m.MarkLost(venueID)
				return
			}
			m.MarkHeartbeat(venueID, hb.At)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(timeout)
		case <-timer.C:
			m.MarkLost(venueID)
			return
		case <-lost:
			return
		}
	}
}

// Snapshot returns the venue's current state, if known.
func (m *Manager) Snapshot(venueID string) (VenueInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.venues[venueID]
	if !ok {
		return VenueInfo{}, false
	}
	return v.snapshot(), true
}

// List returns all known venues ordered by id.
func (m *Manager) List() []VenueInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]VenueInfo, 0, len(m.venues))
	for _, v := range m.venues {
		out = append(out, v.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VenueID < out[j].VenueID })
	return out
}
