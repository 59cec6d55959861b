package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nautgate/internal/fault"
	"nautgate/internal/gateway/engine"
)

// stubFacade implements engine.Facade with programmable connect behavior.
type stubFacade struct {
	mu          sync.Mutex
	connectErr  error
	connectGate chan struct{}
	connects    int
	disconnects int
}

func (f *stubFacade) Connect(ctx context.Context, venueID, credentialsRef string) error {
	f.mu.Lock()
	f.connects++
	gate := f.connectGate
	err := f.connectErr
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *stubFacade) Disconnect(ctx context.Context, venueID string) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *stubFacade) Submit(ctx context.Context, spec engine.OrderSpec) (engine.Ack, error) {
	return engine.Ack{}, nil
}
func (f *stubFacade) Cancel(ctx context.Context, venueID, venueOrderID string) error { return nil }
func (f *stubFacade) Modify(ctx context.Context, venueID, venueOrderID string, delta engine.ModifyDelta) error {
	return nil
}
func (f *stubFacade) QueryAccount(ctx context.Context, venueID string) (engine.AccountSnapshot, error) {
	return engine.AccountSnapshot{}, nil
}
func (f *stubFacade) QueryPositions(ctx context.Context, venueID, instrumentID string) ([]engine.PositionSnapshot, error) {
	return nil, nil
}
func (f *stubFacade) QueryInstruments(ctx context.Context, venueID string) ([]engine.Instrument, error) {
	return nil, nil
}
func (f *stubFacade) Subscribe(ctx context.Context, venueID string) (engine.Subscription, error) {
	return nil, nil
}

func readySession(t *testing.T) *Session {
	t.Helper()
	s := NewSession()
	require.NoError(t, s.BeginInitialize())
	require.NoError(t, s.MarkReady())
	return s
}

func TestConnectHappyPath(t *testing.T) {
	f := &stubFacade{}
	m := NewManager(readySession(t), f, time.Second)

	info, err := m.Connect(context.Background(), "SIM", "env:TEST")
	require.NoError(t, err)
	assert.Equal(t, VenueConnected, info.State)
	assert.Equal(t, "SIM", info.VenueID)

	// Connecting an already CONNECTED venue is idempotent.
	info, err = m.Connect(context.Background(), "SIM", "env:TEST")
	require.NoError(t, err)
	assert.Equal(t, VenueConnected, info.State)
	assert.Equal(t, 1, f.connects)
}

func TestConnectRequiresReadySession(t *testing.T) {
	m := NewManager(NewSession(), &stubFacade{}, time.Second)
	_, err := m.Connect(context.Background(), "SIM", "")
	require.Error(t, err)
	assert.Equal(t, fault.Session, fault.CategoryOf(err))
}

func TestConnectWhileConnecting(t *testing.T) {
	gate := make(chan struct{})
	f := &stubFacade{connectGate: gate}
	m := NewManager(readySession(t), f, time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := m.Connect(context.Background(), "SIM", "")
		done <- err
	}()

	// Wait for the first connect to hit the facade.
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.connects == 1
	}, time.Second, 5*time.Millisecond)

	_, err := m.Connect(context.Background(), "SIM", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AlreadyConnecting")

	close(gate)
	require.NoError(t, <-done)
}

func TestConnectAuthFailure(t *testing.T) {
	f := &stubFacade{connectErr: &engine.AuthFailure{VenueID: "SIM", Reason: "denied"}}
	m := NewManager(readySession(t), f, time.Second)

	_, err := m.Connect(context.Background(), "SIM", "env:BAD")
	require.Error(t, err)
	assert.Equal(t, fault.Auth, fault.CategoryOf(err))

	info, ok := m.Snapshot("SIM")
	require.True(t, ok)
	assert.Equal(t, VenueAuthFailed, info.State)

	// AUTH_FAILED permits a fresh connect with new credentials.
	f.connectErr = nil
	info, err = m.Connect(context.Background(), "SIM", "env:GOOD")
	require.NoError(t, err)
	assert.Equal(t, VenueConnected, info.State)
}

func TestDisconnectIdempotent(t *testing.T) {
	f := &stubFacade{}
	m := NewManager(readySession(t), f, time.Second)

	// Unknown venue: no-op success, no facade contact.
	require.NoError(t, m.Disconnect(context.Background(), "NOPE"))
	assert.Equal(t, 0, f.disconnects)

	_, err := m.Connect(context.Background(), "SIM", "")
	require.NoError(t, err)
	require.NoError(t, m.Disconnect(context.Background(), "SIM"))
	require.NoError(t, m.Disconnect(context.Background(), "SIM"))
	assert.Equal(t, 1, f.disconnects)
}

func TestRequireConnected(t *testing.T) {
	m := NewManager(readySession(t), &stubFacade{}, time.Second)

	_, err := m.RequireConnected("SIM")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "VenueNotConnected")
	assert.Contains(t, err.Error(), "DISCONNECTED")

	_, err = m.Connect(context.Background(), "SIM", "")
	require.NoError(t, err)
	_, err = m.RequireConnected("SIM")
	assert.NoError(t, err)
}

func TestMarkLostClosesLostSignal(t *testing.T) {
	m := NewManager(readySession(t), &stubFacade{}, time.Second)
	_, err := m.Connect(context.Background(), "SIM", "")
	require.NoError(t, err)

	lost := m.LostSignal("SIM")
	select {
	case <-lost:
		t.Fatal("lost signal fired while connected")
	default:
	}

	m.MarkLost("SIM")
	select {
	case <-lost:
	case <-time.After(time.Second):
		t.Fatal("lost signal not closed")
	}
	info, _ := m.Snapshot("SIM")
	assert.Equal(t, VenueLost, info.State)
}

func TestWatchHeartbeatsDrivesLost(t *testing.T) {
	m := NewManager(readySession(t), &stubFacade{}, time.Second)
	_, err := m.Connect(context.Background(), "SIM", "")
	require.NoError(t, err)

	beats := make(chan engine.Heartbeat)
	done := make(chan struct{})
	go func() {
		m.WatchHeartbeats("SIM", beats, 40*time.Millisecond)
		close(done)
	}()

	// Keep the venue alive past the timeout window, then go silent.
	for i := 0; i < 3; i++ {
		beats <- engine.Heartbeat{VenueID: "SIM", At: time.Now()}
		time.Sleep(20 * time.Millisecond)
	}
	info, _ := m.Snapshot("SIM")
	require.Equal(t, VenueConnected, info.State)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not exit after silence")
	}
	info, _ = m.Snapshot("SIM")
	assert.Equal(t, VenueLost, info.State)
}

func TestListOrdersVenuesSorted(t *testing.T) {
	m := NewManager(readySession(t), &stubFacade{}, time.Second)
	for _, id := range []string{"ZETA", "ALPHA", "MID"} {
		_, err := m.Connect(context.Background(), id, "")
		require.NoError(t, err)
	}
	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, "ALPHA", list[0].VenueID)
	assert.Equal(t, "MID", list[1].VenueID)
	assert.Equal(t, "ZETA", list[2].VenueID)
}
