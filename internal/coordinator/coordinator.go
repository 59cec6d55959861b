// Package coordinator serializes every externally visible operation against
// the shared engine facade. It owns session gating, per-order exclusivity and
// the event pump that feeds the ledger.
package coordinator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"nautgate/internal/backtest"
	"nautgate/internal/fault"
	"nautgate/internal/gateway/engine"
	"nautgate/internal/ledger"
	"nautgate/internal/logger"
	"nautgate/internal/pkg/circuit"
	"nautgate/internal/session"
)

// Options tune call behavior; zero values fall back to defaults.
type Options struct {
	DefaultTimeout   time.Duration
	HeartbeatTimeout time.Duration
	BreakerThreshold int
	BreakerCooloff   time.Duration
}

func (o *Options) fill() {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 10 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 30 * time.Second
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerCooloff <= 0 {
		o.BreakerCooloff = time.Minute
	}
}

// Coordinator is the single synchronization point between concurrent callers
// and the engine facade. The facade handle is injected at construction so
// tests substitute a fake.
type Coordinator struct {
	opts    Options
	facade  engine.Facade
	sess    *session.Session
	venues  *session.Manager
	orders  *ledger.Ledger
	initSF  singleflight.Group
	busy    busySet
	ops     map[string]opFunc

	// backtests is the opaque job-submission collaborator; nil disables the
	// backtest operations.
	backtests *backtest.Service

	breakerMu sync.Mutex
	breakers  map[string]*circuit.Breaker

	subMu sync.Mutex
	subs  map[string]engine.Subscription
	wg    sync.WaitGroup
}

func New(facade engine.Facade, sess *session.Session, venues *session.Manager, orders *ledger.Ledger, opts Options) *Coordinator {
	opts.fill()
	c := &Coordinator{
		opts:     opts,
		facade:   facade,
		sess:     sess,
		venues:   venues,
		orders:   orders,
		busy:     busySet{held: make(map[string]struct{})},
		breakers: make(map[string]*circuit.Breaker),
		subs:     make(map[string]engine.Subscription),
	}
	c.ops = c.opTable()
	return c
}

// SessionInfo is the initialize/"where am I" projection.
type SessionInfo struct {
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	LastError string    `json:"last_error,omitempty"`
}

func (c *Coordinator) sessionInfo() SessionInfo {
	info := SessionInfo{
		State:     c.sess.State().String(),
		CreatedAt: c.sess.CreatedAt(),
	}
	if err := c.sess.LastError(); err != nil {
		info.LastError = fault.Classify(err).Message
	}
	return info
}

// Initialize is one-shot and mutually exclusive: concurrent attempts collapse
// via singleflight and all callers observe the same result. Initializing an
// already READY session is a no-op success, matching idempotent retries.
func (c *Coordinator) Initialize(ctx context.Context, config map[string]any) (SessionInfo, error) {
	res, err, _ := c.initSF.Do("initialize", func() (any, error) {
		if c.sess.State() == session.StateReady {
			return c.sessionInfo(), nil
		}
		if err := validateInitConfig(config); err != nil {
			return nil, err
		}
		if err := c.sess.BeginInitialize(); err != nil {
			return nil, err
		}
		// The facade handle is constructed with the process; initialize only
		// commits the lifecycle gate once the config is accepted.
		if err := c.sess.MarkReady(); err != nil {
			c.sess.Fail(err)
			return nil, err
		}
		logger.Infof("coordinator: session initialized")
		return c.sessionInfo(), nil
	})
	if err != nil {
		return SessionInfo{}, fault.Classify(err)
	}
	return res.(SessionInfo), nil
}

// Shutdown moves the session to SHUTTING_DOWN and tears down every venue
// connection and subscription.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.sess.BeginShutdown(); err != nil {
		return fault.Classify(err)
	}
	for _, v := range c.venues.List() {
		c.stopPump(v.VenueID)
		if err := c.venues.Disconnect(ctx, v.VenueID); err != nil {
			logger.Warnf("coordinator: disconnect %s during shutdown: %v", v.VenueID, err)
		}
	}
	c.wg.Wait()
	logger.Infof("coordinator: shutdown complete")
	return nil
}

// ConnectVenue connects the venue and starts its event pump and heartbeat
// watch. Reconnect replaces the previous subscription without leaking it.
func (c *Coordinator) ConnectVenue(ctx context.Context, venueID, credentialsRef string) (session.VenueInfo, error) {
	info, err := c.venues.Connect(ctx, venueID, credentialsRef)
	if err != nil {
		return session.VenueInfo{}, fault.Classify(err)
	}
	if err := c.startPump(ctx, venueID); err != nil {
		// The venue is connected but unobservable; surface the failure.
		return session.VenueInfo{}, fault.Classify(err)
	}
	return info, nil
}

// DisconnectVenue is idempotent: disconnecting an already disconnected venue
// succeeds.
func (c *Coordinator) DisconnectVenue(ctx context.Context, venueID string) error {
	if err := c.sess.Require(); err != nil {
		return err
	}
	c.stopPump(venueID)
	if err := c.venues.Disconnect(ctx, venueID); err != nil {
		return fault.Classify(err)
	}
	return nil
}

func (c *Coordinator) startPump(ctx context.Context, venueID string) error {
	c.stopPump(venueID)
	sub, err := c.facade.Subscribe(ctx, venueID)
	if err != nil {
		return err
	}
	c.subMu.Lock()
	c.subs[venueID] = sub
	c.subMu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.pumpEvents(venueID, sub.Events())
	}()
	go func() {
		defer c.wg.Done()
		c.venues.WatchHeartbeats(venueID, sub.Heartbeats(), c.opts.HeartbeatTimeout)
	}()
	return nil
}

func (c *Coordinator) stopPump(venueID string) {
	c.subMu.Lock()
	sub, ok := c.subs[venueID]
	if ok {
		delete(c.subs, venueID)
	}
	c.subMu.Unlock()
	if ok {
		sub.Stop()
	}
}

// pumpEvents applies engine events to the ledger in arrival order. Unknown
// orders and invariant violations are logged and dropped, never fatal to the
// pump.
func (c *Coordinator) pumpEvents(venueID string, events <-chan engine.Event) {
	for ev := range events {
		if _, err := c.orders.Apply(ev); err != nil {
			classified := fault.Classify(err)
			if classified.Category == fault.System {
				logger.Errorf("coordinator: event %s on %s violated an invariant: %v", ev.Type, venueID, err)
			} else {
				logger.Warnf("coordinator: dropping event %s on %s: %v", ev.Type, venueID, err)
			}
		}
	}
}

func (c *Coordinator) breaker(venueID string) *circuit.Breaker {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()
	b, ok := c.breakers[venueID]
	if !ok {
		b = circuit.NewBreaker("venue:"+venueID, c.opts.BreakerThreshold, c.opts.BreakerCooloff)
		c.breakers[venueID] = b
	}
	return b
}

// facadeCall runs one facade round-trip with the per-call timeout and the
// venue-lost guard. No ledger or session lock is held across the call; the
// caller reacquires state to commit afterwards.
func (c *Coordinator) facadeCall(ctx context.Context, venueID string, timeout time.Duration, fn func(context.Context) error) error {
	br := c.breaker(venueID)
	if !br.Allow() {
		return fault.Newf(fault.Connection, "venue %s circuit open, retry later", venueID)
	}
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	lost := c.venues.LostSignal(venueID)
	errCh := make(chan error, 1)
	go func() { errCh <- fn(cctx) }()

	select {
	case err := <-errCh:
		classified := fault.Classify(err)
		if err == nil {
			br.RecordSuccess()
			return nil
		}
		switch classified.Category {
		case fault.Connection, fault.Timeout:
			br.RecordFailure()
		default:
			// The venue answered; a trading reject is a healthy connection.
			br.RecordSuccess()
		}
		return classified
	case <-lost:
		cancel()
		br.RecordFailure()
		return fault.Newf(fault.Connection, "ConnectionLost: venue %s connection lost mid-operation", venueID)
	}
}

// SubmitRequest is a validated submit intent.
type SubmitRequest struct {
	ClientOrderID string
	VenueID       string
	InstrumentID  string
	Side          engine.Side
	Type          engine.OrderType
	Quantity      string
	Price         string
	TimeInForce   engine.TimeInForce
	Timeout       time.Duration
}

// SubmitOrder registers the order (idempotently), then submits it to the
// engine. The returned order is PENDING_SUBMIT on success; lifecycle progress
// arrives via the event stream. A timed-out submit leaves the order NEW, so
// retrying with the same client order id is safe.
func (c *Coordinator) SubmitOrder(ctx context.Context, req SubmitRequest) (ledger.Order, error) {
	if err := c.sess.Require(); err != nil {
		return ledger.Order{}, err
	}
	spec, err := buildSpec(req)
	if err != nil {
		return ledger.Order{}, err
	}
	if _, err := c.venues.RequireConnected(spec.VenueID); err != nil {
		return ledger.Order{}, err
	}

	order, created, err := c.orders.Register(spec)
	if err != nil {
		return ledger.Order{}, err
	}
	if !created && order.State != ledger.StateNew {
		// Idempotent retry of a submit that already reached the engine.
		return order, nil
	}

	if err := c.busy.acquire(spec.ClientOrderID); err != nil {
		return ledger.Order{}, err
	}
	defer c.busy.release(spec.ClientOrderID)

	var ack engine.Ack
	err = c.facadeCall(ctx, spec.VenueID, req.Timeout, func(cctx context.Context) error {
		var ferr error
		ack, ferr = c.facade.Submit(cctx, spec)
		return ferr
	})
	if err != nil {
		classified := fault.Classify(err)
		if classified.Category == fault.Trading {
			// Synchronous engine refusal terminates the order.
			if _, aerr := c.orders.Apply(engine.Event{
				Type:          engine.EventRejected,
				VenueID:       spec.VenueID,
				ClientOrderID: spec.ClientOrderID,
				Reason:        classified.Message,
				Timestamp:     time.Now(),
			}); aerr != nil {
				logger.Warnf("coordinator: recording sync reject for %s: %v", spec.ClientOrderID, aerr)
			}
		}
		// Timeout and connection failures leave the order in its last
		// committed state (NEW); the caller may retry with the same id.
		return ledger.Order{}, classified
	}

	committed, err := c.orders.CommitSubmit(spec.ClientOrderID, ack.VenueOrderID)
	if err != nil {
		return ledger.Order{}, fault.Classify(err)
	}
	return committed, nil
}

// CancelOrder requests cancellation. Terminal orders fail with
// OrderNotCancelable before any facade contact; a timed-out cancel leaves the
// order untouched and the caller must re-query before retrying, since the
// engine may have canceled anyway.
func (c *Coordinator) CancelOrder(ctx context.Context, clientOrderID string, timeout time.Duration) (ledger.Order, error) {
	if err := c.sess.Require(); err != nil {
		return ledger.Order{}, err
	}
	order, err := c.orders.CheckCancelable(clientOrderID)
	if err != nil {
		return ledger.Order{}, err
	}
	if _, err := c.venues.RequireConnected(order.VenueID); err != nil {
		return ledger.Order{}, err
	}

	if err := c.busy.acquire(clientOrderID); err != nil {
		return ledger.Order{}, err
	}
	defer c.busy.release(clientOrderID)

	// Revalidate under exclusivity: an event may have terminated the order
	// while we awaited the busy slot.
	order, err = c.orders.CheckCancelable(clientOrderID)
	if err != nil {
		return ledger.Order{}, err
	}

	err = c.facadeCall(ctx, order.VenueID, timeout, func(cctx context.Context) error {
		return c.facade.Cancel(cctx, order.VenueID, order.VenueOrderID)
	})
	if err != nil {
		return ledger.Order{}, fault.Classify(err)
	}

	committed, err := c.orders.CommitCancelRequested(clientOrderID)
	if err != nil {
		return ledger.Order{}, fault.Classify(err)
	}
	return committed, nil
}

// ModifyRequest carries an amend; at least one field must be set.
type ModifyRequest struct {
	ClientOrderID string
	Quantity      string
	Price         string
	Timeout       time.Duration
}

// ModifyOrder requests an amend. The client order id is preserved across the
// amend; rejection restores the prior state with the reject reason recorded.
func (c *Coordinator) ModifyOrder(ctx context.Context, req ModifyRequest) (ledger.Order, error) {
	if err := c.sess.Require(); err != nil {
		return ledger.Order{}, err
	}
	delta, err := buildDelta(req)
	if err != nil {
		return ledger.Order{}, err
	}
	order, err := c.orders.CheckModifiable(req.ClientOrderID)
	if err != nil {
		return ledger.Order{}, err
	}
	if _, err := c.venues.RequireConnected(order.VenueID); err != nil {
		return ledger.Order{}, err
	}

	if err := c.busy.acquire(req.ClientOrderID); err != nil {
		return ledger.Order{}, err
	}
	defer c.busy.release(req.ClientOrderID)

	order, err = c.orders.CheckModifiable(req.ClientOrderID)
	if err != nil {
		return ledger.Order{}, err
	}

	err = c.facadeCall(ctx, order.VenueID, req.Timeout, func(cctx context.Context) error {
		return c.facade.Modify(cctx, order.VenueID, order.VenueOrderID, delta)
	})
	if err != nil {
		return ledger.Order{}, fault.Classify(err)
	}

	committed, err := c.orders.CommitModifyRequested(req.ClientOrderID, delta)
	if err != nil {
		return ledger.Order{}, fault.Classify(err)
	}
	return committed, nil
}

// PurgeOrders drops in-memory terminal orders older than the horizon.
// Persisted rows are untouched.
func (c *Coordinator) PurgeOrders(horizon time.Duration) int {
	return c.orders.Purge(horizon)
}

// GetOrder resolves either identifier.
func (c *Coordinator) GetOrder(clientOrderID string) (ledger.Order, error) {
	if err := c.sess.Require(); err != nil {
		return ledger.Order{}, err
	}
	o, ok := c.orders.Find(clientOrderID)
	if !ok {
		return ledger.Order{}, fault.Newf(fault.Validation, "UnknownOrder: %s is not tracked in this session", clientOrderID)
	}
	return o, nil
}

// ListOrders returns the filtered ledger view, createdAt ascending.
func (c *Coordinator) ListOrders(f ledger.Filter) ([]ledger.Order, error) {
	if err := c.sess.Require(); err != nil {
		return nil, err
	}
	return c.orders.List(f), nil
}

// GetAccountInfo fetches a request-scoped account projection from the engine.
func (c *Coordinator) GetAccountInfo(ctx context.Context, venueID string) (engine.AccountSnapshot, error) {
	if err := c.sess.Require(); err != nil {
		return engine.AccountSnapshot{}, err
	}
	if _, err := c.venues.RequireConnected(venueID); err != nil {
		return engine.AccountSnapshot{}, err
	}
	var snap engine.AccountSnapshot
	err := c.facadeCall(ctx, venueID, 0, func(cctx context.Context) error {
		var ferr error
		snap, ferr = c.facade.QueryAccount(cctx, venueID)
		return ferr
	})
	if err != nil {
		return engine.AccountSnapshot{}, fault.Classify(err)
	}
	return snap, nil
}

// GetPositions fetches request-scoped positions, optionally filtered by
// instrument.
func (c *Coordinator) GetPositions(ctx context.Context, venueID, instrumentID string) ([]engine.PositionSnapshot, error) {
	if err := c.sess.Require(); err != nil {
		return nil, err
	}
	if _, err := c.venues.RequireConnected(venueID); err != nil {
		return nil, err
	}
	var out []engine.PositionSnapshot
	err := c.facadeCall(ctx, venueID, 0, func(cctx context.Context) error {
		var ferr error
		out, ferr = c.facade.QueryPositions(cctx, venueID, instrumentID)
		return ferr
	})
	if err != nil {
		return nil, fault.Classify(err)
	}
	return out, nil
}

// GetInstruments lists the venue's tradable instruments.
func (c *Coordinator) GetInstruments(ctx context.Context, venueID string) ([]engine.Instrument, error) {
	if err := c.sess.Require(); err != nil {
		return nil, err
	}
	if _, err := c.venues.RequireConnected(venueID); err != nil {
		return nil, err
	}
	var out []engine.Instrument
	err := c.facadeCall(ctx, venueID, 0, func(cctx context.Context) error {
		var ferr error
		out, ferr = c.facade.QueryInstruments(cctx, venueID)
		return ferr
	})
	if err != nil {
		return nil, fault.Classify(err)
	}
	return out, nil
}

// busySet enforces at most one in-flight mutating operation per client order
// id. A second request observes OrderBusy instead of queuing silently.
type busySet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func (b *busySet) acquire(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.held[id]; ok {
		return fault.Newf(fault.OrderBusy, "order %s has a mutating operation in flight", id)
	}
	b.held[id] = struct{}{}
	return nil
}

func (b *busySet) release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.held, id)
}

func buildSpec(req SubmitRequest) (engine.OrderSpec, error) {
	if strings.TrimSpace(req.VenueID) == "" {
		return engine.OrderSpec{}, fault.New(fault.Validation, "venueId must not be empty")
	}
	if strings.TrimSpace(req.InstrumentID) == "" {
		return engine.OrderSpec{}, fault.New(fault.Validation, "instrumentId must not be empty")
	}
	side := engine.Side(strings.ToUpper(string(req.Side)))
	if side != engine.SideBuy && side != engine.SideSell {
		return engine.OrderSpec{}, fault.Newf(fault.Validation, "side must be BUY or SELL, got %q", req.Side)
	}
	qty, err := parsePositiveDecimal(req.Quantity, "quantity")
	if err != nil {
		return engine.OrderSpec{}, err
	}

	orderType := engine.OrderType(strings.ToUpper(string(req.Type)))
	if orderType == "" {
		if req.Price != "" {
			orderType = engine.OrderTypeLimit
		} else {
			orderType = engine.OrderTypeMarket
		}
	}
	spec := engine.OrderSpec{
		ClientOrderID: req.ClientOrderID,
		VenueID:       req.VenueID,
		InstrumentID:  req.InstrumentID,
		Side:          side,
		Type:          orderType,
		Quantity:      qty,
		TimeInForce:   req.TimeInForce,
	}
	switch orderType {
	case engine.OrderTypeLimit:
		price, err := parsePositiveDecimal(req.Price, "price")
		if err != nil {
			return engine.OrderSpec{}, err
		}
		spec.Price = &price
	case engine.OrderTypeMarket:
		if req.Price != "" {
			return engine.OrderSpec{}, fault.New(fault.Validation, "market orders must not carry a price")
		}
	default:
		return engine.OrderSpec{}, fault.Newf(fault.Validation, "order type must be MARKET or LIMIT, got %q", req.Type)
	}

	switch spec.TimeInForce {
	case "":
		spec.TimeInForce = engine.TimeInForceGTC
	case engine.TimeInForceGTC, engine.TimeInForceIOC, engine.TimeInForceFOK:
	default:
		return engine.OrderSpec{}, fault.Newf(fault.Validation, "timeInForce must be GTC, IOC or FOK, got %q", spec.TimeInForce)
	}

	if spec.ClientOrderID == "" {
		spec.ClientOrderID = generateClientOrderID(spec.InstrumentID)
	}
	return spec, nil
}

func buildDelta(req ModifyRequest) (engine.ModifyDelta, error) {
	if req.ClientOrderID == "" {
		return engine.ModifyDelta{}, fault.New(fault.Validation, "clientOrderId must not be empty")
	}
	var delta engine.ModifyDelta
	if req.Quantity != "" {
		qty, err := parsePositiveDecimal(req.Quantity, "quantity")
		if err != nil {
			return engine.ModifyDelta{}, err
		}
		delta.Quantity = &qty
	}
	if req.Price != "" {
		price, err := parsePositiveDecimal(req.Price, "price")
		if err != nil {
			return engine.ModifyDelta{}, err
		}
		delta.Price = &price
	}
	if delta.Quantity == nil && delta.Price == nil {
		return engine.ModifyDelta{}, fault.New(fault.Validation, "modify requires a new price or quantity")
	}
	return delta, nil
}

// generateClientOrderID builds a session-unique id when the caller supplied
// none. The instrument symbol keeps generated ids readable in venue UIs.
func generateClientOrderID(instrumentID string) string {
	symbol := instrumentID
	if i := strings.IndexByte(symbol, '.'); i > 0 {
		symbol = symbol[:i]
	}
	return fmt.Sprintf("ng-%s-%s", symbol, uuid.NewString()[:8])
}
