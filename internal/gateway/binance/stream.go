package binance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"nautgate/internal/gateway/engine"
	"nautgate/internal/logger"
)

const (
	keepaliveInterval = 20 * time.Minute
	pingInterval      = 15 * time.Second
	eventBuffer       = 512
)

// Subscribe opens the user-data stream for a venue. Order updates become
// engine events; a REST ping loop doubles as the liveness signal so a dead
// transport stops producing heartbeats.
func (f *Facade) Subscribe(ctx context.Context, venueID string) (engine.Subscription, error) {
	vc, err := f.conn(venueID)
	if err != nil {
		return nil, err
	}
	listenKey, err := vc.client.NewStartUserStreamService().Do(ctx)
	if err != nil {
		return nil, mapConnectError(venueID, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &subscription{
		events: make(chan engine.Event, eventBuffer),
		beats:  make(chan engine.Heartbeat, 8),
		cancel: cancel,
	}
	sub.wg.Add(3)
	go func() {
		defer sub.wg.Done()
		f.runUserDataLoop(subCtx, vc, venueID, listenKey, sub)
	}()
	go func() {
		defer sub.wg.Done()
		f.keepaliveLoop(subCtx, vc, venueID, listenKey)
	}()
	go func() {
		defer sub.wg.Done()
		f.pingLoop(subCtx, vc, venueID, sub)
	}()
	go func() {
		sub.wg.Wait()
		close(sub.events)
		close(sub.beats)
	}()
	return sub, nil
}

type subscription struct {
	events chan engine.Event
	beats  chan engine.Heartbeat
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (s *subscription) Events() <-chan engine.Event         { return s.events }
func (s *subscription) Heartbeats() <-chan engine.Heartbeat { return s.beats }

func (s *subscription) Stop() {
	s.cancel()
}

func (f *Facade) runUserDataLoop(ctx context.Context, vc *venueConn, venueID, listenKey string, sub *subscription) {
	delay := time.Second
	key := listenKey
	for {
		if ctx.Err() != nil {
			return
		}
		handler := func(raw *futures.WsUserDataEvent) {
			ev, ok := convertUserDataEvent(venueID, raw)
			if !ok {
				return
			}
			select {
			case <-ctx.Done():
			case sub.events <- ev:
			default:
				logger.Warnf("binance: event channel full, drop %s for %s", ev.Type, ev.ClientOrderID)
			}
		}
		errHandler := func(err error) {
			if err != nil {
				logger.Warnf("binance: user stream error on %s: %v", venueID, err)
			}
		}
		doneC, stopC, err := futures.WsUserDataServe(key, handler, errHandler)
		if err != nil {
			if !sleepWithContext(ctx, delay) {
				return
			}
			delay = nextDelay(delay)
			continue
		}
		delay = time.Second
		select {
		case <-ctx.Done():
			close(stopC)
			<-doneC
			return
		case <-doneC:
		}
		close(stopC)
		logger.Warnf("binance: user stream on %s dropped, reconnecting", venueID)
		if !sleepWithContext(ctx, delay) {
			return
		}
		delay = nextDelay(delay)
		// The old listen key may have expired while we were down.
		refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		fresh, kerr := vc.client.NewStartUserStreamService().Do(refreshCtx)
		cancel()
		if kerr == nil {
			key = fresh
		}
	}
}

func (f *Facade) keepaliveLoop(ctx context.Context, vc *venueConn, venueID, listenKey string) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := vc.client.NewKeepaliveUserStreamService().ListenKey(listenKey).Do(kctx)
			cancel()
			if err != nil {
				logger.Warnf("binance: keepalive for %s failed: %v", venueID, err)
			}
		}
	}
}

func (f *Facade) pingLoop(ctx context.Context, vc *venueConn, venueID string, sub *subscription) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := vc.client.NewPingService().Do(pctx)
			cancel()
			if err != nil {
				continue
			}
			select {
			case sub.beats <- engine.Heartbeat{VenueID: venueID, At: time.Now().UTC()}:
			default:
			}
		}
	}
}

func convertUserDataEvent(venueID string, raw *futures.WsUserDataEvent) (engine.Event, bool) {
	if raw == nil || raw.Event != futures.UserDataEventTypeOrderTradeUpdate {
		return engine.Event{}, false
	}
	upd := raw.OrderTradeUpdate
	ev := engine.Event{
		VenueID:       venueID,
		ClientOrderID: upd.ClientOrderID,
		VenueOrderID:  formatOrderID(upd.ID),
		Timestamp:     time.UnixMilli(raw.Time).UTC(),
	}
	switch {
	case upd.ExecutionType == futures.OrderExecutionTypeTrade:
		ev.Type = engine.EventFill
		ev.FillQty = parseDecimal(upd.LastFilledQty)
		ev.FillPrice = parseDecimal(upd.LastFilledPrice)
	case upd.ExecutionType == futures.OrderExecutionType("AMENDMENT"):
		ev.Type = engine.EventAmendAccepted
	case upd.Status == futures.OrderStatusTypeNew:
		ev.Type = engine.EventAccepted
	case upd.Status == futures.OrderStatusTypeCanceled:
		ev.Type = engine.EventCanceled
	case upd.Status == futures.OrderStatusTypeExpired:
		ev.Type = engine.EventExpired
	case upd.Status == futures.OrderStatusTypeRejected:
		ev.Type = engine.EventRejected
		ev.Reason = "rejected by venue"
	default:
		return engine.Event{}, false
	}
	return ev, true
}

func formatOrderID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextDelay(cur time.Duration) time.Duration {
	next := cur * 2
	if next > 30*time.Second {
		next = 30 * time.Second
	}
	return next
}
