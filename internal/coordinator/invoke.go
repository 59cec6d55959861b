package coordinator

import (
	"context"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"nautgate/internal/backtest"
	"nautgate/internal/fault"
	"nautgate/internal/gateway/engine"
	"nautgate/internal/ledger"
)

type opFunc func(ctx context.Context, args map[string]any) (any, error)

// Invoke is the uniform operation surface: every caller-visible operation is
// dispatched by name with loosely typed args and returns either a result or a
// classified error. No raw failure crosses this boundary.
func (c *Coordinator) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	op, ok := c.ops[name]
	if !ok {
		return nil, fault.Newf(fault.Validation, "unknown operation %q", name)
	}
	res, err := op(ctx, args)
	if err != nil {
		return nil, fault.Classify(err)
	}
	return res, nil
}

// Operations lists the registered operation names, sorted by registration.
func (c *Coordinator) Operations() []string {
	out := make([]string, 0, len(c.ops))
	for name := range c.ops {
		out = append(out, name)
	}
	return out
}

// AttachBacktest wires the backtest collaborator surface. The job service is
// opaque to the core: no shared state with the live data model.
func (c *Coordinator) AttachBacktest(svc *backtest.Service) {
	c.backtests = svc
}

func (c *Coordinator) opTable() map[string]opFunc {
	return map[string]opFunc{
		"initialize":      c.opInitialize,
		"connectVenue":    c.opConnectVenue,
		"disconnectVenue": c.opDisconnectVenue,
		"submitOrder":     c.opSubmitOrder,
		"cancelOrder":     c.opCancelOrder,
		"modifyOrder":     c.opModifyOrder,
		"getOrder":        c.opGetOrder,
		"listOrders":      c.opListOrders,
		"getAccountInfo":  c.opGetAccountInfo,
		"getPositions":    c.opGetPositions,
		"getInstruments":  c.opGetInstruments,
		"backtestSubmit":  c.opBacktestSubmit,
		"backtestPoll":    c.opBacktestPoll,
	}
}

// decode maps loosely typed args onto a request struct. Numbers arriving as
// floats or strings are both accepted, mirroring how callers serialize.
func decode(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fault.Wrap(fault.System, err, "internal error")
	}
	if err := dec.Decode(args); err != nil {
		return fault.Wrap(fault.Validation, err, "malformed arguments: "+err.Error())
	}
	return nil
}

func (c *Coordinator) opInitialize(ctx context.Context, args map[string]any) (any, error) {
	return c.Initialize(ctx, args)
}

func (c *Coordinator) opConnectVenue(ctx context.Context, args map[string]any) (any, error) {
	var req struct {
		VenueID        string `json:"venue_id"`
		CredentialsRef string `json:"credentials_ref"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	info, err := c.ConnectVenue(ctx, req.VenueID, req.CredentialsRef)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"venue_id": info.VenueID,
		"state":    info.State.String(),
	}, nil
}

func (c *Coordinator) opDisconnectVenue(ctx context.Context, args map[string]any) (any, error) {
	var req struct {
		VenueID string `json:"venue_id"`
	}
	if err := decode(args, &req); err != nil {
		return nil, err
	}
	if err := c.DisconnectVenue(ctx, req.VenueID); err != nil {
		return nil, err
	}
	return map[string]any{"venue_id": req.VenueID, "state": "DISCONNECTED"}, nil
}

type submitArgs struct {
	ClientOrderID string  `json:"client_order_id"`
	VenueID       string  `json:"venue_id"`
	InstrumentID  string  `json:"instrument_id"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      string  `json:"quantity"`
	Price         string  `json:"price"`
	TimeInForce   string  `json:"time_in_force"`
	TimeoutSec    float64 `json:"timeout_sec"`
}

func (c *Coordinator) opSubmitOrder(ctx context.Context, args map[string]any) (any, error) {
	var a submitArgs
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	order, err := c.SubmitOrder(ctx, SubmitRequest{
		ClientOrderID: a.ClientOrderID,
		VenueID:       a.VenueID,
		InstrumentID:  a.InstrumentID,
		Side:          engine.Side(a.Side),
		Type:          engine.OrderType(a.Type),
		Quantity:      a.Quantity,
		Price:         a.Price,
		TimeInForce:   engine.TimeInForce(a.TimeInForce),
		Timeout:       secondsToDuration(a.TimeoutSec),
	})
	if err != nil {
		return nil, err
	}
	return orderPayload(order), nil
}

func (c *Coordinator) opCancelOrder(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		ClientOrderID string  `json:"client_order_id"`
		TimeoutSec    float64 `json:"timeout_sec"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	order, err := c.CancelOrder(ctx, a.ClientOrderID, secondsToDuration(a.TimeoutSec))
	if err != nil {
		return nil, err
	}
	return orderPayload(order), nil
}

func (c *Coordinator) opModifyOrder(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		ClientOrderID string  `json:"client_order_id"`
		Quantity      string  `json:"quantity"`
		Price         string  `json:"price"`
		TimeoutSec    float64 `json:"timeout_sec"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	order, err := c.ModifyOrder(ctx, ModifyRequest{
		ClientOrderID: a.ClientOrderID,
		Quantity:      a.Quantity,
		Price:         a.Price,
		Timeout:       secondsToDuration(a.TimeoutSec),
	})
	if err != nil {
		return nil, err
	}
	return orderPayload(order), nil
}

func (c *Coordinator) opGetOrder(_ context.Context, args map[string]any) (any, error) {
	var a struct {
		ClientOrderID string `json:"client_order_id"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	order, err := c.GetOrder(a.ClientOrderID)
	if err != nil {
		return nil, err
	}
	return orderPayload(order), nil
}

func (c *Coordinator) opListOrders(_ context.Context, args map[string]any) (any, error) {
	var a struct {
		VenueID      string `json:"venue_id"`
		InstrumentID string `json:"instrument_id"`
		State        string `json:"state"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	f := ledger.Filter{VenueID: a.VenueID, InstrumentID: a.InstrumentID}
	if a.State != "" {
		state, ok := parseOrderState(a.State)
		if !ok {
			return nil, fault.Newf(fault.Validation, "unknown order state %q", a.State)
		}
		f.State = &state
	}
	orders, err := c.ListOrders(f)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(orders))
	for _, o := range orders {
		payload = append(payload, orderPayload(o))
	}
	return map[string]any{"orders": payload}, nil
}

func (c *Coordinator) opGetAccountInfo(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		VenueID string `json:"venue_id"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	snap, err := c.GetAccountInfo(ctx, a.VenueID)
	if err != nil {
		return nil, err
	}
	balances := make([]map[string]any, 0, len(snap.Balances))
	for _, b := range snap.Balances {
		balances = append(balances, map[string]any{
			"asset":     b.Asset,
			"total":     b.Total.String(),
			"available": b.Available.String(),
		})
	}
	return map[string]any{"venue_id": snap.VenueID, "balances": balances}, nil
}

func (c *Coordinator) opGetPositions(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		VenueID      string `json:"venue_id"`
		InstrumentID string `json:"instrument_id"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	positions, err := c.GetPositions(ctx, a.VenueID, a.InstrumentID)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(positions))
	for _, p := range positions {
		payload = append(payload, map[string]any{
			"instrument_id":   p.InstrumentID,
			"quantity":        p.Quantity.String(),
			"avg_entry_price": p.AvgEntryPrice.String(),
			"unrealized_pnl":  p.UnrealizedPnL.String(),
			"realized_pnl":    p.RealizedPnL.String(),
		})
	}
	return map[string]any{"positions": payload}, nil
}

func (c *Coordinator) opGetInstruments(ctx context.Context, args map[string]any) (any, error) {
	var a struct {
		VenueID string `json:"venue_id"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	instruments, err := c.GetInstruments(ctx, a.VenueID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(instruments))
	for _, in := range instruments {
		ids = append(ids, in.ID)
	}
	return map[string]any{"instruments": ids}, nil
}

func (c *Coordinator) opBacktestSubmit(ctx context.Context, args map[string]any) (any, error) {
	if c.backtests == nil {
		return nil, fault.New(fault.Validation, "backtesting is not enabled")
	}
	jobID, err := c.backtests.SubmitJob(ctx, args)
	if err != nil {
		return nil, err
	}
	return map[string]any{"job_id": jobID}, nil
}

func (c *Coordinator) opBacktestPoll(ctx context.Context, args map[string]any) (any, error) {
	if c.backtests == nil {
		return nil, fault.New(fault.Validation, "backtesting is not enabled")
	}
	var a struct {
		JobID string `json:"job_id"`
	}
	if err := decode(args, &a); err != nil {
		return nil, err
	}
	job, err := c.backtests.PollJob(ctx, a.JobID)
	if err != nil {
		return nil, err
	}
	return job, nil
}

func orderPayload(o ledger.Order) map[string]any {
	payload := map[string]any{
		"client_order_id": o.ClientOrderID,
		"venue_id":        o.VenueID,
		"instrument_id":   o.InstrumentID,
		"side":            string(o.Side),
		"type":            string(o.Type),
		"quantity":        o.Quantity.String(),
		"time_in_force":   string(o.TimeInForce),
		"state":           o.State.String(),
		"filled_qty":      o.FilledQty.String(),
		"created_at":      o.CreatedAt,
		"updated_at":      o.LastUpdatedAt,
	}
	if o.VenueOrderID != "" {
		payload["venue_order_id"] = o.VenueOrderID
	}
	if o.Price != nil {
		payload["price"] = o.Price.String()
	}
	if o.AvgFillPrice.Sign() > 0 {
		payload["avg_fill_price"] = o.AvgFillPrice.String()
	}
	if o.RejectReason != "" {
		payload["reject_reason"] = o.RejectReason
	}
	if len(o.Amends) > 0 {
		payload["amends"] = o.Amends
	}
	return payload
}

func parseOrderState(s string) (ledger.OrderState, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NEW":
		return ledger.StateNew, true
	case "PENDING_SUBMIT":
		return ledger.StatePendingSubmit, true
	case "WORKING":
		return ledger.StateWorking, true
	case "PARTIALLY_FILLED":
		return ledger.StatePartiallyFilled, true
	case "PENDING_CANCEL":
		return ledger.StatePendingCancel, true
	case "PENDING_MODIFY":
		return ledger.StatePendingModify, true
	case "FILLED":
		return ledger.StateFilled, true
	case "CANCELED":
		return ledger.StateCanceled, true
	case "REJECTED":
		return ledger.StateRejected, true
	case "EXPIRED":
		return ledger.StateExpired, true
	default:
		return 0, false
	}
}

func parsePositiveDecimal(raw, field string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Decimal{}, fault.Newf(fault.Validation, "%s must not be empty", field)
	}
	val, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, fault.Newf(fault.Validation, "%s is not a valid number: %q", field, raw)
	}
	if val.Sign() <= 0 {
		return decimal.Decimal{}, fault.Newf(fault.Validation, "%s must be positive, got %s", field, val)
	}
	return val, nil
}

func secondsToDuration(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}
