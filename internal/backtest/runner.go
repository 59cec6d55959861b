package backtest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"nautgate/internal/fault"
)

// ReplayRunner executes a job against recorded candle data on disk. One JSON
// file per instrument under the data directory, candles in time order.
type ReplayRunner struct {
	dataDir string
}

func NewReplayRunner(dataDir string) *ReplayRunner {
	return &ReplayRunner{dataDir: dataDir}
}

func (r *ReplayRunner) Run(ctx context.Context, spec map[string]any) (map[string]any, error) {
	instrument, _ := spec["instrument_id"].(string)
	instrument = strings.TrimSpace(instrument)
	if instrument == "" {
		return nil, fault.New(fault.Validation, "backtest spec requires instrument_id")
	}
	quantity := decimal.NewFromInt(1)
	if raw, ok := spec["quantity"].(string); ok && strings.TrimSpace(raw) != "" {
		q, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || q.Sign() <= 0 {
			return nil, fault.Newf(fault.Validation, "quantity is not a positive number: %q", raw)
		}
		quantity = q
	}

	path := filepath.Join(r.dataDir, sanitizeInstrument(instrument)+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, err, fmt.Sprintf("no recorded data for instrument %s", instrument))
	}
	candles := gjson.GetBytes(raw, "candles").Array()
	if len(candles) == 0 {
		return nil, fault.Newf(fault.Validation, "data file for %s has no candles", instrument)
	}

	var first, last, high, low decimal.Decimal
	for i, c := range candles {
		if i%256 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		close, err := decimal.NewFromString(defaultNum(c.Get("close").String()))
		if err != nil {
			return nil, fault.Newf(fault.Validation, "data file for %s has a malformed close at index %d", instrument, i)
		}
		if i == 0 {
			first, high, low = close, close, close
		}
		if close.GreaterThan(high) {
			high = close
		}
		if close.LessThan(low) {
			low = close
		}
		last = close
	}

	pnl := last.Sub(first).Mul(quantity)
	return map[string]any{
		"instrument_id": instrument,
		"candles":       len(candles),
		"first_close":   first.String(),
		"last_close":    last.String(),
		"high":          high.String(),
		"low":           low.String(),
		"quantity":      quantity.String(),
		"hold_pnl":      pnl.String(),
	}, nil
}

func sanitizeInstrument(id string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(id), "/", ""))
}

func defaultNum(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}
