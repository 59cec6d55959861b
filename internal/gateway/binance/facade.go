// Package binance adapts the Binance USD-M futures API to the engine facade.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"nautgate/internal/gateway/engine"
	"nautgate/internal/logger"
)

// Facade implements engine.Facade on top of go-binance. One REST client and
// one user-data stream per connected venue.
type Facade struct {
	cfg Config

	mu    sync.Mutex
	conns map[string]*venueConn
}

type venueConn struct {
	client *futures.Client

	ordersMu sync.Mutex
	orders   map[string]orderCtx
}

// orderCtx retains the submit-time intent the amend endpoint requires.
type orderCtx struct {
	symbol   string
	side     futures.SideType
	quantity decimal.Decimal
	price    decimal.Decimal
}

func New(cfg Config) (*Facade, error) {
	final := cfg.withDefaults()
	futures.UseTestnet = final.Testnet
	return &Facade{cfg: final, conns: map[string]*venueConn{}}, nil
}

// resolveCredentials turns an opaque reference into key material via the
// environment. The secret never appears in errors or logs.
func resolveCredentials(credentialsRef string) (apiKey, apiSecret string, err error) {
	prefix := strings.TrimSpace(strings.TrimPrefix(credentialsRef, "env:"))
	if prefix == "" {
		prefix = "NAUTGATE"
	}
	apiKey = strings.TrimSpace(os.Getenv(prefix + "_API_KEY"))
	apiSecret = strings.TrimSpace(os.Getenv(prefix + "_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		return "", "", fmt.Errorf("credentials ref %q resolves to empty key material", credentialsRef)
	}
	return apiKey, apiSecret, nil
}

func (f *Facade) Connect(ctx context.Context, venueID, credentialsRef string) error {
	apiKey, apiSecret, err := resolveCredentials(credentialsRef)
	if err != nil {
		return &engine.AuthFailure{VenueID: venueID, Reason: err.Error()}
	}

	client := futures.NewClient(apiKey, apiSecret)
	if f.cfg.RESTBaseURL != "" {
		client.BaseURL = f.cfg.RESTBaseURL
	}
	httpClient := &http.Client{Timeout: f.cfg.HTTPTimeout}
	if f.cfg.ProxyEnabled && f.cfg.RESTProxyURL != "" {
		proxyURL, err := url.Parse(f.cfg.RESTProxyURL)
		if err != nil {
			return fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	if f.cfg.ProxyEnabled {
		wsProxy := f.cfg.WSProxyURL
		if wsProxy == "" {
			wsProxy = f.cfg.RESTProxyURL
		}
		if wsProxy != "" {
			futures.SetWsProxyUrl(wsProxy)
		}
	}

	// Validate the key material with an authenticated call before committing.
	if _, err := client.NewGetAccountService().Do(ctx); err != nil {
		return mapConnectError(venueID, err)
	}

	f.mu.Lock()
	f.conns[venueID] = &venueConn{client: client, orders: map[string]orderCtx{}}
	f.mu.Unlock()
	logger.Infof("binance: venue %s connected", venueID)
	return nil
}

func (f *Facade) Disconnect(_ context.Context, venueID string) error {
	f.mu.Lock()
	delete(f.conns, venueID)
	f.mu.Unlock()
	return nil
}

func (f *Facade) conn(venueID string) (*venueConn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	vc, ok := f.conns[venueID]
	if !ok {
		return nil, &engine.ConnFailure{VenueID: venueID, Reason: "venue is not connected"}
	}
	return vc, nil
}

func (f *Facade) Submit(ctx context.Context, spec engine.OrderSpec) (engine.Ack, error) {
	vc, err := f.conn(spec.VenueID)
	if err != nil {
		return engine.Ack{}, err
	}
	symbol := toVenueSymbol(spec.InstrumentID)
	svc := vc.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(spec.Side)).
		Type(futures.OrderType(spec.Type)).
		Quantity(spec.Quantity.String()).
		NewClientOrderID(spec.ClientOrderID)
	if spec.Type == engine.OrderTypeLimit {
		svc = svc.TimeInForce(futures.TimeInForceType(spec.TimeInForce)).Price(spec.Price.String())
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return engine.Ack{}, mapOrderError(spec.VenueID, err)
	}

	venueOrderID := fmt.Sprintf("%d", res.OrderID)
	octx := orderCtx{symbol: symbol, side: futures.SideType(spec.Side), quantity: spec.Quantity}
	if spec.Price != nil {
		octx.price = *spec.Price
	}
	vc.ordersMu.Lock()
	vc.orders[venueOrderID] = octx
	vc.ordersMu.Unlock()

	return engine.Ack{VenueOrderID: venueOrderID, Timestamp: time.Now().UTC()}, nil
}

func (f *Facade) Cancel(ctx context.Context, venueID, venueOrderID string) error {
	vc, err := f.conn(venueID)
	if err != nil {
		return err
	}
	octx, ok := vc.order(venueOrderID)
	if !ok {
		return &engine.RejectFailure{Reason: fmt.Sprintf("order %s is not tracked on this connection", venueOrderID)}
	}
	orderID, err := parseOrderID(venueOrderID)
	if err != nil {
		return err
	}
	if _, err := vc.client.NewCancelOrderService().Symbol(octx.symbol).OrderID(orderID).Do(ctx); err != nil {
		return mapOrderError(venueID, err)
	}
	return nil
}

// Modify uses the futures amend endpoint, which takes absolute values rather
// than deltas. Fields the caller left unset resolve from the tracked intent.
func (f *Facade) Modify(ctx context.Context, venueID, venueOrderID string, delta engine.ModifyDelta) error {
	vc, err := f.conn(venueID)
	if err != nil {
		return err
	}
	octx, ok := vc.order(venueOrderID)
	if !ok {
		return &engine.RejectFailure{Reason: fmt.Sprintf("order %s is not tracked on this connection", venueOrderID)}
	}
	orderID, err := parseOrderID(venueOrderID)
	if err != nil {
		return err
	}
	quantity := octx.quantity
	if delta.Quantity != nil {
		quantity = *delta.Quantity
	}
	price := octx.price
	if delta.Price != nil {
		price = *delta.Price
	}
	if price.Sign() <= 0 {
		return &engine.RejectFailure{Reason: "amend requires a price on this venue"}
	}
	svc := vc.client.NewModifyOrderService().
		Symbol(octx.symbol).
		OrderID(orderID).
		Side(octx.side).
		Quantity(quantity.String()).
		Price(price.String())
	if _, err := svc.Do(ctx); err != nil {
		return mapOrderError(venueID, err)
	}
	vc.ordersMu.Lock()
	octx.quantity = quantity
	octx.price = price
	vc.orders[venueOrderID] = octx
	vc.ordersMu.Unlock()
	return nil
}

func (f *Facade) QueryAccount(ctx context.Context, venueID string) (engine.AccountSnapshot, error) {
	vc, err := f.conn(venueID)
	if err != nil {
		return engine.AccountSnapshot{}, err
	}
	acct, err := vc.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return engine.AccountSnapshot{}, mapOrderError(venueID, err)
	}
	snap := engine.AccountSnapshot{VenueID: venueID, At: time.Now().UTC()}
	for _, asset := range acct.Assets {
		if asset == nil {
			continue
		}
		total := parseDecimal(asset.WalletBalance)
		avail := parseDecimal(asset.AvailableBalance)
		if total.IsZero() && avail.IsZero() {
			continue
		}
		snap.Balances = append(snap.Balances, engine.Balance{
			Asset:     asset.Asset,
			Total:     total,
			Available: avail,
		})
	}
	return snap, nil
}

func (f *Facade) QueryPositions(ctx context.Context, venueID, instrumentID string) ([]engine.PositionSnapshot, error) {
	vc, err := f.conn(venueID)
	if err != nil {
		return nil, err
	}
	svc := vc.client.NewGetPositionRiskService()
	if instrumentID != "" {
		svc = svc.Symbol(toVenueSymbol(instrumentID))
	}
	risks, err := svc.Do(ctx)
	if err != nil {
		return nil, mapOrderError(venueID, err)
	}
	out := make([]engine.PositionSnapshot, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		qty := parseDecimal(r.PositionAmt)
		if qty.IsZero() {
			continue
		}
		out = append(out, engine.PositionSnapshot{
			VenueID:       venueID,
			InstrumentID:  r.Symbol,
			Quantity:      qty,
			AvgEntryPrice: parseDecimal(r.EntryPrice),
			UnrealizedPnL: parseDecimal(r.UnRealizedProfit),
		})
	}
	return out, nil
}

func (f *Facade) QueryInstruments(ctx context.Context, venueID string) ([]engine.Instrument, error) {
	vc, err := f.conn(venueID)
	if err != nil {
		return nil, err
	}
	info, err := vc.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, mapOrderError(venueID, err)
	}
	out := make([]engine.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		inst := engine.Instrument{ID: s.Symbol, Base: s.BaseAsset, Quote: s.QuoteAsset}
		if pf := s.PriceFilter(); pf != nil {
			inst.PriceStep = parseDecimal(pf.TickSize)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			inst.QtyStep = parseDecimal(lf.StepSize)
		}
		out = append(out, inst)
	}
	return out, nil
}

func (vc *venueConn) order(venueOrderID string) (orderCtx, bool) {
	vc.ordersMu.Lock()
	defer vc.ordersMu.Unlock()
	octx, ok := vc.orders[venueOrderID]
	return octx, ok
}

// Binance requires symbols without slashes (e.g. ETHUSDT).
func toVenueSymbol(instrumentID string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(instrumentID), "/", ""))
}

func parseDecimal(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}
	}
	return d
}
