package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/common"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

type fakeVenue struct {
	klinesFn func(symbol, interval string, limit int) ([]types.Kline, error)
	priceFn  func(symbol string) (float64, error)
	riskFn   func(req types.RiskOrderRequest) error
	legs     []types.RiskOrderRequest
	calls    map[string]int
}

func newFakeVenue() *fakeVenue {
	return &fakeVenue{calls: map[string]int{}}
}

func (f *fakeVenue) klines(_ context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	f.calls["klines:"+interval]++
	return f.klinesFn(symbol, interval, limit)
}

func (f *fakeVenue) price(_ context.Context, symbol string) (float64, error) {
	f.calls["price"]++
	return f.priceFn(symbol)
}

func (f *fakeVenue) marketBuy(context.Context, string, string, string) (types.OrderReport, error) {
	return types.OrderReport{}, nil
}

func (f *fakeVenue) riskOrder(_ context.Context, req types.RiskOrderRequest, _, _ string) (types.OrderReport, error) {
	f.calls["risk_order"]++
	if f.riskFn != nil {
		if err := f.riskFn(req); err != nil {
			return types.OrderReport{}, err
		}
	}
	f.legs = append(f.legs, req)
	return types.OrderReport{Symbol: req.Symbol, Status: types.OrderStatusNew}, nil
}

// spotFakeVenue places exits as an OCO list.
type spotFakeVenue struct {
	*fakeVenue
	ocoArgs [][5]string
}

func (f *spotFakeVenue) oco(_ context.Context, symbol, qty, takeProfit, stopPrice, stopLimit string) ([]types.OrderReport, error) {
	f.ocoArgs = append(f.ocoArgs, [5]string{symbol, qty, takeProfit, stopPrice, stopLimit})
	return []types.OrderReport{
		{OrderID: 1, Symbol: symbol, Status: types.OrderStatusNew},
		{OrderID: 2, Symbol: symbol, Status: types.OrderStatusNew},
	}, nil
}

func (f *fakeVenue) orderStatus(context.Context, string, int64) (types.OrderReport, error) {
	return types.OrderReport{}, nil
}

func (f *fakeVenue) cancel(context.Context, string, int64) error { return nil }

func (f *fakeVenue) quoteBalance(context.Context, string) (float64, error) { return 0, nil }

func (f *fakeVenue) positions(context.Context) ([]types.ExchangePosition, error) { return nil, nil }

func (f *fakeVenue) openOrders(context.Context) ([]types.ExchangeOrder, error) { return nil, nil }

func (f *fakeVenue) ping(context.Context) error { return nil }

func (f *fakeVenue) prepare(context.Context, string, int) error { return nil }

func testGate(attempts int) *Gate {
	g := NewGate(time.Millisecond, attempts)
	g.minBackoff = time.Millisecond
	g.maxBackoff = 2 * time.Millisecond
	return g
}

func testClient(v venue) *Client {
	return &Client{venue: v, gate: testGate(3), log: logging.For("exchange")}
}

func bars(n int) []types.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]types.Kline, n)
	for i := range out {
		out[i] = types.Kline{OpenTime: start.Add(time.Duration(i) * time.Minute), Close: float64(100 + i)}
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limit", &common.APIError{Code: -1003, Message: "too many"}, ErrRateLimited},
		{"balance", &common.APIError{Code: -2010, Message: "insufficient"}, ErrInsufficientBalance},
		{"margin", &common.APIError{Code: -2019}, ErrInsufficientMargin},
		{"filter", &common.APIError{Code: -1013}, ErrInvalidParams},
		{"precision", &common.APIError{Code: -1111}, ErrInvalidParams},
		{"volatile", &common.APIError{Code: -1015}, ErrMarketVolatile},
		{"disconnected", &common.APIError{Code: -1001}, ErrTransient},
		{"server fault", &common.APIError{Code: 0}, ErrTransient},
		{"other", &common.APIError{Code: -2013}, ErrRejected},
		{"wrapped", fmt.Errorf("set leverage: %w", &common.APIError{Code: -2019}), ErrInsufficientMargin},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, ErrTransient},
		{"deadline", context.DeadlineExceeded, ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v)=%v, expected %v", tt.err, got, tt.want)
			}
		})
	}
	if classify(context.Canceled) != context.Canceled {
		t.Fatalf("cancellation must pass through unchanged")
	}
}

func TestGateRetriesTransient(t *testing.T) {
	g := testGate(3)
	attempts := 0
	err := g.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &common.APIError{Code: -1001}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d, expected 3", attempts)
	}
}

func TestGateStopsOnBusinessError(t *testing.T) {
	g := testGate(3)
	var hooked *APIError
	g.OnAPIError(func(op string, err *APIError) { hooked = err })

	attempts := 0
	err := g.Do(context.Background(), "market_buy", func(context.Context) error {
		attempts++
		return &common.APIError{Code: -2010, Message: "Account has insufficient balance"}
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("business error retried: %d attempts", attempts)
	}
	if hooked == nil || hooked.Code != -2010 {
		t.Fatalf("api error hook not called: %v", hooked)
	}
}

func TestGateExhaustsRetries(t *testing.T) {
	g := testGate(2)
	attempts := 0
	err := g.Do(context.Background(), "op", func(context.Context) error {
		attempts++
		return &common.APIError{Code: -1003}
	})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts=%d, expected 2", attempts)
	}
}

func TestGateHonoursCancellation(t *testing.T) {
	g := testGate(5)
	g.minBackoff = time.Second
	g.maxBackoff = time.Second
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, "op", func(context.Context) error { return &common.APIError{Code: -1001} })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestGetBars(t *testing.T) {
	v := newFakeVenue()
	c := testClient(v)

	v.klinesFn = func(string, string, int) ([]types.Kline, error) { return bars(100), nil }
	got, err := c.GetBars(context.Background(), "BTCUSDT", "15m", 100)
	if err != nil || len(got) != 100 {
		t.Fatalf("GetBars: %d bars, err %v", len(got), err)
	}

	v.klinesFn = func(string, string, int) ([]types.Kline, error) { return bars(89), nil }
	if _, err := c.GetBars(context.Background(), "BTCUSDT", "15m", 100); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}

	v.klinesFn = func(string, string, int) ([]types.Kline, error) {
		b := bars(10)
		return append(b, b[9]), nil
	}
	got, err = c.GetBars(context.Background(), "BTCUSDT", "15m", 10)
	if err != nil || len(got) != 10 {
		t.Fatalf("duplicate bar not dropped: %d bars, err %v", len(got), err)
	}
}

func TestCurrentPriceFallback(t *testing.T) {
	v := newFakeVenue()
	c := testClient(v)
	v.priceFn = func(string) (float64, error) { return 0, &common.APIError{Code: -1001} }
	v.klinesFn = func(string, string, int) ([]types.Kline, error) { return bars(1), nil }

	price, err := c.CurrentPrice(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if price != 100 {
		t.Fatalf("price=%v, expected fallback close 100", price)
	}
	if v.calls["price"] != 3 || v.calls["klines:1m"] != 1 {
		t.Fatalf("calls=%v", v.calls)
	}

	v.klinesFn = func(string, string, int) ([]types.Kline, error) { return nil, &common.APIError{Code: -1121} }
	if _, err := c.CurrentPrice(context.Background(), "BTCUSDT"); !errors.Is(err, ErrTransient) {
		t.Fatalf("expected the ticker error to surface, got %v", err)
	}
}

func TestFormatting(t *testing.T) {
	if got := formatQty(0.00123); got != "0.00123" {
		t.Errorf("formatQty=%s", got)
	}
	if got := formatSellQty(0.0012399); got != "0.00123" {
		t.Errorf("formatSellQty=%s", got)
	}
	if got := formatPrice(27123.456, 2); got != "27123.46" {
		t.Errorf("formatPrice=%s", got)
	}
	if got := Reason(-2010); got != "account balance insufficient" {
		t.Errorf("Reason=%s", got)
	}
}

func protectionRequest() types.ProtectionRequest {
	return types.ProtectionRequest{
		Symbol:     "BTCUSDT",
		Quantity:   1.498509,
		StopLoss:   95,
		StopLimit:  94.05,
		TakeProfit: 110,
		Precision:  2,
	}
}

func TestPlaceProtectionSpotUsesOneOCO(t *testing.T) {
	v := &spotFakeVenue{fakeVenue: newFakeVenue()}
	c := testClient(v)

	reports, err := c.PlaceProtection(context.Background(), protectionRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 {
		t.Fatalf("reports=%d, expected both OCO legs", len(reports))
	}
	if len(v.ocoArgs) != 1 || v.calls["risk_order"] != 0 {
		t.Fatalf("oco calls=%d, separate legs=%d", len(v.ocoArgs), v.calls["risk_order"])
	}
	want := [5]string{"BTCUSDT", "1.4985", "110.00", "95.00", "94.05"}
	if v.ocoArgs[0] != want {
		t.Fatalf("oco args=%v, expected %v", v.ocoArgs[0], want)
	}
}

func TestPlaceProtectionFuturesLegs(t *testing.T) {
	v := newFakeVenue()
	c := testClient(v)

	reports, err := c.PlaceProtection(context.Background(), protectionRequest())
	if err != nil || len(reports) != 2 {
		t.Fatalf("reports=%d err=%v", len(reports), err)
	}
	if v.legs[0].Kind != types.RiskStopLoss || v.legs[0].StopPrice != 95 ||
		v.legs[1].Kind != types.RiskTakeProfit || v.legs[1].StopPrice != 110 {
		t.Fatalf("unexpected legs: %+v", v.legs)
	}

	v = newFakeVenue()
	v.riskFn = func(req types.RiskOrderRequest) error {
		if req.Kind == types.RiskTakeProfit {
			return &common.APIError{Code: -2021, Message: "Order would immediately trigger."}
		}
		return nil
	}
	c = testClient(v)
	reports, err = c.PlaceProtection(context.Background(), protectionRequest())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected the take-profit rejection, got %v", err)
	}
	if len(reports) != 1 || v.calls["risk_order"] != 2 {
		t.Fatalf("reports=%d legs attempted=%d", len(reports), v.calls["risk_order"])
	}
}

func TestNetQuantity(t *testing.T) {
	tests := []struct {
		name     string
		executed float64
		fills    []fill
		want     float64
	}{
		{"no fills", 1.5, nil, 1.5},
		{"quote commission", 1.5, []fill{{"0.15", "USDT"}}, 1.5},
		{"base commission", 1.5, []fill{{"0.0015", "BTC"}}, 1.4985},
		{"split fills", 2, []fill{{"0.001", "BTC"}, {"0.0005", "BNB"}, {"0.001", "BTC"}}, 1.998},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := netQuantity(tt.executed, baseAsset("BTCUSDT"), tt.fills)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Fatalf("netQuantity=%v, expected %v", got, tt.want)
			}
		})
	}
}
