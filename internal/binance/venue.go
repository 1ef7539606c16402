// File: internal/binance/venue.go
// ============================================
package binance

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"xtrader/pkg/types"
)

// venue is one Binance market (spot or USDⓈ-M futures). Implementations make
// a single raw call per method; throttling and retry live in the Gate.
type venue interface {
	klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error)
	price(ctx context.Context, symbol string) (float64, error)
	marketBuy(ctx context.Context, symbol, qty, clientOrderID string) (types.OrderReport, error)
	orderStatus(ctx context.Context, symbol string, orderID int64) (types.OrderReport, error)
	cancel(ctx context.Context, symbol string, orderID int64) error
	quoteBalance(ctx context.Context, asset string) (float64, error)
	positions(ctx context.Context) ([]types.ExchangePosition, error)
	openOrders(ctx context.Context) ([]types.ExchangeOrder, error)
	ping(ctx context.Context) error
	prepare(ctx context.Context, symbol string, leverage int) error
}

// ocoPlacer places both exit legs as one order list, so they share the
// balance the first leg locks.
type ocoPlacer interface {
	oco(ctx context.Context, symbol, qty, takeProfit, stopPrice, stopLimit string) ([]types.OrderReport, error)
}

// legPlacer places each exit leg as its own order.
type legPlacer interface {
	riskOrder(ctx context.Context, req types.RiskOrderRequest, qty, stopPrice string) (types.OrderReport, error)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseKline(openTime, closeTime int64, open, high, low, cls, volume string) (types.Kline, error) {
	k := types.Kline{
		OpenTime:  time.UnixMilli(openTime).UTC(),
		CloseTime: time.UnixMilli(closeTime).UTC(),
	}
	fields := []struct {
		dst *float64
		raw string
	}{
		{&k.Open, open}, {&k.High, high}, {&k.Low, low}, {&k.Close, cls}, {&k.Volume, volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return types.Kline{}, fmt.Errorf("parse kline value %q: %w", f.raw, err)
		}
		*f.dst = v
	}
	return k, nil
}

func normalizeStatus(s string) types.OrderStatus {
	switch {
	case strings.HasPrefix(s, "EXPIRED"):
		return types.OrderStatusExpired
	default:
		return types.OrderStatus(s)
	}
}

// averagePrice derives the fill price from cumulative quote and base amounts.
func averagePrice(quote, executed string) float64 {
	q, e := parseFloat(quote), parseFloat(executed)
	if e == 0 {
		return 0
	}
	return q / e
}

// fill is the commission part of one execution.
type fill struct {
	commission      string
	commissionAsset string
}

func baseAsset(symbol string) string {
	return strings.TrimSuffix(symbol, quoteAsset)
}

// netQuantity subtracts commissions charged in the base asset from the
// executed quantity.
func netQuantity(executed float64, base string, fills []fill) float64 {
	net := executed
	for _, f := range fills {
		if f.commissionAsset == base {
			net -= parseFloat(f.commission)
		}
	}
	if net < 0 {
		return 0
	}
	return net
}
