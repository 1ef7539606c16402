// File: internal/binance/client.go
// ============================================
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/pkg/types"
)

const (
	quoteAsset       = "USDT"
	fallbackInterval = "1m"
	minBarsShare     = 0.9
	qtyDecimals      = 5
)

// Client is the exchange gateway used by every other component. All calls
// pass through a single Gate.
type Client struct {
	venue   venue
	gate    *Gate
	futures bool
	log     *logrus.Entry
}

func NewClient(cfg *types.Config) *Client {
	httpClient := &http.Client{Timeout: cfg.Safety.APITimeout}
	var v venue
	if cfg.IsFutures() {
		v = newFuturesVenue(cfg.API.APIKey, cfg.API.APISecret, cfg.API.Testnet, httpClient)
	} else {
		v = newSpotVenue(cfg.API.APIKey, cfg.API.APISecret, cfg.API.Testnet, httpClient)
	}
	return &Client{
		venue:   v,
		gate:    NewGate(cfg.Safety.MinCallSpacing, cfg.Safety.APIRetries),
		futures: cfg.IsFutures(),
		log:     logging.For("exchange"),
	}
}

// OnAPIError forwards exchange rejections, for operator alerts.
func (c *Client) OnAPIError(fn func(op string, err *APIError)) {
	c.gate.OnAPIError(fn)
}

func (c *Client) IsFutures() bool {
	return c.futures
}

// GetBars fetches recent klines oldest first. Fewer than 90% of the
// requested bars is reported as ErrInsufficientData.
func (c *Client) GetBars(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	var raw []types.Kline
	err := c.gate.Do(ctx, "klines", func(ctx context.Context) error {
		var err error
		raw, err = c.venue.klines(ctx, symbol, interval, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get klines for %s: %w", symbol, err)
	}

	bars := make([]types.Kline, 0, len(raw))
	for _, k := range raw {
		if n := len(bars); n > 0 && !k.OpenTime.After(bars[n-1].OpenTime) {
			continue
		}
		bars = append(bars, k)
	}
	if float64(len(bars)) < minBarsShare*float64(limit) {
		return nil, fmt.Errorf("%w: %s returned %d of %d bars", ErrInsufficientData, symbol, len(bars), limit)
	}
	return bars, nil
}

// CurrentPrice returns the last trade price, falling back to the latest
// one-minute close when the ticker endpoint keeps failing.
func (c *Client) CurrentPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := c.gate.Do(ctx, "price", func(ctx context.Context) error {
		var err error
		price, err = c.venue.price(ctx, symbol)
		return err
	})
	if err == nil && price > 0 {
		return price, nil
	}

	var bars []types.Kline
	fbErr := c.gate.Do(ctx, "price_fallback", func(ctx context.Context) error {
		var err error
		bars, err = c.venue.klines(ctx, symbol, fallbackInterval, 1)
		return err
	})
	if fbErr != nil || len(bars) == 0 {
		if err == nil {
			err = fmt.Errorf("zero price for %s", symbol)
		}
		return 0, fmt.Errorf("failed to get price for %s: %w", symbol, err)
	}
	c.log.WithField("symbol", symbol).Warn("⚠️  price ticker unavailable, using last 1m close")
	return bars[len(bars)-1].Close, nil
}

func (c *Client) QuoteBalance(ctx context.Context) (float64, error) {
	var balance float64
	err := c.gate.Do(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = c.venue.quoteBalance(ctx, quoteAsset)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func formatQty(qty float64) string {
	return decimal.NewFromFloat(qty).String()
}

// formatSellQty rounds down so a sell never exceeds the quantity held.
func formatSellQty(qty float64) string {
	return decimal.NewFromFloat(qty).Truncate(qtyDecimals).String()
}

func formatPrice(price float64, precision int32) string {
	return decimal.NewFromFloat(price).StringFixed(precision)
}

func (c *Client) PlaceMarketBuy(ctx context.Context, symbol string, qty float64, clientOrderID string) (types.OrderReport, error) {
	var report types.OrderReport
	err := c.gate.Do(ctx, "market_buy", func(ctx context.Context) error {
		var err error
		report, err = c.venue.marketBuy(ctx, symbol, formatQty(qty), clientOrderID)
		return err
	})
	if err != nil {
		return types.OrderReport{}, fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return report, nil
}

// PlaceProtection attaches stop-loss and take-profit to a filled entry. Spot
// places both legs as one OCO list; futures places two close-position orders
// and reports every leg that failed.
func (c *Client) PlaceProtection(ctx context.Context, req types.ProtectionRequest) ([]types.OrderReport, error) {
	switch v := c.venue.(type) {
	case ocoPlacer:
		var reports []types.OrderReport
		err := c.gate.Do(ctx, "oco", func(ctx context.Context) error {
			var err error
			reports, err = v.oco(ctx, req.Symbol, formatSellQty(req.Quantity),
				formatPrice(req.TakeProfit, req.Precision),
				formatPrice(req.StopLoss, req.Precision),
				formatPrice(req.StopLimit, req.Precision))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("oco order %s: %w", req.Symbol, err)
		}
		return reports, nil

	case legPlacer:
		var reports []types.OrderReport
		var errs []error
		for _, leg := range []types.RiskOrderRequest{
			{Symbol: req.Symbol, Kind: types.RiskStopLoss, Quantity: req.Quantity, StopPrice: req.StopLoss, Precision: req.Precision},
			{Symbol: req.Symbol, Kind: types.RiskTakeProfit, Quantity: req.Quantity, StopPrice: req.TakeProfit, Precision: req.Precision},
		} {
			var report types.OrderReport
			err := c.gate.Do(ctx, "risk_order", func(ctx context.Context) error {
				var err error
				report, err = v.riskOrder(ctx, leg, formatSellQty(leg.Quantity), formatPrice(leg.StopPrice, leg.Precision))
				return err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("%s order %s: %w", leg.Kind, req.Symbol, err))
				continue
			}
			reports = append(reports, report)
		}
		return reports, errors.Join(errs...)
	}
	return nil, fmt.Errorf("%w: venue cannot place protective orders", ErrInvalidParams)
}

func (c *Client) OrderStatus(ctx context.Context, symbol string, orderID int64) (types.OrderReport, error) {
	var report types.OrderReport
	err := c.gate.Do(ctx, "order_status", func(ctx context.Context) error {
		var err error
		report, err = c.venue.orderStatus(ctx, symbol, orderID)
		return err
	})
	if err != nil {
		return types.OrderReport{}, fmt.Errorf("order status %d: %w", orderID, err)
	}
	return report, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	err := c.gate.Do(ctx, "cancel", func(ctx context.Context) error {
		return c.venue.cancel(ctx, symbol, orderID)
	})
	if err != nil {
		return fmt.Errorf("cancel order %d: %w", orderID, err)
	}
	return nil
}

func (c *Client) Positions(ctx context.Context) ([]types.ExchangePosition, error) {
	var out []types.ExchangePosition
	err := c.gate.Do(ctx, "positions", func(ctx context.Context) error {
		var err error
		out, err = c.venue.positions(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get positions: %w", err)
	}
	return out, nil
}

func (c *Client) OpenOrders(ctx context.Context) ([]types.ExchangeOrder, error) {
	var out []types.ExchangeOrder
	err := c.gate.Do(ctx, "open_orders", func(ctx context.Context) error {
		var err error
		out, err = c.venue.openOrders(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return out, nil
}

// Ping measures a round trip to the exchange.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := c.gate.Do(ctx, "ping", c.venue.ping)
	return time.Since(start), err
}

// PrepareSymbol applies margin mode and leverage on futures accounts.
func (c *Client) PrepareSymbol(ctx context.Context, symbol string, leverage int) error {
	if !c.futures {
		return nil
	}
	err := c.gate.Do(ctx, "prepare", func(ctx context.Context) error {
		return c.venue.prepare(ctx, symbol, leverage)
	})
	if err != nil {
		return fmt.Errorf("prepare %s: %w", symbol, err)
	}
	c.log.WithField("symbol", symbol).Infof("✅ isolated margin, %dx leverage", leverage)
	return nil
}
