// File: internal/binance/spot.go
// ============================================
package binance

import (
	"context"
	"fmt"
	"net/http"

	gobinance "github.com/adshao/go-binance/v2"

	"xtrader/pkg/types"
)

type spotVenue struct {
	client *gobinance.Client
}

func newSpotVenue(apiKey, secretKey string, testnet bool, httpClient *http.Client) *spotVenue {
	gobinance.UseTestnet = testnet
	client := gobinance.NewClient(apiKey, secretKey)
	client.HTTPClient = httpClient
	return &spotVenue{client: client}
}

func (v *spotVenue) klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
	raw, err := v.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.Kline, 0, len(raw))
	for _, k := range raw {
		kl, err := parseKline(k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume)
		if err != nil {
			return nil, err
		}
		out = append(out, kl)
	}
	return out, nil
}

func (v *spotVenue) price(ctx context.Context, symbol string) (float64, error) {
	prices, err := v.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range prices {
		if p.Symbol == symbol {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("no price returned for %s", symbol)
}

func (v *spotVenue) marketBuy(ctx context.Context, symbol, qty, clientOrderID string) (types.OrderReport, error) {
	res, err := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(gobinance.SideTypeBuy).
		Type(gobinance.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(clientOrderID).
		NewOrderRespType(gobinance.NewOrderRespTypeFULL).
		Do(ctx)
	if err != nil {
		return types.OrderReport{}, err
	}
	fills := make([]fill, 0, len(res.Fills))
	for _, f := range res.Fills {
		fills = append(fills, fill{commission: f.Commission, commissionAsset: f.CommissionAsset})
	}
	executed := parseFloat(res.ExecutedQuantity)
	return types.OrderReport{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        normalizeStatus(string(res.Status)),
		ExecutedQty:   executed,
		AvgPrice:      averagePrice(res.CummulativeQuoteQuantity, res.ExecutedQuantity),
		NetQty:        netQuantity(executed, baseAsset(symbol), fills),
	}, nil
}

// oco sells qty with a take-profit limit above the market and a stop-limit
// below it; the exchange cancels the other leg when one fills.
func (v *spotVenue) oco(ctx context.Context, symbol, qty, takeProfit, stopPrice, stopLimit string) ([]types.OrderReport, error) {
	res, err := v.client.NewCreateOCOService().
		Symbol(symbol).
		Side(gobinance.SideTypeSell).
		Quantity(qty).
		Price(takeProfit).
		StopPrice(stopPrice).
		StopLimitPrice(stopLimit).
		StopLimitTimeInForce(gobinance.TimeInForceTypeGTC).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.OrderReport, 0, len(res.OrderReports))
	for _, r := range res.OrderReports {
		out = append(out, types.OrderReport{
			OrderID:       r.OrderID,
			ClientOrderID: r.ClientOrderID,
			Symbol:        r.Symbol,
			Status:        normalizeStatus(string(r.Status)),
		})
	}
	return out, nil
}

func (v *spotVenue) orderStatus(ctx context.Context, symbol string, orderID int64) (types.OrderReport, error) {
	o, err := v.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	if err != nil {
		return types.OrderReport{}, err
	}
	return types.OrderReport{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Status:        normalizeStatus(string(o.Status)),
		ExecutedQty:   parseFloat(o.ExecutedQuantity),
		AvgPrice:      averagePrice(o.CummulativeQuoteQuantity, o.ExecutedQuantity),
	}, nil
}

func (v *spotVenue) cancel(ctx context.Context, symbol string, orderID int64) error {
	_, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

func (v *spotVenue) quoteBalance(ctx context.Context, asset string) (float64, error) {
	account, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

// positions reports every non-zero asset balance.
func (v *spotVenue) positions(ctx context.Context) ([]types.ExchangePosition, error) {
	account, err := v.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.ExchangePosition
	for _, b := range account.Balances {
		free, locked := parseFloat(b.Free), parseFloat(b.Locked)
		if free+locked <= 0 {
			continue
		}
		out = append(out, types.ExchangePosition{Symbol: b.Asset, Amount: free + locked, Locked: locked})
	}
	return out, nil
}

func (v *spotVenue) openOrders(ctx context.Context) ([]types.ExchangeOrder, error) {
	orders, err := v.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]types.ExchangeOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, types.ExchangeOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      string(o.Side),
			Type:      string(o.Type),
			Status:    string(o.Status),
			Quantity:  parseFloat(o.OrigQuantity),
			Price:     parseFloat(o.Price),
			StopPrice: parseFloat(o.StopPrice),
		})
	}
	return out, nil
}

func (v *spotVenue) ping(ctx context.Context) error {
	return v.client.NewPingService().Do(ctx)
}

// prepare is a no-op on spot: there is no leverage or margin mode.
func (v *spotVenue) prepare(context.Context, string, int) error {
	return nil
}
