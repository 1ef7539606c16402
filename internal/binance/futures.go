// File: internal/binance/futures.go
// ============================================
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"xtrader/pkg/types"
)

type futuresVenue struct {
	client *futures.Client
}

func newFuturesVenue(apiKey, secretKey string, testnet bool, httpClient *http.Client) *futuresVenue {
	futures.UseTestnet = testnet
	client := futures.NewClient(apiKey, secretKey)
	client.HTTPClient = httpClient
	return &futuresVenue{client: client}
}

func (v *futuresVenue) klines(ctx context.Context, symbol, interval string, limit int) ([]types.Kline, error) {
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

func (v *futuresVenue) price(ctx context.Context, symbol string) (float64, error) {
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

func (v *futuresVenue) marketBuy(ctx context.Context, symbol, qty, clientOrderID string) (types.OrderReport, error) {
	res, err := v.client.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideTypeBuy).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return types.OrderReport{}, err
	}
	return types.OrderReport{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Symbol:        res.Symbol,
		Status:        normalizeStatus(string(res.Status)),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
		AvgPrice:      parseFloat(res.AvgPrice),
	}, nil
}

// riskOrder closes the whole position when the stop price triggers.
func (v *futuresVenue) riskOrder(ctx context.Context, req types.RiskOrderRequest, _ string, stopPrice string) (types.OrderReport, error) {
	orderType := futures.OrderTypeStopMarket
	if req.Kind == types.RiskTakeProfit {
		orderType = futures.OrderTypeTakeProfitMarket
	}
	res, err := v.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideTypeSell).
		Type(orderType).
		StopPrice(stopPrice).
		ClosePosition(true).
		Do(ctx)
	if err != nil {
		return types.OrderReport{}, err
	}
	return types.OrderReport{
		OrderID: res.OrderID,
		Symbol:  res.Symbol,
		Status:  normalizeStatus(string(res.Status)),
	}, nil
}

func (v *futuresVenue) orderStatus(ctx context.Context, symbol string, orderID int64) (types.OrderReport, error) {
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
		AvgPrice:      parseFloat(o.AvgPrice),
	}, nil
}

func (v *futuresVenue) cancel(ctx context.Context, symbol string, orderID int64) error {
	_, err := v.client.NewCancelOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
	return err
}

func (v *futuresVenue) quoteBalance(ctx context.Context, asset string) (float64, error) {
	balances, err := v.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return parseFloat(b.Balance), nil
		}
	}
	return 0, nil
}

func (v *futuresVenue) positions(ctx context.Context) ([]types.ExchangePosition, error) {
	risks, err := v.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.ExchangePosition
	for _, p := range risks {
		amt := parseFloat(p.PositionAmt)
		if amt == 0 {
			continue
		}
		out = append(out, types.ExchangePosition{
			Symbol:     p.Symbol,
			Amount:     amt,
			EntryPrice: parseFloat(p.EntryPrice),
		})
	}
	return out, nil
}

func (v *futuresVenue) openOrders(ctx context.Context) ([]types.ExchangeOrder, error) {
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

func (v *futuresVenue) ping(ctx context.Context) error {
	return v.client.NewPingService().Do(ctx)
}

// prepare switches the symbol to isolated margin and applies the leverage.
// An "already isolated" rejection counts as success.
func (v *futuresVenue) prepare(ctx context.Context, symbol string, leverage int) error {
	err := v.client.NewChangeMarginTypeService().Symbol(symbol).MarginType(futures.MarginTypeIsolated).Do(ctx)
	var apiErr *common.APIError
	if err != nil && !(errors.As(err, &apiErr) && apiErr.Code == codeNoMarginChange) {
		return fmt.Errorf("set margin type: %w", err)
	}
	if _, err := v.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx); err != nil {
		return fmt.Errorf("set leverage: %w", err)
	}
	return nil
}
