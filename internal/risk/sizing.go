// File: internal/risk/sizing.go
// ============================================
package risk

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"xtrader/pkg/types"
)

const (
	maxVolatilityAdj = 5.0
	volatilityDamp   = 0.1
	qtyDecimals      = 5
)

var stableQuotes = []string{"USDT", "BUSD", "USDC", "FDUSD"}

// IsStableQuote reports whether the symbol is quoted in a USD stablecoin.
func IsStableQuote(symbol string) bool {
	for _, q := range stableQuotes {
		if strings.HasSuffix(symbol, q) {
			return true
		}
	}
	return false
}

// PositionSize returns the order quantity for a signal, or false when the
// result falls below the symbol's minimum tradable quantity.
//
// The risk budget (balance x riskFraction x weight) is damped by up to 50%
// as ATR grows relative to price, then divided by the stop distance.
func PositionSize(sc types.SymbolConfig, symbol string, balance float64, strategy types.StrategyType, atr, price, riskFraction float64) (float64, bool) {
	stopMult := sc.StopMultiplier[strategy]
	if atr <= 0 || price <= 0 || stopMult <= 0 || balance <= 0 {
		return 0, false
	}

	baseRisk := balance * riskFraction * sc.RiskWeight
	volAdj := math.Min(atr/price*100, maxVolatilityAdj)
	adjusted := baseRisk * (1 - volAdj*volatilityDamp)

	qty := adjusted / (stopMult * atr)
	if IsStableQuote(symbol) {
		qty /= price
	}

	if sc.MaxPositionUSD > 0 {
		qty = math.Min(qty, sc.MaxPositionUSD/price)
	}
	if qty < sc.MinQty || qty <= 0 {
		return 0, false
	}

	rounded, _ := decimal.NewFromFloat(qty).Round(qtyDecimals).Float64()
	if rounded <= 0 {
		return 0, false
	}
	return rounded, true
}

// StopLoss - ATR-based protective stop below entry
func StopLoss(entry, atr, multiplier float64) float64 {
	return entry - atr*multiplier
}

// TakeProfit - ATR-based target above entry
func TakeProfit(entry, atr, multiplier float64) float64 {
	return entry + atr*multiplier
}
