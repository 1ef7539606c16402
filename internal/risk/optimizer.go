// File: internal/risk/optimizer.go
// ============================================
package risk

import (
	"math"

	"xtrader/pkg/types"
)

const minTradesForAdjust = 10

// OptimizerParams bounds the adaptive risk fraction.
type OptimizerParams struct {
	Window  int     // trades considered, most recent last
	Floor   float64 // lower bound after a cut
	Ceiling float64 // upper bound after a raise
}

// Performance summarizes a window of trades.
type Performance struct {
	Trades          int
	WinRate         float64
	ProfitLossRatio float64
}

// Evaluate computes win rate and average-win / average-loss over trades.
// Without losers the loss average is taken as 1.
func Evaluate(trades []types.TradeRecord) Performance {
	if len(trades) == 0 {
		return Performance{}
	}
	var wins, losses int
	var winSum, lossSum float64
	for _, t := range trades {
		pnl := t.RealizedPnL()
		switch {
		case pnl > 0:
			wins++
			winSum += pnl
		case pnl < 0:
			losses++
			lossSum += pnl
		}
	}

	avgWin := 0.0
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	avgLoss := 1.0
	if losses > 0 {
		avgLoss = math.Abs(lossSum / float64(losses))
	}
	ratio := 1.0
	if avgLoss > 0 {
		ratio = avgWin / avgLoss
	}
	return Performance{
		Trades:          len(trades),
		WinRate:         float64(wins) / float64(len(trades)),
		ProfitLossRatio: ratio,
	}
}

// AdjustRisk scales the base risk fraction from recent performance. It raises
// risk 20% after strong results and cuts it 20% after weak ones; the result is
// always clamped to [Floor, Ceiling]. Only trades with a realized PnL count,
// and fewer than 10 of them returns base unchanged.
func AdjustRisk(history []types.TradeRecord, base float64, p OptimizerParams) float64 {
	recent := closedTrades(history)
	if len(recent) < minTradesForAdjust {
		return base
	}
	if p.Window > 0 && len(recent) > p.Window {
		recent = recent[len(recent)-p.Window:]
	}

	adjusted := base
	perf := Evaluate(recent)
	switch {
	case perf.WinRate > 0.7 && perf.ProfitLossRatio > 1.5:
		adjusted = base * 1.2
	case perf.WinRate < 0.4 || perf.ProfitLossRatio < 0.8:
		adjusted = base * 0.8
	}
	return math.Min(math.Max(adjusted, p.Floor), p.Ceiling)
}

// closedTrades keeps records with a realized PnL, preserving order. Entry
// fills that were never matched to an exit carry no outcome.
func closedTrades(history []types.TradeRecord) []types.TradeRecord {
	out := make([]types.TradeRecord, 0, len(history))
	for _, t := range history {
		if t.PnL != nil {
			out = append(out, t)
		}
	}
	return out
}

// ParamsFrom reads optimizer bounds from the configuration.
func ParamsFrom(cfg *types.Config) OptimizerParams {
	return OptimizerParams{
		Window:  cfg.System.PerformanceWindow,
		Floor:   cfg.RiskControl.RiskFloor,
		Ceiling: cfg.RiskControl.ProfitCeiling,
	}
}
