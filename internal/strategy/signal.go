// File: internal/strategy/signal.go
// ============================================
package strategy

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"xtrader/internal/logging"
	"xtrader/internal/risk"
	"xtrader/pkg/types"
)

// Generator turns a feature series into at most one BUY signal per call.
type Generator struct {
	config *types.Config
	log    *logrus.Entry
	now    func() time.Time
}

func NewGenerator(config *types.Config) *Generator {
	return &Generator{
		config: config,
		log:    logging.For("strategy"),
		now:    time.Now,
	}
}

// Generate evaluates the latest row of series. When no signal results the
// returned string says why.
func (g *Generator) Generate(series []types.FeatureRow, symbol string, balance float64, history []types.TradeRecord) (*types.Signal, string) {
	if len(series) == 0 {
		return nil, "no feature data"
	}
	sc, ok := g.config.Symbols[symbol]
	if !ok {
		return nil, fmt.Sprintf("symbol %s not configured", symbol)
	}
	row := series[len(series)-1]

	meanATR := 0.0
	for _, r := range series {
		meanATR += r.ATR
	}
	meanATR /= float64(len(series))
	if limit := g.config.Safety.VolatilityFactor * meanATR; row.ATR > limit {
		return nil, fmt.Sprintf("volatility too high: ATR %.4f > %.4f", row.ATR, limit)
	}

	var strategy types.StrategyType
	momentumOK, momentumWhy := momentumSetup(row)
	if momentumOK {
		strategy = types.StrategyMomentum
	} else if swingOK, swingWhy := swingSetup(row); swingOK {
		strategy = types.StrategySwing
	} else {
		return nil, fmt.Sprintf("no setup (momentum: %s; swing: %s)", momentumWhy, swingWhy)
	}

	riskFraction := risk.AdjustRisk(history, g.config.Trading.RiskPercent, risk.ParamsFrom(g.config))
	size, ok := risk.PositionSize(sc, symbol, balance, strategy, row.ATR, row.Close, riskFraction)
	if !ok {
		return nil, fmt.Sprintf("%s size below minimum quantity", strategy)
	}

	signal := &types.Signal{
		Symbol:     symbol,
		Side:       types.SideBuy,
		Strategy:   strategy,
		Size:       size,
		Price:      row.Close,
		StopLoss:   risk.StopLoss(row.Close, row.ATR, sc.StopMultiplier[strategy]),
		TakeProfit: risk.TakeProfit(row.Close, row.ATR, sc.ProfitMultiplier[strategy]),
		ATR:        row.ATR,
		Regime:     row.Regime,
		CreatedAt:  g.now(),
	}

	g.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"strategy": strategy,
		"size":     size,
		"risk":     riskFraction,
	}).Infof("🎯 %s signal @ %.4f (SL %.4f / TP %.4f)", strategy, signal.Price, signal.StopLoss, signal.TakeProfit)
	return signal, ""
}
