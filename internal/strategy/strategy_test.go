package strategy

import (
	"math"
	"strings"
	"testing"
	"time"

	"xtrader/pkg/types"
)

func makeBars(n int, closeAt func(i int) float64, spread func(i int) (float64, float64), volumeAt func(i int) float64) []types.Kline {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]types.Kline, n)
	for i := 0; i < n; i++ {
		c := closeAt(i)
		up, down := spread(i)
		bars[i] = types.Kline{
			OpenTime:  start.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c,
			High:      c + up,
			Low:       c - down,
			Close:     c,
			Volume:    volumeAt(i),
			CloseTime: start.Add(time.Duration(i+1)*15*time.Minute - time.Millisecond),
		}
	}
	return bars
}

func constVolume(int) float64 { return 1000 }

func TestComputeSeriesShortWindow(t *testing.T) {
	bars := makeBars(MinBars-1, func(i int) float64 { return 100 + float64(i) },
		func(int) (float64, float64) { return 1, 1 }, constVolume)
	if rows, ok := ComputeSeries(bars); ok || rows != nil {
		t.Fatalf("expected no rows for %d bars", len(bars))
	}
	if _, ok := ComputeFeatures(bars); ok {
		t.Fatalf("expected no features for %d bars", len(bars))
	}
	if _, ok := ComputeFeatures(bars[:0]); ok {
		t.Fatalf("expected no features for empty window")
	}
}

func TestComputeSeriesBounds(t *testing.T) {
	bars := makeBars(200,
		func(i int) float64 { return 100 + 10*math.Sin(float64(i)/5) + float64(i)*0.1 },
		func(i int) (float64, float64) { return 1 + math.Abs(math.Sin(float64(i))), 1 + math.Abs(math.Cos(float64(i))) },
		func(i int) float64 { return 1000 + 100*math.Sin(float64(i)) },
	)
	rows, ok := ComputeSeries(bars)
	if !ok {
		t.Fatalf("expected rows")
	}
	if len(rows) != 200-momentumLookback {
		t.Fatalf("rows=%d, expected %d", len(rows), 200-momentumLookback)
	}
	for i, r := range rows {
		if r.RSI < 0 || r.RSI > 100 {
			t.Fatalf("row %d: RSI %v out of range", i, r.RSI)
		}
		if math.IsNaN(r.ADX) || r.ADX < 0 || r.ADX > 100 {
			t.Fatalf("row %d: ADX %v out of range", i, r.ADX)
		}
		if !(r.BBUpper >= r.BBMiddle && r.BBMiddle >= r.BBLower) {
			t.Fatalf("row %d: bands out of order %v/%v/%v", i, r.BBUpper, r.BBMiddle, r.BBLower)
		}
		if r.ATR <= 0 {
			t.Fatalf("row %d: ATR %v", i, r.ATR)
		}
	}
}

func TestComputeFeaturesUptrend(t *testing.T) {
	bars := makeBars(120, func(i int) float64 { return 100 + float64(i)*0.5 },
		func(int) (float64, float64) { return 1, 1 }, constVolume)
	row, ok := ComputeFeatures(bars)
	if !ok {
		t.Fatalf("expected features")
	}
	if row.EMAFast <= row.EMASlow {
		t.Errorf("fast EMA %v should lead slow EMA %v", row.EMAFast, row.EMASlow)
	}
	wantMomentum := (100+119*0.5)/(100+99*0.5) - 1
	if math.Abs(row.Momentum-wantMomentum) > 1e-12 {
		t.Errorf("momentum=%v, expected %v", row.Momentum, wantMomentum)
	}
	if row.RSI != 100 {
		t.Errorf("RSI=%v, expected 100 with no losses", row.RSI)
	}
	if row.Regime != types.RegimeTrending {
		t.Errorf("regime=%s, ADX=%v", row.Regime, row.ADX)
	}
	if math.Abs(row.VolumeRatio-1) > 1e-12 {
		t.Errorf("volume ratio=%v", row.VolumeRatio)
	}
	if !row.Time.Equal(bars[len(bars)-1].CloseTime) {
		t.Errorf("row time %v does not match last bar", row.Time)
	}
}

func TestComputeFeaturesFlatMarket(t *testing.T) {
	bars := makeBars(60, func(int) float64 { return 50 },
		func(int) (float64, float64) { return 0, 0 }, constVolume)
	row, ok := ComputeFeatures(bars)
	if !ok {
		t.Fatalf("expected features")
	}
	if !math.IsNaN(row.ADX) || row.Regime != types.RegimeUnknown {
		t.Fatalf("ADX=%v regime=%s, expected undefined/UNKNOWN", row.ADX, row.Regime)
	}
	if row.RSI != 50 {
		t.Fatalf("RSI=%v, expected neutral 50", row.RSI)
	}
}

func TestSmoothingSeeds(t *testing.T) {
	w := CalculateWilder([]float64{10, 20, math.NaN(), 30}, 2)
	want := []float64{10, 15, 15, 22.5}
	for i := range want {
		if w[i] != want[i] {
			t.Fatalf("wilder[%d]=%v, expected %v", i, w[i], want[i])
		}
	}
	e := CalculateEMA([]float64{1, 2}, 3)
	if e[0] != 1 || e[1] != 1.5 {
		t.Fatalf("ema=%v", e)
	}
}

func TestDetectMarketRegime(t *testing.T) {
	tests := []struct {
		name  string
		adx   float64
		close float64
		want  types.Regime
	}{
		{"undefined adx", math.NaN(), 100, types.RegimeUnknown},
		{"trending", 30, 100, types.RegimeTrending},
		{"oversold", 20, 92, types.RegimeOversold},
		{"overbought", 20, 108, types.RegimeOverbought},
		{"ranging", 20, 100, types.RegimeRanging},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectMarketRegime(tt.adx, tt.close, 110, 90); got != tt.want {
				t.Fatalf("regime=%s, expected %s", got, tt.want)
			}
		})
	}
	if got := DetectMarketRegime(10, 100, 100, 100); got != types.RegimeUnknown {
		t.Fatalf("zero-width bands: regime=%s", got)
	}
}

func generatorConfig() *types.Config {
	return &types.Config{
		Trading: types.TradingConfig{RiskPercent: 0.02},
		Safety:  types.SafetyConfig{VolatilityFactor: 1.5},
		RiskControl: types.RiskControlConfig{
			RiskFloor:     0.015,
			ProfitCeiling: 0.035,
		},
		System: types.SystemConfig{PerformanceWindow: 20},
		Symbols: map[string]types.SymbolConfig{
			"SOLUSDT": {
				RiskWeight:       1,
				StopMultiplier:   map[types.StrategyType]float64{types.StrategyMomentum: 1, types.StrategySwing: 2},
				ProfitMultiplier: map[types.StrategyType]float64{types.StrategyMomentum: 3, types.StrategySwing: 2},
				MinQty:           1,
				MaxPositionUSD:   50000,
			},
		},
	}
}

func seriesWith(last types.FeatureRow) []types.FeatureRow {
	series := make([]types.FeatureRow, 29)
	for i := range series {
		series[i] = types.FeatureRow{Close: 10, ATR: 0.1, RSI: 50, Regime: types.RegimeRanging}
	}
	return append(series, last)
}

var momentumRow = types.FeatureRow{
	Close: 10, Momentum: 0.08, RSI: 65, ATR: 0.1,
	EMAFast: 9.5, EMASlow: 9.0,
	BBUpper: 9.8, BBMiddle: 9.4, BBLower: 9.0,
	VolumeRatio: 1.5, ADX: 32, Regime: types.RegimeTrending,
}

var swingRow = types.FeatureRow{
	Close: 10, Momentum: -0.02, RSI: 35, ATR: 0.1,
	EMAFast: 9.5, EMASlow: 9.0,
	BBUpper: 11, BBMiddle: 10.6, BBLower: 10.2,
	VolumeRatio: 1.2, ADX: 15, Regime: types.RegimeOversold,
}

func TestGenerate(t *testing.T) {
	tests := []struct {
		name       string
		last       func() types.FeatureRow
		balance    float64
		wantType   types.StrategyType
		wantSize   float64
		wantStop   float64
		wantTarget float64
		wantReason string
	}{
		{
			name:     "momentum breakout",
			last:     func() types.FeatureRow { return momentumRow },
			balance:  100000,
			wantType: types.StrategyMomentum, wantSize: 1800, wantStop: 9.9, wantTarget: 10.3,
		},
		{
			name:     "swing dip",
			last:     func() types.FeatureRow { return swingRow },
			balance:  100000,
			wantType: types.StrategySwing, wantSize: 900, wantStop: 9.8, wantTarget: 10.2,
		},
		{
			name: "momentum blocked outside trend",
			last: func() types.FeatureRow {
				r := momentumRow
				r.Regime = types.RegimeOverbought
				return r
			},
			balance:    100000,
			wantReason: "not trending",
		},
		{
			name: "volatility prefilter",
			last: func() types.FeatureRow {
				r := momentumRow
				r.ATR = 0.5
				return r
			},
			balance:    100000,
			wantReason: "volatility too high",
		},
		{
			name:       "size below minimum",
			last:       func() types.FeatureRow { return momentumRow },
			balance:    10,
			wantReason: "below minimum",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(generatorConfig())
			sig, reason := g.Generate(seriesWith(tt.last()), "SOLUSDT", tt.balance, nil)
			if tt.wantReason != "" {
				if sig != nil {
					t.Fatalf("expected no signal, got %+v", sig)
				}
				if !strings.Contains(reason, tt.wantReason) {
					t.Fatalf("reason %q does not mention %q", reason, tt.wantReason)
				}
				return
			}
			if sig == nil {
				t.Fatalf("expected signal, got reason %q", reason)
			}
			if sig.Strategy != tt.wantType || sig.Side != types.SideBuy {
				t.Fatalf("signal %s/%s, expected BUY %s", sig.Side, sig.Strategy, tt.wantType)
			}
			if math.Abs(sig.Size-tt.wantSize) > 1e-9 {
				t.Errorf("size=%v, expected %v", sig.Size, tt.wantSize)
			}
			if math.Abs(sig.StopLoss-tt.wantStop) > 1e-9 || math.Abs(sig.TakeProfit-tt.wantTarget) > 1e-9 {
				t.Errorf("stop/target=%v/%v, expected %v/%v", sig.StopLoss, sig.TakeProfit, tt.wantStop, tt.wantTarget)
			}
			if !(sig.StopLoss < sig.Price && sig.Price < sig.TakeProfit) {
				t.Errorf("exit levels do not bracket price: %+v", sig)
			}
		})
	}
}

func TestGenerateUnknownSymbol(t *testing.T) {
	g := NewGenerator(generatorConfig())
	if sig, _ := g.Generate(seriesWith(momentumRow), "DOGEUSDT", 100000, nil); sig != nil {
		t.Fatalf("unconfigured symbol produced a signal")
	}
	if sig, _ := g.Generate(nil, "SOLUSDT", 100000, nil); sig != nil {
		t.Fatalf("empty series produced a signal")
	}
}
