// File: internal/strategy/indicators.go
// ============================================
package strategy

import (
	"math"

	"xtrader/pkg/types"
)

const (
	MinBars          = 50
	rsiPeriod        = 14
	atrPeriod        = 14
	adxPeriod        = 14
	emaFastPeriod    = 30
	emaSlowPeriod    = 50
	bbPeriod         = 20
	bbWidth          = 2.0
	volumePeriod     = 20
	momentumLookback = 20
	trendingADX      = 25.0
)

// CalculateWilder - exponential smoothing with alpha = 1/period, seeded with
// the first defined value. NaN inputs carry the previous value forward.
func CalculateWilder(values []float64, period int) []float64 {
	return smooth(values, 1.0/float64(period))
}

// CalculateEMA - exponential moving average series, alpha = 2/(period+1)
func CalculateEMA(values []float64, period int) []float64 {
	return smooth(values, 2.0/float64(period+1))
}

func smooth(values []float64, alpha float64) []float64 {
	out := make([]float64, len(values))
	prev := math.NaN()
	for i, v := range values {
		switch {
		case math.IsNaN(prev):
			prev = v
		case math.IsNaN(v):
		default:
			prev = (1-alpha)*prev + alpha*v
		}
		out[i] = prev
	}
	return out
}

// CalculateSMA - rolling simple mean; positions before the window fills are NaN
func CalculateSMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i < period-1 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(period)
	}
	return out
}

// CalculateRSI - Wilder RSI series
func CalculateRSI(closes []float64, period int) []float64 {
	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}
	avgGain := CalculateWilder(gains, period)
	avgLoss := CalculateWilder(losses, period)

	out := make([]float64, len(closes))
	for i := range closes {
		out[i] = rsiFrom(avgGain[i], avgLoss[i])
	}
	return out
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0 // No movement
		}
		return 100.0
	}
	rsi := 100.0 - 100.0/(1.0+avgGain/avgLoss)
	return math.Max(0, math.Min(100, rsi))
}

// CalculateTrueRange - first bar uses high-low
func CalculateTrueRange(klines []types.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		tr := k.High - k.Low
		if i > 0 {
			prevClose := klines[i-1].Close
			tr = math.Max(tr, math.Max(math.Abs(k.High-prevClose), math.Abs(k.Low-prevClose)))
		}
		out[i] = tr
	}
	return out
}

// CalculateATR - Average True Range series (Wilder)
func CalculateATR(klines []types.Kline, period int) []float64 {
	return CalculateWilder(CalculateTrueRange(klines), period)
}

// CalculateADX - Average Directional Index series. Bars where the smoothed
// true range is zero yield NaN.
func CalculateADX(klines []types.Kline, period int) []float64 {
	n := len(klines)
	plusDM := make([]float64, n)
	minusDM := make([]float64, n)
	for i := 1; i < n; i++ {
		up := klines[i].High - klines[i-1].High
		down := klines[i-1].Low - klines[i].Low
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}

	atr := CalculateATR(klines, period)
	plusSmooth := CalculateWilder(plusDM, period)
	minusSmooth := CalculateWilder(minusDM, period)

	dx := make([]float64, n)
	for i := 0; i < n; i++ {
		if atr[i] == 0 {
			dx[i] = math.NaN()
			continue
		}
		plusDI := 100 * plusSmooth[i] / atr[i]
		minusDI := 100 * minusSmooth[i] / atr[i]
		sum := plusDI + minusDI
		if sum == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / sum
	}
	return CalculateWilder(dx, period)
}

// CalculateBollingerBands - SMA ± width·sample stddev series
func CalculateBollingerBands(closes []float64, period int, width float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = make([]float64, n)
	lower = make([]float64, n)
	middle = CalculateSMA(closes, period)
	for i := 0; i < n; i++ {
		if i < period-1 {
			upper[i], lower[i] = math.NaN(), math.NaN()
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			variance += math.Pow(closes[j]-middle[i], 2)
		}
		std := math.Sqrt(variance / float64(period-1))
		upper[i] = middle[i] + width*std
		lower[i] = middle[i] - width*std
	}
	return upper, middle, lower
}

// DetectMarketRegime - classify from ADX and the close's position in the bands
func DetectMarketRegime(adx, close, upper, lower float64) types.Regime {
	if math.IsNaN(adx) {
		return types.RegimeUnknown
	}
	if adx > trendingADX {
		return types.RegimeTrending
	}
	width := upper - lower
	if width <= 0 || math.IsNaN(width) {
		return types.RegimeUnknown
	}
	bbPos := (close - lower) / width
	switch {
	case bbPos < 0.3:
		return types.RegimeOversold
	case bbPos > 0.7:
		return types.RegimeOverbought
	default:
		return types.RegimeRanging
	}
}

// ComputeSeries derives feature rows for every bar whose rolling windows are
// filled. Fewer than MinBars bars yields no result.
func ComputeSeries(klines []types.Kline) ([]types.FeatureRow, bool) {
	if len(klines) < MinBars {
		return nil, false
	}

	n := len(klines)
	closes := make([]float64, n)
	volumes := make([]float64, n)
	for i, k := range klines {
		closes[i] = k.Close
		volumes[i] = k.Volume
	}

	rsi := CalculateRSI(closes, rsiPeriod)
	atr := CalculateATR(klines, atrPeriod)
	adx := CalculateADX(klines, adxPeriod)
	emaFast := CalculateEMA(closes, emaFastPeriod)
	emaSlow := CalculateEMA(closes, emaSlowPeriod)
	upper, middle, lower := CalculateBollingerBands(closes, bbPeriod, bbWidth)
	volMean := CalculateSMA(volumes, volumePeriod)

	rows := make([]types.FeatureRow, 0, n-momentumLookback)
	for i := momentumLookback; i < n; i++ {
		if closes[i-momentumLookback] == 0 {
			continue
		}
		ratio := 0.0
		if volMean[i] > 0 {
			ratio = volumes[i] / volMean[i]
		}
		rows = append(rows, types.FeatureRow{
			Time:        klines[i].CloseTime,
			Close:       closes[i],
			Momentum:    closes[i]/closes[i-momentumLookback] - 1,
			RSI:         rsi[i],
			ATR:         atr[i],
			EMAFast:     emaFast[i],
			EMASlow:     emaSlow[i],
			BBUpper:     upper[i],
			BBMiddle:    middle[i],
			BBLower:     lower[i],
			VolumeRatio: ratio,
			ADX:         adx[i],
			Regime:      DetectMarketRegime(adx[i], closes[i], upper[i], lower[i]),
		})
	}
	if len(rows) == 0 {
		return nil, false
	}
	return rows, true
}

// ComputeFeatures returns the feature row of the latest bar.
func ComputeFeatures(klines []types.Kline) (types.FeatureRow, bool) {
	rows, ok := ComputeSeries(klines)
	if !ok {
		return types.FeatureRow{}, false
	}
	return rows[len(rows)-1], true
}
