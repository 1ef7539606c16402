// File: internal/strategy/momentum.go
// ============================================
package strategy

import (
	"fmt"

	"xtrader/pkg/types"
)

const (
	momentumThreshold   = 0.05
	momentumMaxRSI      = 70.0
	momentumVolumeRatio = 1.2
	swingMaxRSI         = 40.0
	swingVolumeRatio    = 1.1
)

// momentumSetup - breakout above the upper band in a confirmed uptrend
func momentumSetup(row types.FeatureRow) (bool, string) {
	switch {
	case row.Momentum <= momentumThreshold:
		return false, fmt.Sprintf("momentum %.2f%% too weak", row.Momentum*100)
	case row.RSI >= momentumMaxRSI:
		return false, fmt.Sprintf("RSI %.1f overbought", row.RSI)
	case row.Close <= row.BBUpper:
		return false, "close not above upper band"
	case row.EMAFast <= row.EMASlow:
		return false, "fast EMA below slow EMA"
	case row.VolumeRatio <= momentumVolumeRatio:
		return false, fmt.Sprintf("volume ratio %.2f too low", row.VolumeRatio)
	case row.Regime != types.RegimeTrending:
		return false, fmt.Sprintf("regime %s not trending", row.Regime)
	}
	return true, ""
}

// swingSetup - oversold dip below the lower band while the trend is up
func swingSetup(row types.FeatureRow) (bool, string) {
	switch {
	case row.RSI >= swingMaxRSI:
		return false, fmt.Sprintf("RSI %.1f not oversold", row.RSI)
	case row.Close >= row.BBLower:
		return false, "close not below lower band"
	case row.EMAFast <= row.EMASlow:
		return false, "fast EMA below slow EMA"
	case row.VolumeRatio <= swingVolumeRatio:
		return false, fmt.Sprintf("volume ratio %.2f too low", row.VolumeRatio)
	}
	return true, ""
}
