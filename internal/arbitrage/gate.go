package arbitrage

import (
	"github.com/shopspring/decimal"
)

// Alert is a qualifying detection. Directions lists every direction whose
// profit percentage strictly exceeds the threshold, in evaluation order, so
// both qualifying directions share one alert per cycle.
type Alert struct {
	Directions   []Direction
	ThresholdPct decimal.Decimal
}

// Check compares the result against the threshold. Equality does not
// qualify. Returns nil when no direction clears it.
func Check(result Result, thresholdPct decimal.Decimal) *Alert {
	var qualifying []Direction
	if result.AToB.ProfitPct.GreaterThan(thresholdPct) {
		qualifying = append(qualifying, result.AToB)
	}
	if result.BToA.ProfitPct.GreaterThan(thresholdPct) {
		qualifying = append(qualifying, result.BToA)
	}
	if len(qualifying) == 0 {
		return nil
	}
	return &Alert{Directions: qualifying, ThresholdPct: thresholdPct}
}
