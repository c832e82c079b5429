package signals

import (
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// DefaultMinSqueezeDays is the minimum consecutive squeeze bars to report.
const DefaultMinSqueezeDays = 5

// MinATRRatio is the volatility floor (ATR14 as a percent of close).
const MinATRRatio = 1.0

// Bands is an upper/middle/lower envelope aligned with the input bars.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Len returns the number of aligned positions.
func (b Bands) Len() int {
	return len(b.Middle)
}

// BollingerBands computes SMA(period) ± mult population standard deviations.
func BollingerBands(closes []float64, period int, mult float64) Bands {
	mid := SMASeries(closes, period)
	sd := StdDevSeries(closes, period)
	b := Bands{
		Upper:  make([]float64, len(closes)),
		Middle: mid,
		Lower:  make([]float64, len(closes)),
	}
	for i := range closes {
		b.Upper[i] = mid[i] + sd[i]*mult
		b.Lower[i] = mid[i] - sd[i]*mult
	}
	return b
}

// KeltnerChannels computes EMA(period) of close ± mult ATR(period).
func KeltnerChannels(highs, lows, closes []float64, period int, mult float64) Bands {
	mid := EMASeries(closes, period)
	atr := ATRSeries(highs, lows, closes, period)
	n := minLen(mid, atr)
	b := Bands{
		Upper:  make([]float64, n),
		Middle: mid[:n],
		Lower:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		b.Upper[i] = mid[i] + atr[i]*mult
		b.Lower[i] = mid[i] - atr[i]*mult
	}
	return b
}

// InSqueeze reports whether Bollinger sits inside Keltner, inclusive on both
// sides. Any NaN input yields false.
func InSqueeze(bbUpper, bbLower, kcUpper, kcLower float64) bool {
	return bbUpper <= kcUpper && bbLower >= kcLower
}

// SqueezeFlags evaluates the squeeze predicate for every aligned bar.
func SqueezeFlags(bb, kc Bands) []bool {
	n := bb.Len()
	if kc.Len() < n {
		n = kc.Len()
	}
	flags := make([]bool, n)
	for i := 0; i < n; i++ {
		flags[i] = InSqueeze(bb.Upper[i], bb.Lower[i], kc.Upper[i], kc.Lower[i])
	}
	return flags
}

// SqueezeDays counts consecutive in-squeeze bars back from the latest bar.
func SqueezeDays(bb, kc Bands) int {
	return CountTrailing(SqueezeFlags(bb, kc))
}

// SqueezeIntensity labels a squeeze by its length.
func SqueezeIntensity(days int) string {
	switch {
	case days >= 15:
		return models.SqueezeIntensityHigh
	case days >= 10:
		return models.SqueezeIntensityMedium
	default:
		return models.SqueezeIntensityLow
	}
}

// ComputeSqueeze returns the squeeze state of the latest bar without
// applying any qualification thresholds.
func ComputeSqueeze(series models.BarSeries) models.SqueezeResult {
	latest, ok := series.Latest()
	if !ok {
		return models.SqueezeResult{}
	}

	closes := series.Closes()
	highs := series.Highs()
	lows := series.Lows()

	bb := BollingerBands(closes, BollingerPeriod, BollingerStdDev)
	kc := KeltnerChannels(highs, lows, closes, KeltnerPeriod, KeltnerATRMult)
	days := SqueezeDays(bb, kc)
	last := len(closes) - 1

	res := models.SqueezeResult{
		SqueezeDays:  days,
		Intensity:    SqueezeIntensity(days),
		BBUpper:      bb.Upper[last],
		BBMiddle:     bb.Middle[last],
		BBLower:      bb.Lower[last],
		KCUpper:      kc.Upper[last],
		KCMiddle:     kc.Middle[last],
		KCLower:      kc.Lower[last],
		LatestClose:  latest.Close,
		LatestVolume: latest.Volume,
		LatestDate:   latest.Date,
		DataPoints:   len(closes),
	}
	if mom, ok := Momentum(closes, MomentumPeriod); ok {
		res.Momentum = mom
	}

	atr := ATRSeries(highs, lows, closes, ATRPeriod)[last]
	if atr > 0 && latest.Close > 0 {
		res.ATR = atr
		res.ATRRatio = atr / latest.Close * 100
		res.HasATR = true
	}
	return res
}

// Squeeze computes the squeeze and reports whether it qualifies: at least
// minDays consecutive bars and, when ATR is available, an ATR ratio at or
// above the volatility floor.
func Squeeze(series models.BarSeries, minDays int) (models.SqueezeResult, bool) {
	if minDays <= 0 {
		minDays = DefaultMinSqueezeDays
	}
	res := ComputeSqueeze(series)
	if res.DataPoints == 0 || res.SqueezeDays < minDays {
		return res, false
	}
	if res.HasATR && res.ATRRatio < MinATRRatio {
		return res, false
	}
	return res, true
}

// SqueezeWithEMAFilter evaluates the squeeze only for series whose EMAs are
// stacked. The returned EMAStack is always populated for diagnostics.
func SqueezeWithEMAFilter(series models.BarSeries, minDays int) (models.SqueezeResult, models.EMAStack, bool) {
	stack := EMAStacking(series.Closes())
	if !stack.Stacked {
		return models.SqueezeResult{}, stack, false
	}
	res, ok := Squeeze(series, minDays)
	return res, stack, ok
}
