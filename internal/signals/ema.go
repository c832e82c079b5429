package signals

import (
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// EMA spans used for trend stacking.
const (
	FastEMASpan = 9
	MidEMASpan  = 50
	SlowEMASpan = 200
)

// Stacking failure reasons.
const (
	ReasonNotStacked       = "EMAs not stacked"
	ReasonFastSlope        = "9EMA slope <= 0"
	ReasonMidSlope         = "50EMA slope <= 0"
	ReasonInsufficientData = "insufficient data"
)

// stackingStrongSpread is the (ema9-ema200)/ema200 spread above which
// stacking is labelled strong.
const stackingStrongSpread = 0.05

// EMAStacking checks ema9 > ema50 > ema200 with positive 9 and 50 slopes.
func EMAStacking(closes []float64) models.EMAStack {
	if len(closes) == 0 {
		return models.EMAStack{Failures: []string{ReasonInsufficientData}}
	}

	ema9 := EMASeries(closes, FastEMASpan)
	ema50 := EMASeries(closes, MidEMASpan)
	ema200 := EMASeries(closes, SlowEMASpan)
	last := len(closes) - 1

	st := models.EMAStack{
		EMA9:   ema9[last],
		EMA50:  ema50[last],
		EMA200: ema200[last],
	}

	slope9, ok9 := Slope(ema9, SlopeLookback)
	slope50, ok50 := Slope(ema50, SlopeLookback)
	if !ok9 || !ok50 {
		st.Failures = []string{ReasonInsufficientData}
		return st
	}
	st.EMA9Slope = slope9
	st.EMA50Slope = slope50

	ordered := st.EMA9 > st.EMA50 && st.EMA50 > st.EMA200
	if ordered && slope9 > 0 && slope50 > 0 {
		st.Stacked = true
		st.StackingStrength = models.StrengthModerate
		if st.EMA200 != 0 && (st.EMA9-st.EMA200)/st.EMA200 > stackingStrongSpread {
			st.StackingStrength = models.StrengthStrong
		}
		st.SlopeStrength = models.StrengthModerate
		if slope9 > 2*slope50 {
			st.SlopeStrength = models.StrengthStrong
		}
		return st
	}

	if !ordered {
		st.Failures = append(st.Failures, ReasonNotStacked)
	}
	if slope9 <= 0 {
		st.Failures = append(st.Failures, ReasonFastSlope)
	}
	if slope50 <= 0 {
		st.Failures = append(st.Failures, ReasonMidSlope)
	}
	return st
}
