// Package signals provides technical indicator calculations over ascending
// daily bar series. Every function is pure: no I/O and no shared state.
package signals

import (
	"math"
	"sort"
)

// Window sizes used by the squeeze and stacking calculations.
const (
	BollingerPeriod = 20
	BollingerStdDev = 2.0
	KeltnerPeriod   = 20
	KeltnerATRMult  = 1.5
	ATRPeriod       = 14
	MomentumPeriod  = 12
	SlopeLookback   = 5
	VolumeWindow    = 30
)

// EMASeries returns the adjusted exponential moving average of values with
// the given span, weighting observation i back by (1-alpha)^i and
// normalising by the sum of weights. The first value equals the first input,
// so short inputs degrade to a running weighted mean instead of failing.
// NaN inputs are skipped and carry the previous value forward.
func EMASeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	if span < 1 {
		span = 1
	}
	alpha := 2.0 / (float64(span) + 1.0)
	decay := 1.0 - alpha

	num, den := 0.0, 0.0
	seen := false
	for i, v := range values {
		if math.IsNaN(v) {
			if seen {
				out[i] = num / den
			} else {
				out[i] = math.NaN()
			}
			// Missing observations still age the existing weights.
			num *= decay
			den *= decay
			continue
		}
		num = v + decay*num
		den = 1.0 + decay*den
		seen = true
		out[i] = num / den
	}
	return out
}

// EMA returns the latest adjusted EMA value, or NaN for empty input.
func EMA(values []float64, span int) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	s := EMASeries(values, span)
	return s[len(s)-1]
}

// SMASeries returns the rolling simple mean. Positions before the window
// fills are NaN.
func SMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
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

// StdDevSeries returns the rolling population standard deviation.
// Positions before the window fills are NaN.
func StdDevSeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if period <= 0 || i < period-1 {
			out[i] = math.NaN()
			continue
		}
		window := values[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		ss := 0.0
		for _, v := range window {
			d := v - mean
			ss += d * d
		}
		out[i] = math.Sqrt(ss / float64(period))
	}
	return out
}

// TrueRangeSeries returns max(high-low, |high-prevClose|, |low-prevClose|).
// The first bar has no previous close and uses high-low.
func TrueRangeSeries(highs, lows, closes []float64) []float64 {
	n := minLen(highs, lows, closes)
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		tr := highs[i] - lows[i]
		if i > 0 {
			prev := closes[i-1]
			tr = math.Max(tr, math.Abs(highs[i]-prev))
			tr = math.Max(tr, math.Abs(lows[i]-prev))
		}
		out[i] = tr
	}
	return out
}

// ATRSeries returns the EMA of the true range with the given span.
func ATRSeries(highs, lows, closes []float64, span int) []float64 {
	return EMASeries(TrueRangeSeries(highs, lows, closes), span)
}

// Momentum returns close[t] - close[t-period] for the latest bar.
// ok is false when the series is too short.
func Momentum(closes []float64, period int) (float64, bool) {
	if period < 0 || len(closes) <= period {
		return 0, false
	}
	last := len(closes) - 1
	return closes[last] - closes[last-period], true
}

// Slope returns the latest value minus the value lookback bars earlier.
func Slope(series []float64, lookback int) (float64, bool) {
	if lookback <= 0 || len(series) <= lookback {
		return math.NaN(), false
	}
	last := len(series) - 1
	return series[last] - series[last-lookback], true
}

// Median returns the median of values, or 0 for empty input.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

// Mean returns the arithmetic mean of values, or 0 for empty input.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// CountTrailing counts consecutive true values scanning back from the end.
func CountTrailing(flags []bool) int {
	n := 0
	for i := len(flags) - 1; i >= 0; i-- {
		if !flags[i] {
			break
		}
		n++
	}
	return n
}

// Tail returns the last n values (or all of them when shorter).
func Tail(values []float64, n int) []float64 {
	if n >= len(values) {
		return values
	}
	return values[len(values)-n:]
}

func minLen(slices ...[]float64) int {
	n := math.MaxInt
	for _, s := range slices {
		if len(s) < n {
			n = len(s)
		}
	}
	if n == math.MaxInt {
		return 0
	}
	return n
}
