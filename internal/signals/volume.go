package signals

import (
	"math"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

// SpikePolicy maps a volume ratio to an intensity label.
type SpikePolicy struct {
	Name    string
	Extreme float64
	High    float64
}

// Intensity returns the label for ratio under this policy.
func (p SpikePolicy) Intensity(ratio float64) string {
	switch {
	case ratio >= p.Extreme:
		return models.SpikeIntensityExtreme
	case ratio >= p.High:
		return models.SpikeIntensityHigh
	default:
		return models.SpikeIntensityModerate
	}
}

var (
	// StandaloneSpikePolicy grades the single-symbol ratio against the 30-day mean.
	StandaloneSpikePolicy = SpikePolicy{Name: "standalone", Extreme: 10.0, High: 5.0}

	// FunnelSpikePolicy grades the market-wide ratio against the 30-day median.
	// The bands are a local choice, a notch above the standalone ones.
	FunnelSpikePolicy = SpikePolicy{Name: "funnel", Extreme: 12.0, High: 6.0}
)

// Standalone spike thresholds.
const (
	SpikeRatioThreshold       = 3.0
	ConsecutiveRatioThreshold = 2.0
)

// FunnelSpikeDays is the number of most recent bars that must all clear the
// funnel volume gate.
const FunnelSpikeDays = 3

// VolumeRatioSeries returns volume / rolling 30-bar mean volume (the mean
// includes the bar itself). Positions without a full window, or with a zero
// mean, are NaN.
func VolumeRatioSeries(volumes []float64) []float64 {
	ma := SMASeries(volumes, VolumeWindow)
	out := make([]float64, len(volumes))
	for i, v := range volumes {
		if math.IsNaN(ma[i]) || ma[i] == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = v / ma[i]
	}
	return out
}

// VolumeSpike is the single-symbol spike check: the latest volume at least
// 3x its 30-day average. Consecutive days use the lower 2x threshold.
func VolumeSpike(series models.BarSeries) (models.VolumeSpike, bool) {
	latest, ok := series.Latest()
	if !ok {
		return models.VolumeSpike{}, false
	}
	volumes := series.Volumes()
	ratios := VolumeRatioSeries(volumes)
	ratio := ratios[len(ratios)-1]
	if math.IsNaN(ratio) || ratio < SpikeRatioThreshold {
		return models.VolumeSpike{}, false
	}

	flags := make([]bool, len(ratios))
	for i, r := range ratios {
		flags[i] = r >= ConsecutiveRatioThreshold
	}

	return models.VolumeSpike{
		VolumeRatio:     ratio,
		AvgVolume30d:    Mean(Tail(volumes, VolumeWindow)),
		LatestVolume:    latest.Volume,
		ConsecutiveDays: CountTrailing(flags),
		Intensity:       StandaloneSpikePolicy.Intensity(ratio),
		LatestClose:     latest.Close,
		LatestDate:      latest.Date,
	}, true
}

// FunnelVolumeSpike is the market-wide spike gate. It requires at least 30
// bars, each of the last 3 volumes at or above minRatio times the median of
// the trailing 30 volumes, and the latest close strictly above EMA9. Series
// with a zero median or an all-zero last 3 days never qualify.
func FunnelVolumeSpike(series models.BarSeries, minRatio float64) (models.VolumeSpike, bool) {
	if series.Len() < VolumeWindow {
		return models.VolumeSpike{}, false
	}
	latest, _ := series.Latest()

	volumes := series.Volumes()
	trailing := Tail(volumes, VolumeWindow)
	median := Median(trailing)
	if median <= 0 {
		return models.VolumeSpike{}, false
	}

	recent := Tail(volumes, FunnelSpikeDays)
	allZero := true
	threshold := minRatio * median
	for _, v := range recent {
		if v != 0 {
			allZero = false
		}
		if v < threshold {
			return models.VolumeSpike{}, false
		}
	}
	if allZero {
		return models.VolumeSpike{}, false
	}

	ema9 := EMA(series.Closes(), FastEMASpan)
	if !(latest.Close > ema9) {
		return models.VolumeSpike{}, false
	}

	flags := make([]bool, len(volumes))
	for i, v := range volumes {
		flags[i] = v >= threshold
	}
	ratio := float64(latest.Volume) / median

	return models.VolumeSpike{
		VolumeRatio:     ratio,
		AvgVolume30d:    Mean(trailing),
		MedianVolume30d: median,
		LatestVolume:    latest.Volume,
		ConsecutiveDays: CountTrailing(flags),
		Intensity:       FunnelSpikePolicy.Intensity(ratio),
		LatestClose:     latest.Close,
		LatestDate:      latest.Date,
		EMA9:            ema9,
	}, true
}
