package scanner

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/models"
	"github.com/bobmcallan/vire-scanner/internal/signals"
)

// Minimum history for each candidate set.
const (
	MinSqueezeBars = signals.BollingerPeriod
	MinSpikeBars   = signals.VolumeWindow
)

// Candidate is a series that passed the funnel.
type Candidate struct {
	Series   models.BarSeries
	Turnover float64

	// Spike is set for spike candidates; it was computed while gating.
	Spike *models.VolumeSpike
}

// FunnelResult holds the narrowed sets and the stage bookkeeping.
type FunnelResult struct {
	Liquid            []Candidate
	SqueezeCandidates []Candidate
	SpikeCandidates   []Candidate
	Stages            []models.FunnelStage
}

// Funnel narrows a market's fetched series to the candidates worth analysing.
type Funnel struct {
	logger *common.Logger
}

// NewFunnel creates a funnel.
func NewFunnel(logger *common.Logger) *Funnel {
	return &Funnel{logger: logger}
}

// Filter applies the liquidity gate and then splits liquid series into
// squeeze and spike candidates. Unset thresholds fall back to the market.
func (f *Funnel) Filter(market models.MarketConfig, thresholds models.Thresholds, series []models.BarSeries) FunnelResult {
	th := thresholds.Resolve(market)
	var res FunnelResult

	// Stage 1: liquidity
	start := time.Now()
	res.Liquid = lo.FilterMap(series, func(s models.BarSeries, _ int) (Candidate, bool) {
		latest, ok := s.Latest()
		if !ok {
			return Candidate{}, false
		}
		turnover := latest.Turnover()
		return Candidate{Series: s, Turnover: turnover}, turnover >= th.MinTurnover
	})
	res.Stages = append(res.Stages, f.stage(market.Market, "liquidity", len(series), len(res.Liquid), start,
		fmt.Sprintf("turnover >= %.0f", th.MinTurnover)))

	// Stage 2: squeeze history
	start = time.Now()
	res.SqueezeCandidates = lo.Filter(res.Liquid, func(c Candidate, _ int) bool {
		return c.Series.Len() >= MinSqueezeBars
	})
	res.Stages = append(res.Stages, f.stage(market.Market, "squeeze_candidates", len(res.Liquid), len(res.SqueezeCandidates), start,
		fmt.Sprintf("bars >= %d", MinSqueezeBars)))

	// Stage 3: volume spike gate
	start = time.Now()
	res.SpikeCandidates = lo.FilterMap(res.Liquid, func(c Candidate, _ int) (Candidate, bool) {
		spike, ok := signals.FunnelVolumeSpike(c.Series, th.MinVolumeRatio)
		if !ok {
			return Candidate{}, false
		}
		c.Spike = &spike
		return c, true
	})
	res.Stages = append(res.Stages, f.stage(market.Market, "spike_candidates", len(res.Liquid), len(res.SpikeCandidates), start,
		fmt.Sprintf("last %d volumes >= %.1fx median, close > EMA9", signals.FunnelSpikeDays, th.MinVolumeRatio)))

	return res
}

func (f *Funnel) stage(market models.Market, name string, in, out int, start time.Time, filters string) models.FunnelStage {
	st := models.FunnelStage{
		Name:        name,
		InputCount:  in,
		OutputCount: out,
		Duration:    time.Since(start),
		Filters:     filters,
	}
	f.logger.Debug().
		Str("market", string(market)).
		Str("stage", name).
		Int("input", in).
		Int("output", out).
		Str("filters", filters).
		Dur("elapsed", st.Duration).
		Msg("Funnel stage")
	return st
}
