package models

import "time"

// Squeeze intensity levels.
const (
	SqueezeIntensityHigh   = "high"
	SqueezeIntensityMedium = "medium"
	SqueezeIntensityLow    = "low"
)

// Volume spike intensity levels.
const (
	SpikeIntensityExtreme  = "extreme"
	SpikeIntensityHigh     = "high"
	SpikeIntensityModerate = "moderate"
)

// EMA stacking strength labels.
const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
)

// SqueezeResult holds the latest-bar TTM squeeze values for one symbol.
type SqueezeResult struct {
	SqueezeDays  int       `json:"squeeze_days"`
	Intensity    string    `json:"squeeze_intensity"`
	BBUpper      float64   `json:"bb_upper"`
	BBMiddle     float64   `json:"bb_middle"`
	BBLower      float64   `json:"bb_lower"`
	KCUpper      float64   `json:"kc_upper"`
	KCMiddle     float64   `json:"kc_middle"`
	KCLower      float64   `json:"kc_lower"`
	Momentum     float64   `json:"momentum"`
	LatestClose  float64   `json:"latest_close"`
	LatestVolume int64     `json:"latest_volume"`
	LatestDate   time.Time `json:"latest_date"`
	DataPoints   int       `json:"data_points"`
	ATR          float64   `json:"atr"`
	ATRRatio     float64   `json:"atr_ratio"`
	HasATR       bool      `json:"has_atr"`
}

// EMAStack is the 9/50/200 EMA stacking verdict. Non-stacked results keep
// the raw values and the failed conditions.
type EMAStack struct {
	EMA9             float64  `json:"ema_9"`
	EMA50            float64  `json:"ema_50"`
	EMA200           float64  `json:"ema_200"`
	EMA9Slope        float64  `json:"ema_9_slope"`
	EMA50Slope       float64  `json:"ema_50_slope"`
	Stacked          bool     `json:"stacked"`
	StackingStrength string   `json:"stacking_strength,omitempty"`
	SlopeStrength    string   `json:"slope_strength,omitempty"`
	Failures         []string `json:"failures,omitempty"`
}

// VolumeSpike holds the latest-bar abnormal volume values for one symbol.
type VolumeSpike struct {
	VolumeRatio     float64   `json:"volume_ratio"`
	AvgVolume30d    float64   `json:"avg_volume_30d"`
	MedianVolume30d float64   `json:"median_volume_30d,omitempty"`
	LatestVolume    int64     `json:"latest_volume"`
	ConsecutiveDays int       `json:"consecutive_days"`
	Intensity       string    `json:"spike_intensity"`
	LatestClose     float64   `json:"latest_close"`
	LatestDate      time.Time `json:"latest_date"`
	EMA9            float64   `json:"ema_9,omitempty"`
}

// AnalysisOutcome is the tagged result of analysing one symbol.
// Implemented by SqueezeSignal, SpikeSignal, NoSignal and AnalysisFailure.
type AnalysisOutcome interface {
	OutcomeSymbol() string
	isAnalysisOutcome()
}

// SqueezeSignal is a qualifying squeeze on an EMA-stacked series.
type SqueezeSignal struct {
	Symbol  string        `json:"symbol"`
	Squeeze SqueezeResult `json:"squeeze"`
	EMA     EMAStack      `json:"ema"`
}

// SpikeSignal is a qualifying volume spike.
type SpikeSignal struct {
	Symbol string      `json:"symbol"`
	Spike  VolumeSpike `json:"spike"`
}

// NoSignal means the analysis ran and nothing qualified.
type NoSignal struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason,omitempty"`
}

// AnalysisFailure means the analysis itself could not be computed.
type AnalysisFailure struct {
	Symbol string `json:"symbol"`
	Error  string `json:"error"`
}

func (s SqueezeSignal) OutcomeSymbol() string   { return s.Symbol }
func (s SpikeSignal) OutcomeSymbol() string     { return s.Symbol }
func (s NoSignal) OutcomeSymbol() string        { return s.Symbol }
func (s AnalysisFailure) OutcomeSymbol() string { return s.Symbol }

func (SqueezeSignal) isAnalysisOutcome()   {}
func (SpikeSignal) isAnalysisOutcome()     {}
func (NoSignal) isAnalysisOutcome()        {}
func (AnalysisFailure) isAnalysisOutcome() {}

// SymbolAnalysis is the ad hoc single-symbol view: unfiltered squeeze,
// EMA stack and standalone volume spike.
type SymbolAnalysis struct {
	Symbol     string         `json:"symbol"`
	Market     Market         `json:"market"`
	DataPoints int            `json:"data_points"`
	Squeeze    *SqueezeResult `json:"squeeze,omitempty"`
	EMA        EMAStack       `json:"ema"`
	Spike      *VolumeSpike   `json:"volume_spike,omitempty"`
	AnalyzedAt time.Time      `json:"analyzed_at"`
}
