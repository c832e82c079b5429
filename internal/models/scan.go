package models

import (
	"sort"
	"time"
)

// ScanStatus is the lifecycle state of a scan session.
type ScanStatus string

const (
	ScanStatusQueued    ScanStatus = "queued"
	ScanStatusRunning   ScanStatus = "running"
	ScanStatusCompleted ScanStatus = "completed"
	ScanStatusFailed    ScanStatus = "failed"
	ScanStatusCancelled ScanStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s ScanStatus) Terminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// ScanTrigger records what started a session.
type ScanTrigger string

const (
	ScanTriggerScheduled ScanTrigger = "scheduled"
	ScanTriggerManual    ScanTrigger = "manual"
)

// ScanKind is the analysis a result row belongs to.
type ScanKind string

const (
	ScanKindSqueeze     ScanKind = "squeeze"
	ScanKindVolumeSpike ScanKind = "volume_spike"
)

// ScanSession is the log entry of one orchestrator run.
type ScanSession struct {
	ID           string      `json:"id" gorm:"primaryKey;column:session_id"`
	Market       Market      `json:"market" gorm:"index"`
	Trigger      ScanTrigger `json:"trigger"`
	Status       ScanStatus  `json:"status" gorm:"index"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	ResultCount  int         `json:"result_count"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Thresholds   Thresholds  `json:"thresholds" gorm:"embedded;embeddedPrefix:threshold_"`

	// Pipeline counters, filled as the run progresses.
	UniverseCount  int `json:"universe_count"`
	FetchedCount   int `json:"fetched_count"`
	FailedCount    int `json:"failed_count"`
	LiquidCount    int `json:"liquid_count"`
	SqueezeCount   int `json:"squeeze_count"`
	SpikeCount     int `json:"spike_count"`
	AnalysisErrors int `json:"analysis_errors"`
}

// Duration returns the elapsed run time, or zero while unfinished.
func (s *ScanSession) Duration() time.Duration {
	if s.EndTime.IsZero() || s.StartTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// ScanResultRow is one qualifying symbol in the current snapshot of a market.
type ScanResultRow struct {
	RowID         uint      `json:"-" gorm:"primaryKey;autoIncrement"`
	SessionID     string    `json:"session_id" gorm:"index"`
	Market        Market    `json:"market" gorm:"index"`
	Kind          ScanKind  `json:"scan_type"`
	Symbol        string    `json:"symbol"`
	CompanyName   string    `json:"company_name"`
	Exchange      string    `json:"exchange"`
	Currency      string    `json:"currency,omitempty"`
	ScanDate      time.Time `json:"scan_date"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Turnover      float64   `json:"turnover"`

	// Squeeze fields.
	SqueezeDays      int     `json:"squeeze_days,omitempty"`
	SqueezeIntensity string  `json:"squeeze_intensity,omitempty"`
	BBUpper          float64 `json:"bb_upper,omitempty"`
	BBMiddle         float64 `json:"bb_middle,omitempty"`
	BBLower          float64 `json:"bb_lower,omitempty"`
	KCUpper          float64 `json:"kc_upper,omitempty"`
	KCMiddle         float64 `json:"kc_middle,omitempty"`
	KCLower          float64 `json:"kc_lower,omitempty"`
	Momentum         float64 `json:"momentum,omitempty"`
	ATR              float64 `json:"atr,omitempty"`
	ATRRatio         float64 `json:"atr_ratio,omitempty"`
	EMA9             float64 `json:"ema_9,omitempty"`
	EMA50            float64 `json:"ema_50,omitempty"`
	EMA200           float64 `json:"ema_200,omitempty"`
	StackingStrength string  `json:"stacking_strength,omitempty"`
	SlopeStrength    string  `json:"slope_strength,omitempty"`

	// Spike fields.
	VolumeRatio     float64 `json:"volume_ratio,omitempty"`
	AvgVolume30d    float64 `json:"avg_volume_30d,omitempty"`
	MedianVolume30d float64 `json:"median_volume_30d,omitempty"`
	ConsecutiveDays int     `json:"consecutive_days,omitempty"`
	SpikeIntensity  string  `json:"spike_intensity,omitempty"`
}

// LatestResults is the read view of a market's current snapshot.
type LatestResults struct {
	Market     Market          `json:"market"`
	Session    *ScanSession    `json:"session,omitempty"`
	Squeeze    []ScanResultRow `json:"ttm_squeeze"`
	Spikes     []ScanResultRow `json:"volume_spike"`
	SydneyTime string          `json:"sydney_time,omitempty"`
}

// Count returns the total rows across both kinds.
func (r *LatestResults) Count() int {
	return len(r.Squeeze) + len(r.Spikes)
}

// SplitByKind separates rows into squeeze and spike lists in ranking order:
// longest squeeze first, largest volume ratio first, then by symbol.
func SplitByKind(rows []ScanResultRow) (squeeze, spikes []ScanResultRow) {
	squeeze = []ScanResultRow{}
	spikes = []ScanResultRow{}
	for _, r := range rows {
		switch r.Kind {
		case ScanKindSqueeze:
			squeeze = append(squeeze, r)
		case ScanKindVolumeSpike:
			spikes = append(spikes, r)
		}
	}
	sort.SliceStable(squeeze, func(i, j int) bool {
		if squeeze[i].SqueezeDays != squeeze[j].SqueezeDays {
			return squeeze[i].SqueezeDays > squeeze[j].SqueezeDays
		}
		return squeeze[i].Symbol < squeeze[j].Symbol
	})
	sort.SliceStable(spikes, func(i, j int) bool {
		if spikes[i].VolumeRatio != spikes[j].VolumeRatio {
			return spikes[i].VolumeRatio > spikes[j].VolumeRatio
		}
		return spikes[i].Symbol < spikes[j].Symbol
	})
	return squeeze, spikes
}

// FunnelStage records the narrowing performed by one funnel step.
type FunnelStage struct {
	Name        string        `json:"name"`
	InputCount  int           `json:"input_count"`
	OutputCount int           `json:"output_count"`
	Duration    time.Duration `json:"duration_ms"`
	Filters     string        `json:"filters,omitempty"`
}

// RunningScan is a registry entry exposed by the status endpoint.
type RunningScan struct {
	Market    Market    `json:"market"`
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
}

// TriggerStatus describes one scheduled trigger.
type TriggerStatus struct {
	Market    Market    `json:"market"`
	Schedule  string    `json:"schedule"`
	LastFired time.Time `json:"last_fired,omitempty"`
	NextFire  time.Time `json:"next_fire"`
}

// ScannerStatus is the combined run and schedule view.
type ScannerStatus struct {
	Running  []RunningScan   `json:"running"`
	Triggers []TriggerStatus `json:"triggers"`
}

// TableName maps sessions to the scan_sessions table for relational stores.
func (ScanSession) TableName() string { return "scan_sessions" }

// TableName maps rows to the scan_results table for relational stores.
func (ScanResultRow) TableName() string { return "scan_results" }
