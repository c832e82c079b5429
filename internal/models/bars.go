package models

import (
	"errors"
	"time"
)

// Bar is one trading day of OHLCV data.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Turnover is close times volume, the liquidity proxy used by the funnel.
func (b Bar) Turnover() float64 {
	return b.Close * float64(b.Volume)
}

// BarSeries is the ascending daily history of one symbol in one market.
// It is treated as immutable once fetched.
type BarSeries struct {
	Symbol Symbol `json:"symbol"`
	Market Market `json:"market"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars.
func (s BarSeries) Len() int {
	return len(s.Bars)
}

// Latest returns the most recent bar. ok is false for an empty series.
func (s BarSeries) Latest() (Bar, bool) {
	if len(s.Bars) == 0 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Previous returns the bar before the latest one.
func (s BarSeries) Previous() (Bar, bool) {
	if len(s.Bars) < 2 {
		return Bar{}, false
	}
	return s.Bars[len(s.Bars)-2], true
}

// Closes returns the close prices in date order.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Highs returns the high prices in date order.
func (s BarSeries) Highs() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.High
	}
	return out
}

// Lows returns the low prices in date order.
func (s BarSeries) Lows() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Low
	}
	return out
}

// Volumes returns volumes as floats in date order.
func (s BarSeries) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = float64(b.Volume)
	}
	return out
}

// ErrUnorderedBars is returned by Validate for series that are not strictly ascending.
var ErrUnorderedBars = errors.New("bars are not strictly ascending by date")

// Validate checks the series is strictly ascending with unique dates.
func (s BarSeries) Validate() error {
	for i := 1; i < len(s.Bars); i++ {
		if !s.Bars[i].Date.After(s.Bars[i-1].Date) {
			return ErrUnorderedBars
		}
	}
	return nil
}

// FetchErrorKind classifies why a symbol's bars could not be retrieved.
type FetchErrorKind string

const (
	FetchErrorNone      FetchErrorKind = ""
	FetchErrorNotFound  FetchErrorKind = "not_found"
	FetchErrorEmpty     FetchErrorKind = "empty"
	FetchErrorTransient FetchErrorKind = "transient"
	FetchErrorUnknown   FetchErrorKind = "unknown"
)

// FetchOutcome is the result of fetching one symbol. Produced once per
// symbol per fetch call.
type FetchOutcome struct {
	Symbol    Symbol         `json:"symbol"`
	Succeeded bool           `json:"succeeded"`
	Series    BarSeries      `json:"series"`
	ErrorKind FetchErrorKind `json:"error_kind,omitempty"`
	Err       error          `json:"-"`
}
