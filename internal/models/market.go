package models

import "strings"

// Market identifies an exchange universe that can be scanned.
type Market string

const (
	MarketUS Market = "US"
	MarketAU Market = "AU"
)

// ParseMarket normalises a market code from user input ("us", "AU", ...).
func ParseMarket(s string) (Market, bool) {
	switch Market(strings.ToUpper(strings.TrimSpace(s))) {
	case MarketUS:
		return MarketUS, true
	case MarketAU:
		return MarketAU, true
	}
	return "", false
}

// String returns the market code.
func (m Market) String() string {
	return string(m)
}

// Ticker formats a symbol code for the provider, e.g. "BHP" -> "BHP.AU".
func (m Market) Ticker(code string) string {
	return code + "." + string(m)
}

// SecurityTypeCommonStock is the only security type the universe keeps.
const SecurityTypeCommonStock = "Common Stock"

// Symbol is a single listing returned by the exchange symbol list.
type Symbol struct {
	Code     string `json:"Code"`
	Name     string `json:"Name"`
	Country  string `json:"Country"`
	Exchange string `json:"Exchange"`
	Currency string `json:"Currency"`
	Type     string `json:"Type"`
}

// MarketConfig carries the per-market scan parameters.
type MarketConfig struct {
	Market         Market   `json:"market"`
	Exchange       string   `json:"exchange"` // provider exchange code for the symbol list
	Venues         []string `json:"venues,omitempty"`
	MinTurnover    float64  `json:"min_turnover"`
	MinVolumeRatio float64  `json:"min_volume_ratio"`
	MinSqueezeDays int      `json:"min_squeeze_days"`
	Schedule       string   `json:"schedule"`
	Enabled        bool     `json:"enabled"`
}

// AllowsVenue reports whether a listing venue is in scope for the market.
// An empty venue list admits everything.
func (c MarketConfig) AllowsVenue(venue string) bool {
	if len(c.Venues) == 0 {
		return true
	}
	for _, v := range c.Venues {
		if strings.EqualFold(v, venue) {
			return true
		}
	}
	return false
}

// Thresholds are the caller-overridable knobs for one scan run.
// Zero values fall back to the market configuration.
type Thresholds struct {
	MinSqueezeDays int     `json:"min_squeeze_days,omitempty"`
	MinTurnover    float64 `json:"min_turnover,omitempty"`
	MinVolumeRatio float64 `json:"min_volume_ratio,omitempty"`
}

// Resolve fills unset thresholds from the market configuration.
func (t Thresholds) Resolve(cfg MarketConfig) Thresholds {
	if t.MinSqueezeDays <= 0 {
		t.MinSqueezeDays = cfg.MinSqueezeDays
	}
	if t.MinSqueezeDays <= 0 {
		t.MinSqueezeDays = 5
	}
	if t.MinTurnover <= 0 {
		t.MinTurnover = cfg.MinTurnover
	}
	if t.MinVolumeRatio <= 0 {
		t.MinVolumeRatio = cfg.MinVolumeRatio
	}
	return t
}

// TradingHours is an exchange session in local wall-clock time.
type TradingHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// MarketStatus reports whether an exchange is in its regular session.
type MarketStatus struct {
	Market      Market       `json:"market"`
	IsOpen      bool         `json:"is_open"`
	Timezone    string       `json:"timezone"`
	CurrentTime string       `json:"current_time"`
	MarketHours TradingHours `json:"market_hours"`
}
