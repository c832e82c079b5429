package server

import (
	"fmt"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

type exchangeHours struct {
	timezone    string
	open, close time.Duration // offsets from local midnight
}

var regularHours = map[models.Market]exchangeHours{
	models.MarketUS: {timezone: "America/New_York", open: 9*time.Hour + 30*time.Minute, close: 16 * time.Hour},
	models.MarketAU: {timezone: "Australia/Sydney", open: 10 * time.Hour, close: 16 * time.Hour},
}

func clock(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

// marketStatusAt reports the regular-session state of a market at now.
// Holidays are not modelled; weekdays inside the window count as open.
func marketStatusAt(market models.Market, now time.Time) (models.MarketStatus, error) {
	h, ok := regularHours[market]
	if !ok {
		return models.MarketStatus{}, fmt.Errorf("no trading hours for market %s", market)
	}
	loc, err := time.LoadLocation(h.timezone)
	if err != nil {
		return models.MarketStatus{}, fmt.Errorf("load timezone %s: %w", h.timezone, err)
	}

	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	since := local.Sub(midnight)
	weekday := local.Weekday() != time.Saturday && local.Weekday() != time.Sunday

	return models.MarketStatus{
		Market:      market,
		IsOpen:      weekday && since >= h.open && since <= h.close,
		Timezone:    h.timezone,
		CurrentTime: local.Format("2006-01-02 15:04:05 MST"),
		MarketHours: models.TradingHours{Open: clock(h.open), Close: clock(h.close)},
	}, nil
}
