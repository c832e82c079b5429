// Package interfaces defines service contracts for the scanner
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

// UniverseProvider lists the securities traded on an exchange.
type UniverseProvider interface {
	// GetExchangeSymbols returns every listing for the provider exchange code
	GetExchangeSymbols(ctx context.Context, exchange string) ([]models.Symbol, error)
}

// BarProvider retrieves daily OHLCV history.
type BarProvider interface {
	// GetDailyBars returns bars for a provider ticker (e.g. "BHP.AU") in
	// ascending date order between from and to inclusive
	GetDailyBars(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error)
}
