package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"github.com/bobmcallan/vire-scanner/internal/clients/eodhd"
	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// Universe loads the tradable common-stock list of a market.
type Universe struct {
	provider   interfaces.UniverseProvider
	logger     *common.Logger
	retries    uint64
	retryDelay time.Duration
}

// NewUniverse creates a universe loader. retries is the number of extra
// attempts after a failed symbol-list request.
func NewUniverse(provider interfaces.UniverseProvider, retries int, logger *common.Logger) *Universe {
	if retries < 0 {
		retries = 0
	}
	return &Universe{
		provider:   provider,
		logger:     logger,
		retries:    uint64(retries),
		retryDelay: 500 * time.Millisecond,
	}
}

// Load returns the market's common stocks, restricted to the configured
// venues. An empty result is an error: a scan over nothing would wipe the
// current snapshot.
func (u *Universe) Load(ctx context.Context, market models.MarketConfig) ([]models.Symbol, error) {
	var raw []models.Symbol

	operation := func() error {
		var err error
		raw, err = u.provider.GetExchangeSymbols(ctx, market.Exchange)
		if err == nil {
			return nil
		}
		var apiErr *eodhd.APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return backoff.Permanent(err)
		}
		u.logger.Warn().Err(err).Str("market", string(market.Market)).Msg("Symbol list request failed, retrying")
		return err
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = u.retryDelay
	strategy.MaxElapsedTime = 2 * time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(strategy, u.retries), ctx)); err != nil {
		return nil, fmt.Errorf("failed to load %s symbol list: %w", market.Market, err)
	}

	symbols := FilterUniverse(market, raw)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no common stocks found for market %s", market.Market)
	}

	u.logger.Info().
		Str("market", string(market.Market)).
		Int("listed", len(raw)).
		Int("common_stocks", len(symbols)).
		Msg("Universe loaded")

	return symbols, nil
}

// FilterUniverse keeps common stocks on allowed venues, one entry per code.
func FilterUniverse(market models.MarketConfig, symbols []models.Symbol) []models.Symbol {
	kept := lo.Filter(symbols, func(s models.Symbol, _ int) bool {
		return s.Code != "" && s.Type == models.SecurityTypeCommonStock && market.AllowsVenue(s.Exchange)
	})
	return lo.UniqBy(kept, func(s models.Symbol) string { return s.Code })
}
