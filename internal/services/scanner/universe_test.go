package scanner

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-scanner/internal/clients/eodhd"
	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

var usMarket = models.MarketConfig{
	Market:   models.MarketUS,
	Exchange: "US",
	Venues:   []string{"NYSE", "NASDAQ", "NYSE ARCA", "NYSE MKT", "BATS"},
}

func TestFilterUniverse(t *testing.T) {
	in := []models.Symbol{
		{Code: "AAPL", Exchange: "NASDAQ", Type: models.SecurityTypeCommonStock},
		{Code: "SPY", Exchange: "NYSE ARCA", Type: "ETF"},
		{Code: "OTCX", Exchange: "PINK", Type: models.SecurityTypeCommonStock},
		{Code: "IBM", Exchange: "NYSE", Type: models.SecurityTypeCommonStock},
		{Code: "IBM", Exchange: "NYSE", Type: models.SecurityTypeCommonStock},
		{Code: "", Exchange: "NYSE", Type: models.SecurityTypeCommonStock},
	}

	got := FilterUniverse(usMarket, in)

	require.Len(t, got, 2)
	assert.Equal(t, "AAPL", got[0].Code)
	assert.Equal(t, "IBM", got[1].Code)

	au := models.MarketConfig{Market: models.MarketAU, Exchange: "AU"}
	assert.Len(t, FilterUniverse(au, in), 3, "no venue list admits every common stock")
}

func TestUniverse_RetriesTransientFailures(t *testing.T) {
	calls := 0
	provider := &mockUniverseProvider{
		symbolsFn: func(ctx context.Context, exchange string) ([]models.Symbol, error) {
			calls++
			if calls < 3 {
				return nil, &eodhd.APIError{StatusCode: http.StatusBadGateway}
			}
			return []models.Symbol{{Code: "AAPL", Exchange: "NASDAQ", Type: models.SecurityTypeCommonStock}}, nil
		},
	}

	u := NewUniverse(provider, 3, common.NewSilentLogger())
	u.retryDelay = time.Millisecond

	got, err := u.Load(context.Background(), usMarket)

	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 3, calls)
}

func TestUniverse_PermanentFailureNotRetried(t *testing.T) {
	calls := 0
	provider := &mockUniverseProvider{
		symbolsFn: func(ctx context.Context, exchange string) ([]models.Symbol, error) {
			calls++
			return nil, &eodhd.APIError{StatusCode: http.StatusUnauthorized}
		},
	}

	u := NewUniverse(provider, 3, common.NewSilentLogger())
	u.retryDelay = time.Millisecond

	_, err := u.Load(context.Background(), usMarket)

	var apiErr *eodhd.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 1, calls)
}

func TestUniverse_EmptyIsError(t *testing.T) {
	provider := &mockUniverseProvider{
		symbolsFn: func(ctx context.Context, exchange string) ([]models.Symbol, error) {
			return []models.Symbol{{Code: "SPY", Exchange: "NYSE ARCA", Type: "ETF"}}, nil
		},
	}

	_, err := NewUniverse(provider, 0, common.NewSilentLogger()).Load(context.Background(), usMarket)
	assert.Error(t, err)
}
