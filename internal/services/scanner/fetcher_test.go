package scanner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-scanner/internal/clients/eodhd"
	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

func symbols(n int) []models.Symbol {
	out := make([]models.Symbol, n)
	for i := range out {
		out[i] = models.Symbol{Code: fmt.Sprintf("S%03d", i), Type: models.SecurityTypeCommonStock}
	}
	return out
}

func okBars(context.Context, string, time.Time, time.Time) ([]models.Bar, error) {
	return makeBars(linear(5, 10, 1), 0.5, flat(5, 1000)), nil
}

func TestFetcher_ConcurrencyNeverExceedsLimit(t *testing.T) {
	var maxSeen atomic.Int64
	provider := &mockBarProvider{
		barsFn: func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
			time.Sleep(5 * time.Millisecond)
			return okBars(ctx, ticker, from, to)
		},
	}

	f := NewFetcher(provider, nil, FetcherOptions{
		MaxConcurrent: 3,
		BatchSize:     40,
		OnActive: func(active int) {
			for {
				cur := maxSeen.Load()
				if int64(active) <= cur || maxSeen.CompareAndSwap(cur, int64(active)) {
					return
				}
			}
		},
	}, common.NewSilentLogger())

	outcomes, err := f.FetchAll(context.Background(), models.MarketUS, "s1", symbols(100), time.Time{}, time.Time{})

	require.NoError(t, err)
	assert.Len(t, outcomes, 100)
	assert.LessOrEqual(t, maxSeen.Load(), int64(3))
	assert.GreaterOrEqual(t, maxSeen.Load(), int64(1))
	for _, o := range outcomes {
		assert.True(t, o.Succeeded)
		assert.Equal(t, models.MarketUS, o.Series.Market)
	}
}

func TestFetcher_OutcomesKeepInputOrderAndTicker(t *testing.T) {
	var mu sync.Mutex
	var tickers []string
	provider := &mockBarProvider{
		barsFn: func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
			mu.Lock()
			tickers = append(tickers, ticker)
			mu.Unlock()
			return okBars(ctx, ticker, from, to)
		},
	}

	f := NewFetcher(provider, nil, FetcherOptions{MaxConcurrent: 4, BatchSize: 10}, common.NewSilentLogger())
	syms := symbols(25)
	outcomes, err := f.FetchAll(context.Background(), models.MarketAU, "s1", syms, time.Time{}, time.Time{})

	require.NoError(t, err)
	require.Len(t, outcomes, 25)
	for i, o := range outcomes {
		assert.Equal(t, syms[i].Code, o.Symbol.Code)
	}
	assert.Contains(t, tickers, "S000.AU")
}

func TestFetcher_CancelAfterFirstBatchStopsIssuance(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Acquire(models.MarketUS, "s1"))

	var calls atomic.Int64
	provider := &mockBarProvider{
		barsFn: func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
			if calls.Add(1) == 1 {
				registry.Cancel(models.MarketUS)
			}
			return okBars(ctx, ticker, from, to)
		},
	}

	f := NewFetcher(provider, registry, FetcherOptions{MaxConcurrent: 2, BatchSize: 2}, common.NewSilentLogger())
	outcomes, err := f.FetchAll(context.Background(), models.MarketUS, "s1", symbols(6), time.Time{}, time.Time{})

	assert.ErrorIs(t, err, ErrScanCancelled)
	assert.Equal(t, int64(2), calls.Load(), "batches 2 and 3 must not be requested")
	assert.Len(t, outcomes, 2)
}

func TestFetcher_InactiveTokenIssuesNothing(t *testing.T) {
	var calls atomic.Int64
	provider := &mockBarProvider{
		barsFn: func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
			calls.Add(1)
			return okBars(ctx, ticker, from, to)
		},
	}

	f := NewFetcher(provider, NewRegistry(), FetcherOptions{}, common.NewSilentLogger())
	_, err := f.FetchAll(context.Background(), models.MarketUS, "gone", symbols(3), time.Time{}, time.Time{})

	assert.ErrorIs(t, err, ErrScanCancelled)
	assert.Zero(t, calls.Load())
}

func TestFetcher_FailuresAreClassifiedNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := map[string]int{}
	provider := &mockBarProvider{
		barsFn: func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
			mu.Lock()
			calls[ticker]++
			mu.Unlock()
			switch {
			case strings.HasPrefix(ticker, "S000"):
				return nil, &eodhd.APIError{StatusCode: http.StatusNotFound}
			case strings.HasPrefix(ticker, "S001"):
				return nil, nil
			case strings.HasPrefix(ticker, "S002"):
				return nil, &eodhd.APIError{StatusCode: http.StatusServiceUnavailable}
			case strings.HasPrefix(ticker, "S003"):
				return nil, errors.New("garbled payload")
			}
			return okBars(ctx, ticker, from, to)
		},
	}

	f := NewFetcher(provider, nil, FetcherOptions{MaxConcurrent: 5}, common.NewSilentLogger())
	outcomes, err := f.FetchAll(context.Background(), models.MarketUS, "s1", symbols(5), time.Time{}, time.Time{})
	require.NoError(t, err)

	want := []models.FetchErrorKind{
		models.FetchErrorNotFound,
		models.FetchErrorEmpty,
		models.FetchErrorTransient,
		models.FetchErrorUnknown,
		models.FetchErrorNone,
	}
	for i, o := range outcomes {
		assert.Equal(t, want[i], o.ErrorKind, o.Symbol.Code)
		assert.Equal(t, want[i] == models.FetchErrorNone, o.Succeeded, o.Symbol.Code)
	}
	for ticker, n := range calls {
		assert.Equal(t, 1, n, ticker)
	}
}

func TestFetcher_PerRequestTimeout(t *testing.T) {
	provider := &mockBarProvider{
		barsFn: func(ctx context.Context, ticker string, from, to time.Time) ([]models.Bar, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	f := NewFetcher(provider, nil, FetcherOptions{RequestTimeout: 10 * time.Millisecond}, common.NewSilentLogger())
	outcomes, err := f.FetchAll(context.Background(), models.MarketUS, "s1", symbols(2), time.Time{}, time.Time{})

	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, models.FetchErrorTransient, o.ErrorKind)
	}
}

func TestFetcher_UnorderedBarsRejected(t *testing.T) {
	provider := &mockBarProvider{
		barsFn: func(context.Context, string, time.Time, time.Time) ([]models.Bar, error) {
			bars := makeBars(linear(3, 1, 1), 0, flat(3, 1))
			bars[0], bars[2] = bars[2], bars[0]
			return bars, nil
		},
	}

	f := NewFetcher(provider, nil, FetcherOptions{}, common.NewSilentLogger())
	out := f.FetchOne(context.Background(), models.MarketUS, models.Symbol{Code: "X"}, time.Time{}, time.Time{})

	assert.False(t, out.Succeeded)
	assert.Equal(t, models.FetchErrorUnknown, out.ErrorKind)
	assert.ErrorIs(t, out.Err, models.ErrUnorderedBars)
}

func TestClassifyFetchError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.FetchErrorKind
	}{
		{"nil", nil, models.FetchErrorNone},
		{"not found", &eodhd.APIError{StatusCode: 404}, models.FetchErrorNotFound},
		{"wrapped not found", fmt.Errorf("eod: %w", &eodhd.APIError{StatusCode: 404}), models.FetchErrorNotFound},
		{"rate limited", &eodhd.APIError{StatusCode: 429}, models.FetchErrorTransient},
		{"server error", &eodhd.APIError{StatusCode: 502}, models.FetchErrorTransient},
		{"forbidden", &eodhd.APIError{StatusCode: 403}, models.FetchErrorUnknown},
		{"empty", eodhd.ErrEmptyResponse, models.FetchErrorEmpty},
		{"deadline", context.DeadlineExceeded, models.FetchErrorTransient},
		{"network", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: errors.New("refused")}}, models.FetchErrorTransient},
		{"other", errors.New("boom"), models.FetchErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyFetchError(tt.err))
		})
	}
}
