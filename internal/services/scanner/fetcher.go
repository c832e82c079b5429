package scanner

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/vire-scanner/internal/clients/eodhd"
	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// Fetch defaults and bounds.
const (
	DefaultMaxConcurrent  = 100
	DefaultBatchSize      = 500
	DefaultRequestTimeout = 20 * time.Second
)

// FetcherOptions tunes the concurrent fetcher.
type FetcherOptions struct {
	MaxConcurrent  int
	BatchSize      int
	RequestDelay   time.Duration // zero disables spacing
	RequestTimeout time.Duration

	// OnActive, when set, observes the in-flight request count each time a
	// request starts.
	OnActive func(active int)
}

func (o FetcherOptions) withDefaults() FetcherOptions {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.RequestDelay < 0 {
		o.RequestDelay = 0
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	return o
}

// FetcherOptionsFromConfig maps scanner config onto fetcher options.
func FetcherOptionsFromConfig(cfg common.ScannerConfig) FetcherOptions {
	return FetcherOptions{
		MaxConcurrent:  cfg.MaxConcurrent,
		BatchSize:      cfg.BatchSize,
		RequestDelay:   cfg.GetRequestDelay(),
		RequestTimeout: cfg.GetRequestTimeout(),
	}
}

// Fetcher retrieves daily bars for many symbols with bounded concurrency.
// Batches run sequentially; within a batch at most MaxConcurrent requests
// are in flight and request starts are spaced by RequestDelay.
type Fetcher struct {
	bars     interfaces.BarProvider
	registry *Registry
	opts     FetcherOptions
	logger   *common.Logger
	active   atomic.Int64
}

// NewFetcher creates a fetcher. registry may be nil for one-off fetches.
func NewFetcher(bars interfaces.BarProvider, registry *Registry, opts FetcherOptions, logger *common.Logger) *Fetcher {
	return &Fetcher{
		bars:     bars,
		registry: registry,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// FetchAll fetches every symbol and returns one outcome per issued request,
// in input order. When the session's registry token disappears between
// batches it returns the outcomes gathered so far with ErrScanCancelled.
func (f *Fetcher) FetchAll(ctx context.Context, market models.Market, sessionID string, symbols []models.Symbol, from, to time.Time) ([]models.FetchOutcome, error) {
	batches := lo.Chunk(symbols, f.opts.BatchSize)
	outcomes := make([]models.FetchOutcome, 0, len(symbols))

	for i, batch := range batches {
		if !f.stillActive(market, sessionID) {
			return outcomes, ErrScanCancelled
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		start := time.Now()
		results := f.fetchBatch(ctx, market, batch, from, to)
		outcomes = append(outcomes, results...)

		failed := lo.CountBy(results, func(o models.FetchOutcome) bool { return !o.Succeeded })
		f.logger.Debug().
			Str("market", string(market)).
			Int("batch", i+1).
			Int("batches", len(batches)).
			Int("symbols", len(batch)).
			Int("failed", failed).
			Dur("elapsed", time.Since(start)).
			Msg("Fetch batch complete")

		if !f.stillActive(market, sessionID) {
			return outcomes, ErrScanCancelled
		}
	}

	if err := ctx.Err(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// FetchOne fetches a single symbol outside of any run.
func (f *Fetcher) FetchOne(ctx context.Context, market models.Market, symbol models.Symbol, from, to time.Time) models.FetchOutcome {
	return f.fetchSymbol(ctx, market, symbol, from, to)
}

func (f *Fetcher) stillActive(market models.Market, sessionID string) bool {
	if f.registry == nil {
		return true
	}
	return f.registry.IsActive(market, sessionID)
}

func (f *Fetcher) fetchBatch(ctx context.Context, market models.Market, batch []models.Symbol, from, to time.Time) []models.FetchOutcome {
	results := make([]models.FetchOutcome, len(batch))
	issued := make([]bool, len(batch))

	var g errgroup.Group
	g.SetLimit(f.opts.MaxConcurrent)

	var tick <-chan time.Time
	if f.opts.RequestDelay > 0 {
		ticker := time.NewTicker(f.opts.RequestDelay)
		defer ticker.Stop()
		tick = ticker.C
	}

issue:
	for i, sym := range batch {
		if i > 0 && tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				break issue
			}
		}
		if ctx.Err() != nil {
			break
		}

		issued[i] = true
		g.Go(func() error {
			n := f.active.Add(1)
			defer f.active.Add(-1)
			if f.opts.OnActive != nil {
				f.opts.OnActive(int(n))
			}
			results[i] = f.fetchSymbol(ctx, market, sym, from, to)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]models.FetchOutcome, 0, len(batch))
	for i := range results {
		if issued[i] {
			out = append(out, results[i])
		}
	}
	return out
}

func (f *Fetcher) fetchSymbol(ctx context.Context, market models.Market, sym models.Symbol, from, to time.Time) models.FetchOutcome {
	reqCtx, cancel := context.WithTimeout(ctx, f.opts.RequestTimeout)
	defer cancel()

	out := models.FetchOutcome{Symbol: sym}

	bars, err := f.bars.GetDailyBars(reqCtx, market.Ticker(sym.Code), from, to)
	if err == nil && len(bars) == 0 {
		err = eodhd.ErrEmptyResponse
	}
	if err != nil {
		out.ErrorKind = ClassifyFetchError(err)
		out.Err = err
		return out
	}

	series := models.BarSeries{Symbol: sym, Market: market, Bars: bars}
	if err := series.Validate(); err != nil {
		out.ErrorKind = models.FetchErrorUnknown
		out.Err = err
		return out
	}

	out.Succeeded = true
	out.Series = series
	return out
}

// ClassifyFetchError maps a provider error onto a fetch error kind.
func ClassifyFetchError(err error) models.FetchErrorKind {
	if err == nil {
		return models.FetchErrorNone
	}

	var apiErr *eodhd.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.NotFound():
			return models.FetchErrorNotFound
		case apiErr.Temporary():
			return models.FetchErrorTransient
		default:
			return models.FetchErrorUnknown
		}
	}

	if errors.Is(err, eodhd.ErrEmptyResponse) {
		return models.FetchErrorEmpty
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.FetchErrorTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return models.FetchErrorTransient
	}

	return models.FetchErrorUnknown
}
