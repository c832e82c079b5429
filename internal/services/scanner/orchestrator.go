package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
	"github.com/bobmcallan/vire-scanner/internal/signals"
)

// DefaultLookbackDays is the calendar window of history requested per symbol.
// It comfortably covers the 200-bar EMA.
const DefaultLookbackDays = 400

// Options configures an Orchestrator.
type Options struct {
	Markets         []models.MarketConfig
	LookbackDays    int
	Workers         int
	UniverseRetries int
	Fetch           FetcherOptions
	Location        *time.Location // zone used for sydney_time on reads
}

// OptionsFromConfig builds orchestrator options from the loaded config.
func OptionsFromConfig(cfg *common.Config) Options {
	return Options{
		Markets:         cfg.MarketConfigs(),
		LookbackDays:    cfg.Scanner.LookbackDays,
		Workers:         cfg.Scanner.Workers,
		UniverseRetries: cfg.Scanner.UniverseRetries,
		Fetch:           FetcherOptionsFromConfig(cfg.Scanner),
		Location:        cfg.Scheduler.GetLocation(),
	}
}

// Orchestrator executes scans and owns the session state machine:
// queued -> running -> completed | failed | cancelled.
type Orchestrator struct {
	markets  map[models.Market]models.MarketConfig
	order    []models.Market
	universe *Universe
	fetcher  *Fetcher
	funnel   *Funnel
	pool     *AnalysisPool
	store    interfaces.ResultStore
	registry *Registry
	logger   *common.Logger

	lookback time.Duration
	location *time.Location
	now      func() time.Time
	newID    func() string

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator wires the pipeline. A nil registry gets a private one.
func NewOrchestrator(
	opts Options,
	universe interfaces.UniverseProvider,
	bars interfaces.BarProvider,
	store interfaces.ResultStore,
	registry *Registry,
	logger *common.Logger,
) *Orchestrator {
	if registry == nil {
		registry = NewRegistry()
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = DefaultLookbackDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	markets := make(map[models.Market]models.MarketConfig, len(opts.Markets))
	order := make([]models.Market, 0, len(opts.Markets))
	for _, mc := range opts.Markets {
		if _, dup := markets[mc.Market]; !dup {
			order = append(order, mc.Market)
		}
		markets[mc.Market] = mc
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		markets:  markets,
		order:    order,
		universe: NewUniverse(universe, opts.UniverseRetries, logger),
		fetcher:  NewFetcher(bars, registry, opts.Fetch, logger),
		funnel:   NewFunnel(logger),
		pool:     NewAnalysisPool(opts.Workers, logger),
		store:    store,
		registry: registry,
		logger:   logger,
		lookback: time.Duration(opts.LookbackDays) * 24 * time.Hour,
		location: opts.Location,
		now:      time.Now,
		newID:    uuid.NewString,
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Registry exposes the shared run registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Markets returns the configured market settings in configuration order.
func (o *Orchestrator) Markets() []models.MarketConfig {
	out := make([]models.MarketConfig, 0, len(o.order))
	for _, m := range o.order {
		out = append(out, o.markets[m])
	}
	return out
}

func (o *Orchestrator) marketConfig(market models.Market) (models.MarketConfig, error) {
	mc, ok := o.markets[market]
	if !ok {
		return models.MarketConfig{}, fmt.Errorf("%w: %s", ErrUnknownMarket, market)
	}
	return mc, nil
}

// safeGo launches a goroutine with panic recovery and logging.
func (o *Orchestrator) safeGo(name string, fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in scan goroutine")
			}
		}()
		fn()
	}()
}

// begin creates the session, takes the market token and records the
// session as running.
func (o *Orchestrator) begin(ctx context.Context, market models.Market, trigger models.ScanTrigger, thresholds models.Thresholds) (models.MarketConfig, *models.ScanSession, error) {
	mc, err := o.marketConfig(market)
	if err != nil {
		return mc, nil, err
	}

	session := &models.ScanSession{
		ID:         o.newID(),
		Market:     market,
		Trigger:    trigger,
		Status:     models.ScanStatusQueued,
		StartTime:  o.now(),
		Thresholds: thresholds.Resolve(mc),
	}

	if err := o.registry.Acquire(market, session.ID); err != nil {
		return mc, nil, err
	}

	session.Status = models.ScanStatusRunning
	if err := o.store.SaveSession(ctx, session); err != nil {
		o.registry.Release(market, session.ID)
		return mc, nil, fmt.Errorf("failed to record session: %w", err)
	}

	o.logger.Info().
		Str("market", string(market)).
		Str("session", session.ID).
		Str("trigger", string(trigger)).
		Msg("Scan started")

	return mc, session, nil
}

// StartScan begins a scan in the background and returns the running session.
func (o *Orchestrator) StartScan(ctx context.Context, market models.Market, trigger models.ScanTrigger, thresholds models.Thresholds) (*models.ScanSession, error) {
	mc, session, err := o.begin(ctx, market, trigger, thresholds)
	if err != nil {
		return nil, err
	}

	snapshot := *session
	o.safeGo("scan-"+string(market), func() {
		_ = o.execute(o.baseCtx, mc, session)
	})
	return &snapshot, nil
}

// RunScan runs a scan to completion on the calling goroutine and returns
// the terminal session. A cancelled run is not an error; its session carries
// ScanStatusCancelled and no rows were written.
func (o *Orchestrator) RunScan(ctx context.Context, market models.Market, trigger models.ScanTrigger, thresholds models.Thresholds) (*models.ScanSession, error) {
	mc, session, err := o.begin(ctx, market, trigger, thresholds)
	if err != nil {
		return nil, err
	}
	if err := o.execute(ctx, mc, session); err != nil && !errors.Is(err, ErrScanCancelled) {
		return session, err
	}
	return session, nil
}

// execute drives a running session to a terminal state and always
// releases the market token.
func (o *Orchestrator) execute(ctx context.Context, mc models.MarketConfig, session *models.ScanSession) (err error) {
	defer o.registry.Release(mc.Market, session.ID)

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Str("market", string(mc.Market)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in scan")
			err = fmt.Errorf("scan panicked: %v", r)
			o.finish(ctx, session, models.ScanStatusFailed, err.Error())
		}
	}()

	rows, err := o.run(ctx, mc, session)
	switch {
	case errors.Is(err, ErrScanCancelled):
		o.finish(ctx, session, models.ScanStatusCancelled, "")
		o.logger.Info().
			Str("market", string(mc.Market)).
			Str("session", session.ID).
			Msg("Scan cancelled")
		return err
	case err != nil:
		o.finish(ctx, session, models.ScanStatusFailed, err.Error())
		o.logger.Error().Err(err).
			Str("market", string(mc.Market)).
			Str("session", session.ID).
			Msg("Scan failed")
		return err
	}

	if err := SaveResults(context.WithoutCancel(ctx), o.store, session, rows, o.now); err != nil {
		o.logger.Error().Err(err).
			Str("market", string(mc.Market)).
			Str("session", session.ID).
			Msg("Failed to persist scan results")
		return err
	}

	o.logger.Info().
		Str("market", string(mc.Market)).
		Str("session", session.ID).
		Int("universe", session.UniverseCount).
		Int("fetched", session.FetchedCount).
		Int("failed", session.FailedCount).
		Int("liquid", session.LiquidCount).
		Int("squeeze", session.SqueezeCount).
		Int("spike", session.SpikeCount).
		Dur("elapsed", session.Duration()).
		Msg("Scan completed")
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, session *models.ScanSession, status models.ScanStatus, msg string) {
	session.Status = status
	session.ErrorMessage = msg
	session.EndTime = o.now()
	if err := o.store.SaveSession(context.WithoutCancel(ctx), session); err != nil {
		o.logger.Warn().Err(err).Str("session", session.ID).Msg("Failed to record session outcome")
	}
}

func (o *Orchestrator) checkActive(session *models.ScanSession) error {
	if !o.registry.IsActive(session.Market, session.ID) {
		return ErrScanCancelled
	}
	return nil
}

// run performs universe, fetch, funnel, analysis and row assembly.
func (o *Orchestrator) run(ctx context.Context, mc models.MarketConfig, session *models.ScanSession) ([]models.ScanResultRow, error) {
	symbols, err := o.universe.Load(ctx, mc)
	if err != nil {
		return nil, err
	}
	session.UniverseCount = len(symbols)
	if err := o.checkActive(session); err != nil {
		return nil, err
	}

	to := o.now()
	from := to.Add(-o.lookback)
	outcomes, err := o.fetcher.FetchAll(ctx, mc.Market, session.ID, symbols, from, to)
	if err != nil {
		return nil, err
	}
	if err := o.checkActive(session); err != nil {
		return nil, err
	}

	series := lo.FilterMap(outcomes, func(fo models.FetchOutcome, _ int) (models.BarSeries, bool) {
		return fo.Series, fo.Succeeded
	})
	session.FetchedCount = len(series)
	session.FailedCount = len(outcomes) - len(series)
	if session.FailedCount > 0 {
		kinds := lo.CountValuesBy(outcomes, func(fo models.FetchOutcome) models.FetchErrorKind { return fo.ErrorKind })
		o.logger.Info().
			Str("market", string(mc.Market)).
			Int("not_found", kinds[models.FetchErrorNotFound]).
			Int("empty", kinds[models.FetchErrorEmpty]).
			Int("transient", kinds[models.FetchErrorTransient]).
			Int("unknown", kinds[models.FetchErrorUnknown]).
			Msg("Fetch failures")
	}

	funnel := o.funnel.Filter(mc, session.Thresholds, series)
	session.LiquidCount = len(funnel.Liquid)

	squeezeRows, failures := o.analyseSqueezes(ctx, mc, session, funnel.SqueezeCandidates)
	session.AnalysisErrors = failures
	spikeRows := o.spikeRows(mc, session, funnel.SpikeCandidates)

	if err := o.checkActive(session); err != nil {
		return nil, err
	}

	session.SqueezeCount = len(squeezeRows)
	session.SpikeCount = len(spikeRows)
	return append(squeezeRows, spikeRows...), nil
}

// analyseSqueezes evaluates the EMA-filtered squeeze for every candidate on
// the analysis pool. Returns rows sorted by squeeze length and the number of
// failed analyses.
func (o *Orchestrator) analyseSqueezes(ctx context.Context, mc models.MarketConfig, session *models.ScanSession, candidates []Candidate) ([]models.ScanResultRow, int) {
	minDays := session.Thresholds.MinSqueezeDays

	futures := make([]*Future, len(candidates))
	for i, c := range candidates {
		futures[i] = o.pool.Submit(ctx, c.Series.Symbol.Code, func() models.AnalysisOutcome {
			return squeezeOutcome(c.Series, minDays)
		})
	}

	var rows []models.ScanResultRow
	failures := 0
	for i, f := range futures {
		switch out := f.Wait().(type) {
		case models.SqueezeSignal:
			row := o.baseRow(mc, session, candidates[i], models.ScanKindSqueeze)
			applySqueeze(&row, out)
			rows = append(rows, row)
		case models.AnalysisFailure:
			failures++
			o.logger.Warn().
				Str("market", string(mc.Market)).
				Str("symbol", out.Symbol).
				Str("error", out.Error).
				Msg("Squeeze analysis failed")
		case models.NoSignal:
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].SqueezeDays > rows[j].SqueezeDays })
	return rows, failures
}

func squeezeOutcome(series models.BarSeries, minDays int) models.AnalysisOutcome {
	symbol := series.Symbol.Code
	sq, ema, ok := signals.SqueezeWithEMAFilter(series, minDays)
	if ok {
		return models.SqueezeSignal{Symbol: symbol, Squeeze: sq, EMA: ema}
	}
	if !ema.Stacked {
		return models.NoSignal{Symbol: symbol, Reason: strings.Join(ema.Failures, "; ")}
	}
	return models.NoSignal{Symbol: symbol, Reason: "no qualifying squeeze"}
}

// spikeRows turns the funnel spike candidates into rows, largest ratio first.
func (o *Orchestrator) spikeRows(mc models.MarketConfig, session *models.ScanSession, candidates []Candidate) []models.ScanResultRow {
	rows := make([]models.ScanResultRow, 0, len(candidates))
	for _, c := range candidates {
		out, ok := spikeOutcome(c).(models.SpikeSignal)
		if !ok {
			continue
		}
		row := o.baseRow(mc, session, c, models.ScanKindVolumeSpike)
		applySpike(&row, out)
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].VolumeRatio > rows[j].VolumeRatio })
	return rows
}

// spikeOutcome wraps the spike the funnel computed while gating.
func spikeOutcome(c Candidate) models.AnalysisOutcome {
	symbol := c.Series.Symbol.Code
	if c.Spike == nil {
		return models.NoSignal{Symbol: symbol, Reason: "no volume spike"}
	}
	return models.SpikeSignal{Symbol: symbol, Spike: *c.Spike}
}

func (o *Orchestrator) baseRow(mc models.MarketConfig, session *models.ScanSession, c Candidate, kind models.ScanKind) models.ScanResultRow {
	sym := c.Series.Symbol
	latest, _ := c.Series.Latest()

	row := models.ScanResultRow{
		SessionID:   session.ID,
		Market:      mc.Market,
		Kind:        kind,
		Symbol:      sym.Code,
		CompanyName: sym.Name,
		Exchange:    sym.Exchange,
		Currency:    sym.Currency,
		ScanDate:    latest.Date,
		Price:       latest.Close,
		Volume:      latest.Volume,
		Turnover:    c.Turnover,
	}
	if prev, ok := c.Series.Previous(); ok {
		row.Change = latest.Close - prev.Close
		if prev.Close != 0 {
			row.ChangePercent = row.Change / prev.Close * 100
		}
	}
	return row
}

func applySpike(row *models.ScanResultRow, s models.SpikeSignal) {
	sp := s.Spike
	row.VolumeRatio = sp.VolumeRatio
	row.AvgVolume30d = sp.AvgVolume30d
	row.MedianVolume30d = sp.MedianVolume30d
	row.ConsecutiveDays = sp.ConsecutiveDays
	row.SpikeIntensity = sp.Intensity
	row.EMA9 = sp.EMA9
}

func applySqueeze(row *models.ScanResultRow, s models.SqueezeSignal) {
	sq := s.Squeeze
	row.SqueezeDays = sq.SqueezeDays
	row.SqueezeIntensity = sq.Intensity
	row.BBUpper = sq.BBUpper
	row.BBMiddle = sq.BBMiddle
	row.BBLower = sq.BBLower
	row.KCUpper = sq.KCUpper
	row.KCMiddle = sq.KCMiddle
	row.KCLower = sq.KCLower
	row.Momentum = sq.Momentum
	row.ATR = sq.ATR
	row.ATRRatio = sq.ATRRatio
	row.EMA9 = s.EMA.EMA9
	row.EMA50 = s.EMA.EMA50
	row.EMA200 = s.EMA.EMA200
	row.StackingStrength = s.EMA.StackingStrength
	row.SlopeStrength = s.EMA.SlopeStrength
}

// SaveResults persists a run's rows and moves the session to its terminal
// state: completed with the row count, or failed with the error text. The
// previous snapshot stays active when the replace fails.
func SaveResults(ctx context.Context, store interfaces.ResultStore, session *models.ScanSession, rows []models.ScanResultRow, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}

	session.Status = models.ScanStatusRunning
	if err := store.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to record session: %w", err)
	}

	if err := store.ReplaceResults(ctx, session, rows); err != nil {
		session.Status = models.ScanStatusFailed
		session.ErrorMessage = err.Error()
		session.EndTime = now()
		_ = store.SaveSession(ctx, session)
		return fmt.Errorf("failed to replace results: %w", err)
	}

	session.Status = models.ScanStatusCompleted
	session.ResultCount = len(rows)
	session.ErrorMessage = ""
	session.EndTime = now()
	if err := store.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("failed to record session completion: %w", err)
	}
	return nil
}

// CancelScan removes the market's token. The run stops issuing requests at
// its next checkpoint and persists nothing.
func (o *Orchestrator) CancelScan(market models.Market) bool {
	ok := o.registry.Cancel(market)
	if ok {
		o.logger.Info().Str("market", string(market)).Msg("Scan cancellation requested")
	}
	return ok
}

// Running lists markets with a scan in progress.
func (o *Orchestrator) Running() []models.RunningScan {
	return o.registry.Running()
}

// GetLatest returns the market's active snapshot.
func (o *Orchestrator) GetLatest(ctx context.Context, market models.Market) (*models.LatestResults, error) {
	if _, err := o.marketConfig(market); err != nil {
		return nil, err
	}
	res, err := o.store.GetLatest(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest results for %s: %w", market, err)
	}
	if res.Squeeze == nil {
		res.Squeeze = []models.ScanResultRow{}
	}
	if res.Spikes == nil {
		res.Spikes = []models.ScanResultRow{}
	}
	if res.Session != nil && !res.Session.EndTime.IsZero() {
		res.SydneyTime = res.Session.EndTime.In(o.location).Format("2006-01-02 15:04:05 MST")
	}
	return res, nil
}

// GetAllLatest returns the active snapshot of every configured market.
func (o *Orchestrator) GetAllLatest(ctx context.Context) (map[models.Market]*models.LatestResults, error) {
	out := make(map[models.Market]*models.LatestResults, len(o.order))
	for _, m := range o.order {
		res, err := o.GetLatest(ctx, m)
		if err != nil {
			return nil, err
		}
		out[m] = res
	}
	return out, nil
}

// ListSessions returns the market's session log, newest first.
func (o *Orchestrator) ListSessions(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error) {
	if _, err := o.marketConfig(market); err != nil {
		return nil, err
	}
	return o.store.ListSessions(ctx, market, limit)
}

// AnalyzeSymbol fetches one symbol and runs the unfiltered analysis.
func (o *Orchestrator) AnalyzeSymbol(ctx context.Context, market models.Market, code string) (*models.SymbolAnalysis, error) {
	if _, err := o.marketConfig(market); err != nil {
		return nil, err
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, errors.New("symbol is required")
	}

	to := o.now()
	outcome := o.fetcher.FetchOne(ctx, market, models.Symbol{Code: code}, to.Add(-o.lookback), to)
	if !outcome.Succeeded {
		return nil, &FetchError{Symbol: code, Kind: outcome.ErrorKind, Err: outcome.Err}
	}

	analysis := signals.Analyze(outcome.Series)
	return &analysis, nil
}

// FetchError reports a failed single-symbol fetch.
type FetchError struct {
	Symbol string
	Kind   models.FetchErrorKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed (%s): %v", e.Symbol, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Wait blocks until background scans have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close stops issuing new work for background scans, waits for them and
// shuts down the analysis pool.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
	o.pool.Close()
}

var _ interfaces.ScanService = (*Orchestrator)(nil)
