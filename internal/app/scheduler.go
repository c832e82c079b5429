package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
	"github.com/bobmcallan/vire-scanner/internal/services/scanner"
)

const lastFiredKeyPrefix = "scheduler.last_fired."

// ScanStarter starts a background scan for a market.
type ScanStarter interface {
	StartScan(ctx context.Context, market models.Market, trigger models.ScanTrigger, thresholds models.Thresholds) (*models.ScanSession, error)
}

type trigger struct {
	market   models.Market
	spec     string
	schedule cron.Schedule
}

// Scheduler polls the configured cron triggers and starts scheduled scans.
// Last-fired timestamps live in the store's system KV so a restart neither
// repeats a run nor forgets one missed within the catch-up grace.
type Scheduler struct {
	starter  ScanStarter
	state    interfaces.StateStore
	triggers []trigger
	location *time.Location
	poll     time.Duration
	cooldown time.Duration
	grace    time.Duration
	logger   *common.Logger
	now      func() time.Time

	mu        sync.RWMutex
	lastFired map[models.Market]time.Time
}

// NewScheduler builds triggers for every enabled market with a schedule.
func NewScheduler(cfg common.SchedulerConfig, markets []models.MarketConfig, starter ScanStarter, state interfaces.StateStore, logger *common.Logger) (*Scheduler, error) {
	loc := cfg.GetLocation()
	s := &Scheduler{
		starter:   starter,
		state:     state,
		location:  loc,
		poll:      cfg.GetPollInterval(),
		cooldown:  cfg.GetCooldown(),
		grace:     cfg.GetCatchUpGrace(),
		logger:    logger,
		now:       time.Now,
		lastFired: make(map[models.Market]time.Time),
	}

	for _, mc := range markets {
		if !mc.Enabled || mc.Schedule == "" {
			continue
		}
		sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=%s %s", loc.String(), mc.Schedule))
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", mc.Schedule, mc.Market, err)
		}
		s.triggers = append(s.triggers, trigger{market: mc.Market, spec: mc.Schedule, schedule: sched})
	}
	return s, nil
}

// Run polls until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Int("triggers", len(s.triggers)).
		Str("timezone", s.location.String()).
		Dur("poll", s.poll).
		Msg("Scheduler started")

	for {
		wait := s.poll
		if s.Tick(ctx) > 0 {
			wait = s.cooldown
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

// Tick evaluates every trigger once and returns the number of scans started.
// A panic while evaluating one trigger is logged and does not stop the others.
func (s *Scheduler) Tick(ctx context.Context) int {
	now := s.now().In(s.location)
	started := 0

	for _, t := range s.triggers {
		if ctx.Err() != nil {
			return started
		}
		if s.evaluate(ctx, t, now) {
			started++
		}
	}
	return started
}

func (s *Scheduler) evaluate(ctx context.Context, t trigger, now time.Time) (started bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("market", string(t.market)).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Scheduler: recovered from panic")
			started = false
		}
	}()

	last, ok, err := s.loadLastFired(ctx, t.market)
	if err != nil {
		s.logger.Warn().Err(err).Str("market", string(t.market)).Msg("Scheduler: failed to read last-fired")
		return false
	}
	if !ok {
		s.recordFired(ctx, t.market, now)
		s.logger.Info().Str("market", string(t.market)).Time("next", t.schedule.Next(now)).Msg("Scheduler: seeded trigger")
		return false
	}

	due := t.schedule.Next(last)
	if due.After(now) {
		return false
	}
	// Several slots may have passed while down; only the latest one counts.
	for n := t.schedule.Next(due); !n.After(now); n = t.schedule.Next(n) {
		due = n
	}

	if late := now.Sub(due); late > s.grace {
		s.logger.Warn().
			Str("market", string(t.market)).
			Time("due", due).
			Dur("late", late).
			Msg("Scheduler: missed trigger outside catch-up grace, skipping")
		s.recordFired(ctx, t.market, now)
		return false
	}

	s.recordFired(ctx, t.market, now)
	session, err := s.starter.StartScan(ctx, t.market, models.ScanTriggerScheduled, models.Thresholds{})
	switch {
	case errors.Is(err, scanner.ErrScanInProgress):
		s.logger.Warn().Str("market", string(t.market)).Msg("Scheduler: scan already running, skipping trigger")
		return false
	case err != nil:
		s.logger.Error().Err(err).Str("market", string(t.market)).Msg("Scheduler: failed to start scan")
		return false
	}
	s.logger.Info().
		Str("market", string(t.market)).
		Str("session", session.ID).
		Time("due", due).
		Msg("Scheduler: scan started")
	return true
}

// Triggers reports each trigger with its last and next fire time.
func (s *Scheduler) Triggers() []models.TriggerStatus {
	now := s.now().In(s.location)

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TriggerStatus, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, models.TriggerStatus{
			Market:    t.market,
			Schedule:  t.spec,
			LastFired: s.lastFired[t.market],
			NextFire:  t.schedule.Next(now),
		})
	}
	return out
}

func (s *Scheduler) loadLastFired(ctx context.Context, market models.Market) (time.Time, bool, error) {
	s.mu.RLock()
	cached, ok := s.lastFired[market]
	s.mu.RUnlock()
	if ok {
		return cached, true, nil
	}

	raw, err := s.state.GetSystemKV(ctx, lastFiredKeyPrefix+string(market))
	if errors.Is(err, interfaces.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	last, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		// Unreadable state is treated as absent and re-seeded.
		return time.Time{}, false, nil
	}

	s.mu.Lock()
	s.lastFired[market] = last
	s.mu.Unlock()
	return last, true, nil
}

func (s *Scheduler) recordFired(ctx context.Context, market models.Market, at time.Time) {
	s.mu.Lock()
	s.lastFired[market] = at
	s.mu.Unlock()

	if err := s.state.SetSystemKV(ctx, lastFiredKeyPrefix+string(market), at.Format(time.RFC3339)); err != nil {
		s.logger.Warn().Err(err).Str("market", string(market)).Msg("Scheduler: failed to persist last-fired")
	}
}
