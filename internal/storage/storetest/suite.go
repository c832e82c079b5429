// Package storetest holds the behaviour every result store backend shares.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) interfaces.ResultStore

// Run exercises a ResultStore implementation.
func Run(t *testing.T, open Factory) {
	t.Run("SessionRoundTrip", func(t *testing.T) { sessionRoundTrip(t, open(t)) })
	t.Run("MissingSession", func(t *testing.T) { missingSession(t, open(t)) })
	t.Run("ListSessions", func(t *testing.T) { listSessions(t, open(t)) })
	t.Run("EmptyLatest", func(t *testing.T) { emptyLatest(t, open(t)) })
	t.Run("ReplaceTwiceKeepsRowCount", func(t *testing.T) { replaceTwice(t, open(t)) })
	t.Run("ReplaceSameSessionIsIdempotent", func(t *testing.T) { replaceSameSession(t, open(t)) })
	t.Run("MarketsAreIsolated", func(t *testing.T) { marketsIsolated(t, open(t)) })
	t.Run("SystemKV", func(t *testing.T) { systemKV(t, open(t)) })
}

var base = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

// Session builds a completed session fixture.
func Session(id string, market models.Market, start time.Time) *models.ScanSession {
	return &models.ScanSession{
		ID:        id,
		Market:    market,
		Trigger:   models.ScanTriggerScheduled,
		Status:    models.ScanStatusCompleted,
		StartTime: start,
		EndTime:   start.Add(3 * time.Minute),
		Thresholds: models.Thresholds{
			MinSqueezeDays: 5,
			MinTurnover:    500000,
			MinVolumeRatio: 5,
		},
		UniverseCount: 2100,
		FetchedCount:  2050,
		FailedCount:   50,
	}
}

// Rows builds squeeze and spike rows for a market.
func Rows(market models.Market, squeezes, spikes int) []models.ScanResultRow {
	var rows []models.ScanResultRow
	for i := 0; i < squeezes; i++ {
		rows = append(rows, models.ScanResultRow{
			Market:           market,
			Kind:             models.ScanKindSqueeze,
			Symbol:           fmt.Sprintf("SQ%d", i),
			CompanyName:      fmt.Sprintf("Squeeze %d Ltd", i),
			Exchange:         "ASX",
			ScanDate:         base,
			Price:            10 + float64(i),
			Volume:           100000,
			Turnover:         (10 + float64(i)) * 100000,
			SqueezeDays:      5 + i,
			SqueezeIntensity: models.SqueezeIntensityLow,
			EMA9:             10.5,
			EMA50:            10.2,
			EMA200:           9.8,
		})
	}
	for i := 0; i < spikes; i++ {
		rows = append(rows, models.ScanResultRow{
			Market:          market,
			Kind:            models.ScanKindVolumeSpike,
			Symbol:          fmt.Sprintf("SP%d", i),
			ScanDate:        base,
			Price:           2.5,
			Volume:          900000,
			VolumeRatio:     6 + float64(i),
			MedianVolume30d: 90000,
			ConsecutiveDays: 3,
			SpikeIntensity:  models.SpikeIntensityModerate,
		})
	}
	return rows
}

func sessionRoundTrip(t *testing.T, store interfaces.ResultStore) {
	ctx := context.Background()
	s := Session("sess-1", models.MarketAU, base)
	s.Status = models.ScanStatusFailed
	s.ErrorMessage = "universe unavailable"

	require.NoError(t, store.SaveSession(ctx, s))

	got, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, models.MarketAU, got.Market)
	assert.Equal(t, models.ScanStatusFailed, got.Status)
	assert.Equal(t, "universe unavailable", got.ErrorMessage)
	assert.Equal(t, 5, got.Thresholds.MinSqueezeDays)
	assert.Equal(t, 2050, got.FetchedCount)
	assert.True(t, got.StartTime.Equal(base), "start time %v", got.StartTime)

	// Status transitions overwrite the same record.
	s.Status = models.ScanStatusCompleted
	s.ErrorMessage = ""
	require.NoError(t, store.SaveSession(ctx, s))
	got, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusCompleted, got.Status)
}

func missingSession(t *testing.T, store interfaces.ResultStore) {
	_, err := store.GetSession(context.Background(), "nope")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func listSessions(t *testing.T, store interfaces.ResultStore) {
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		require.NoError(t, store.SaveSession(ctx, Session(fmt.Sprintf("us-%d", i), models.MarketUS, base.Add(time.Duration(i)*time.Hour))))
	}
	require.NoError(t, store.SaveSession(ctx, Session("au-0", models.MarketAU, base)))

	got, err := store.ListSessions(ctx, models.MarketUS, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "us-3", got[0].ID)
	assert.Equal(t, "us-1", got[2].ID)

	au, err := store.ListSessions(ctx, models.MarketAU, 10)
	require.NoError(t, err)
	assert.Len(t, au, 1)
}

func emptyLatest(t *testing.T, store interfaces.ResultStore) {
	res, err := store.GetLatest(context.Background(), models.MarketUS)
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	assert.Zero(t, res.Count())
}

func replaceTwice(t *testing.T, store interfaces.ResultStore) {
	ctx := context.Background()
	rows := Rows(models.MarketAU, 3, 2)

	first := Session("first", models.MarketAU, base)
	require.NoError(t, store.SaveSession(ctx, first))
	require.NoError(t, store.ReplaceResults(ctx, first, rows))

	second := Session("second", models.MarketAU, base.Add(24*time.Hour))
	require.NoError(t, store.SaveSession(ctx, second))
	require.NoError(t, store.ReplaceResults(ctx, second, rows))

	res, err := store.GetLatest(ctx, models.MarketAU)
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.Equal(t, "second", res.Session.ID)
	assert.Equal(t, 5, res.Count())
	require.Len(t, res.Squeeze, 3)
	require.Len(t, res.Spikes, 2)

	assert.Equal(t, "SQ2", res.Squeeze[0].Symbol, "longest squeeze first")
	assert.Equal(t, 7, res.Squeeze[0].SqueezeDays)
	assert.Equal(t, "Squeeze 2 Ltd", res.Squeeze[0].CompanyName)
	assert.Equal(t, "SP1", res.Spikes[0].Symbol, "largest ratio first")
	for _, r := range append(res.Squeeze, res.Spikes...) {
		assert.Equal(t, "second", r.SessionID)
	}
}

func replaceSameSession(t *testing.T, store interfaces.ResultStore) {
	ctx := context.Background()
	s := Session("retry", models.MarketUS, base)
	require.NoError(t, store.SaveSession(ctx, s))

	require.NoError(t, store.ReplaceResults(ctx, s, Rows(models.MarketUS, 2, 1)))
	require.NoError(t, store.ReplaceResults(ctx, s, Rows(models.MarketUS, 2, 1)))

	res, err := store.GetLatest(ctx, models.MarketUS)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count())
}

func marketsIsolated(t *testing.T, store interfaces.ResultStore) {
	ctx := context.Background()

	us := Session("us", models.MarketUS, base)
	au := Session("au", models.MarketAU, base)
	require.NoError(t, store.SaveSession(ctx, us))
	require.NoError(t, store.SaveSession(ctx, au))
	require.NoError(t, store.ReplaceResults(ctx, us, Rows(models.MarketUS, 1, 0)))
	require.NoError(t, store.ReplaceResults(ctx, au, Rows(models.MarketAU, 0, 2)))

	// An empty result set is still a valid snapshot.
	us2 := Session("us2", models.MarketUS, base.Add(time.Hour))
	require.NoError(t, store.SaveSession(ctx, us2))
	require.NoError(t, store.ReplaceResults(ctx, us2, nil))

	usRes, err := store.GetLatest(ctx, models.MarketUS)
	require.NoError(t, err)
	assert.Equal(t, "us2", usRes.Session.ID)
	assert.Zero(t, usRes.Count())

	auRes, err := store.GetLatest(ctx, models.MarketAU)
	require.NoError(t, err)
	assert.Equal(t, "au", auRes.Session.ID)
	assert.Len(t, auRes.Spikes, 2)
}

func systemKV(t *testing.T, store interfaces.ResultStore) {
	ctx := context.Background()

	_, err := store.GetSystemKV(ctx, "scheduler.last_fired.US")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, store.SetSystemKV(ctx, "scheduler.last_fired.US", "2026-03-02T07:00:00+11:00"))
	require.NoError(t, store.SetSystemKV(ctx, "scheduler.last_fired.US", "2026-03-03T07:00:00+11:00"))

	v, err := store.GetSystemKV(ctx, "scheduler.last_fired.US")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-03T07:00:00+11:00", v)
}
