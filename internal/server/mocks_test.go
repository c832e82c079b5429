package server

import (
	"context"
	"testing"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/app"
	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

type mockScanService struct {
	startFn    func(ctx context.Context, market models.Market, trigger models.ScanTrigger, th models.Thresholds) (*models.ScanSession, error)
	cancelFn   func(market models.Market) bool
	latestFn   func(ctx context.Context, market models.Market) (*models.LatestResults, error)
	allFn      func(ctx context.Context) (map[models.Market]*models.LatestResults, error)
	sessionsFn func(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error)
	analyzeFn  func(ctx context.Context, market models.Market, code string) (*models.SymbolAnalysis, error)
	running    []models.RunningScan
}

func (m *mockScanService) StartScan(ctx context.Context, market models.Market, trigger models.ScanTrigger, th models.Thresholds) (*models.ScanSession, error) {
	return m.startFn(ctx, market, trigger, th)
}

func (m *mockScanService) CancelScan(market models.Market) bool {
	if m.cancelFn == nil {
		return false
	}
	return m.cancelFn(market)
}

func (m *mockScanService) GetLatest(ctx context.Context, market models.Market) (*models.LatestResults, error) {
	return m.latestFn(ctx, market)
}

func (m *mockScanService) GetAllLatest(ctx context.Context) (map[models.Market]*models.LatestResults, error) {
	return m.allFn(ctx)
}

func (m *mockScanService) ListSessions(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error) {
	return m.sessionsFn(ctx, market, limit)
}

func (m *mockScanService) Running() []models.RunningScan {
	if m.running == nil {
		return []models.RunningScan{}
	}
	return m.running
}

func (m *mockScanService) AnalyzeSymbol(ctx context.Context, market models.Market, code string) (*models.SymbolAnalysis, error) {
	return m.analyzeFn(ctx, market, code)
}

func (m *mockScanService) Wait() {}

func newTestServer(t *testing.T, scans *mockScanService) *Server {
	t.Helper()
	a := &app.App{
		Config:  common.NewDefaultConfig(),
		Logger:  common.NewSilentLogger(),
		Scanner: scans,
	}
	srv := NewServer(a)
	srv.now = func() time.Time { return time.Date(2026, 3, 4, 15, 0, 0, 0, time.UTC) }
	return srv
}
