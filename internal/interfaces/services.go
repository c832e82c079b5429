package interfaces

import (
	"context"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

// ScanService is the control surface exposed to the scheduler and the REST API.
type ScanService interface {
	// StartScan acquires the market token and runs a scan in the background
	StartScan(ctx context.Context, market models.Market, trigger models.ScanTrigger, thresholds models.Thresholds) (*models.ScanSession, error)

	// CancelScan removes the market token; returns false when nothing was running
	CancelScan(market models.Market) bool

	// GetLatest returns the current result snapshot for a market
	GetLatest(ctx context.Context, market models.Market) (*models.LatestResults, error)

	// GetAllLatest returns the current snapshot for every configured market
	GetAllLatest(ctx context.Context) (map[models.Market]*models.LatestResults, error)

	// ListSessions returns the session log for a market
	ListSessions(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error)

	// Running lists markets with a scan in progress
	Running() []models.RunningScan

	// AnalyzeSymbol runs the unfiltered single-symbol analysis
	AnalyzeSymbol(ctx context.Context, market models.Market, code string) (*models.SymbolAnalysis, error)

	// Wait blocks until background runs have finished
	Wait()
}
