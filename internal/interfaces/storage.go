package interfaces

import (
	"context"
	"errors"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

// ErrNotFound is returned by stores for missing records.
var ErrNotFound = errors.New("not found")

// ResultStore persists the scan session log and the current result
// snapshot of each market.
type ResultStore interface {
	// SaveSession inserts or replaces a session record
	SaveSession(ctx context.Context, session *models.ScanSession) error

	// GetSession returns a session by ID
	GetSession(ctx context.Context, id string) (*models.ScanSession, error)

	// ListSessions returns the most recent sessions for a market, newest first
	ListSessions(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error)

	// ReplaceResults stages rows under the session's snapshot, atomically
	// activates that snapshot for the market, then removes older rows.
	// A failure before activation leaves the previous snapshot active.
	ReplaceResults(ctx context.Context, session *models.ScanSession, rows []models.ScanResultRow) error

	// GetLatest returns the active snapshot and the session that produced it.
	// A market that was never scanned yields an empty result, not an error.
	GetLatest(ctx context.Context, market models.Market) (*models.LatestResults, error)

	StateStore

	// Close releases the underlying connection
	Close() error
}

// StateStore is the small system key/value area used for runtime state
// such as scheduler last-fired timestamps and API keys.
type StateStore interface {
	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error
}
