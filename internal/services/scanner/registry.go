// Package scanner runs market scans: universe retrieval, concurrent bar
// fetching, the funnel filter, per-symbol analysis and result persistence.
package scanner

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

var (
	// ErrScanInProgress is returned when a market already holds a running token.
	ErrScanInProgress = errors.New("scan already in progress for market")

	// ErrScanCancelled is returned when a run's token disappears mid-flight.
	ErrScanCancelled = errors.New("scan cancelled")

	// ErrUnknownMarket is returned for markets absent from the configuration.
	ErrUnknownMarket = errors.New("unknown market")
)

// Registry tracks which markets have a scan in progress. At most one token
// exists per market. It is shared between the orchestrator, the fetcher and
// the control surface.
type Registry struct {
	mu    sync.Mutex
	scans map[models.Market]models.RunningScan
	now   func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scans: make(map[models.Market]models.RunningScan),
		now:   time.Now,
	}
}

// Acquire inserts the token for market. It fails with ErrScanInProgress
// when another session already holds it.
func (r *Registry) Acquire(market models.Market, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scans[market]; ok {
		return ErrScanInProgress
	}
	r.scans[market] = models.RunningScan{
		Market:    market,
		SessionID: sessionID,
		StartedAt: r.now(),
	}
	return nil
}

// Release removes the token if it still belongs to sessionID. A token
// taken over by a later session is left alone.
func (r *Registry) Release(market models.Market, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.scans[market]; ok && cur.SessionID == sessionID {
		delete(r.scans, market)
	}
}

// Cancel removes the market's token regardless of owner. The running scan
// notices at its next checkpoint. Returns false when nothing was running.
func (r *Registry) Cancel(market models.Market) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scans[market]; !ok {
		return false
	}
	delete(r.scans, market)
	return true
}

// IsActive reports whether sessionID still holds the market token.
func (r *Registry) IsActive(market models.Market, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.scans[market]
	return ok && cur.SessionID == sessionID
}

// Running returns a snapshot of all tokens ordered by market.
func (r *Registry) Running() []models.RunningScan {
	r.mu.Lock()
	out := make([]models.RunningScan, 0, len(r.scans))
	for _, s := range r.scans {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Market < out[j].Market })
	return out
}
