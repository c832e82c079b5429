package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

const defaultListLimit = 50

// activeEntry points a market at the session whose rows form its snapshot.
type activeEntry struct {
	Market      string `badgerhold:"key"`
	SessionID   string
	ActivatedAt time.Time
}

func rowKey(sessionID string, i int) string {
	return fmt.Sprintf("%s|%06d", sessionID, i)
}

func (s *Store) SaveSession(_ context.Context, session *models.ScanSession) error {
	if err := s.db.Upsert(session.ID, session); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Store) GetSession(_ context.Context, id string) (*models.ScanSession, error) {
	var session models.ScanSession
	if err := s.db.Get(id, &session); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

func (s *Store) ListSessions(_ context.Context, market models.Market, limit int) ([]models.ScanSession, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var sessions []models.ScanSession
	if err := s.db.Find(&sessions, badgerhold.Where("Market").Eq(market)); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartTime.After(sessions[j].StartTime)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	if sessions == nil {
		sessions = []models.ScanSession{}
	}
	return sessions, nil
}

// ReplaceResults stages rows under the session's key prefix, swaps the
// market's active entry and then removes rows of other sessions.
func (s *Store) ReplaceResults(_ context.Context, session *models.ScanSession, rows []models.ScanResultRow) error {
	own := badgerhold.Where("SessionID").Eq(session.ID)
	if err := s.db.DeleteMatching(&models.ScanResultRow{}, own); err != nil {
		return fmt.Errorf("failed to clear staged rows: %w", err)
	}

	for i, r := range rows {
		r.SessionID = session.ID
		r.Market = session.Market
		if err := s.db.Upsert(rowKey(session.ID, i), &r); err != nil {
			return fmt.Errorf("failed to stage row %s: %w", r.Symbol, err)
		}
	}

	active := activeEntry{Market: string(session.Market), SessionID: session.ID, ActivatedAt: time.Now()}
	if err := s.db.Upsert(active.Market, &active); err != nil {
		return fmt.Errorf("failed to activate snapshot: %w", err)
	}

	stale := badgerhold.Where("Market").Eq(session.Market).And("SessionID").Ne(session.ID)
	if err := s.db.DeleteMatching(&models.ScanResultRow{}, stale); err != nil {
		s.logger.Warn().Err(err).Str("market", string(session.Market)).Msg("Failed to remove superseded rows")
	}

	s.logger.Debug().
		Str("market", string(session.Market)).
		Str("session", session.ID).
		Int("rows", len(rows)).
		Msg("Result snapshot activated")
	return nil
}

func (s *Store) GetLatest(ctx context.Context, market models.Market) (*models.LatestResults, error) {
	res := &models.LatestResults{Market: market}

	var active activeEntry
	if err := s.db.Get(string(market), &active); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			res.Squeeze, res.Spikes = models.SplitByKind(nil)
			return res, nil
		}
		return nil, fmt.Errorf("failed to read active snapshot: %w", err)
	}

	session, err := s.GetSession(ctx, active.SessionID)
	if err != nil {
		return nil, err
	}
	res.Session = session

	var rows []models.ScanResultRow
	if err := s.db.Find(&rows, badgerhold.Where("SessionID").Eq(active.SessionID)); err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}
	res.Squeeze, res.Spikes = models.SplitByKind(rows)
	return res, nil
}
