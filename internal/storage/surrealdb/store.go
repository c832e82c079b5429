// Package surrealdb implements the result store on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

const (
	tableSession  = "scan_session"
	tableResult   = "scan_result"
	tableActive   = "scan_active"
	tableSystemKV = "system_kv"
)

// Store implements interfaces.ResultStore using SurrealDB.
type Store struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewStore connects, signs in, selects the namespace and defines tables.
func NewStore(logger *common.Logger, cfg common.SurrealDBConfig) (*Store, error) {
	ctx := context.Background()

	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	// SurrealDB v3 errors on querying non-existent tables
	for _, table := range []string{tableSession, tableResult, tableActive, tableSystemKV} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB result store initialized")

	return &Store{db: db, logger: logger}, nil
}

// sessionRecord is the stored shape of a session. The record id carries the
// session id, so the payload keeps it under session_id.
type sessionRecord struct {
	SessionID      string             `json:"session_id"`
	Market         models.Market      `json:"market"`
	Trigger        models.ScanTrigger `json:"trigger"`
	Status         models.ScanStatus  `json:"status"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        time.Time          `json:"end_time"`
	ResultCount    int                `json:"result_count"`
	ErrorMessage   string             `json:"error_message"`
	Thresholds     models.Thresholds  `json:"thresholds"`
	UniverseCount  int                `json:"universe_count"`
	FetchedCount   int                `json:"fetched_count"`
	FailedCount    int                `json:"failed_count"`
	LiquidCount    int                `json:"liquid_count"`
	SqueezeCount   int                `json:"squeeze_count"`
	SpikeCount     int                `json:"spike_count"`
	AnalysisErrors int                `json:"analysis_errors"`
}

func toRecord(s *models.ScanSession) sessionRecord {
	return sessionRecord{
		SessionID:      s.ID,
		Market:         s.Market,
		Trigger:        s.Trigger,
		Status:         s.Status,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		ResultCount:    s.ResultCount,
		ErrorMessage:   s.ErrorMessage,
		Thresholds:     s.Thresholds,
		UniverseCount:  s.UniverseCount,
		FetchedCount:   s.FetchedCount,
		FailedCount:    s.FailedCount,
		LiquidCount:    s.LiquidCount,
		SqueezeCount:   s.SqueezeCount,
		SpikeCount:     s.SpikeCount,
		AnalysisErrors: s.AnalysisErrors,
	}
}

func (r sessionRecord) toModel() models.ScanSession {
	return models.ScanSession{
		ID:             r.SessionID,
		Market:         r.Market,
		Trigger:        r.Trigger,
		Status:         r.Status,
		StartTime:      r.StartTime,
		EndTime:        r.EndTime,
		ResultCount:    r.ResultCount,
		ErrorMessage:   r.ErrorMessage,
		Thresholds:     r.Thresholds,
		UniverseCount:  r.UniverseCount,
		FetchedCount:   r.FetchedCount,
		FailedCount:    r.FailedCount,
		LiquidCount:    r.LiquidCount,
		SqueezeCount:   r.SqueezeCount,
		SpikeCount:     r.SpikeCount,
		AnalysisErrors: r.AnalysisErrors,
	}
}

// activeRecord points a market at its current snapshot.
type activeRecord struct {
	Market      models.Market `json:"market"`
	SessionID   string        `json:"session_id"`
	ActivatedAt time.Time     `json:"activated_at"`
}

// sysKV is a system key/value entry.
type sysKV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// upsert retries transient write failures.
func (s *Store) upsert(ctx context.Context, sql string, vars map[string]any, what string) error {
	op := func() error {
		_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, 2), ctx)); err != nil {
		return fmt.Errorf("failed to save %s after retries: %w", what, err)
	}
	return nil
}

func (s *Store) SaveSession(ctx context.Context, session *models.ScanSession) error {
	sql := "UPSERT type::record($tb, $id) CONTENT $session"
	vars := map[string]any{"tb": tableSession, "id": session.ID, "session": toRecord(session)}
	return s.upsert(ctx, sql, vars, "session")
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ScanSession, error) {
	rec, err := surrealdb.Select[sessionRecord](ctx, s.db, surrealmodels.NewRecordID(tableSession, id))
	if err != nil {
		return nil, fmt.Errorf("failed to select session: %w", err)
	}
	if rec == nil || rec.SessionID == "" {
		return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
	}
	session := rec.toModel()
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := "SELECT * FROM scan_session WHERE market = $market ORDER BY start_time DESC LIMIT $limit"
	vars := map[string]any{"market": market, "limit": limit}

	results, err := surrealdb.Query[[]sessionRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := []models.ScanSession{}
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			sessions = append(sessions, r.toModel())
		}
	}
	return sessions, nil
}

// ReplaceResults stages rows under the session, swaps the market's active
// pointer in a single record write and then removes older snapshots.
func (s *Store) ReplaceResults(ctx context.Context, session *models.ScanSession, rows []models.ScanResultRow) error {
	vars := map[string]any{"sid": session.ID, "market": session.Market}

	// Clear partial rows from an earlier attempt of this session.
	if _, err := surrealdb.Query[any](ctx, s.db, "DELETE scan_result WHERE session_id = $sid", vars); err != nil {
		return fmt.Errorf("failed to clear staged rows: %w", err)
	}

	if len(rows) > 0 {
		staged := make([]models.ScanResultRow, len(rows))
		for i, r := range rows {
			r.SessionID = session.ID
			r.Market = session.Market
			staged[i] = r
		}
		if _, err := surrealdb.Query[any](ctx, s.db, "INSERT INTO scan_result $rows", map[string]any{"rows": staged}); err != nil {
			return fmt.Errorf("failed to stage rows: %w", err)
		}
	}

	active := activeRecord{Market: session.Market, SessionID: session.ID, ActivatedAt: time.Now()}
	swap := "UPSERT type::record($tb, $market) CONTENT $active"
	if err := s.upsert(ctx, swap, map[string]any{"tb": tableActive, "market": string(session.Market), "active": active}, "active snapshot"); err != nil {
		return err
	}

	if _, err := surrealdb.Query[any](ctx, s.db, "DELETE scan_result WHERE market = $market AND session_id != $sid", vars); err != nil {
		// The new snapshot is already active; stale rows go on the next replace.
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

	active, err := surrealdb.Select[activeRecord](ctx, s.db, surrealmodels.NewRecordID(tableActive, string(market)))
	if err != nil {
		return nil, fmt.Errorf("failed to select active snapshot: %w", err)
	}
	if active == nil || active.SessionID == "" {
		res.Squeeze, res.Spikes = models.SplitByKind(nil)
		return res, nil
	}

	session, err := s.GetSession(ctx, active.SessionID)
	if err != nil {
		return nil, err
	}
	res.Session = session

	results, err := surrealdb.Query[[]models.ScanResultRow](ctx, s.db,
		"SELECT * FROM scan_result WHERE session_id = $sid", map[string]any{"sid": active.SessionID})
	if err != nil {
		return nil, fmt.Errorf("failed to select rows: %w", err)
	}
	var rows []models.ScanResultRow
	if results != nil && len(*results) > 0 {
		rows = (*results)[0].Result
	}
	res.Squeeze, res.Spikes = models.SplitByKind(rows)
	return res, nil
}

func (s *Store) GetSystemKV(ctx context.Context, key string) (string, error) {
	kv, err := surrealdb.Select[sysKV](ctx, s.db, surrealmodels.NewRecordID(tableSystemKV, key))
	if err != nil {
		return "", fmt.Errorf("failed to get key '%s': %w", key, err)
	}
	if kv == nil || kv.Key == "" {
		return "", fmt.Errorf("system KV %s: %w", key, interfaces.ErrNotFound)
	}
	return kv.Value, nil
}

func (s *Store) SetSystemKV(ctx context.Context, key, value string) error {
	sql := "UPSERT type::record($tb, $id) CONTENT $kv"
	vars := map[string]any{"tb": tableSystemKV, "id": key, "kv": sysKV{Key: key, Value: value}}
	return s.upsert(ctx, sql, vars, "system KV")
}

func (s *Store) Close() error {
	s.db.Close(context.Background())
	return nil
}

var _ interfaces.ResultStore = (*Store)(nil)
