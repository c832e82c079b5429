// Package sqlite implements the result store on a relational SQLite file via gorm.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/models"
)

const (
	defaultListLimit = 50
	insertBatchSize  = 200
)

// activeSnapshot points a market at the session whose rows are current.
type activeSnapshot struct {
	Market      string `gorm:"primaryKey"`
	SessionID   string
	ActivatedAt time.Time
}

func (activeSnapshot) TableName() string { return "scan_active" }

type systemKV struct {
	Name  string `gorm:"primaryKey"`
	Value string
}

func (systemKV) TableName() string { return "system_kv" }

// Store implements interfaces.ResultStore on SQLite.
type Store struct {
	db     *gorm.DB
	logger *common.Logger
}

// NewStore opens the database file, creating parent directories, and
// migrates the schema.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&models.ScanSession{}, &models.ScanResultRow{}, &activeSnapshot{}, &systemKV{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite result store opened")
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) SaveSession(ctx context.Context, session *models.ScanSession) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(session).Error
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*models.ScanSession, error) {
	var session models.ScanSession
	err := s.db.WithContext(ctx).Where("session_id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return &session, nil
}

func (s *Store) ListSessions(ctx context.Context, market models.Market, limit int) ([]models.ScanSession, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	sessions := []models.ScanSession{}
	err := s.db.WithContext(ctx).
		Where("market = ?", market).
		Order("start_time DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ReplaceResults inserts the session's rows, then in one transaction points
// the market at them and deletes rows of earlier sessions.
func (s *Store) ReplaceResults(ctx context.Context, session *models.ScanSession, rows []models.ScanResultRow) error {
	db := s.db.WithContext(ctx)

	if err := db.Where("session_id = ?", session.ID).Delete(&models.ScanResultRow{}).Error; err != nil {
		return fmt.Errorf("failed to clear staged rows: %w", err)
	}

	if len(rows) > 0 {
		staged := make([]models.ScanResultRow, len(rows))
		for i, r := range rows {
			r.RowID = 0
			r.SessionID = session.ID
			r.Market = session.Market
			staged[i] = r
		}
		if err := db.CreateInBatches(&staged, insertBatchSize).Error; err != nil {
			return fmt.Errorf("failed to stage rows: %w", err)
		}
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		active := activeSnapshot{Market: string(session.Market), SessionID: session.ID, ActivatedAt: time.Now()}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&active).Error; err != nil {
			return fmt.Errorf("failed to activate snapshot: %w", err)
		}
		return tx.Where("market = ? AND session_id <> ?", session.Market, session.ID).
			Delete(&models.ScanResultRow{}).Error
	})
	if err != nil {
		return err
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
	db := s.db.WithContext(ctx)

	var active activeSnapshot
	err := db.Where("market = ?", string(market)).First(&active).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		res.Squeeze, res.Spikes = models.SplitByKind(nil)
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read active snapshot: %w", err)
	}

	session, err := s.GetSession(ctx, active.SessionID)
	if err != nil {
		return nil, err
	}
	res.Session = session

	var rows []models.ScanResultRow
	if err := db.Where("session_id = ?", active.SessionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to read snapshot rows: %w", err)
	}
	res.Squeeze, res.Spikes = models.SplitByKind(rows)
	return res, nil
}

func (s *Store) GetSystemKV(ctx context.Context, key string) (string, error) {
	var kv systemKV
	err := s.db.WithContext(ctx).Where("name = ?", key).First(&kv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("system KV %s: %w", key, interfaces.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key '%s': %w", key, err)
	}
	return kv.Value, nil
}

func (s *Store) SetSystemKV(ctx context.Context, key, value string) error {
	kv := systemKV{Name: key, Value: value}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&kv).Error; err != nil {
		return fmt.Errorf("failed to set key '%s': %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ interfaces.ResultStore = (*Store)(nil)
