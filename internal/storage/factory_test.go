package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/storage/badger"
	"github.com/bobmcallan/vire-scanner/internal/storage/sqlite"
)

func TestNewResultStore_Backends(t *testing.T) {
	dir := t.TempDir()
	logger := common.NewSilentLogger()

	tests := []struct {
		backend string
		check   func(t *testing.T, v any)
	}{
		{"", func(t *testing.T, v any) { assert.IsType(t, &badger.Store{}, v) }},
		{common.StorageBadger, func(t *testing.T, v any) { assert.IsType(t, &badger.Store{}, v) }},
		{common.StorageSQLite, func(t *testing.T, v any) { assert.IsType(t, &sqlite.Store{}, v) }},
	}

	for i, tt := range tests {
		t.Run("backend="+tt.backend, func(t *testing.T) {
			cfg := &common.StorageConfig{
				Backend: tt.backend,
				Badger:  common.AreaConfig{Path: filepath.Join(dir, "badger", tt.backend, string(rune('a'+i)))},
				SQLite:  common.AreaConfig{Path: filepath.Join(dir, "sqlite", string(rune('a'+i)), "scanner.db")},
			}
			store, err := NewResultStore(logger, cfg)
			require.NoError(t, err)
			defer store.Close()
			tt.check(t, store)

			require.NoError(t, store.SetSystemKV(context.Background(), "k", "v"))
		})
	}
}

func TestNewResultStore_Unknown(t *testing.T) {
	_, err := NewResultStore(common.NewSilentLogger(), &common.StorageConfig{Backend: "postgres"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
