// Package storage selects the result store backend.
package storage

import (
	"fmt"

	"github.com/bobmcallan/vire-scanner/internal/common"
	"github.com/bobmcallan/vire-scanner/internal/interfaces"
	"github.com/bobmcallan/vire-scanner/internal/storage/badger"
	"github.com/bobmcallan/vire-scanner/internal/storage/sqlite"
	"github.com/bobmcallan/vire-scanner/internal/storage/surrealdb"
)

// NewResultStore opens the result store named by the configuration.
// Supported backends: "badger" (default), "sqlite", "surrealdb".
func NewResultStore(logger *common.Logger, config *common.StorageConfig) (interfaces.ResultStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = common.StorageBadger
	}

	switch backend {
	case common.StorageBadger:
		return badger.NewStore(logger, config.Badger.Path)

	case common.StorageSQLite:
		return sqlite.NewStore(logger, config.SQLite.Path)

	case common.StorageSurrealDB:
		return surrealdb.NewStore(logger, config.SurrealDB)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: badger, sqlite, surrealdb)", backend)
	}
}
