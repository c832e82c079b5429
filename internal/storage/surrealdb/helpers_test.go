package surrealdb

import (
	"context"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/vire-scanner/internal/models"
)

func timeZero() time.Time {
	return time.Date(2026, 1, 5, 5, 30, 0, 0, time.UTC)
}

func surrealQuery(ctx context.Context, s *Store, sql string, vars map[string]any) (*[]surrealdb.QueryResult[any], error) {
	return surrealdb.Query[any](ctx, s.db, sql, vars)
}

func queryCount(ctx context.Context, s *Store, market models.Market) (int, error) {
	type row struct {
		Symbol string `json:"symbol"`
	}
	res, err := surrealdb.Query[[]row](ctx, s.db, "SELECT symbol FROM scan_result WHERE market = $market", map[string]any{"market": market})
	if err != nil {
		return 0, err
	}
	if res == nil || len(*res) == 0 {
		return 0, nil
	}
	return len((*res)[0].Result), nil
}
