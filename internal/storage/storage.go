package storage

import (
	"context"
	"time"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

// Store defines the persistence interface for farm history.
type Store interface {
	// Balance snapshots (one row per wallet per reading)
	SaveSnapshots(ctx context.Context, readings []types.BalanceReading) error
	LatestSnapshots(ctx context.Context) ([]types.BalanceReading, error)
	PruneSnapshots(ctx context.Context, keep time.Duration) (int64, error)

	// Cycle history
	BeginCycle(ctx context.Context, startedAt time.Time) (int64, error)
	CompleteCycle(ctx context.Context, summary *types.CycleSummary) error
	ListCycles(ctx context.Context, limit, offset int) (*PaginatedCycles, error)

	// Lifecycle
	Close() error
}
