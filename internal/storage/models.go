// Package storage provides persistence for balance snapshots and cycle history.
package storage

import (
	"time"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

// SnapshotRetention is how much balance history PruneSnapshots keeps by default.
const SnapshotRetention = 90 * 24 * time.Hour

// PaginatedCycles is one page of cycle history, newest first.
// JSON tags use camelCase to match the HTTP API.
type PaginatedCycles struct {
	Cycles []types.CycleSummary `json:"cycles"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}
