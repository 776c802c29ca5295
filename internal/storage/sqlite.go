package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the farm database at dbPath, creating it and its
// directory if needed.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrent performance
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate creates the schema. Wei amounts are stored as decimal strings
// since values exceed the 64-bit integer range.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS balance_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wallet_index INTEGER NOT NULL,
		address TEXT NOT NULL,
		native_wei TEXT NOT NULL,
		weth_wei TEXT NOT NULL,
		exeth_wei TEXT NOT NULL,
		taken_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON balance_snapshots(taken_at);
	CREATE INDEX IF NOT EXISTS idx_snapshots_wallet ON balance_snapshots(wallet_index);

	CREATE TABLE IF NOT EXISTS cycle_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		attempted INTEGER DEFAULT 0,
		confirmed INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		stop_reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycle_summaries(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveSnapshots inserts one batch of balance readings.
// All rows go in a single transaction so the fsync cost is paid once.
func (s *SQLiteStore) SaveSnapshots(ctx context.Context, readings []types.BalanceReading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO balance_snapshots (wallet_index, address, native_wei, weth_wei, exeth_wei, taken_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, err := stmt.ExecContext(ctx, r.WalletIndex, r.Address, r.Native, r.Weth, r.Exeth, r.TakenAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LatestSnapshots returns the most recent reading per wallet, ordered by index.
func (s *SQLiteStore) LatestSnapshots(ctx context.Context) ([]types.BalanceReading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wallet_index, address, native_wei, weth_wei, exeth_wei, taken_at
		FROM balance_snapshots
		WHERE id IN (SELECT MAX(id) FROM balance_snapshots GROUP BY wallet_index)
		ORDER BY wallet_index
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []types.BalanceReading
	for rows.Next() {
		var r types.BalanceReading
		err := rows.Scan(&r.WalletIndex, &r.Address, &r.Native, &r.Weth, &r.Exeth, &r.TakenAt)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}

	return readings, rows.Err()
}

// PruneSnapshots deletes readings older than keep and reports how many went.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, keep time.Duration) (int64, error) {
	cutoff := time.Now().Add(-keep)
	res, err := s.db.ExecContext(ctx, "DELETE FROM balance_snapshots WHERE taken_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BeginCycle inserts a new cycle row and returns its ID.
func (s *SQLiteStore) BeginCycle(ctx context.Context, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO cycle_summaries (started_at) VALUES (?)", startedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// CompleteCycle fills in the final counts for a cycle begun earlier.
func (s *SQLiteStore) CompleteCycle(ctx context.Context, summary *types.CycleSummary) error {
	completedAt := summary.CompletedAt
	if completedAt == nil {
		now := time.Now()
		completedAt = &now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE cycle_summaries SET
			completed_at = ?,
			attempted = ?,
			confirmed = ?,
			failed = ?,
			stop_reason = ?
		WHERE id = ?
	`, completedAt, summary.Attempted, summary.Confirmed, summary.Failed,
		nullString(summary.StopReason), summary.ID)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("cycle not found: %d", summary.ID)
	}

	return nil
}

// ListCycles returns a paginated page of cycle history, newest first.
func (s *SQLiteStore) ListCycles(ctx context.Context, limit, offset int) (*PaginatedCycles, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cycle_summaries").Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, completed_at, attempted, confirmed, failed, stop_reason
		FROM cycle_summaries
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cycles []types.CycleSummary
	for rows.Next() {
		var c types.CycleSummary
		var completedAt sql.NullTime
		var stopReason sql.NullString

		err := rows.Scan(&c.ID, &c.StartedAt, &completedAt, &c.Attempted, &c.Confirmed, &c.Failed, &stopReason)
		if err != nil {
			return nil, err
		}

		if completedAt.Valid {
			c.CompletedAt = &completedAt.Time
		}
		if stopReason.Valid {
			c.StopReason = stopReason.String
		}

		cycles = append(cycles, c)
	}

	return &PaginatedCycles{
		Cycles: cycles,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, rows.Err()
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
