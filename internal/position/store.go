package position

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"

	"github.com/mercer-quant/sporttrader/internal/telemetry"
)

const (
	maxStoreBytes  int64   = 1 << 30 // 1 GiB, same ceiling as the teacher's tracking store
	evictPct       float64 = 0.10    // evict oldest 10% of *closed* rows when over budget
	vacuumInterval         = 10
)

var ErrNotFound = errors.New("position: not found")

// Store is the SQLite-backed Position Store. One process-wide handle per
// user is fine — SetMaxOpenConns(1) plus WAL mode serializes writers the
// same way the teacher's tracking.Store does, and every mutating method
// holds s.mu for the duration of its statement so two goroutines can't
// interleave a create-if-absent check with a write.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	cachedSize   int64
	evictCounter int
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create position store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init position schema: %w", err)
	}

	s := &Store{db: db}
	s.refreshSize()
	telemetry.Plainf("position store: opened %s  size=%s", path, humanize.Bytes(uint64(s.cachedSize)))
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	id                     TEXT PRIMARY KEY,
	user_id                TEXT NOT NULL,
	condition_id           TEXT NOT NULL,
	side                   TEXT NOT NULL,
	status                 TEXT NOT NULL,
	team                   TEXT NOT NULL,

	entry_price            TEXT NOT NULL,
	entry_size             TEXT NOT NULL,
	entry_cost_usdc        TEXT NOT NULL,
	entry_reason           TEXT NOT NULL DEFAULT '',
	entry_order_id         TEXT NOT NULL DEFAULT '',
	entry_confidence_score REAL NOT NULL DEFAULT 0,
	entry_at               TEXT NOT NULL,

	exit_price             TEXT NOT NULL DEFAULT '0',
	exit_size              TEXT NOT NULL DEFAULT '0',
	exit_proceeds_usdc     TEXT NOT NULL DEFAULT '0',
	exit_reason            TEXT NOT NULL DEFAULT '',
	exit_order_id          TEXT NOT NULL DEFAULT '',
	realized_pnl_usdc      TEXT NOT NULL DEFAULT '0',
	closed_at              TEXT
);

-- P1: at most one open position per (user, condition_id). SQLite partial
-- unique indexes enforce this at the engine level, not just in app code —
-- two concurrent INSERTs racing past the app-level check still only let
-- one through.
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_per_market
	ON positions(user_id, condition_id) WHERE status = 'open';

-- P2: at most one open position per team, within a user.
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_per_team
	ON positions(user_id, team) WHERE status = 'open';

CREATE INDEX IF NOT EXISTS idx_positions_user_closed_at ON positions(user_id, closed_at);

CREATE TABLE IF NOT EXISTS orphaned_orders (
	order_id     TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	condition_id TEXT NOT NULL,
	detected_at  TEXT NOT NULL,
	resolved_at  TEXT
);
`

// CreateIfAbsent inserts a new open position row, relying on the partial
// unique indexes to make the operation atomic across goroutines and
// processes: exactly one of N concurrent calls with the same (user,
// condition_id) or (user, team) wins; the rest observe created=false and
// get back the row that already exists.
func (s *Store) CreateIfAbsent(ctx context.Context, p Position) (row Position, created bool, err error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusOpen
	}
	if p.EntryAt.IsZero() {
		p.EntryAt = time.Now().UTC()
	}

	s.mu.Lock()
	_, insertErr := s.db.ExecContext(ctx, `
		INSERT INTO positions (
			id, user_id, condition_id, side, status, team,
			entry_price, entry_size, entry_cost_usdc, entry_reason,
			entry_order_id, entry_confidence_score, entry_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.ConditionID, string(p.Side), string(p.Status), p.Team,
		p.EntryPrice.String(), p.EntrySize.String(), p.EntryCostUSDC.String(), p.EntryReason,
		p.EntryOrderID, p.EntryConfidenceScore, p.EntryAt.Format(time.RFC3339Nano),
	)
	s.mu.Unlock()

	if insertErr == nil {
		return p, true, nil
	}
	if !isUniqueConstraintErr(insertErr) {
		return Position{}, false, fmt.Errorf("position: create: %w", insertErr)
	}

	existing, ok, getErr := s.GetOpenForMarket(ctx, p.UserID, p.ConditionID)
	if getErr != nil {
		return Position{}, false, getErr
	}
	if !ok {
		// The conflict was on the per-team index instead; look up by team.
		existing, ok, getErr = s.getOpenForTeam(ctx, p.UserID, p.Team)
		if getErr != nil {
			return Position{}, false, getErr
		}
	}
	if !ok {
		return Position{}, false, fmt.Errorf("position: create: unique constraint hit but no conflicting row found: %w", insertErr)
	}
	return existing, false, nil
}

func isUniqueConstraintErr(err error) bool {
	// modernc.org/sqlite wraps the driver error; string match is the same
	// approach the teacher's store.go takes for ALTER TABLE no-ops, since
	// the driver does not export a typed constraint-violation error.
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") || contains(err.Error(), "constraint violation"))
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

// Close atomically sets the exit fields and realized P&L, and is a no-op
// on a second call for the same id (P7) — it only updates rows still in
// status='open'.
func (s *Store) Close(ctx context.Context, id string, exitPrice, exitSize, exitProceeds decimal.Decimal, reason ExitReason, exitOrderID string) (Position, error) {
	existing, ok, err := s.GetByID(ctx, id)
	if err != nil {
		return Position{}, err
	}
	if !ok {
		return Position{}, ErrNotFound
	}
	if existing.Status == StatusClosed {
		return existing, nil // P7: idempotent no-op
	}

	realizedPnL := exitProceeds.Sub(existing.EntryCostUSDC)
	closedAt := time.Now().UTC()

	s.mu.Lock()
	res, execErr := s.db.ExecContext(ctx, `
		UPDATE positions SET
			status = 'closed',
			exit_price = ?, exit_size = ?, exit_proceeds_usdc = ?,
			exit_reason = ?, exit_order_id = ?, realized_pnl_usdc = ?,
			closed_at = ?
		WHERE id = ? AND status = 'open'`,
		exitPrice.String(), exitSize.String(), exitProceeds.String(),
		string(reason), exitOrderID, realizedPnL.String(),
		closedAt.Format(time.RFC3339Nano), id,
	)
	s.mu.Unlock()
	if execErr != nil {
		return Position{}, fmt.Errorf("position: close: %w", execErr)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Lost a race with a concurrent close; re-read and return the
		// winner's row rather than erroring (P7: closing is a no-op).
		return s.mustGetByID(ctx, id)
	}

	s.refreshSize()
	if s.cachedSize > maxStoreBytes {
		s.evictOldestClosed(ctx)
	}

	existing.Status = StatusClosed
	existing.ExitPrice = exitPrice
	existing.ExitSize = exitSize
	existing.ExitProceedsUSDC = exitProceeds
	existing.ExitReason = reason
	existing.ExitOrderID = exitOrderID
	existing.RealizedPnLUSDC = realizedPnL
	existing.ClosedAt = closedAt
	return existing, nil
}

func (s *Store) mustGetByID(ctx context.Context, id string) (Position, error) {
	p, ok, err := s.GetByID(ctx, id)
	if err != nil {
		return Position{}, err
	}
	if !ok {
		return Position{}, ErrNotFound
	}
	return p, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (Position, bool, error) {
	return s.queryOne(ctx, `SELECT `+selectCols+` FROM positions WHERE id = ?`, id)
}

func (s *Store) GetOpenForMarket(ctx context.Context, userID, conditionID string) (Position, bool, error) {
	return s.queryOne(ctx, `SELECT `+selectCols+` FROM positions WHERE user_id = ? AND condition_id = ? AND status = 'open'`, userID, conditionID)
}

func (s *Store) getOpenForTeam(ctx context.Context, userID, team string) (Position, bool, error) {
	return s.queryOne(ctx, `SELECT `+selectCols+` FROM positions WHERE user_id = ? AND team = ? AND status = 'open'`, userID, team)
}

// HasOpenPositionForTeam answers decision.EntryInput.HasOpenPositionForTeam.
func (s *Store) HasOpenPositionForTeam(ctx context.Context, userID, team string) bool {
	_, ok, err := s.getOpenForTeam(ctx, userID, team)
	if err != nil {
		telemetry.Warnw("position: has open position for team query failed", "err", err)
		return false
	}
	return ok
}

func (s *Store) CountOpenForMarket(ctx context.Context, userID, conditionID string) (int, error) {
	return s.countWhere(ctx, `user_id = ? AND condition_id = ? AND status = 'open'`, userID, conditionID)
}

func (s *Store) OpenExposureUSDC(ctx context.Context, userID string) (decimal.Decimal, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(CAST(entry_cost_usdc AS REAL)), 0) FROM positions WHERE user_id = ? AND status = 'open'`, userID)
	s.mu.Unlock()

	var total float64
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("position: open exposure: %w", err)
	}
	return decimal.NewFromFloat(total), nil
}

// DailyPnLUSDC sums realized P&L for positions closed since the start of
// the current UTC day.
func (s *Store) DailyPnLUSDC(ctx context.Context, userID string) (decimal.Decimal, error) {
	dayStart := time.Now().UTC().Truncate(24 * time.Hour).Format(time.RFC3339Nano)

	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(CAST(realized_pnl_usdc AS REAL)), 0) FROM positions WHERE user_id = ? AND status = 'closed' AND closed_at >= ?`, userID, dayStart)
	s.mu.Unlock()

	var total float64
	if err := row.Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("position: daily pnl: %w", err)
	}
	return decimal.NewFromFloat(total), nil
}

// GetOpenForUser returns every open position, used for startup recovery
// and kill-switch liquidation.
func (s *Store) GetOpenForUser(ctx context.Context, userID string) ([]Position, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectCols+` FROM positions WHERE user_id = ? AND status = 'open'`, userID)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("position: open for user: %w", err)
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecentTradeResults returns win/loss outcomes for the last n closed
// trades, most-recent first, for the kill-switch's consecutive-loss check.
func (s *Store) RecentTradeResults(ctx context.Context, userID string, n int) ([]bool, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `SELECT realized_pnl_usdc FROM positions WHERE user_id = ? AND status = 'closed' ORDER BY closed_at DESC LIMIT ?`, userID, n)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("position: recent trades: %w", err)
	}
	defer rows.Close()

	var out []bool
	for rows.Next() {
		var pnlStr string
		if err := rows.Scan(&pnlStr); err != nil {
			return nil, err
		}
		pnl, _ := decimal.NewFromString(pnlStr)
		out = append(out, pnl.IsPositive())
	}
	return out, rows.Err()
}

// TradeStats returns the sample size and win rate Kelly sizing blends in.
func (s *Store) TradeStats(ctx context.Context, userID string) (TradeStats, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN CAST(realized_pnl_usdc AS REAL) > 0 THEN 1 ELSE 0 END), 0)
		FROM positions WHERE user_id = ? AND status = 'closed'`, userID)
	s.mu.Unlock()

	var total, wins int
	if err := row.Scan(&total, &wins); err != nil {
		return TradeStats{}, fmt.Errorf("position: trade stats: %w", err)
	}
	if total == 0 {
		return TradeStats{}, nil
	}
	return TradeStats{TotalTrades: total, WinRate: float64(wins) / float64(total)}, nil
}

// RecordOrphanedOrder logs an order that filled but whose position row
// could not be written — spec.md's OrphanedOrder error kind. The
// kill-switch monitor's OrphanedPositionCount reads this table.
func (s *Store) RecordOrphanedOrder(ctx context.Context, userID, conditionID, orderID string) error {
	s.mu.Lock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orphaned_orders (order_id, user_id, condition_id, detected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(order_id) DO NOTHING`,
		orderID, userID, conditionID, time.Now().UTC().Format(time.RFC3339Nano))
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("position: record orphaned order: %w", err)
	}
	return nil
}

// OrphanedPositionCount answers risk.StatsProvider.
func (s *Store) OrphanedPositionCount(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orphaned_orders WHERE user_id = ? AND resolved_at IS NULL`, userID)
	s.mu.Unlock()

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("position: orphaned count: %w", err)
	}
	return n, nil
}

const selectCols = `id, user_id, condition_id, side, status, team,
	entry_price, entry_size, entry_cost_usdc, entry_reason, entry_order_id, entry_confidence_score, entry_at,
	exit_price, exit_size, exit_proceeds_usdc, exit_reason, exit_order_id, realized_pnl_usdc, closed_at`

func (s *Store) queryOne(ctx context.Context, query string, args ...any) (Position, bool, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, query, args...)
	s.mu.Unlock()

	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Position{}, false, nil
	}
	if err != nil {
		return Position{}, false, fmt.Errorf("position: query: %w", err)
	}
	return p, true, nil
}

func (s *Store) countWhere(ctx context.Context, whereClause string, args ...any) (int, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE `+whereClause, args...)
	s.mu.Unlock()

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("position: count: %w", err)
	}
	return n, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(r rowScanner) (Position, error) {
	var p Position
	var side, status, entryPrice, entrySize, entryCost, exitPrice, exitSize, exitProceeds, realizedPnL, entryAt string
	var exitReason, exitOrderID sql.NullString
	var closedAt sql.NullString

	if err := r.Scan(
		&p.ID, &p.UserID, &p.ConditionID, &side, &status, &p.Team,
		&entryPrice, &entrySize, &entryCost, &p.EntryReason, &p.EntryOrderID, &p.EntryConfidenceScore, &entryAt,
		&exitPrice, &exitSize, &exitProceeds, &exitReason, &exitOrderID, &realizedPnL, &closedAt,
	); err != nil {
		return Position{}, err
	}

	p.Side = Side(side)
	p.Status = Status(status)
	p.EntryPrice, _ = decimal.NewFromString(entryPrice)
	p.EntrySize, _ = decimal.NewFromString(entrySize)
	p.EntryCostUSDC, _ = decimal.NewFromString(entryCost)
	p.EntryAt, _ = time.Parse(time.RFC3339Nano, entryAt)
	p.ExitPrice, _ = decimal.NewFromString(exitPrice)
	p.ExitSize, _ = decimal.NewFromString(exitSize)
	p.ExitProceedsUSDC, _ = decimal.NewFromString(exitProceeds)
	p.ExitReason = ExitReason(exitReason.String)
	p.ExitOrderID = exitOrderID.String
	p.RealizedPnLUSDC, _ = decimal.NewFromString(realizedPnL)
	if closedAt.Valid {
		p.ClosedAt, _ = time.Parse(time.RFC3339Nano, closedAt.String)
	}

	return p, nil
}

// refreshSize re-reads the database file size from SQLite pragmas. Must be
// called without s.mu held (it takes the lock itself).
func (s *Store) refreshSize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	var size int64
	row := s.db.QueryRow(`SELECT COALESCE(page_count * page_size, 0) FROM pragma_page_count(), pragma_page_size()`)
	if err := row.Scan(&size); err == nil {
		s.cachedSize = size
	}
}

// evictOldestClosed deletes the oldest 10% of closed rows by close time
// when the store exceeds its size budget. Open rows are never evicted.
func (s *Store) evictOldestClosed(ctx context.Context) {
	s.mu.Lock()
	var closedCount int64
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions WHERE status = 'closed'`).Scan(&closedCount)
	s.mu.Unlock()
	if closedCount == 0 {
		return
	}

	toDelete := int64(float64(closedCount) * evictPct)
	if toDelete < 1 {
		toDelete = 1
	}

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM positions WHERE id IN (
			SELECT id FROM positions WHERE status = 'closed' ORDER BY closed_at ASC LIMIT ?
		)`, toDelete)
	s.evictCounter++
	evictCount := s.evictCounter
	s.mu.Unlock()
	if err != nil {
		telemetry.Warnw("position store: evict failed", "err", err)
		return
	}

	deleted, _ := res.RowsAffected()
	telemetry.Infow("position store: evicted closed rows", "deleted", deleted, "target", toDelete)

	if evictCount%vacuumInterval == 0 {
		s.mu.Lock()
		s.db.Exec(`PRAGMA incremental_vacuum`)
		s.mu.Unlock()
	}
	s.refreshSize()
}

func (s *Store) CloseStore() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
