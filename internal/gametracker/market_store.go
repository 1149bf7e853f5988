package gametracker

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite"
)

// MarketRecord is one row of tracked_markets (spec.md 6.2): the persisted
// counterpart to a TrackedGame, surviving process restarts so Initialize
// can rebuild the in-memory Store without re-running Discovery/Matcher
// from scratch.
type MarketRecord struct {
	UserID         string
	ConditionID    string
	Sport          string
	SportKey       string
	HomeTeam       string
	AwayTeam       string
	Question       string
	BaselineYes    decimal.Decimal
	BaselineNo     decimal.Decimal
	CurrentYes     decimal.Decimal
	CurrentNo      decimal.Decimal
	ESPNEventID    string // empty until Discovery/Matcher resolves the real scoreboard id
	IsLive         bool
	IsFinished     bool
	IsUserSelected bool
	LastUpdatedAt  time.Time
}

// MarketStore persists tracked_markets. Separate file from Store (the
// in-memory actor map) because the two have different lifetimes: Store is
// rebuilt fresh on every process start, MarketStore is what lets that
// rebuild happen coherently (P6).
type MarketStore struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenMarketStore(path string) (*MarketStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create tracked markets dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open tracked markets db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(marketSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tracked markets schema: %w", err)
	}
	return &MarketStore{db: db}, nil
}

const marketSchema = `
CREATE TABLE IF NOT EXISTS tracked_markets (
	user_id          TEXT NOT NULL,
	condition_id     TEXT NOT NULL,
	sport            TEXT NOT NULL,
	sport_key        TEXT NOT NULL,
	home_team        TEXT NOT NULL,
	away_team        TEXT NOT NULL,
	question         TEXT NOT NULL DEFAULT '',
	baseline_yes     TEXT NOT NULL DEFAULT '0',
	baseline_no      TEXT NOT NULL DEFAULT '0',
	current_yes      TEXT NOT NULL DEFAULT '0',
	current_no       TEXT NOT NULL DEFAULT '0',
	espn_event_id    TEXT NOT NULL DEFAULT '',
	is_live          INTEGER NOT NULL DEFAULT 0,
	is_finished      INTEGER NOT NULL DEFAULT 0,
	is_user_selected INTEGER NOT NULL DEFAULT 0,
	last_updated_at  TEXT NOT NULL,
	PRIMARY KEY (user_id, condition_id)
);

CREATE INDEX IF NOT EXISTS idx_tracked_markets_espn_event ON tracked_markets(user_id, espn_event_id);
`

// Upsert writes or replaces one market's row.
func (s *MarketStore) Upsert(ctx context.Context, r MarketRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_markets (
			user_id, condition_id, sport, sport_key, home_team, away_team, question,
			baseline_yes, baseline_no, current_yes, current_no, espn_event_id,
			is_live, is_finished, is_user_selected, last_updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id, condition_id) DO UPDATE SET
			sport=excluded.sport, sport_key=excluded.sport_key,
			home_team=excluded.home_team, away_team=excluded.away_team,
			question=excluded.question,
			baseline_yes=excluded.baseline_yes, baseline_no=excluded.baseline_no,
			current_yes=excluded.current_yes, current_no=excluded.current_no,
			espn_event_id=excluded.espn_event_id,
			is_live=excluded.is_live, is_finished=excluded.is_finished,
			is_user_selected=excluded.is_user_selected,
			last_updated_at=excluded.last_updated_at`,
		r.UserID, r.ConditionID, r.Sport, r.SportKey, r.HomeTeam, r.AwayTeam, r.Question,
		r.BaselineYes.String(), r.BaselineNo.String(), r.CurrentYes.String(), r.CurrentNo.String(), r.ESPNEventID,
		boolToInt(r.IsLive), boolToInt(r.IsFinished), boolToInt(r.IsUserSelected), r.LastUpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("tracked markets: upsert: %w", err)
	}
	return nil
}

// MigrateKey records the scoreboard event id once Discovery/Matcher resolve
// it for a condition id that was previously unmatched — the persisted half
// of gametracker.Store.Rekey.
func (s *MarketStore) MigrateKey(ctx context.Context, userID, conditionID, espnEventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE tracked_markets SET espn_event_id = ? WHERE user_id = ? AND condition_id = ?`,
		espnEventID, userID, conditionID)
	if err != nil {
		return fmt.Errorf("tracked markets: migrate key: %w", err)
	}
	return nil
}

func (s *MarketStore) GetByConditionID(ctx context.Context, userID, conditionID string) (MarketRecord, bool, error) {
	s.mu.Lock()
	row := s.db.QueryRowContext(ctx, `SELECT `+marketSelectCols+` FROM tracked_markets WHERE user_id = ? AND condition_id = ?`, userID, conditionID)
	s.mu.Unlock()
	return scanMarketRow(row)
}

// ListUserSelected returns every market the user has flagged for tracking,
// read at startup alongside the bot config JSON (spec.md 4.10's two
// selected-games sources).
func (s *MarketStore) ListUserSelected(ctx context.Context, userID string) ([]MarketRecord, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+marketSelectCols+` FROM tracked_markets WHERE user_id = ? AND is_user_selected = 1`, userID)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("tracked markets: list user selected: %w", err)
	}
	defer rows.Close()

	var out []MarketRecord
	for rows.Next() {
		r, err := scanMarketCols(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const marketSelectCols = `user_id, condition_id, sport, sport_key, home_team, away_team, question,
	baseline_yes, baseline_no, current_yes, current_no, espn_event_id,
	is_live, is_finished, is_user_selected, last_updated_at`

type marketRowScanner interface {
	Scan(dest ...any) error
}

func scanMarketRow(r marketRowScanner) (MarketRecord, bool, error) {
	rec, err := scanMarketCols(r)
	if err == sql.ErrNoRows {
		return MarketRecord{}, false, nil
	}
	if err != nil {
		return MarketRecord{}, false, fmt.Errorf("tracked markets: scan: %w", err)
	}
	return rec, true, nil
}

func scanMarketCols(r marketRowScanner) (MarketRecord, error) {
	var rec MarketRecord
	var baselineYes, baselineNo, currentYes, currentNo, lastUpdated string
	var isLive, isFinished, isUserSelected int

	if err := r.Scan(
		&rec.UserID, &rec.ConditionID, &rec.Sport, &rec.SportKey, &rec.HomeTeam, &rec.AwayTeam, &rec.Question,
		&baselineYes, &baselineNo, &currentYes, &currentNo, &rec.ESPNEventID,
		&isLive, &isFinished, &isUserSelected, &lastUpdated,
	); err != nil {
		return MarketRecord{}, err
	}

	rec.BaselineYes, _ = decimal.NewFromString(baselineYes)
	rec.BaselineNo, _ = decimal.NewFromString(baselineNo)
	rec.CurrentYes, _ = decimal.NewFromString(currentYes)
	rec.CurrentNo, _ = decimal.NewFromString(currentNo)
	rec.IsLive = isLive != 0
	rec.IsFinished = isFinished != 0
	rec.IsUserSelected = isUserSelected != 0
	rec.LastUpdatedAt, _ = time.Parse(time.RFC3339Nano, lastUpdated)
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *MarketStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
