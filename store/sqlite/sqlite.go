/*
Package sqlite provides a SQLite-backed implementation of scoring.Store.

PURPOSE:
  Production persistence for ledger entries and score aggregates. The
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  scoring.Store:      Entry and aggregate persistence, bounded batches
  scoring.ClaimStore: Unique claim-key inserts

CLAIM KEYS:
  The score_entries table carries a UNIQUE claim_key column populated on
  original award entries. A rejected insert is the duplicate signal, so
  the award engine never needs the query-and-retry fallback against this
  store: the residual race window of the reread heuristic is closed by
  the index.

TIMESTAMPS:
  AwardedAt is assigned server-side under the store mutex and forced
  strictly monotonic, so oldest-wins tie-breaking never depends on a
  client clock.

KEY TABLES:
  score_entries:    The ledger. Append-only except the award engine's
                    duplicate-cleanup and orphan-cleanup deletions.
  score_aggregates: One row per (user, department), read-modify-write.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single
  writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/scores.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - scoring/store.go: Interface definitions
  - scoring/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/score-engine/scoring"
)

// MaxBatchOps mirrors the document store's atomic-batch limit.
const MaxBatchOps = 500

// Store implements scoring.Store and scoring.ClaimStore using SQLite.
type Store struct {
	db *sql.DB

	mu            sync.Mutex
	lastAwardedAt time.Time
}

// New creates a SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only apart from narrow cleanup deletions)
	CREATE TABLE IF NOT EXISTS score_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		event_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL,
		points TEXT NOT NULL,
		reason TEXT NOT NULL,
		was_late INTEGER NOT NULL DEFAULT 0,
		original_award_id TEXT NOT NULL DEFAULT '',
		claim_key TEXT UNIQUE,
		task_title TEXT NOT NULL DEFAULT '',
		period TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		awarded_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_event
		ON score_entries(event_id);

	-- Duplicate pre-check / claim confirmation (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_claim_triple
		ON score_entries(event_id, department, user_id);

	-- Consistency self-check and audit display
	CREATE INDEX IF NOT EXISTS idx_entries_user_dept
		ON score_entries(user_id, department);

	-- Score aggregates (one row per user+department)
	CREATE TABLE IF NOT EXISTS score_aggregates (
		key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL,
		points TEXT NOT NULL,
		tasks_assigned INTEGER NOT NULL DEFAULT 0,
		tasks_on_time INTEGER NOT NULL DEFAULT 0,
		tasks_late INTEGER NOT NULL DEFAULT 0,
		tasks_incomplete INTEGER NOT NULL DEFAULT 0,
		effective_points TEXT NOT NULL,
		score TEXT NOT NULL,
		last_updated TEXT NOT NULL,
		reset_at TEXT NOT NULL DEFAULT '',
		reset_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_aggregates_department
		ON score_aggregates(department);
	`
	_, err := s.db.Exec(schema)
	return err
}

// nextAwardedAt returns a server-side timestamp that is strictly greater
// than every timestamp this store has handed out before.
func (s *Store) nextAwardedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastAwardedAt) {
		now = s.lastAwardedAt.Add(time.Microsecond)
	}
	s.lastAwardedAt = now
	return now
}

// =============================================================================
// ENTRY STORE
// =============================================================================

const insertEntrySQL = `
	INSERT INTO score_entries
		(id, event_id, user_id, user_name, department, points, reason,
		 was_late, original_award_id, claim_key, task_title, period,
		 created_by, awarded_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) InsertEntry(ctx context.Context, e scoring.LedgerEntry) (scoring.LedgerEntry, error) {
	return s.insert(ctx, e, nil)
}

// InsertClaimedEntry implements scoring.ClaimStore. The UNIQUE index on
// claim_key makes the insert itself the duplicate check.
func (s *Store) InsertClaimedEntry(ctx context.Context, claimKey string, e scoring.LedgerEntry) (scoring.LedgerEntry, error) {
	return s.insert(ctx, e, &claimKey)
}

func (s *Store) insert(ctx context.Context, e scoring.LedgerEntry, claimKey *string) (scoring.LedgerEntry, error) {
	e.ID = scoring.EntryID(uuid.NewString())
	e.AwardedAt = s.nextAwardedAt()

	_, err := s.db.ExecContext(ctx, insertEntrySQL,
		string(e.ID), string(e.EventID), string(e.UserID), e.UserName,
		e.Department, e.Points.String(), string(e.Reason),
		boolToInt(e.WasLate), string(e.OriginalAwardID), claimKey,
		e.TaskTitle, e.Period, e.CreatedBy,
		e.AwardedAt.Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) && claimKey != nil {
			return scoring.LedgerEntry{}, scoring.ErrDuplicateClaim
		}
		return scoring.LedgerEntry{}, fmt.Errorf("insert entry: %w", err)
	}
	return e, nil
}

// DeleteEntry removes an entry by ID. Missing IDs are a no-op.
func (s *Store) DeleteEntry(ctx context.Context, id scoring.EntryID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM score_entries WHERE id = ?`, string(id))
	return err
}

const selectEntrySQL = `
	SELECT id, event_id, user_id, user_name, department, points, reason,
	       was_late, original_award_id, task_title, period, created_by,
	       awarded_at
	FROM score_entries`

func (s *Store) EntriesByEvent(ctx context.Context, eventID scoring.EventID) ([]scoring.LedgerEntry, error) {
	return s.queryEntries(ctx,
		selectEntrySQL+` WHERE event_id = ? ORDER BY awarded_at, id`,
		string(eventID))
}

func (s *Store) EntriesByClaim(ctx context.Context, eventID scoring.EventID, department string, userID scoring.UserID) ([]scoring.LedgerEntry, error) {
	return s.queryEntries(ctx,
		selectEntrySQL+` WHERE event_id = ? AND department = ? AND user_id = ? ORDER BY awarded_at, id`,
		string(eventID), department, string(userID))
}

func (s *Store) EntriesByUser(ctx context.Context, userID scoring.UserID, department string) ([]scoring.LedgerEntry, error) {
	return s.queryEntries(ctx,
		selectEntrySQL+` WHERE user_id = ? AND department = ? ORDER BY awarded_at, id`,
		string(userID), department)
}

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]scoring.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []scoring.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (scoring.LedgerEntry, error) {
	var (
		e                 scoring.LedgerEntry
		id, eventID       string
		userID            string
		points, awardedAt string
		reason            string
		wasLate           int
		originalAwardID   string
	)
	err := rows.Scan(&id, &eventID, &userID, &e.UserName, &e.Department,
		&points, &reason, &wasLate, &originalAwardID,
		&e.TaskTitle, &e.Period, &e.CreatedBy, &awardedAt)
	if err != nil {
		return e, fmt.Errorf("scan entry: %w", err)
	}

	e.ID = scoring.EntryID(id)
	e.EventID = scoring.EventID(eventID)
	e.UserID = scoring.UserID(userID)
	e.Reason = scoring.Reason(reason)
	e.WasLate = wasLate != 0
	e.OriginalAwardID = scoring.EntryID(originalAwardID)

	if e.Points, err = decimal.NewFromString(points); err != nil {
		return e, fmt.Errorf("parse points %q: %w", points, err)
	}
	if e.AwardedAt, err = time.Parse(time.RFC3339Nano, awardedAt); err != nil {
		return e, fmt.Errorf("parse awarded_at %q: %w", awardedAt, err)
	}
	return e, nil
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

const upsertAggregateSQL = `
	INSERT INTO score_aggregates
		(key, user_id, user_name, department, points, tasks_assigned,
		 tasks_on_time, tasks_late, tasks_incomplete, effective_points,
		 score, last_updated, reset_at, reset_by)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		user_name = excluded.user_name,
		points = excluded.points,
		tasks_assigned = excluded.tasks_assigned,
		tasks_on_time = excluded.tasks_on_time,
		tasks_late = excluded.tasks_late,
		tasks_incomplete = excluded.tasks_incomplete,
		effective_points = excluded.effective_points,
		score = excluded.score,
		last_updated = excluded.last_updated,
		reset_at = excluded.reset_at,
		reset_by = excluded.reset_by`

func (s *Store) PutAggregate(ctx context.Context, agg scoring.ScoreAggregate) error {
	_, err := s.db.ExecContext(ctx, upsertAggregateSQL, aggregateArgs(agg)...)
	if err != nil {
		return fmt.Errorf("put aggregate: %w", err)
	}
	return nil
}

func aggregateArgs(agg scoring.ScoreAggregate) []any {
	resetAt := ""
	if !agg.ResetAt.IsZero() {
		resetAt = agg.ResetAt.Format(time.RFC3339Nano)
	}
	return []any{
		string(agg.Key), string(agg.UserID), agg.UserName, agg.Department,
		agg.Points.String(), agg.TasksAssigned, agg.TasksCompletedOnTime,
		agg.TasksCompletedLate, agg.TasksIncomplete,
		agg.EffectivePoints.String(), agg.Score.String(),
		agg.LastUpdated.UTC().Format(time.RFC3339Nano), resetAt, agg.ResetBy,
	}
}

const selectAggregateSQL = `
	SELECT key, user_id, user_name, department, points, tasks_assigned,
	       tasks_on_time, tasks_late, tasks_incomplete, effective_points,
	       score, last_updated, reset_at, reset_by
	FROM score_aggregates`

func (s *Store) GetAggregate(ctx context.Context, key scoring.AggregateKey) (*scoring.ScoreAggregate, error) {
	rows, err := s.db.QueryContext(ctx, selectAggregateSQL+` WHERE key = ?`, string(key))
	if err != nil {
		return nil, fmt.Errorf("get aggregate: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	agg, err := scanAggregate(rows)
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (s *Store) ListAggregates(ctx context.Context) ([]scoring.ScoreAggregate, error) {
	rows, err := s.db.QueryContext(ctx, selectAggregateSQL+` ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []scoring.ScoreAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggs = append(aggs, agg)
	}
	return aggs, rows.Err()
}

func scanAggregate(rows *sql.Rows) (scoring.ScoreAggregate, error) {
	var (
		agg                      scoring.ScoreAggregate
		key, userID              string
		points, effective, score string
		lastUpdated, resetAt     string
	)
	err := rows.Scan(&key, &userID, &agg.UserName, &agg.Department,
		&points, &agg.TasksAssigned, &agg.TasksCompletedOnTime,
		&agg.TasksCompletedLate, &agg.TasksIncomplete,
		&effective, &score, &lastUpdated, &resetAt, &agg.ResetBy)
	if err != nil {
		return agg, fmt.Errorf("scan aggregate: %w", err)
	}

	agg.Key = scoring.AggregateKey(key)
	agg.UserID = scoring.UserID(userID)

	if agg.Points, err = decimal.NewFromString(points); err != nil {
		return agg, fmt.Errorf("parse points %q: %w", points, err)
	}
	if agg.EffectivePoints, err = decimal.NewFromString(effective); err != nil {
		return agg, fmt.Errorf("parse effective_points %q: %w", effective, err)
	}
	if agg.Score, err = decimal.NewFromString(score); err != nil {
		return agg, fmt.Errorf("parse score %q: %w", score, err)
	}
	if agg.LastUpdated, err = time.Parse(time.RFC3339Nano, lastUpdated); err != nil {
		return agg, fmt.Errorf("parse last_updated %q: %w", lastUpdated, err)
	}
	if resetAt != "" {
		if agg.ResetAt, err = time.Parse(time.RFC3339Nano, resetAt); err != nil {
			return agg, fmt.Errorf("parse reset_at %q: %w", resetAt, err)
		}
	}
	return agg, nil
}

// =============================================================================
// BATCH
// =============================================================================

func (s *Store) MaxBatchOps() int { return MaxBatchOps }

func (s *Store) NewBatch() scoring.Batch {
	return &sqliteBatch{store: s}
}

type sqliteBatch struct {
	store      *Store
	entries    []scoring.LedgerEntry
	aggregates []scoring.ScoreAggregate
}

func (b *sqliteBatch) InsertEntry(e scoring.LedgerEntry) {
	b.entries = append(b.entries, e)
}

func (b *sqliteBatch) PutAggregate(agg scoring.ScoreAggregate) {
	b.aggregates = append(b.aggregates, agg)
}

func (b *sqliteBatch) Len() int {
	return len(b.entries) + len(b.aggregates)
}

// Commit applies all queued operations in a single SQL transaction.
func (b *sqliteBatch) Commit(ctx context.Context) error {
	if b.Len() > MaxBatchOps {
		return scoring.ErrBatchTooLarge
	}

	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for _, agg := range b.aggregates {
		if _, err := tx.ExecContext(ctx, upsertAggregateSQL, aggregateArgs(agg)...); err != nil {
			return fmt.Errorf("batch aggregate: %w", err)
		}
	}
	for _, e := range b.entries {
		e.ID = scoring.EntryID(uuid.NewString())
		e.AwardedAt = b.store.nextAwardedAt()
		if _, err := tx.ExecContext(ctx, insertEntrySQL,
			string(e.ID), string(e.EventID), string(e.UserID), e.UserName,
			e.Department, e.Points.String(), string(e.Reason),
			boolToInt(e.WasLate), string(e.OriginalAwardID), nil,
			e.TaskTitle, e.Period, e.CreatedBy,
			e.AwardedAt.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("batch entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.entries = nil
	b.aggregates = nil
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
