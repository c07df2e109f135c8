/*
Package store provides an in-memory scoring.Store implementation.

PURPOSE:
  Backs tests and development. Mimics the production document store's
  contract, including the parts the engines must defend against:

  - Server-assigned, strictly monotonic AwardedAt timestamps
  - A bounded-size atomic batch
  - Optional read-after-write lag: a just-inserted entry can be held
    invisible to queries for a configurable window, while remaining
    durably written. This reproduces the eventual-consistency window
    the award engine's retry loop exists for.

  Deliberately does NOT implement scoring.ClaimStore: it models the
  store that cannot enforce unique keys, forcing the award engine onto
  its write-then-reread fallback. The SQLite store covers the unique
  claim path.

SEE ALSO:
  - scoring/store.go: Interface contracts
  - store/sqlite/sqlite.go: Production implementation
*/
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warp/score-engine/scoring"
)

// DefaultMaxBatchOps matches the typical document-store batch limit.
const DefaultMaxBatchOps = 500

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	entries    map[scoring.EntryID]scoring.LedgerEntry
	visibleAt  map[scoring.EntryID]time.Time
	aggregates map[scoring.AggregateKey]scoring.ScoreAggregate

	lastAwardedAt time.Time
	queryLag      time.Duration
	maxBatchOps   int
}

type Option func(*Memory)

// WithQueryLag makes freshly inserted entries invisible to queries for
// the given window. Reads by ID and deletes are unaffected; only query
// visibility lags, as with the real store.
func WithQueryLag(lag time.Duration) Option {
	return func(m *Memory) { m.queryLag = lag }
}

// WithMaxBatchOps overrides the batch limit (tests use small values to
// force multi-batch commits).
func WithMaxBatchOps(n int) Option {
	return func(m *Memory) { m.maxBatchOps = n }
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		entries:     make(map[scoring.EntryID]scoring.LedgerEntry),
		visibleAt:   make(map[scoring.EntryID]time.Time),
		aggregates:  make(map[scoring.AggregateKey]scoring.ScoreAggregate),
		maxBatchOps: DefaultMaxBatchOps,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// ENTRY STORE
// =============================================================================

func (m *Memory) InsertEntry(_ context.Context, e scoring.LedgerEntry) (scoring.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e), nil
}

// insertLocked assigns the ID and a strictly monotonic AwardedAt.
func (m *Memory) insertLocked(e scoring.LedgerEntry) scoring.LedgerEntry {
	e.ID = scoring.EntryID(uuid.NewString())

	now := time.Now().UTC()
	if !now.After(m.lastAwardedAt) {
		now = m.lastAwardedAt.Add(time.Microsecond)
	}
	m.lastAwardedAt = now
	e.AwardedAt = now

	m.entries[e.ID] = e
	m.visibleAt[e.ID] = time.Now().Add(m.queryLag)
	return e
}

// DeleteEntry removes an entry. Missing IDs are a no-op: racing cleanup
// callers may both try to delete the same duplicate.
func (m *Memory) DeleteEntry(_ context.Context, id scoring.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	delete(m.visibleAt, id)
	return nil
}

func (m *Memory) EntriesByEvent(_ context.Context, eventID scoring.EventID) ([]scoring.LedgerEntry, error) {
	return m.query(func(e scoring.LedgerEntry) bool {
		return e.EventID == eventID
	}), nil
}

func (m *Memory) EntriesByClaim(_ context.Context, eventID scoring.EventID, department string, userID scoring.UserID) ([]scoring.LedgerEntry, error) {
	return m.query(func(e scoring.LedgerEntry) bool {
		return e.EventID == eventID && e.Department == department && e.UserID == userID
	}), nil
}

func (m *Memory) EntriesByUser(_ context.Context, userID scoring.UserID, department string) ([]scoring.LedgerEntry, error) {
	return m.query(func(e scoring.LedgerEntry) bool {
		return e.UserID == userID && e.Department == department
	}), nil
}

// query returns matching entries that have become visible, ordered by
// AwardedAt then ID.
func (m *Memory) query(match func(scoring.LedgerEntry) bool) []scoring.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var result []scoring.LedgerEntry
	for id, e := range m.entries {
		if m.visibleAt[id].After(now) {
			continue
		}
		if match(e) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AwardedAt.Equal(result[j].AwardedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].AwardedAt.Before(result[j].AwardedAt)
	})
	return result
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

func (m *Memory) GetAggregate(_ context.Context, key scoring.AggregateKey) (*scoring.ScoreAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg, ok := m.aggregates[key]
	if !ok {
		return nil, nil
	}
	copied := agg
	return &copied, nil
}

func (m *Memory) PutAggregate(_ context.Context, agg scoring.ScoreAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aggregates[agg.Key] = agg
	return nil
}

func (m *Memory) ListAggregates(_ context.Context) ([]scoring.ScoreAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]scoring.ScoreAggregate, 0, len(m.aggregates))
	for _, agg := range m.aggregates {
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// =============================================================================
// BATCH
// =============================================================================

func (m *Memory) MaxBatchOps() int { return m.maxBatchOps }

func (m *Memory) NewBatch() scoring.Batch {
	return &memoryBatch{store: m}
}

type batchOp struct {
	entry     *scoring.LedgerEntry
	aggregate *scoring.ScoreAggregate
}

type memoryBatch struct {
	store *Memory
	ops   []batchOp
}

func (b *memoryBatch) InsertEntry(e scoring.LedgerEntry) {
	b.ops = append(b.ops, batchOp{entry: &e})
}

func (b *memoryBatch) PutAggregate(agg scoring.ScoreAggregate) {
	b.ops = append(b.ops, batchOp{aggregate: &agg})
}

func (b *memoryBatch) Len() int { return len(b.ops) }

// Commit applies all queued operations under one lock, so the batch is
// atomic with respect to every other store operation.
func (b *memoryBatch) Commit(_ context.Context) error {
	if len(b.ops) > b.store.maxBatchOps {
		return scoring.ErrBatchTooLarge
	}

	b.store.mu.Lock()
	defer b.store.mu.Unlock()

	for _, op := range b.ops {
		switch {
		case op.entry != nil:
			b.store.insertLocked(*op.entry)
		case op.aggregate != nil:
			b.store.aggregates[op.aggregate.Key] = *op.aggregate
		}
	}
	b.ops = nil
	return nil
}
