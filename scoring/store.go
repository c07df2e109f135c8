/*
store.go - Persistence interfaces for ledger entries and aggregates

PURPOSE:
  Defines the interface between the scoring engines and the backing
  document store. The store provides per-document atomic writes, server
  assigned monotonic timestamps, and a bounded-size atomic batch. It
  does NOT provide cross-document transactions, and queries may lag a
  just-completed write (read-after-write lag). The engines compensate
  for both at the protocol level.

KEY INTERFACES:
  EntryStore:     Ledger entry persistence and queries
  AggregateStore: Per-(user, department) aggregate rows
  Store:          Both, plus bounded atomic batches
  ClaimStore:     Optional upgrade - unique claim-key inserts

MUTATION DISCIPLINE:
  Ledger entries are append-only except for the narrow duplicate-cleanup
  and failure-cleanup deletions performed by the award engine. Aggregates
  are read-modify-write and are never deleted.

CLAIM KEYS:
  A store that can reject duplicate keys outright should implement
  ClaimStore. The award engine then treats the successful unique insert
  as the lock signal and skips the query-and-retry fallback entirely,
  closing the residual race window.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite (implements ClaimStore)
  - scoring/store/memory.go: In-memory with configurable query lag

SEE ALSO:
  - award.go: Claim-then-confirm protocol over these interfaces
*/
package scoring

import "context"

// =============================================================================
// ENTRY STORE - Ledger entry persistence
// =============================================================================

// EntryStore persists ledger entries. InsertEntry assigns the entry ID
// and a server-side monotonic AwardedAt timestamp; callers must not set
// either. All query methods return entries ordered by AwardedAt, then ID.
type EntryStore interface {
	// InsertEntry persists a new entry and returns it with ID and
	// AwardedAt filled in.
	InsertEntry(ctx context.Context, e LedgerEntry) (LedgerEntry, error)

	// DeleteEntry removes an entry by ID. Deleting an entry that no
	// longer exists is not an error: concurrent duplicate cleanup means
	// two callers may race to delete the same loser.
	DeleteEntry(ctx context.Context, id EntryID) error

	// EntriesByEvent returns all entries for a triggering event,
	// spanning users and departments.
	EntriesByEvent(ctx context.Context, eventID EventID) ([]LedgerEntry, error)

	// EntriesByClaim returns entries matching the
	// (event, department, user) triple guarded by the award protocol.
	EntriesByClaim(ctx context.Context, eventID EventID, department string, userID UserID) ([]LedgerEntry, error)

	// EntriesByUser returns all entries for a (user, department) pair,
	// used for audit display and the consistency self-check.
	EntriesByUser(ctx context.Context, userID UserID, department string) ([]LedgerEntry, error)
}

// =============================================================================
// AGGREGATE STORE - Read-modify-write per-key records
// =============================================================================

// AggregateStore persists score aggregates keyed by AggregateKey.
type AggregateStore interface {
	// GetAggregate returns the aggregate for key, or nil if none exists.
	GetAggregate(ctx context.Context, key AggregateKey) (*ScoreAggregate, error)

	// PutAggregate writes the aggregate (create or replace).
	PutAggregate(ctx context.Context, agg ScoreAggregate) error

	// ListAggregates returns every aggregate, ordered by key.
	ListAggregates(ctx context.Context) ([]ScoreAggregate, error)
}

// =============================================================================
// STORE - Combined interface with bounded atomic batches
// =============================================================================

// Store is what the engines operate on.
type Store interface {
	EntryStore
	AggregateStore

	// NewBatch starts an atomic multi-write. A batch holding more than
	// MaxBatchOps operations fails at Commit; callers must flush at
	// batch boundaries.
	NewBatch() Batch

	// MaxBatchOps returns the store's maximum operation count per batch.
	MaxBatchOps() int
}

// Batch accumulates writes that commit atomically.
type Batch interface {
	// InsertEntry queues an entry insert. ID and AwardedAt are assigned
	// at Commit.
	InsertEntry(e LedgerEntry)

	// PutAggregate queues an aggregate write.
	PutAggregate(agg ScoreAggregate)

	// Len returns the number of queued operations.
	Len() int

	// Commit applies all queued operations atomically.
	Commit(ctx context.Context) error
}

// =============================================================================
// CLAIM STORE - Optional unique-key upgrade
// =============================================================================

// ClaimStore is an optional upgrade for stores that can enforce unique
// keys at write time. InsertClaimedEntry atomically inserts the entry
// if and only if claimKey has never been claimed, returning
// ErrDuplicateClaim otherwise.
//
// The award engine checks for this capability with a type assertion,
// the same way extended query support is discovered elsewhere.
type ClaimStore interface {
	InsertClaimedEntry(ctx context.Context, claimKey string, e LedgerEntry) (LedgerEntry, error)
}
