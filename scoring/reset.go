/*
reset.go - Reset engine: administrative bulk zeroing of all aggregates

PURPOSE:
  Admin-only, irreversible. Zeroes every nonzero aggregate and writes
  one compensating entry per affected aggregate carrying the negated
  previous raw point total, reason "admin_reset", for audit.

BATCHING:
  The store enforces a maximum operation count per atomic batch, so
  commits are flushed per batch boundary rather than as one giant
  write. A mid-way failure leaves a partially reset ledger; that is
  surfaced in the returned error rather than rolled back, since the
  store has no cross-document transactions to roll back with.

OUTCOME:
  Unlike Award/Reverse, ResetAll is an explicit audited admin action and
  returns a definitive result: how many aggregates were reset, plus an
  error on partial failure.

SEE ALSO:
  - store.go: Batch and MaxBatchOps contracts
*/
package scoring

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESET ENGINE
// =============================================================================

type ResetEngine struct {
	store Store
	cfg   Config
}

func NewResetEngine(store Store, cfg Config) *ResetEngine {
	cfg.fill()
	return &ResetEngine{store: store, cfg: cfg}
}

// ResetResult reports how many aggregates were actually reset. On
// partial failure UsersReset counts only committed batches.
type ResetResult struct {
	UsersReset int
}

// ResetAll zeroes every nonzero aggregate. Already-zero aggregates are
// skipped: they get no compensating entry and are not counted.
func (e *ResetEngine) ResetAll(ctx context.Context, adminID, adminName string) (ResetResult, error) {
	var result ResetResult

	if adminID == "" {
		return result, ErrMissingAdminID
	}

	aggregates, err := e.store.ListAggregates(ctx)
	if err != nil {
		return result, fmt.Errorf("enumerate aggregates: %w", err)
	}

	now := e.cfg.Now()
	maxOps := e.store.MaxBatchOps()

	batch := e.store.NewBatch()
	pending := 0

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if err := batch.Commit(ctx); err != nil {
			return err
		}
		result.UsersReset += pending
		batch = e.store.NewBatch()
		pending = 0
		return nil
	}

	for _, agg := range aggregates {
		if agg.IsZero() {
			continue
		}

		// One aggregate costs two operations: the zeroed row and its
		// compensating entry.
		if batch.Len()+2 > maxOps {
			if err := flush(); err != nil {
				return result, fmt.Errorf("reset partially applied (%d aggregates): %w", result.UsersReset, err)
			}
		}

		previousPoints := agg.Points

		agg.Points = decimal.Zero
		agg.EffectivePoints = decimal.Zero
		agg.Score = decimal.Zero
		agg.TasksAssigned = 0
		agg.TasksCompletedOnTime = 0
		agg.TasksCompletedLate = 0
		agg.TasksIncomplete = 0
		agg.LastUpdated = now
		agg.ResetAt = now
		agg.ResetBy = adminID

		batch.PutAggregate(agg)
		batch.InsertEntry(LedgerEntry{
			UserID:     agg.UserID,
			UserName:   agg.UserName,
			Department: agg.Department,
			Points:     previousPoints.Neg(),
			Reason:     ReasonAdminReset,
			TaskTitle:  fmt.Sprintf("score reset by %s", adminName),
			CreatedBy:  adminID,
		})
		pending++
	}

	if err := flush(); err != nil {
		return result, fmt.Errorf("reset partially applied (%d aggregates): %w", result.UsersReset, err)
	}

	e.cfg.logf("scoring: admin reset by %s (%s): %d aggregates zeroed", adminID, adminName, result.UsersReset)
	return result, nil
}
