/*
reversal.go - Reversal engine: undo awards when the event is deleted

PURPOSE:
  When the triggering work-event is deleted, every award it produced is
  reversed. The original entries are never deleted; each gets one
  compensating entry with negated points and a back-reference, so the
  full audit history survives.

ALGORITHM:
  1. Query all entries for the event (may span users and departments)
  2. Keep only originals with no compensating entry referencing them,
     so a retried Reverse finds nothing left to undo instead of
     subtracting the event's credit again
  3. Group by (user, department), sum points per group
  4. Per group: re-read the aggregate, subtract the group sum, floor at
     zero (defensive against prior drift), write it back
  5. Per original entry: write a compensating entry with negated points,
     reason "event_deleted", and OriginalAwardID set

FAILURE POLICY:
  Per-group failures are logged and do not block other groups; only the
  initial event query propagates.

SEE ALSO:
  - award.go: Creates the entries reversed here
*/
package scoring

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// REVERSAL ENGINE
// =============================================================================

type ReversalEngine struct {
	store Store
	cfg   Config
}

func NewReversalEngine(store Store, cfg Config) *ReversalEngine {
	cfg.fill()
	return &ReversalEngine{store: store, cfg: cfg}
}

type reversalGroup struct {
	userID     UserID
	userName   string
	department string
	entries    []LedgerEntry
}

// Reverse undoes every award produced by the given triggering event.
// Idempotent: originals that already carry a compensating entry are
// skipped, so retried or duplicated calls find nothing left to undo.
// Per-group failures are contained and logged.
func (e *ReversalEngine) Reverse(ctx context.Context, eventID EventID) error {
	if eventID == "" {
		return ErrMissingEventID
	}

	entries, err := e.store.EntriesByEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load entries for event %s: %w", eventID, err)
	}

	originals := unreversedOriginals(entries)
	if len(originals) == 0 {
		e.cfg.logf("scoring: reverse: nothing left to undo for event %s", eventID)
		return nil
	}

	for _, group := range groupByUserDept(originals) {
		if err := e.reverseGroup(ctx, eventID, group); err != nil {
			e.cfg.logf("scoring: reverse failed: event %s user %s dept %s: %v",
				eventID, group.userID, group.department, err)
		}
	}
	return nil
}

// reverseGroup subtracts one group's credit from its aggregate and
// writes the compensating entries.
func (e *ReversalEngine) reverseGroup(ctx context.Context, eventID EventID, group reversalGroup) error {
	sum := decimal.Zero
	onTime, late := 0, 0
	for _, entry := range group.entries {
		sum = sum.Add(entry.Points)
		if entry.WasLate {
			late++
		} else {
			onTime++
		}
	}

	key := NewAggregateKey(group.userID, group.department)
	current, err := e.store.GetAggregate(ctx, key)
	if err != nil {
		return fmt.Errorf("read aggregate: %w", err)
	}
	if current == nil {
		// Drift: entries exist but the aggregate never did. Still write
		// the compensating entries so the audit trail is complete.
		e.cfg.logf("scoring: reverse: no aggregate for user %s dept %s despite ledger entries", group.userID, group.department)
	} else {
		agg := *current
		agg.EffectivePoints = floorZero(agg.EffectivePoints.Sub(sum))
		agg.Points = floorZero(agg.Points.Sub(sum))
		agg.TasksAssigned = floorZeroInt(agg.TasksAssigned - len(group.entries))
		agg.TasksCompletedOnTime = floorZeroInt(agg.TasksCompletedOnTime - onTime)
		agg.TasksCompletedLate = floorZeroInt(agg.TasksCompletedLate - late)
		agg.RecomputeScore()
		agg.LastUpdated = e.cfg.Now()
		if err := e.store.PutAggregate(ctx, agg); err != nil {
			return fmt.Errorf("write aggregate: %w", err)
		}
	}

	for _, original := range group.entries {
		compensating := LedgerEntry{
			EventID:         eventID,
			UserID:          group.userID,
			UserName:        group.userName,
			Department:      group.department,
			Points:          original.Points.Neg(),
			Reason:          ReasonEventDeleted,
			OriginalAwardID: original.ID,
			TaskTitle:       original.TaskTitle,
			Period:          original.Period,
			CreatedBy:       "system",
		}
		if _, err := e.store.InsertEntry(ctx, compensating); err != nil {
			return fmt.Errorf("write compensating entry for %s: %w", original.ID, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// unreversedOriginals returns the event's original entries that no
// compensating entry references yet. Originals are never deleted, so
// this back-reference check is what keeps Reverse from re-subtracting
// credit on a retried call.
func unreversedOriginals(entries []LedgerEntry) []LedgerEntry {
	reversed := make(map[EntryID]bool)
	for _, e := range entries {
		if e.OriginalAwardID != "" {
			reversed[e.OriginalAwardID] = true
		}
	}

	var originals []LedgerEntry
	for _, e := range entries {
		if e.IsOriginal() && !reversed[e.ID] {
			originals = append(originals, e)
		}
	}
	return originals
}

func groupByUserDept(originals []LedgerEntry) []reversalGroup {
	index := make(map[AggregateKey]int)
	var groups []reversalGroup
	for _, entry := range originals {
		key := NewAggregateKey(entry.UserID, entry.Department)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, reversalGroup{
				userID:     entry.UserID,
				userName:   entry.UserName,
				department: entry.Department,
			})
		}
		groups[i].entries = append(groups[i].entries, entry)
	}
	return groups
}

func floorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func floorZeroInt(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
