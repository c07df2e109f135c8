/*
award.go - Award engine: score a completed unit of work exactly once

PURPOSE:
  Awards points to each assignee when a department's slice of work is
  marked completed. Multiple independent callers (duplicated UI event
  handlers, retried network calls, concurrent status changes) can race
  to score the same completion; the protocol here guarantees at most
  one original award per (event, department, user) triple.

THE PROTOCOL (per assignee):
  1. Compute lateness (strictly after the deadline = late, half credit)
  2. Duplicate pre-check: any existing original entry aborts quietly
  3. Claim: write the ledger entry FIRST, before touching the aggregate.
     Where the store enforces unique claim keys (ClaimStore), a rejected
     insert IS the duplicate signal and we are done. Otherwise fall back
     to write-then-reread:
  4. Re-run the duplicate query with bounded retries, giving the store's
     read-after-write lag a chance to settle. More than one original
     means a race: the earliest entry by AwardedAt wins, later
     duplicates are deleted as cleanup, and a loser aborts without
     touching the aggregate.
  5. Re-read the aggregate (never increment a stale in-memory value),
     apply the award, recompute the score, write it back.
  6. Self-check tasksAssigned against an independent ledger count;
     mismatches are logged as integrity warnings, never corrected here.
  7. If the aggregate write fails, delete the just-written entry so no
     orphaned claim remains.

FAILURE POLICY:
  Award never fails the whole fan-out for one assignee. Per-assignee
  errors are logged with operation context and counted in the result;
  only setup errors (missing event id, no assignees) propagate.

SEE ALSO:
  - store.go: Store and ClaimStore contracts
  - reversal.go: Undoing awards when the event is deleted
*/
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CONFIG - Protocol tunables
// =============================================================================

// Config carries the tunables shared by the engines. The retry count and
// delay only affect how quickly races are detected versus how often
// cleanup deletions occur; correctness does not depend on them.
type Config struct {
	// DuplicateRetries bounds the re-read loop in the race-detection
	// step. This is the only deliberate timing-based wait in the system.
	DuplicateRetries int

	// DuplicateRetryDelay is the pause between re-reads.
	DuplicateRetryDelay time.Duration

	// Now supplies timestamps for aggregate bookkeeping. Entry ordering
	// uses store-assigned timestamps, never this clock.
	Now func() time.Time

	// Logger receives operation logs. Defaults to the standard logger.
	Logger *log.Logger
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		DuplicateRetries:    3,
		DuplicateRetryDelay: 150 * time.Millisecond,
		Now:                 time.Now,
		Logger:              log.Default(),
	}
}

func (c *Config) fill() {
	if c.DuplicateRetries < 0 {
		c.DuplicateRetries = 0
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
}

func (c Config) logf(format string, args ...any) {
	c.Logger.Printf(format, args...)
}

// =============================================================================
// AWARD ENGINE
// =============================================================================

// AwardRequest describes one completed unit of work. The award engine
// fans out internally to one award attempt per assignee.
type AwardRequest struct {
	EventID     EventID
	Department  string // free text; normalized before fan-out
	Assignees   []Assignee
	Deadline    *time.Time // nil = no deadline, never late
	CompletedAt time.Time
	TaskTitle   string
	Period      string
}

// AwardResult summarizes a fan-out. Skipped counts assignees whose
// completion was already scored; Failed counts contained per-assignee
// errors.
type AwardResult struct {
	Awarded int
	Skipped int
	Failed  int
}

// AwardEngine scores completions against the ledger and aggregates.
type AwardEngine struct {
	store  Store
	claims ClaimStore // nil when the store cannot enforce unique keys
	cfg    Config
}

// NewAwardEngine creates an award engine. If the store implements
// ClaimStore the engine uses unique claim inserts and skips the
// query-and-retry fallback.
func NewAwardEngine(store Store, cfg Config) *AwardEngine {
	cfg.fill()
	e := &AwardEngine{store: store, cfg: cfg}
	if cs, ok := store.(ClaimStore); ok {
		e.claims = cs
	}
	return e
}

// Award scores a completed unit of work, once per assignee. Per-assignee
// failures are caught, logged, and do not block other assignees; only
// setup errors propagate.
func (e *AwardEngine) Award(ctx context.Context, req AwardRequest) (AwardResult, error) {
	var result AwardResult

	if req.EventID == "" {
		return result, ErrMissingEventID
	}
	if len(req.Assignees) == 0 {
		return result, ErrNoAssignees
	}

	department, known := NormalizeDepartment(req.Department)
	if !known {
		e.cfg.logf("scoring: unrecognized department %q (event %s): aggregating under raw label", req.Department, req.EventID)
	}

	wasLate := req.Deadline != nil && req.CompletedAt.After(*req.Deadline)
	points := PointsOnTime
	if wasLate {
		points = PointsLate
	}

	for _, assignee := range req.Assignees {
		err := e.awardOne(ctx, req, department, assignee, points, wasLate)
		switch {
		case err == nil:
			result.Awarded++
		case IsDuplicate(err):
			result.Skipped++
		default:
			result.Failed++
			e.cfg.logf("scoring: award failed: event %s user %s dept %s: %v", req.EventID, assignee.ID, department, err)
		}
	}
	return result, nil
}

// awardOne runs the full per-assignee protocol.
func (e *AwardEngine) awardOne(ctx context.Context, req AwardRequest, department string, assignee Assignee, points decimal.Decimal, wasLate bool) error {
	// Duplicate pre-check: already scored means nothing to do.
	existing, err := e.store.EntriesByClaim(ctx, req.EventID, department, assignee.ID)
	if err != nil {
		return fmt.Errorf("duplicate pre-check: %w", err)
	}
	if orig := firstOriginal(existing); orig != nil {
		return &DuplicateAwardError{
			EventID:    req.EventID,
			UserID:     assignee.ID,
			Department: department,
			ExistingID: orig.ID,
		}
	}

	reason := ReasonOnTimeCompletion
	if wasLate {
		reason = ReasonLateCompletion
	}
	entry := LedgerEntry{
		EventID:    req.EventID,
		UserID:     assignee.ID,
		UserName:   assignee.Name,
		Department: department,
		Points:     points,
		Reason:     reason,
		WasLate:    wasLate,
		TaskTitle:  req.TaskTitle,
		Period:     req.Period,
		CreatedBy:  "system",
	}

	// Claim: the durably written entry is the lock over the aggregate.
	written, err := e.claim(ctx, req.EventID, department, assignee, entry)
	if err != nil {
		return err
	}

	// Aggregate update with orphan cleanup on failure.
	if err := e.applyAward(ctx, assignee, department, points, wasLate); err != nil {
		if derr := e.store.DeleteEntry(ctx, written.ID); derr != nil {
			e.cfg.logf("scoring: orphan cleanup failed: entry %s event %s user %s: %v", written.ID, req.EventID, assignee.ID, derr)
		}
		return fmt.Errorf("aggregate update: %w", err)
	}

	e.checkConsistency(ctx, assignee.ID, department)
	return nil
}

// claim writes the ledger entry and confirms this call owns the award.
func (e *AwardEngine) claim(ctx context.Context, eventID EventID, department string, assignee Assignee, entry LedgerEntry) (LedgerEntry, error) {
	if e.claims != nil {
		written, err := e.claims.InsertClaimedEntry(ctx, ClaimKey(eventID, department, assignee.ID), entry)
		if errors.Is(err, ErrDuplicateClaim) {
			return LedgerEntry{}, &DuplicateAwardError{
				EventID:    eventID,
				UserID:     assignee.ID,
				Department: department,
			}
		}
		if err != nil {
			return LedgerEntry{}, fmt.Errorf("claim insert: %w", err)
		}
		return written, nil
	}

	// Fallback: write first, then re-read until the write becomes
	// visible or retries run out.
	written, err := e.store.InsertEntry(ctx, entry)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("claim insert: %w", err)
	}
	survivorID, err := e.confirmClaim(ctx, eventID, department, assignee.ID, written)
	if err != nil {
		return LedgerEntry{}, err
	}
	if survivorID != written.ID {
		// Another concurrent call won and will update the aggregate.
		return LedgerEntry{}, &DuplicateAwardError{
			EventID:    eventID,
			UserID:     assignee.ID,
			Department: department,
			ExistingID: survivorID,
		}
	}
	return written, nil
}

// confirmClaim re-runs the duplicate query with bounded retries. Our own
// write is durable even while invisible to queries, so it is always
// merged into the observed set: any other original observed means a race
// regardless of visibility. On a race the earliest entry by AwardedAt
// survives and later duplicates are deleted. Returns the surviving
// entry ID.
//
// If retries run out with only our own entry in the set we proceed on
// the strength of the durable write itself; lag only affects queries.
func (e *AwardEngine) confirmClaim(ctx context.Context, eventID EventID, department string, userID UserID, own LedgerEntry) (EntryID, error) {
	for attempt := 0; ; attempt++ {
		entries, err := e.store.EntriesByClaim(ctx, eventID, department, userID)
		if err != nil {
			return "", fmt.Errorf("claim confirm: %w", err)
		}

		observed := filterOriginals(entries)
		originals := mergeOwn(observed, own)
		if len(originals) > 1 {
			return e.resolveDuplicates(ctx, eventID, department, userID, originals), nil
		}

		// Only our own entry exists. Once it is query-visible the claim
		// is confirmed; until then keep giving the lag a chance to
		// surface a racing write.
		if len(observed) == 1 {
			return own.ID, nil
		}
		if attempt >= e.cfg.DuplicateRetries {
			return own.ID, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(e.cfg.DuplicateRetryDelay):
		}
	}
}

// mergeOwn ensures the caller's durably written entry participates in
// duplicate resolution even while the store's queries can't see it yet.
func mergeOwn(originals []LedgerEntry, own LedgerEntry) []LedgerEntry {
	for _, o := range originals {
		if o.ID == own.ID {
			return originals
		}
	}
	return append(originals, own)
}

// resolveDuplicates deterministically keeps the earliest original entry
// and deletes the later duplicates. Every racer computes the same
// survivor, so concurrent cleanup deletions are idempotent.
func (e *AwardEngine) resolveDuplicates(ctx context.Context, eventID EventID, department string, userID UserID, originals []LedgerEntry) EntryID {
	sortByAwardedAt(originals)
	survivor := originals[0]

	e.cfg.logf("scoring: duplicate award race detected: event %s user %s dept %s: %d originals, keeping %s",
		eventID, userID, department, len(originals), survivor.ID)

	for _, dup := range originals[1:] {
		if err := e.store.DeleteEntry(ctx, dup.ID); err != nil {
			e.cfg.logf("scoring: %s: failed to delete duplicate %s: %v", ReasonDuplicateCleanup, dup.ID, err)
			continue
		}
		e.cfg.logf("scoring: %s: deleted duplicate entry %s (event %s user %s)", ReasonDuplicateCleanup, dup.ID, eventID, userID)
	}
	return survivor.ID
}

// applyAward re-reads the aggregate and applies one award's worth of
// credit. Creates the aggregate on first award.
func (e *AwardEngine) applyAward(ctx context.Context, assignee Assignee, department string, points decimal.Decimal, wasLate bool) error {
	key := NewAggregateKey(assignee.ID, department)

	current, err := e.store.GetAggregate(ctx, key)
	if err != nil {
		return err
	}

	var agg ScoreAggregate
	if current != nil {
		agg = *current
	} else {
		agg = NewScoreAggregate(assignee.ID, assignee.Name, department)
	}

	agg.TasksAssigned++
	if wasLate {
		agg.TasksCompletedLate++
	} else {
		agg.TasksCompletedOnTime++
	}
	agg.Points = agg.Points.Add(points)
	agg.EffectivePoints = agg.EffectivePoints.Add(points)
	agg.RecomputeScore()
	agg.LastUpdated = e.cfg.Now()
	if assignee.Name != "" {
		agg.UserName = assignee.Name
	}

	return e.store.PutAggregate(ctx, agg)
}

// checkConsistency compares tasksAssigned against an independent count
// of original ledger entries. Mismatches indicate a prior protocol
// failure; they are logged for reconciliation tooling, never silently
// corrected, and never block the write.
func (e *AwardEngine) checkConsistency(ctx context.Context, userID UserID, department string) {
	entries, err := e.store.EntriesByUser(ctx, userID, department)
	if err != nil {
		e.cfg.logf("scoring: consistency check skipped: user %s dept %s: %v", userID, department, err)
		return
	}
	ledgerCount := len(filterOriginals(entries))

	agg, err := e.store.GetAggregate(ctx, NewAggregateKey(userID, department))
	if err != nil || agg == nil {
		return
	}
	if agg.TasksAssigned != ledgerCount {
		e.cfg.logf("scoring: data-integrity mismatch: user %s dept %s: tasksAssigned=%d but ledger has %d originals",
			userID, department, agg.TasksAssigned, ledgerCount)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func firstOriginal(entries []LedgerEntry) *LedgerEntry {
	for i := range entries {
		if entries[i].IsOriginal() {
			return &entries[i]
		}
	}
	return nil
}

func filterOriginals(entries []LedgerEntry) []LedgerEntry {
	var originals []LedgerEntry
	for _, e := range entries {
		if e.IsOriginal() {
			originals = append(originals, e)
		}
	}
	return originals
}

// sortByAwardedAt orders entries oldest-first, breaking timestamp ties
// by ID so every caller agrees on the survivor.
func sortByAwardedAt(entries []LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].AwardedAt.Equal(entries[j].AwardedAt) {
			return entries[i].ID < entries[j].ID
		}
		return entries[i].AwardedAt.Before(entries[j].AwardedAt)
	})
}
