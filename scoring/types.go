/*
Package scoring implements the performance-scoring ledger.

PURPOSE:
  This package contains the types and engines that award points to staff
  when an assigned unit of work completes, reverse those awards when the
  triggering work is deleted, and support an administrative bulk reset.
  Each completion must be scored exactly once, even though the backing
  store offers only per-document atomic writes and may exhibit
  read-after-write lag on queries.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerEntry: An immutable record of a single award or reversal
  - ScoreAggregate: Per-(user, department) running totals
  - AggregateKey: Deterministic composite key for aggregates
  - Reason: Why an entry exists (on-time, late, deleted, reset)

DESIGN PRINCIPLES:
  1. Audit trail: Entries are never edited; corrections are new
     compensating entries with negated points
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Type Safety: Strong typing for user/event/entry identifiers
  4. Denormalization: User names are echoed onto rows so displays
     don't need joins; the profile store stays the source of truth

SEE ALSO:
  - store.go: Persistence interfaces
  - award.go: Award protocol and duplicate detection
  - reversal.go: Compensating entries on event deletion
  - reset.go: Administrative bulk reset
*/
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type EventID string
type EntryID string

// AggregateKey identifies one (user, department) aggregate row.
type AggregateKey string

// NewAggregateKey derives the deterministic aggregate key from a user id
// and a canonical department. The department is sanitized so the key is
// safe as a document id regardless of the label's characters.
func NewAggregateKey(userID UserID, department string) AggregateKey {
	return AggregateKey(fmt.Sprintf("%s_%s", userID, sanitizeDepartment(department)))
}

func sanitizeDepartment(department string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(department)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ClaimKey identifies the unique claim slot for an original award.
// At most one original entry may ever exist per claim key.
func ClaimKey(eventID EventID, department string, userID UserID) string {
	return fmt.Sprintf("%s|%s|%s", eventID, sanitizeDepartment(department), userID)
}

// =============================================================================
// POINTS
// =============================================================================

// Point values per completed task. On-time completions earn full credit,
// late completions earn half.
var (
	PointsOnTime = decimal.NewFromInt(1)
	PointsLate   = decimal.RequireFromString("0.5")
)

// =============================================================================
// LEDGER ENTRY - Immutable award/reversal record
// =============================================================================

type Reason string

const (
	ReasonOnTimeCompletion Reason = "on_time_completion"
	ReasonLateCompletion   Reason = "late_completion"
	ReasonEventDeleted     Reason = "event_deleted"
	ReasonAdminReset       Reason = "admin_reset"
	ReasonDuplicateCleanup Reason = "duplicate_cleanup"
)

// LedgerEntry records a single point award or compensating reversal.
// Entries are never mutated after creation. The only deletions permitted
// are the narrow duplicate-cleanup and failure-cleanup paths in the
// award engine; everything else corrects via compensating entries.
type LedgerEntry struct {
	ID         EntryID
	EventID    EventID
	UserID     UserID
	UserName   string // denormalized for display
	Department string // canonical form
	Points     decimal.Decimal
	Reason     Reason
	AwardedAt  time.Time // store-assigned, monotonic; used for ordering
	WasLate    bool      // set on original award entries only

	// OriginalAwardID is set only on compensating entries and points
	// back to the entry being reversed.
	OriginalAwardID EntryID

	// Context for audit display.
	TaskTitle string
	Period    string
	CreatedBy string
}

// IsOriginal reports whether the entry is an original (positive,
// non-compensating) award. For a given (event, department, user) triple
// at most one original entry may exist.
func (e LedgerEntry) IsOriginal() bool {
	return e.Points.IsPositive() && e.OriginalAwardID == ""
}

// =============================================================================
// SCORE AGGREGATE - Per-(user, department) running totals
// =============================================================================

// ScoreAggregate holds the running totals for one user in one department.
// Rows are created on first award and mutated in place by the engines;
// they are never deleted. No mutation path exists outside this package.
type ScoreAggregate struct {
	Key        AggregateKey
	UserID     UserID
	UserName   string
	Department string

	// Points is the raw cumulative point total. Retained for older
	// displays; EffectivePoints drives the score.
	Points decimal.Decimal

	TasksAssigned        int
	TasksCompletedOnTime int
	TasksCompletedLate   int

	// TasksIncomplete exists in the schema but no engine populates it.
	// Reserved as a future extension point; reset zeroes it.
	TasksIncomplete int

	EffectivePoints decimal.Decimal
	Score           decimal.Decimal

	LastUpdated time.Time
	ResetAt     time.Time
	ResetBy     string
}

// NewScoreAggregate seeds an empty aggregate for a (user, department) pair.
func NewScoreAggregate(userID UserID, userName, department string) ScoreAggregate {
	return ScoreAggregate{
		Key:             NewAggregateKey(userID, department),
		UserID:          userID,
		UserName:        userName,
		Department:      department,
		Points:          decimal.Zero,
		EffectivePoints: decimal.Zero,
		Score:           decimal.Zero,
	}
}

// RecomputeScore refreshes Score from EffectivePoints and TasksAssigned:
// score = effectivePoints / tasksAssigned * 100.
func (a *ScoreAggregate) RecomputeScore() {
	if a.TasksAssigned <= 0 {
		a.Score = decimal.Zero
		return
	}
	a.Score = a.EffectivePoints.
		Div(decimal.NewFromInt(int64(a.TasksAssigned))).
		Mul(decimal.NewFromInt(100))
}

// IsZero reports whether the aggregate carries no credit at all.
// Already-zero aggregates are skipped by the reset engine.
func (a ScoreAggregate) IsZero() bool {
	return a.TasksAssigned == 0 &&
		a.TasksCompletedOnTime == 0 &&
		a.TasksCompletedLate == 0 &&
		a.TasksIncomplete == 0 &&
		a.Points.IsZero() &&
		a.EffectivePoints.IsZero() &&
		a.Score.IsZero()
}

// =============================================================================
// ASSIGNEE - Caller-supplied identity for award fan-out
// =============================================================================

type Assignee struct {
	ID   UserID
	Name string
}
