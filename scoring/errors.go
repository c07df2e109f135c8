/*
errors.go - Centralized error types for the scoring engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Duplicate detection - A completion was already scored (expected,
     resolved; not a failure)
  2. Setup errors - Missing identifiers; the only errors the engines
     propagate to callers
  3. Authorization errors - Not retried; retrying cannot fix them

SEE ALSO:
  - award.go: Returns DuplicateAwardError from the claim protocol
  - store.go: Stores return ErrDuplicateClaim from unique-key inserts
*/
package scoring

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateAward is returned when a (event, department, user)
	// triple was already scored. This is expected behavior for retried
	// or concurrent callers.
	ErrDuplicateAward = errors.New("completion already scored")

	// ErrDuplicateClaim is returned by stores that enforce unique claim
	// keys when the claim slot is already taken.
	ErrDuplicateClaim = errors.New("claim key already exists")

	// ErrMissingEventID is returned when an operation is invoked without
	// the triggering event identifier.
	ErrMissingEventID = errors.New("missing triggering event id")

	// ErrNoAssignees is returned when an award request names nobody.
	ErrNoAssignees = errors.New("no assignees on award request")

	// ErrMissingAdminID is returned when a reset is attempted without
	// the acting admin's identity.
	ErrMissingAdminID = errors.New("missing admin id")

	// ErrPermissionDenied marks authorization failures. Never retried.
	// The engines themselves never produce it: role resolution lives in
	// front of this service, and callers wrapping the engines are
	// expected to return errors wrapping this sentinel so transports can
	// classify them via IsPermission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrEntryNotFound is returned when a referenced entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrBatchTooLarge is returned when a batch exceeds the store's
	// maximum operation count.
	ErrBatchTooLarge = errors.New("batch exceeds store operation limit")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicateAwardError provides details about an already-scored triple.
type DuplicateAwardError struct {
	EventID    EventID
	UserID     UserID
	Department string
	ExistingID EntryID
}

func (e *DuplicateAwardError) Error() string {
	return fmt.Sprintf("completion already scored: event %s user %s dept %s (entry: %s)",
		e.EventID, e.UserID, e.Department, e.ExistingID)
}

func (e *DuplicateAwardError) Unwrap() error {
	return ErrDuplicateAward
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsDuplicate reports whether the error means the completion was already
// scored (by a prior call or a concurrent winner). Safe to ignore.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateAward) || errors.Is(err, ErrDuplicateClaim)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingEventID) ||
		errors.Is(err, ErrNoAssignees) ||
		errors.Is(err, ErrMissingAdminID)
}

// IsPermission returns true for authorization failures, which must not
// be retried.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}
