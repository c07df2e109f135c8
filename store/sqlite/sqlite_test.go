package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/score-engine/scoring"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntry(eventID, userID string) scoring.LedgerEntry {
	return scoring.LedgerEntry{
		EventID:    scoring.EventID(eventID),
		UserID:     scoring.UserID(userID),
		UserName:   "User " + userID,
		Department: scoring.DeptProgramming,
		Points:     scoring.PointsLate,
		Reason:     scoring.ReasonLateCompletion,
		WasLate:    true,
		TaskTitle:  "sprint task",
		Period:     "2026-W03",
	}
}

// =============================================================================
// ENTRY ROUNDTRIP
// =============================================================================

func TestInsertEntry_Roundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inserted, err := s.InsertEntry(ctx, testEntry("E1", "u1"))
	require.NoError(t, err)
	assert.NotEmpty(t, inserted.ID)
	assert.False(t, inserted.AwardedAt.IsZero())

	entries, err := s.EntriesByEvent(ctx, "E1")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, inserted.ID, got.ID)
	assert.Equal(t, scoring.EventID("E1"), got.EventID)
	assert.Equal(t, scoring.UserID("u1"), got.UserID)
	assert.Equal(t, "User u1", got.UserName)
	assert.Equal(t, scoring.DeptProgramming, got.Department)
	assert.True(t, got.Points.Equal(scoring.PointsLate))
	assert.Equal(t, scoring.ReasonLateCompletion, got.Reason)
	assert.True(t, got.WasLate)
	assert.Equal(t, "sprint task", got.TaskTitle)
	assert.Equal(t, "2026-W03", got.Period)
	assert.True(t, got.AwardedAt.Equal(inserted.AwardedAt))
}

func TestInsertEntry_MonotonicTimestamps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	var prev time.Time
	for i := 0; i < 20; i++ {
		got, err := s.InsertEntry(ctx, testEntry("E1", "u1"))
		require.NoError(t, err)
		require.True(t, got.AwardedAt.After(prev),
			"timestamp %v not after %v", got.AwardedAt, prev)
		prev = got.AwardedAt
	}
}

func TestDeleteEntry_RemovesRow_MissingIsNoOp(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inserted, err := s.InsertEntry(ctx, testEntry("E1", "u1"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteEntry(ctx, inserted.ID))
	require.NoError(t, s.DeleteEntry(ctx, inserted.ID), "second delete is a no-op")

	entries, err := s.EntriesByEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQueries_FilterAndOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.InsertEntry(ctx, testEntry("E1", "u1"))
	require.NoError(t, err)
	second, err := s.InsertEntry(ctx, testEntry("E1", "u1"))
	require.NoError(t, err)
	_, err = s.InsertEntry(ctx, testEntry("E2", "u1"))
	require.NoError(t, err)
	_, err = s.InsertEntry(ctx, testEntry("E1", "u2"))
	require.NoError(t, err)

	byClaim, err := s.EntriesByClaim(ctx, "E1", scoring.DeptProgramming, "u1")
	require.NoError(t, err)
	require.Len(t, byClaim, 2)
	assert.Equal(t, first.ID, byClaim[0].ID)
	assert.Equal(t, second.ID, byClaim[1].ID)

	byUser, err := s.EntriesByUser(ctx, "u1", scoring.DeptProgramming)
	require.NoError(t, err)
	assert.Len(t, byUser, 3)

	byEvent, err := s.EntriesByEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, byEvent, 3)
}

// =============================================================================
// CLAIM KEYS
// =============================================================================

func TestInsertClaimedEntry_SecondClaimRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	key := scoring.ClaimKey("E1", scoring.DeptProgramming, "u1")

	_, err := s.InsertClaimedEntry(ctx, key, testEntry("E1", "u1"))
	require.NoError(t, err)

	_, err = s.InsertClaimedEntry(ctx, key, testEntry("E1", "u1"))
	assert.ErrorIs(t, err, scoring.ErrDuplicateClaim)

	entries, err := s.EntriesByClaim(ctx, "E1", scoring.DeptProgramming, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "rejected claim must not leave a row")
}

func TestInsertClaimedEntry_DistinctKeysBothLand(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.InsertClaimedEntry(ctx,
		scoring.ClaimKey("E1", scoring.DeptProgramming, "u1"), testEntry("E1", "u1"))
	require.NoError(t, err)

	_, err = s.InsertClaimedEntry(ctx,
		scoring.ClaimKey("E1", scoring.DeptProgramming, "u2"), testEntry("E1", "u2"))
	require.NoError(t, err)

	entries, err := s.EntriesByEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestInsertClaimedEntry_ConcurrentClaims_ExactlyOneWins(t *testing.T) {
	s := testStore(t)
	key := scoring.ClaimKey("E1", scoring.DeptProgramming, "u1")

	const callers = 8
	var wg sync.WaitGroup
	wins := make(chan scoring.EntryID, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.InsertClaimedEntry(context.Background(), key, testEntry("E1", "u1"))
			if err == nil {
				wins <- got.ID
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []scoring.EntryID
	for id := range wins {
		winners = append(winners, id)
	}
	require.Len(t, winners, 1, "exactly one claim must succeed")

	entries, err := s.EntriesByClaim(context.Background(), "E1", scoring.DeptProgramming, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, winners[0], entries[0].ID)
}

func TestAwardEngine_UsesClaimPath(t *testing.T) {
	// GIVEN: The SQLite store, which enforces unique claim keys
	// WHEN: The same award lands twice
	// THEN: The second call is skipped without the retry fallback firing

	s := testStore(t)
	cfg := scoring.DefaultConfig()
	cfg.DuplicateRetryDelay = time.Millisecond
	engine := scoring.NewAwardEngine(s, cfg)
	ctx := context.Background()

	req := scoring.AwardRequest{
		EventID:     "E1",
		Department:  "Programming",
		Assignees:   []scoring.Assignee{{ID: "u1", Name: "Alice"}},
		CompletedAt: time.Now(),
	}

	first, err := engine.Award(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Awarded)

	second, err := engine.Award(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Awarded)
	assert.Equal(t, 1, second.Skipped)

	agg, err := s.GetAggregate(ctx, scoring.NewAggregateKey("u1", scoring.DeptProgramming))
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, 1, agg.TasksAssigned)
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestAggregate_UpsertRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	agg := scoring.NewScoreAggregate("u1", "Alice", scoring.DeptDesign)
	agg.TasksAssigned = 2
	agg.TasksCompletedOnTime = 1
	agg.TasksCompletedLate = 1
	agg.Points = scoring.PointsOnTime.Add(scoring.PointsLate)
	agg.EffectivePoints = agg.Points
	agg.RecomputeScore()
	agg.LastUpdated = time.Now().UTC()

	require.NoError(t, s.PutAggregate(ctx, agg))

	got, err := s.GetAggregate(ctx, agg.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, agg.Key, got.Key)
	assert.Equal(t, "Alice", got.UserName)
	assert.Equal(t, 2, got.TasksAssigned)
	assert.True(t, got.Score.Equal(agg.Score))
	assert.True(t, got.ResetAt.IsZero())

	// Upsert replaces in place.
	agg.UserName = "Alice B."
	agg.ResetAt = time.Now().UTC()
	agg.ResetBy = "admin1"
	require.NoError(t, s.PutAggregate(ctx, agg))

	got, err = s.GetAggregate(ctx, agg.Key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice B.", got.UserName)
	assert.Equal(t, "admin1", got.ResetBy)
	assert.False(t, got.ResetAt.IsZero())
}

func TestGetAggregate_MissingReturnsNilNil(t *testing.T) {
	s := testStore(t)
	got, err := s.GetAggregate(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListAggregates_OrderedByKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []scoring.UserID{"zz", "aa", "mm"} {
		require.NoError(t, s.PutAggregate(ctx, scoring.NewScoreAggregate(id, "User", scoring.DeptProgramming)))
	}

	aggs, err := s.ListAggregates(ctx)
	require.NoError(t, err)
	require.Len(t, aggs, 3)
	for i := 1; i < len(aggs); i++ {
		assert.Less(t, string(aggs[i-1].Key), string(aggs[i].Key))
	}
}

// =============================================================================
// BATCH
// =============================================================================

func TestBatch_CommitsInOneTransaction(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := s.NewBatch()
	for i := 0; i < 3; i++ {
		batch.InsertEntry(testEntry("E1", fmt.Sprintf("u%d", i)))
		batch.PutAggregate(scoring.NewScoreAggregate(
			scoring.UserID(fmt.Sprintf("u%d", i)), "User", scoring.DeptProgramming))
	}
	assert.Equal(t, 6, batch.Len())

	require.NoError(t, batch.Commit(ctx))

	entries, err := s.EntriesByEvent(ctx, "E1")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
	for _, e := range entries {
		assert.NotEmpty(t, e.ID)
		assert.False(t, e.AwardedAt.IsZero())
	}

	aggs, err := s.ListAggregates(ctx)
	require.NoError(t, err)
	assert.Len(t, aggs, 3)
}

func TestBatch_OverLimitFailsAtCommit(t *testing.T) {
	s := testStore(t)

	batch := s.NewBatch()
	for i := 0; i <= MaxBatchOps; i++ {
		batch.InsertEntry(testEntry("E1", "u1"))
	}

	err := batch.Commit(context.Background())
	assert.ErrorIs(t, err, scoring.ErrBatchTooLarge)

	entries, qerr := s.EntriesByEvent(context.Background(), "E1")
	require.NoError(t, qerr)
	assert.Empty(t, entries, "over-limit batch must not apply anything")
}
