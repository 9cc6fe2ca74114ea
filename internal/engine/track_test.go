package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/testutil"
)

// discoverRent seeds the standard rent pattern from a clean monthly history.
func discoverRent(t *testing.T, eng *Engine, db *testutil.TestDB, months int) model.PatternState {
	t.Helper()
	saveRentHistory(t, db, months)
	seeded, err := eng.DiscoverGroup(context.Background(), rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	return seeded[0]
}

// saveOne stores a single follow-up event in the rent group. The prefix
// keeps its ID clear of the seeded history.
func saveOne(t *testing.T, db *testutil.TestDB, prefix string, date time.Time, amount float64) model.Event {
	t.Helper()
	events := testutil.NewSeriesBuilder(t, rentKey.Counterparty).
		IDPrefix(prefix).
		On(date, amount).
		Build()
	db.MustSaveEvents(context.Background(), events)
	return events[0]
}

func TestTrackEvent_FulfillsOnTime(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	seeded := discoverRent(t, eng, db, 4)

	event := saveOne(t, db, "pay", day(2025, time.May, 5), 26200)

	result, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	require.True(t, result.Matched)
	require.NotNil(t, result.Pattern)
	assert.Equal(t, 0, result.MissesApplied)

	p := result.Pattern
	assert.Equal(t, seeded.ID, p.ID)
	assert.Equal(t, 1, p.CurrentStreak)
	assert.Equal(t, 0, p.MissedCount)
	assert.Equal(t, model.StatusActive, p.Status)
	assert.InDelta(t, 1.0, p.ConfidenceMultiplier, 1e-9)
	assert.True(t, p.LastActualDate.Equal(day(2025, time.May, 5)))
	assert.True(t, p.NextExpectedDate.Equal(day(2025, time.June, 4)))

	linked, err := db.Storage.IsEventLinked(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, linked)

	history, err := db.Storage.ListObligations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ObligationFulfilled, history[0].Status)
	require.NotNil(t, history[0].FulfilledBy)
	assert.Equal(t, event.ID, *history[0].FulfilledBy)
	assert.Equal(t, 0, history[0].DaysEarly)
	assert.Equal(t, model.ObligationExpected, history[1].Status)
	assert.True(t, history[1].ExpectedDate.Equal(day(2025, time.June, 4)))
}

func TestTrackEvent_EarlyInsideTolerance(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	event := saveOne(t, db, "pay", day(2025, time.May, 3), 26200)

	result, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	require.True(t, result.Matched)

	// Anchor moves to the actual payment day, not the expected one
	assert.True(t, result.Pattern.NextExpectedDate.Equal(day(2025, time.June, 2)))

	history, err := db.Storage.ListObligations(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, history[0].DaysEarly)
}

func TestTrackEvent_AlreadyLinked(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	event := saveOne(t, db, "pay", day(2025, time.May, 5), 26200)

	first, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	require.True(t, first.Matched)

	second, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	assert.True(t, second.AlreadyLinked)
	assert.False(t, second.Matched)

	reloaded, err := db.Storage.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Version)
}

func TestTrackEvent_OutsideWindowLeavesPending(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	// April 20th sits after the last actual but well before the May window
	event := saveOne(t, db, "stray", day(2025, time.April, 20), 26200)

	result, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, 0, result.MissesApplied)

	open, err := db.Storage.GetOpenObligation(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, open.ExpectedDate.Equal(day(2025, time.May, 5)))

	linked, err := db.Storage.IsEventLinked(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestTrackEvent_LazyMissThenFulfill(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	// One whole period elapsed unpaid before this event arrived
	event := saveOne(t, db, "pay", day(2025, time.June, 4), 26200)

	result, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.Equal(t, 1, result.MissesApplied)

	updated := result.Pattern
	assert.Equal(t, 1, updated.CurrentStreak)
	assert.Equal(t, 0, updated.MissedCount)
	assert.Equal(t, model.StatusActive, updated.Status)
	assert.InDelta(t, 0.90, updated.ConfidenceMultiplier, 1e-9)
	assert.True(t, updated.NextExpectedDate.Equal(day(2025, time.July, 4)))

	history, err := db.Storage.ListObligations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.ObligationMissed, history[0].Status)
	assert.True(t, history[0].ExpectedDate.Equal(day(2025, time.May, 5)))
	assert.Equal(t, model.ObligationFulfilled, history[1].Status)
	assert.True(t, history[1].ExpectedDate.Equal(day(2025, time.June, 4)))
	assert.Equal(t, model.ObligationExpected, history[2].Status)
}

func TestTrackEvent_BackfilledEvent(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	event := saveOne(t, db, "old", day(2025, time.March, 1), 26200)

	_, err := eng.TrackEvent(ctx, &event)
	require.ErrorIs(t, err, common.ErrBackfilledEvent)

	// Nothing moved
	reloaded, err := db.Storage.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Version)

	linked, err := db.Storage.IsEventLinked(ctx, event.ID)
	require.NoError(t, err)
	assert.False(t, linked)
}

func TestTrackEvent_PrefersAmountMatch(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	fees := testutil.NewSeriesBuilder(t, rentKey.Counterparty).
		IDPrefix("fee").
		Monthly(day(2025, time.January, 6), 4, 80).
		Build()
	db.MustSaveEvents(ctx, fees)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 2)

	// May 5th is dead on the rent window, but the amount says parking fee
	event := saveOne(t, db, "pay", day(2025, time.May, 5), 80)

	result, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.True(t, result.Pattern.ExpectedAvgAmount.Equal(decimal.NewFromInt(80)))

	// The rent window is still waiting
	var rent *model.PatternState
	for i := range seeded {
		if seeded[i].ExpectedAvgAmount.Equal(decimal.NewFromInt(26200)) {
			rent = &seeded[i]
		}
	}
	require.NotNil(t, rent)

	open, err := db.Storage.GetOpenObligation(ctx, rent.ID)
	require.NoError(t, err)
	assert.True(t, open.ExpectedDate.Equal(day(2025, time.May, 5)))

	reloaded, err := db.Storage.GetPattern(ctx, rent.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.Version)
}

func TestTrackUnlinked_ReplaysBacklog(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	discoverRent(t, eng, db, 4)

	saveOne(t, db, "old", day(2025, time.February, 14), 26200)
	saveOne(t, db, "pay", day(2025, time.May, 5), 26200)
	saveOne(t, db, "misc", day(2025, time.May, 20), 15.75)

	groceries := testutil.NewSeriesBuilder(t, "Corner Grocers").
		On(day(2025, time.May, 2), 84.20).
		Build()
	db.MustSaveEvents(ctx, groceries)

	summary, err := eng.TrackUnlinked(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Offered)
	assert.Equal(t, 1, summary.Fulfilled)
	assert.Equal(t, 1, summary.Unmatched)
	assert.Equal(t, 1, summary.Backfilled)
	assert.Equal(t, 0, summary.Misses)

	// Groups without live patterns are left alone entirely
	unlinked, err := db.Storage.GetUnlinkedEvents(ctx, groceries[0].GroupKey())
	require.NoError(t, err)
	assert.Len(t, unlinked, 1)
}

func TestSweepOverdue_DegradesToPaused(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	misses, err := eng.SweepOverdue(ctx, day(2025, time.June, 20))
	require.NoError(t, err)
	assert.Equal(t, 2, misses)

	reloaded, err := db.Storage.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, reloaded.Status)
	assert.Equal(t, 2, reloaded.MissedCount)
	assert.Equal(t, 0, reloaded.CurrentStreak)
	assert.InDelta(t, 0.70, reloaded.ConfidenceMultiplier, 1e-9)
	assert.True(t, reloaded.NextExpectedDate.Equal(day(2025, time.July, 4)))

	history, err := db.Storage.ListObligations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, model.ObligationMissed, history[0].Status)
	assert.Equal(t, model.ObligationMissed, history[1].Status)
	assert.Equal(t, model.ObligationExpected, history[2].Status)
}

func TestSweepOverdue_NothingDueYet(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	discoverRent(t, eng, db, 4)

	// May 8th is the last tolerated day for the May 5th window
	misses, err := eng.SweepOverdue(ctx, day(2025, time.May, 8))
	require.NoError(t, err)
	assert.Equal(t, 0, misses)
}

func TestSweepOverdue_BreaksAfterRepeatedMisses(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	misses, err := eng.SweepOverdue(ctx, day(2025, time.December, 1))
	require.NoError(t, err)
	assert.Equal(t, 4, misses)

	reloaded, err := db.Storage.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBroken, reloaded.Status)
	assert.Equal(t, 4, reloaded.MissedCount)
	assert.InDelta(t, 0.40, reloaded.ConfidenceMultiplier, 1e-9)

	// A broken pattern keeps its final open window but stops degrading
	open, err := db.Storage.GetOpenObligation(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, open.ExpectedDate.Equal(day(2025, time.September, 2)))

	again, err := eng.SweepOverdue(ctx, day(2025, time.December, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestCancelPattern_StopsTracking(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	p := discoverRent(t, eng, db, 4)

	require.NoError(t, eng.CancelPattern(ctx, p.ID))

	reloaded, err := db.Storage.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusBroken, reloaded.Status)

	_, err = db.Storage.GetOpenObligation(ctx, p.ID)
	assert.ErrorIs(t, err, common.ErrNoOpenWindow)

	misses, err := eng.SweepOverdue(ctx, day(2025, time.December, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, misses)

	// Events for the group no longer find a live pattern
	event := saveOne(t, db, "pay", day(2025, time.May, 5), 26200)
	result, err := eng.TrackEvent(ctx, &event)
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestEngineLifecycle(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()

	// Six months of clean history, then one on-time payment, then silence.
	p := discoverRent(t, eng, db, 6)
	assert.True(t, p.NextExpectedDate.Equal(day(2025, time.July, 5)))
	assert.InDelta(t, 0.83, p.BaseConfidence, 1e-9)

	july := saveOne(t, db, "jul", day(2025, time.July, 5), 26200)
	result, err := eng.TrackEvent(ctx, &july)
	require.NoError(t, err)
	require.True(t, result.Matched)
	assert.True(t, result.Pattern.NextExpectedDate.Equal(day(2025, time.August, 4)))

	// Two periods pass unpaid
	misses, err := eng.SweepOverdue(ctx, day(2025, time.October, 1))
	require.NoError(t, err)
	assert.Equal(t, 2, misses)

	paused, err := db.Storage.GetPattern(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, paused.Status)
	assert.InDelta(t, 0.70, paused.ConfidenceMultiplier, 1e-9)

	// Payment resumes and revives the pattern
	october := saveOne(t, db, "oct", day(2025, time.October, 3), 26200)
	result, err = eng.TrackEvent(ctx, &october)
	require.NoError(t, err)
	require.True(t, result.Matched)

	revived := result.Pattern
	assert.Equal(t, model.StatusActive, revived.Status)
	assert.Equal(t, 1, revived.CurrentStreak)
	assert.Equal(t, 0, revived.MissedCount)
	assert.InDelta(t, 0.75, revived.ConfidenceMultiplier, 1e-9)
	assert.True(t, revived.NextExpectedDate.Equal(day(2025, time.November, 2)))
	assert.InDelta(t, 0.83*0.75, revived.EffectiveConfidence(), 1e-9)

	history, err := db.Storage.ListObligations(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, history, 5)
	statuses := make([]model.ObligationStatus, 0, len(history))
	for _, o := range history {
		statuses = append(statuses, o.Status)
	}
	assert.Equal(t, []model.ObligationStatus{
		model.ObligationFulfilled,
		model.ObligationMissed,
		model.ObligationMissed,
		model.ObligationFulfilled,
		model.ObligationExpected,
	}, statuses)
}
