package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duebook/internal/model"
	"duebook/internal/service"
	"duebook/internal/testutil"
)

var rentKey = model.GroupKey{
	Counterparty: "City Lofts LLC",
	Direction:    model.DirectionDebit,
	Currency:     "USD",
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// newTestEngine wires an engine against a migrated in-memory store, with
// retry delays collapsed so failure paths stay fast.
func newTestEngine(t *testing.T, explainer service.Explainer) (*Engine, *testutil.TestDB) {
	t.Helper()
	db := testutil.SetupTestDB(t)

	cfg := DefaultConfig()
	cfg.Clock = func() time.Time { return day(2025, time.April, 10) }
	cfg.Retry = service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   1.0,
	}
	return NewWithConfig(db.Storage, explainer, cfg), db
}

// saveRentHistory stores a clean monthly 26200 debit series starting
// January 5th.
func saveRentHistory(t *testing.T, db *testutil.TestDB, months int) []model.Event {
	t.Helper()
	events := testutil.NewSeriesBuilder(t, rentKey.Counterparty).
		Monthly(day(2025, time.January, 5), months, 26200).
		Build()
	db.MustSaveEvents(context.Background(), events)
	return events
}

// saveNoisyHistory stores a high-frequency erratic series that discovery
// must classify as spending, not an obligation.
func saveNoisyHistory(t *testing.T, db *testutil.TestDB) model.GroupKey {
	t.Helper()
	builder := testutil.NewSeriesBuilder(t, "Swift Cabs")
	amounts := []float64{12.50, 30.25, 8.40, 22.00, 15.60, 9.75, 27.30, 18.20, 11.45}
	days := []int{1, 2, 5, 9, 10, 13, 20, 21, 28}
	for i, d := range days {
		builder.On(day(2025, time.January, d), amounts[i])
	}
	db.MustSaveEvents(context.Background(), builder.Build())
	return model.GroupKey{Counterparty: "Swift Cabs", Direction: model.DirectionDebit, Currency: "USD"}
}

func TestDiscoverGroup_SeedsMonthlyDebit(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	p := seeded[0]
	assert.Equal(t, model.CaseFixedMonthly, p.PatternCase)
	require.NotNil(t, p.IntervalDays)
	assert.Equal(t, 30, *p.IntervalDays)
	assert.Equal(t, model.AmountFixed, p.AmountBehavior)
	assert.Equal(t, model.StatusActive, p.Status)
	assert.Equal(t, 0, p.CurrentStreak)
	assert.Equal(t, 0, p.MissedCount)
	assert.InDelta(t, 1.0, p.ConfidenceMultiplier, 1e-9)
	assert.InDelta(t, 0.78, p.BaseConfidence, 1e-9)
	assert.True(t, p.LastActualDate.Equal(day(2025, time.April, 5)))
	assert.True(t, p.NextExpectedDate.Equal(day(2025, time.May, 5)))
	assert.Equal(t, "City Lofts LLC (USD, monthly)", p.DisplayName)
	assert.NotEmpty(t, p.Explanation)

	open, err := db.Storage.GetOpenObligation(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, open.ExpectedDate.Equal(day(2025, time.May, 5)))
	assert.Equal(t, 3, open.ToleranceDays)
	assert.True(t, open.ExpectedMinAmount.Equal(decimal.NewFromInt(26200)))
	assert.True(t, open.ExpectedMaxAmount.Equal(decimal.NewFromInt(26200)))

	// Founding events are claimed
	unlinked, err := db.Storage.GetUnlinkedEvents(ctx, rentKey)
	require.NoError(t, err)
	assert.Empty(t, unlinked)
}

func TestDiscoverGroup_Idempotent(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	first, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	assert.Empty(t, second)

	patterns, err := db.Storage.ListPatternsForGroup(ctx, rentKey)
	require.NoError(t, err)
	assert.Len(t, patterns, 1)
}

func TestDiscoverGroup_NoiseSeedsNothing(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	key := saveNoisyHistory(t, db)

	seeded, err := eng.DiscoverGroup(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, seeded)

	patterns, err := db.Storage.ListPatternsForGroup(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, patterns)

	// Noise events stay available for future discovery runs
	unlinked, err := db.Storage.GetUnlinkedEvents(ctx, key)
	require.NoError(t, err)
	assert.Len(t, unlinked, 9)
}

func TestDiscoverGroup_TwoClustersSameGroup(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	// Same landlord also bills a monthly parking fee on the 6th
	fees := testutil.NewSeriesBuilder(t, rentKey.Counterparty).
		IDPrefix("fee").
		Monthly(day(2025, time.January, 6), 4, 80).
		Build()
	db.MustSaveEvents(ctx, fees)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 2)

	var rent, fee *model.PatternState
	for i := range seeded {
		if seeded[i].ExpectedAvgAmount.Equal(decimal.NewFromInt(80)) {
			fee = &seeded[i]
		} else {
			rent = &seeded[i]
		}
	}
	require.NotNil(t, rent)
	require.NotNil(t, fee)

	assert.Equal(t, model.CaseFixedMonthly, rent.PatternCase)
	assert.True(t, rent.NextExpectedDate.Equal(day(2025, time.May, 5)))
	assert.Equal(t, model.CaseFixedMonthly, fee.PatternCase)
	assert.True(t, fee.NextExpectedDate.Equal(day(2025, time.May, 6)))

	unlinked, err := db.Storage.GetUnlinkedEvents(ctx, rentKey)
	require.NoError(t, err)
	assert.Empty(t, unlinked)
}

func TestDiscoverAll_IsolatesGroups(t *testing.T) {
	eng, db := newTestEngine(t, nil)
	ctx := context.Background()
	saveRentHistory(t, db, 4)
	noiseKey := saveNoisyHistory(t, db)

	seeded, err := eng.DiscoverAll(ctx)
	require.NoError(t, err)
	require.Len(t, seeded, 1)
	assert.Equal(t, rentKey.Counterparty, seeded[0].Counterparty)

	unlinked, err := db.Storage.GetUnlinkedEvents(ctx, noiseKey)
	require.NoError(t, err)
	assert.Len(t, unlinked, 9)

	// Nothing left to seed on a second sweep
	again, err := eng.DiscoverAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestDiscoverGroup_UsesExplainerText(t *testing.T) {
	mock := NewMockExplainer()
	eng, db := newTestEngine(t, mock)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	assert.Equal(t, "City Lofts LLC subscription", seeded[0].DisplayName)
	assert.Contains(t, seeded[0].Explanation, "Mock explanation")
	assert.Equal(t, 1, mock.CallCount())
}

func TestDiscoverGroup_ExplainerVeto(t *testing.T) {
	mock := NewMockExplainer()
	mock.Reject = map[string]bool{rentKey.Counterparty: true}
	eng, db := newTestEngine(t, mock)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	assert.Empty(t, seeded)

	// Vetoed candidates leave their events unclaimed
	unlinked, err := db.Storage.GetUnlinkedEvents(ctx, rentKey)
	require.NoError(t, err)
	assert.Len(t, unlinked, 4)
}

func TestDiscoverGroup_ExplainerOutageFallsBack(t *testing.T) {
	mock := NewMockExplainer()
	mock.FailTimes = 5
	eng, db := newTestEngine(t, mock)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	// Rule-based text took over after retries ran out
	assert.Equal(t, "City Lofts LLC (USD, monthly)", seeded[0].DisplayName)
	assert.Equal(t, 3, mock.CallCount())
}

func TestDiscoverGroup_ExplainerRecoversAfterRetry(t *testing.T) {
	mock := NewMockExplainer()
	mock.FailTimes = 2
	eng, db := newTestEngine(t, mock)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	assert.Equal(t, "City Lofts LLC subscription", seeded[0].DisplayName)
	assert.Equal(t, 3, mock.CallCount())
}

func TestDiscoverGroup_ExplainerHardErrorFallsBack(t *testing.T) {
	mock := NewMockExplainer()
	mock.Err = errors.New("model unavailable")
	eng, db := newTestEngine(t, mock)
	ctx := context.Background()
	saveRentHistory(t, db, 4)

	seeded, err := eng.DiscoverGroup(ctx, rentKey)
	require.NoError(t, err)
	require.Len(t, seeded, 1)

	assert.Equal(t, "City Lofts LLC (USD, monthly)", seeded[0].DisplayName)
	// Non-retryable failures are not replayed
	assert.Equal(t, 1, mock.CallCount())
}

func TestDiscoverGroup_InvalidKey(t *testing.T) {
	eng, _ := newTestEngine(t, nil)

	_, err := eng.DiscoverGroup(context.Background(), model.GroupKey{})
	assert.Error(t, err)
}
