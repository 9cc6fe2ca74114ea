package discovery

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duebook/internal/model"
)

func clusterAmounts(t *testing.T, amounts ...float64) []model.AmountCluster {
	t.Helper()
	evts := make([]model.Event, len(amounts))
	for i, a := range amounts {
		evts[i] = evt(i, day(2025, 1, 1).AddDate(0, 0, i), a)
	}
	return clusterByAmount(evts, DefaultConfig())
}

func TestClusterByAmount(t *testing.T) {
	tests := []struct {
		name      string
		amounts   []float64
		wantSizes []int
	}{
		{
			name:      "identical amounts form one cluster",
			amounts:   []float64{100, 100, 100},
			wantSizes: []int{3},
		},
		{
			name:      "within proportional tolerance",
			amounts:   []float64{100, 110, 95},
			wantSizes: []int{3},
		},
		{
			name:      "far apart amounts split",
			amounts:   []float64{99, 499, 99, 499},
			wantSizes: []int{2, 2},
		},
		{
			name: "chaining stretches a cluster past the pairwise tolerance",
			// 145 is outside 25% of 100, but each ascending step holds.
			amounts:   []float64{100, 120, 145},
			wantSizes: []int{3},
		},
		{
			name: "absolute floor joins small amounts",
			// 0.80 apart is over 25% of 1.00, but under the 1.00 floor.
			amounts:   []float64{1.00, 1.80},
			wantSizes: []int{2},
		},
		{
			name:      "small amounts past the floor split",
			amounts:   []float64{1.00, 2.50},
			wantSizes: []int{1, 1},
		},
		{
			name: "ten times larger outlier is isolated",
			// The outlier gets its own cluster instead of inflating the
			// main cluster's variation.
			amounts:   []float64{100, 100, 100, 100, 100, 1000},
			wantSizes: []int{5, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clusters := clusterAmounts(t, tt.amounts...)
			require.Len(t, clusters, len(tt.wantSizes))
			for i, want := range tt.wantSizes {
				assert.Equal(t, want, clusters[i].Size(), "cluster %d", i)
			}
		})
	}
}

func TestClusterByAmount_RestoresDateOrder(t *testing.T) {
	// Amounts interleave two value tiers across the timeline; each cluster
	// must still come out date-ascending.
	evts := []model.Event{
		evt(0, day(2025, 1, 10), 500),
		evt(1, day(2025, 2, 10), 100),
		evt(2, day(2025, 3, 10), 510),
		evt(3, day(2025, 4, 10), 105),
		evt(4, day(2025, 5, 10), 495),
	}

	clusters := clusterByAmount(evts, DefaultConfig())
	require.Len(t, clusters, 2)

	for _, c := range clusters {
		for i := 1; i < len(c.Events); i++ {
			assert.True(t, c.Events[i-1].Date.Before(c.Events[i].Date),
				"cluster events must be date ascending")
		}
	}
}

func TestClusterByAmount_Envelope(t *testing.T) {
	clusters := clusterAmounts(t, 95, 100, 105)
	require.Len(t, clusters, 1)

	c := clusters[0]
	assert.True(t, c.Min.Equal(decimal.NewFromInt(95)))
	assert.True(t, c.Max.Equal(decimal.NewFromInt(105)))
	assert.True(t, c.Avg.Equal(decimal.NewFromInt(100)))
}

func TestClusterByAmount_DeterministicOnTies(t *testing.T) {
	// Same amount, same day: the id breaks the tie so repeated runs agree.
	evts := []model.Event{
		{ID: "b", Date: day(2025, 1, 1), Counterparty: "X", Direction: model.DirectionDebit, Currency: "INR", Amount: decimal.NewFromInt(50)},
		{ID: "a", Date: day(2025, 1, 1), Counterparty: "X", Direction: model.DirectionDebit, Currency: "INR", Amount: decimal.NewFromInt(50)},
	}

	first := clusterByAmount(evts, DefaultConfig())
	second := clusterByAmount(evts, DefaultConfig())
	require.Len(t, first, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, "a", first[0].Events[0].ID)
}

func TestClusterByAmount_Empty(t *testing.T) {
	assert.Nil(t, clusterByAmount(nil, DefaultConfig()))
}

func TestClusterByAmount_WholeDayGapZero(t *testing.T) {
	// Same-day duplicates stay in one cluster and produce a zero gap, which
	// the caller's statistics must tolerate.
	evts := []model.Event{
		evt(0, day(2025, 1, 1), 100),
		evt(1, day(2025, 1, 1), 100),
	}
	clusters := clusterByAmount(evts, DefaultConfig())
	require.Len(t, clusters, 1)

	stats := analyzeGaps(clusters[0].Events)
	assert.Equal(t, []int{0}, stats.Gaps)
	assert.Equal(t, 1, stats.SpanDays)
}
