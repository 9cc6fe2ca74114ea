package discovery

import (
	"sort"

	"github.com/shopspring/decimal"

	"duebook/internal/model"
)

// clusterByAmount splits a group's events into amount clusters. Events are
// walked in ascending amount order and chained into the current cluster while
// each step stays within tolerance of the previous amount. The tolerance is
// proportional to the amount itself with an absolute floor, so ₹99 and ₹101
// land together just like $9.90 and $10.10.
//
// Every returned cluster has its events re-sorted date-ascending, which is
// the order the rest of the pipeline requires.
func clusterByAmount(events []model.Event, cfg Config) []model.AmountCluster {
	if len(events) == 0 {
		return nil
	}

	byAmount := make([]model.Event, len(events))
	copy(byAmount, events)
	sort.Slice(byAmount, func(i, j int) bool {
		if !byAmount[i].Amount.Equal(byAmount[j].Amount) {
			return byAmount[i].Amount.LessThan(byAmount[j].Amount)
		}
		if !byAmount[i].Date.Equal(byAmount[j].Date) {
			return byAmount[i].Date.Before(byAmount[j].Date)
		}
		return byAmount[i].ID < byAmount[j].ID
	})

	var clusters []model.AmountCluster
	current := []model.Event{byAmount[0]}

	for i := 1; i < len(byAmount); i++ {
		prev := byAmount[i-1].Amount
		tolerance := decimal.Max(cfg.ClusterToleranceFloor, prev.Mul(cfg.ClusterTolerancePct))
		if byAmount[i].Amount.Sub(prev).LessThanOrEqual(tolerance) {
			current = append(current, byAmount[i])
			continue
		}
		clusters = append(clusters, finishCluster(current))
		current = []model.Event{byAmount[i]}
	}
	clusters = append(clusters, finishCluster(current))

	return clusters
}

// finishCluster restores date order and computes the amount envelope.
func finishCluster(events []model.Event) model.AmountCluster {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})

	cluster := model.AmountCluster{
		Events: events,
		Min:    events[0].Amount,
		Max:    events[0].Amount,
	}
	sum := decimal.Zero
	for _, e := range events {
		if e.Amount.LessThan(cluster.Min) {
			cluster.Min = e.Amount
		}
		if e.Amount.GreaterThan(cluster.Max) {
			cluster.Max = e.Amount
		}
		sum = sum.Add(e.Amount)
	}
	cluster.Avg = sum.Div(decimal.NewFromInt(int64(len(events)))).Round(2)

	return cluster
}
