package model

import "github.com/shopspring/decimal"

// AmountCluster is a group of events whose amounts sit close enough together
// to plausibly be the same obligation. Events are kept date-ascending.
type AmountCluster struct {
	Events []Event
	Min    decimal.Decimal
	Max    decimal.Decimal
	Avg    decimal.Decimal
}

// Size returns the number of events in the cluster.
func (c *AmountCluster) Size() int {
	return len(c.Events)
}

// First returns the earliest event in the cluster.
func (c *AmountCluster) First() Event {
	return c.Events[0]
}

// Last returns the latest event in the cluster.
func (c *AmountCluster) Last() Event {
	return c.Events[len(c.Events)-1]
}

// PatternCandidate is the fully classified output of the discovery pipeline
// for one cluster, ready to be persisted as a PatternState. IntervalDays is
// nil for flexible monthly candidates.
type PatternCandidate struct {
	IntervalDays   *int
	Cluster        AmountCluster
	PatternCase    PatternCase
	AmountBehavior AmountBehavior
	AvgGapDays     float64
	StddevGapDays  float64
	Confidence     float64
}

// GroupKey returns the group the candidate was discovered in.
func (c *PatternCandidate) GroupKey() GroupKey {
	first := c.Cluster.First()
	return first.GroupKey()
}
