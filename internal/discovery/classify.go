package discovery

import (
	"math"

	"duebook/internal/model"
)

// Calendar buckets for stable intervals, in days. These are definitional
// rather than tunable: a 30-day cadence is monthly everywhere.
const (
	fixedMonthlyMinDays = 27
	fixedMonthlyMaxDays = 33
	biMonthlyMinDays    = 55
	biMonthlyMaxDays    = 65
	quarterlyMinDays    = 85
	quarterlyMaxDays    = 95
)

// hasConsistentTiming rejects clusters that cannot carry a schedule at all:
// a single event has no cadence, and an average gap under the minimum means
// the cluster is repeat spending, not an obligation.
func hasConsistentTiming(stats GapStats, cfg Config) bool {
	if stats.EventCount < 2 {
		return false
	}
	return stats.AvgGap >= float64(cfg.MinAvgGapDays)
}

// classifyInterval returns the rounded day interval when the cluster's gaps
// are stable (low spread relative to their average), nil when they are not.
func classifyInterval(stats GapStats, cfg Config) *int {
	if stats.AvgGap <= 0 {
		return nil
	}
	if stats.StddevGap >= cfg.StableGapRatio*stats.AvgGap {
		return nil
	}
	interval := int(math.Round(stats.AvgGap))
	return &interval
}

// classifyCase maps a cluster's timing onto a pattern case. Stable intervals
// pick their calendar bucket. Irregular timing gets one fallback: if the
// cluster touches enough of the months it spans, it is a monthly habit with
// a sloppy day (credit card bills), otherwise it is not a pattern.
func classifyCase(interval *int, stats GapStats, cfg Config) (model.PatternCase, bool) {
	if interval != nil {
		switch d := *interval; {
		case d >= fixedMonthlyMinDays && d <= fixedMonthlyMaxDays:
			return model.CaseFixedMonthly, true
		case d >= biMonthlyMinDays && d <= biMonthlyMaxDays:
			return model.CaseBiMonthly, true
		case d >= quarterlyMinDays && d <= quarterlyMaxDays:
			return model.CaseQuarterly, true
		default:
			return model.CaseCustomInterval, true
		}
	}

	if stats.MonthsSpan > 0 {
		coverage := float64(stats.MonthsActive) / float64(stats.MonthsSpan)
		if coverage >= cfg.FlexibleCoverage {
			return model.CaseFlexibleMonthly, true
		}
	}
	return "", false
}

// classifyAmountBehavior buckets the cluster by coefficient of variation of
// its amounts.
func classifyAmountBehavior(cluster model.AmountCluster, cfg Config) model.AmountBehavior {
	amounts := make([]float64, len(cluster.Events))
	for i, e := range cluster.Events {
		amounts[i] = e.Amount.InexactFloat64()
	}

	mean := meanFloats(amounts)
	if mean == 0 {
		return model.AmountFixed
	}
	cv := stddevFloats(amounts, mean) / mean

	switch {
	case cv < cfg.FixedAmountCV:
		return model.AmountFixed
	case cv < cfg.VariableAmountCV:
		return model.AmountVariable
	default:
		return model.AmountHighlyVariable
	}
}

// validCandidate is the final gate before scoring. Flexible monthly
// candidates carry no interval and pass on coverage alone; everything else
// needs a real interval long enough to open distinct expectation windows.
func validCandidate(candidate *model.PatternCandidate, cfg Config) bool {
	if candidate.Cluster.Size() < cfg.MinClusterSize {
		return false
	}
	if candidate.PatternCase == model.CaseFlexibleMonthly {
		return true
	}
	return candidate.IntervalDays != nil && *candidate.IntervalDays >= cfg.MinIntervalDays
}
