// Package discovery turns a group's raw event history into recurring
// pattern candidates. The pipeline is pure and deterministic: the same
// events always produce the same candidates, and groups never influence
// each other, so callers can fan out across groups freely.
package discovery

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"duebook/internal/model"
)

// Config tunes the discovery pipeline. Zero fields are filled from
// DefaultConfig by NewAnalyzer.
type Config struct {
	// ClusterToleranceFloor is the absolute amount difference always allowed
	// inside a cluster, regardless of scale.
	ClusterToleranceFloor decimal.Decimal
	// ClusterTolerancePct is the proportional tolerance between adjacent
	// amounts in a cluster.
	ClusterTolerancePct decimal.Decimal
	// NoiseEventsPer30 is the event frequency at which a group qualifies as
	// high-frequency spending.
	NoiseEventsPer30 float64
	// NoiseGapRatio is the stddev/avg gap ratio above which that frequency
	// counts as erratic.
	NoiseGapRatio float64
	// StableGapRatio is the stddev/avg gap ratio below which a cluster's
	// cadence counts as a stable interval.
	StableGapRatio float64
	// FlexibleCoverage is the months-active/months-spanned share an
	// irregular cluster needs to qualify as flexible monthly.
	FlexibleCoverage float64
	// FixedAmountCV and VariableAmountCV bucket amount variation.
	FixedAmountCV    float64
	VariableAmountCV float64
	// MinClusterSize is the fewest occurrences a candidate needs.
	MinClusterSize int
	// MinAvgGapDays separates obligations from repeat spending.
	MinAvgGapDays int
	// MinIntervalDays rejects intervals too short to open distinct windows.
	MinIntervalDays int
}

// DefaultConfig returns the tuning the engine ships with.
func DefaultConfig() Config {
	return Config{
		ClusterToleranceFloor: decimal.NewFromFloat(1.00),
		ClusterTolerancePct:   decimal.NewFromFloat(0.25),
		NoiseEventsPer30:      3.0,
		NoiseGapRatio:         0.5,
		StableGapRatio:        0.20,
		FlexibleCoverage:      0.60,
		FixedAmountCV:         0.05,
		VariableAmountCV:      0.30,
		MinClusterSize:        2,
		MinAvgGapDays:         10,
		MinIntervalDays:       15,
	}
}

// Analyzer runs the discovery pipeline with one fixed configuration.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer, filling unset config fields with
// defaults.
func NewAnalyzer(cfg Config) *Analyzer {
	def := DefaultConfig()
	if cfg.ClusterToleranceFloor.IsZero() {
		cfg.ClusterToleranceFloor = def.ClusterToleranceFloor
	}
	if cfg.ClusterTolerancePct.IsZero() {
		cfg.ClusterTolerancePct = def.ClusterTolerancePct
	}
	if cfg.NoiseEventsPer30 == 0 {
		cfg.NoiseEventsPer30 = def.NoiseEventsPer30
	}
	if cfg.NoiseGapRatio == 0 {
		cfg.NoiseGapRatio = def.NoiseGapRatio
	}
	if cfg.StableGapRatio == 0 {
		cfg.StableGapRatio = def.StableGapRatio
	}
	if cfg.FlexibleCoverage == 0 {
		cfg.FlexibleCoverage = def.FlexibleCoverage
	}
	if cfg.FixedAmountCV == 0 {
		cfg.FixedAmountCV = def.FixedAmountCV
	}
	if cfg.VariableAmountCV == 0 {
		cfg.VariableAmountCV = def.VariableAmountCV
	}
	// A cluster of one can never show a cadence, so two is the working
	// minimum even when configured lower.
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.MinAvgGapDays == 0 {
		cfg.MinAvgGapDays = def.MinAvgGapDays
	}
	if cfg.MinIntervalDays == 0 {
		cfg.MinIntervalDays = def.MinIntervalDays
	}
	return &Analyzer{cfg: cfg}
}

// Discover runs the full pipeline over one group's events. Events must be
// date-ascending and all belong to the given group; both are caller bugs
// when violated, not data conditions, so they panic.
//
// The returned candidates are ordered by ascending cluster amount. A nil
// result means the group holds no recurring pattern: either it was
// classified as frequent variable noise up front, or every cluster was
// rejected on the way through.
func (a *Analyzer) Discover(key model.GroupKey, events []model.Event) []model.PatternCandidate {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].GroupKey() != key {
			panic(fmt.Sprintf("discovery: event %s belongs to %s, not %s",
				events[i].ID, events[i].GroupKey(), key))
		}
	}

	stats := analyzeGaps(events)
	if isFrequentNoise(stats, a.cfg) {
		slog.Debug("Group is frequent variable noise",
			"group", key.String(),
			"events_per_30", stats.EventsPer30,
			"avg_gap", stats.AvgGap,
			"stddev_gap", stats.StddevGap)
		return nil
	}

	clusters := clusterByAmount(events, a.cfg)

	var candidates []model.PatternCandidate
	for i := range clusters {
		cluster := clusters[i]
		clusterStats := analyzeGaps(cluster.Events)

		if !hasConsistentTiming(clusterStats, a.cfg) {
			slog.Debug("Cluster rejected: inconsistent timing",
				"group", key.String(),
				"size", cluster.Size(),
				"avg_gap", clusterStats.AvgGap)
			continue
		}

		interval := classifyInterval(clusterStats, a.cfg)
		patternCase, ok := classifyCase(interval, clusterStats, a.cfg)
		if !ok {
			slog.Debug("Cluster rejected: no usable cadence",
				"group", key.String(),
				"size", cluster.Size(),
				"months_active", clusterStats.MonthsActive,
				"months_span", clusterStats.MonthsSpan)
			continue
		}

		candidate := model.PatternCandidate{
			Cluster:        cluster,
			IntervalDays:   interval,
			PatternCase:    patternCase,
			AmountBehavior: classifyAmountBehavior(cluster, a.cfg),
			AvgGapDays:     clusterStats.AvgGap,
			StddevGapDays:  clusterStats.StddevGap,
		}

		if !validCandidate(&candidate, a.cfg) {
			slog.Debug("Cluster rejected by validator",
				"group", key.String(),
				"size", cluster.Size(),
				"case", string(patternCase))
			continue
		}

		candidate.Confidence = scoreConfidence(&candidate)
		candidates = append(candidates, candidate)
	}

	return candidates
}
