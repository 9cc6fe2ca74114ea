package discovery

// isFrequentNoise reports whether a group's raw timeline looks like
// high-frequency spending (groceries, cabs, food delivery) rather than
// anything worth clustering. Two signals must agree: the group fires at
// least three times per 30 days AND the gaps are erratic relative to their
// own average. A fast but perfectly regular cadence (weekly gym billing)
// survives the filter.
func isFrequentNoise(stats GapStats, cfg Config) bool {
	if stats.EventCount < 2 {
		return false
	}
	if stats.EventsPer30 < cfg.NoiseEventsPer30 {
		return false
	}
	return stats.StddevGap > cfg.NoiseGapRatio*stats.AvgGap
}
