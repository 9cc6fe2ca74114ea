package discovery

import (
	"fmt"
	"math"

	"duebook/internal/model"
)

// GapStats summarizes the day gaps between consecutive events of one
// date-sorted sequence.
type GapStats struct {
	Gaps         []int
	AvgGap       float64
	StddevGap    float64
	SpanDays     int
	EventsPer30  float64
	EventCount   int
	MonthsActive int
	MonthsSpan   int
}

// analyzeGaps computes gap statistics over a date-ascending event sequence.
// Callers own the sort order; receiving an unsorted sequence is a programming
// error and panics rather than silently producing garbage statistics.
func analyzeGaps(events []model.Event) GapStats {
	stats := GapStats{EventCount: len(events)}
	if len(events) == 0 {
		return stats
	}

	months := make(map[int]struct{}, len(events))
	months[model.MonthIndex(events[0].Date)] = struct{}{}

	gaps := make([]int, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		gap := model.DaysBetween(events[i-1].Date, events[i].Date)
		if gap < 0 {
			panic(fmt.Sprintf("discovery: events out of order at index %d (%s after %s)",
				i, events[i-1].Date.Format("2006-01-02"), events[i].Date.Format("2006-01-02")))
		}
		gaps = append(gaps, gap)
		months[model.MonthIndex(events[i].Date)] = struct{}{}
	}

	stats.Gaps = gaps
	stats.AvgGap = meanInts(gaps)
	stats.StddevGap = stddevInts(gaps, stats.AvgGap)

	// The activity span has a one day floor so a burst of same-day events
	// still yields a finite frequency.
	span := model.DaysBetween(events[0].Date, events[len(events)-1].Date)
	if span < 1 {
		span = 1
	}
	stats.SpanDays = span
	stats.EventsPer30 = float64(len(events)) / float64(span) * 30.0

	stats.MonthsActive = len(months)
	stats.MonthsSpan = model.MonthIndex(events[len(events)-1].Date) - model.MonthIndex(events[0].Date) + 1

	return stats
}

func meanInts(values []int) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func stddevInts(values []int, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := float64(v) - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func meanFloats(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevFloats(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}
