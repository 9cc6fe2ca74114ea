// Package obligation implements the tracking half of the engine: window
// tolerances, anchor-based schedule math, and the fulfill/miss/cancel
// transitions over pattern state.
package obligation

import (
	"fmt"
	"math"
	"time"

	"duebook/internal/model"
)

// Window half-widths in days, by pattern case.
const (
	monthlyTolerance   = 3
	flexibleTolerance  = 31
	biMonthlyTolerance = 5
	defaultTolerance   = 3

	customToleranceMin   = 2
	customToleranceShare = 0.10
)

// ToleranceDays returns how many days either side of the expected date an
// event may land and still fulfill the obligation.
func ToleranceDays(patternCase model.PatternCase, intervalDays *int) int {
	switch patternCase {
	case model.CaseFixedMonthly, model.CaseVariableMonthly:
		return monthlyTolerance
	case model.CaseFlexibleMonthly:
		// The whole month: flexible patterns promise a month, not a day.
		return flexibleTolerance
	case model.CaseBiMonthly, model.CaseQuarterly:
		return biMonthlyTolerance
	case model.CaseCustomInterval:
		if intervalDays == nil {
			panic("obligation: custom interval pattern without an interval")
		}
		t := int(math.Round(customToleranceShare * float64(*intervalDays)))
		if t < customToleranceMin {
			t = customToleranceMin
		}
		return t
	default:
		return defaultTolerance
	}
}

// NextExpectedDate computes where the next window centers. The anchor is
// always the last real event, never a previous expectation: a pattern that
// missed keeps predicting off reality, so date error cannot accumulate.
// missedCount says how many whole periods have already been missed since the
// anchor, so the prediction lands one period beyond them.
func NextExpectedDate(patternCase model.PatternCase, intervalDays *int, lastActual time.Time, missedCount int) time.Time {
	if missedCount < 0 {
		panic("obligation: negative missed count")
	}
	steps := missedCount + 1

	switch {
	case patternCase == model.CaseFlexibleMonthly:
		return model.FirstOfMonthAfter(lastActual, steps)
	case patternCase.UsesInterval():
		if intervalDays == nil {
			panic(fmt.Sprintf("obligation: case %s without an interval", patternCase))
		}
		return model.DateOnly(lastActual).AddDate(0, 0, steps**intervalDays)
	default:
		panic(fmt.Sprintf("obligation: case %s carries no schedule", patternCase))
	}
}
