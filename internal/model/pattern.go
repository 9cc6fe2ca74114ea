package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PatternCase classifies the cadence of a recurring pattern.
type PatternCase string

const (
	// CaseFixedMonthly is a stable ~30 day cadence (rent, salary).
	CaseFixedMonthly PatternCase = "FIXED_MONTHLY"
	// CaseVariableMonthly is reserved for monthly cadences whose amount
	// varies. Discovery never emits it today; it exists so externally
	// seeded patterns can use it and tracking knows its tolerance.
	CaseVariableMonthly PatternCase = "VARIABLE_MONTHLY"
	// CaseFlexibleMonthly recurs monthly without a stable day-of-month
	// (credit card bills paid whenever the statement lands).
	CaseFlexibleMonthly PatternCase = "FLEXIBLE_MONTHLY"
	// CaseBiMonthly is a stable ~60 day cadence.
	CaseBiMonthly PatternCase = "BI_MONTHLY"
	// CaseQuarterly is a stable ~90 day cadence.
	CaseQuarterly PatternCase = "QUARTERLY"
	// CaseCustomInterval is any other stable cadence (weekly, 45 days, ...).
	CaseCustomInterval PatternCase = "CUSTOM_INTERVAL"
	// CaseFrequentVariable marks high-frequency noise (groceries, cabs).
	// It is a terminal classification: never persisted, never tracked.
	CaseFrequentVariable PatternCase = "FREQUENT_VARIABLE"
)

// Valid reports whether the case is one of the known values.
func (c PatternCase) Valid() bool {
	switch c {
	case CaseFixedMonthly, CaseVariableMonthly, CaseFlexibleMonthly,
		CaseBiMonthly, CaseQuarterly, CaseCustomInterval, CaseFrequentVariable:
		return true
	}
	return false
}

// Trackable reports whether a pattern of this case can carry obligations.
func (c PatternCase) Trackable() bool {
	return c.Valid() && c != CaseFrequentVariable
}

// UsesInterval reports whether schedule math for this case advances by a
// fixed day interval. Flexible monthly advances by calendar month instead.
func (c PatternCase) UsesInterval() bool {
	switch c {
	case CaseFixedMonthly, CaseVariableMonthly, CaseBiMonthly,
		CaseQuarterly, CaseCustomInterval:
		return true
	}
	return false
}

// AmountBehavior classifies how much a pattern's amount moves between
// occurrences, measured by coefficient of variation over its cluster.
type AmountBehavior string

const (
	AmountFixed          AmountBehavior = "FIXED"
	AmountVariable       AmountBehavior = "VARIABLE"
	AmountHighlyVariable AmountBehavior = "HIGHLY_VARIABLE"
)

// Valid reports whether the behavior is one of the known values.
func (b AmountBehavior) Valid() bool {
	switch b {
	case AmountFixed, AmountVariable, AmountHighlyVariable:
		return true
	}
	return false
}

// PatternStatus is the health of a tracked pattern.
type PatternStatus string

const (
	// StatusActive means the pattern is on schedule (at most one recent miss).
	StatusActive PatternStatus = "ACTIVE"
	// StatusPaused means two or three consecutive misses.
	StatusPaused PatternStatus = "PAUSED"
	// StatusBroken means four or more consecutive misses. A matching event
	// can still revive a broken pattern.
	StatusBroken PatternStatus = "BROKEN"
)

// Valid reports whether the status is one of the known values.
func (s PatternStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusBroken:
		return true
	}
	return false
}

// PatternState is the persistent record of one discovered (or seeded)
// recurring pattern. It is keyed by group plus an opaque ID and versioned
// for optimistic concurrency: every transition bumps Version.
type PatternState struct {
	LastActualDate       time.Time
	NextExpectedDate     time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
	IntervalDays         *int
	ID                   string
	Counterparty         string
	Currency             string
	DisplayName          string
	Explanation          string
	Direction            Direction
	PatternCase          PatternCase
	AmountBehavior       AmountBehavior
	Status               PatternStatus
	ExpectedMinAmount    decimal.Decimal
	ExpectedMaxAmount    decimal.Decimal
	ExpectedAvgAmount    decimal.Decimal
	BaseConfidence       float64
	ConfidenceMultiplier float64
	CurrentStreak        int
	MissedCount          int
	Version              int64
}

// GroupKey returns the group this pattern tracks.
func (p *PatternState) GroupKey() GroupKey {
	return GroupKey{
		Counterparty: p.Counterparty,
		Direction:    p.Direction,
		Currency:     p.Currency,
	}
}

// Live reports whether the pattern should receive new expectations. Broken
// patterns stay matchable (so they can revive) but are surfaced separately.
func (p *PatternState) Live() bool {
	return p.Status == StatusActive || p.Status == StatusPaused
}

// EffectiveConfidence is the discovery confidence scaled by the tracking
// multiplier, clamped to [0, 1].
func (p *PatternState) EffectiveConfidence() float64 {
	c := p.BaseConfidence * p.ConfidenceMultiplier
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Validate ensures the state is internally consistent. Storage calls this on
// every load so corrupt rows surface as errors instead of panics deeper in.
func (p *PatternState) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern id is required")
	}
	if err := p.GroupKey().Validate(); err != nil {
		return fmt.Errorf("pattern %s: %w", p.ID, err)
	}
	if !p.PatternCase.Trackable() {
		return fmt.Errorf("pattern %s: case %q is not trackable", p.ID, p.PatternCase)
	}
	if !p.AmountBehavior.Valid() {
		return fmt.Errorf("pattern %s: invalid amount behavior %q", p.ID, p.AmountBehavior)
	}
	if !p.Status.Valid() {
		return fmt.Errorf("pattern %s: invalid status %q", p.ID, p.Status)
	}
	if p.PatternCase.UsesInterval() {
		if p.IntervalDays == nil {
			return fmt.Errorf("pattern %s: case %q requires an interval", p.ID, p.PatternCase)
		}
		if *p.IntervalDays < 1 {
			return fmt.Errorf("pattern %s: interval must be positive, got %d", p.ID, *p.IntervalDays)
		}
	}
	if p.LastActualDate.IsZero() {
		return fmt.Errorf("pattern %s: last actual date is required", p.ID)
	}
	if p.NextExpectedDate.IsZero() {
		return fmt.Errorf("pattern %s: next expected date is required", p.ID)
	}
	if p.BaseConfidence < 0 || p.BaseConfidence > 1 {
		return fmt.Errorf("pattern %s: base confidence %f out of range", p.ID, p.BaseConfidence)
	}
	if p.ConfidenceMultiplier < 0 || p.ConfidenceMultiplier > 1 {
		return fmt.Errorf("pattern %s: confidence multiplier %f out of range", p.ID, p.ConfidenceMultiplier)
	}
	if p.MissedCount < 0 {
		return fmt.Errorf("pattern %s: missed count must not be negative", p.ID)
	}
	if p.ExpectedMinAmount.GreaterThan(p.ExpectedMaxAmount) {
		return fmt.Errorf("pattern %s: expected min amount exceeds max", p.ID)
	}
	return nil
}
