package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ObligationStatus is the lifecycle state of a single expected occurrence.
// Obligations are append-only: a resolved row is never reopened or edited,
// resolution always creates the successor row instead.
type ObligationStatus string

const (
	// ObligationExpected is the single open occurrence a pattern waits on.
	ObligationExpected ObligationStatus = "EXPECTED"
	// ObligationFulfilled means a real event arrived inside the window.
	ObligationFulfilled ObligationStatus = "FULFILLED"
	// ObligationMissed means the window closed with no matching event.
	ObligationMissed ObligationStatus = "MISSED"
	// ObligationCancelled means an operator deactivated the pattern.
	ObligationCancelled ObligationStatus = "CANCELLED"
)

// Valid reports whether the status is one of the known values.
func (s ObligationStatus) Valid() bool {
	switch s {
	case ObligationExpected, ObligationFulfilled, ObligationMissed, ObligationCancelled:
		return true
	}
	return false
}

// Open reports whether the obligation still waits on an event.
func (s ObligationStatus) Open() bool {
	return s == ObligationExpected
}

// Obligation is one expected occurrence of a pattern. Exactly one open
// obligation exists per live pattern; history accumulates as resolved rows.
type Obligation struct {
	ExpectedDate      time.Time
	CreatedAt         time.Time
	ResolvedAt        *time.Time
	FulfilledBy       *string
	ID                string
	PatternID         string
	Status            ObligationStatus
	ExpectedMinAmount decimal.Decimal
	ExpectedMaxAmount decimal.Decimal
	ToleranceDays     int
	DaysEarly         int
}

// MatchesDate reports whether an event on the given date falls inside this
// obligation's window. The window is inclusive on both edges.
func (o *Obligation) MatchesDate(eventDate time.Time) bool {
	diff := DaysBetween(o.ExpectedDate, eventDate)
	if diff < 0 {
		diff = -diff
	}
	return diff <= o.ToleranceDays
}

// DaysEarlyFor is positive when the event landed before the expected date,
// negative when it landed after.
func (o *Obligation) DaysEarlyFor(eventDate time.Time) int {
	return DaysBetween(eventDate, o.ExpectedDate)
}

// OverdueAt reports whether the window has fully closed as of the given day:
// true once asOf is strictly past expected date plus tolerance.
func (o *Obligation) OverdueAt(asOf time.Time) bool {
	return DaysBetween(o.ExpectedDate, asOf) > o.ToleranceDays
}

// Validate ensures the obligation is internally consistent.
func (o *Obligation) Validate() error {
	if o.ID == "" {
		return fmt.Errorf("obligation id is required")
	}
	if o.PatternID == "" {
		return fmt.Errorf("obligation %s: pattern id is required", o.ID)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("obligation %s: invalid status %q", o.ID, o.Status)
	}
	if o.ExpectedDate.IsZero() {
		return fmt.Errorf("obligation %s: expected date is required", o.ID)
	}
	if o.ToleranceDays < 0 {
		return fmt.Errorf("obligation %s: tolerance must not be negative", o.ID)
	}
	if o.Status.Open() && o.ResolvedAt != nil {
		return fmt.Errorf("obligation %s: open obligation must not carry a resolution time", o.ID)
	}
	if !o.Status.Open() && o.ResolvedAt == nil {
		return fmt.Errorf("obligation %s: resolved obligation must carry a resolution time", o.ID)
	}
	if o.Status == ObligationFulfilled && o.FulfilledBy == nil {
		return fmt.Errorf("obligation %s: fulfilled obligation must reference an event", o.ID)
	}
	return nil
}
