package model

import "time"

// DateOnly truncates a timestamp to midnight UTC. The engine reasons in whole
// calendar days, so every date that enters the domain passes through here.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of whole days from a to b. Negative when b
// precedes a.
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}

// FirstOfMonthAfter returns the first day of the month n months after t's
// month. Month arithmetic is done on the month index so day-of-month overflow
// can never skip a month.
func FirstOfMonthAfter(t time.Time, n int) time.Time {
	y, m, _ := t.UTC().Date()
	return time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

// MonthIndex collapses a date to a single comparable month number.
func MonthIndex(t time.Time) int {
	y, m, _ := t.UTC().Date()
	return y*12 + int(m) - 1
}
