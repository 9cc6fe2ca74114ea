package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"duebook/internal/model"
)

// SeriesBuilder constructs event series with controlled cadence for tests.
// Every event carries a deterministic ID and content hash so the same
// builder calls produce the same series.
type SeriesBuilder struct {
	t            *testing.T
	counterparty string
	currency     string
	idPrefix     string
	direction    model.Direction
	amounts      []decimal.Decimal
	dates        []time.Time
	next         int
}

// NewSeriesBuilder starts a builder for one event group.
func NewSeriesBuilder(t *testing.T, counterparty string) *SeriesBuilder {
	t.Helper()
	return &SeriesBuilder{
		t:            t,
		counterparty: counterparty,
		currency:     "USD",
		direction:    model.DirectionDebit,
		idPrefix:     "evt",
	}
}

// Credit flips the series to incoming money.
func (b *SeriesBuilder) Credit() *SeriesBuilder {
	b.direction = model.DirectionCredit
	return b
}

// Currency overrides the default USD.
func (b *SeriesBuilder) Currency(code string) *SeriesBuilder {
	b.currency = code
	return b
}

// IDPrefix overrides the default "evt" prefix so two series in one test
// cannot collide.
func (b *SeriesBuilder) IDPrefix(prefix string) *SeriesBuilder {
	b.idPrefix = prefix
	return b
}

// On appends one occurrence.
func (b *SeriesBuilder) On(date time.Time, amount float64) *SeriesBuilder {
	b.dates = append(b.dates, model.DateOnly(date))
	b.amounts = append(b.amounts, decimal.NewFromFloat(amount))
	return b
}

// Monthly appends count occurrences one calendar month apart.
func (b *SeriesBuilder) Monthly(start time.Time, count int, amount float64) *SeriesBuilder {
	for i := 0; i < count; i++ {
		b.On(start.AddDate(0, i, 0), amount)
	}
	return b
}

// EveryDays appends count occurrences a fixed number of days apart.
func (b *SeriesBuilder) EveryDays(start time.Time, gapDays, count int, amount float64) *SeriesBuilder {
	for i := 0; i < count; i++ {
		b.On(start.AddDate(0, 0, i*gapDays), amount)
	}
	return b
}

// Build returns the series sorted the way it was added.
func (b *SeriesBuilder) Build() []model.Event {
	b.t.Helper()
	events := make([]model.Event, len(b.dates))
	for i := range b.dates {
		b.next++
		event := model.Event{
			ID:           fmt.Sprintf("%s-%s-%03d", b.idPrefix, sanitize(b.counterparty), b.next),
			Date:         b.dates[i],
			Amount:       b.amounts[i],
			Counterparty: b.counterparty,
			Direction:    b.direction,
			Currency:     b.currency,
		}
		event.Hash = event.GenerateHash()
		if err := event.Validate(); err != nil {
			b.t.Fatalf("series builder produced an invalid event: %v", err)
		}
		events[i] = event
	}
	return events
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		}
	}
	return string(out)
}
