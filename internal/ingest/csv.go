// Package ingest loads typed transaction fixtures into events. The importer
// is strict: a malformed row fails the whole file with its line number,
// because silently dropping an occurrence would poison every statistic
// computed downstream.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"duebook/internal/model"
)

// requiredColumns are the CSV headers every import file must carry, in any
// order. Extra columns are ignored.
var requiredColumns = []string{"date", "amount", "counterparty", "direction", "currency"}

// dateLayouts are tried in order when parsing the date column.
var dateLayouts = []string{"2006-01-02", time.RFC3339}

// Loader parses CSV transaction files into events.
type Loader struct{}

// NewLoader creates a new CSV loader.
func NewLoader() *Loader {
	return &Loader{}
}

// ParseFile parses one CSV file and returns its events. Event IDs are
// derived from the content hash, so re-importing the same file yields the
// same IDs and the store's hash dedup keeps the rows single.
func (l *Loader) ParseFile(ctx context.Context, reader io.Reader) ([]model.Event, error) {
	r := csv.NewReader(reader)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	columns, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var events []model.Event
	line := 1
	for {
		record, readErr := r.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}
		line++
		if readErr != nil {
			return nil, fmt.Errorf("line %d: %w", line, readErr)
		}

		event, rowErr := parseRow(record, columns)
		if rowErr != nil {
			return nil, fmt.Errorf("line %d: %w", line, rowErr)
		}
		events = append(events, event)
	}

	slog.Info("parsed events",
		"rows", len(events))

	return events, nil
}

// columnIndex maps lowercased header names to their positions and verifies
// every required column is present.
func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}
	return index, nil
}

// parseRow converts one CSV record into a validated event.
func parseRow(record []string, columns map[string]int) (model.Event, error) {
	field := func(name string) string {
		i := columns[name]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	date, err := parseDate(field("date"))
	if err != nil {
		return model.Event{}, err
	}

	rawAmount := field("amount")
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return model.Event{}, fmt.Errorf("unreadable amount %q", rawAmount)
	}
	if amount.IsNegative() {
		return model.Event{}, fmt.Errorf("amount %s is negative (use the direction column for the sign)", rawAmount)
	}

	direction := model.Direction(strings.ToUpper(field("direction")))
	if !direction.Valid() {
		return model.Event{}, fmt.Errorf("unknown direction %q", field("direction"))
	}

	event := model.Event{
		Date:         date,
		Amount:       amount,
		Counterparty: field("counterparty"),
		Direction:    direction,
		Currency:     strings.ToUpper(field("currency")),
	}
	event.Hash = event.GenerateHash()
	event.ID = "evt-" + event.Hash[:16]

	if err := event.Validate(); err != nil {
		return model.Event{}, err
	}
	return event, nil
}

// parseDate accepts a plain date or a full RFC3339 timestamp and normalizes
// either to UTC midnight.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return model.DateOnly(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unreadable date %q", raw)
}
