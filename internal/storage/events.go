package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"duebook/internal/common"
	"duebook/internal/model"
)

// SaveEvents saves a batch of events, skipping any whose content hash is
// already stored. It returns the number of newly inserted events.
func (s *SQLiteStorage) SaveEvents(ctx context.Context, events []model.Event) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	for i := range events {
		if err := validateEvent(&events[i]); err != nil {
			return 0, fmt.Errorf("event %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO events (
			id, hash, date, amount, counterparty, direction, currency
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, event := range events {
		if event.Hash == "" {
			event.Hash = event.GenerateHash()
		}

		result, execErr := stmt.ExecContext(ctx,
			event.ID,
			event.Hash,
			event.Date,
			event.Amount.String(),
			event.Counterparty,
			string(event.Direction),
			event.Currency,
		)
		if execErr != nil {
			return 0, wrapExecErr(execErr, "failed to save event")
		}

		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", raErr)
		}
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit events: %w", err)
	}

	slog.Info("saved events",
		"new", inserted,
		"duplicates", len(events)-inserted)

	return inserted, nil
}

// GetEventByID retrieves a single event.
func (s *SQLiteStorage) GetEventByID(ctx context.Context, id string) (*model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getEventByIDTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getEventByIDTx(ctx context.Context, q queryable, id string) (*model.Event, error) {
	var event model.Event
	var amount string
	var direction string

	err := q.QueryRowContext(ctx, `
		SELECT id, hash, date, amount, counterparty, direction, currency
		FROM events
		WHERE id = ?
	`, id).Scan(
		&event.ID,
		&event.Hash,
		&event.Date,
		&amount,
		&event.Counterparty,
		&direction,
		&event.Currency,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event: %w", err)
	}

	if err := fillEventColumns(&event, amount, direction); err != nil {
		return nil, err
	}

	return &event, nil
}

// IsEventLinked reports whether an event has already been claimed by a
// pattern, either at seeding or by a later fulfillment.
func (s *SQLiteStorage) IsEventLinked(ctx context.Context, eventID string) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateString(eventID, "eventID"); err != nil {
		return false, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM event_links WHERE event_id = ?
	`, eventID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check event link: %w", err)
	}

	return count > 0, nil
}

// GetUnlinkedEvents returns every event in the group that is not yet linked
// to a pattern, ordered by date then ID.
func (s *SQLiteStorage) GetUnlinkedEvents(ctx context.Context, key model.GroupKey) ([]model.Event, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateGroupKey(key); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.hash, e.date, e.amount, e.counterparty, e.direction, e.currency
		FROM events e
		LEFT JOIN event_links l ON e.id = l.event_id
		WHERE l.event_id IS NULL
		  AND e.counterparty = ? AND e.direction = ? AND e.currency = ?
		ORDER BY e.date ASC, e.id ASC
	`, key.Counterparty, string(key.Direction), key.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to query unlinked events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// ListGroupsWithUnlinkedEvents returns the distinct group keys that still
// have events no pattern has claimed, in deterministic order.
func (s *SQLiteStorage) ListGroupsWithUnlinkedEvents(ctx context.Context) ([]model.GroupKey, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT e.counterparty, e.direction, e.currency
		FROM events e
		LEFT JOIN event_links l ON e.id = l.event_id
		WHERE l.event_id IS NULL
		ORDER BY e.counterparty ASC, e.direction ASC, e.currency ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query event groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []model.GroupKey
	for rows.Next() {
		var key model.GroupKey
		var direction string
		if err := rows.Scan(&key.Counterparty, &direction, &key.Currency); err != nil {
			return nil, fmt.Errorf("failed to scan group key: %w", err)
		}
		key.Direction = model.Direction(direction)
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// scanEvents reads all remaining rows of an event query.
func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var event model.Event
		var amount string
		var direction string

		if err := rows.Scan(
			&event.ID,
			&event.Hash,
			&event.Date,
			&amount,
			&event.Counterparty,
			&direction,
			&event.Currency,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		if err := fillEventColumns(&event, amount, direction); err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

// fillEventColumns decodes the TEXT-typed columns and normalizes the date
// back to UTC midnight so day arithmetic downstream stays exact.
func fillEventColumns(event *model.Event, amount, direction string) error {
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return fmt.Errorf("event %s has unreadable amount %q: %w", event.ID, amount, common.ErrCorruptState)
	}
	event.Amount = parsed
	event.Direction = model.Direction(direction)
	event.Date = model.DateOnly(event.Date)
	return nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
