package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/service"
)

// SeedPattern atomically creates a pattern, its first open obligation, and
// the links claiming the events that discovered it. If any of those events
// was already claimed by another pattern the whole seed fails with
// ErrDuplicateEntry and nothing is written.
func (s *SQLiteStorage) SeedPattern(ctx context.Context, pattern *model.PatternState, first *model.Obligation, eventIDs []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	if err := validateObligation(first); err != nil {
		return err
	}
	if first.PatternID != pattern.ID {
		return fmt.Errorf("obligation %s belongs to pattern %s, not %s", first.ID, first.PatternID, pattern.ID)
	}
	if len(eventIDs) == 0 {
		return fmt.Errorf("a pattern cannot be seeded without its founding events")
	}
	for _, eventID := range eventIDs {
		if err := validateString(eventID, "event id"); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var interval sql.NullInt64
	if pattern.IntervalDays != nil {
		interval = sql.NullInt64{Int64: int64(*pattern.IntervalDays), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO patterns (
			id, counterparty, direction, currency, display_name, explanation,
			pattern_case, amount_behavior, status, interval_days,
			min_amount, max_amount, avg_amount,
			base_confidence, confidence_multiplier,
			current_streak, missed_count,
			last_actual, next_expected, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		pattern.ID,
		pattern.Counterparty,
		string(pattern.Direction),
		pattern.Currency,
		pattern.DisplayName,
		pattern.Explanation,
		string(pattern.PatternCase),
		string(pattern.AmountBehavior),
		string(pattern.Status),
		interval,
		pattern.ExpectedMinAmount.String(),
		pattern.ExpectedMaxAmount.String(),
		pattern.ExpectedAvgAmount.String(),
		pattern.BaseConfidence,
		pattern.ConfidenceMultiplier,
		pattern.CurrentStreak,
		pattern.MissedCount,
		pattern.LastActualDate,
		pattern.NextExpectedDate,
		pattern.Version,
		pattern.CreatedAt,
		pattern.UpdatedAt,
	)
	if err != nil {
		return wrapExecErr(err, "failed to insert pattern")
	}

	if err := insertObligationTx(ctx, tx, first); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO event_links (event_id, pattern_id) VALUES (?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare link statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, eventID := range eventIDs {
		if _, execErr := stmt.ExecContext(ctx, eventID, pattern.ID); execErr != nil {
			return wrapExecErr(execErr, fmt.Sprintf("failed to link event %s", eventID))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pattern seed: %w", err)
	}

	slog.Info("seeded pattern",
		"id", pattern.ID,
		"group", pattern.GroupKey().String(),
		"case", string(pattern.PatternCase),
		"confidence", pattern.BaseConfidence,
		"events", len(eventIDs))

	return nil
}

// GetPattern retrieves a single pattern by ID.
func (s *SQLiteStorage) GetPattern(ctx context.Context, id string) (*model.PatternState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getPatternTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getPatternTx(ctx context.Context, q queryable, id string) (*model.PatternState, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, counterparty, direction, currency, display_name, explanation,
		       pattern_case, amount_behavior, status, interval_days,
		       min_amount, max_amount, avg_amount,
		       base_confidence, confidence_multiplier,
		       current_streak, missed_count,
		       last_actual, next_expected, version, created_at, updated_at
		FROM patterns
		WHERE id = ?
	`, id)

	pattern, err := scanPattern(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return pattern, nil
}

// ListPatterns returns patterns matching the filter, ordered by counterparty
// then ID.
func (s *SQLiteStorage) ListPatterns(ctx context.Context, filter service.PatternFilter) ([]model.PatternState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, counterparty, direction, currency, display_name, explanation,
		       pattern_case, amount_behavior, status, interval_days,
		       min_amount, max_amount, avg_amount,
		       base_confidence, confidence_multiplier,
		       current_streak, missed_count,
		       last_actual, next_expected, version, created_at, updated_at
		FROM patterns`

	var conditions []string
	var args []any

	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Direction != nil {
		conditions = append(conditions, "direction = ?")
		args = append(args, string(*filter.Direction))
	}
	if filter.Currency != "" {
		conditions = append(conditions, "currency = ?")
		args = append(args, filter.Currency)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY counterparty ASC, id ASC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close rows", "error", closeErr)
		}
	}()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, err
	}

	slog.Debug("retrieved patterns", "count", len(patterns))
	return patterns, nil
}

// ListPatternsForGroup returns every pattern tracking the given group.
func (s *SQLiteStorage) ListPatternsForGroup(ctx context.Context, key model.GroupKey) ([]model.PatternState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateGroupKey(key); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, counterparty, direction, currency, display_name, explanation,
		       pattern_case, amount_behavior, status, interval_days,
		       min_amount, max_amount, avg_amount,
		       base_confidence, confidence_multiplier,
		       current_streak, missed_count,
		       last_actual, next_expected, version, created_at, updated_at
		FROM patterns
		WHERE counterparty = ? AND direction = ? AND currency = ?
		ORDER BY id ASC
	`, key.Counterparty, string(key.Direction), key.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to query group patterns: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close rows", "error", closeErr)
		}
	}()

	return scanPatterns(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPattern reads one pattern row and validates it. Rows that fail
// validation surface as ErrCorruptState rather than flowing into tracking.
func scanPattern(row rowScanner) (*model.PatternState, error) {
	var pattern model.PatternState
	var direction, patternCase, amountBehavior, status string
	var interval sql.NullInt64
	var minAmount, maxAmount, avgAmount string

	if err := row.Scan(
		&pattern.ID,
		&pattern.Counterparty,
		&direction,
		&pattern.Currency,
		&pattern.DisplayName,
		&pattern.Explanation,
		&patternCase,
		&amountBehavior,
		&status,
		&interval,
		&minAmount,
		&maxAmount,
		&avgAmount,
		&pattern.BaseConfidence,
		&pattern.ConfidenceMultiplier,
		&pattern.CurrentStreak,
		&pattern.MissedCount,
		&pattern.LastActualDate,
		&pattern.NextExpectedDate,
		&pattern.Version,
		&pattern.CreatedAt,
		&pattern.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan pattern: %w", err)
	}

	pattern.Direction = model.Direction(direction)
	pattern.PatternCase = model.PatternCase(patternCase)
	pattern.AmountBehavior = model.AmountBehavior(amountBehavior)
	pattern.Status = model.PatternStatus(status)

	if interval.Valid {
		days := int(interval.Int64)
		pattern.IntervalDays = &days
	}

	var err error
	if pattern.ExpectedMinAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, fmt.Errorf("pattern %s has unreadable min amount %q: %w", pattern.ID, minAmount, common.ErrCorruptState)
	}
	if pattern.ExpectedMaxAmount, err = decimal.NewFromString(maxAmount); err != nil {
		return nil, fmt.Errorf("pattern %s has unreadable max amount %q: %w", pattern.ID, maxAmount, common.ErrCorruptState)
	}
	if pattern.ExpectedAvgAmount, err = decimal.NewFromString(avgAmount); err != nil {
		return nil, fmt.Errorf("pattern %s has unreadable avg amount %q: %w", pattern.ID, avgAmount, common.ErrCorruptState)
	}

	pattern.LastActualDate = model.DateOnly(pattern.LastActualDate)
	pattern.NextExpectedDate = model.DateOnly(pattern.NextExpectedDate)

	if err := pattern.Validate(); err != nil {
		return nil, fmt.Errorf("stored pattern %s is invalid (%v): %w", pattern.ID, err, common.ErrCorruptState)
	}

	return &pattern, nil
}

// scanPatterns reads all remaining rows of a pattern query.
func scanPatterns(rows *sql.Rows) ([]model.PatternState, error) {
	var patterns []model.PatternState
	for rows.Next() {
		pattern, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, *pattern)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}

	return patterns, nil
}
