package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"duebook/internal/common"
	"duebook/internal/model"
	"duebook/internal/service"
)

// GetOpenObligation returns the single open obligation for a pattern, or
// ErrNoOpenWindow when the pattern has none.
func (s *SQLiteStorage) GetOpenObligation(ctx context.Context, patternID string) (*model.Obligation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(patternID, "patternID"); err != nil {
		return nil, err
	}
	return s.getOpenObligationTx(ctx, s.db, patternID)
}

func (s *SQLiteStorage) getOpenObligationTx(ctx context.Context, q queryable, patternID string) (*model.Obligation, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, pattern_id, status, expected_date,
		       expected_min_amount, expected_max_amount,
		       tolerance_days, days_early, fulfilled_by, resolved_at, created_at
		FROM obligations
		WHERE pattern_id = ? AND status = 'EXPECTED'
	`, patternID)

	obligation, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pattern %s: %w", patternID, common.ErrNoOpenWindow)
	}
	if err != nil {
		return nil, err
	}
	return obligation, nil
}

// ListObligations returns a pattern's full obligation history, oldest first.
func (s *SQLiteStorage) ListObligations(ctx context.Context, patternID string) ([]model.Obligation, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(patternID, "patternID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pattern_id, status, expected_date,
		       expected_min_amount, expected_max_amount,
		       tolerance_days, days_early, fulfilled_by, resolved_at, created_at
		FROM obligations
		WHERE pattern_id = ?
		ORDER BY expected_date ASC, created_at ASC
	`, patternID)
	if err != nil {
		return nil, fmt.Errorf("failed to query obligations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close rows", "error", closeErr)
		}
	}()

	var obligations []model.Obligation
	for rows.Next() {
		obligation, scanErr := scanObligation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		obligations = append(obligations, *obligation)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating obligations: %w", err)
	}

	slog.Debug("retrieved obligations", "pattern", patternID, "count", len(obligations))
	return obligations, nil
}

// ListOverdue returns every open obligation whose window had fully closed as
// of the given day, paired with its pattern, oldest window first. Reads run
// in one transaction so the pairs are a consistent snapshot.
func (s *SQLiteStorage) ListOverdue(ctx context.Context, asOf time.Time) ([]service.Overdue, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, pattern_id, status, expected_date,
		       expected_min_amount, expected_max_amount,
		       tolerance_days, days_early, fulfilled_by, resolved_at, created_at
		FROM obligations
		WHERE status = 'EXPECTED'
		  AND julianday(?) - julianday(expected_date) > tolerance_days
		ORDER BY expected_date ASC, pattern_id ASC
	`, model.DateOnly(asOf))
	if err != nil {
		return nil, fmt.Errorf("failed to query overdue obligations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var expired []model.Obligation
	for rows.Next() {
		obligation, scanErr := scanObligation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		expired = append(expired, *obligation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overdue obligations: %w", err)
	}

	overdue := make([]service.Overdue, 0, len(expired))
	for _, obligation := range expired {
		pattern, patternErr := s.getPatternTx(ctx, tx, obligation.PatternID)
		if patternErr != nil {
			return nil, fmt.Errorf("overdue obligation %s: %w", obligation.ID, patternErr)
		}
		overdue = append(overdue, service.Overdue{
			Obligation: obligation,
			Pattern:    *pattern,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit overdue read: %w", err)
	}

	slog.Debug("scanned for overdue obligations", "as_of", model.DateOnly(asOf), "count", len(overdue))
	return overdue, nil
}

// ApplyTransition atomically writes everything one obligation resolution
// touches: the pattern update, the terminal status of the open obligation,
// the successor obligation, and optionally the event link. The pattern
// update is guarded by the version the caller loaded; a concurrent writer
// surfaces as ErrStaleVersion so the caller can reload and replay.
func (s *SQLiteStorage) ApplyTransition(ctx context.Context, transition service.Transition) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(transition.Pattern); err != nil {
		return err
	}
	if err := validateString(transition.Resolution.ObligationID, "resolution obligation id"); err != nil {
		return err
	}
	if transition.Resolution.Status.Open() || !transition.Resolution.Status.Valid() {
		return fmt.Errorf("resolution status must be terminal, got %q", transition.Resolution.Status)
	}
	if transition.Resolution.Status == model.ObligationFulfilled && transition.Resolution.FulfilledBy == nil {
		return fmt.Errorf("fulfilled resolution must reference an event")
	}
	if transition.Next != nil {
		if err := validateObligation(transition.Next); err != nil {
			return err
		}
		if transition.Next.PatternID != transition.Pattern.ID {
			return fmt.Errorf("successor obligation %s belongs to pattern %s, not %s",
				transition.Next.ID, transition.Next.PatternID, transition.Pattern.ID)
		}
	}
	if transition.LinkEventID != nil {
		if err := validateString(*transition.LinkEventID, "link event id"); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.updatePatternGuardedTx(ctx, tx, transition.Pattern); err != nil {
		return err
	}

	resolution := transition.Resolution
	result, err := tx.ExecContext(ctx, `
		UPDATE obligations
		SET status = ?, resolved_at = ?, fulfilled_by = ?, days_early = ?
		WHERE id = ? AND status = 'EXPECTED'
	`,
		string(resolution.Status),
		resolution.ResolvedAt,
		nullString(resolution.FulfilledBy),
		resolution.DaysEarly,
		resolution.ObligationID,
	)
	if err != nil {
		return wrapExecErr(err, "failed to resolve obligation")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("obligation %s is no longer open: %w", resolution.ObligationID, common.ErrStaleVersion)
	}

	if transition.Next != nil {
		if err := insertObligationTx(ctx, tx, transition.Next); err != nil {
			return err
		}
	}

	if transition.LinkEventID != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_links (event_id, pattern_id, obligation_id) VALUES (?, ?, ?)
		`, *transition.LinkEventID, transition.Pattern.ID, resolution.ObligationID)
		if err != nil {
			return wrapExecErr(err, fmt.Sprintf("failed to link event %s", *transition.LinkEventID))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transition: %w", err)
	}

	slog.Info("applied transition",
		"pattern", transition.Pattern.ID,
		"obligation", resolution.ObligationID,
		"resolution", string(resolution.Status),
		"pattern_status", string(transition.Pattern.Status))

	return nil
}

// CancelPattern marks a pattern broken and cancels its open obligation, if
// any. History rows are untouched.
func (s *SQLiteStorage) CancelPattern(ctx context.Context, patternID string, at time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(patternID, "patternID"); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE patterns
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ?
	`, string(model.StatusBroken), at, patternID)
	if err != nil {
		return wrapExecErr(err, "failed to cancel pattern")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pattern %s: %w", patternID, common.ErrNotFound)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE obligations
		SET status = ?, resolved_at = ?
		WHERE pattern_id = ? AND status = 'EXPECTED'
	`, string(model.ObligationCancelled), at, patternID)
	if err != nil {
		return wrapExecErr(err, "failed to cancel open obligation")
	}
	cancelled, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	slog.Info("cancelled pattern", "id", patternID, "open_obligations_cancelled", cancelled)
	return nil
}

// updatePatternGuardedTx writes the full pattern row if and only if the
// stored version still matches the one the caller loaded.
func (s *SQLiteStorage) updatePatternGuardedTx(ctx context.Context, tx *sql.Tx, pattern *model.PatternState) error {
	var interval sql.NullInt64
	if pattern.IntervalDays != nil {
		interval = sql.NullInt64{Int64: int64(*pattern.IntervalDays), Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE patterns
		SET display_name = ?, explanation = ?, pattern_case = ?, amount_behavior = ?,
		    status = ?, interval_days = ?,
		    min_amount = ?, max_amount = ?, avg_amount = ?,
		    base_confidence = ?, confidence_multiplier = ?,
		    current_streak = ?, missed_count = ?,
		    last_actual = ?, next_expected = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
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
		pattern.UpdatedAt,
		pattern.ID,
		pattern.Version,
	)
	if err != nil {
		return wrapExecErr(err, "failed to update pattern")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Distinguish a vanished pattern from a concurrent writer.
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM patterns WHERE id = ?`, pattern.ID).Scan(&count); err != nil {
		return fmt.Errorf("failed to check pattern existence: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("pattern %s: %w", pattern.ID, common.ErrNotFound)
	}
	return fmt.Errorf("pattern %s version %d: %w", pattern.ID, pattern.Version, common.ErrStaleVersion)
}

// insertObligationTx writes one obligation row. The partial unique index on
// open obligations turns a second EXPECTED row for the same pattern into
// ErrDuplicateEntry.
func insertObligationTx(ctx context.Context, tx *sql.Tx, obligation *model.Obligation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO obligations (
			id, pattern_id, status, expected_date,
			expected_min_amount, expected_max_amount,
			tolerance_days, days_early, fulfilled_by, resolved_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		obligation.ID,
		obligation.PatternID,
		string(obligation.Status),
		obligation.ExpectedDate,
		obligation.ExpectedMinAmount.String(),
		obligation.ExpectedMaxAmount.String(),
		obligation.ToleranceDays,
		obligation.DaysEarly,
		nullString(obligation.FulfilledBy),
		nullTime(obligation.ResolvedAt),
		obligation.CreatedAt,
	)
	return wrapExecErr(err, "failed to insert obligation")
}

// scanObligation reads one obligation row and validates it.
func scanObligation(row rowScanner) (*model.Obligation, error) {
	var obligation model.Obligation
	var status string
	var minAmount, maxAmount string
	var fulfilledBy sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(
		&obligation.ID,
		&obligation.PatternID,
		&status,
		&obligation.ExpectedDate,
		&minAmount,
		&maxAmount,
		&obligation.ToleranceDays,
		&obligation.DaysEarly,
		&fulfilledBy,
		&resolvedAt,
		&obligation.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan obligation: %w", err)
	}

	obligation.Status = model.ObligationStatus(status)
	if fulfilledBy.Valid {
		obligation.FulfilledBy = &fulfilledBy.String
	}
	if resolvedAt.Valid {
		obligation.ResolvedAt = &resolvedAt.Time
	}

	var err error
	if obligation.ExpectedMinAmount, err = decimal.NewFromString(minAmount); err != nil {
		return nil, fmt.Errorf("obligation %s has unreadable min amount %q: %w", obligation.ID, minAmount, common.ErrCorruptState)
	}
	if obligation.ExpectedMaxAmount, err = decimal.NewFromString(maxAmount); err != nil {
		return nil, fmt.Errorf("obligation %s has unreadable max amount %q: %w", obligation.ID, maxAmount, common.ErrCorruptState)
	}

	obligation.ExpectedDate = model.DateOnly(obligation.ExpectedDate)

	if err := obligation.Validate(); err != nil {
		return nil, fmt.Errorf("stored obligation %s is invalid (%v): %w", obligation.ID, err, common.ErrCorruptState)
	}

	return &obligation, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
