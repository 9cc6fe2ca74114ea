package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Initial events schema",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					hash TEXT UNIQUE NOT NULL,
					date DATETIME NOT NULL,
					amount TEXT NOT NULL,
					counterparty TEXT NOT NULL,
					direction TEXT NOT NULL CHECK (direction IN ('DEBIT', 'CREDIT')),
					currency TEXT NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_events_date ON events(date)`,
				`CREATE INDEX idx_events_group ON events(counterparty, direction, currency)`,
				`CREATE INDEX idx_events_hash ON events(hash)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     2,
		Description: "Patterns, obligations, and event links",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`CREATE TABLE IF NOT EXISTS patterns (
					id TEXT PRIMARY KEY,
					counterparty TEXT NOT NULL,
					direction TEXT NOT NULL CHECK (direction IN ('DEBIT', 'CREDIT')),
					currency TEXT NOT NULL,
					display_name TEXT NOT NULL,
					explanation TEXT NOT NULL DEFAULT '',
					pattern_case TEXT NOT NULL,
					amount_behavior TEXT NOT NULL,
					status TEXT NOT NULL,
					interval_days INTEGER,
					min_amount TEXT NOT NULL,
					max_amount TEXT NOT NULL,
					avg_amount TEXT NOT NULL,
					base_confidence REAL NOT NULL,
					confidence_multiplier REAL NOT NULL,
					current_streak INTEGER NOT NULL DEFAULT 0,
					missed_count INTEGER NOT NULL DEFAULT 0,
					last_actual DATETIME NOT NULL,
					next_expected DATETIME NOT NULL,
					version INTEGER NOT NULL DEFAULT 1,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_patterns_group ON patterns(counterparty, direction, currency)`,
				`CREATE INDEX idx_patterns_status ON patterns(status)`,

				`CREATE TABLE IF NOT EXISTS obligations (
					id TEXT PRIMARY KEY,
					pattern_id TEXT NOT NULL REFERENCES patterns(id),
					status TEXT NOT NULL,
					expected_date DATETIME NOT NULL,
					expected_min_amount TEXT NOT NULL,
					expected_max_amount TEXT NOT NULL,
					tolerance_days INTEGER NOT NULL,
					days_early INTEGER NOT NULL DEFAULT 0,
					fulfilled_by TEXT,
					resolved_at DATETIME,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_obligations_pattern ON obligations(pattern_id)`,
				`CREATE INDEX idx_obligations_status ON obligations(status)`,
				// At most one open obligation per pattern, enforced by the
				// database rather than trusted to callers.
				`CREATE UNIQUE INDEX idx_obligations_open ON obligations(pattern_id) WHERE status = 'EXPECTED'`,

				`CREATE TABLE IF NOT EXISTS event_links (
					event_id TEXT PRIMARY KEY REFERENCES events(id),
					pattern_id TEXT NOT NULL REFERENCES patterns(id),
					obligation_id TEXT REFERENCES obligations(id),
					linked_at DATETIME DEFAULT CURRENT_TIMESTAMP
				)`,
				`CREATE INDEX idx_event_links_pattern ON event_links(pattern_id)`,
			}

			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
	{
		Version:     3,
		Description: "Drop events hash index made redundant by the unique constraint",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`DROP INDEX IF EXISTS idx_events_hash`); err != nil {
				return fmt.Errorf("failed to execute query: %w", err)
			}
			return nil
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	// Get current version
	var currentVersion int
	err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	// Apply migrations
	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		// Update version
		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	// Verify we're at the expected schema version
	var finalVersion int
	err = s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
