package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/spf13/viper"

	"duebook/internal/config"
	"duebook/internal/engine"
	"duebook/internal/ingest"
	"duebook/internal/model"
	"duebook/internal/service"
	"duebook/internal/storage"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/duebook/duebook.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initEngine wires an engine over the storage, with discovery tuning read
// from config where overridden.
func initEngine(store service.Storage) *engine.Engine {
	cfg := engine.DefaultConfig()
	if workers := viper.GetInt("engine.workers"); workers > 0 {
		cfg.ParallelWorkers = workers
	}
	if minSize := viper.GetInt("discovery.min_cluster_size"); minSize > 0 {
		cfg.Discovery.MinClusterSize = minSize
	}
	return engine.NewWithConfig(store, nil, cfg)
}

// closeStorage closes the store, logging rather than failing on error.
func closeStorage(store service.Storage) {
	if err := store.Close(); err != nil {
		slog.Error("failed to close storage", "error", err)
	}
}

// loadEventFiles parses every given CSV file and returns all events sorted
// date-ascending.
func loadEventFiles(ctx context.Context, paths []string) ([]model.Event, error) {
	loader := ingest.NewLoader()

	var events []model.Event
	for _, path := range paths {
		file, err := os.Open(config.ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}

		parsed, err := loader.ParseFile(ctx, file)
		_ = file.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		events = append(events, parsed...)
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].ID < events[j].ID
	})

	return events, nil
}

// parseDay parses a 2006-01-02 date flag.
func parseDay(raw string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected 2006-01-02)", raw)
	}
	return model.DateOnly(t), nil
}

// parseDirection parses a direction flag value.
func parseDirection(raw string) (model.Direction, error) {
	direction := model.Direction(raw)
	if !direction.Valid() {
		return "", fmt.Errorf("invalid direction %q (expected DEBIT or CREDIT)", raw)
	}
	return direction, nil
}
