package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <files...>",
		Short: "Import transaction events from CSV files",
		Long: `Parse one or more CSV exports and store their events.

Events are deduplicated on a content hash, so importing the same
file twice is safe. Imported events stay unlinked until a discovery
or tracking run claims them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runImport,
	}

	cmd.Flags().Bool("dry-run", false, "parse and report without writing anything")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	events, err := loadEventFiles(ctx, args)
	if err != nil {
		return err
	}

	if dryRun {
		fmt.Println(infoStyle.Render(fmt.Sprintf("Dry run: %d events parsed from %d file(s), nothing written.", len(events), len(args)))) //nolint:forbidigo // User-facing output
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	inserted, err := store.SaveEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to save events: %w", err)
	}

	duplicates := len(events) - inserted
	slog.Info("Import complete",
		"files", len(args),
		"parsed", len(events),
		"inserted", inserted,
		"duplicates", duplicates)

	fmt.Println(successStyle.Render(fmt.Sprintf("Imported %d new event(s), skipped %d duplicate(s).", inserted, duplicates))) //nolint:forbidigo // User-facing output

	return nil
}
