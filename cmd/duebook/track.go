package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"duebook/internal/common"
)

func trackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "track [files...]",
		Short: "Track events against live patterns",
		Long: `Offer events to the live patterns of their groups.

Given files, their events are imported first and then tracked in date
order. With --replay, every already-stored unlinked event is offered
instead. Events no pattern takes stay unlinked and feed the next
discovery run.`,
		RunE: runTrack,
	}

	cmd.Flags().Bool("replay", false, "track stored unlinked events instead of files")

	return cmd
}

func runTrack(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	replay, _ := cmd.Flags().GetBool("replay")

	if replay && len(args) > 0 {
		return fmt.Errorf("--replay takes no files")
	}
	if !replay && len(args) == 0 {
		return fmt.Errorf("requires at least one file, or --replay")
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	eng := initEngine(store)

	if replay {
		summary, err := eng.TrackUnlinked(ctx)
		if err != nil {
			return fmt.Errorf("replay failed: %w", err)
		}
		fmt.Println(successStyle.Render(fmt.Sprintf( //nolint:forbidigo // User-facing output
			"Offered %d event(s): %d fulfilled, %d misses applied, %d unmatched, %d backfilled.",
			summary.Offered, summary.Fulfilled, summary.Misses, summary.Unmatched, summary.Backfilled)))
		return nil
	}

	events, err := loadEventFiles(ctx, args)
	if err != nil {
		return err
	}

	inserted, err := store.SaveEvents(ctx, events)
	if err != nil {
		return fmt.Errorf("failed to save events: %w", err)
	}
	slog.Info("Events stored for tracking", "parsed", len(events), "inserted", inserted)

	var fulfilled, unmatched, backfilled, misses int
	for i := range events {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := eng.TrackEvent(ctx, &events[i])
		if err != nil {
			if errors.Is(err, common.ErrBackfilledEvent) {
				backfilled++
				continue
			}
			return fmt.Errorf("tracking failed for event %s: %w", events[i].ID, err)
		}

		misses += result.MissesApplied
		switch {
		case result.AlreadyLinked:
			// Counted as neither; the event was settled in a previous run.
		case result.Matched:
			fulfilled++
		default:
			unmatched++
		}
	}

	fmt.Println(successStyle.Render(fmt.Sprintf( //nolint:forbidigo // User-facing output
		"Tracked %d event(s): %d fulfilled, %d misses applied, %d unmatched, %d backfilled.",
		len(events), fulfilled, misses, unmatched, backfilled)))

	return nil
}
