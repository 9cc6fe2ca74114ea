package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close overdue windows as misses",
		Long: `Find every open obligation whose window has fully closed and record
it as a miss. Patterns that keep missing are paused and eventually
marked broken.`,
		RunE: runSweep,
	}

	cmd.Flags().String("as-of", "", "sweep as of this date instead of today (2006-01-02)")

	return cmd
}

func runSweep(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	asOf := time.Now()
	if raw, _ := cmd.Flags().GetString("as-of"); raw != "" {
		parsed, err := parseDay(raw)
		if err != nil {
			return err
		}
		asOf = parsed
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	eng := initEngine(store)

	missed, err := eng.SweepOverdue(ctx, asOf)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	if missed == 0 {
		fmt.Println(infoStyle.Render("Nothing overdue.")) //nolint:forbidigo // User-facing output
		return nil
	}
	fmt.Println(warningStyle.Render(fmt.Sprintf("Recorded %d miss(es).", missed))) //nolint:forbidigo // User-facing output

	return nil
}
