package main

import (
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"duebook/internal/model"
)

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discover recurring patterns in unlinked events",
		Long: `Analyze unlinked events for recurring obligations.

With --all, every group that still has unlinked events is analyzed.
Otherwise, --counterparty, --direction and --currency select a single
group. Newly seeded patterns immediately start expecting their next
occurrence.`,
		RunE: runDiscover,
	}

	cmd.Flags().Bool("all", false, "analyze every group with unlinked events")
	cmd.Flags().String("counterparty", "", "counterparty of the group to analyze")
	cmd.Flags().String("direction", "", "direction of the group (DEBIT or CREDIT)")
	cmd.Flags().String("currency", "", "currency of the group to analyze")

	return cmd
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	all, _ := cmd.Flags().GetBool("all")
	counterparty, _ := cmd.Flags().GetString("counterparty")

	if !all && counterparty == "" {
		return fmt.Errorf("either --all or --counterparty/--direction/--currency is required")
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	eng := initEngine(store)

	if !all {
		rawDirection, _ := cmd.Flags().GetString("direction")
		direction, err := parseDirection(rawDirection)
		if err != nil {
			return err
		}
		currency, _ := cmd.Flags().GetString("currency")

		key := model.GroupKey{Counterparty: counterparty, Direction: direction, Currency: currency}
		patterns, err := eng.DiscoverGroup(ctx, key)
		if err != nil {
			return fmt.Errorf("discovery failed for %s: %w", key, err)
		}
		printSeeded(patterns)
		return nil
	}

	groups, err := store.ListGroupsWithUnlinkedEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to list groups: %w", err)
	}
	if len(groups) == 0 {
		fmt.Println(infoStyle.Render("No groups with unlinked events.")) //nolint:forbidigo // User-facing output
		return nil
	}

	bar := progressbar.NewOptions(len(groups),
		progressbar.OptionSetDescription("Discovering patterns"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var seeded []model.PatternState
	var failed int
	for _, key := range groups {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		patterns, err := eng.DiscoverGroup(ctx, key)
		if err != nil {
			// One bad group must not sink the run.
			slog.Warn("discovery failed for group", "group", key.String(), "error", err)
			failed++
		} else {
			seeded = append(seeded, patterns...)
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	printSeeded(seeded)
	if failed > 0 {
		fmt.Println(warningStyle.Render(fmt.Sprintf("%d group(s) failed, see logs.", failed))) //nolint:forbidigo // User-facing output
	}

	return nil
}

func printSeeded(patterns []model.PatternState) {
	if len(patterns) == 0 {
		fmt.Println(infoStyle.Render("No new patterns discovered.")) //nolint:forbidigo // User-facing output
		return
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("Discovered %d new pattern(s):", len(patterns)))) //nolint:forbidigo // User-facing output
	for i := range patterns {
		p := &patterns[i]
		fmt.Printf("  %s  %s  %s  next due %s (confidence %.2f)\n", //nolint:forbidigo // User-facing output
			subtleStyle.Render(p.ID),
			p.DisplayName,
			p.PatternCase,
			p.NextExpectedDate.Format("2006-01-02"),
			p.EffectiveConfidence())
	}
}
