package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"duebook/internal/model"
	"duebook/internal/service"
)

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Inspect tracked patterns",
	}

	cmd.AddCommand(patternsListCmd())
	cmd.AddCommand(patternsShowCmd())

	return cmd
}

func patternsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked patterns",
		RunE:  runPatternsList,
	}

	cmd.Flags().String("status", "", "filter by status (ACTIVE, PAUSED, BROKEN)")

	return cmd
}

func runPatternsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	var filter service.PatternFilter
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		status := model.PatternStatus(raw)
		if !status.Valid() {
			return fmt.Errorf("invalid status %q (expected ACTIVE, PAUSED or BROKEN)", raw)
		}
		filter.Status = &status
	}

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	patterns, err := store.ListPatterns(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list patterns: %w", err)
	}

	if len(patterns) == 0 {
		fmt.Println(infoStyle.Render("No patterns found.")) //nolint:forbidigo // User-facing output
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("ID"),
		headerStyle.Render("Name"),
		headerStyle.Render("Case"),
		headerStyle.Render("Status"),
		headerStyle.Render("Next Due"),
		headerStyle.Render("Amount"),
		headerStyle.Render("Conf"),
		headerStyle.Render("Streak"))

	for i := range patterns {
		p := &patterns[i]
		amount := p.ExpectedAvgAmount.StringFixed(2) + " " + p.Currency
		if p.AmountBehavior != model.AmountFixed {
			amount = fmt.Sprintf("%s-%s %s",
				p.ExpectedMinAmount.StringFixed(2), p.ExpectedMaxAmount.StringFixed(2), p.Currency)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.2f\t%d\n",
			p.ID,
			p.DisplayName,
			p.PatternCase,
			p.Status,
			p.NextExpectedDate.Format("2006-01-02"),
			amount,
			p.EffectiveConfidence(),
			p.CurrentStreak)
	}

	return w.Flush()
}

func patternsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <pattern-id>",
		Short: "Show one pattern and its obligation history",
		Args:  cobra.ExactArgs(1),
		RunE:  runPatternsShow,
	}
}

func runPatternsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	pattern, err := store.GetPattern(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to load pattern: %w", err)
	}

	obligations, err := store.ListObligations(ctx, pattern.ID)
	if err != nil {
		return fmt.Errorf("failed to load obligations: %w", err)
	}

	fmt.Println(titleStyle.Render(pattern.DisplayName))                                     //nolint:forbidigo // User-facing output
	fmt.Printf("  %s\n\n", subtleStyle.Render(pattern.Explanation))                         //nolint:forbidigo // User-facing output
	fmt.Printf("  Group:       %s\n", pattern.GroupKey())                                   //nolint:forbidigo // User-facing output
	fmt.Printf("  Case:        %s (%s amounts)\n", pattern.PatternCase, pattern.AmountBehavior) //nolint:forbidigo // User-facing output
	if pattern.IntervalDays != nil {
		fmt.Printf("  Interval:    every %d days\n", *pattern.IntervalDays) //nolint:forbidigo // User-facing output
	}
	fmt.Printf("  Status:      %s (streak %d, missed %d)\n", pattern.Status, pattern.CurrentStreak, pattern.MissedCount) //nolint:forbidigo // User-facing output
	fmt.Printf("  Confidence:  %.2f (base %.2f x multiplier %.2f)\n", //nolint:forbidigo // User-facing output
		pattern.EffectiveConfidence(), pattern.BaseConfidence, pattern.ConfidenceMultiplier)
	fmt.Printf("  Amount:      %s - %s %s (avg %s)\n", //nolint:forbidigo // User-facing output
		pattern.ExpectedMinAmount.StringFixed(2), pattern.ExpectedMaxAmount.StringFixed(2),
		pattern.Currency, pattern.ExpectedAvgAmount.StringFixed(2))
	fmt.Printf("  Last seen:   %s\n", pattern.LastActualDate.Format("2006-01-02"))  //nolint:forbidigo // User-facing output
	fmt.Printf("  Next due:    %s\n\n", pattern.NextExpectedDate.Format("2006-01-02")) //nolint:forbidigo // User-facing output

	if len(obligations) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
		headerStyle.Render("Expected"),
		headerStyle.Render("Status"),
		headerStyle.Render("Tolerance"),
		headerStyle.Render("Resolved"),
		headerStyle.Render("Event"))
	for i := range obligations {
		o := &obligations[i]
		resolved := "-"
		if o.ResolvedAt != nil {
			resolved = o.ResolvedAt.Format("2006-01-02")
		}
		event := "-"
		if o.FulfilledBy != nil {
			event = *o.FulfilledBy
		}
		fmt.Fprintf(w, "%s\t%s\t±%dd\t%s\t%s\n",
			o.ExpectedDate.Format("2006-01-02"),
			o.Status,
			o.ToleranceDays,
			resolved,
			event)
	}

	return w.Flush()
}
