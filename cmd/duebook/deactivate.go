package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func deactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <pattern-id>",
		Short: "Deactivate a pattern by hand",
		Long: `Mark a pattern broken and cancel its open expectation. The pattern's
history stays intact; a later matching event can still revive it.`,
		Args: cobra.ExactArgs(1),
		RunE: runDeactivate,
	}
}

func runDeactivate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStorage(store)

	eng := initEngine(store)

	if err := eng.CancelPattern(ctx, args[0]); err != nil {
		return err
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("Pattern %s deactivated.", args[0]))) //nolint:forbidigo // User-facing output

	return nil
}
