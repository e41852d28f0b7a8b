package cmd

import (
	"fmt"
	"log/slog"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// CheckCmd runs the unit tests and, unless skipped, the linters. The bus
// logic is exercised entirely against the simulated peripheral, so no
// hardware is needed.
func CheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "check",
		Aliases: []string{"test"},
		Short:   "Run tests and linters",
		RunE: func(cmd *cobra.Command, args []string) error {
			skipLint, err := cmd.Flags().GetBool("skip-lint")
			if err != nil {
				return fmt.Errorf("could not get skip-lint flag: %w", err)
			}
			slog.Info("running tests")
			if err := test.Test(); err != nil {
				return fmt.Errorf("failed to run tests: %w", err)
			}
			if skipLint {
				return nil
			}
			slog.Info("running linters")
			if err := test.Lint(); err != nil {
				return fmt.Errorf("failed to run linting: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().Bool("skip-lint", false, "run tests only")
	return cmd
}
