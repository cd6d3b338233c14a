package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/erg/app"
	"github.com/kilianp07/erg/config"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and check that the solver answers",
	RunE:  check,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func check(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %d jobs, %d tariffs\n", len(cfg.Jobs), len(cfg.Tariffs))

	client := app.NewSolverClient(cfg.Solver)
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Solver.Timeout)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("solver %s: %w", cfg.Solver.URL, err)
	}
	fmt.Fprintf(out, "solver ok: %s\n", cfg.Solver.URL)
	return nil
}
