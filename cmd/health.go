package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tether-cli/internal/observability"
)

// newHealthCmd creates the `health` command. It assembles the pipeline and
// prints the system health summary: run counters, approval rate and the
// reliability records of the built-in tools.
func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Prints the system health summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			components, err := buildPipeline(cmd.Context(), cfg, observability.GetLogger(), true)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return err
			}
			defer components.Shutdown()

			return printJSON(cmd.OutOrStdout(), components.Orchestrator.Health())
		},
	}
}
