package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tether-cli/internal/constraint"
)

// newValidateCmd creates the `validate` command: constraint validation only,
// without touching simulation, approval or execution.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Checks a plan file against the configured constraints",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			plan, err := loadPlan(args[0])
			if err != nil {
				return err
			}

			validator := constraint.New(constraint.FromConfig(cfg.Constraints))
			result := validator.Validate(*plan)

			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("plan %s violates %d hard constraint(s)", plan.ID, len(result.HardViolations()))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nPlan %s satisfies all hard constraints.\n", plan.ID)
			return nil
		},
	}
}
