package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tether-cli/internal/config"
)

// newConfigCmd groups the configuration profile subcommands.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manages configuration profiles",
	}
	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigListCmd())
	configCmd.AddCommand(newConfigDeleteCmd())
	return configCmd
}

// builtinProfiles maps profile names to their factory.
var builtinProfiles = map[string]func() *config.Config{
	"development": config.DevelopmentProfile,
	"production":  config.ProductionProfile,
	"research":    config.ResearchProfile,
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <development|production|research>",
		Short: "Writes a built-in profile to the profile directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, ok := builtinProfiles[args[0]]
			if !ok {
				return fmt.Errorf("unknown built-in profile %q", args[0])
			}

			manager, err := config.NewProfileManager("")
			if err != nil {
				return err
			}
			if err := manager.Save(args[0], factory()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile %q written to %s\n", args[0], manager.Dir())
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Prints the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lists the stored configuration profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewProfileManager("")
			if err != nil {
				return err
			}
			names, err := manager.List()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No profiles stored.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newConfigDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Deletes a stored configuration profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := config.NewProfileManager("")
			if err != nil {
				return err
			}
			return manager.Delete(args[0])
		},
	}
}
