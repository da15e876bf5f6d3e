package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/inkwell/internal/config"
	"github.com/jackzampolin/inkwell/internal/output"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the inkwell configuration",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file to the inkwell home",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		if err := s.Home.EnsureExists(); err != nil {
			return err
		}
		path := s.Home.ConfigPath()
		if s.Home.ConfigExists() && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file and INKWELL_*
environment overrides are applied. ${VAR} references are shown unresolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return output.Print(services(cmd).Config.Get())
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and referenced environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := services(cmd)
		if err := s.Config.Get().Validate(); err != nil {
			return err
		}
		path := s.Config.Path()
		if path == "" {
			path = "(defaults)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), "config ok:", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configCheckCmd)
}
