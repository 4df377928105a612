package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ent0n29/personatwin/internal/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "personatwin",
		Short:         "Voice-driven persona assistant",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("persona", "", "persona YAML file (overrides APP_PERSONA_FILE)")
	root.AddCommand(newServeCmd(), newConverseCmd(), newSearchCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "personatwin", version)
		},
	}
}

// loadConfig reads the environment and applies persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if p, _ := cmd.Flags().GetString("persona"); p != "" {
		cfg.PersonaFile = p
	}
	return cfg, nil
}
