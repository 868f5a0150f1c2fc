package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "playsem",
		Short:         "PlaySEM Core sensory effect engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Running the binary without a subcommand starts the daemon.
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configFlag))
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default $PLAYSEM_CONFIG or "+defaultConfigPath+")")

	rootCmd.AddCommand(newServeCommand(&configFlag))
	rootCmd.AddCommand(newConfigCommand(&configFlag))
	rootCmd.AddCommand(newTokenCommand(&configFlag))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// resolveConfigPath picks the --config flag, then PLAYSEM_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("PLAYSEM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the PlaySEM Core daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(*configFlag))
		},
	}
}
