package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/playsem-core/internal/infrastructure/config"
)

func newConfigCommand(configFlag *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigCheckCommand(configFlag))
	return configCmd
}

// newConfigCheckCommand loads the file with environment overrides applied
// and reports the first problem, or a short summary when it is valid.
func newConfigCheckCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(*configFlag)
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("config %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			fmt.Fprintf(out, "Instance: %s\n", cfg.Instance.ID)
			fmt.Fprintf(out, "Seed devices: %d, groups: %d\n", len(cfg.Devices.Seed), len(cfg.Groups))
			fmt.Fprintf(out, "MQTT: %s, InfluxDB: %s, JWT: %s\n",
				enabled(cfg.MQTT.Enabled), enabled(cfg.InfluxDB.Enabled), enabled(cfg.Security.JWT.Enabled))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}

func enabled(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
