package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and report every
validation error.

Examples:
  # Validate the default config
  ganymede validate

  # Validate a specific file
  ganymede validate --config /etc/ganymede/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		fmt.Printf("%s: configuration is valid (storage=%s, metrics=%v)\n",
			cfgFile, cfg.Storage.Backend, cfg.Telemetry.MetricsEnabled)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
