// Package cmd defines the CLI commands for the satview executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/satview/internal/config"
)

// newRootCmd creates the root command. Running it without a subcommand
// behaves like "serve".
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "satview",
		Short: "Serves a periodically refreshed NASA GIBS satellite image.",
		Long: `satview fetches a true-color satellite snapshot of a fixed bounding box
from the NASA GIBS WMS endpoint every few hours, keeps the latest good copy
in memory and serves it over HTTP together with a static frontend.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfgFile)
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); SATVIEW_* env vars override it")

	cmd.AddCommand(newServeCmd(&cfgFile))
	cmd.AddCommand(newFetchCmd(&cfgFile))
	return cmd
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
