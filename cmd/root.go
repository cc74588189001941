package cmd

import (
	"errors"
	"os"

	"github.com/insightops/sitewatch/cmd/commands/history"
	"github.com/insightops/sitewatch/cmd/commands/report"
	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/upstream"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands.
func rootCmd() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "sitewatch",
		Short: "Collect and evaluate server metrics across customer sites",
		Long: `sitewatch pulls server metrics from cloud monitoring services for every
configured customer site, normalizes them into canonical units, checks
them against thresholds, and writes per-site report files for the
downstream reporting toolchain.

Quick start:
  sitewatch report run                  # Report on all sites, trailing window
  sitewatch report run site-a --days 30 # One site, last 30 days
  sitewatch history list                # Show recent run history`,
	}

	cmd.AddCommand(report.NewCommand())
	cmd.AddCommand(history.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
//
// Exit status: 0 when at least one site produced a report, 1 when the
// run failed outright, 2 when the configuration itself is invalid.
func Execute() {
	upstream.RegisterDefaults()

	var root = rootCmd()
	err := root.Execute()
	if err != nil {
		var cfgErr *domain.ConfigError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
