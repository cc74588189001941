package report

import (
	"fmt"

	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/window"

	"github.com/spf13/cobra"
)

func RunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [site-id]",
		Short: "Run a report now",
		Long: `Run a report for one site, or for every configured site when no
site id is given.

The window defaults to the trailing period from settings.yaml. Use
--days for a different trailing window, or --start/--end for an
explicit date range.

Examples:
  sitewatch report run
  sitewatch report run acme-seoul
  sitewatch report run acme-seoul --days 30
  sitewatch report run --start 20260801 --end 20260831`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runRun,
		SilenceUsage: true,
	}

	cmd.Flags().Int("days", 0, "Trailing window length in days")
	cmd.Flags().String("start", "", "Window start day (YYYYMMDD, inclusive)")
	cmd.Flags().String("end", "", "Window end day (YYYYMMDD, inclusive)")
	cmd.Flags().String("config-dir", "", "Configuration directory")
	cmd.Flags().String("output-dir", "", "Report output directory")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	return execute(cmd, args, "report run", func(cfg *config.Config) (window.Request, error) {
		return windowRequest(cmd, cfg)
	})
}

// windowRequest picks the window mode from the flags. An explicit
// range wins over --days; a lone --start or --end is an error rather
// than a silent half-open range.
func windowRequest(cmd *cobra.Command, cfg *config.Config) (window.Request, error) {
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	days, _ := cmd.Flags().GetInt("days")

	if start != "" || end != "" {
		if start == "" || end == "" {
			return window.Request{}, fmt.Errorf("--start and --end must be given together")
		}
		if days > 0 {
			return window.Request{}, fmt.Errorf("--days cannot be combined with --start/--end")
		}
		return window.Range(start, end), nil
	}

	if days > 0 {
		return window.Recent(days), nil
	}
	return window.Recent(cfg.Settings.RecentDays), nil
}
