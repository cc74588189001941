package report

import (
	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/window"

	"github.com/spf13/cobra"
)

func ScheduledCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "Run the recurring report for all sites",
		Long: `Run the recurring report for every configured site using the
trailing window from settings.yaml. Intended to be invoked from cron
or a systemd timer; it takes no window flags so the schedule alone
decides what each run covers.

Example crontab entry (daily at 06:00):
  0 6 * * * sitewatch report scheduled`,
		Args:         cobra.NoArgs,
		RunE:         runScheduled,
		SilenceUsage: true,
	}

	cmd.Flags().String("config-dir", "", "Configuration directory")
	cmd.Flags().String("output-dir", "", "Report output directory")

	return cmd
}

func runScheduled(cmd *cobra.Command, args []string) error {
	return execute(cmd, nil, "report scheduled", func(cfg *config.Config) (window.Request, error) {
		return window.Recent(cfg.Settings.RecentDays), nil
	})
}
