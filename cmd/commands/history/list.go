package history

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/insightops/sitewatch/internal/runlog"

	"github.com/spf13/cobra"
)

func ListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent report runs",
		Long: `List recent report runs stored locally.

Examples:
  sitewatch history list
  sitewatch history list --limit 50
  sitewatch history list --site acme-seoul
  sitewatch history list -o json`,
		RunE:         runList,
		SilenceUsage: true,
	}

	cmd.Flags().Int("limit", 25, "Number of entries to display")
	cmd.Flags().String("site", "", "Filter by site id")
	cmd.Flags().StringP("output", "o", "table", "Output format: table or json")

	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}

	site, _ := cmd.Flags().GetString("site")
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		output = "table"
	}

	repo, err := runlog.Open()
	if err != nil {
		return err
	}
	defer repo.Close()

	var records []runlog.Record
	if site != "" {
		records, err = repo.ListBySite(site, limit)
	} else {
		records, err = repo.List(limit)
	}
	if err != nil {
		return err
	}

	if output == "json" {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(records)
	}
	if output != "table" {
		return fmt.Errorf("unsupported output format %q", output)
	}

	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No run history found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCOMMAND\tSITE\tWINDOW\tREPORTED\tFAILED\tPARTIAL\tOUTCOME\tDURATION")
	fmt.Fprintln(w, "----\t-------\t----\t------\t--------\t------\t-------\t-------\t--------")
	for _, record := range records {
		site := record.SiteID
		if site == "" {
			site = "all"
		}
		windowStr := record.WindowStart.Local().Format("2006-01-02") + ".." +
			record.WindowEnd.Local().Format("2006-01-02")

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			record.Timestamp.Local().Format("2006-01-02 15:04:05"),
			record.Command,
			site,
			windowStr,
			record.SitesReported,
			record.SitesFailed,
			record.PartialFailures,
			record.Outcome,
			formatDuration(record.DurationMs),
		)
	}
	w.Flush()
	return nil
}

func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	d := time.Duration(ms) * time.Millisecond
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}
