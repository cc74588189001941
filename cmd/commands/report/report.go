package report

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/pipeline"
	sitereport "github.com/insightops/sitewatch/internal/report"
	"github.com/insightops/sitewatch/internal/runlog"
	"github.com/insightops/sitewatch/internal/window"

	"github.com/spf13/cobra"
)

// NewCommand returns the "report" parent command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate metric reports for customer sites",
		Long: "Generate metric reports for one site or all configured sites.\n\n" +
			"Reports are written as JSON files under the output directory, one\n" +
			"per site, alongside a plain-text run summary.",
		SilenceUsage: true,
	}

	cmd.AddCommand(RunCommand())
	cmd.AddCommand(ScheduledCommand())

	return cmd
}

// execute drives one full report run. Both the interactive run command
// and the scheduled variant funnel through here; they differ only in
// flags and in the command name stamped on the run history record.
// reqFor builds the window request once settings are available.
func execute(cmd *cobra.Command, args []string, command string, reqFor func(*config.Config) (window.Request, error)) error {
	started := time.Now()

	dir, _ := cmd.Flags().GetString("config-dir")
	if dir == "" {
		dir = config.DefaultDir()
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Settings.LogLevel)

	req, err := reqFor(cfg)
	if err != nil {
		return err
	}

	resolver := window.Resolver{MaxLength: cfg.Settings.MaxWindow()}
	w, err := resolver.Resolve(req)
	if err != nil {
		return err
	}

	runner, err := pipeline.New(cfg, credentials.DefaultStore(), logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Settings.RunTimeout())
	defer cancel()

	var (
		siteID  string
		results []domain.SiteResult
	)
	if len(args) == 1 {
		siteID = args[0]
		result, err := runner.RunSite(ctx, siteID, w)
		if err != nil {
			return err
		}
		results = []domain.SiteResult{*result}
	} else {
		results, err = runner.RunAll(ctx, w)
		if err != nil {
			return err
		}
	}

	outDir, _ := cmd.Flags().GetString("output-dir")
	if outDir == "" {
		outDir = cfg.Settings.OutputDir
	}
	writer := &sitereport.Writer{OutputDir: outDir}
	paths, err := writer.Write(results)
	if err != nil {
		return err
	}

	reported, failed, partial := tally(results)
	recordRun(logger, runlog.Record{
		Command:         command,
		SiteID:          siteID,
		WindowStart:     w.Start,
		WindowEnd:       w.End,
		SitesReported:   reported,
		SitesFailed:     failed,
		PartialFailures: partial,
		Outcome:         outcome(reported, failed, partial),
		DurationMs:      time.Since(started).Milliseconds(),
	})

	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reported %d/%d site(s), %d partial failure(s).\n",
		reported, len(results), partial)

	if reported == 0 {
		return fmt.Errorf("no site produced a report")
	}
	return nil
}

func tally(results []domain.SiteResult) (reported, failed, partial int) {
	for _, result := range results {
		if result.Report.Succeeded() {
			reported++
		} else {
			failed++
		}
		partial += len(result.Report.Failures)
	}
	return reported, failed, partial
}

func outcome(reported, failed, partial int) string {
	switch {
	case failed == 0 && partial == 0:
		return runlog.OutcomeSuccess
	case reported > 0:
		return runlog.OutcomePartial
	default:
		return runlog.OutcomeFailed
	}
}

// recordRun appends the run to the local history. History is
// best-effort; a failure here must not fail the report run.
func recordRun(logger *slog.Logger, record runlog.Record) {
	repo, err := runlog.Open()
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		return
	}
	defer repo.Close()

	if err := repo.Save(&record); err != nil {
		logger.Warn("failed to record run history", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
