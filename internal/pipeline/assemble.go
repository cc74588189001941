package pipeline

import "github.com/insightops/sitewatch/internal/domain"

// assemble reduces the per-unit outcomes into the site's report. The
// reduction happens after all workers have joined, in unit order, so
// the output is deterministic regardless of completion order:
// summaries follow server order, breaches, outliers, and failures
// follow server then metric order.
func assemble(report domain.SiteReport, servers []domain.Server, metrics []domain.MetricDefinition, units []unit, outcomes []unitOutcome) domain.SiteResult {
	byServer := make(map[string]*domain.ServerSummary, len(servers))
	var series []*domain.MetricSeries

	for i, u := range units {
		outcome := outcomes[i]

		summary, ok := byServer[u.server.ID]
		if !ok {
			summary = &domain.ServerSummary{
				Server:  u.server,
				Metrics: make(map[string]domain.SummaryStats, len(metrics)),
			}
			byServer[u.server.ID] = summary
		}

		for _, def := range u.defs {
			if stats, ok := outcome.stats[def.Key]; ok {
				summary.Metrics[def.Key] = stats
			}
			report.Breaches = append(report.Breaches, outcome.breaches[def.Key]...)
		}

		series = append(series, outcome.series...)
		report.Outliers = append(report.Outliers, outcome.outliers...)
		report.Failures = append(report.Failures, outcome.failures...)
	}

	// A server whose every unit failed contributes no summary; its
	// absence is explained by the failure entries.
	for _, server := range servers {
		summary, ok := byServer[server.ID]
		if !ok || len(summary.Metrics) == 0 {
			continue
		}
		report.Summaries = append(report.Summaries, *summary)
	}

	return domain.SiteResult{Report: report, Series: series}
}
