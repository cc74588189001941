// Package pipeline orchestrates a report run: sites in configuration
// order, servers and metrics within each site fanned out over a
// bounded worker pool, partial failures collected instead of
// propagated.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/insightops/sitewatch/internal/aggregate"
	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/evaluate"
	"github.com/insightops/sitewatch/internal/normalize"
	"github.com/insightops/sitewatch/internal/retry"
	"github.com/insightops/sitewatch/internal/upstream"
	"github.com/insightops/sitewatch/internal/util"
)

// SourceBuilder builds the series source for one site. The default
// resolves the site's configured source name through the upstream
// registry; tests substitute fakes.
type SourceBuilder func(site config.SiteConfig, cred *credentials.Context) (upstream.SeriesSource, error)

// InventoryBuilder builds the inventory source for discovery sites.
type InventoryBuilder func(site config.SiteConfig, cred *credentials.Context) (upstream.InventorySource, error)

// Runner drives the full pipeline for one run.
type Runner struct {
	settings config.Settings
	sites    []config.SiteConfig
	metrics  []domain.MetricDefinition
	secrets  credentials.Store
	log      *slog.Logger

	buildSource    SourceBuilder
	buildInventory InventoryBuilder
}

// New validates the loaded configuration into a Runner. Registry
// problems surface here, before any network call, and abort the run.
func New(cfg *config.Config, secrets credentials.Store, log *slog.Logger) (*Runner, error) {
	metrics, err := cfg.MetricDefinitions()
	if err != nil {
		return nil, &domain.ConfigError{Detail: err.Error()}
	}
	if log == nil {
		log = slog.Default()
	}

	// A non-positive limit would block the worker pool forever.
	if cfg.Settings.Concurrency <= 0 {
		return nil, &domain.ConfigError{Detail: fmt.Sprintf("concurrency must be positive, got %d", cfg.Settings.Concurrency)}
	}

	for _, site := range cfg.Sites {
		if site.Source == "" {
			continue
		}
		if !registeredSource(site.Source) {
			return nil, &domain.ConfigError{Detail: fmt.Sprintf("site %q: unknown source %q", site.ID, site.Source)}
		}
	}

	r := &Runner{
		settings: cfg.Settings,
		sites:    cfg.Sites,
		metrics:  metrics,
		secrets:  secrets,
		log:      log,
	}
	r.buildSource = r.defaultSource
	r.buildInventory = r.defaultInventory
	return r, nil
}

func registeredSource(name string) bool {
	key := util.NormalizeKey(name)
	for _, registered := range upstream.List() {
		if registered == key {
			return true
		}
	}
	return false
}

func (r *Runner) upstreamOptions() upstream.Options {
	return upstream.Options{
		Interval:    r.settings.Interval,
		Aggregation: r.settings.Aggregation,
		Retry: retry.Config{
			MaxAttempts: r.settings.Retry.MaxAttempts,
			BaseDelay:   time.Duration(r.settings.Retry.BaseDelayMS) * time.Millisecond,
			MaxDelay:    time.Duration(r.settings.Retry.MaxDelayMS) * time.Millisecond,
		},
		BaseURL: r.settings.InsightBaseURL,
	}
}

func (r *Runner) defaultSource(site config.SiteConfig, cred *credentials.Context) (upstream.SeriesSource, error) {
	name := site.Source
	if name == "" {
		name = upstream.SourceInsight
	}
	opts := r.upstreamOptions()
	if util.NormalizeKey(name) == upstream.SourceKTWatch {
		opts.BaseURL = r.settings.KTCloudBaseURL
	}
	return upstream.Get(name, cred, opts)
}

func (r *Runner) defaultInventory(site config.SiteConfig, cred *credentials.Context) (upstream.InventorySource, error) {
	opts := r.upstreamOptions()
	opts.BaseURL = r.settings.KTCloudBaseURL
	return upstream.NewKTCloudClient(cred, opts)
}

// RunAll runs every configured site and returns one report per site in
// configuration order, regardless of how many units failed.
func (r *Runner) RunAll(ctx context.Context, w domain.TimeWindow) ([]domain.SiteResult, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	results := make([]domain.SiteResult, 0, len(r.sites))
	for _, site := range r.sites {
		results = append(results, r.runSite(ctx, site, w))
	}
	return results, nil
}

// RunSite runs exactly one named site. Running a single site produces
// the same report for that site as a full run would.
func (r *Runner) RunSite(ctx context.Context, siteID string, w domain.TimeWindow) (*domain.SiteResult, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	key := util.NormalizeKey(siteID)
	for _, site := range r.sites {
		if util.NormalizeKey(site.ID) == key {
			result := r.runSite(ctx, site, w)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("%w: site %q is not configured", domain.ErrNotFound, siteID)
}

// unit is one (server, metric) traversal. Units are independent: each
// produces its own outcome slot and no unit failure aborts a sibling.
type unit struct {
	server domain.Server
	defs   []domain.MetricDefinition
}

// unitOutcome is the single-writer result slot for one unit.
type unitOutcome struct {
	series   []*domain.MetricSeries
	breaches map[string][]domain.BreachEvent
	stats    map[string]domain.SummaryStats
	outliers []domain.Outlier
	failures []domain.PartialFailure
}

func (r *Runner) runSite(ctx context.Context, siteCfg config.SiteConfig, w domain.TimeWindow) domain.SiteResult {
	site := siteCfg.Site()
	log := r.log.With("site", site.ID)
	log.Info("starting site run", "window_start", w.Start, "window_end", w.End)

	report := domain.SiteReport{
		SiteID:      site.ID,
		SiteName:    site.Name,
		Window:      w,
		GeneratedAt: time.Now().UTC(),
	}

	cred, err := credentials.Resolve(siteCfg, r.secrets)
	if err != nil {
		log.Error("credential validation failed", "error", err)
		report.Failures = append(report.Failures, domain.PartialFailure{
			Stage:  domain.StageCredentials,
			Reason: err.Error(),
		})
		return domain.SiteResult{Report: report}
	}

	servers := site.Servers
	if site.Discover {
		inventory, err := r.buildInventory(siteCfg, cred)
		if err == nil {
			servers, err = inventory.ListServers(ctx)
		}
		if err != nil {
			log.Error("server discovery failed", "error", err)
			report.Failures = append(report.Failures, domain.PartialFailure{
				Stage:  domain.StageInventory,
				Reason: err.Error(),
			})
			return domain.SiteResult{Report: report}
		}
	}

	source, err := r.buildSource(siteCfg, cred)
	if err != nil {
		log.Error("source construction failed", "error", err)
		report.Failures = append(report.Failures, domain.PartialFailure{
			Stage:  domain.StageCredentials,
			Reason: err.Error(),
		})
		return domain.SiteResult{Report: report}
	}

	units := r.planUnits(servers)
	outcomes := make([]unitOutcome, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.settings.Concurrency)
	for i, u := range units {
		g.Go(func() error {
			outcomes[i] = r.runUnit(gctx, log, source, u, w)
			return nil
		})
	}
	// Workers never return errors; failures live in their outcome
	// slots.
	_ = g.Wait()

	result := assemble(report, servers, r.metrics, units, outcomes)
	log.Info("site run finished",
		"servers", len(result.Report.Summaries),
		"breaches", len(result.Report.Breaches),
		"partial_failures", len(result.Report.Failures))
	return result
}

// planUnits shapes the fan-out. With batching each server is one unit
// covering all metrics in a single upstream call; otherwise every
// (server, metric) pair is its own unit.
func (r *Runner) planUnits(servers []domain.Server) []unit {
	var units []unit
	for _, server := range servers {
		if r.settings.BatchQueries {
			units = append(units, unit{server: server, defs: r.metrics})
			continue
		}
		for _, def := range r.metrics {
			units = append(units, unit{server: server, defs: []domain.MetricDefinition{def}})
		}
	}
	return units
}

// runUnit walks one unit through fetch, normalize, evaluate, and
// aggregate. Every error is demoted to a partial failure recorded in
// the outcome; nothing escapes to abort sibling units.
func (r *Runner) runUnit(ctx context.Context, log *slog.Logger, source upstream.SeriesSource, u unit, w domain.TimeWindow) unitOutcome {
	outcome := unitOutcome{
		breaches: make(map[string][]domain.BreachEvent),
		stats:    make(map[string]domain.SummaryStats),
	}

	failAll := func(stage domain.FailureStage, defs []domain.MetricDefinition, err error) {
		for _, def := range defs {
			outcome.failures = append(outcome.failures, domain.PartialFailure{
				ServerID:  u.server.ID,
				MetricKey: def.Key,
				Stage:     stage,
				Reason:    err.Error(),
			})
		}
	}

	if err := ctx.Err(); err != nil {
		failAll(domain.StageFetch, u.defs, fmt.Errorf("run cancelled before fetch: %w", err))
		return outcome
	}

	raw := make(map[string]*upstream.RawSeries, len(u.defs))
	if len(u.defs) == 1 {
		series, err := source.FetchSeries(ctx, u.server, u.defs[0], w)
		if err != nil {
			log.Warn("fetch failed", "server", u.server.ID, "metric", u.defs[0].Key, "error", err)
			failAll(domain.StageFetch, u.defs, err)
			return outcome
		}
		raw[u.defs[0].Key] = series
	} else {
		found, failed, err := source.FetchAllSeries(ctx, u.server, u.defs, w)
		if err != nil {
			log.Warn("batched fetch failed", "server", u.server.ID, "error", err)
			failAll(domain.StageFetch, u.defs, err)
			return outcome
		}
		for key, ferr := range failed {
			log.Warn("fetch failed", "server", u.server.ID, "metric", key, "error", ferr)
			outcome.failures = append(outcome.failures, domain.PartialFailure{
				ServerID:  u.server.ID,
				MetricKey: key,
				Stage:     domain.StageFetch,
				Reason:    ferr.Error(),
			})
		}
		raw = found
	}

	for _, def := range u.defs {
		rawSeries, ok := raw[def.Key]
		if !ok {
			continue
		}

		series, err := normalize.Series(rawSeries, u.server, def, w)
		if err != nil {
			log.Warn("normalization failed", "server", u.server.ID, "metric", def.Key, "error", err)
			outcome.failures = append(outcome.failures, domain.PartialFailure{
				ServerID:  u.server.ID,
				MetricKey: def.Key,
				Stage:     domain.StageNormalize,
				Reason:    err.Error(),
			})
			continue
		}

		breaches := evaluate.Breaches(series)
		outcome.series = append(outcome.series, series)
		outcome.breaches[def.Key] = breaches

		stats := aggregate.Summarize(series, len(breaches))
		stats.Comparison = aggregate.ComparePeriods(series, r.settings.ComparisonDays)
		outcome.stats[def.Key] = stats

		for _, p := range aggregate.Outliers(series) {
			outcome.outliers = append(outcome.outliers, domain.Outlier{
				ServerID:  u.server.ID,
				MetricKey: def.Key,
				Point:     p,
			})
		}
	}

	return outcome
}
