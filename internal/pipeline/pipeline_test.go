package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/insightops/sitewatch/internal/config"
	"github.com/insightops/sitewatch/internal/credentials"
	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/upstream"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// --- Test fakes ---

// fakeSource serves canned series keyed by "<server>/<metric>". Keys
// mapped to an error fail that unit; unmapped keys yield a small valid
// series.
type fakeSource struct {
	mu         sync.Mutex
	errs       map[string]error
	fetchCalls []string
	batchCalls int
}

func (f *fakeSource) record(server domain.Server, def domain.MetricDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := server.ID + "/" + def.Key
	f.fetchCalls = append(f.fetchCalls, key)
	return f.errs[key]
}

func (f *fakeSource) series(def domain.MetricDefinition, w domain.TimeWindow) *upstream.RawSeries {
	v1, v2 := 95.0, 50.0
	return &upstream.RawSeries{
		MetricKey: def.Key,
		Unit:      def.RawUnit,
		Points: []domain.DataPoint{
			{Timestamp: w.Start.Add(time.Minute), Value: &v1},
			{Timestamp: w.Start.Add(2 * time.Minute), Value: &v2},
		},
	}
}

func (f *fakeSource) FetchSeries(ctx context.Context, server domain.Server, def domain.MetricDefinition, w domain.TimeWindow) (*upstream.RawSeries, error) {
	if err := f.record(server, def); err != nil {
		return nil, err
	}
	return f.series(def, w), nil
}

func (f *fakeSource) FetchAllSeries(ctx context.Context, server domain.Server, defs []domain.MetricDefinition, w domain.TimeWindow) (map[string]*upstream.RawSeries, map[string]error, error) {
	f.mu.Lock()
	f.batchCalls++
	f.mu.Unlock()

	out := make(map[string]*upstream.RawSeries, len(defs))
	failed := make(map[string]error)
	for _, def := range defs {
		if err := f.record(server, def); err != nil {
			failed[def.Key] = err
			continue
		}
		out[def.Key] = f.series(def, w)
	}
	return out, failed, nil
}

// funcSource serves whatever series its builder produces, fresh per
// call.
type funcSource struct {
	fn func(def domain.MetricDefinition, w domain.TimeWindow) *upstream.RawSeries
}

func (f *funcSource) FetchSeries(ctx context.Context, server domain.Server, def domain.MetricDefinition, w domain.TimeWindow) (*upstream.RawSeries, error) {
	return f.fn(def, w), nil
}

func (f *funcSource) FetchAllSeries(ctx context.Context, server domain.Server, defs []domain.MetricDefinition, w domain.TimeWindow) (map[string]*upstream.RawSeries, map[string]error, error) {
	out := make(map[string]*upstream.RawSeries, len(defs))
	for _, def := range defs {
		out[def.Key] = f.fn(def, w)
	}
	return out, map[string]error{}, nil
}

type fakeInventory struct {
	servers []domain.Server
	err     error
}

func (f *fakeInventory) ListServers(ctx context.Context) ([]domain.Server, error) {
	return f.servers, f.err
}

// --- Test fixtures ---

func testConfig() *config.Config {
	return &config.Config{
		Settings: config.Settings{
			Concurrency:    2,
			ComparisonDays: 7,
			Interval:       "Min5",
			Aggregation:    "AVG",
		},
		Sites: []config.SiteConfig{
			{
				ID:   "site-a",
				Name: "Site A",
				NCP:  config.NCPCredentialConfig{AccessKey: "AK", SecretKey: "SK", CWKey: "CW"},
				Servers: []config.ServerConfig{
					{ID: "vm-1", Name: "web-01"},
					{ID: "vm-2", Name: "db-01"},
				},
			},
			{
				ID:      "site-b",
				Name:    "Site B",
				NCP:     config.NCPCredentialConfig{AccessKey: "AK", SecretKey: "SK", CWKey: "CW"},
				Servers: []config.ServerConfig{{ID: "vm-3", Name: "cache-01"}},
			},
		},
		Metrics: []config.MetricConfig{
			{
				Key: "cpu_usage", Upstream: "avg_cpu_used_rto", Unit: "percent",
				Threshold: &config.ThresholdConfig{Warning: 70, Critical: 90},
			},
			{Key: "mem_usage", Upstream: "mem_usert", Unit: "percent"},
		},
	}
}

func testWindow() domain.TimeWindow {
	return domain.TimeWindow{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
}

// newTestRunner builds a Runner whose sites all share one fake source.
func newTestRunner(t *testing.T, cfg *config.Config, source upstream.SeriesSource) *Runner {
	t.Helper()
	r, err := New(cfg, credentials.NewMockStore(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	r.buildSource = func(config.SiteConfig, *credentials.Context) (upstream.SeriesSource, error) {
		return source, nil
	}
	return r
}

// --- Tests ---

func TestRunAll_HappyPath(t *testing.T) {
	source := &fakeSource{}
	r := newTestRunner(t, testConfig(), source)

	results, err := r.RunAll(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	a := results[0].Report
	if a.SiteID != "site-a" {
		t.Errorf("first report site = %q, want site-a (configuration order)", a.SiteID)
	}
	if len(a.Summaries) != 2 {
		t.Fatalf("site-a summaries = %d, want 2", len(a.Summaries))
	}
	if len(a.Failures) != 0 {
		t.Errorf("site-a failures = %v, want none", a.Failures)
	}

	stats := a.Summaries[0].Metrics["cpu_usage"]
	if stats.Max != 95 || stats.Min != 50 || stats.Last != 50 {
		t.Errorf("cpu stats = %+v, want max 95 min 50 last 50", stats)
	}
	// 95 crosses the critical level once.
	if stats.BreachCount != 1 {
		t.Errorf("cpu breach count = %d, want 1", stats.BreachCount)
	}
	// The unthresholded metric produces stats but no events.
	if got := a.Summaries[0].Metrics["mem_usage"].BreachCount; got != 0 {
		t.Errorf("mem breach count = %d, want 0", got)
	}

	if len(a.Breaches) != 2 { // one per site-a server
		t.Errorf("site-a breaches = %d, want 2", len(a.Breaches))
	}
	for _, b := range a.Breaches {
		if b.Severity != domain.SeverityCritical || b.Level != 90 {
			t.Errorf("breach = %+v, want critical at level 90", b)
		}
	}

	if !results[1].Report.Succeeded() {
		t.Error("site-b did not succeed")
	}
}

func TestRunAll_UnitFailureDoesNotSpread(t *testing.T) {
	source := &fakeSource{errs: map[string]error{
		"vm-1/mem_usage": fmt.Errorf("%w: watch has no series", domain.ErrUnknownMetric),
	}}
	r := newTestRunner(t, testConfig(), source)

	results, err := r.RunAll(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	a := results[0].Report
	if len(a.Failures) != 1 {
		t.Fatalf("failures = %v, want exactly one", a.Failures)
	}
	failure := a.Failures[0]
	if failure.ServerID != "vm-1" || failure.MetricKey != "mem_usage" || failure.Stage != domain.StageFetch {
		t.Errorf("failure = %+v, want vm-1/mem_usage at fetch stage", failure)
	}

	// vm-1 still reports its healthy metric, vm-2 reports both.
	if len(a.Summaries) != 2 {
		t.Fatalf("summaries = %d, want 2", len(a.Summaries))
	}
	if _, ok := a.Summaries[0].Metrics["cpu_usage"]; !ok {
		t.Error("vm-1 lost its healthy metric")
	}
	if _, ok := a.Summaries[0].Metrics["mem_usage"]; ok {
		t.Error("vm-1 reports the failed metric")
	}
	if len(a.Summaries[1].Metrics) != 2 {
		t.Errorf("vm-2 metrics = %d, want 2", len(a.Summaries[1].Metrics))
	}
}

func TestRunAll_CredentialFailureConfinedToSite(t *testing.T) {
	cfg := testConfig()
	cfg.Sites[0].NCP.CWKey = "" // structurally invalid

	source := &fakeSource{}
	r := newTestRunner(t, cfg, source)

	results, err := r.RunAll(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	a := results[0].Report
	if a.Succeeded() {
		t.Error("site with invalid credentials succeeded")
	}
	if len(a.Failures) != 1 || a.Failures[0].Stage != domain.StageCredentials {
		t.Errorf("failures = %+v, want single credentials-stage entry", a.Failures)
	}
	// No fetch was attempted for the broken site.
	for _, call := range source.fetchCalls {
		if call == "vm-1/cpu_usage" || call == "vm-2/cpu_usage" {
			t.Errorf("fetch %q attempted despite credential failure", call)
		}
	}

	if !results[1].Report.Succeeded() {
		t.Error("healthy site affected by sibling credential failure")
	}
}

func TestRunSite_MatchesFullRun(t *testing.T) {
	w := testWindow()

	all, err := newTestRunner(t, testConfig(), &fakeSource{}).RunAll(context.Background(), w)
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	single, err := newTestRunner(t, testConfig(), &fakeSource{}).RunSite(context.Background(), "site-b", w)
	if err != nil {
		t.Fatalf("RunSite() error = %v", err)
	}

	ignoreStamp := cmpopts.IgnoreFields(domain.SiteReport{}, "GeneratedAt")
	if diff := cmp.Diff(all[1].Report, single.Report, ignoreStamp); diff != "" {
		t.Errorf("single-site report differs from full run (-all +single):\n%s", diff)
	}
}

func TestRunSite_UnknownSite(t *testing.T) {
	r := newTestRunner(t, testConfig(), &fakeSource{})

	_, err := r.RunSite(context.Background(), "nope", testWindow())
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("RunSite() error = %v, want ErrNotFound", err)
	}
}

func TestRunAll_InvalidWindow(t *testing.T) {
	r := newTestRunner(t, testConfig(), &fakeSource{})

	w := testWindow()
	w.End = w.Start
	if _, err := r.RunAll(context.Background(), w); err == nil {
		t.Error("RunAll() with empty window expected error, got nil")
	}
}

func TestRunAll_BatchingUsesOneCallPerServer(t *testing.T) {
	cfg := testConfig()
	cfg.Settings.BatchQueries = true

	source := &fakeSource{errs: map[string]error{
		"vm-3/mem_usage": fmt.Errorf("%w: no series", domain.ErrUnknownMetric),
	}}
	r := newTestRunner(t, cfg, source)

	results, err := r.RunAll(context.Background(), testWindow())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	if source.batchCalls != 3 {
		t.Errorf("batch calls = %d, want one per server (3)", source.batchCalls)
	}

	b := results[1].Report
	if len(b.Failures) != 1 || b.Failures[0].MetricKey != "mem_usage" {
		t.Errorf("site-b failures = %+v, want single mem_usage entry", b.Failures)
	}
	if !b.Succeeded() {
		t.Error("site-b should still succeed on its remaining metric")
	}
}

func TestRunAll_CancelledRunRecordsFailures(t *testing.T) {
	r := newTestRunner(t, testConfig(), &fakeSource{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := r.RunAll(ctx, testWindow())
	if err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}

	a := results[0].Report
	if a.Succeeded() {
		t.Error("cancelled run produced summaries")
	}
	// One fetch-stage failure per (server, metric) unit.
	if len(a.Failures) != 4 {
		t.Fatalf("failures = %d, want 4", len(a.Failures))
	}
	for _, f := range a.Failures {
		if f.Stage != domain.StageFetch {
			t.Errorf("failure stage = %q, want fetch", f.Stage)
		}
	}
}

func TestRunSite_DiscoveryFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Sites[0].Servers = nil
	cfg.Sites[0].Discover = true
	cfg.Sites[0].KT = config.KTCredentialConfig{Username: "admin", Password: "pw"}

	r := newTestRunner(t, cfg, &fakeSource{})
	r.buildInventory = func(config.SiteConfig, *credentials.Context) (upstream.InventorySource, error) {
		return &fakeInventory{err: fmt.Errorf("%w: inventory down", domain.ErrUnavailable)}, nil
	}

	result, err := r.RunSite(context.Background(), "site-a", testWindow())
	if err != nil {
		t.Fatalf("RunSite() error = %v", err)
	}
	if result.Report.Succeeded() {
		t.Error("site succeeded despite discovery failure")
	}
	if len(result.Report.Failures) != 1 || result.Report.Failures[0].Stage != domain.StageInventory {
		t.Errorf("failures = %+v, want single inventory-stage entry", result.Report.Failures)
	}
}

func TestRunSite_DiscoveredServersAreReported(t *testing.T) {
	cfg := testConfig()
	cfg.Sites[0].Servers = nil
	cfg.Sites[0].Discover = true
	cfg.Sites[0].KT = config.KTCredentialConfig{Username: "admin", Password: "pw"}

	r := newTestRunner(t, cfg, &fakeSource{})
	r.buildInventory = func(config.SiteConfig, *credentials.Context) (upstream.InventorySource, error) {
		return &fakeInventory{servers: []domain.Server{{ID: "vm-9", Name: "found-01"}}}, nil
	}

	result, err := r.RunSite(context.Background(), "site-a", testWindow())
	if err != nil {
		t.Fatalf("RunSite() error = %v", err)
	}
	if len(result.Report.Summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(result.Report.Summaries))
	}
	if got := result.Report.Summaries[0].Server.ID; got != "vm-9" {
		t.Errorf("summary server = %q, want vm-9", got)
	}
}

func TestRunSite_AttachesAnalysis(t *testing.T) {
	cfg := testConfig()
	cfg.Sites = cfg.Sites[:1]
	cfg.Sites[0].Servers = cfg.Sites[0].Servers[:1]
	cfg.Metrics = cfg.Metrics[:1]

	w := domain.TimeWindow{
		Start: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 8, 16, 0, 0, 0, 0, time.UTC),
	}

	// Two weeks of steady daily readings plus one spike on the last
	// day.
	source := &funcSource{fn: func(def domain.MetricDefinition, w domain.TimeWindow) *upstream.RawSeries {
		s := &upstream.RawSeries{MetricKey: def.Key, Unit: def.RawUnit}
		for i := 0; i < 15; i++ {
			v := 50.0
			if i >= 8 {
				v = 60
			}
			s.Points = append(s.Points, domain.DataPoint{
				Timestamp: w.Start.Add(time.Duration(i)*24*time.Hour + 12*time.Hour),
				Value:     &v,
			})
		}
		spike := 500.0
		s.Points = append(s.Points, domain.DataPoint{
			Timestamp: w.Start.Add(14*24*time.Hour + 13*time.Hour),
			Value:     &spike,
		})
		return s
	}}
	r := newTestRunner(t, cfg, source)

	result, err := r.RunSite(context.Background(), "site-a", w)
	if err != nil {
		t.Fatalf("RunSite() error = %v", err)
	}
	if len(result.Report.Summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(result.Report.Summaries))
	}

	stats := result.Report.Summaries[0].Metrics["cpu_usage"]
	if stats.Median != 55 {
		t.Errorf("Median = %v, want 55", stats.Median)
	}
	if len(stats.Percentiles) == 0 || len(stats.DailyAvg) == 0 {
		t.Errorf("extended statistics missing: %+v", stats)
	}

	if stats.Comparison == nil {
		t.Fatal("period comparison missing from a two-week series")
	}
	if stats.Comparison.Previous.Samples != 8 || stats.Comparison.Current.Samples != 8 {
		t.Errorf("comparison samples = %d/%d, want 8/8",
			stats.Comparison.Previous.Samples, stats.Comparison.Current.Samples)
	}

	if len(result.Report.Outliers) != 1 {
		t.Fatalf("outliers = %d, want 1", len(result.Report.Outliers))
	}
	outlier := result.Report.Outliers[0]
	if outlier.ServerID != "vm-1" || outlier.MetricKey != "cpu_usage" || *outlier.Point.Value != 500 {
		t.Errorf("outlier = %+v, want the vm-1 cpu spike", outlier)
	}
}

func TestNew_RejectsNonPositiveConcurrency(t *testing.T) {
	cfg := testConfig()
	cfg.Settings.Concurrency = 0

	_, err := New(cfg, credentials.NewMockStore(), slog.New(slog.DiscardHandler))
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
}

func TestNew_UnknownSiteSource(t *testing.T) {
	upstream.Reset()
	t.Cleanup(upstream.Reset)
	upstream.RegisterDefaults()

	cfg := testConfig()
	cfg.Sites[0].Source = "carrier-pigeon"

	_, err := New(cfg, credentials.NewMockStore(), slog.New(slog.DiscardHandler))
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New() error = %v, want ConfigError", err)
	}
}
