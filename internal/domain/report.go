package domain

import "time"

// Severity classifies a threshold breach.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BreachEvent records one datapoint crossing a configured threshold.
// Events are produced by the evaluator and never mutated.
type BreachEvent struct {
	ServerID  string    `json:"server_id"`
	MetricKey string    `json:"metric_key"`
	Point     DataPoint `json:"point"`
	Severity  Severity  `json:"severity"`
	Level     float64   `json:"level"`
}

// SummaryStats reduces one series to its report figures. NoData marks a
// series whose points were all gaps; the numeric fields are meaningless
// in that case and serialized as absent.
//
// Percentiles is keyed "p10" through "p99". DailyAvg is keyed by UTC
// date, HourlyAvg by two-digit hour of day, WeekdayAvg by day name.
type SummaryStats struct {
	Min         float64            `json:"min"`
	Max         float64            `json:"max"`
	Avg         float64            `json:"avg"`
	Median      float64            `json:"median"`
	StdDev      float64            `json:"std_dev"`
	Last        float64            `json:"last"`
	Percentiles map[string]float64 `json:"percentiles,omitempty"`
	DailyAvg    map[string]float64 `json:"daily_avg,omitempty"`
	HourlyAvg   map[string]float64 `json:"hourly_avg,omitempty"`
	WeekdayAvg  map[string]float64 `json:"weekday_avg,omitempty"`
	Samples     int                `json:"samples"`
	BreachCount int                `json:"breach_count"`
	Comparison  *PeriodComparison  `json:"period_comparison,omitempty"`
	NoData      bool               `json:"no_data,omitempty"`
}

// PeriodStats summarizes the present points of one half of a period
// comparison.
type PeriodStats struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Min     float64   `json:"min"`
	Max     float64   `json:"max"`
	Avg     float64   `json:"avg"`
	StdDev  float64   `json:"std_dev"`
	Samples int       `json:"samples"`
}

// PeriodComparison contrasts the latest span of a series with the span
// immediately before it. Change fields are percentages relative to the
// previous period; a change against a zero previous value is left
// unset.
type PeriodComparison struct {
	Current   PeriodStats `json:"current"`
	Previous  PeriodStats `json:"previous"`
	AvgChange *float64    `json:"avg_change_pct,omitempty"`
	MinChange *float64    `json:"min_change_pct,omitempty"`
	MaxChange *float64    `json:"max_change_pct,omitempty"`
}

// Outlier flags a datapoint far outside the interquartile range of its
// own series, independent of any configured threshold.
type Outlier struct {
	ServerID  string    `json:"server_id"`
	MetricKey string    `json:"metric_key"`
	Point     DataPoint `json:"point"`
}

// ServerSummary maps metric keys to their summary stats for one server.
type ServerSummary struct {
	Server  Server                  `json:"server"`
	Metrics map[string]SummaryStats `json:"metrics"`
}

// FailureStage names the pipeline stage a partial failure occurred in.
type FailureStage string

const (
	StageCredentials FailureStage = "credentials"
	StageInventory   FailureStage = "inventory"
	StageFetch       FailureStage = "fetch"
	StageNormalize   FailureStage = "normalize"
)

// PartialFailure records a non-fatal inability to retrieve or process
// one (server, metric) unit. Site-level failures (credentials,
// inventory) leave ServerID and MetricKey empty.
type PartialFailure struct {
	ServerID  string       `json:"server_id,omitempty"`
	MetricKey string       `json:"metric_key,omitempty"`
	Stage     FailureStage `json:"stage"`
	Reason    string       `json:"reason"`
}

// SiteReport is the unit handed to the reporting collaborator: every
// summary, breach, and failure for one site over one run window.
type SiteReport struct {
	SiteID      string           `json:"site_id"`
	SiteName    string           `json:"site_name"`
	Window      TimeWindow       `json:"window"`
	GeneratedAt time.Time        `json:"generated_at"`
	Summaries   []ServerSummary  `json:"summaries"`
	Breaches    []BreachEvent    `json:"breaches"`
	Outliers    []Outlier        `json:"outliers"`
	Failures    []PartialFailure `json:"failures"`
}

// Succeeded reports whether the site produced at least one summary,
// i.e. failed at most partially.
func (r *SiteReport) Succeeded() bool {
	return len(r.Summaries) > 0
}

// SiteResult pairs the serializable report with the normalized series
// backing it, for collaborators that render charts from raw points.
// The series are immutable once handed over.
type SiteResult struct {
	Report SiteReport
	Series []*MetricSeries
}
