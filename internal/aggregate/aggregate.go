// Package aggregate reduces normalized series to report statistics.
package aggregate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/insightops/sitewatch/internal/domain"
)

var percentileRanks = []int{10, 25, 75, 90, 95, 99}

// Summarize reduces one series to its report statistics. Statistics
// cover present points only; gaps are ignored, never interpolated. A
// series whose points are all gaps yields the explicit no-data marker
// rather than numeric zeros. Last is the chronologically latest
// present point.
func Summarize(series *domain.MetricSeries, breachCount int) domain.SummaryStats {
	values := presentValues(series)
	if len(values) == 0 {
		return domain.SummaryStats{NoData: true, BreachCount: breachCount}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	percentiles := make(map[string]float64, len(percentileRanks))
	for _, p := range percentileRanks {
		percentiles[fmt.Sprintf("p%d", p)] = quantile(sorted, float64(p)/100)
	}

	last, _ := series.LastPresent()
	return domain.SummaryStats{
		Min:         sorted[0],
		Max:         sorted[len(sorted)-1],
		Avg:         mean(values),
		Median:      quantile(sorted, 0.5),
		StdDev:      stdDev(values),
		Last:        *last.Value,
		Percentiles: percentiles,
		DailyAvg:    bucketAvg(series, func(t time.Time) string { return t.Format("2006-01-02") }),
		HourlyAvg:   bucketAvg(series, func(t time.Time) string { return t.Format("15") }),
		WeekdayAvg:  bucketAvg(series, func(t time.Time) string { return t.Weekday().String() }),
		Samples:     len(values),
		BreachCount: breachCount,
	}
}

// Outliers returns the present points lying more than 1.5
// interquartile ranges outside the quartiles of their own series.
func Outliers(series *domain.MetricSeries) []domain.DataPoint {
	values := presentValues(series)
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	q1 := quantile(sorted, 0.25)
	q3 := quantile(sorted, 0.75)
	iqr := q3 - q1
	lower := q1 - 1.5*iqr
	upper := q3 + 1.5*iqr

	var out []domain.DataPoint
	for _, p := range series.Points {
		if !p.Present() {
			continue
		}
		if *p.Value < lower || *p.Value > upper {
			out = append(out, p)
		}
	}
	return out
}

// ComparePeriods splits a series periodDays before its last present
// point and contrasts the two spans, day-aligned. It returns nil when
// the series covers fewer than two full periods or when either span
// holds no present points.
func ComparePeriods(series *domain.MetricSeries, periodDays int) *domain.PeriodComparison {
	if periodDays <= 0 {
		return nil
	}

	var present []domain.DataPoint
	for _, p := range series.Points {
		if p.Present() {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return nil
	}

	minDate := day(present[0].Timestamp)
	maxDate := day(present[len(present)-1].Timestamp)
	if int(maxDate.Sub(minDate).Hours()/24) < periodDays*2 {
		return nil
	}

	mid := maxDate.AddDate(0, 0, -periodDays)
	var current, previous []domain.DataPoint
	for _, p := range present {
		if day(p.Timestamp).After(mid) {
			current = append(current, p)
		} else {
			previous = append(previous, p)
		}
	}
	if len(current) == 0 || len(previous) == 0 {
		return nil
	}

	comparison := &domain.PeriodComparison{
		Current:  periodStats(current),
		Previous: periodStats(previous),
	}
	comparison.AvgChange = changePct(comparison.Current.Avg, comparison.Previous.Avg)
	comparison.MinChange = changePct(comparison.Current.Min, comparison.Previous.Min)
	comparison.MaxChange = changePct(comparison.Current.Max, comparison.Previous.Max)
	return comparison
}

func periodStats(points []domain.DataPoint) domain.PeriodStats {
	values := make([]float64, len(points))
	min, max := *points[0].Value, *points[0].Value
	for i, p := range points {
		v := *p.Value
		values[i] = v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return domain.PeriodStats{
		Start:   points[0].Timestamp,
		End:     points[len(points)-1].Timestamp,
		Min:     min,
		Max:     max,
		Avg:     mean(values),
		StdDev:  stdDev(values),
		Samples: len(points),
	}
}

func presentValues(series *domain.MetricSeries) []float64 {
	var values []float64
	for _, p := range series.Points {
		if p.Present() {
			values = append(values, *p.Value)
		}
	}
	return values
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stdDev is the sample standard deviation; a single value has no
// spread and yields zero.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// quantile reads q from an ascending slice with linear interpolation
// between the two nearest ranks.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	if lo+1 >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}

func bucketAvg(series *domain.MetricSeries, key func(time.Time) string) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, p := range series.Points {
		if !p.Present() {
			continue
		}
		k := key(p.Timestamp.UTC())
		sums[k] += *p.Value
		counts[k]++
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func changePct(current, previous float64) *float64 {
	if previous == 0 {
		return nil
	}
	pct := (current - previous) / previous * 100
	return &pct
}
