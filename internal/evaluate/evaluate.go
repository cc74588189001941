// Package evaluate produces breach events from normalized series.
package evaluate

import "github.com/insightops/sitewatch/internal/domain"

// Breaches returns one event per datapoint crossing the series'
// configured threshold, in series order. Metrics without a threshold
// produce no events, as do absent datapoints.
//
// Classification is inclusive on the severe side: a value exactly at
// the critical level is critical, exactly at the warning level is
// warning.
func Breaches(series *domain.MetricSeries) []domain.BreachEvent {
	threshold := series.Definition.Threshold
	if threshold == nil {
		return nil
	}

	var events []domain.BreachEvent
	for _, p := range series.Points {
		if !p.Present() {
			continue
		}

		severity, level, ok := classify(*p.Value, *threshold)
		if !ok {
			continue
		}
		events = append(events, domain.BreachEvent{
			ServerID:  series.Server.ID,
			MetricKey: series.Definition.Key,
			Point:     p,
			Severity:  severity,
			Level:     level,
		})
	}
	return events
}

func classify(v float64, t domain.Threshold) (domain.Severity, float64, bool) {
	switch t.Direction {
	case domain.DirectionAbove:
		if v >= t.Critical {
			return domain.SeverityCritical, t.Critical, true
		}
		if v >= t.Warning {
			return domain.SeverityWarning, t.Warning, true
		}
	case domain.DirectionBelow:
		if v <= t.Critical {
			return domain.SeverityCritical, t.Critical, true
		}
		if v <= t.Warning {
			return domain.SeverityWarning, t.Warning, true
		}
	}
	return "", 0, false
}
