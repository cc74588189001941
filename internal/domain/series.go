package domain

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open [Start, End) query range. Both bounds are
// UTC-normalized on construction.
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewTimeWindow builds a UTC-normalized window.
func NewTimeWindow(start, end time.Time) TimeWindow {
	return TimeWindow{Start: start.UTC(), End: end.UTC()}
}

// Validate checks the start < end invariant.
func (w TimeWindow) Validate() error {
	if !w.Start.Before(w.End) {
		return fmt.Errorf("time window start %s is not before end %s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	}
	return nil
}

// Duration returns the window length.
func (w TimeWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// StartMillis returns the start bound as epoch milliseconds, the unit
// both upstream APIs express time in.
func (w TimeWindow) StartMillis() int64 { return w.Start.UnixMilli() }

// EndMillis returns the end bound as epoch milliseconds.
func (w TimeWindow) EndMillis() int64 { return w.End.UnixMilli() }

// DataPoint is one sample in a series. A nil Value represents a
// reporting gap: the upstream covered the timestamp but delivered no
// measurement. Gaps are preserved, never zero-filled or interpolated.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     *float64  `json:"value"`
}

// Present reports whether the point carries a measurement.
func (p DataPoint) Present() bool { return p.Value != nil }

// MetricSeries is the canonical, normalized time-ordered value sequence
// for one (server, metric, window) unit. It is owned by the run and
// must not be mutated after normalization completes.
type MetricSeries struct {
	Server     Server
	Definition MetricDefinition
	Window     TimeWindow
	Points     []DataPoint
}

// LastPresent returns the chronologically latest present point, which
// is not necessarily the final index when trailing points are gaps.
func (s *MetricSeries) LastPresent() (DataPoint, bool) {
	for i := len(s.Points) - 1; i >= 0; i-- {
		if s.Points[i].Present() {
			return s.Points[i], true
		}
	}
	return DataPoint{}, false
}
