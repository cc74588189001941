package domain

import "fmt"

// Unit names a measurement unit for metric values.
type Unit string

const (
	UnitPercent      Unit = "percent"
	UnitCount        Unit = "count"
	UnitBytes        Unit = "bytes"
	UnitKilobytes    Unit = "kilobytes"
	UnitMegabytes    Unit = "megabytes"
	UnitBytesPerSec  Unit = "bytes_per_sec"
	UnitKbytesPerSec Unit = "kbytes_per_sec"
	UnitMbytesPerSec Unit = "mbytes_per_sec"
	UnitMillis       Unit = "milliseconds"
	UnitSeconds      Unit = "seconds"
)

// KnownUnit reports whether u is one of the supported units.
func KnownUnit(u Unit) bool {
	switch u {
	case UnitPercent, UnitCount, UnitBytes, UnitKilobytes, UnitMegabytes,
		UnitBytesPerSec, UnitKbytesPerSec, UnitMbytesPerSec, UnitMillis, UnitSeconds:
		return true
	}
	return false
}

// Transform is a linear unit conversion: canonical = raw*Scale + Offset.
type Transform struct {
	Scale  float64
	Offset float64
}

// Identity is the no-op transform applied to already-canonical series.
var Identity = Transform{Scale: 1}

// Apply converts a raw value into canonical units.
func (t Transform) Apply(v float64) float64 {
	return v*t.Scale + t.Offset
}

// conversions maps (raw unit, canonical unit) pairs to their linear
// transform. Pairs absent from this table are unsupported; the
// normalizer fails rather than guessing.
var conversions = map[[2]Unit]Transform{
	{UnitBytes, UnitKilobytes}:           {Scale: 1.0 / 1024},
	{UnitBytes, UnitMegabytes}:           {Scale: 1.0 / (1024 * 1024)},
	{UnitKilobytes, UnitMegabytes}:       {Scale: 1.0 / 1024},
	{UnitKilobytes, UnitBytes}:           {Scale: 1024},
	{UnitMegabytes, UnitBytes}:           {Scale: 1024 * 1024},
	{UnitBytesPerSec, UnitKbytesPerSec}:  {Scale: 1.0 / 1024},
	{UnitBytesPerSec, UnitMbytesPerSec}:  {Scale: 1.0 / (1024 * 1024)},
	{UnitKbytesPerSec, UnitMbytesPerSec}: {Scale: 1.0 / 1024},
	{UnitSeconds, UnitMillis}:            {Scale: 1000},
	{UnitMillis, UnitSeconds}:            {Scale: 1.0 / 1000},
}

// Conversion returns the transform from raw into canonical units.
// The identity transform is returned when the units already match.
func Conversion(raw, canonical Unit) (Transform, bool) {
	if raw == canonical {
		return Identity, true
	}
	t, ok := conversions[[2]Unit{raw, canonical}]
	return t, ok
}

// AggregationKind describes how a metric accumulates.
type AggregationKind string

const (
	// KindGauge is a point-in-time reading (CPU %, memory %).
	KindGauge AggregationKind = "gauge"
	// KindCounter is a monotonically increasing total (bytes written).
	KindCounter AggregationKind = "counter"
)

// ThresholdDirection states which side of the level is a breach.
type ThresholdDirection string

const (
	DirectionAbove ThresholdDirection = "above"
	DirectionBelow ThresholdDirection = "below"
)

// Threshold holds the warning and critical levels for a metric.
// Warning must be strictly less severe than critical in the configured
// direction.
type Threshold struct {
	Warning   float64
	Critical  float64
	Direction ThresholdDirection
}

// Validate checks the warning/critical ordering for the direction.
func (t Threshold) Validate() error {
	switch t.Direction {
	case DirectionAbove:
		if t.Warning >= t.Critical {
			return fmt.Errorf("threshold direction %q requires warning (%v) < critical (%v)", t.Direction, t.Warning, t.Critical)
		}
	case DirectionBelow:
		if t.Warning <= t.Critical {
			return fmt.Errorf("threshold direction %q requires warning (%v) > critical (%v)", t.Direction, t.Warning, t.Critical)
		}
	default:
		return fmt.Errorf("unknown threshold direction %q", t.Direction)
	}
	return nil
}

// MetricDefinition describes one metric in the registry. Definitions are
// loaded once per run and shared read-only across all sites.
type MetricDefinition struct {
	// Key is the canonical identifier used in reports (e.g. "cpu_usage").
	Key string

	// Name is the display name.
	Name string

	// UpstreamID is the identifier the upstream knows the metric by
	// (e.g. "CpuUtilization").
	UpstreamID string

	// Unit is the canonical unit reports are expressed in.
	Unit Unit

	// RawUnit is the unit the upstream emits values in.
	RawUnit Unit

	// Kind distinguishes gauges from counters.
	Kind AggregationKind

	// Threshold is optional; metrics without one produce no breach
	// events.
	Threshold *Threshold
}

// Validate checks a definition for registry consistency.
func (d MetricDefinition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("metric definition has empty key")
	}
	if d.UpstreamID == "" {
		return fmt.Errorf("metric %q has no upstream identifier", d.Key)
	}
	if !KnownUnit(d.Unit) {
		return fmt.Errorf("metric %q has unknown unit %q", d.Key, d.Unit)
	}
	if !KnownUnit(d.RawUnit) {
		return fmt.Errorf("metric %q has unknown raw unit %q", d.Key, d.RawUnit)
	}
	if d.Kind != KindGauge && d.Kind != KindCounter {
		return fmt.Errorf("metric %q has unknown aggregation kind %q", d.Key, d.Kind)
	}
	if d.Threshold != nil {
		if err := d.Threshold.Validate(); err != nil {
			return fmt.Errorf("metric %q: %w", d.Key, err)
		}
	}
	return nil
}
