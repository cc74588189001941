// Package normalize converts upstream-shaped raw series into the
// canonical MetricSeries form: canonical units, ascending timestamps,
// one point per timestamp. Downstream stages only ever see the output
// of this package, never an upstream shape.
package normalize

import (
	"sort"

	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/upstream"
)

// Series normalizes one raw series against its metric definition.
//
// The unit conversion is the linear transform declared by the
// definition's raw/canonical unit pair; an unsupported pair fails with
// a NormalizationError rather than guessing. Duplicate timestamps are
// resolved last write wins, points are sorted ascending, and points
// outside the window are dropped. Normalizing an already-canonical
// series is a no-op apart from the ordering guarantees.
func Series(raw *upstream.RawSeries, server domain.Server, def domain.MetricDefinition, w domain.TimeWindow) (*domain.MetricSeries, error) {
	transform, ok := domain.Conversion(raw.Unit, def.Unit)
	if !ok {
		return nil, &domain.NormalizationError{MetricKey: def.Key, RawUnit: raw.Unit, Want: def.Unit}
	}

	points := make([]domain.DataPoint, 0, len(raw.Points))
	for _, p := range raw.Points {
		if p.Timestamp.Before(w.Start) || !p.Timestamp.Before(w.End) {
			continue
		}
		point := domain.DataPoint{Timestamp: p.Timestamp}
		if p.Present() {
			v := transform.Apply(*p.Value)
			point.Value = &v
		}
		points = append(points, point)
	}

	// Stable sort keeps upstream arrival order within equal
	// timestamps, so last write wins falls out of keeping the final
	// point of each run.
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	deduped := points[:0]
	for _, p := range points {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(p.Timestamp) {
			deduped[n-1] = p
			continue
		}
		deduped = append(deduped, p)
	}

	return &domain.MetricSeries{
		Server:     server,
		Definition: def,
		Window:     w,
		Points:     deduped,
	}, nil
}
