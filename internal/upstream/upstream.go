// Package upstream contains the clients for the two external systems:
// the origin infrastructure platform (KT Cloud) and the monitoring
// service that relays its metrics (NCP Cloud Insight).
//
// Both clients speak proprietary REST APIs with no Go SDK, so they use
// direct http.Clients in the same shape: typed request/response
// envelopes, sentinel error mapping, and bounded retry around each
// request. Downstream stages never see which source produced a series;
// the normalizer unifies the shapes immediately after retrieval.
package upstream

import (
	"context"
	"time"

	"github.com/insightops/sitewatch/internal/domain"
	"github.com/insightops/sitewatch/internal/retry"
)

// RawSeries is an upstream-shaped series before normalization: points
// in upstream order, values in the upstream's raw unit.
type RawSeries struct {
	MetricKey string
	Unit      domain.Unit
	Points    []domain.DataPoint
}

// SeriesSource retrieves raw metric series for (server, metric, window)
// tuples. Implementations perform network I/O only and mutate no
// shared state.
type SeriesSource interface {
	// FetchSeries retrieves one metric series. Transient failures are
	// retried internally with backoff; non-transient failures return
	// immediately wrapping the matching domain sentinel.
	FetchSeries(ctx context.Context, server domain.Server, def domain.MetricDefinition, w domain.TimeWindow) (*RawSeries, error)

	// FetchAllSeries retrieves several metrics for one server,
	// batching where the upstream supports it. The result maps metric
	// keys to series; metrics the upstream did not answer for are
	// reported in the error map instead.
	FetchAllSeries(ctx context.Context, server domain.Server, defs []domain.MetricDefinition, w domain.TimeWindow) (map[string]*RawSeries, map[string]error, error)
}

// InventorySource lists the servers a site owns, for sites that
// discover inventory rather than configuring it.
type InventorySource interface {
	ListServers(ctx context.Context) ([]domain.Server, error)
}

// Options carries the settings shared by all source constructors.
type Options struct {
	// BaseURL overrides the production endpoint; used by tests.
	BaseURL string

	// Interval is the upstream aggregation interval (Min1 .. Day1).
	Interval string

	// Aggregation is the upstream aggregation function (AVG .. COUNT).
	Aggregation string

	// Timeout bounds each HTTP request.
	Timeout time.Duration

	// Retry controls the per-request retry loop.
	Retry retry.Config

	// MaxChunk bounds the window covered by a single request; longer
	// windows are split into consecutive chunks. Zero uses the
	// client default.
	MaxChunk time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval == "" {
		o.Interval = "Min5"
	}
	if o.Aggregation == "" {
		o.Aggregation = "AVG"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	return o
}

// mergePoints appends chunk points onto a series, resolving duplicate
// timestamps at chunk boundaries by last write wins.
func mergePoints(acc []domain.DataPoint, chunk []domain.DataPoint) []domain.DataPoint {
	for _, p := range chunk {
		if n := len(acc); n > 0 && acc[n-1].Timestamp.Equal(p.Timestamp) {
			acc[n-1] = p
			continue
		}
		acc = append(acc, p)
	}
	return acc
}
