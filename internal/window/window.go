// Package window resolves a run mode into the concrete query window
// used for every upstream request in a run.
package window

import (
	"fmt"
	"time"

	"github.com/insightops/sitewatch/internal/domain"
)

// DateFormat is the compact day format accepted on the command line.
const DateFormat = "20060102"

// Mode distinguishes the two ways a run window can be requested.
type Mode string

const (
	// ModeRecent covers the trailing N days up to now.
	ModeRecent Mode = "recent"
	// ModeRange covers an explicit start/end day pair.
	ModeRange Mode = "range"
)

// Request describes the desired run window before resolution.
type Request struct {
	Mode Mode

	// Days is the lookback for ModeRecent.
	Days int

	// Start and End are the inclusive day bounds for ModeRange, in
	// DateFormat. End is expanded to the last second of the day so a
	// single-day range still covers the full day.
	Start string
	End   string
}

// Recent builds a trailing-window request.
func Recent(days int) Request {
	return Request{Mode: ModeRecent, Days: days}
}

// Range builds an explicit date-range request.
func Range(start, end string) Request {
	return Request{Mode: ModeRange, Start: start, End: end}
}

// Resolver turns requests into validated, clamped time windows. The
// zero MaxLength disables the length bound.
type Resolver struct {
	// MaxLength bounds the resolved window to avoid unbounded
	// upstream queries.
	MaxLength time.Duration

	// Now is the clock used for ModeRecent; defaults to time.Now.
	// Overridable for tests.
	Now func() time.Time
}

// Resolve produces the concrete UTC window for a request. The returned
// window always satisfies start < end; requests that resolve to an
// empty, inverted, or over-long window fail.
func (r Resolver) Resolve(req Request) (domain.TimeWindow, error) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	var w domain.TimeWindow
	switch req.Mode {
	case ModeRecent:
		if req.Days <= 0 {
			return domain.TimeWindow{}, fmt.Errorf("window: recent mode requires a positive day count, got %d", req.Days)
		}
		end := now().UTC()
		w = domain.NewTimeWindow(end.AddDate(0, 0, -req.Days), end)

	case ModeRange:
		start, err := time.ParseInLocation(DateFormat, req.Start, time.UTC)
		if err != nil {
			return domain.TimeWindow{}, fmt.Errorf("window: invalid start date %q: %w", req.Start, err)
		}
		end, err := time.ParseInLocation(DateFormat, req.End, time.UTC)
		if err != nil {
			return domain.TimeWindow{}, fmt.Errorf("window: invalid end date %q: %w", req.End, err)
		}
		// Cover the end day fully.
		end = end.Add(24*time.Hour - time.Second)
		w = domain.NewTimeWindow(start, end)

	default:
		return domain.TimeWindow{}, fmt.Errorf("window: unknown mode %q", req.Mode)
	}

	if err := w.Validate(); err != nil {
		return domain.TimeWindow{}, fmt.Errorf("window: %w", err)
	}
	if r.MaxLength > 0 && w.Duration() > r.MaxLength {
		return domain.TimeWindow{}, fmt.Errorf("window: resolved length %s exceeds maximum %s", w.Duration(), r.MaxLength)
	}
	return w, nil
}
