package runlog

import "time"

// Outcome values for a recorded run.
const (
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailed  = "failed"
)

// Record is one persisted run invocation. Only invocation metadata is
// stored; report payloads are transient and handed to the reporting
// collaborator instead.
type Record struct {
	// ID is the auto-increment primary key (assigned on insert).
	ID int64

	// Timestamp is when the run started.
	Timestamp time.Time

	// Command names the entry point: "run" or "scheduled".
	Command string

	// SiteID is the selected site, empty for an all-sites run.
	SiteID string

	// WindowStart and WindowEnd are the resolved query window.
	WindowStart time.Time
	WindowEnd   time.Time

	// SitesReported and SitesFailed count sites that produced at
	// least one summary versus sites that produced none.
	SitesReported int
	SitesFailed   int

	// PartialFailures counts failed (server, metric) units across
	// all sites.
	PartialFailures int

	// Outcome is success, partial, or failed.
	Outcome string

	// DurationMs is the wall-clock run duration.
	DurationMs int64
}
