package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for cross-upstream error classification.
// Upstream clients should wrap these so the pipeline can handle error
// categories uniformly without knowing which upstream produced them.
//
//	return fmt.Errorf("failed to query series: %w", domain.ErrUnauthorized)
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the request was rejected due to
	// invalid, expired, or missing credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the upstream throttled the request.
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable indicates a server-side upstream failure (5xx)
	// that is expected to clear on its own.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrUnknownMetric indicates the upstream does not recognize the
	// requested metric identifier.
	ErrUnknownMetric = errors.New("unknown metric")
)

// IsTransient reports whether an upstream error is worth retrying.
// Rate limiting and server-side failures clear on their own; rejected
// credentials and unknown resources never do.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownMetric) {
		return false
	}
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// CredentialError reports structurally invalid site credentials. It is
// fatal for the owning site: its servers are not attempted.
type CredentialError struct {
	SiteID string
	Field  string
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("invalid credentials for site %q: %s: %s", e.SiteID, e.Field, e.Reason)
}

// NormalizationError reports an upstream series that cannot be converted
// into canonical units. The series is excluded from aggregation.
type NormalizationError struct {
	MetricKey string
	RawUnit   Unit
	Want      Unit
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("cannot normalize metric %q: no conversion from %q to %q", e.MetricKey, e.RawUnit, e.Want)
}

// ConfigError reports a malformed site or metric registry. It is raised
// before any network call and aborts the run.
type ConfigError struct {
	File   string
	Detail string
}

func (e *ConfigError) Error() string {
	if e.File == "" {
		return "invalid configuration: " + e.Detail
	}
	return fmt.Sprintf("invalid configuration in %s: %s", e.File, e.Detail)
}
