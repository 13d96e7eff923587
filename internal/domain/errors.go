package domain

import "errors"

// Engine error taxonomy. Per-factor and per-pattern failures degrade in
// place and never cross the aggregator boundary; only the errors below
// propagate to callers.
var (
	// ErrDataUnavailable means one scorer or detector could not reach its
	// data. The unit degrades to a neutral result instead of failing the call.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrUpstreamUnavailable means the graph facade itself is unreachable.
	// The whole assess/scan call fails.
	ErrUpstreamUnavailable = errors.New("upstream graph unavailable")

	// ErrInvalidBusiness means the business id does not exist in the graph.
	ErrInvalidBusiness = errors.New("business not found")

	// ErrAlertConflict means two scans raced on an alert upsert. The alert
	// manager retries once with the freshly read ACTIVE alert; callers never
	// see this error.
	ErrAlertConflict = errors.New("concurrent alert conflict")
)
