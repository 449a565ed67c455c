package engine

import "errors"

// Tier-level failure classes. Node- and tier-level errors are converted into
// fallback transitions; only ErrTotalFailure crosses the orchestrator
// boundary.
var (
	ErrMissingCredential   = errors.New("missing credential")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrMissingData         = errors.New("missing data")
	ErrStaleData           = errors.New("stale data")
	ErrTotalFailure        = errors.New("all data sources failed")
	ErrUnknownZone         = errors.New("unknown zone")
)
