package analytics

import "errors"

var (
	// ErrUnauthorized is returned when the caller lacks admin read access.
	ErrUnauthorized = errors.New("caller not authorized for usage analytics")

	// ErrInvalidRange is returned when the requested range ends before it starts.
	ErrInvalidRange = errors.New("invalid date range")

	// ErrRangeTooWide is returned when the requested range exceeds the
	// configured maximum span.
	ErrRangeTooWide = errors.New("date range exceeds maximum span")

	// ErrInvalidFilter is returned for malformed dimension filter values.
	ErrInvalidFilter = errors.New("invalid dimension filter")

	// ErrBuildTimeout is returned when a per-day rollup build exceeded its
	// time budget.
	ErrBuildTimeout = errors.New("rollup build timed out")

	// ErrUpstreamRead wraps event store and directory failures that survived
	// retry.
	ErrUpstreamRead = errors.New("upstream read failed")
)
