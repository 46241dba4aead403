package analytics

import (
	"context"
	"time"
)

// UsageEvent is one gateway request as recorded in the usage event log. The
// engine never writes events; it only scans them.
type UsageEvent struct {
	ID               int64
	Timestamp        time.Time
	UserID           string
	APIKeyID         string
	Model            string
	Provider         string
	PromptTokens     int64
	CompletionTokens int64
	// CostUSDMicros is nil when the gateway could not price the request.
	// Unpriced requests contribute tokens and request counts but are kept out
	// of cost-average denominators.
	CostUSDMicros *int64
}

// EventPage is one page of an event scan, newest cursor last.
type EventPage struct {
	Events     []UsageEvent
	NextCursor int64
	HasMore    bool
}

// EventStore streams usage events for a time window. Implementations paginate
// by event ID so a day scan never materializes the full day in memory.
type EventStore interface {
	QueryEvents(ctx context.Context, start, end time.Time, filters Filters, cursor int64, limit int) (EventPage, error)
}
