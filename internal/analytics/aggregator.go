package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/castlebay/modeldesk/internal/timeutil"
)

// DayAggregator computes one day's rollup by streaming the usage event log.
// It is the engine's sole reader of raw events.
type DayAggregator struct {
	events   EventStore
	pageSize int
	retries  int
	logger   *slog.Logger
}

// NewDayAggregator constructs an aggregator over the given event store.
func NewDayAggregator(events EventStore, pageSize, retries int, logger *slog.Logger) *DayAggregator {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if retries <= 0 {
		retries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DayAggregator{events: events, pageSize: pageSize, retries: retries, logger: logger}
}

// Aggregate scans events in [day 00:00, day+1 00:00) matching the filters and
// returns the day's rollup. For a closed day the scan is deterministic: the
// same frozen events always produce the same rollup.
func (a *DayAggregator) Aggregate(ctx context.Context, day time.Time, filters Filters) (DailyRollup, error) {
	start := timeutil.TruncateToDay(day, day.Location())
	end := timeutil.NextDay(start)

	rollup := NewDailyRollup(start, filters.Signature())
	cursor := int64(0)

	for {
		page, err := a.fetchPage(ctx, start, end, filters, cursor)
		if err != nil {
			return DailyRollup{}, fmt.Errorf("%w: scan day %s: %v", ErrUpstreamRead, start.Format("2006-01-02"), err)
		}
		for _, ev := range page.Events {
			// The store already filters server-side; the check guards
			// implementations that over-fetch.
			if !filters.Matches(ev) {
				continue
			}
			rollup.Totals.Add(ev)
			addBreakdown(rollup.ByModel, ev.Model, ev)
			addBreakdown(rollup.ByUser, ev.UserID, ev)
			addBreakdown(rollup.ByProvider, ev.Provider, ev)
			addBreakdown(rollup.ByAPIKey, ev.APIKeyID, ev)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	return rollup, nil
}

func (a *DayAggregator) fetchPage(ctx context.Context, start, end time.Time, filters Filters, cursor int64) (EventPage, error) {
	var page EventPage
	backoff := retry.WithMaxRetries(uint64(a.retries), retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		page, err = a.events.QueryEvents(ctx, start, end, filters, cursor, a.pageSize)
		if err != nil {
			a.logger.Warn("event scan page failed, retrying",
				slog.String("day", start.Format("2006-01-02")),
				slog.Int64("cursor", cursor),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return EventPage{}, err
	}
	return page, nil
}

func addBreakdown(m map[string]Metrics, key string, ev UsageEvent) {
	if key == "" {
		return
	}
	metrics := m[key]
	metrics.Add(ev)
	m[key] = metrics
}
