package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castlebay/modeldesk/internal/analytics"
)

// EventStore reads the append-only usage event log. Scans paginate by event
// ID so arbitrarily large days stream in bounded pages.
type EventStore struct {
	pool *pgxpool.Pool
}

func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) QueryEvents(ctx context.Context, start, end time.Time, filters analytics.Filters, cursor int64, limit int) (analytics.EventPage, error) {
	if limit <= 0 {
		limit = 1000
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, occurred_at, user_id, api_key_id, model, provider,
	prompt_tokens, completion_tokens, cost_usd_micros
FROM usage_events
WHERE occurred_at >= $1 AND occurred_at < $2 AND id > $3`)
	args := []any{start, end, cursor}

	appendFilter := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		args = append(args, values)
		fmt.Fprintf(&sb, " AND %s = ANY($%d)", column, len(args))
	}
	appendFilter("user_id", filters.Users)
	appendFilter("model", filters.Models)
	appendFilter("provider", filters.Providers)
	appendFilter("api_key_id", filters.APIKeys)

	args = append(args, limit+1)
	fmt.Fprintf(&sb, " ORDER BY id LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return analytics.EventPage{}, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var page analytics.EventPage
	for rows.Next() {
		var ev analytics.UsageEvent
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.UserID, &ev.APIKeyID, &ev.Model, &ev.Provider,
			&ev.PromptTokens, &ev.CompletionTokens, &ev.CostUSDMicros); err != nil {
			return analytics.EventPage{}, fmt.Errorf("scan usage event: %w", err)
		}
		if len(page.Events) == limit {
			page.HasMore = true
			break
		}
		page.Events = append(page.Events, ev)
		page.NextCursor = ev.ID
	}
	if err := rows.Err(); err != nil {
		return analytics.EventPage{}, fmt.Errorf("iterate usage events: %w", err)
	}
	return page, nil
}
