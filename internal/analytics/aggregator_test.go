package analytics

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func seedDay(store *fakeEventStore, day time.Time) {
	store.addEvent(UsageEvent{
		Timestamp: day.Add(2 * time.Hour), UserID: "u1", APIKeyID: "k1",
		Model: "gpt-4o", Provider: "openai",
		PromptTokens: 100, CompletionTokens: 50, CostUSDMicros: costMicros(250_000),
	})
	store.addEvent(UsageEvent{
		Timestamp: day.Add(5 * time.Hour), UserID: "u2", APIKeyID: "k2",
		Model: "claude-3", Provider: "anthropic",
		PromptTokens: 200, CompletionTokens: 80, CostUSDMicros: costMicros(750_000),
	})
	store.addEvent(UsageEvent{
		Timestamp: day.Add(23 * time.Hour), UserID: "u1", APIKeyID: "k1",
		Model: "gpt-4o", Provider: "openai",
		PromptTokens: 40, CompletionTokens: 20, CostUSDMicros: nil,
	})
	// Outside the day on both sides.
	store.addEvent(UsageEvent{
		Timestamp: day.Add(-time.Minute), UserID: "u1", Model: "gpt-4o", Provider: "openai",
		PromptTokens: 999, CostUSDMicros: costMicros(1),
	})
	store.addEvent(UsageEvent{
		Timestamp: day.Add(24 * time.Hour), UserID: "u1", Model: "gpt-4o", Provider: "openai",
		PromptTokens: 999, CostUSDMicros: costMicros(1),
	})
}

func TestAggregateDayBounds(t *testing.T) {
	d := day(t, "2024-01-01")
	store := &fakeEventStore{}
	seedDay(store, d)

	// Page size of 2 forces pagination across the three in-day events.
	agg := NewDayAggregator(store, 2, 1, testLogger())
	rollup, err := agg.Aggregate(context.Background(), d, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if rollup.Totals.Requests != 3 {
		t.Fatalf("expected 3 in-day events, got %d", rollup.Totals.Requests)
	}
	if rollup.Totals.PromptTokens != 340 {
		t.Fatalf("unexpected prompt tokens %d", rollup.Totals.PromptTokens)
	}
	if rollup.Totals.TotalTokens != 490 {
		t.Fatalf("unexpected total tokens %d", rollup.Totals.TotalTokens)
	}
	if got := rollup.ByModel["gpt-4o"].Requests; got != 2 {
		t.Fatalf("unexpected gpt-4o requests %d", got)
	}
	if got := rollup.ByProvider["anthropic"].CostUSDMicros; got != 750_000 {
		t.Fatalf("unexpected anthropic cost %d", got)
	}
	if rollup.Signature != "all" {
		t.Fatalf("unexpected signature %q", rollup.Signature)
	}
}

func TestAggregateMissingCostExcludedFromAverage(t *testing.T) {
	d := day(t, "2024-01-01")
	store := &fakeEventStore{}
	seedDay(store, d)

	agg := NewDayAggregator(store, 100, 1, testLogger())
	rollup, err := agg.Aggregate(context.Background(), d, Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	// Three requests, one without a cost: the unpriced request counts toward
	// requests but stays out of the average denominator.
	if rollup.Totals.Requests != 3 || rollup.Totals.CostedRequests != 2 {
		t.Fatalf("unexpected counts: requests=%d costed=%d", rollup.Totals.Requests, rollup.Totals.CostedRequests)
	}
	if got := rollup.Totals.CostUSD(); got != 1.00 {
		t.Fatalf("unexpected total cost %v", got)
	}
	if got := rollup.Totals.AverageCostUSD(); got != 0.50 {
		t.Fatalf("average must divide by costed requests only, got %v", got)
	}
}

func TestAggregateFilters(t *testing.T) {
	d := day(t, "2024-01-01")
	store := &fakeEventStore{}
	seedDay(store, d)

	agg := NewDayAggregator(store, 100, 1, testLogger())
	rollup, err := agg.Aggregate(context.Background(), d, Filters{Models: []string{"claude-3", "nonexistent"}})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	if rollup.Totals.Requests != 1 {
		t.Fatalf("expected only the claude-3 event, got %d", rollup.Totals.Requests)
	}
	if _, ok := rollup.ByModel["gpt-4o"]; ok {
		t.Fatalf("filtered-out model must not appear in breakdown")
	}
}

func TestAggregateIdempotent(t *testing.T) {
	d := day(t, "2024-01-01")
	store := &fakeEventStore{}
	seedDay(store, d)

	agg := NewDayAggregator(store, 2, 1, testLogger())
	first, err := agg.Aggregate(context.Background(), d, Filters{})
	if err != nil {
		t.Fatalf("first aggregate: %v", err)
	}
	second, err := agg.Aggregate(context.Background(), d, Filters{})
	if err != nil {
		t.Fatalf("second aggregate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation not idempotent:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestAggregateUpstreamFailure(t *testing.T) {
	d := day(t, "2024-01-01")
	store := &fakeEventStore{
		failDays: map[string]error{"2024-01-01": errors.New("connection refused")},
	}

	agg := NewDayAggregator(store, 100, 1, testLogger())
	_, err := agg.Aggregate(context.Background(), d, Filters{})
	if !errors.Is(err, ErrUpstreamRead) {
		t.Fatalf("expected ErrUpstreamRead, got %v", err)
	}
}
