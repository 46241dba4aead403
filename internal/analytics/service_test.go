package analytics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService(events EventStore, store RollupStore, clock *fakeClock, dir Directory) *Service {
	mgr := newTestManager(store, events, clock)
	enricher := NewEnricher(dir, 1, testLogger())
	return NewService(mgr, enricher, ServiceConfig{MaxRangeDays: 90, Location: time.UTC}, testLogger())
}

var adminCaller = Caller{ID: "admin-1", AdminRead: true}

func TestGetUsageUnauthorized(t *testing.T) {
	svc := newTestService(&fakeEventStore{}, newMemStore(), newFakeClock(time.Now()), nil)

	_, err := svc.GetUsage(context.Background(), Caller{ID: "viewer", AdminRead: false}, Query{
		Start: day(t, "2024-01-01"), End: day(t, "2024-01-02"),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetUsageValidation(t *testing.T) {
	svc := newTestService(&fakeEventStore{}, newMemStore(), newFakeClock(time.Now()), nil)

	_, err := svc.GetUsage(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-10"), End: day(t, "2024-01-05"),
	})
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}

	_, err = svc.GetUsage(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-01"), End: day(t, "2024-06-01"),
	})
	if !errors.Is(err, ErrRangeTooWide) {
		t.Fatalf("expected ErrRangeTooWide, got %v", err)
	}
}

func TestGetUsageAggregatesRange(t *testing.T) {
	events := &fakeEventStore{}
	seedDay(events, day(t, "2024-01-01"))
	seedDay(events, day(t, "2024-01-02"))
	dir := &fakeDirectory{
		models: map[string]ModelInfo{"gpt-4o": {DisplayName: "GPT-4o", Provider: "openai"}},
		users:  map[string]UserInfo{"u1": {DisplayName: "Ada Lovelace"}},
	}
	clock := newFakeClock(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))
	svc := newTestService(events, newMemStore(), clock, dir)

	report, err := svc.GetUsage(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-01"), End: day(t, "2024-01-03"),
	})
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}

	if report.Result.Totals.Requests != 6 {
		t.Fatalf("unexpected total requests %d", report.Result.Totals.Requests)
	}
	if report.Result.Partial {
		t.Fatalf("healthy range must not be partial")
	}
	if report.Trend != nil {
		t.Fatalf("trend attached without compare flag")
	}
	if len(report.Result.Series) != 2 {
		t.Fatalf("expected 2 day points, got %d", len(report.Result.Series))
	}

	var enriched bool
	for _, item := range report.Result.ByModel {
		if item.Key == "gpt-4o" && item.DisplayName == "GPT-4o" {
			enriched = true
		}
		if item.Key == "claude-3" && !item.Unknown {
			t.Fatalf("unresolvable model must be flagged unknown: %+v", item)
		}
	}
	if !enriched {
		t.Fatalf("model breakdown not enriched: %+v", report.Result.ByModel)
	}
}

func TestGetUsageCompareSharesCache(t *testing.T) {
	events := &fakeEventStore{}
	seedDay(events, day(t, "2024-01-01"))
	seedDay(events, day(t, "2024-01-03"))
	clock := newFakeClock(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))
	svc := newTestService(events, newMemStore(), clock, nil)

	report, err := svc.GetUsage(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-03"), End: day(t, "2024-01-05"),
		Compare: true,
	})
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}
	if report.Trend == nil {
		t.Fatalf("expected trend comparison")
	}
	if !report.Trend.Prior.Start.Equal(day(t, "2024-01-01")) || !report.Trend.Prior.End.Equal(day(t, "2024-01-03")) {
		t.Fatalf("unexpected prior window %v..%v", report.Trend.Prior.Start, report.Trend.Prior.End)
	}
	// Both periods have the same event volume, so deltas are flat.
	if req := report.Trend.Deltas["requests"]; req.Absolute != 0 || req.Percent == nil || *req.Percent != 0 {
		t.Fatalf("unexpected request delta %+v", req)
	}

	firstScans := events.scanCount()

	// A repeat comparison is served from the per-day cache for all four days.
	if _, err := svc.GetUsage(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-03"), End: day(t, "2024-01-05"),
		Compare: true,
	}); err != nil {
		t.Fatalf("second get usage: %v", err)
	}
	if events.scanCount() != firstScans {
		t.Fatalf("prior-period days must reuse the cache: %d vs %d scans", events.scanCount(), firstScans)
	}
}

func TestExportMatchesReport(t *testing.T) {
	events := &fakeEventStore{}
	seedDay(events, day(t, "2024-01-01"))
	seedDay(events, day(t, "2024-01-02"))
	clock := newFakeClock(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))
	svc := newTestService(events, newMemStore(), clock, nil)

	q := Query{Start: day(t, "2024-01-01"), End: day(t, "2024-01-03")}
	report, err := svc.GetUsage(context.Background(), adminCaller, q)
	if err != nil {
		t.Fatalf("get usage: %v", err)
	}

	cursor, err := svc.ExportUsage(context.Background(), adminCaller, q, ExportShape{
		Granularity: ExportByRange, Dimension: ExportModels,
	})
	if err != nil {
		t.Fatalf("export usage: %v", err)
	}

	var requests int64
	var rows int
	for cursor.Next() {
		requests += cursor.Row().Requests
		rows++
	}
	if rows != len(report.Result.ByModel) {
		t.Fatalf("export rows %d != breakdown size %d", rows, len(report.Result.ByModel))
	}
	if requests != report.Result.Totals.Requests {
		t.Fatalf("export totals %d diverge from report %d", requests, report.Result.Totals.Requests)
	}
}

func TestExportRejectsBadShape(t *testing.T) {
	svc := newTestService(&fakeEventStore{}, newMemStore(), newFakeClock(time.Now()), nil)
	_, err := svc.ExportUsage(context.Background(), adminCaller,
		Query{Start: day(t, "2024-01-01"), End: day(t, "2024-01-02")},
		ExportShape{Granularity: "minute", Dimension: ExportModels})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestRecomputeRange(t *testing.T) {
	events := &fakeEventStore{}
	seedDay(events, day(t, "2024-01-01"))
	seedDay(events, day(t, "2024-01-02"))
	store := newMemStore()
	clock := newFakeClock(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC))
	svc := newTestService(events, store, clock, nil)

	// Seed both days with finalized garbage.
	for _, d := range []string{"2024-01-01", "2024-01-02"} {
		entry := CacheEntry{
			Rollup:     rollupWithModel(day(t, d), "outdated", 99, 99_000_000),
			ComputedAt: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			Final:      true,
		}
		if err := store.Put(context.Background(), entry); err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	rebuilt, err := svc.RecomputeRange(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-01"), End: day(t, "2024-01-03"),
	})
	if err != nil {
		t.Fatalf("recompute range: %v", err)
	}
	if rebuilt != 2 {
		t.Fatalf("expected 2 rebuilt days, got %d", rebuilt)
	}

	report, err := svc.GetUsage(context.Background(), adminCaller, Query{
		Start: day(t, "2024-01-01"), End: day(t, "2024-01-03"),
	})
	if err != nil {
		t.Fatalf("get usage after recompute: %v", err)
	}
	if report.Result.Totals.Requests != 6 {
		t.Fatalf("recompute did not replace finalized entries: %+v", report.Result.Totals)
	}
}
