package admin

import (
	"testing"
	"time"

	"github.com/castlebay/modeldesk/internal/app"
	"github.com/castlebay/modeldesk/internal/config"
)

func testHandler(tz string) *usageHandler {
	return &usageHandler{
		container: &app.Container{
			Config: &config.Config{
				Reporting: config.ReportingConfig{Timezone: tz},
			},
		},
	}
}

func TestResolveWindowRollingPeriod(t *testing.T) {
	h := testHandler("UTC")

	before := time.Now()
	start, end, err := h.resolveWindow("7d", "", "")
	if err != nil {
		t.Fatalf("resolve window: %v", err)
	}
	if end.Sub(start) != 7*24*time.Hour {
		t.Fatalf("unexpected span %v", end.Sub(start))
	}
	if end.Before(before) || end.After(time.Now().Add(time.Second)) {
		t.Fatalf("rolling window must end now, got %v", end)
	}
}

func TestResolveWindowPeriodOverridesDates(t *testing.T) {
	h := testHandler("UTC")

	start, end, err := h.resolveWindow("24h", "2024-03-01", "2024-03-05")
	if err != nil {
		t.Fatalf("resolve window: %v", err)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("period must win over explicit dates, got span %v", end.Sub(start))
	}
}

func TestResolveWindowInvalidPeriod(t *testing.T) {
	h := testHandler("UTC")
	if _, _, err := h.resolveWindow("fortnight", "", ""); err == nil {
		t.Fatalf("expected error for unparseable period")
	}
}

func TestParseRangeInclusiveDates(t *testing.T) {
	h := testHandler("UTC")

	start, end, err := h.parseRange("2024-03-01", "2024-03-03")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	if !start.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %v", start)
	}
	// The inclusive end date covers the whole of March 3rd.
	if !end.Equal(time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected end %v", end)
	}
}

func TestParseRangeSingleDay(t *testing.T) {
	h := testHandler("UTC")

	start, end, err := h.parseRange("2024-03-01", "2024-03-01")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	if end.Sub(start) != 24*time.Hour {
		t.Fatalf("single inclusive day must span 24h, got %v", end.Sub(start))
	}
}

func TestParseRangeRejectsInvertedDates(t *testing.T) {
	h := testHandler("UTC")
	if _, _, err := h.parseRange("2024-03-05", "2024-03-01"); err == nil {
		t.Fatalf("expected error when end precedes start")
	}
	if _, _, err := h.parseRange("not-a-date", "2024-03-01"); err == nil {
		t.Fatalf("expected error for malformed start date")
	}
}
