package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/castlebay/modeldesk/internal/timeutil"
)

// BreakdownItem is one key of a per-dimension breakdown, ordered by spend.
type BreakdownItem struct {
	Key         string `json:"key"`
	DisplayName string `json:"display_name,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Unknown     bool   `json:"unknown,omitempty"`
	Metrics
}

// DayPoint is one day of the time series inside an aggregated result.
type DayPoint struct {
	Day    time.Time `json:"day"`
	Failed bool      `json:"failed,omitempty"`
	Metrics
}

// AggregatedResult is the merge of per-day rollups over a date range.
type AggregatedResult struct {
	Start      time.Time       `json:"start"`
	End        time.Time       `json:"end"`
	Timezone   string          `json:"timezone"`
	Totals     Metrics         `json:"totals"`
	ByModel    []BreakdownItem `json:"by_model"`
	ByUser     []BreakdownItem `json:"by_user"`
	ByProvider []BreakdownItem `json:"by_provider"`
	ByAPIKey   []BreakdownItem `json:"by_api_key"`
	Series     []DayPoint      `json:"series"`
	// Partial is true when one or more days could not be built and were
	// replaced with zeroed placeholders listed in FailedDays.
	Partial    bool     `json:"partial"`
	FailedDays []string `json:"failed_days,omitempty"`
}

// ValidateRange rejects inverted or over-wide ranges. Violations are errors,
// never silent clamps.
func ValidateRange(start, end time.Time, maxDays int, loc *time.Location) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidRange,
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	if maxDays > 0 {
		if days := timeutil.DaysInRange(start, end, loc); len(days) > maxDays {
			return fmt.Errorf("%w: %d days requested, maximum is %d", ErrRangeTooWide, len(days), maxDays)
		}
	}
	return nil
}

// Merge combines per-day rollups into one result. It is commutative and
// associative over the day set: build completion order never changes the
// output. topN, when positive, truncates each breakdown after ordering; it is
// applied only here so the per-day cache stays reusable across different
// top-N requests.
func Merge(start, end time.Time, loc *time.Location, rollups []DailyRollup, topN int) AggregatedResult {
	loc = timeutil.EnsureLocation(loc)
	result := AggregatedResult{
		Start:    start,
		End:      end,
		Timezone: loc.String(),
	}

	byModel := make(map[string]Metrics)
	byUser := make(map[string]Metrics)
	byProvider := make(map[string]Metrics)
	byAPIKey := make(map[string]Metrics)

	ordered := make([]DailyRollup, len(rollups))
	copy(ordered, rollups)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Day.Before(ordered[j].Day) })

	for _, r := range ordered {
		result.Series = append(result.Series, DayPoint{Day: r.Day, Failed: r.Failed, Metrics: r.Totals})
		if r.Failed {
			result.Partial = true
			result.FailedDays = append(result.FailedDays, r.Day.Format("2006-01-02"))
			continue
		}
		result.Totals.Merge(r.Totals)
		mergeBreakdown(byModel, r.ByModel)
		mergeBreakdown(byUser, r.ByUser)
		mergeBreakdown(byProvider, r.ByProvider)
		mergeBreakdown(byAPIKey, r.ByAPIKey)
	}

	result.ByModel = orderBreakdown(byModel, topN)
	result.ByUser = orderBreakdown(byUser, topN)
	result.ByProvider = orderBreakdown(byProvider, topN)
	result.ByAPIKey = orderBreakdown(byAPIKey, topN)
	return result
}

func mergeBreakdown(dst map[string]Metrics, src map[string]Metrics) {
	for key, metrics := range src {
		acc := dst[key]
		acc.Merge(metrics)
		dst[key] = acc
	}
}

// orderBreakdown flattens a breakdown map into a deterministic list: spend
// descending, then request count, then key.
func orderBreakdown(m map[string]Metrics, topN int) []BreakdownItem {
	items := make([]BreakdownItem, 0, len(m))
	for key, metrics := range m {
		items = append(items, BreakdownItem{Key: key, Metrics: metrics})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CostUSDMicros != items[j].CostUSDMicros {
			return items[i].CostUSDMicros > items[j].CostUSDMicros
		}
		if items[i].Requests != items[j].Requests {
			return items[i].Requests > items[j].Requests
		}
		return items[i].Key < items[j].Key
	})
	if topN > 0 && len(items) > topN {
		items = items[:topN]
	}
	return items
}
