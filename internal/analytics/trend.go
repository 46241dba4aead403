package analytics

import "time"

// Delta captures the change of one metric between the prior and current
// periods. Percent is nil when the prior value was zero, since a percentage
// against nothing would be misleading.
type Delta struct {
	Absolute float64  `json:"absolute"`
	Percent  *float64 `json:"percent"`
}

// TrendComparison pairs the current result with the immediately preceding
// period of the same length.
type TrendComparison struct {
	Current AggregatedResult `json:"current"`
	Prior   AggregatedResult `json:"prior"`
	Deltas  map[string]Delta `json:"deltas"`
}

// PriorWindow returns the comparison bounds: the same span ending where the
// current range starts.
func PriorWindow(start, end time.Time) (time.Time, time.Time) {
	span := end.Sub(start)
	return start.Add(-span), start
}

// CompareTrend derives per-metric deltas between the two periods.
func CompareTrend(current, prior AggregatedResult) TrendComparison {
	return TrendComparison{
		Current: current,
		Prior:   prior,
		Deltas: map[string]Delta{
			"requests":     metricDelta(float64(prior.Totals.Requests), float64(current.Totals.Requests)),
			"total_tokens": metricDelta(float64(prior.Totals.TotalTokens), float64(current.Totals.TotalTokens)),
			"cost_usd":     metricDelta(prior.Totals.CostUSD(), current.Totals.CostUSD()),
		},
	}
}

func metricDelta(prior, current float64) Delta {
	d := Delta{Absolute: current - prior}
	if prior != 0 {
		pct := (current - prior) / prior * 100
		d.Percent = &pct
	}
	return d
}
