package analytics

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Metrics holds the additive counters tracked for a rollup or a breakdown key.
type Metrics struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
	CostUSDMicros    int64 `json:"cost_usd_micros"`
	// CostedRequests counts only events that carried a cost. It is the
	// denominator for cost averages so unpriced requests do not drag the
	// average toward zero.
	CostedRequests int64 `json:"costed_requests"`
}

// Add accumulates one event into the metrics.
func (m *Metrics) Add(ev UsageEvent) {
	m.Requests++
	m.PromptTokens += ev.PromptTokens
	m.CompletionTokens += ev.CompletionTokens
	m.TotalTokens += ev.PromptTokens + ev.CompletionTokens
	if ev.CostUSDMicros != nil {
		m.CostUSDMicros += *ev.CostUSDMicros
		m.CostedRequests++
	}
}

// Merge sums another metrics value into the receiver.
func (m *Metrics) Merge(other Metrics) {
	m.Requests += other.Requests
	m.PromptTokens += other.PromptTokens
	m.CompletionTokens += other.CompletionTokens
	m.TotalTokens += other.TotalTokens
	m.CostUSDMicros += other.CostUSDMicros
	m.CostedRequests += other.CostedRequests
}

// CostUSD returns the accumulated cost in dollars.
func (m Metrics) CostUSD() float64 {
	return MicrosToUSD(m.CostUSDMicros)
}

// AverageCostUSD returns the mean cost per priced request, or 0 when no
// request carried a cost.
func (m Metrics) AverageCostUSD() float64 {
	if m.CostedRequests == 0 {
		return 0
	}
	avg := decimal.NewFromInt(m.CostUSDMicros).
		Div(decimal.NewFromInt(m.CostedRequests)).
		Div(decimal.NewFromInt(1_000_000))
	f, _ := avg.Float64()
	return f
}

// MicrosToUSD converts integer micro-dollars to dollars.
func MicrosToUSD(micros int64) float64 {
	f, _ := decimal.NewFromInt(micros).Div(decimal.NewFromInt(1_000_000)).Float64()
	return f
}

// DailyRollup is the cache unit: all metrics for one calendar day under one
// filter signature, with per-dimension breakdowns.
type DailyRollup struct {
	Day        time.Time          `json:"day"`
	Signature  string             `json:"signature"`
	Totals     Metrics            `json:"totals"`
	ByModel    map[string]Metrics `json:"by_model"`
	ByUser     map[string]Metrics `json:"by_user"`
	ByProvider map[string]Metrics `json:"by_provider"`
	ByAPIKey   map[string]Metrics `json:"by_api_key"`
	// Failed marks a placeholder produced when the day could not be built.
	// Failed rollups carry zeroed metrics and are never persisted.
	Failed        bool   `json:"failed,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// NewDailyRollup returns an empty rollup for the given key.
func NewDailyRollup(day time.Time, signature string) DailyRollup {
	return DailyRollup{
		Day:        day,
		Signature:  signature,
		ByModel:    make(map[string]Metrics),
		ByUser:     make(map[string]Metrics),
		ByProvider: make(map[string]Metrics),
		ByAPIKey:   make(map[string]Metrics),
	}
}

// FailedRollup returns the zeroed placeholder substituted for a day whose
// build failed.
func FailedRollup(day time.Time, signature, reason string) DailyRollup {
	r := NewDailyRollup(day, signature)
	r.Failed = true
	r.FailureReason = reason
	return r
}

// CacheEntry wraps a rollup with its cache lifecycle metadata. Entries are
// replaced on recompute, never mutated in place.
type CacheEntry struct {
	Rollup     DailyRollup
	ComputedAt time.Time
	// Final is true once the rollup's calendar day has fully elapsed. Final
	// entries are served without a TTL check until an explicit recompute.
	Final bool
	// TTL bounds how long a non-final (current day) entry is served before a
	// rebuild. Zero for final entries.
	TTL time.Duration
}

// Fresh reports whether the entry may be served at the given instant.
func (e *CacheEntry) Fresh(now time.Time) bool {
	if e == nil {
		return false
	}
	if e.Final {
		return true
	}
	return now.Sub(e.ComputedAt) < e.TTL
}

// RollupStore is the durable tier of the cache. The cache manager is its only
// writer.
type RollupStore interface {
	// Get returns the entry for (day, signature), or nil when none exists.
	Get(ctx context.Context, day time.Time, signature string) (*CacheEntry, error)
	// Put stores the entry, replacing any previous one for the same key.
	Put(ctx context.Context, entry CacheEntry) error
}
