package analytics

import "fmt"

// ExportGranularity selects how rows are bucketed in time.
type ExportGranularity string

const (
	// ExportByRange emits one row per dimension key covering the whole range.
	ExportByRange ExportGranularity = "range"
	// ExportByDay emits one row per dimension key per day.
	ExportByDay ExportGranularity = "day"
)

// ExportDimension selects which breakdown the rows are drawn from.
type ExportDimension string

const (
	ExportModels    ExportDimension = "model"
	ExportUsers     ExportDimension = "user"
	ExportProviders ExportDimension = "provider"
	ExportAPIKeys   ExportDimension = "api_key"
)

// ExportShape describes the requested row layout.
type ExportShape struct {
	Granularity ExportGranularity
	Dimension   ExportDimension
}

// Validate checks the shape against the supported values.
func (s ExportShape) Validate() error {
	switch s.Granularity {
	case ExportByRange, ExportByDay:
	default:
		return fmt.Errorf("%w: unknown export granularity %q", ErrInvalidFilter, s.Granularity)
	}
	switch s.Dimension {
	case ExportModels, ExportUsers, ExportProviders, ExportAPIKeys:
	default:
		return fmt.Errorf("%w: unknown export dimension %q", ErrInvalidFilter, s.Dimension)
	}
	return nil
}

// ExportRow is one flat record of an export stream.
type ExportRow struct {
	Date             string  `json:"date,omitempty"`
	Dimension        string  `json:"dimension"`
	Key              string  `json:"key"`
	DisplayName      string  `json:"display_name,omitempty"`
	Provider         string  `json:"provider,omitempty"`
	Unknown          bool    `json:"unknown,omitempty"`
	Requests         int64   `json:"requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	AverageCostUSD   float64 `json:"average_cost_usd"`
}

// ExportCursor is a lazy, finite, non-restartable sequence of export rows in
// the style of sql.Rows: call Next, then Row.
type ExportCursor struct {
	shape ExportShape
	names map[string]BreakdownItem

	// range granularity
	items   []BreakdownItem
	itemIdx int

	// day granularity
	rollups []DailyRollup
	dayIdx  int
	dayRows []BreakdownItem
	rowIdx  int

	current ExportRow
	done    bool
}

// newRangeCursor streams the already-merged breakdown of a result.
func newRangeCursor(shape ExportShape, items []BreakdownItem) *ExportCursor {
	return &ExportCursor{shape: shape, items: items}
}

// newDayCursor streams per-day breakdown rows. The names map carries
// enrichment resolved at the merged level so day rows stay consistent with
// the on-screen result.
func newDayCursor(shape ExportShape, rollups []DailyRollup, names map[string]BreakdownItem) *ExportCursor {
	return &ExportCursor{shape: shape, rollups: rollups, names: names}
}

// Next advances to the next row. It returns false once the sequence is
// exhausted and never yields rows again after that.
func (c *ExportCursor) Next() bool {
	if c == nil || c.done {
		return false
	}
	if c.shape.Granularity == ExportByRange {
		if c.itemIdx >= len(c.items) {
			c.done = true
			return false
		}
		item := c.items[c.itemIdx]
		c.itemIdx++
		c.current = c.rowFromItem("", item)
		return true
	}

	for {
		if c.rowIdx < len(c.dayRows) {
			day := c.rollups[c.dayIdx-1]
			item := c.dayRows[c.rowIdx]
			c.rowIdx++
			c.current = c.rowFromItem(day.Day.Format("2006-01-02"), item)
			return true
		}
		if c.dayIdx >= len(c.rollups) {
			c.done = true
			return false
		}
		// Flatten the next day's breakdown only when the stream reaches it.
		day := c.rollups[c.dayIdx]
		c.dayIdx++
		c.rowIdx = 0
		if day.Failed {
			c.dayRows = nil
			continue
		}
		c.dayRows = orderBreakdown(c.breakdownFor(day), 0)
	}
}

// Row returns the row positioned by the last successful Next call.
func (c *ExportCursor) Row() ExportRow { return c.current }

func (c *ExportCursor) breakdownFor(r DailyRollup) map[string]Metrics {
	switch c.shape.Dimension {
	case ExportUsers:
		return r.ByUser
	case ExportProviders:
		return r.ByProvider
	case ExportAPIKeys:
		return r.ByAPIKey
	default:
		return r.ByModel
	}
}

func (c *ExportCursor) rowFromItem(date string, item BreakdownItem) ExportRow {
	row := ExportRow{
		Date:             date,
		Dimension:        string(c.shape.Dimension),
		Key:              item.Key,
		DisplayName:      item.DisplayName,
		Provider:         item.Provider,
		Unknown:          item.Unknown,
		Requests:         item.Requests,
		PromptTokens:     item.PromptTokens,
		CompletionTokens: item.CompletionTokens,
		TotalTokens:      item.TotalTokens,
		CostUSD:          item.CostUSD(),
		AverageCostUSD:   item.AverageCostUSD(),
	}
	if named, ok := c.names[item.Key]; ok {
		row.DisplayName = named.DisplayName
		row.Provider = named.Provider
		row.Unknown = named.Unknown
	}
	if row.DisplayName == "" {
		row.DisplayName = item.Key
	}
	return row
}
