package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castlebay/modeldesk/internal/timeutil"
)

// Caller is the already-authorized identity handed in by the transport layer.
// The engine only checks the admin-read flag; authentication happens outside.
type Caller struct {
	ID        string
	AdminRead bool
}

// Query describes one usage report request.
type Query struct {
	Start   time.Time
	End     time.Time
	Filters Filters
	// Compare attaches a prior-period trend comparison.
	Compare bool
	// TopN truncates each breakdown after merging. Zero keeps everything.
	TopN int
}

// UsageReport is the orchestrator's response: the aggregated range, plus the
// trend comparison when requested.
type UsageReport struct {
	Result AggregatedResult `json:"result"`
	Trend  *TrendComparison `json:"trend,omitempty"`
}

// ServiceConfig bounds what a single request may ask for.
type ServiceConfig struct {
	MaxRangeDays int
	Location     *time.Location
}

// Service is the usage-analytics façade called by the HTTP layer.
type Service struct {
	cache    *CacheManager
	enricher *Enricher
	cfg      ServiceConfig
	logger   *slog.Logger
}

// NewService wires the orchestrator over its cache and enrichment stages.
func NewService(cache *CacheManager, enricher *Enricher, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = 180
	}
	cfg.Location = timeutil.EnsureLocation(cfg.Location)
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cache: cache, enricher: enricher, cfg: cfg, logger: logger}
}

// GetUsage aggregates the requested range, serving days from the rollup
// cache. The result carries a partial flag when any day failed to build.
func (s *Service) GetUsage(ctx context.Context, caller Caller, q Query) (*UsageReport, error) {
	filters, err := s.authorizeAndValidate(caller, &q)
	if err != nil {
		return nil, err
	}

	result, err := s.aggregateRange(ctx, q.Start, q.End, filters, q.TopN)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{Result: result}
	if q.Compare {
		priorStart, priorEnd := PriorWindow(q.Start, q.End)
		prior, err := s.aggregateRange(ctx, priorStart, priorEnd, filters, q.TopN)
		if err != nil {
			return nil, err
		}
		trend := CompareTrend(result, prior)
		report.Trend = &trend
	}

	if report.Result.Partial {
		s.logger.Warn("usage report is partial",
			slog.String("caller", caller.ID),
			slog.Any("failed_days", report.Result.FailedDays))
	}
	return report, nil
}

// ExportUsage streams the same aggregation as GetUsage as flat rows. The
// cursor reflects the identical filters and cache snapshot, so export and
// on-screen results agree for a given request.
func (s *Service) ExportUsage(ctx context.Context, caller Caller, q Query, shape ExportShape) (*ExportCursor, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	filters, err := s.authorizeAndValidate(caller, &q)
	if err != nil {
		return nil, err
	}

	rollups, _, err := s.cache.RangeRollups(ctx, q.Start, q.End, filters)
	if err != nil {
		return nil, err
	}
	result := Merge(q.Start, q.End, s.cfg.Location, rollups, q.TopN)
	s.enricher.EnrichResult(ctx, &result)

	if shape.Granularity == ExportByRange {
		return newRangeCursor(shape, breakdownItems(result, shape.Dimension)), nil
	}

	names := make(map[string]BreakdownItem)
	for _, item := range breakdownItems(result, shape.Dimension) {
		names[item.Key] = item
	}
	return newDayCursor(shape, rollups, names), nil
}

// RecomputeRange forcibly rebuilds every day in the range, finalized days
// included. It returns how many days were rebuilt; days that fail to rebuild
// are reported in the error without stopping the rest.
func (s *Service) RecomputeRange(ctx context.Context, caller Caller, q Query) (int, error) {
	filters, err := s.authorizeAndValidate(caller, &q)
	if err != nil {
		return 0, err
	}

	days := timeutil.DaysInRange(q.Start, q.End, s.cfg.Location)
	var rebuilt atomic.Int64
	var failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cache.cfg.BuildConcurrency)
	for _, day := range days {
		g.Go(func() error {
			if _, err := s.cache.Recompute(gctx, day, filters); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				s.logger.Error("recompute day failed",
					slog.String("day", day.Format("2006-01-02")),
					slog.String("error", err.Error()))
				return nil
			}
			rebuilt.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(rebuilt.Load()), err
	}

	s.logger.Info("range recompute finished",
		slog.String("caller", caller.ID),
		slog.String("signature", filters.Signature()),
		slog.Int64("rebuilt", rebuilt.Load()),
		slog.Int64("failed", failed.Load()))

	if n := failed.Load(); n > 0 {
		return int(rebuilt.Load()), fmt.Errorf("%w: %d of %d days failed to rebuild", ErrUpstreamRead, n, len(days))
	}
	return int(rebuilt.Load()), nil
}

func (s *Service) authorizeAndValidate(caller Caller, q *Query) (Filters, error) {
	if !caller.AdminRead {
		return Filters{}, fmt.Errorf("%w: caller %s", ErrUnauthorized, caller.ID)
	}
	filters, err := q.Filters.Normalize()
	if err != nil {
		return Filters{}, err
	}
	if err := ValidateRange(q.Start, q.End, s.cfg.MaxRangeDays, s.cfg.Location); err != nil {
		return Filters{}, err
	}
	return filters, nil
}

func (s *Service) aggregateRange(ctx context.Context, start, end time.Time, filters Filters, topN int) (AggregatedResult, error) {
	rollups, _, err := s.cache.RangeRollups(ctx, start, end, filters)
	if err != nil {
		return AggregatedResult{}, err
	}
	result := Merge(start, end, s.cfg.Location, rollups, topN)
	s.enricher.EnrichResult(ctx, &result)
	return result, nil
}

func breakdownItems(result AggregatedResult, dim ExportDimension) []BreakdownItem {
	switch dim {
	case ExportUsers:
		return result.ByUser
	case ExportProviders:
		return result.ByProvider
	case ExportAPIKeys:
		return result.ByAPIKey
	default:
		return result.ByModel
	}
}
