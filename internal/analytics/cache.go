package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/castlebay/modeldesk/internal/locks"
	"github.com/castlebay/modeldesk/internal/observability"
	"github.com/castlebay/modeldesk/internal/timeutil"
)

// CacheManagerConfig tunes the rollup cache.
type CacheManagerConfig struct {
	CurrentDayTTL    time.Duration
	BuildTimeout     time.Duration
	BuildConcurrency int
	Location         *time.Location
}

func (c CacheManagerConfig) withDefaults() CacheManagerConfig {
	if c.CurrentDayTTL <= 0 {
		c.CurrentDayTTL = 5 * time.Minute
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = 30 * time.Second
	}
	if c.BuildConcurrency <= 0 {
		c.BuildConcurrency = 4
	}
	c.Location = timeutil.EnsureLocation(c.Location)
	return c
}

// CacheManager owns the rollup cache: it decides which days are served from
// the store, deduplicates concurrent builds, and is the store's only writer.
type CacheManager struct {
	store   RollupStore
	agg     *DayAggregator
	locker  locks.Locker
	cfg     CacheManagerConfig
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.CacheMetrics
}

// NewCacheManager wires the cache over its durable store and aggregator. A
// nil locker disables cross-process coordination.
func NewCacheManager(store RollupStore, agg *DayAggregator, locker locks.Locker, cfg CacheManagerConfig, logger *slog.Logger, metrics *observability.CacheMetrics) *CacheManager {
	if locker == nil {
		locker = locks.NopLocker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheManager{
		store:   store,
		agg:     agg,
		locker:  locker,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}
}

// SetClock overrides the manager's time source. Tests only.
func (c *CacheManager) SetClock(now func() time.Time) { c.now = now }

// Rollup returns the cached rollup for (day, filters), building it when
// absent or stale. Final (past-day) entries are served without a TTL check.
func (c *CacheManager) Rollup(ctx context.Context, day time.Time, filters Filters) (*CacheEntry, error) {
	day = timeutil.TruncateToDay(day, c.cfg.Location)
	signature := filters.Signature()

	entry, err := c.store.Get(ctx, day, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: read rollup cache: %v", ErrUpstreamRead, err)
	}
	if entry != nil {
		if entry.Final {
			c.metrics.Hit(true)
			return entry, nil
		}
		if entry.Fresh(c.now()) {
			c.metrics.Hit(false)
			return entry, nil
		}
	}
	c.metrics.Miss()
	return c.build(ctx, day, signature, filters, false)
}

// Recompute forcibly rebuilds the rollup for (day, filters), replacing the
// cache entry even when the day is final. This is the only path that may
// invalidate a finalized rollup.
func (c *CacheManager) Recompute(ctx context.Context, day time.Time, filters Filters) (*CacheEntry, error) {
	day = timeutil.TruncateToDay(day, c.cfg.Location)
	return c.build(ctx, day, filters.Signature(), filters, true)
}

// RangeRollups resolves one rollup per calendar day overlapping [start, end).
// Days build in parallel up to the configured concurrency. A day whose build
// fails is substituted with a zeroed placeholder; the returned failedDays
// lists those days in YYYY-MM-DD form. Only caller cancellation aborts the
// whole range.
func (c *CacheManager) RangeRollups(ctx context.Context, start, end time.Time, filters Filters) (rollups []DailyRollup, failedDays []string, err error) {
	days := timeutil.DaysInRange(start, end, c.cfg.Location)
	if len(days) == 0 {
		return nil, nil, nil
	}

	results := make([]DailyRollup, len(days))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.BuildConcurrency)

	for i, day := range days {
		g.Go(func() error {
			entry, buildErr := c.Rollup(gctx, day, filters)
			if buildErr != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Error("day rollup failed, substituting placeholder",
					slog.String("day", day.Format("2006-01-02")),
					slog.String("signature", filters.Signature()),
					slog.String("error", buildErr.Error()))
				results[i] = FailedRollup(day, filters.Signature(), buildErr.Error())
				return nil
			}
			results[i] = entry.Rollup
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, r := range results {
		if r.Failed {
			failedDays = append(failedDays, r.Day.Format("2006-01-02"))
		}
	}
	return results, failedDays, nil
}

// build deduplicates concurrent builders for the same key. The winning
// builder runs detached from its caller's cancellation: a build observed by
// several waiters must survive any one of them disconnecting, and even a sole
// requester's build completes and populates the cache.
func (c *CacheManager) build(ctx context.Context, day time.Time, signature string, filters Filters, force bool) (*CacheEntry, error) {
	key := day.Format("2006-01-02") + "|" + signature

	ch := c.group.DoChan(key, func() (interface{}, error) {
		buildCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BuildTimeout)
		defer cancel()
		return c.buildLocked(buildCtx, day, signature, filters, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*CacheEntry), nil
	case <-ctx.Done():
		// The caller is gone; the in-flight build keeps running and will
		// populate the cache on its own.
		return nil, ctx.Err()
	}
}

func (c *CacheManager) buildLocked(ctx context.Context, day time.Time, signature string, filters Filters, force bool) (*CacheEntry, error) {
	lockName := "rollup:" + day.Format("2006-01-02") + ":" + signature
	lock, err := c.locker.Acquire(ctx, lockName, c.cfg.BuildTimeout+5*time.Second)
	if err != nil {
		if !errors.Is(err, locks.ErrNotAcquired) {
			return nil, fmt.Errorf("%w: acquire build lock: %v", ErrUpstreamRead, err)
		}
		if force {
			// A recompute must replace the stored entry even while a peer
			// holds the lock; waiting would hand back the very rollup the
			// caller is invalidating.
			return c.runBuild(ctx, day, signature, filters, force)
		}
		// Another process holds the builder lock. Wait for its result to land
		// in the store; if it never does, fall back to building ourselves.
		if entry, ok := c.awaitPeerBuild(ctx, day, signature); ok {
			return entry, nil
		}
		return c.runBuild(ctx, day, signature, filters, force)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			c.logger.Warn("release build lock", slog.String("lock", lockName), slog.String("error", err.Error()))
		}
	}()

	if !force {
		// Re-check under the lock: a peer may have finished the build between
		// our staleness check and lock acquisition.
		entry, err := c.store.Get(ctx, day, signature)
		if err == nil && entry.Fresh(c.now()) {
			return entry, nil
		}
	}

	return c.runBuild(ctx, day, signature, filters, force)
}

func (c *CacheManager) runBuild(ctx context.Context, day time.Time, signature string, filters Filters, force bool) (*CacheEntry, error) {
	started := c.now()
	rollup, err := c.agg.Aggregate(ctx, day, filters)
	if err != nil {
		if ctx.Err() != nil {
			c.metrics.BuildFinished("timeout", c.now().Sub(started))
			return nil, fmt.Errorf("%w: day %s", ErrBuildTimeout, day.Format("2006-01-02"))
		}
		c.metrics.BuildFinished("error", c.now().Sub(started))
		return nil, err
	}

	now := c.now()
	entry := &CacheEntry{
		Rollup:     rollup,
		ComputedAt: now,
		Final:      day.Before(timeutil.TruncateToDay(now, c.cfg.Location)),
	}
	if !entry.Final {
		entry.TTL = c.cfg.CurrentDayTTL
	}

	if err := c.store.Put(ctx, *entry); err != nil {
		// The computed rollup is still good; serve it and let the next miss
		// retry persistence.
		c.logger.Warn("persist rollup failed",
			slog.String("day", day.Format("2006-01-02")),
			slog.String("signature", signature),
			slog.String("error", err.Error()))
	}

	c.metrics.BuildFinished("ok", c.now().Sub(started))
	c.logger.Debug("rollup built",
		slog.String("day", day.Format("2006-01-02")),
		slog.String("signature", signature),
		slog.Bool("final", entry.Final),
		slog.Bool("forced", force),
		slog.Int64("requests", rollup.Totals.Requests))
	return entry, nil
}

// awaitPeerBuild polls the store while a peer process holds the build lock.
func (c *CacheManager) awaitPeerBuild(ctx context.Context, day time.Time, signature string) (*CacheEntry, bool) {
	deadline := c.now().Add(c.cfg.BuildTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		entry, err := c.store.Get(ctx, day, signature)
		if err == nil && entry.Fresh(c.now()) {
			return entry, true
		}
		if c.now().After(deadline) {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-ticker.C:
		}
	}
}
