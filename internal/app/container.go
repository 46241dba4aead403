package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/castlebay/modeldesk/internal/analytics"
	"github.com/castlebay/modeldesk/internal/config"
	"github.com/castlebay/modeldesk/internal/limits"
	"github.com/castlebay/modeldesk/internal/locks"
	"github.com/castlebay/modeldesk/internal/observability"
	"github.com/castlebay/modeldesk/internal/store"
)

// Container wires the process dependencies once at startup and owns their
// shutdown order.
type Container struct {
	Config        *config.Config
	Logger        *slog.Logger
	DBPool        *pgxpool.Pool
	Redis         *redis.Client
	Observability *observability.Provider

	UsageService *analytics.Service
	CacheManager *analytics.CacheManager
	RateLimiter  *limits.RateLimiter
}

// NewContainer assembles the usage analytics engine on top of the already
// connected infrastructure.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client) (*Container, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	obs, err := observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Reporting.Timezone)
	if err != nil {
		loc = time.UTC
	}

	eventStore := store.NewEventStore(pool)
	rollupStore := store.NewRollupStore(pool)
	directory := store.NewDirectory(pool)
	locker := locks.NewRedisLocker(redisClient, "modeldesk:lock")

	aggregator := analytics.NewDayAggregator(eventStore,
		cfg.Analytics.EventPageSize, cfg.Analytics.UpstreamRetries, logger)
	cacheManager := analytics.NewCacheManager(rollupStore, aggregator, locker, analytics.CacheManagerConfig{
		CurrentDayTTL:    cfg.Analytics.CurrentDayTTL,
		BuildTimeout:     cfg.Analytics.BuildTimeout,
		BuildConcurrency: cfg.Analytics.BuildConcurrency,
		Location:         loc,
	}, logger, obs.Cache())
	enricher := analytics.NewEnricher(directory, cfg.Analytics.UpstreamRetries, logger)
	usageService := analytics.NewService(cacheManager, enricher, analytics.ServiceConfig{
		MaxRangeDays: cfg.Analytics.MaxRangeDays,
		Location:     loc,
	}, logger)

	return &Container{
		Config:        cfg,
		Logger:        logger,
		DBPool:        pool,
		Redis:         redisClient,
		Observability: obs,
		UsageService:  usageService,
		CacheManager:  cacheManager,
		RateLimiter:   limits.NewRateLimiter(redisClient, cfg.Server.AdminRequestsPerMinute, time.Minute),
	}, nil
}
