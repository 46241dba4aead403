// Command recompute forces a rebuild of cached daily rollups for a date
// range, finalized days included. It is the operational path for correcting
// historical data after backfills or event fixes.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/castlebay/modeldesk/internal/analytics"
	"github.com/castlebay/modeldesk/internal/app"
	"github.com/castlebay/modeldesk/internal/config"
	"github.com/castlebay/modeldesk/internal/database"
	"github.com/castlebay/modeldesk/internal/redisclient"
	"github.com/castlebay/modeldesk/internal/timeutil"
)

func main() {
	startFlag := flag.String("start", "", "first day to rebuild (YYYY-MM-DD)")
	endFlag := flag.String("end", "", "last day to rebuild, inclusive (YYYY-MM-DD)")
	models := flag.String("models", "", "comma-separated model filter")
	users := flag.String("users", "", "comma-separated user filter")
	providers := flag.String("providers", "", "comma-separated provider filter")
	apiKeys := flag.String("api-keys", "", "comma-separated API key filter")
	flag.Parse()

	if *startFlag == "" || *endFlag == "" {
		log.Fatalf("-start and -end are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	loc, err := time.LoadLocation(cfg.Reporting.Timezone)
	if err != nil {
		loc = time.UTC
	}
	start, err := time.ParseInLocation("2006-01-02", *startFlag, loc)
	if err != nil {
		log.Fatalf("parse -start: %v", err)
	}
	endDay, err := time.ParseInLocation("2006-01-02", *endFlag, loc)
	if err != nil {
		log.Fatalf("parse -end: %v", err)
	}

	dbPool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer dbPool.Close()

	redisClient := redisclient.New(cfg.Redis)
	if err := redisclient.Ping(ctx, redisClient); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()

	container, err := app.NewContainer(ctx, cfg, dbPool, redisClient)
	if err != nil {
		log.Fatalf("build container: %v", err)
	}

	query := analytics.Query{
		Start: start,
		End:   timeutil.NextDay(endDay),
		Filters: analytics.Filters{
			Models:    splitList(*models),
			Users:     splitList(*users),
			Providers: splitList(*providers),
			APIKeys:   splitList(*apiKeys),
		},
	}
	operator := analytics.Caller{ID: "cli:recompute", AdminRead: true}

	rebuilt, err := container.UsageService.RecomputeRange(ctx, operator, query)
	if err != nil {
		log.Fatalf("recompute failed after %d days: %v", rebuilt, err)
	}
	log.Printf("rebuilt %d days for signature %s", rebuilt, query.Filters.Signature())
}

func splitList(raw string) []string {
	if raw = strings.TrimSpace(raw); raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
