// Command seedevents populates a development database with synthetic usage
// events and matching catalog entries so the analytics endpoints have data to
// aggregate.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/castlebay/modeldesk/internal/config"
	"github.com/castlebay/modeldesk/internal/database"
)

type seedModel struct {
	id          string
	displayName string
	provider    string
	costPerCall int64
}

var seedModels = []seedModel{
	{"gpt-4o", "GPT-4o", "openai", 950_000},
	{"gpt-4o-mini", "GPT-4o mini", "openai", 80_000},
	{"claude-3-5-sonnet", "Claude 3.5 Sonnet", "anthropic", 700_000},
	{"llama-3-70b", "Llama 3 70B", "meta", 120_000},
}

func main() {
	days := flag.Int("days", 30, "number of past days to seed, ending today")
	perDay := flag.Int("per-day", 200, "events per day")
	userCount := flag.Int("users", 8, "number of synthetic users")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := database.RunMigrations(ctx, cfg.Database); err != nil {
		log.Fatalf("run migrations: %v", err)
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	userIDs := make([]string, *userCount)
	for i := range userIDs {
		userIDs[i] = uuid.NewString()
		name := fmt.Sprintf("Seed User %02d", i+1)
		if _, err := pool.Exec(ctx,
			`INSERT INTO platform_users (user_id, display_name) VALUES ($1, $2)
			 ON CONFLICT (user_id) DO NOTHING`, userIDs[i], name); err != nil {
			log.Fatalf("seed user: %v", err)
		}
	}

	for _, m := range seedModels {
		if _, err := pool.Exec(ctx,
			`INSERT INTO model_catalog (model_id, display_name, provider) VALUES ($1, $2, $3)
			 ON CONFLICT (model_id) DO UPDATE SET display_name = EXCLUDED.display_name, provider = EXCLUDED.provider`,
			m.id, m.displayName, m.provider); err != nil {
			log.Fatalf("seed model: %v", err)
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now().UTC()
	total := 0
	for d := 0; d < *days; d++ {
		day := now.AddDate(0, 0, -d).Truncate(24 * time.Hour)
		for i := 0; i < *perDay; i++ {
			m := seedModels[rng.Intn(len(seedModels))]
			prompt := int64(50 + rng.Intn(2000))
			completion := int64(20 + rng.Intn(1000))
			ts := day.Add(time.Duration(rng.Intn(24*60*60)) * time.Second)

			// Leave roughly one in twenty events unpriced, matching gateway
			// records for models without pricing data.
			var cost *int64
			if rng.Intn(20) != 0 {
				c := m.costPerCall + int64(rng.Intn(200_000))
				cost = &c
			}

			if _, err := pool.Exec(ctx,
				`INSERT INTO usage_events
				 (occurred_at, user_id, api_key_id, model, provider, prompt_tokens, completion_tokens, cost_usd_micros)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				ts, userIDs[rng.Intn(len(userIDs))], "key-"+userIDs[rng.Intn(len(userIDs))][:8],
				m.id, m.provider, prompt, completion, cost); err != nil {
				log.Fatalf("insert event: %v", err)
			}
			total++
		}
	}

	log.Printf("seeded %d events across %d days", total, *days)
}
