package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castlebay/modeldesk/internal/analytics"
)

// RollupStore persists daily rollup cache entries keyed by (day, signature).
// The rollup payload is stored as jsonb; lifecycle metadata lives in columns
// so staleness checks never parse the payload.
type RollupStore struct {
	pool *pgxpool.Pool
}

func NewRollupStore(pool *pgxpool.Pool) *RollupStore {
	return &RollupStore{pool: pool}
}

func (s *RollupStore) Get(ctx context.Context, day time.Time, signature string) (*analytics.CacheEntry, error) {
	const q = `SELECT payload, computed_at, is_final, ttl_seconds
FROM usage_daily_rollups
WHERE day = $1 AND signature = $2`

	var payload []byte
	var entry analytics.CacheEntry
	var ttlSeconds int64
	err := s.pool.QueryRow(ctx, q, day, signature).Scan(&payload, &entry.ComputedAt, &entry.Final, &ttlSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get rollup %s/%s: %w", day.Format("2006-01-02"), signature, err)
	}

	if err := json.Unmarshal(payload, &entry.Rollup); err != nil {
		return nil, fmt.Errorf("decode rollup payload %s/%s: %w", day.Format("2006-01-02"), signature, err)
	}
	entry.TTL = time.Duration(ttlSeconds) * time.Second
	return &entry, nil
}

func (s *RollupStore) Put(ctx context.Context, entry analytics.CacheEntry) error {
	payload, err := json.Marshal(entry.Rollup)
	if err != nil {
		return fmt.Errorf("encode rollup payload: %w", err)
	}

	const q = `INSERT INTO usage_daily_rollups (day, signature, payload, computed_at, is_final, ttl_seconds)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (day, signature) DO UPDATE SET
	payload = EXCLUDED.payload,
	computed_at = EXCLUDED.computed_at,
	is_final = EXCLUDED.is_final,
	ttl_seconds = EXCLUDED.ttl_seconds`

	_, err = s.pool.Exec(ctx, q,
		entry.Rollup.Day, entry.Rollup.Signature, payload,
		entry.ComputedAt, entry.Final, int64(entry.TTL/time.Second))
	if err != nil {
		return fmt.Errorf("put rollup %s/%s: %w",
			entry.Rollup.Day.Format("2006-01-02"), entry.Rollup.Signature, err)
	}
	return nil
}
