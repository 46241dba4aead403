package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/castlebay/modeldesk/internal/analytics"
)

// Directory resolves model and user identifiers against the platform's
// catalog tables. Deleted or never-synced IDs map to
// analytics.ErrDirectoryNotFound.
type Directory struct {
	pool *pgxpool.Pool
}

func NewDirectory(pool *pgxpool.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) ResolveModel(ctx context.Context, id string) (analytics.ModelInfo, error) {
	const q = `SELECT display_name, provider FROM model_catalog WHERE model_id = $1`

	var info analytics.ModelInfo
	err := d.pool.QueryRow(ctx, q, id).Scan(&info.DisplayName, &info.Provider)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analytics.ModelInfo{}, analytics.ErrDirectoryNotFound
		}
		return analytics.ModelInfo{}, fmt.Errorf("resolve model %s: %w", id, err)
	}
	return info, nil
}

func (d *Directory) ResolveUser(ctx context.Context, id string) (analytics.UserInfo, error) {
	const q = `SELECT display_name FROM platform_users WHERE user_id = $1`

	var info analytics.UserInfo
	err := d.pool.QueryRow(ctx, q, id).Scan(&info.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return analytics.UserInfo{}, analytics.ErrDirectoryNotFound
		}
		return analytics.UserInfo{}, fmt.Errorf("resolve user %s: %w", id, err)
	}
	return info, nil
}
