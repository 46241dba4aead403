package analytics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// ErrDirectoryNotFound is returned by Directory lookups for unknown IDs.
var ErrDirectoryNotFound = errors.New("directory entry not found")

// ModelInfo is the directory record for a model identifier.
type ModelInfo struct {
	DisplayName string
	Provider    string
}

// UserInfo is the directory record for a user identifier.
type UserInfo struct {
	DisplayName string
}

// Directory resolves raw identifiers to display metadata. Lookups return
// ErrDirectoryNotFound for IDs the platform no longer knows about.
type Directory interface {
	ResolveModel(ctx context.Context, id string) (ModelInfo, error)
	ResolveUser(ctx context.Context, id string) (UserInfo, error)
}

// Enricher attaches display names to breakdown keys. Unresolvable IDs keep
// the raw ID and are flagged unknown rather than failing the response.
type Enricher struct {
	dir     Directory
	retries int
	logger  *slog.Logger
}

// NewEnricher returns an enricher over the given directory. A nil directory
// leaves results untouched.
func NewEnricher(dir Directory, retries int, logger *slog.Logger) *Enricher {
	if retries <= 0 {
		retries = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{dir: dir, retries: retries, logger: logger}
}

// EnrichResult resolves model and user breakdown keys in place. Each distinct
// key is looked up once per call.
func (e *Enricher) EnrichResult(ctx context.Context, result *AggregatedResult) {
	if e == nil || e.dir == nil || result == nil {
		return
	}

	modelCache := make(map[string]BreakdownItem)
	for i := range result.ByModel {
		item := &result.ByModel[i]
		if cached, ok := modelCache[item.Key]; ok {
			item.DisplayName, item.Provider, item.Unknown = cached.DisplayName, cached.Provider, cached.Unknown
			continue
		}
		info, err := e.resolveModel(ctx, item.Key)
		if err != nil {
			if !errors.Is(err, ErrDirectoryNotFound) {
				e.logger.Warn("model lookup failed", slog.String("model", item.Key), slog.String("error", err.Error()))
			}
			item.DisplayName = item.Key
			item.Unknown = true
		} else {
			item.DisplayName = info.DisplayName
			item.Provider = info.Provider
		}
		modelCache[item.Key] = *item
	}

	userCache := make(map[string]BreakdownItem)
	for i := range result.ByUser {
		item := &result.ByUser[i]
		if cached, ok := userCache[item.Key]; ok {
			item.DisplayName, item.Unknown = cached.DisplayName, cached.Unknown
			continue
		}
		info, err := e.resolveUser(ctx, item.Key)
		if err != nil {
			if !errors.Is(err, ErrDirectoryNotFound) {
				e.logger.Warn("user lookup failed", slog.String("user", item.Key), slog.String("error", err.Error()))
			}
			item.DisplayName = item.Key
			item.Unknown = true
		} else {
			item.DisplayName = info.DisplayName
		}
		userCache[item.Key] = *item
	}

	// Provider keys are already display values.
	for i := range result.ByProvider {
		result.ByProvider[i].DisplayName = result.ByProvider[i].Key
	}
}

func (e *Enricher) resolveModel(ctx context.Context, id string) (ModelInfo, error) {
	var info ModelInfo
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		var err error
		info, err = e.dir.ResolveModel(ctx, id)
		if err != nil && !errors.Is(err, ErrDirectoryNotFound) {
			return retry.RetryableError(err)
		}
		return err
	})
	return info, err
}

func (e *Enricher) resolveUser(ctx context.Context, id string) (UserInfo, error) {
	var info UserInfo
	err := retry.Do(ctx, e.backoff(), func(ctx context.Context) error {
		var err error
		info, err = e.dir.ResolveUser(ctx, id)
		if err != nil && !errors.Is(err, ErrDirectoryNotFound) {
			return retry.RetryableError(err)
		}
		return err
	})
	return info, err
}

func (e *Enricher) backoff() retry.Backoff {
	return retry.WithMaxRetries(uint64(e.retries), retry.NewExponential(50*time.Millisecond))
}
