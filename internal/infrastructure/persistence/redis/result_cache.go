package redis

import (
	"context"
	"errors"
	"time"

	"github.com/exp-hub/experiment-engine/internal/domain/analysis"
	"github.com/exp-hub/experiment-engine/internal/domain/shared"
)

// DefaultResultTTL bounds how stale a cached result may be. The authoritative
// copy lives in the append-only audit log; the cache only spares the registry
// collaborator a database round trip on hot reads.
const DefaultResultTTL = 5 * time.Minute

// ResultCache holds the latest analysis result per experiment.
type ResultCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewResultCache creates a result cache with the given TTL.
// A zero TTL falls back to DefaultResultTTL.
func NewResultCache(cache *Cache, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{cache: cache, ttl: ttl}
}

// Put stores the latest result for an experiment.
func (c *ResultCache) Put(ctx context.Context, result *analysis.Result) error {
	if err := c.cache.Set(ctx, ResultsKey(result.ExperimentID), result, c.ttl); err != nil {
		return shared.WrapError("analysis", "Put", shared.ErrExternalService,
			"failed to cache analysis result", err)
	}
	return nil
}

// Get returns the cached latest result, or shared.ErrNotFound on a miss.
func (c *ResultCache) Get(ctx context.Context, experimentID string) (*analysis.Result, error) {
	var result analysis.Result
	err := c.cache.Get(ctx, ResultsKey(experimentID), &result)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, shared.NewDomainError("analysis", "Get", shared.ErrNotFound,
				"no cached result for experiment "+experimentID)
		}
		return nil, shared.WrapError("analysis", "Get", shared.ErrExternalService,
			"failed to read cached result", err)
	}
	return &result, nil
}

// Invalidate drops the cached result, forcing the next read to the audit log.
func (c *ResultCache) Invalidate(ctx context.Context, experimentID string) error {
	if err := c.cache.Delete(ctx, ResultsKey(experimentID)); err != nil {
		return shared.WrapError("analysis", "Invalidate", shared.ErrExternalService,
			"failed to invalidate cached result", err)
	}
	return nil
}
