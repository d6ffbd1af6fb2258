package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/askdb/askdb/internal/cache"
)

// CachedRunner serves query results through the content-addressed cache.
// Failure outcomes are never cached, so a retried query always hits the
// database again. With a nil store it is a transparent passthrough.
type CachedRunner struct {
	inner  Runner
	store  *cache.Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRunner(inner Runner, store *cache.Store, ttl time.Duration, logger *slog.Logger) (*CachedRunner, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner runner is required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedRunner{inner: inner, store: store, ttl: ttl, logger: logger}, nil
}

func (c *CachedRunner) Run(ctx context.Context, sqlText string, args ...any) Outcome {
	// The cache key is derived from the query text alone, so parameterized
	// calls bypass the cache rather than alias distinct argument sets.
	if c.store == nil || len(args) > 0 {
		return c.inner.Run(ctx, sqlText, args...)
	}

	var fresh Outcome
	ran := false
	payload, err := c.store.GetOrCompute(ctx, cache.QueryKey(sqlText), c.ttl, func() ([]byte, bool, error) {
		ran = true
		fresh = c.inner.Run(ctx, sqlText)
		if fresh.IsError() {
			return nil, false, nil
		}
		data, err := json.Marshal(fresh.Result)
		if err != nil {
			return nil, false, fmt.Errorf("encode result for cache: %w", err)
		}
		return data, true, nil
	})
	if ran {
		return fresh
	}
	if err != nil {
		c.logger.Warn("cached execution failed", slog.String("error", err.Error()))
		return c.inner.Run(ctx, sqlText)
	}

	var result Result
	if err := json.Unmarshal(payload, &result); err != nil {
		c.logger.Warn("discarding undecodable cache entry", slog.String("error", err.Error()))
		return c.inner.Run(ctx, sqlText)
	}
	return Success(result)
}
