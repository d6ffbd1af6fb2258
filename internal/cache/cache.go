package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/askdb/askdb/internal/config"
	"github.com/askdb/askdb/internal/observability"
)

// Cmdable is the narrow slice of go-redis used by the store. It is
// satisfied by *redis.Client and by fakes in tests.
type Cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

var _ Cmdable = (*redis.Client)(nil)

// Store is a content-addressed result cache over Redis. A nil *Store is a
// valid disabled cache: every lookup computes directly. A configured store
// whose backend errors fails open as well; cache trouble degrades latency,
// never correctness.
type Store struct {
	client Cmdable
	logger *slog.Logger
}

func New(cfg config.CacheConfig, logger *slog.Logger) *Store {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	return NewFromClient(client, logger)
}

func NewFromClient(client Cmdable, logger *slog.Logger) *Store {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger}
}

// QueryKey derives the cache key for a query result from the exact query
// text. Textually distinct but equivalent queries get distinct entries;
// this is deliberately not semantic caching.
func QueryKey(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return "query_result:" + hex.EncodeToString(sum[:])
}

func SchemaKey(schemaName string) string {
	return "schema:" + schemaName
}

// Keyspace of a cache key, used as the metrics label.
func Keyspace(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// GetOrCompute returns the cached value for key, or calls compute and
// caches its result. compute reports whether its value may be cached;
// failure sentinels must not be, so a retried query always re-executes.
func (s *Store) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func() ([]byte, bool, error)) ([]byte, error) {
	if s == nil {
		return computeOnly(compute)
	}

	keyspace := Keyspace(key)
	cached, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		observability.IncrementCacheHit(keyspace)
		return cached, nil
	case errors.Is(err, redis.Nil):
		observability.IncrementCacheMiss(keyspace)
	default:
		s.logger.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
		observability.IncrementCacheMiss(keyspace)
	}

	value, cacheable, err := compute()
	if err != nil {
		return nil, err
	}
	if cacheable {
		if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
			s.logger.Warn("cache write failed", slog.String("key", key), slog.String("error", err.Error()))
		}
	}
	return value, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping cache: %w", err)
	}
	return nil
}

func computeOnly(compute func() ([]byte, bool, error)) ([]byte, error) {
	value, _, err := compute()
	if err != nil {
		return nil, err
	}
	return value, nil
}
