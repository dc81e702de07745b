package ndnmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/buckyos/ndncore/internal/config"
	"github.com/buckyos/ndncore/internal/ndnmetrics"
)

// readCache is NamedDataMgr's optional Redis-backed read cache for
// objects and path_table lookups, adapted from the teacher's
// internal/cache/redis.Cache (GetJSON/SetJSON over a *redis.Client)
// directly onto ndncore's own config and metrics rather than the
// teacher's repository.Cache interface, which this module does not
// carry forward (see DESIGN.md).
type readCache struct {
	client  *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *ndnmetrics.Metrics
}

const defaultReadCacheTTL = 30 * time.Second

// newReadCache dials Redis per cfg and verifies connectivity. A nil
// return with no error means caching is disabled (cfg.Enabled false).
func newReadCache(ctx context.Context, cfg config.RedisConfig, logger zerolog.Logger, metrics *ndnmetrics.Metrics) (*readCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ndnmgr: ping redis: %w", err)
	}
	logger.Info().Str("addr", cfg.Addr()).Msg("ndnmgr connected to redis read cache")
	return &readCache{client: client, ttl: defaultReadCacheTTL, logger: logger, metrics: metrics}, nil
}

func (c *readCache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func objectCacheKey(objID string) string { return "ndnmgr:object:" + objID }
func pathCacheKey(objPath string) string  { return "ndnmgr:path:" + objPath }

func (c *readCache) getJSON(ctx context.Context, key string, dest any) bool {
	if c == nil {
		return false
	}
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordCacheAccess("ndnmgr", false)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("ndnmgr cache value unmarshal failed")
		return false
	}
	if c.metrics != nil {
		c.metrics.RecordCacheAccess("ndnmgr", true)
	}
	return true
}

func (c *readCache) setJSON(ctx context.Context, key string, value any) {
	if c == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("ndnmgr cache set failed")
	}
}

func (c *readCache) invalidate(ctx context.Context, key string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("ndnmgr cache invalidate failed")
	}
}
