package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"feedbackhub/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "feedbackhub:org:"

// CachedRepository 在 Repository 前加一层 Redis 缓存。
// 只缓存命中结果；未命中与歧义每次回源，Redis 故障时直接回源。
type CachedRepository struct {
	next   Repository
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedRepository ttl<=0 时不做缓存，直接返回 next
func NewCachedRepository(next Repository, rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) Repository {
	if rdb == nil || ttl <= 0 {
		return next
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRepository{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *CachedRepository) FindByCustomDomain(ctx context.Context, host string) (*Organization, error) {
	return c.cached(ctx, "domain:"+host, func() (*Organization, error) {
		return c.next.FindByCustomDomain(ctx, host)
	})
}

func (c *CachedRepository) FindBySubdomain(ctx context.Context, label string) (*Organization, error) {
	return c.cached(ctx, "sub:"+label, func() (*Organization, error) {
		return c.next.FindBySubdomain(ctx, label)
	})
}

func (c *CachedRepository) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	return c.cached(ctx, "slug:"+slug, func() (*Organization, error) {
		return c.next.FindBySlug(ctx, slug)
	})
}

// Invalidate 组织的解析键或等级变化后清除缓存
func (c *CachedRepository) Invalidate(ctx context.Context, org *Organization) error {
	keys := lookupKeys(org)
	for i, k := range keys {
		keys[i] = cacheKeyPrefix + k
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *CachedRepository) cached(ctx context.Context, key string, load func() (*Organization, error)) (*Organization, error) {
	key = cacheKeyPrefix + key

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var org Organization
		if jsonErr := json.Unmarshal(data, &org); jsonErr == nil {
			metrics.TenantLookupCache.WithLabelValues("hit").Inc()
			return &org, nil
		}
		c.logger.Warn("组织缓存数据损坏，回源", zap.String("key", key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("读取组织缓存失败，回源", zap.String("key", key), zap.Error(err))
	}
	metrics.TenantLookupCache.WithLabelValues("miss").Inc()

	org, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(org); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("写入组织缓存失败", zap.String("key", key), zap.Error(err))
		}
	}
	return org, nil
}
