package tenant

import (
	"context"
	"time"

	"feedbackhub/internal/cache"
	"feedbackhub/internal/metrics"
)

// LocalCachedRepository 进程内 LFU 缓存，放在 Redis 缓存之前。
// 多实例之间不同步，TTL 应保持很短；只缓存命中结果。
type LocalCachedRepository struct {
	next  Repository
	cache *cache.LFU[*Organization]
}

// NewLocalCachedRepository size<=0 或 ttl<=0 时直接返回 next
func NewLocalCachedRepository(next Repository, size int, ttl time.Duration) Repository {
	if size <= 0 || ttl <= 0 {
		return next
	}
	return &LocalCachedRepository{next: next, cache: cache.NewLFU[*Organization](size, ttl)}
}

func (c *LocalCachedRepository) FindByCustomDomain(ctx context.Context, host string) (*Organization, error) {
	return c.cached("domain:"+host, func() (*Organization, error) {
		return c.next.FindByCustomDomain(ctx, host)
	})
}

func (c *LocalCachedRepository) FindBySubdomain(ctx context.Context, label string) (*Organization, error) {
	return c.cached("sub:"+label, func() (*Organization, error) {
		return c.next.FindBySubdomain(ctx, label)
	})
}

func (c *LocalCachedRepository) FindBySlug(ctx context.Context, slug string) (*Organization, error) {
	return c.cached("slug:"+slug, func() (*Organization, error) {
		return c.next.FindBySlug(ctx, slug)
	})
}

// Invalidate 清除本地条目，并继续清除下一层缓存
func (c *LocalCachedRepository) Invalidate(ctx context.Context, org *Organization) error {
	c.cache.Delete(lookupKeys(org)...)
	if inv, ok := c.next.(cacheInvalidator); ok {
		return inv.Invalidate(ctx, org)
	}
	return nil
}

// Stats 本地缓存统计
func (c *LocalCachedRepository) Stats() cache.Stats {
	return c.cache.Stats()
}

func (c *LocalCachedRepository) cached(key string, load func() (*Organization, error)) (*Organization, error) {
	if org, ok := c.cache.Get(key); ok {
		metrics.TenantLookupCache.WithLabelValues("local_hit").Inc()
		return org, nil
	}
	org, err := load()
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, org)
	return org, nil
}

// lookupKeys 组织的全部解析键，不含前缀
func lookupKeys(org *Organization) []string {
	keys := []string{"slug:" + org.Slug}
	if org.Subdomain != "" {
		keys = append(keys, "sub:"+org.Subdomain)
	}
	if org.CustomDomain != nil && *org.CustomDomain != "" {
		keys = append(keys, "domain:"+NormalizeHost(*org.CustomDomain))
	}
	return keys
}
