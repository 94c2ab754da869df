package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedbackhub/internal/metrics"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// VersionColumn 乐观锁列名
const VersionColumn = "version"

// SchemaIntrospector 表结构探测
type SchemaIntrospector interface {
	HasColumn(ctx context.Context, table, column string) (bool, error)
}

// GormIntrospector 基于 gorm Migrator 的表结构探测
type GormIntrospector struct {
	db *gorm.DB
}

// NewGormIntrospector 创建探测器
func NewGormIntrospector(db *gorm.DB) *GormIntrospector {
	return &GormIntrospector{db: db}
}

// HasColumn 实现 SchemaIntrospector
func (g *GormIntrospector) HasColumn(ctx context.Context, table, column string) (bool, error) {
	if !g.db.WithContext(ctx).Migrator().HasTable(table) {
		return false, fmt.Errorf("tracking: table %s does not exist", table)
	}
	return g.db.WithContext(ctx).Migrator().HasColumn(table, column), nil
}

type capabilityEntry struct {
	value     bool
	expiresAt time.Time
}

// CapabilityCache 进程级的表结构能力缓存。
// 读多写少，同一个键的并发未命中只会触发一次探测。
type CapabilityCache struct {
	introspector SchemaIntrospector
	ttl          time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	entries map[string]capabilityEntry
	group   singleflight.Group
}

// NewCapabilityCache ttl<=0 表示在进程生命周期内不过期
func NewCapabilityCache(introspector SchemaIntrospector, ttl time.Duration) *CapabilityCache {
	return &CapabilityCache{
		introspector: introspector,
		ttl:          ttl,
		now:          time.Now,
		entries:      make(map[string]capabilityEntry),
	}
}

// HasColumn 查询缓存，过期或缺失时回源
func (c *CapabilityCache) HasColumn(ctx context.Context, table, column string) (bool, error) {
	key := table + "." + column

	if has, ok := c.lookup(key); ok {
		metrics.CapabilityCache.WithLabelValues("hit").Inc()
		return has, nil
	}
	metrics.CapabilityCache.WithLabelValues("miss").Inc()

	v, err, _ := c.group.Do(key, func() (any, error) {
		if cached, ok := c.lookup(key); ok {
			return cached, nil
		}
		has, err := c.introspector.HasColumn(ctx, table, column)
		if err != nil {
			return false, err
		}
		c.mu.Lock()
		c.entries[key] = capabilityEntry{value: has, expiresAt: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return has, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *CapabilityCache) lookup(key string) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (c.ttl > 0 && !c.now().Before(entry.expiresAt)) {
		return false, false
	}
	return entry.value, true
}

// Invalidate 清空缓存，部署后表结构变化时使用
func (c *CapabilityCache) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[string]capabilityEntry)
	c.mu.Unlock()
}
