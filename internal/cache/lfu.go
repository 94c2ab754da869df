// Package cache 进程内缓存
package cache

import (
	"container/list"
	"sync"
	"time"
)

// lfuNode LFU 中的一个条目
type lfuNode[V any] struct {
	key       string
	value     V
	frequency int       // 访问频率
	expiresAt time.Time // 零值表示不过期
	elem      *list.Element
}

// Stats 缓存统计
type Stats struct {
	Entries      int   `json:"entries"`
	Capacity     int   `json:"capacity"`
	MinFrequency int   `json:"min_frequency"`
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
}

// LFU 带过期时间的 LFU 缓存。容量满时淘汰访问频率最低的条目，频率相同时淘汰最早进入该频率的条目。
type LFU[V any] struct {
	capacity   int
	ttl        time.Duration
	minFreq    int
	items      map[string]*lfuNode[V]
	freqToList map[int]*list.List
	hits       int64
	misses     int64
	now        func() time.Time
	mu         sync.Mutex
}

// NewLFU 创建 LFU 缓存，capacity<=0 时按 1 处理，ttl<=0 表示不过期
func NewLFU[V any](capacity int, ttl time.Duration) *LFU[V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LFU[V]{
		capacity:   capacity,
		ttl:        ttl,
		items:      make(map[string]*lfuNode[V]),
		freqToList: make(map[int]*list.List),
		now:        time.Now,
	}
}

// Get 读取条目，过期条目视为未命中并移除
func (c *LFU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	node, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.expired(node) {
		c.remove(node)
		c.misses++
		return zero, false
	}
	c.increaseFrequency(node)
	c.hits++
	return node.value, true
}

// Set 写入条目；已存在时更新值并计一次访问
func (c *LFU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.items[key]; ok {
		node.value = value
		node.expiresAt = c.expiry()
		c.increaseFrequency(node)
		return
	}

	if len(c.items) >= c.capacity {
		c.evict()
	}

	node := &lfuNode[V]{key: key, value: value, frequency: 1, expiresAt: c.expiry()}
	c.items[key] = node
	c.addToFreqList(node)
	c.minFreq = 1
}

// Delete 删除条目
func (c *LFU[V]) Delete(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if node, ok := c.items[key]; ok {
			c.remove(node)
		}
	}
}

// Clear 清空
func (c *LFU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*lfuNode[V])
	c.freqToList = make(map[int]*list.List)
	c.minFreq = 0
}

// Len 当前条目数（含尚未清理的过期条目）
func (c *LFU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats 统计信息
func (c *LFU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:      len(c.items),
		Capacity:     c.capacity,
		MinFrequency: c.minFreq,
		Hits:         c.hits,
		Misses:       c.misses,
	}
}

func (c *LFU[V]) expiry() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

func (c *LFU[V]) expired(node *lfuNode[V]) bool {
	return !node.expiresAt.IsZero() && !c.now().Before(node.expiresAt)
}

// increaseFrequency 移到下一个频率链表
func (c *LFU[V]) increaseFrequency(node *lfuNode[V]) {
	c.unlink(node)
	node.frequency++
	c.addToFreqList(node)

	if l := c.freqToList[c.minFreq]; l == nil || l.Len() == 0 {
		c.minFreq++
	}
}

func (c *LFU[V]) addToFreqList(node *lfuNode[V]) {
	l := c.freqToList[node.frequency]
	if l == nil {
		l = list.New()
		c.freqToList[node.frequency] = l
	}
	node.elem = l.PushBack(node)
}

func (c *LFU[V]) unlink(node *lfuNode[V]) {
	l := c.freqToList[node.frequency]
	if l == nil || node.elem == nil {
		return
	}
	l.Remove(node.elem)
	node.elem = nil
	if l.Len() == 0 {
		delete(c.freqToList, node.frequency)
	}
}

func (c *LFU[V]) remove(node *lfuNode[V]) {
	c.unlink(node)
	delete(c.items, node.key)
}

// evict 优先清理一个过期条目，否则淘汰最小频率链表的队首
func (c *LFU[V]) evict() {
	for _, node := range c.items {
		if c.expired(node) {
			c.remove(node)
			return
		}
	}

	l := c.freqToList[c.minFreq]
	if l == nil || l.Len() == 0 {
		// minFreq 可能因删除而失效，重新计算
		c.minFreq = 0
		for f, fl := range c.freqToList {
			if fl.Len() > 0 && (c.minFreq == 0 || f < c.minFreq) {
				c.minFreq = f
			}
		}
		if l = c.freqToList[c.minFreq]; l == nil || l.Len() == 0 {
			return
		}
	}
	c.remove(l.Front().Value.(*lfuNode[V]))
}
