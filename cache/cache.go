// cache.go 文件实现了并发安全的有界缓存，通过一把互斥锁保护内部LRU结构，
// 所有操作互斥执行，不按 key 分片。
package gocachex

import (
	"goFileCacheX/lru"
	"sync"

	"github.com/charmbracelet/log"
)

// DefaultCapacity 默认最大条目数
const DefaultCapacity = 6

// BoundedCache 是对LRU缓存的并发安全封装，整个服务进程共享一个实例
type BoundedCache struct {
	mu     sync.Mutex // 保护 lru、stats 和 gens
	lru    *lru.Cache
	stats  Stats
	gens   map[string]uint64 // 文件名 -> 失效次数
	logger *log.Logger
}

// Stats 缓存统计信息
type Stats struct {
	Size          int
	Capacity      int
	Policy        string
	Hits          int64
	Misses        int64
	Evictions     int64
	Invalidations int64
}

// CacheOption 配置 BoundedCache
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	eager  bool
	logger *log.Logger
}

// WithEagerCleanup 在每次读写之前都执行清理（见 lru.Eager）
func WithEagerCleanup(eager bool) CacheOption {
	return func(o *cacheOptions) { o.eager = eager }
}

// WithLogger 设置日志
func WithLogger(l *log.Logger) CacheOption {
	return func(o *cacheOptions) { o.logger = l }
}

// NewBoundedCache 创建一个最多保存 capacity 个条目的缓存
func NewBoundedCache(capacity int, opts ...CacheOption) *BoundedCache {
	o := cacheOptions{logger: log.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &BoundedCache{
		gens:   make(map[string]uint64),
		logger: o.logger.WithPrefix("cache"),
	}
	lruOpts := []lru.Option{lru.WithOnEvicted(c.onEvicted)}
	if o.eager {
		lruOpts = append(lruOpts, lru.WithEagerCleanup())
	}
	c.lru = lru.New(capacity, lruOpts...)
	return c
}

// onEvicted 在持有锁时被 lru 调用
func (c *BoundedCache) onEvicted(key, _ string) {
	c.stats.Evictions++
	c.logger.Debug("evicted", "key", key)
}

// Get 获取缓存值并将其标记为最近使用，ok 为 false 表示不存在
func (c *BoundedCache) Get(key string) (value string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok = c.lru.Get(key)
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return
}

// Peek 获取缓存值但不改变访问顺序，也不计入命中统计
func (c *BoundedCache) Peek(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Put 插入或覆盖，插入前按清理策略淘汰最久未使用的条目
func (c *BoundedCache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// EvictOne 淘汰一个最久未使用的条目，空缓存时返回 false
func (c *BoundedCache) EvictOne() (key string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.RemoveOldest()
}

// Generation 返回 fileName 当前的代数，每次 InvalidatePrefix(fileName) 加一
func (c *BoundedCache) Generation(fileName string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[fileName]
}

// PutIfGeneration 只有在 fileName 的代数仍为 gen 时才写入，返回是否写入。
// 在失效之前开始的计算不能把旧结果写回缓存。
func (c *BoundedCache) PutIfGeneration(fileName string, gen uint64, key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gens[fileName] != gen {
		return false
	}
	c.lru.Add(key, value)
	return true
}

// InvalidatePrefix 删除所有以 prefix+"," 开头的条目并增加 prefix 的代数，返回删除数量
func (c *BoundedCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gens[prefix]++
	n := c.lru.RemovePrefix(prefix)
	c.stats.Invalidations += int64(n)
	return n
}

// Keys 按最近使用到最久未使用的顺序返回所有 key
func (c *BoundedCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Len 返回缓存中的元素数量
func (c *BoundedCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats 返回统计信息的快照
func (c *BoundedCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Size = c.lru.Len()
	s.Capacity = c.lru.Cap()
	s.Policy = c.lru.Policy().String()
	return s
}
