// Package lru 实现了一个按条目数量限制容量的LRU（最近最少使用）缓存结构。
//
// 实现原理：
// 1. 哈希表保存 key 到链表节点的映射，O(1) 查找
// 2. 双向链表按访问时间排序，最近访问的在链表前端
// 3. 每次 Get/Add 都把命中的节点移到链表前端
// 4. 淘汰时移除链表尾部的节点（最久未使用）
//
// 注意：该实现不是并发安全的，并发场景请使用 gocachex.BoundedCache。
package lru

import (
	"container/list"
	"strings"
)

// Policy 决定插入前的清理策略
type Policy int

const (
	// Exact 只在插入新 key 且已满时淘汰，静止状态下最多保存 maxEntries 个条目
	Exact Policy = iota
	// Eager 在每次 Get/Add 之前都执行清理（Len() >= maxEntries 时淘汰），
	// 读操作之后实际可用容量为 maxEntries-1。清理不会淘汰正在读写的 key。
	Eager
)

func (p Policy) String() string {
	switch p {
	case Exact:
		return "exact"
	case Eager:
		return "eager"
	default:
		return "unknown"
	}
}

// Cache 是一个LRU缓存。注意：它不是并发安全的。
type Cache struct {
	maxEntries int                      // 最大条目数，0 表示不缓存任何内容
	policy     Policy                   // 清理策略
	ll         *list.List               // 双向链表，front 为最近使用
	cache      map[string]*list.Element // key 到链表节点的映射
	// 可选的回调函数，条目因容量被淘汰时调用
	OnEvicted func(key string, value string)
}

// entry 是存储在双向链表中的缓存项
type entry struct {
	key   string
	value string
}

// Option 配置 Cache
type Option func(*Cache)

// WithEagerCleanup 使用 Eager 清理策略
func WithEagerCleanup() Option {
	return func(c *Cache) { c.policy = Eager }
}

// WithOnEvicted 设置淘汰回调
func WithOnEvicted(fn func(key, value string)) Option {
	return func(c *Cache) { c.OnEvicted = fn }
}

// New 是Cache的构造函数，maxEntries 小于 0 时按 0 处理
func New(maxEntries int, opts ...Option) *Cache {
	if maxEntries < 0 {
		maxEntries = 0
	}
	c := &Cache{
		maxEntries: maxEntries,
		ll:         list.New(),
		cache:      make(map[string]*list.Element, maxEntries),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add 插入或覆盖一个值，并将其移到链表前端
func (c *Cache) Add(key, value string) {
	if c.maxEntries == 0 {
		return
	}
	ele, ok := c.cache[key]
	if c.policy == Eager {
		c.cleanup(ele)
	}
	if ok {
		c.ll.MoveToFront(ele)
		ele.Value.(*entry).value = value
		return
	}
	if c.policy == Exact {
		c.cleanup(nil)
	}
	c.cache[key] = c.ll.PushFront(&entry{key, value})
}

// Get 查找键对应的值，命中时将其移到链表前端。
// ok 为 false 表示不存在，与存储的空字符串区分。
func (c *Cache) Get(key string) (value string, ok bool) {
	ele, hit := c.cache[key]
	if c.policy == Eager {
		c.cleanup(ele)
	}
	if hit {
		c.ll.MoveToFront(ele)
		return ele.Value.(*entry).value, true
	}
	return
}

// Peek 查找键对应的值，但不改变访问顺序
func (c *Cache) Peek(key string) (value string, ok bool) {
	if ele, hit := c.cache[key]; hit {
		return ele.Value.(*entry).value, true
	}
	return
}

// cleanup 在已满时不断淘汰最久未使用的条目，keep 为正在访问的节点，不会被淘汰
func (c *Cache) cleanup(keep *list.Element) {
	for c.ll.Len() >= c.maxEntries {
		ele := c.ll.Back()
		if ele != nil && ele == keep {
			ele = ele.Prev()
		}
		if ele == nil {
			return
		}
		c.evict(ele)
	}
}

// RemoveOldest 移除最久未使用的缓存项，空缓存时什么都不做
func (c *Cache) RemoveOldest() (key string, ok bool) {
	ele := c.ll.Back()
	if ele == nil {
		return "", false
	}
	return c.evict(ele), true
}

func (c *Cache) evict(ele *list.Element) string {
	kv := c.removeElement(ele)
	if c.OnEvicted != nil {
		c.OnEvicted(kv.key, kv.value)
	}
	return kv.key
}

// Remove 移除指定 key
func (c *Cache) Remove(key string) bool {
	if ele, ok := c.cache[key]; ok {
		c.removeElement(ele)
		return true
	}
	return false
}

// RemovePrefix 移除所有以 prefix+"," 开头的 key，返回移除数量
func (c *Cache) RemovePrefix(prefix string) int {
	prefix += ","
	n := 0
	for ele := c.ll.Front(); ele != nil; {
		next := ele.Next()
		if strings.HasPrefix(ele.Value.(*entry).key, prefix) {
			c.removeElement(ele)
			n++
		}
		ele = next
	}
	return n
}

func (c *Cache) removeElement(ele *list.Element) *entry {
	c.ll.Remove(ele)
	kv := ele.Value.(*entry)
	delete(c.cache, kv.key)
	return kv
}

// Keys 按最近使用到最久未使用的顺序返回所有 key
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.ll.Len())
	for ele := c.ll.Front(); ele != nil; ele = ele.Next() {
		keys = append(keys, ele.Value.(*entry).key)
	}
	return keys
}

// Len 返回缓存中的元素个数
func (c *Cache) Len() int {
	return c.ll.Len()
}

// Cap 返回最大条目数
func (c *Cache) Cap() int {
	return c.maxEntries
}

// Policy 返回清理策略
func (c *Cache) Policy() Policy {
	return c.policy
}
