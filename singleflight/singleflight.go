// Package singleflight 合并对同一个 key 的并发计算，
// 同一时刻只有一个调用真正执行，其余调用等待并共享结果。
package singleflight

import (
	"fmt"
	"strings"
	"sync"
)

// call 表示一次正在进行或已完成的调用
type call struct {
	wg  sync.WaitGroup
	val any
	err error
	dup int // 共享结果的调用数
}

// Group 管理一组按 key 区分的调用，零值可用
type Group struct {
	mu sync.Mutex
	m  map[string]*call
}

// Do 执行 fn 并返回结果。若同一 key 已有调用在进行，则等待它完成并共享结果，
// shared 表示结果是否被多个调用共享。
func (g *Group) Do(key string, fn func() (any, error)) (v any, err error, shared bool) {
	if key == "" {
		return nil, fmt.Errorf("key is empty"), false
	}

	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call)
	}
	if c, ok := g.m[key]; ok {
		c.dup++
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := new(call)
	c.wg.Add(1)
	g.m[key] = c // 标记已经在执行
	g.mu.Unlock()

	g.doCall(c, key, fn)
	return c.val, c.err, c.dup > 0
}

// doCall 执行 fn，fn panic 时也保证唤醒等待者并清理 map
func (g *Group) doCall(c *call, key string, fn func() (any, error)) {
	normalReturn := false
	defer func() {
		if !normalReturn {
			c.err = fmt.Errorf("singleflight: %q panicked", key)
		}
		c.wg.Done()

		g.mu.Lock()
		// Forget 之后可能已有新的调用占用了这个 key
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
	}()

	c.val, c.err = fn()
	normalReturn = true
}

// Forget 让后续对 key 的调用不再等待当前正在进行的调用
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}

// ForgetPrefix 对所有以 prefix 开头的 key 执行 Forget，返回数量
func (g *Group) ForgetPrefix(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for key := range g.m {
		if strings.HasPrefix(key, prefix) {
			delete(g.m, key)
			n++
		}
	}
	return n
}
