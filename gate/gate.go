// Package gate 提供一个计数型的准入闸门，限制同时处理的请求数量。
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultPermits 默认许可数量
const DefaultPermits = 5

// ErrInterrupted 表示等待许可时被中断
var ErrInterrupted = errors.New("admission interrupted")

// Gate 是一个固定许可数量的计数闸门，不保证等待者之间的公平性
type Gate struct {
	permits  int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// New 创建一个拥有 permits 个许可的闸门，permits <= 0 时使用 DefaultPermits
func New(permits int) *Gate {
	if permits <= 0 {
		permits = DefaultPermits
	}
	return &Gate{
		permits: int64(permits),
		sem:     semaphore.NewWeighted(int64(permits)),
	}
}

// Acquire 阻塞直到获得一个许可，ctx 结束时返回包装了 ctx.Err() 的 ErrInterrupted
func (g *Gate) Acquire(ctx context.Context) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	g.inFlight.Add(1)
	return nil
}

// Release 归还一个许可
func (g *Gate) Release() {
	g.inFlight.Add(-1)
	g.sem.Release(1)
}

// Do 获取许可后执行 fn，任何退出路径（包括 panic）都会归还许可
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	defer g.Release()
	return fn()
}

// InFlight 返回当前持有许可的数量
func (g *Gate) InFlight() int {
	return int(g.inFlight.Load())
}

// Permits 返回许可总数
func (g *Gate) Permits() int {
	return int(g.permits)
}
