package singleflight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitDups 等待 key 上的共享调用数达到 n
func waitDups(t *testing.T, g *Group, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		c, ok := g.m[key]
		dup := 0
		if ok {
			dup = c.dup
		}
		g.mu.Unlock()
		if dup >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("等待 %d 个共享调用超时", n)
}

// 测试并发请求同一个key时，fn函数只执行一次
func TestDo(t *testing.T) {
	g := new(Group)
	var counter atomic.Int32
	release := make(chan struct{})
	key := "report.txt,words"

	fn := func() (any, error) {
		<-release
		return int(counter.Add(1)), nil
	}

	var wg sync.WaitGroup
	results := make([]int, 10)
	sharedCount := atomic.Int32{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			val, err, shared := g.Do(key, fn)
			if err != nil {
				t.Errorf("Do error: %v", err)
				return
			}
			if shared {
				sharedCount.Add(1)
			}
			results[index] = val.(int)
		}(i)
	}

	waitDups(t, g, key, 9)
	close(release)
	wg.Wait()

	for i, r := range results {
		if r != 1 {
			t.Errorf("结果不一致 results[%d]=%d, 期望1", i, r)
		}
	}
	if counter.Load() != 1 {
		t.Errorf("函数执行次数错误，期望1，得到%d", counter.Load())
	}
	if sharedCount.Load() != 10 {
		t.Errorf("shared 次数 = %d, 期望10", sharedCount.Load())
	}
}

// 测试不同key的请求各自执行
func TestDoDifferentKeys(t *testing.T) {
	g := new(Group)
	keys := []string{"a.txt,lines", "b.txt,lines", "c.txt,lines"}
	results := make([]string, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Add(1)
		go func(i int, key string) {
			defer wg.Done()
			v, err, _ := g.Do(key, func() (any, error) {
				return key + "=v", nil
			})
			if err != nil {
				t.Errorf("Do error: %v", err)
				return
			}
			results[i] = v.(string)
		}(i, key)
	}
	wg.Wait()

	for i, key := range keys {
		if results[i] != key+"=v" {
			t.Errorf("%s got %v", key, results[i])
		}
	}
}

// 测试函数执行出错的情况
func TestDoError(t *testing.T) {
	g := new(Group)
	expectedErr := errors.New("测试错误")

	_, err, _ := g.Do("error_key", func() (any, error) {
		return nil, expectedErr
	})
	if err != expectedErr {
		t.Errorf("错误不一致，期望%v，得到%v", expectedErr, err)
	}

	// 出错后 key 被清理，下次调用重新执行
	v, err, _ := g.Do("error_key", func() (any, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Errorf("重试得到 %v,%v", v, err)
	}
}

// 测试空key的情况
func TestDoEmptyKey(t *testing.T) {
	g := new(Group)
	_, err, _ := g.Do("", func() (any, error) { return "value", nil })
	if err == nil {
		t.Error("期望空key返回错误，但未返回")
	}
}

func TestDoPanic(t *testing.T) {
	g := new(Group)
	func() {
		defer func() {
			if recover() == nil {
				t.Error("期望 panic 继续向上传播")
			}
		}()
		g.Do("p", func() (any, error) { panic("boom") })
	}()

	v, err, _ := g.Do("p", func() (any, error) { return 1, nil })
	if err != nil || v != 1 {
		t.Errorf("panic 之后 key 应被清理, got %v,%v", v, err)
	}
}

func TestForget(t *testing.T) {
	g := new(Group)
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan any)

	go func() {
		v, _, _ := g.Do("f.txt,lines", func() (any, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()
	<-started

	if n := g.ForgetPrefix("f.txt,"); n != 1 {
		t.Errorf("ForgetPrefix = %d, want 1", n)
	}

	// Forget 之后新的调用不会等待旧的调用
	v, _, shared := g.Do("f.txt,lines", func() (any, error) { return "fresh", nil })
	if v != "fresh" || shared {
		t.Errorf("Do after Forget = %v shared=%v, want fresh,false", v, shared)
	}

	close(release)
	if v := <-done; v != "stale" {
		t.Errorf("旧调用结果 = %v, want stale", v)
	}

	g.Forget("missing")
}
