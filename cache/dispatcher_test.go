package gocachex

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

// memFiles 是内存中的 FileOps，记录每种操作的调用次数
type memFiles struct {
	mu    sync.Mutex
	files map[string]string
	calls map[string]int
	// onWords 在 CountWords 读完内容之后、返回之前调用，不持有锁
	onWords func()
}

func newMemFiles(files map[string]string) *memFiles {
	return &memFiles{files: files, calls: make(map[string]int)}
}

func (m *memFiles) called(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *memFiles) read(op, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	s, ok := m.files[name]
	if !ok {
		return "", fmt.Errorf("read %s: %w", name, fs.ErrNotExist)
	}
	return s, nil
}

func (m *memFiles) List() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["list"]++
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *memFiles) ReadAll(name string) ([]byte, error) {
	s, err := m.read("read", name)
	return []byte(s), err
}

func (m *memFiles) WriteAll(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["write"]++
	if strings.HasPrefix(name, "readonly") {
		return errors.New("permission denied")
	}
	m.files[name] = string(data)
	return nil
}

func (m *memFiles) Delete(name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls["delete"]++
	if _, ok := m.files[name]; !ok {
		return false, nil
	}
	delete(m.files, name)
	return true, nil
}

func (m *memFiles) CountLines(name string) (int, error) {
	s, err := m.read("lines", name)
	return strings.Count(s, "\n") + 1, err
}

func (m *memFiles) CountWords(name string) (int, error) {
	s, err := m.read("words", name)
	if m.onWords != nil {
		m.onWords()
	}
	return len(strings.Fields(s)), err
}

func (m *memFiles) CountCharacters(name string) (int, error) {
	s, err := m.read("characters", name)
	return len([]rune(s)), err
}

func newTestDispatcher(capacity int, files map[string]string) (*Dispatcher, *memFiles) {
	mf := newMemFiles(files)
	logger := log.New(io.Discard)
	return NewDispatcher(NewBoundedCache(capacity, WithLogger(logger)), mf, logger), mf
}

func TestTotals(t *testing.T) {
	d, mf := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b\nc"})

	got := d.HandleLine("report,totals", nil)
	want := "Processing report.txt:\n" +
		"System totals:\n" +
		"lines count for report.txt: 2\n" +
		"words count for report.txt: 3\n" +
		"characters count for report.txt: 5\n" +
		"Done."
	if got != want {
		t.Errorf("第一次 totals:\n%s\nwant:\n%s", got, want)
	}

	for key, v := range map[string]string{
		"report.txt,lines":      "2",
		"report.txt,words":      "3",
		"report.txt,characters": "5",
	} {
		if cached, ok := d.Cache().Peek(key); !ok || cached != v {
			t.Errorf("缓存 %s = %q,%v, want %q", key, cached, ok, v)
		}
	}

	got = d.HandleLine("report,totals", nil)
	want = "Processing report.txt:\n" +
		"System totals:\n" +
		"Cache hit for report.txt,lines: 2\n" +
		"Cache hit for report.txt,words: 3\n" +
		"Cache hit for report.txt,characters: 5\n" +
		"Done."
	if got != want {
		t.Errorf("第二次 totals:\n%s\nwant:\n%s", got, want)
	}
	if mf.called("words") != 1 {
		t.Errorf("words 计算了 %d 次, 期望1", mf.called("words"))
	}
}

func TestQueryCacheHits(t *testing.T) {
	d, mf := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b\nc", "notes.txt": "x"})

	got := d.HandleLine("report,get,words", nil)
	want := "Processing report.txt:\n" +
		"Files on server: notes.txt, report.txt\n" +
		"Word count for report.txt: 3\n" +
		"Done."
	if got != want {
		t.Errorf("冷缓存:\n%s\nwant:\n%s", got, want)
	}

	got = d.HandleLine("report,get,words", nil)
	want = "Processing report.txt:\n" +
		"Cache hit for report.txt, get: notes.txt, report.txt\n" +
		"Cache hit for report.txt, words: 3\n" +
		"Done."
	if got != want {
		t.Errorf("热缓存:\n%s\nwant:\n%s", got, want)
	}
	if mf.called("list") != 1 || mf.called("words") != 1 {
		t.Errorf("list=%d words=%d, 期望各1次", mf.called("list"), mf.called("words"))
	}
}

func TestQueryRead(t *testing.T) {
	d, _ := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b\nc"})

	got := d.HandleLine("report,read,characters", nil)
	want := "Processing report.txt:\n" +
		"Content of report.txt: a b\nc\n" +
		"Character count for report.txt: 5\n" +
		"Done."
	if got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}

func TestQueryMissingFileNotCached(t *testing.T) {
	d, mf := newTestDispatcher(DefaultCapacity, map[string]string{})

	got := d.HandleLine("ghost,read,lines", nil)
	for _, s := range []string{
		"Failed to read ghost.txt: File does not exist.",
		"Failed to count lines for ghost.txt: File does not exist.",
		"Done.",
	} {
		if !strings.Contains(got, s) {
			t.Errorf("响应中缺少 %q:\n%s", s, got)
		}
	}
	if n := d.Cache().Len(); n != 0 {
		t.Errorf("失败的结果不应缓存, Len = %d", n)
	}

	d.HandleLine("ghost,read,lines", nil)
	if mf.called("read") != 2 {
		t.Errorf("read 调用 %d 次, 期望2", mf.called("read"))
	}
}

func TestMutationInvalidates(t *testing.T) {
	for _, op := range []string{"update", "remove"} {
		t.Run(op, func(t *testing.T) {
			d, _ := newTestDispatcher(10, map[string]string{"report.txt": "a b\nc", "other.txt": "z"})
			d.HandleLine("report,totals", nil)
			d.HandleLine("report,read,lines", nil)
			d.HandleLine("other,get,words", nil)

			got := d.HandleLine("report,"+op, []byte("new content here"))
			if !strings.Contains(got, "successfully") {
				t.Errorf("%s 响应: %s", op, got)
			}

			for _, key := range d.Cache().Keys() {
				if strings.HasPrefix(key, "report.txt,") {
					t.Errorf("%s 之后 %s 仍在缓存中", op, key)
				}
			}
			want := []string{"other.txt,words", "other.txt,get"}
			if got := d.Cache().Keys(); !reflect.DeepEqual(got, want) {
				t.Errorf("Keys = %v, want %v", got, want)
			}
		})
	}
}

func TestUpdateRecomputes(t *testing.T) {
	d, _ := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b\nc"})
	d.HandleLine("report,read,words", nil)

	d.HandleLine("report,update", []byte("one two three four"))
	got := d.HandleLine("report,read,words", nil)
	if !strings.Contains(got, "Word count for report.txt: 4") {
		t.Errorf("更新之后应重新计算:\n%s", got)
	}
	if !strings.Contains(got, "Content of report.txt: one two three four") {
		t.Errorf("更新之后应重新读取:\n%s", got)
	}
}

func TestStoreAndRemove(t *testing.T) {
	d, mf := newTestDispatcher(DefaultCapacity, map[string]string{})

	tests := []struct {
		line    string
		payload string
		want    string
	}{
		{"notes,store", "hello", "Processing notes.txt:\nFile stored successfully.\nDone."},
		{"readonly,store", "x", "Processing readonly.txt:\nFailed to store the file.\nDone."},
		{"notes,remove", "", "Processing notes.txt:\nFile removed successfully.\nDone."},
		{"notes,remove", "", "Processing notes.txt:\nFile does not exist.\nDone."},
		{"readonly,update", "x", "Processing readonly.txt:\nFailed to update the file.\nDone."},
	}
	for _, tt := range tests {
		if got := d.HandleLine(tt.line, []byte(tt.payload)); got != tt.want {
			t.Errorf("%s:\n%s\nwant:\n%s", tt.line, got, tt.want)
		}
	}
	if mf.called("write") != 3 || mf.called("delete") != 2 {
		t.Errorf("write=%d delete=%d", mf.called("write"), mf.called("delete"))
	}
	if d.Cache().Len() != 0 {
		t.Error("store 不应写入缓存")
	}
}

func TestExitAndFormatErrors(t *testing.T) {
	d, mf := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "x"})

	tests := []struct {
		line string
		want string
	}{
		{"report,exit", msgExit},
		{"report", msgBadFormat},
		{"report,get,words,extra", msgBadFormat},
		{"report,stat,words", msgBadPrimary},
		{"report,get,bytes", msgBadCount},
		{"report,frobnicate", msgBadOption},
	}
	for _, tt := range tests {
		if got := d.HandleLine(tt.line, nil); got != tt.want {
			t.Errorf("%q = %q, want %q", tt.line, got, tt.want)
		}
	}
	if len(mf.calls) != 0 {
		t.Errorf("格式错误和 exit 不应访问文件, calls = %v", mf.calls)
	}
	if d.Cache().Len() != 0 {
		t.Error("格式错误和 exit 不应访问缓存")
	}
}

func TestConcurrentQueriesComputeOnce(t *testing.T) {
	d, mf := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b\nc"})

	const callers = 20
	entered := make(chan struct{}, callers)
	release := make(chan struct{})
	mf.onWords = func() {
		entered <- struct{}{}
		<-release
	}

	var started, wg sync.WaitGroup
	started.Add(callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			got := d.HandleLine("report,read,words", nil)
			if !strings.Contains(got, "words: 3") && !strings.Contains(got, "Word count for report.txt: 3") {
				t.Errorf("响应: %s", got)
			}
		}()
	}

	// 第一个计算阻塞时，其余调用都在等待同一次计算
	<-entered
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := mf.called("words"); n != 1 {
		t.Errorf("words 计算了 %d 次, want 1", n)
	}
	if v, ok := d.Cache().Peek("report.txt,words"); !ok || v != "3" {
		t.Errorf("缓存 words = %q,%v", v, ok)
	}
}

func TestUpdateDuringComputation(t *testing.T) {
	for _, op := range []string{"update", "remove"} {
		t.Run(op, func(t *testing.T) {
			d, mf := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b c"})

			entered := make(chan struct{})
			release := make(chan struct{})
			var once sync.Once
			mf.onWords = func() {
				once.Do(func() {
					close(entered)
					<-release
				})
			}

			done := make(chan string)
			go func() { done <- d.HandleLine("report,read,words", nil) }()

			// 计算已经读到旧内容 "a b c"，此时文件被修改
			<-entered
			if got := d.HandleLine("report,"+op, []byte("one")); !strings.Contains(got, "successfully") {
				t.Fatalf("%s 响应: %s", op, got)
			}
			close(release)
			if got := <-done; !strings.Contains(got, "Word count for report.txt: 3") {
				t.Errorf("进行中的请求应返回它读到的结果: %s", got)
			}

			if v, ok := d.Cache().Peek("report.txt,words"); ok {
				t.Errorf("%s 完成之后缓存了旧结果 %q", op, v)
			}
			if op == "update" {
				got := d.HandleLine("report,read,words", nil)
				if !strings.Contains(got, "Word count for report.txt: 1") {
					t.Errorf("更新之后应重新计算:\n%s", got)
				}
			}
		})
	}
}

func TestPutIfGeneration(t *testing.T) {
	c := newTestCache(DefaultCapacity)
	gen := c.Generation("report.txt")
	if !c.PutIfGeneration("report.txt", gen, "report.txt,lines", "2") {
		t.Fatal("代数未变时应写入")
	}

	c.InvalidatePrefix("report.txt")
	if c.PutIfGeneration("report.txt", gen, "report.txt,lines", "2") {
		t.Error("失效之后旧代数不应写入")
	}
	if _, ok := c.Peek("report.txt,lines"); ok {
		t.Error("旧结果不应出现在缓存中")
	}
	// 其他文件不受影响
	if !c.PutIfGeneration("other.txt", c.Generation("other.txt"), "other.txt,lines", "1") {
		t.Error("other.txt 的代数不应改变")
	}
	if g := c.Generation("report.txt"); g != gen+1 {
		t.Errorf("Generation = %d, want %d", g, gen+1)
	}
}

func TestInvalidateFromWatcher(t *testing.T) {
	d, _ := newTestDispatcher(DefaultCapacity, map[string]string{"report.txt": "a b\nc"})
	d.HandleLine("report,totals", nil)

	if n := d.Invalidate("report.txt"); n != 3 {
		t.Errorf("Invalidate = %d, want 3", n)
	}
	if n := d.Invalidate("report.txt"); n != 0 {
		t.Errorf("重复 Invalidate = %d, want 0", n)
	}
}
