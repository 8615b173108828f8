/*
	    gocachex 是一个带有界结果缓存的文本文件服务，
		- 用 BoundedCache 封装并发安全的LRU缓存
		- 用 Dispatcher 解析请求、推导缓存 key、处理命中/未命中和失效
		- 用 FileOps 定义缓存未命中时访问文件的接口
		- 用 singleflight 合并对同一个 key 的并发计算
*/
package gocachex

import (
	"errors"
	"fmt"
	"goFileCacheX/singleflight"
	"io/fs"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// FileOps 定义了缓存未命中时访问文件的接口
type FileOps interface {
	List() ([]string, error)
	ReadAll(name string) ([]byte, error)
	WriteAll(name string, data []byte) error
	Delete(name string) (bool, error)
	CountLines(name string) (int, error)
	CountWords(name string) (int, error)
	CountCharacters(name string) (int, error)
}

const (
	msgExit     = "Client termination requested."
	msgDone     = "Done."
	msgNoFiles  = "No files found."
	msgNotExist = "File does not exist."
)

// Dispatcher 处理单行请求，所有连接共享同一个实例
type Dispatcher struct {
	cache  *BoundedCache
	files  FileOps
	loader *singleflight.Group // 防止同一个 key 被重复计算
	logger *log.Logger
}

// NewDispatcher 创建 Dispatcher，cache 和 files 不能为空
func NewDispatcher(cache *BoundedCache, files FileOps, logger *log.Logger) *Dispatcher {
	if cache == nil || files == nil {
		panic("nil cache or FileOps")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		cache:  cache,
		files:  files,
		loader: &singleflight.Group{},
		logger: logger.WithPrefix("dispatch"),
	}
}

// Cache 返回共享的缓存
func (d *Dispatcher) Cache() *BoundedCache {
	return d.cache
}

// HandleLine 解析并处理一行请求，格式错误直接返回错误描述
func (d *Dispatcher) HandleLine(line string, payload []byte) string {
	req, err := ParseRequest(line)
	if err != nil {
		d.logger.Debug("bad request", "line", line, "err", err)
		return d.failure(err)
	}
	return d.Handle(req, payload)
}

// Handle 处理一个已解析的请求并返回响应文本
func (d *Dispatcher) Handle(req Request, payload []byte) string {
	if req.Primary == OptExit {
		return msgExit
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Processing %s:\n", req.FileName())

	if req.Count != "" {
		d.handleQuery(&b, req)
	} else {
		switch req.Primary {
		case OptStore:
			b.WriteString(d.store(req, payload))
		case OptUpdate:
			b.WriteString(d.update(req, payload))
		case OptRemove:
			b.WriteString(d.remove(req))
		case OptTotals:
			d.totals(&b, req)
		default:
			return d.failure(FormatError(msgBadOption))
		}
		b.WriteByte('\n')
	}

	b.WriteString(msgDone)
	return b.String()
}

// handleQuery 处理 "<file>,<get|read>,<count>" 请求：
// 先查两个 key，再分别计算未命中的部分
func (d *Dispatcher) handleQuery(b *strings.Builder, req Request) {
	fileName := req.FileName()
	keyA, keyB := req.Key(req.Primary), req.Key(req.Count)

	valueA, hitA := d.cache.Get(keyA)
	valueB, hitB := d.cache.Get(keyB)

	if hitA {
		d.logger.Debug("hit", "key", keyA)
		fmt.Fprintf(b, "Cache hit for %s, %s: %s\n", fileName, req.Primary, valueA)
	}
	if hitB {
		d.logger.Debug("hit", "key", keyB)
		fmt.Fprintf(b, "Cache hit for %s, %s: %s\n", fileName, req.Count, valueB)
	}

	if !hitA {
		v, err := d.load(fileName, keyA, func() (string, error) { return d.compute(fileName, req.Primary) })
		if err != nil {
			b.WriteString(d.failure(err) + "\n")
		} else {
			b.WriteString(freshLine(fileName, req.Primary, v) + "\n")
		}
	}
	if !hitB {
		v, err := d.load(fileName, keyB, func() (string, error) { return d.compute(fileName, req.Count) })
		if err != nil {
			b.WriteString(d.failure(err) + "\n")
		} else {
			b.WriteString(freshLine(fileName, req.Count, v) + "\n")
		}
	}
}

// totals 依次返回行、词、字符数，命中时复用缓存
func (d *Dispatcher) totals(b *strings.Builder, req Request) {
	fileName := req.FileName()
	b.WriteString("System totals:")
	for _, op := range CountOptions {
		key := CacheKey(fileName, op)
		if v, ok := d.cache.Get(key); ok {
			d.logger.Debug("hit", "key", key)
			fmt.Fprintf(b, "\nCache hit for %s: %s", key, v)
			continue
		}
		v, err := d.load(fileName, key, func() (string, error) { return d.compute(fileName, op) })
		if err != nil {
			b.WriteString("\n" + d.failure(err))
			continue
		}
		fmt.Fprintf(b, "\n%s count for %s: %s", op, fileName, v)
	}
}

// load 计算 key 对应的值并写入缓存，计算失败的结果不缓存。
// 计算期间 fileName 被失效时结果只返回给调用方，不写入缓存。
func (d *Dispatcher) load(fileName, key string, compute func() (string, error)) (string, error) {
	v, err, shared := d.loader.Do(key, func() (any, error) {
		d.logger.Debug("miss", "key", key)
		gen := d.cache.Generation(fileName)
		s, err := compute()
		if err != nil {
			return "", err
		}
		if !d.cache.PutIfGeneration(fileName, gen, key, s) {
			d.logger.Debug("discarded stale result", "key", key)
		}
		return s, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		d.logger.Debug("shared computation", "key", key)
	}
	return v.(string), nil
}

// compute 在缓存未命中时访问文件
func (d *Dispatcher) compute(fileName string, op Option) (string, error) {
	switch op {
	case OptGet:
		names, err := d.files.List()
		if err != nil {
			return "", IOError("Failed to list files", err)
		}
		if len(names) == 0 {
			return msgNoFiles, nil
		}
		return strings.Join(names, ", "), nil
	case OptRead:
		content, err := d.files.ReadAll(fileName)
		if err != nil {
			return "", IOError("Failed to read "+fileName, err)
		}
		return string(content), nil
	case OptLines, OptWords, OptCharacters:
		count := d.files.CountLines
		if op == OptWords {
			count = d.files.CountWords
		} else if op == OptCharacters {
			count = d.files.CountCharacters
		}
		n, err := count(fileName)
		if err != nil {
			return "", IOError(fmt.Sprintf("Failed to count %s for %s", op, fileName), err)
		}
		return strconv.Itoa(n), nil
	default:
		return "", FormatError(msgBadOption)
	}
}

func freshLine(fileName string, op Option, value string) string {
	switch op {
	case OptGet:
		return "Files on server: " + value
	case OptRead:
		return "Content of " + fileName + ": " + value
	case OptLines:
		return "Line count for " + fileName + ": " + value
	case OptWords:
		return "Word count for " + fileName + ": " + value
	default:
		return "Character count for " + fileName + ": " + value
	}
}

func (d *Dispatcher) store(req Request, payload []byte) string {
	fileName := req.FileName()
	if err := d.files.WriteAll(fileName, payload); err != nil {
		d.logger.Warn("store failed", "file", fileName, "err", err)
		return "Failed to store the file."
	}
	d.logger.Info("stored", "file", fileName, "size", humanize.Bytes(uint64(len(payload))))
	return "File stored successfully."
}

// update 覆盖文件后清除该文件的所有缓存结果。
// 缓存锁只保护缓存结构，并发的 read 可能读到写了一半的文件。
func (d *Dispatcher) update(req Request, payload []byte) string {
	fileName := req.FileName()
	err := d.files.WriteAll(fileName, payload)
	d.Invalidate(fileName)
	if err != nil {
		d.logger.Warn("update failed", "file", fileName, "err", err)
		return "Failed to update the file."
	}
	d.logger.Info("updated", "file", fileName, "size", humanize.Bytes(uint64(len(payload))))
	return "File updated successfully."
}

func (d *Dispatcher) remove(req Request) string {
	fileName := req.FileName()
	deleted, err := d.files.Delete(fileName)
	d.Invalidate(fileName)
	switch {
	case err != nil:
		d.logger.Warn("remove failed", "file", fileName, "err", err)
		return "Failed to remove the file."
	case !deleted:
		return msgNotExist
	default:
		d.logger.Info("removed", "file", fileName)
		return "File removed successfully."
	}
}

// Invalidate 清除 fileName 的所有缓存结果，并让正在进行的计算不再被复用
func (d *Dispatcher) Invalidate(fileName string) int {
	n := d.cache.InvalidatePrefix(fileName)
	d.loader.ForgetPrefix(fileName + ",")
	if n > 0 {
		d.logger.Info("invalidated", "file", fileName, "entries", n)
	}
	return n
}

// failure 把错误转换成返回给客户端的文本
func (d *Dispatcher) failure(err error) string {
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		d.logger.Error("request failed", "err", err)
		return "Request failed."
	}
	if reqErr.Kind != ErrIO {
		return reqErr.Message
	}

	d.logger.Warn("io error", "err", reqErr)
	if errors.Is(reqErr, fs.ErrNotExist) {
		return reqErr.Message + ": " + msgNotExist
	}
	return reqErr.Message + "."
}
