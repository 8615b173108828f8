package gocachex

import (
	"strings"
)

// Option 请求中的操作
type Option string

const (
	OptGet        Option = "get"
	OptRead       Option = "read"
	OptLines      Option = "lines"
	OptWords      Option = "words"
	OptCharacters Option = "characters"
	OptStore      Option = "store"
	OptUpdate     Option = "update"
	OptRemove     Option = "remove"
	OptTotals     Option = "totals"
	OptExit       Option = "exit"
)

// CountOptions totals 依次统计的指标
var CountOptions = []Option{OptLines, OptWords, OptCharacters}

const (
	msgBadFormat   = "Invalid message format. Please provide the file name, option, and count option as prompted by the Client."
	msgBadPrimary  = "Invalid option. Supported options: get, read"
	msgBadCount    = "Invalid count option. Supported options: lines, words, characters"
	msgBadOption   = "Invalid option."
	msgEmptyFile   = "Invalid message format. File name is required."
	fileNameSuffix = ".txt"
)

// Request 是解析后的一行请求。
// 三字段请求 Primary 与 Count 都有值；两字段请求只有 Primary。
type Request struct {
	File    string // 不带 .txt 后缀的文件名
	Primary Option
	Count   Option
}

// FileName 返回服务器上的文件名
func (r Request) FileName() string {
	return r.File + fileNameSuffix
}

// Key 返回 "<文件名>,<操作>" 形式的缓存 key
func (r Request) Key(op Option) string {
	return CacheKey(r.FileName(), op)
}

// NeedsPayload 表示请求后面是否跟着文件内容
func (r Request) NeedsPayload() bool {
	return r.Count == "" && (r.Primary == OptStore || r.Primary == OptUpdate)
}

// String 还原成请求行
func (r Request) String() string {
	if r.Count == "" {
		return r.File + "," + string(r.Primary)
	}
	return r.File + "," + string(r.Primary) + "," + string(r.Count)
}

// CacheKey 组合缓存 key，fileName 中不能包含逗号
func CacheKey(fileName string, op Option) string {
	return fileName + "," + string(op)
}

// ParseRequest 解析一行以逗号分隔的请求，字段数量必须是 2 或 3
func ParseRequest(line string) (Request, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	switch len(parts) {
	case 3:
		req := Request{File: parts[0], Primary: Option(parts[1]), Count: Option(parts[2])}
		if req.File == "" {
			return Request{}, FormatError(msgEmptyFile)
		}
		switch req.Primary {
		case OptGet, OptRead:
		default:
			return Request{}, FormatError(msgBadPrimary)
		}
		switch req.Count {
		case OptLines, OptWords, OptCharacters:
		default:
			return Request{}, FormatError(msgBadCount)
		}
		return req, nil
	case 2:
		req := Request{File: parts[0], Primary: Option(parts[1])}
		switch req.Primary {
		case OptExit:
			return req, nil
		case OptStore, OptUpdate, OptRemove, OptTotals:
		default:
			return Request{}, FormatError(msgBadOption)
		}
		if req.File == "" {
			return Request{}, FormatError(msgEmptyFile)
		}
		return req, nil
	default:
		return Request{}, FormatError(msgBadFormat)
	}
}
