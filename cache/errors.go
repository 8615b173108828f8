package gocachex

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别
type ErrorKind int

const (
	// ErrFormat 请求字段数量不对或选项无法识别
	ErrFormat ErrorKind = iota
	// ErrIO 文件不存在或读/写/删除失败
	ErrIO
	// ErrConcurrency 等待准入许可时被中断
	ErrConcurrency
)

func (k ErrorKind) String() string {
	switch k {
	case ErrFormat:
		return "FORMAT"
	case ErrIO:
		return "IO"
	case ErrConcurrency:
		return "CONCURRENCY"
	default:
		return "UNKNOWN"
	}
}

// RequestError 处理单个请求时产生的错误，只影响当前连接
type RequestError struct {
	Kind    ErrorKind
	Message string // 返回给客户端的描述
	Cause   error
}

func (e *RequestError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Cause
}

// IsKind 判断 err 链中是否有指定类别的 RequestError
func IsKind(err error, kind ErrorKind) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Kind == kind
	}
	return false
}

// FormatError 创建格式错误
func FormatError(message string) *RequestError {
	return &RequestError{Kind: ErrFormat, Message: message}
}

// IOError 创建 I/O 错误
func IOError(message string, cause error) *RequestError {
	return &RequestError{Kind: ErrIO, Message: message, Cause: cause}
}

// ConcurrencyError 创建并发错误
func ConcurrencyError(message string, cause error) *RequestError {
	return &RequestError{Kind: ErrConcurrency, Message: message, Cause: cause}
}
