package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	// DefaultMaxPayload 默认的 store/update 文件内容上限
	DefaultMaxPayload = 64 << 20
	// MaxLineSize 请求行的最大长度
	MaxLineSize = 64 << 10
)

var (
	// ErrPayloadTooLarge 表示文件内容超过上限
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrLineTooLong 表示请求行超过 MaxLineSize
	ErrLineTooLong = errors.New("request line too long")
	// ErrBadLength 表示长度前缀不是合法的 varint
	ErrBadLength = errors.New("malformed payload length")
)

// 请求格式：
//
//	<请求行>\n[varint(len)][len 字节的文件内容]
//
// 只有 store/update 请求带文件内容，长度前缀使用 protobuf 的 base-128 varint 编码。

// WriteRequest 写出一个请求，withPayload 为 true 时在请求行后写出带长度前缀的 payload
func WriteRequest(w io.Writer, line string, payload []byte, withPayload bool) error {
	buf := make([]byte, 0, len(line)+1+protowire.SizeVarint(uint64(len(payload)))+len(payload))
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if withPayload {
		buf = protowire.AppendVarint(buf, uint64(len(payload)))
		buf = append(buf, payload...)
	}
	_, err := w.Write(buf)
	return err
}

// ReadLine 读取一行请求，去掉结尾的换行符。
// 连接在换行符之前关闭时，已读到的内容仍作为一行返回。
func ReadLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxLineSize {
			return "", ErrLineTooLong
		}
		switch {
		case err == nil:
			line = bytes.TrimSuffix(line[:len(line)-1], []byte("\r"))
			return string(line), nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(line) > 0:
			return string(bytes.TrimSuffix(line, []byte("\r"))), nil
		default:
			return "", err
		}
	}
}

// readLength 逐字节读取一个 varint 长度前缀
func readLength(r io.ByteReader) (uint64, error) {
	var buf [binaryMaxVarintLen]byte
	for i := 0; i < len(buf); i++ {
		b, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && i > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		buf[i] = b
		if b < 0x80 {
			n, size := protowire.ConsumeVarint(buf[:i+1])
			if size < 0 {
				return 0, fmt.Errorf("%w: %w", ErrBadLength, protowire.ParseError(size))
			}
			return n, nil
		}
	}
	return 0, ErrBadLength
}

const binaryMaxVarintLen = 10

// ReadPayload 读取带长度前缀的 payload，超过 max 时丢弃内容并返回 ErrPayloadTooLarge
func ReadPayload(r *bufio.Reader, max int64) ([]byte, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("read payload length: %w", err)
	}
	if max > 0 && n > uint64(max) {
		// 读完多余的内容，客户端才能收到响应
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, fmt.Errorf("discard payload: %w", err)
		}
		return nil, fmt.Errorf("%w: %s exceeds limit %s",
			ErrPayloadTooLarge, humanize.IBytes(n), humanize.IBytes(uint64(max)))
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload (%s): %w", humanize.IBytes(n), err)
	}
	return payload, nil
}
