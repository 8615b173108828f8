package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"

	gocachex "goFileCacheX/cache"
)

// Client 每个请求建立一个新连接，发送请求后读取响应直到服务端关闭连接
type Client struct {
	Addr string
}

// Do 发送一行请求。store/update 请求会在请求行之后发送 payload，其他请求忽略 payload。
func (c Client) Do(ctx context.Context, line string, payload []byte) (string, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", c.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := WriteRequest(conn, line, payload, NeedsPayload(line)); err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	resp, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read response: %w", err)
	}
	return strings.TrimSuffix(string(resp), "\n"), nil
}

// NeedsPayload 判断请求行后面是否需要跟文件内容
func NeedsPayload(line string) bool {
	req, err := gocachex.ParseRequest(line)
	return err == nil && req.NeedsPayload()
}
