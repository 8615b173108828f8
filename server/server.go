// Package server 实现文件缓存服务的 TCP 接入层：
// 接受连接、通过准入闸门限制并发、读取请求并把响应写回客户端。
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	gocachex "goFileCacheX/cache"
	"goFileCacheX/gate"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Handler 处理一行请求和可选的文件内容，gocachex.Dispatcher 实现了该接口
type Handler interface {
	HandleLine(line string, payload []byte) string
}

// HandlerFunc 让普通函数实现 Handler
type HandlerFunc func(line string, payload []byte) string

// HandleLine 调用 f(line, payload)
func (f HandlerFunc) HandleLine(line string, payload []byte) string {
	return f(line, payload)
}

// Options 服务端参数
type Options struct {
	Permits        int           // 同时处理的连接数，<= 0 时使用 gate.DefaultPermits
	RequestTimeout time.Duration // 每个连接的总时限，0 表示不限
	AcceptRate     float64       // 每秒最多接受的连接数，0 表示不限
	MaxPayload     int64         // store/update 内容上限，<= 0 时使用 DefaultMaxPayload
	Logger         *log.Logger
}

// Server 每个连接一个 goroutine，所有连接共享同一个 Handler
type Server struct {
	handler Handler
	gate    *gate.Gate
	limiter *rate.Limiter
	opts    Options
	logger  *log.Logger
	wg      sync.WaitGroup // 正在处理的连接
}

// New 创建 Server
func New(handler Handler, opts Options) *Server {
	if handler == nil {
		panic("nil Handler")
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = DefaultMaxPayload
	}
	s := &Server{
		handler: handler,
		gate:    gate.New(opts.Permits),
		opts:    opts,
		logger:  opts.Logger.WithPrefix("server"),
	}
	if opts.AcceptRate > 0 {
		burst := int(opts.AcceptRate)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), burst)
	}
	return s
}

// Gate 返回准入闸门
func (s *Server) Gate() *gate.Gate {
	return s.gate
}

// ListenAndServe 监听 addr 并处理连接，直到 ctx 结束
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上接受连接，直到 ctx 结束或 ln 被关闭。
// 返回前关闭 ln 并等待所有正在处理的连接结束。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String(), "permits", s.gate.Permits())

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	defer s.wg.Wait()
	defer ln.Close()

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Info("stopped accepting", "addr", ln.Addr().String())
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > time.Second {
				backoff = time.Second
			}
			s.logger.Warn("accept failed", "err", err, "retry", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		s.wg.Add(1)
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	logger := s.logger.With("conn", uuid.NewString()[:8])
	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection panic", "err", r, "stack", string(debug.Stack()))
		}
	}()

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
		conn.SetDeadline(time.Now().Add(s.opts.RequestTimeout))
	}

	logger.Debug("accepted", "remote", conn.RemoteAddr().String())
	err := s.gate.Do(ctx, func() error {
		return s.exchange(conn, logger)
	})
	switch {
	case err == nil:
	case errors.Is(err, gate.ErrInterrupted):
		busy := gocachex.ConcurrencyError("Server busy", context.Cause(ctx))
		logger.Warn("admission interrupted", "err", busy)
		conn.SetDeadline(time.Now().Add(drainTimeout))
		fmt.Fprintf(conn, "%s: %v\n", busy.Message, busy.Cause)
		drain(conn)
	default:
		logger.Warn("connection failed", "err", err)
	}
}

// exchange 读取一个请求并写回响应，调用方持有许可
func (s *Server) exchange(conn net.Conn, logger *log.Logger) error {
	r := bufio.NewReader(conn)
	line, err := ReadLine(r)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	var payload []byte
	if req, perr := gocachex.ParseRequest(line); perr == nil && req.NeedsPayload() {
		payload, err = ReadPayload(r, s.opts.MaxPayload)
		if errors.Is(err, ErrPayloadTooLarge) {
			logger.Warn("rejected payload", "request", line, "err", err)
			return writeResponse(conn, "Failed to receive the file: "+err.Error())
		}
		if err != nil {
			return err
		}
	}

	start := time.Now()
	resp := s.handler.HandleLine(line, payload)
	logger.Info("handled", "request", line,
		"payload", humanize.Bytes(uint64(len(payload))),
		"took", time.Since(start),
		"in_flight", s.gate.InFlight())
	return writeResponse(conn, resp)
}

const drainTimeout = time.Second

// drain 在关闭前读掉客户端已发送的请求，未读的数据会让关闭变成 RST，客户端可能收不到响应
func drain(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	io.Copy(io.Discard, io.LimitReader(conn, MaxLineSize+DefaultMaxPayload))
}

func writeResponse(w io.Writer, resp string) error {
	if _, err := io.WriteString(w, resp+"\n"); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
