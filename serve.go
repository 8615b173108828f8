package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gocachex "goFileCacheX/cache"
	"goFileCacheX/config"
	"goFileCacheX/filestore"
	"goFileCacheX/server"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the file server",
	Long: `Start the file server.

Counts, listings and file contents are cached in a bounded LRU cache shared
by all connections. store, update and remove requests invalidate the cached
results of the file they touch.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		var lc net.ListenConfig
		ln, err := lc.Listen(ctx, "tcp", cfg.Server.Addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
		}
		var inspectLn net.Listener
		if cfg.Inspect.Addr != "" {
			if inspectLn, err = lc.Listen(ctx, "tcp", cfg.Inspect.Addr); err != nil {
				ln.Close()
				return fmt.Errorf("listen %s: %w", cfg.Inspect.Addr, err)
			}
		}
		return runServer(ctx, cfg, logger, ln, inspectLn)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("addr", ":8080", "address to listen on")
	f.Int("permits", 5, "maximum number of connections handled at once")
	f.Duration("timeout", 0, "per-connection deadline, 0 disables it")
	f.Float64("accept-rate", 0, "maximum accepted connections per second, 0 disables the limit")
	f.Int64("max-payload", server.DefaultMaxPayload, "maximum size of a stored file in bytes")
	f.Int("capacity", gocachex.DefaultCapacity, "maximum number of cached results")
	f.Bool("eager-cleanup", false, "evict before every cache read and write")
	f.String("dir", "storageFiles", "storage directory")
	f.Bool("watch", true, "invalidate cached results when files change outside the server")
	f.String("inspect", "", "address of the HTTP cache inspection endpoint, empty disables it")
}

// runServer 组装存储、缓存和服务端，直到 ctx 结束。inspectLn 可以为 nil。
func runServer(ctx context.Context, cfg *config.Config, logger *log.Logger, ln, inspectLn net.Listener) error {
	// 启动之前失败时由这里关闭监听，启动之后由各自的 Serve 关闭
	closeListeners := func() {
		ln.Close()
		if inspectLn != nil {
			inspectLn.Close()
		}
	}

	store, err := filestore.New(cfg.Store.Dir)
	if err != nil {
		closeListeners()
		return err
	}
	cache := gocachex.NewBoundedCache(cfg.Cache.Capacity,
		gocachex.WithEagerCleanup(cfg.Cache.EagerCleanup),
		gocachex.WithLogger(logger))
	dispatcher := gocachex.NewDispatcher(cache, store, logger)

	if cfg.Store.Watch {
		w, err := store.NewWatcher(func(name string) { dispatcher.Invalidate(name) }, logger.WithPrefix("watch"))
		if err != nil {
			closeListeners()
			return err
		}
		defer w.Close()
	}

	logger.Info("starting",
		"dir", store.Dir(),
		"capacity", cfg.Cache.Capacity,
		"policy", cache.Stats().Policy,
		"permits", cfg.Server.Permits,
		"max_payload", humanize.IBytes(uint64(cfg.Server.MaxPayload)))

	g, ctx := errgroup.WithContext(ctx)

	srv := server.New(dispatcher, server.Options{
		Permits:        cfg.Server.Permits,
		RequestTimeout: cfg.Server.RequestTimeout,
		AcceptRate:     cfg.Server.AcceptRate,
		MaxPayload:     cfg.Server.MaxPayload,
		Logger:         logger,
	})
	g.Go(func() error { return srv.Serve(ctx, ln) })

	if inspectLn != nil {
		handler := gocachex.NewInspectHandler(cache, logger)
		hs := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("inspection endpoint", "addr", inspectLn.Addr().String(), "path", handler.BasePath())
			if err := hs.Serve(inspectLn); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	stats := cache.Stats()
	logger.Info("stopped", "hits", stats.Hits, "misses", stats.Misses, "evictions", stats.Evictions)
	return err
}
