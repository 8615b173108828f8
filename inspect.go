package main

import (
	"fmt"
	"io"
	"net"
	"strings"
	"text/tabwriter"

	gocachex "goFileCacheX/cache"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [file.txt op]",
	Short: "Show the contents of a running server's cache",
	Long: `Show the contents of a running server's cache through its HTTP inspection
endpoint. The server must be started with --inspect.

Without arguments it prints the cache statistics and keys, most recently used
first. With a file name and an operation it prints the cached value without
computing it or changing its recency.`,
	Example: "filecachex inspect --inspect :9999\nfilecachex inspect report.txt words --inspect :9999",
	Args:    inspectArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Inspect.Addr == "" {
			return fmt.Errorf("no inspection endpoint configured, use --inspect")
		}
		inspector := gocachex.NewInspector(inspectURL(cfg.Inspect.Addr))
		out := cmd.OutOrStdout()

		if len(args) == 2 {
			value, ok, err := inspector.Get(cmd.Context(), args[0], gocachex.Option(args[1]))
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(out, "%s,%s is not cached\n", args[0], args[1])
				return nil
			}
			fmt.Fprintln(out, value)
			return nil
		}

		stats, keys, err := inspector.Stats(cmd.Context())
		if err != nil {
			return err
		}
		printStats(out, stats, keys)
		return nil
	},
}

func inspectArgs(_ *cobra.Command, args []string) error {
	if len(args) != 0 && len(args) != 2 {
		return fmt.Errorf("expected a file name and an operation, got %d args", len(args))
	}
	return nil
}

func init() {
	inspectCmd.Flags().String("inspect", "", "address of the server's inspection endpoint")
}

// inspectURL 把 ":9999" 形式的监听地址转换成 URL
func inspectURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func printStats(w io.Writer, s gocachex.Stats, keys []string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "size\t%d/%d\n", s.Size, s.Capacity)
	fmt.Fprintf(tw, "policy\t%s\n", s.Policy)
	fmt.Fprintf(tw, "hits\t%d\n", s.Hits)
	fmt.Fprintf(tw, "misses\t%d\n", s.Misses)
	fmt.Fprintf(tw, "evictions\t%d\n", s.Evictions)
	fmt.Fprintf(tw, "invalidations\t%d\n", s.Invalidations)
	tw.Flush()

	if len(keys) == 0 {
		return
	}
	fmt.Fprintln(w, "keys (most recent first):")
	for _, k := range keys {
		fmt.Fprintln(w, "  "+k)
	}
}
