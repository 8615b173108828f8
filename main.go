package main

/*
$ filecachex serve --capacity 6 --inspect :9999
$ filecachex client
Enter text file name (without extension):
report
Enter option (store/get/read/totals/update/remove/exit):
totals

$ filecachex inspect --inspect :9999
*/

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"goFileCacheX/config"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version 构建时通过 -ldflags 注入
	Version = ""

	configFile string
	settings   *viper.Viper
	cfg        *config.Config

	logger = log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Prefix:          "filecachex",
	})

	rootCmd = &cobra.Command{
		Use:           "filecachex",
		Short:         "Text file server with a bounded LRU result cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "filecachex %s (%s)\n", Version, runtime.Version())
		},
	}
)

// 配置项 -> 命令行参数名，各子命令只声明自己需要的参数
var flagKeys = map[string]string{
	"server.addr":            "addr",
	"server.permits":         "permits",
	"server.request_timeout": "timeout",
	"server.accept_rate":     "accept-rate",
	"server.max_payload":     "max-payload",
	"cache.capacity":         "capacity",
	"cache.eager_cleanup":    "eager-cleanup",
	"store.dir":              "dir",
	"store.watch":            "watch",
	"inspect.addr":           "inspect",
	"log.level":              "log-level",
}

func loadConfig(cmd *cobra.Command) error {
	v, err := config.New(configFile)
	if err != nil {
		return err
	}
	if err := config.BindFlags(v, cmd.Flags(), flagKeys); err != nil {
		return err
	}
	c, err := config.Load(v)
	if err != nil {
		return err
	}

	settings, cfg = v, c
	logger.SetLevel(cfg.LogLevel())
	if used := v.ConfigFileUsed(); used != "" {
		logger.Debug("using configuration file", "path", used)
	}
	return nil
}

func init() {
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./"+config.Name+".yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, clientCmd, inspectCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}
