// Package config 使用 viper 加载服务配置，优先级从高到低：
// 命令行参数、FILECACHEX_ 环境变量、filecachex.yaml、默认值。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Name 配置文件名（不含扩展名）和环境变量前缀
	Name      = "filecachex"
	envPrefix = "FILECACHEX"
)

// Config 服务端配置，启动后不再改变
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Inspect InspectConfig `mapstructure:"inspect" yaml:"inspect"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	Permits        int           `mapstructure:"permits" yaml:"permits"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"-"`
	AcceptRate     float64       `mapstructure:"accept_rate" yaml:"accept_rate"`
	MaxPayload     int64         `mapstructure:"max_payload" yaml:"max_payload"`
}

// MarshalYAML 以 "30s" 的形式输出 request_timeout
func (s ServerConfig) MarshalYAML() (any, error) {
	type plain ServerConfig
	return struct {
		plain          `yaml:",inline"`
		RequestTimeout string `yaml:"request_timeout"`
	}{plain(s), s.RequestTimeout.String()}, nil
}

type CacheConfig struct {
	Capacity     int  `mapstructure:"capacity" yaml:"capacity"`
	EagerCleanup bool `mapstructure:"eager_cleanup" yaml:"eager_cleanup"`
}

type StoreConfig struct {
	Dir   string `mapstructure:"dir" yaml:"dir"`
	Watch bool   `mapstructure:"watch" yaml:"watch"`
}

type InspectConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"` // 为空时不启动 HTTP 查询接口
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// SetDefaults 设置所有配置项的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.permits", 5)
	v.SetDefault("server.request_timeout", "0s")
	v.SetDefault("server.accept_rate", 0.0)
	v.SetDefault("server.max_payload", 64<<20)
	v.SetDefault("cache.capacity", 6)
	v.SetDefault("cache.eager_cleanup", false)
	v.SetDefault("store.dir", "storageFiles")
	v.SetDefault("store.watch", true)
	v.SetDefault("inspect.addr", "")
	v.SetDefault("log.level", "info")
}

// New 创建一个 viper 实例并读取配置文件。
// configFile 为空时依次在当前目录和用户配置目录中查找 filecachex.yaml，找不到不算错误。
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(Name)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, Name))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// BindFlags 把命令行参数绑定到配置项，flags 中不存在的参数被忽略。
// keys 为 配置项 -> 参数名。
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load 解码并校验配置
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate 检查配置取值范围
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.Permits < 1 {
		errs = append(errs, fmt.Errorf("server.permits must be >= 1, got %d", c.Server.Permits))
	}
	if c.Server.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be >= 0, got %s", c.Server.RequestTimeout))
	}
	if c.Server.AcceptRate < 0 {
		errs = append(errs, fmt.Errorf("server.accept_rate must be >= 0, got %g", c.Server.AcceptRate))
	}
	if c.Server.MaxPayload <= 0 {
		errs = append(errs, fmt.Errorf("server.max_payload must be > 0, got %d", c.Server.MaxPayload))
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, fmt.Errorf("cache.capacity must be >= 0, got %d", c.Cache.Capacity))
	}
	if c.Store.Dir == "" {
		errs = append(errs, errors.New("store.dir is required"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// LogLevel 返回日志级别，Validate 通过后不会出错
func (c *Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
