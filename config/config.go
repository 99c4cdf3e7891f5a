// Package config 加载 hydra 服务配置
//
// 优先级: 命令行显式参数 > 环境变量(HYDRA_ 前缀) > 配置文件 > 默认值
package config

import (
	"io/fs"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/wildmap/hydra/metrics"
	"github.com/wildmap/hydra/xlog"
	"github.com/wildmap/hydra/xnet"
	"github.com/wildmap/hydra/xnet/sockets"
)

// EnvPrefix 环境变量前缀, 例如 HYDRA_LISTEN_ADDR -> listen.addr
const EnvPrefix = "HYDRA"

// ListenConfig 监听配置
type ListenConfig struct {
	// Addr host:port, unix:/path 或 unix:@name
	Addr      string `mapstructure:"addr"`
	ReusePort bool   `mapstructure:"reuse_port"`
	Backlog   int    `mapstructure:"backlog"`
	// Workers 事件循环进程数, 1 表示在当前进程中运行
	Workers int `mapstructure:"workers"`
	// UnixMode 文件系统 UNIX 套接字权限, 例如 0660
	UnixMode uint32 `mapstructure:"unix_mode"`
}

// Options 转换为套接字选项
func (c ListenConfig) Options() sockets.ListenOptions {
	return sockets.ListenOptions{
		ReusePort: c.ReusePort,
		Backlog:   c.Backlog,
		Mode:      fs.FileMode(c.UnixMode),
	}
}

// Config 服务配置
type Config struct {
	Listen  ListenConfig   `mapstructure:"listen"`
	Server  xnet.Config    `mapstructure:"server"`
	Log     xlog.Config    `mapstructure:"log"`
	Metrics metrics.Config `mapstructure:"metrics"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Listen: ListenConfig{
			Addr:    "127.0.0.1:9090",
			Backlog: sockets.DefaultBacklog,
			Workers: 1,
		},
		Server:  xnet.DefaultConfig(),
		Log:     xlog.DefaultConfig(),
		Metrics: metrics.DefaultConfig(),
	}
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	if c.Listen.Addr == "" {
		return errors.New("config: listen.addr is required")
	}
	if c.Listen.Backlog <= 0 {
		c.Listen.Backlog = sockets.DefaultBacklog
	}
	if c.Listen.Workers <= 0 {
		c.Listen.Workers = 1
	}
	if c.Listen.UnixMode > 0o777 {
		return errors.Newf("config: invalid listen.unix_mode %o", c.Listen.UnixMode)
	}
	if err := c.Server.Validate(); err != nil {
		return errors.Wrap(err, "config: server")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.Wrap(err, "config: log")
	}
	if err := c.Metrics.Validate(); err != nil {
		return errors.Wrap(err, "config: metrics")
	}
	return nil
}

// RegisterFlags 注册命令行参数
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to config file (yaml, json or toml)")
	fs.String("listen", "", "listen address: host:port, unix:/path or unix:@name")
	fs.Int("workers", 0, "number of reactor processes")
	fs.Bool("reuse-port", false, "enable SO_REUSEPORT on tcp listeners")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-file", "", "log file path, empty for stdout")
	fs.String("metrics-addr", "", "prometheus listen address, empty to disable")
}

// flagKeys 命令行参数与配置项的对应关系
var flagKeys = map[string]string{
	"listen":       "listen.addr",
	"workers":      "listen.workers",
	"reuse-port":   "listen.reuse_port",
	"log-level":    "log.level",
	"log-file":     "log.file",
	"metrics-addr": "metrics.addr",
}

// Load 按优先级合并各配置来源
// fs 必须已经注册 RegisterFlags 并完成解析, 只有显式设置的参数会覆盖其他来源
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}

	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, errors.Wrapf(err, "config: bind flag %s", name)
		}
	}
	if f := fs.Lookup("metrics-addr"); f != nil && f.Changed {
		v.Set("metrics.enabled", f.Value.String() != "")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "config: unmarshal")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// setDefaults 注册所有配置项的默认值, 环境变量只对已知的配置项生效
func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("listen.addr", c.Listen.Addr)
	v.SetDefault("listen.reuse_port", c.Listen.ReusePort)
	v.SetDefault("listen.backlog", c.Listen.Backlog)
	v.SetDefault("listen.workers", c.Listen.Workers)
	v.SetDefault("listen.unix_mode", c.Listen.UnixMode)

	v.SetDefault("server.max_frame_size", c.Server.MaxFrameSize)
	v.SetDefault("server.max_outbound", c.Server.MaxOutbound)
	v.SetDefault("server.outbound_high_water", c.Server.OutboundHighWater)
	v.SetDefault("server.read_buffer_size", c.Server.ReadBufferSize)
	v.SetDefault("server.max_events", c.Server.MaxEvents)
	v.SetDefault("server.max_depth", c.Server.MaxDepth)
	v.SetDefault("server.strict_read", c.Server.StrictRead)
	v.SetDefault("server.proxy_protocol", c.Server.ProxyProtocol)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)

	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.file", c.Log.File)
	v.SetDefault("log.max_size_mb", c.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", c.Log.MaxBackups)
	v.SetDefault("log.max_age_days", c.Log.MaxAgeDays)
	v.SetDefault("log.compression", c.Log.Compression)
	v.SetDefault("log.rotation_interval", c.Log.RotationInterval)

	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.addr", c.Metrics.Addr)
	v.SetDefault("metrics.path", c.Metrics.Path)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)
}
