package xlog

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/DeRuina/timberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// levelController 日志输出基本控制器
	levelController = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Config 日志配置
type Config struct {
	Level            string        `mapstructure:"level"`             // debug, info, warn, error
	File             string        `mapstructure:"file"`              // 为空时输出到标准输出
	MaxSizeMB        int           `mapstructure:"max_size_mb"`       // 单个日志文件最大M
	MaxBackups       int           `mapstructure:"max_backups"`       // 最多保留备份数
	MaxAgeDays       int           `mapstructure:"max_age_days"`      // 最大保存天数
	Compression      string        `mapstructure:"compression"`       // none, gzip, zstd
	RotationInterval time.Duration `mapstructure:"rotation_interval"` // 日志轮转时间间隔
}

// DefaultConfig 默认日志配置
func DefaultConfig() Config {
	return Config{
		Level:            "info",
		MaxSizeMB:        50,
		MaxBackups:       7,
		MaxAgeDays:       7,
		Compression:      "none",
		RotationInterval: 24 * time.Hour,
	}
}

// Validate 校验配置并填充默认值
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Level == "" {
		c.Level = def.Level
	}
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = def.MaxSizeMB
	}
	if c.MaxBackups < 0 {
		return fmt.Errorf("xlog: max_backups must not be negative, got %d", c.MaxBackups)
	}
	if c.MaxAgeDays < 0 {
		return fmt.Errorf("xlog: max_age_days must not be negative, got %d", c.MaxAgeDays)
	}
	switch c.Compression {
	case "":
		c.Compression = def.Compression
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("xlog: unknown compression %q", c.Compression)
	}
	return nil
}

// ParseLevel 解析日志级别
func ParseLevel(s string) (zapcore.Level, error) {
	l, err := zapcore.ParseLevel(s)
	if err != nil {
		return l, fmt.Errorf("xlog: %w", err)
	}
	return l, nil
}

// initDefaultLogger 在没有外部调用Setup进行日志库设置的情况下，进行默认的日志库配置；
// 以便测试和单独的小工具使用；
func initDefaultLogger() {
	rootLogger.CompareAndSwap(nil, build(os.Stdout))
}

// Sync 系统运行结束时，将日志落盘；
func Sync() {
	if l := rootLogger.Load(); l != nil {
		_ = l.Sync()
	}
}

func header() string {
	var strs = []string{
		os.Getenv("HYDRA_WORKER_ID"),
	}
	strs = slices.DeleteFunc(strs, func(s string) bool {
		return strings.TrimSpace(s) == ""
	})
	if len(strs) == 0 {
		return ""
	}
	return "worker-" + strings.Join(strs, " ")
}

// Setup 按配置初始化全局logger
func Setup(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	level, _ := ParseLevel(c.Level)
	levelController.SetLevel(level)

	// 将日志输出到屏幕
	var out io.Writer = os.Stdout
	// 将日志输出到滚动切割文件中
	if c.File != "" {
		out = fileWriter(c)
	}
	rootLogger.Store(build(out))
	return nil
}

func build(out io.Writer) *zLogger {
	head := header()
	config := zapcore.EncoderConfig{
		CallerKey:     "line", // 打印文件名和行数
		LevelKey:      "level",
		MessageKey:    "message",
		TimeKey:       "time",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime: func(t time.Time, encoder zapcore.PrimitiveArrayEncoder) {
			encoder.AppendString(t.Format("2006-01-02 15:04:05.999"))
			if head != "" {
				encoder.AppendString(head)
			}
		},
		EncodeLevel: func(level zapcore.Level, encoder zapcore.PrimitiveArrayEncoder) {
			encoder.AppendString(strings.ToTitle(level.String()))
		},
		EncodeCaller: func(caller zapcore.EntryCaller, encoder zapcore.PrimitiveArrayEncoder) {
			encoder.AppendString("[" + caller.TrimmedPath() + "]")
		},
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	}
	encoder := zapcore.NewConsoleEncoder(config)
	core := zapcore.NewCore(encoder, zapcore.AddSync(out), levelController)

	// 生产根logger，设置输出调度点(上跳2行），输出Error级别的堆栈信息，
	l := newzLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.ErrorLevel)))
	l.global = true
	return l
}

// SetLevel 运行时调整日志级别
func SetLevel(l zapcore.Level) {
	levelController.SetLevel(l)
}

func fileWriter(c Config) io.Writer {
	return &timberjack.Logger{
		Filename:         c.File,
		MaxBackups:       c.MaxBackups,
		MaxSize:          c.MaxSizeMB,
		MaxAge:           c.MaxAgeDays,
		Compression:      c.Compression,
		LocalTime:        true,
		RotationInterval: c.RotationInterval,
		BackupTimeFormat: "2006-01-02-15-04-05", // 日志轮转时间格式
	}
}
