package xlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ ILogger = &zLogger{}

// ILogger 日志接口
// f 后缀为格式化输出, x 后缀以 zap field 方式输出, 热路径只使用 x 系列
type ILogger interface {
	Debugf(string, ...any)
	Debugx(string, ...zapcore.Field)

	Infof(string, ...any)
	Infox(string, ...zapcore.Field)

	Warnf(string, ...any)
	Warnx(string, ...zapcore.Field)

	Errorf(string, ...any)
	Errorx(string, ...zapcore.Field)

	Fatalf(string, ...any)

	Enabled(level zapcore.Level) bool
	With(fields ...zap.Field) ILogger
	Sync() error
}

type zLogger struct {
	logger  *zap.Logger
	slogger *zap.SugaredLogger
	global  bool // 由包级函数调用
}

func newzLogger(logger *zap.Logger) *zLogger {
	return &zLogger{
		logger:  logger,
		slogger: logger.Sugar(),
	}
}

func (z *zLogger) Debugf(template string, args ...any) {
	z.slogger.Debugf(template, args...)
}

// Debugx 以zapfield方式，极速输出"Debug"级别日志信息；
func (z *zLogger) Debugx(msg string, fields ...zapcore.Field) {
	z.logger.Debug(msg, fields...)
}

func (z *zLogger) Infof(template string, args ...any) {
	z.slogger.Infof(template, args...)
}

func (z *zLogger) Infox(msg string, fields ...zapcore.Field) {
	z.logger.Info(msg, fields...)
}

func (z *zLogger) Warnf(template string, args ...any) {
	z.slogger.Warnf(template, args...)
}

func (z *zLogger) Warnx(msg string, fields ...zapcore.Field) {
	z.logger.Warn(msg, fields...)
}

func (z *zLogger) Errorf(template string, args ...any) {
	z.slogger.Errorf(template, args...)
}

func (z *zLogger) Errorx(msg string, fields ...zapcore.Field) {
	z.logger.Error(msg, fields...)
}

// Fatalf 输出后调用 os.Exit(1)
func (z *zLogger) Fatalf(template string, args ...any) {
	z.slogger.Fatalf(template, args...)
}

func (z *zLogger) Sync() error {
	return z.logger.Sync()
}

func (z *zLogger) Enabled(level zapcore.Level) bool {
	return z.logger.Core().Enabled(level)
}

// With 获取带固定字段的子logger
// 子logger由调用方直接使用, 比包级函数少一层调用
func (z *zLogger) With(fields ...zap.Field) ILogger {
	l := z.logger
	if z.global {
		l = l.WithOptions(zap.AddCallerSkip(-1))
	}
	return newzLogger(l.With(fields...))
}
