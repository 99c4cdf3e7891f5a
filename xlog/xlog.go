// Package xlog 基于 zap 的全局日志
// 未调用 Setup 时首次使用会以默认配置输出到标准输出
package xlog

import (
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	rootLogger atomic.Pointer[zLogger]
)

func root() *zLogger {
	if l := rootLogger.Load(); l != nil {
		return l
	}
	initDefaultLogger()
	return rootLogger.Load()
}

// Debugf 输出格式化的"Debug"级别日志信息；
func Debugf(format string, args ...any) {
	root().Debugf(format, args...)
}

// Debugx 以zapfield方式，极速输出定制化的"Debug"级别日志信息；
func Debugx(msg string, fields ...zapcore.Field) {
	root().Debugx(msg, fields...)
}

// Infof 输出格式化的"Info"级别日志信息；
func Infof(format string, args ...any) {
	root().Infof(format, args...)
}

func Infox(msg string, fields ...zapcore.Field) {
	root().Infox(msg, fields...)
}

// Warnf 输出格式化的"Warn"级别日志信息；
func Warnf(format string, args ...any) {
	root().Warnf(format, args...)
}

func Warnx(msg string, fields ...zapcore.Field) {
	root().Warnx(msg, fields...)
}

// Errorf 输出格式化的"Error"级别日志信息, 附带调用堆栈；
func Errorf(format string, args ...any) {
	root().Errorf(format, args...)
}

func Errorx(msg string, fields ...zapcore.Field) {
	root().Errorx(msg, fields...)
}

// Fatalf 输出格式化的"Fatal"级别日志信息，并使程序退出（os.Exit(1)；
func Fatalf(format string, args ...any) {
	root().Fatalf(format, args...)
}

// Enabled 判断级别是否输出, 用于避免热路径上构造字段
func Enabled(level zapcore.Level) bool {
	return root().Enabled(level)
}

// With 获取一个带固定字段的子logger
func With(fields ...zap.Field) ILogger {
	return root().With(fields...)
}
