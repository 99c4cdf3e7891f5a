// Package processor 把解码后的 Thrift 调用分发给应用提供的处理函数
// 方法表在 New 时固定, 之后只读
package processor

import (
	"context"
	"fmt"

	"github.com/wildmap/hydra/thrift"
)

// HandlerFunc 处理一次调用
//
// 参数 args 为解码后的参数结构体. 返回值:
//   - 成功: thrift.Success / thrift.Void
//   - 声明的业务异常: 返回 *UserException 错误, 或直接返回 thrift.Declared
//   - 通用异常: 返回 *thrift.ApplicationException, 连接保持
//   - 其他错误或 panic 视为处理缺陷, 回复 INTERNAL_ERROR 后关闭连接
type HandlerFunc func(ctx context.Context, args *thrift.Struct) (thrift.Outcome, error)

// UserException IDL throws 子句中声明的异常
type UserException struct {
	ID     int16          // throws 子句中的字段 ID, 必须 >= 1
	Name   string         // 异常类型名, 仅用于日志
	Struct *thrift.Struct // 异常结构体
}

func (e *UserException) Error() string {
	return fmt.Sprintf("declared exception %s (field %d)", e.Name, e.ID)
}

// Kind 分发结果分类
type Kind int

const (
	// KindSuccess 正常回复
	KindSuccess Kind = iota
	// KindApplicationException 声明的业务异常, 作为正常回复写回
	KindApplicationException
	// KindProtocolError 以 TApplicationException 回复, 连接保持
	KindProtocolError
	// KindDefect 处理缺陷, 回复 INTERNAL_ERROR 后关闭连接
	KindDefect
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindApplicationException:
		return "application_exception"
	case KindProtocolError:
		return "protocol_error"
	case KindDefect:
		return "defect"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Result 一次分发的结果
type Result struct {
	Kind    Kind
	Outcome thrift.Outcome // KindSuccess, KindApplicationException
	Err     error          // KindProtocolError, KindDefect
}

// Exception 需要以 TApplicationException 回复时返回异常内容
func (r Result) Exception() *thrift.ApplicationException {
	switch r.Kind {
	case KindProtocolError:
		return thrift.ExceptionFor(r.Err)
	case KindDefect:
		return thrift.NewApplicationException(thrift.ExceptionInternalError, "internal error")
	}
	return nil
}

// CallInfo 调用上下文信息, 处理函数通过 CallInfoFrom 获取
type CallInfo struct {
	Method string
	SeqID  int32
	Oneway bool
	Peer   string // 对端地址, 开启 PROXY 协议时为原始客户端地址
	ConnID string // 连接追踪 ID
}

type callInfoKey struct{}

// WithCallInfo 将调用信息放入 ctx
func WithCallInfo(ctx context.Context, ci *CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, ci)
}

// CallInfoFrom 从 ctx 中取出调用信息
func CallInfoFrom(ctx context.Context) (*CallInfo, bool) {
	ci, ok := ctx.Value(callInfoKey{}).(*CallInfo)
	return ci, ok
}
