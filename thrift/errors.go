package thrift

import (
	"errors"
	"fmt"
)

var (
	// 解码错误
	ErrTruncated      = errors.New("thrift: truncated message")
	ErrUnknownType    = errors.New("thrift: unknown type")
	ErrMethodNotFound = errors.New("thrift: method not found")
	ErrOversizedFrame = errors.New("thrift: oversized frame")
	ErrBadVersion     = errors.New("thrift: bad version in message header")
	ErrDepthExceeded  = errors.New("thrift: nesting depth exceeded")
	ErrInvalidLength  = errors.New("thrift: invalid length")

	// 编码错误
	ErrValueType = errors.New("thrift: value does not match declared type")
)

// DecodeError 解码失败
// Header 不为 nil 表示消息头已成功解析, 可以用序列号回复异常;
// 为 nil 时无法回复, 连接只能关闭
type DecodeError struct {
	Err    error   // 哨兵错误之一
	Header *Header // 已恢复的消息头
	Offset int     // 失败时在 payload 中的偏移
	Detail string
}

func (e *DecodeError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Header != nil {
		return fmt.Sprintf("%s (method %q seq %d, offset %d)", msg, e.Header.Name, e.Header.SeqID, e.Offset)
	}
	return fmt.Sprintf("%s (offset %d)", msg, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Recoverable 消息头是否已知
func (e *DecodeError) Recoverable() bool {
	return e.Header != nil
}

// ApplicationExceptionType TApplicationException 的类型码
type ApplicationExceptionType int32

const (
	ExceptionUnknown               ApplicationExceptionType = 0
	ExceptionUnknownMethod         ApplicationExceptionType = 1
	ExceptionInvalidMessageType    ApplicationExceptionType = 2
	ExceptionWrongMethodName       ApplicationExceptionType = 3
	ExceptionBadSequenceID         ApplicationExceptionType = 4
	ExceptionMissingResult         ApplicationExceptionType = 5
	ExceptionInternalError         ApplicationExceptionType = 6
	ExceptionProtocolError         ApplicationExceptionType = 7
	ExceptionInvalidTransform      ApplicationExceptionType = 8
	ExceptionInvalidProtocol       ApplicationExceptionType = 9
	ExceptionUnsupportedClientType ApplicationExceptionType = 10
)

// ApplicationException 对应线路上的 TApplicationException 结构体
//
//	struct TApplicationException { 1: string message, 2: i32 type }
type ApplicationException struct {
	Type    ApplicationExceptionType
	Message string
}

// NewApplicationException 创建 TApplicationException
func NewApplicationException(t ApplicationExceptionType, format string, args ...any) *ApplicationException {
	return &ApplicationException{Type: t, Message: fmt.Sprintf(format, args...)}
}

func (e *ApplicationException) Error() string {
	return fmt.Sprintf("thrift application exception %d: %s", e.Type, e.Message)
}

// Struct 转换为线路结构体
func (e *ApplicationException) Struct() *Struct {
	return NewStruct(
		Field{ID: 1, Type: STRING, Value: e.Message},
		Field{ID: 2, Type: I32, Value: int32(e.Type)},
	)
}

// ApplicationExceptionFromStruct 从回复体解析 TApplicationException
func ApplicationExceptionFromStruct(s *Struct) *ApplicationException {
	e := &ApplicationException{}
	e.Message, _ = s.String(1)
	t, _ := s.I32(2)
	e.Type = ApplicationExceptionType(t)
	return e
}

// ExceptionFor 将解码错误映射为回复给客户端的异常
func ExceptionFor(err error) *ApplicationException {
	var ae *ApplicationException
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, ErrMethodNotFound):
		return &ApplicationException{Type: ExceptionUnknownMethod, Message: err.Error()}
	case errors.Is(err, ErrBadVersion):
		return &ApplicationException{Type: ExceptionInvalidProtocol, Message: err.Error()}
	case errors.Is(err, ErrTruncated), errors.Is(err, ErrUnknownType),
		errors.Is(err, ErrDepthExceeded), errors.Is(err, ErrInvalidLength):
		return &ApplicationException{Type: ExceptionProtocolError, Message: err.Error()}
	}
	return &ApplicationException{Type: ExceptionInternalError, Message: err.Error()}
}
