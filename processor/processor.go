package processor

import (
	"context"
	"maps"
	"runtime/debug"
	"slices"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/wildmap/hydra/thrift"
	"github.com/wildmap/hydra/xlog"
)

var (
	ErrEmptyMethod = errors.New("processor: empty method name")
	ErrNilHandler  = errors.New("processor: handler is nil")
)

// Processor 方法名到处理函数的只读映射
type Processor struct {
	handlers map[string]HandlerFunc
}

// New 创建分发器, handlers 会被复制, 之后的修改不影响分发
func New(handlers map[string]HandlerFunc) (*Processor, error) {
	p := &Processor{handlers: make(map[string]HandlerFunc, len(handlers))}
	for name, h := range handlers {
		if name == "" {
			return nil, ErrEmptyMethod
		}
		if h == nil {
			return nil, errors.Wrapf(ErrNilHandler, "method %q", name)
		}
		p.handlers[name] = h
	}
	return p, nil
}

// Methods 已注册的方法名, 按字典序
func (p *Processor) Methods() []string {
	return slices.Sorted(maps.Keys(p.handlers))
}

// Dispatch 调用 msg.Name 对应的处理函数
// 处理函数的 panic 在此恢复并作为 KindDefect 返回, 不会向上传播到事件循环
func (p *Processor) Dispatch(ctx context.Context, msg *thrift.Message) (res Result) {
	h, ok := p.handlers[msg.Name]
	if !ok {
		return Result{
			Kind: KindProtocolError,
			Err:  errors.Wrapf(thrift.ErrMethodNotFound, "unknown method %q", msg.Name),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			var err error
			if e, ok := r.(error); ok {
				err = errors.Wrapf(e, "panic in handler %s", msg.Name)
			} else {
				err = errors.Newf("panic in handler %s: %v", msg.Name, r)
			}
			xlog.Errorx("handler panic",
				zap.String("method", msg.Name),
				zap.Int32("seq", msg.SeqID),
				zap.Error(err),
				zap.ByteString("stack", debug.Stack()),
			)
			res = Result{Kind: KindDefect, Err: err}
		}
	}()

	outcome, err := h(ctx, msg.Body)
	if err != nil {
		return classify(msg.Name, err)
	}
	if outcome.IsException() {
		if f, _ := outcome.Field(); f.ID < 0 {
			return Result{Kind: KindDefect, Err: errors.Newf("handler %s: declared exception has invalid field id %d", msg.Name, f.ID)}
		}
		return Result{Kind: KindApplicationException, Outcome: outcome}
	}
	return Result{Kind: KindSuccess, Outcome: outcome}
}

func classify(method string, err error) Result {
	var ue *UserException
	if errors.As(err, &ue) {
		// 字段 0 保留给返回值
		if ue.ID <= 0 {
			return Result{Kind: KindDefect, Err: errors.Newf("handler %s: declared exception %s has invalid field id %d", method, ue.Name, ue.ID)}
		}
		return Result{Kind: KindApplicationException, Outcome: thrift.Declared(ue.ID, ue.Struct)}
	}
	var ae *thrift.ApplicationException
	if errors.As(err, &ae) {
		return Result{Kind: KindProtocolError, Err: ae}
	}
	return Result{Kind: KindDefect, Err: errors.Wrapf(err, "handler %s", method)}
}
