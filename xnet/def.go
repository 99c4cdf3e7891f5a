package xnet

import (
	"context"
	"fmt"

	"github.com/wildmap/hydra/processor"
	"github.com/wildmap/hydra/thrift"
)

// Dispatcher 把解码后的调用交给应用处理
// 在事件循环线程中同步调用, 实现不得阻塞在 I/O 上
type Dispatcher interface {
	// Dispatch 处理一次调用, 不允许 panic 逃逸
	Dispatch(ctx context.Context, msg *thrift.Message) processor.Result
}

// Phase 连接所处阶段
type Phase uint8

const (
	// PhaseReading 等待更多入站字节
	PhaseReading Phase = iota
	// PhaseProcessing 完整帧已取出, 正在解码和分发
	PhaseProcessing
	// PhaseWriting 出站区有待发送的回复
	PhaseWriting
	// PhaseClosing 终止状态, 事件循环随后注销并关闭描述符
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseReading:
		return "reading"
	case PhaseProcessing:
		return "processing"
	case PhaseWriting:
		return "writing"
	case PhaseClosing:
		return "closing"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// Interest 关注的就绪事件
type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

func (i Interest) Readable() bool { return i&InterestRead != 0 }
func (i Interest) Writable() bool { return i&InterestWrite != 0 }

// event 一次就绪通知
type event struct {
	fd       int
	readable bool // 包括对端关闭与错误
	writable bool
}
