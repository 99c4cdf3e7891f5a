package xnet

import (
	"github.com/wildmap/hydra/thrift"
)

// Socket 非阻塞套接字
// 无数据可读或发送缓冲区已满时返回 ErrWouldBlock; Read 返回 0, nil 表示对端关闭
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
}

// shrinkThreshold 空闲时超过该容量的入站缓冲区会被释放
const shrinkThreshold = 64 << 10

// Buffer 连接缓冲区
// 入站区按到达顺序消费, 出站区按编码顺序发送, 两者都可以跨多次事件部分完成
type Buffer struct {
	in    []byte // 有效数据 in[inOff:]
	inOff int

	out    []byte // 待发送数据 out[outOff:]
	outOff int

	maxFrame    uint32
	ceiling     int // 入站区上限: maxFrame + 帧头
	readSize    int
	maxOutbound int
}

// NewBuffer 创建连接缓冲区
// 参数:
//   - maxFrame: 最大帧负载
//   - readSize: 单次读取的最大字节数
//   - maxOutbound: 出站区上限
func NewBuffer(maxFrame uint32, readSize, maxOutbound int) *Buffer {
	return &Buffer{
		maxFrame:    maxFrame,
		ceiling:     int(maxFrame) + thrift.FrameHeaderSize,
		readSize:    readSize,
		maxOutbound: maxOutbound,
	}
}

// Buffered 入站区未消费字节数
func (b *Buffer) Buffered() int {
	return len(b.in) - b.inOff
}

// Pending 出站区未发送字节数
func (b *Buffer) Pending() int {
	return len(b.out) - b.outOff
}

// Inbound 入站区未消费数据的视图, 下次 FillFrom 后失效
func (b *Buffer) Inbound() []byte {
	return b.in[b.inOff:]
}

// Discard 丢弃入站区头部 n 个字节
func (b *Buffer) Discard(n int) {
	b.inOff += min(n, b.Buffered())
	b.resetInbound()
}

func (b *Buffer) resetInbound() {
	if b.inOff == len(b.in) {
		b.in = b.in[:0]
		b.inOff = 0
	}
}

// FillFrom 从套接字执行一次非阻塞读取并追加到入站区
// 入站区不会超过 maxFrame + 4: 单次读取长度被限制为剩余空间
// 返回读取的字节数, 0 且 err 为 nil 表示对端关闭
func (b *Buffer) FillFrom(s Socket) (int, error) {
	b.compact()

	room := b.ceiling - len(b.in)
	if room <= 0 {
		return 0, ErrInboundFull
	}
	want := min(b.readSize, room)
	b.grow(want)

	n, err := s.Read(b.in[len(b.in) : len(b.in)+want])
	if n > 0 {
		b.in = b.in[:len(b.in)+n]
	}
	return n, err
}

// compact 把未消费数据移动到缓冲区起始处, TakeFrame 返回的切片随之失效
func (b *Buffer) compact() {
	if b.inOff > 0 {
		n := copy(b.in, b.in[b.inOff:])
		b.in = b.in[:n]
		b.inOff = 0
	}
	if len(b.in) == 0 && cap(b.in) > shrinkThreshold {
		b.in = nil
	}
}

// grow 保证至少有 want 字节的可写空间, 容量不超过 ceiling
func (b *Buffer) grow(want int) {
	if cap(b.in)-len(b.in) >= want {
		return
	}
	newCap := max(2*cap(b.in), len(b.in)+want, b.readSize)
	newCap = min(newCap, b.ceiling)
	in := make([]byte, len(b.in), newCap)
	copy(in, b.in)
	b.in = in
}

// TakeFrame 取出一个完整帧的负载
// 帧不完整时 ok 为 false, 帧头之后的数据(下一帧的开头)保持不变.
// 返回的切片引用内部缓冲区, 在下一次 FillFrom 之前有效.
// 声明长度超过上限时返回 thrift.ErrOversizedFrame, 连接必须关闭.
func (b *Buffer) TakeFrame() (payload []byte, ok bool, err error) {
	data := b.in[b.inOff:]
	n, ok, err := thrift.FrameLength(data, b.maxFrame)
	if err != nil || !ok {
		return nil, false, err
	}
	total := thrift.FrameHeaderSize + int(n)
	if len(data) < total {
		return nil, false, nil
	}
	payload = data[thrift.FrameHeaderSize:total:total]
	b.inOff += total
	if b.inOff == len(b.in) {
		// 保留底层数组, payload 仍然有效
		b.in = b.in[:0]
		b.inOff = 0
	}
	return payload, true, nil
}

// QueueOutbound 把编码好的帧追加到出站区
// 超过 maxOutbound 时返回 ErrOutboundOverflow, 连接必须关闭
func (b *Buffer) QueueOutbound(p []byte) error {
	if b.Pending()+len(p) > b.maxOutbound {
		return ErrOutboundOverflow
	}
	if b.outOff > 0 && b.outOff >= len(b.out)/2 {
		n := copy(b.out, b.out[b.outOff:])
		b.out = b.out[:n]
		b.outOff = 0
	}
	b.out = append(b.out, p...)
	return nil
}

// DrainTo 执行一次非阻塞写, 返回写出的字节数以及出站区是否已清空
// ErrWouldBlock 不视为错误
func (b *Buffer) DrainTo(s Socket) (n int, empty bool, err error) {
	if b.Pending() == 0 {
		return 0, true, nil
	}
	n, err = s.Write(b.out[b.outOff:])
	if n > 0 {
		b.outOff += n
	}
	if b.outOff == len(b.out) {
		b.out = b.out[:0]
		b.outOff = 0
		empty = true
	}
	if err == ErrWouldBlock {
		err = nil
	}
	return n, empty, err
}
