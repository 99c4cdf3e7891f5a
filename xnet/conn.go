package xnet

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/wildmap/hydra/metrics"
	"github.com/wildmap/hydra/processor"
	"github.com/wildmap/hydra/thrift"
	"github.com/wildmap/hydra/xlog"
)

// engine 所有连接共享的只读环境
type engine struct {
	ctx     context.Context
	cfg     Config
	proc    Dispatcher
	metrics *metrics.Collector
	decode  thrift.DecodeOptions
	replies bytebufferpool.Pool
}

func newEngine(ctx context.Context, cfg Config, proc Dispatcher, m *metrics.Collector) *engine {
	return &engine{
		ctx:     ctx,
		cfg:     cfg,
		proc:    proc,
		metrics: m,
		decode:  thrift.DecodeOptions{StrictRead: cfg.StrictRead, MaxDepth: cfg.MaxDepth},
	}
}

// conn 单个连接的状态机, 只在事件循环线程中访问
//
//	Reading -> Processing -> Writing -> Reading
//	任意阶段 -> Closing
type conn struct {
	eng  *engine
	fd   int
	id   string
	peer string
	sock Socket
	buf  *Buffer

	phase           Phase
	registered      Interest // 当前在 poller 中注册的事件, 由事件循环维护
	paused          bool // 出站积压, 暂停消费新帧
	closeAfterFlush bool // 出站区清空后关闭, 不再读取
	proxyPending    bool // 等待 PROXY 协议头
	reason          string

	lastSeq int32
	haveSeq bool
}

func newConn(eng *engine, fd int, id, peer string, sock Socket) *conn {
	return &conn{
		eng:          eng,
		fd:           fd,
		id:           id,
		peer:         peer,
		sock:         sock,
		buf:          NewBuffer(eng.cfg.MaxFrameSize, eng.cfg.ReadBufferSize, eng.cfg.MaxOutbound),
		phase:        PhaseReading,
		proxyPending: eng.cfg.ProxyProtocol,
	}
}

// interest 根据当前状态计算需要关注的事件
func (c *conn) interest() Interest {
	if c.phase == PhaseClosing {
		return 0
	}
	var in Interest
	if !c.paused && !c.closeAfterFlush {
		in |= InterestRead
	}
	if c.buf.Pending() > 0 {
		in |= InterestWrite
	}
	return in
}

func (c *conn) close(reason string) {
	if c.phase == PhaseClosing {
		return
	}
	c.phase = PhaseClosing
	c.reason = reason
}

// onReadable 执行一次读取, 然后处理所有已完整到达的帧
func (c *conn) onReadable() {
	if c.phase == PhaseClosing || c.paused || c.closeAfterFlush {
		return
	}
	n, err := c.buf.FillFrom(c.sock)
	switch {
	case errors.Is(err, ErrWouldBlock):
		return
	case err != nil:
		xlog.Debugx("conn read failed", zap.String("conn", c.id), zap.Error(err))
		c.close(metrics.ReasonIOError)
		return
	case n == 0:
		// 对端关闭写方向, 已排队的回复仍然发送
		c.closeAfterFlush = true
		c.reason = metrics.ReasonPeerClosed
		if c.buf.Pending() == 0 {
			c.close(metrics.ReasonPeerClosed)
		}
		return
	}
	c.eng.metrics.BytesIn(n)
	c.process()
}

// onWritable 执行一次写入
func (c *conn) onWritable() {
	if c.phase == PhaseClosing {
		return
	}
	n, empty, err := c.buf.DrainTo(c.sock)
	c.eng.metrics.BytesOut(n)
	if err != nil {
		xlog.Debugx("conn write failed", zap.String("conn", c.id), zap.Error(err))
		c.close(metrics.ReasonIOError)
		return
	}
	if !empty {
		c.phase = PhaseWriting
		return
	}
	if c.closeAfterFlush {
		c.close(c.reason)
		return
	}
	c.phase = PhaseReading
	if c.paused {
		c.paused = false
		c.process()
	}
}

// drain 优雅关闭: 空闲连接立即关闭, 有未发送回复的连接发送完再关闭
func (c *conn) drain() {
	if c.phase == PhaseClosing {
		return
	}
	if c.buf.Pending() == 0 {
		c.close(metrics.ReasonShutdown)
		return
	}
	c.closeAfterFlush = true
	if c.reason == "" {
		c.reason = metrics.ReasonShutdown
	}
}

// process 依次取出并处理入站区中的完整帧
// 出站积压超过高水位时暂停, 剩余帧留在入站区等待写完后继续
func (c *conn) process() {
	if c.proxyPending && !c.readProxyHeader() {
		return
	}
	for c.phase != PhaseClosing && !c.paused && !c.closeAfterFlush {
		payload, ok, err := c.buf.TakeFrame()
		if err != nil {
			xlog.Debugx("conn frame rejected", zap.String("conn", c.id), zap.Error(err))
			c.close(metrics.ReasonOversized)
			return
		}
		if !ok {
			break
		}
		c.phase = PhaseProcessing
		c.handleFrame(payload)
		if c.phase == PhaseClosing {
			return
		}
		c.phase = PhaseReading
		if c.buf.Pending() > c.eng.cfg.OutboundHighWater {
			c.paused = true
		}
	}
	if c.buf.Pending() > 0 {
		c.phase = PhaseWriting
	}
}

func (c *conn) readProxyHeader() bool {
	n, source, done, err := parseProxyHeader(c.buf.Inbound())
	if err != nil {
		xlog.Debugx("conn proxy header rejected", zap.String("conn", c.id), zap.Error(err))
		c.close(metrics.ReasonProxy)
		return false
	}
	if !done {
		return false
	}
	c.proxyPending = false
	c.buf.Discard(n)
	if source != "" {
		xlog.Debugx("conn proxied", zap.String("conn", c.id), zap.String("peer", c.peer), zap.String("source", source))
		c.peer = source
	}
	return true
}

// handleFrame 解码一帧, 分发, 把回复放入出站区
func (c *conn) handleFrame(payload []byte) {
	msg, err := thrift.DecodeMessage(payload, c.eng.decode)
	if err != nil {
		var de *thrift.DecodeError
		if errors.As(err, &de) && de.Recoverable() {
			xlog.Debugx("conn malformed frame", zap.String("conn", c.id), zap.Error(err))
			c.replyException(de.Header.Name, de.Header.SeqID, thrift.ExceptionFor(err))
			return
		}
		xlog.Debugx("conn undecodable frame", zap.String("conn", c.id), zap.Error(err))
		c.close(metrics.ReasonMalformed)
		return
	}

	switch msg.Type {
	case thrift.Call, thrift.Oneway:
	default:
		ex := thrift.NewApplicationException(thrift.ExceptionInvalidMessageType, "unexpected message type %s", msg.Type)
		c.replyException(msg.Name, msg.SeqID, ex)
		return
	}

	c.checkSeq(msg.SeqID)

	oneway := msg.Type == thrift.Oneway
	ctx := processor.WithCallInfo(c.eng.ctx, &processor.CallInfo{
		Method: msg.Name,
		SeqID:  msg.SeqID,
		Oneway: oneway,
		Peer:   c.peer,
		ConnID: c.id,
	})
	start := time.Now()
	res := c.eng.proc.Dispatch(ctx, msg)
	if res.Kind != processor.KindProtocolError {
		c.eng.metrics.ObserveDispatch(msg.Name, time.Since(start))
	}

	if oneway {
		c.eng.metrics.Frame(metrics.FrameOneway)
		if res.Kind == processor.KindDefect {
			xlog.Warnx("oneway handler failed", zap.String("conn", c.id), zap.String("method", msg.Name), zap.Error(res.Err))
			c.closeAfterFlush = true
			c.reason = metrics.ReasonDefect
			if c.buf.Pending() == 0 {
				c.close(metrics.ReasonDefect)
			}
		}
		return
	}

	switch res.Kind {
	case processor.KindSuccess, processor.KindApplicationException:
		if err := c.replyOutcome(msg, res.Outcome); err != nil {
			xlog.Errorx("reply encode failed", zap.String("method", msg.Name), zap.Error(err))
			c.defect(msg)
		}
	case processor.KindProtocolError:
		c.replyException(msg.Name, msg.SeqID, res.Exception())
	default:
		xlog.Warnx("handler failed", zap.String("conn", c.id), zap.String("method", msg.Name), zap.Error(res.Err))
		c.defect(msg)
	}
}

// defect 回复 INTERNAL_ERROR, 发送完后关闭连接
func (c *conn) defect(msg *thrift.Message) {
	ex := thrift.NewApplicationException(thrift.ExceptionInternalError, "internal error")
	c.replyException(msg.Name, msg.SeqID, ex)
	if c.phase != PhaseClosing {
		c.closeAfterFlush = true
		c.reason = metrics.ReasonDefect
	}
}

// checkSeq 序列号游标, 不连续只记录不处理
func (c *conn) checkSeq(seq int32) {
	if c.haveSeq && seq != c.lastSeq+1 {
		c.eng.metrics.SeqMismatch()
		xlog.Debugx("conn sequence gap",
			zap.String("conn", c.id),
			zap.Int32("expected", c.lastSeq+1),
			zap.Int32("got", seq),
		)
	}
	c.lastSeq = seq
	c.haveSeq = true
}

func (c *conn) replyOutcome(msg *thrift.Message, o thrift.Outcome) error {
	bb := c.eng.replies.Get()
	out, err := thrift.AppendReply(bb.B[:0], msg.Name, msg.SeqID, o)
	if err != nil {
		c.eng.replies.Put(bb)
		return err
	}
	bb.B = out
	c.enqueue(bb)
	c.eng.metrics.Frame(metrics.FrameReply)
	return nil
}

func (c *conn) replyException(name string, seq int32, ex *thrift.ApplicationException) {
	bb := c.eng.replies.Get()
	bb.B = thrift.AppendException(bb.B[:0], name, seq, ex)
	c.enqueue(bb)
	c.eng.metrics.Frame(metrics.FrameException)
}

// enqueue 把池中编码好的帧复制到出站区并归还缓冲
func (c *conn) enqueue(bb *bytebufferpool.ByteBuffer) {
	err := c.buf.QueueOutbound(bb.B)
	c.eng.replies.Put(bb)
	if err != nil {
		xlog.Debugx("conn outbound overflow", zap.String("conn", c.id), zap.Int("pending", c.buf.Pending()))
		c.close(metrics.ReasonOverflow)
	}
}
