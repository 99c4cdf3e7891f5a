//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package xnet

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/wildmap/hydra/metrics"
	"github.com/wildmap/hydra/xlog"
)

const (
	// drainTick 优雅关闭期间的等待间隔, 用于检查超时
	drainTick = 100 * time.Millisecond

	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = 1 * time.Second
)

// Server 单线程事件循环
// 在一个已处于 listen 状态的描述符上接受连接, 所有连接的读写与分发都在 Serve 所在的 goroutine 中完成.
// 多核扩展通过多个进程共享同一监听描述符实现, 进程之间没有共享状态.
type Server struct {
	cfg     Config
	proc    Dispatcher
	metrics *metrics.Collector

	mu     sync.Mutex // 保护 poller 指针, 供 Shutdown 唤醒
	poller poller

	eng   *engine
	lnFd  int
	conns map[int]*conn

	acceptPaused bool
	acceptDelay  time.Duration
	acceptResume time.Time

	started   atomic.Bool
	shutdown  atomic.Bool
	connCount atomic.Int32
}

// Option 服务器选项
type Option func(*Server)

// WithMetrics 设置指标采集器
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer 创建事件循环服务器
// 参数: cfg - 配置, 零值字段使用默认值; proc - 调用分发器
func NewServer(cfg Config, proc Dispatcher, opts ...Option) (*Server, error) {
	if proc == nil {
		return nil, ErrNilDispatcher
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Server{
		cfg:   cfg,
		proc:  proc,
		lnFd:  -1,
		conns: make(map[int]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Serve 在 lnFd 上运行事件循环, 直到 Shutdown 被调用或 ctx 取消
//
// lnFd 必须已经 bind 并 listen, 地址族不限(TCP 或 UNIX).
// Serve 接管 lnFd: 返回前会关闭它以及所有连接.
// 关闭流程: 停止 accept, 关闭空闲连接, 等待有未发送回复的连接写完(最多 ShutdownTimeout).
func (s *Server) Serve(ctx context.Context, lnFd int) error {
	if lnFd < 0 {
		return ErrInvalidListenerFd
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerRunning
	}

	p, err := newPoller()
	if err != nil {
		_ = unix.Close(lnFd)
		return err
	}
	s.mu.Lock()
	s.poller = p
	s.mu.Unlock()

	s.lnFd = lnFd
	// 处理函数的上下文不随 ctx 取消, 优雅关闭期间正在执行的调用正常完成
	s.eng = newEngine(context.WithoutCancel(ctx), s.cfg, s.proc, s.metrics)
	defer s.cleanup()

	if err = unix.SetNonblock(lnFd, true); err != nil {
		return errors.Wrap(err, "xnet: set listener nonblocking")
	}
	if err = p.Add(lnFd, InterestRead); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, s.Shutdown)
	defer stop()

	xlog.Infof("reactor serving on fd %d", lnFd)
	return s.loop()
}

// Shutdown 请求优雅关闭, 可以在任意 goroutine 中调用
func (s *Server) Shutdown() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		if err := s.poller.Wake(); err != nil {
			xlog.Warnf("reactor wake failed: %v", err)
		}
	}
}

// GetConnCount 返回当前活动连接数
func (s *Server) GetConnCount() int32 {
	return s.connCount.Load()
}

func (s *Server) loop() error {
	events := make([]event, s.cfg.MaxEvents)
	draining := false
	var deadline time.Time

	for {
		if !draining && s.shutdown.Load() {
			draining = true
			deadline = time.Now().Add(s.cfg.ShutdownTimeout)
			s.beginDrain()
		}
		if draining {
			if len(s.conns) == 0 {
				xlog.Infof("reactor drained")
				return nil
			}
			if time.Now().After(deadline) {
				xlog.Warnf("shutdown timeout, force closing %d connections", len(s.conns))
				return nil
			}
		} else if s.acceptPaused && !time.Now().Before(s.acceptResume) {
			s.resumeAccept()
		}

		n, err := s.poller.Wait(events, s.waitTimeout(draining))
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			ev := events[i]
			if ev.fd == s.lnFd {
				if !draining {
					s.accept()
				}
				continue
			}
			c, ok := s.conns[ev.fd]
			if !ok {
				continue
			}
			s.handle(c, ev)
		}
	}
}

func (s *Server) waitTimeout(draining bool) time.Duration {
	switch {
	case draining:
		return drainTick
	case s.acceptPaused:
		return max(time.Until(s.acceptResume), 0)
	}
	return -1
}

// handle 把就绪事件交给连接状态机, 然后同步注册的关注事件
func (s *Server) handle(c *conn, ev event) {
	if ev.readable {
		c.onReadable()
	}
	if ev.writable {
		c.onWritable()
	}
	s.sync(c)
}

func (s *Server) sync(c *conn) {
	if c.phase == PhaseClosing {
		s.closeConn(c)
		return
	}
	in := c.interest()
	if in == c.registered {
		return
	}
	if err := s.poller.Mod(c.fd, c.registered, in); err != nil {
		xlog.Warnx("conn interest update failed", zap.String("conn", c.id), zap.Error(err))
		c.close(metrics.ReasonIOError)
		s.closeConn(c)
		return
	}
	c.registered = in
}

// accept 循环 accept 直到没有待处理的连接
func (s *Server) accept() {
	for {
		nfd, sa, err := acceptConn(s.lnFd)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN):
				s.acceptDelay = 0
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EMFILE), errors.Is(err, unix.ENFILE),
				errors.Is(err, unix.ENOBUFS), errors.Is(err, unix.ENOMEM):
				s.metrics.AcceptError()
				s.pauseAccept(err)
			default:
				s.metrics.AcceptError()
				xlog.Errorf("accept failed, error %v", err)
			}
			return
		}
		s.addConn(nfd, sa)
	}
}

// pauseAccept 描述符耗尽时暂停 accept, 退避时间指数增长
func (s *Server) pauseAccept(err error) {
	if s.acceptDelay == 0 {
		s.acceptDelay = minAcceptDelay
	} else {
		s.acceptDelay = min(2*s.acceptDelay, maxAcceptDelay)
	}
	xlog.Warnf("accept error, retrying, delay: %v, err: %v", s.acceptDelay, err)
	if err := s.poller.Mod(s.lnFd, InterestRead, 0); err != nil {
		xlog.Errorf("pause accept failed: %v", err)
		return
	}
	s.acceptPaused = true
	s.acceptResume = time.Now().Add(s.acceptDelay)
}

func (s *Server) resumeAccept() {
	if err := s.poller.Mod(s.lnFd, 0, InterestRead); err != nil {
		xlog.Errorf("resume accept failed: %v", err)
		return
	}
	s.acceptPaused = false
}

func (s *Server) addConn(nfd int, sa unix.Sockaddr) {
	tuneConn(nfd, sa)
	c := newConn(s.eng, nfd, uuid.NewString(), sockaddrString(sa), fdSocket(nfd))
	in := c.interest()
	if err := s.poller.Add(nfd, in); err != nil {
		xlog.Errorf("register connection from %s failed: %v", c.peer, err)
		_ = unix.Close(nfd)
		return
	}
	c.registered = in
	s.conns[nfd] = c
	s.connCount.Inc()
	s.metrics.ConnAccepted()
	xlog.Debugx("conn accepted", zap.Int("fd", nfd), zap.String("conn", c.id), zap.String("peer", c.peer))
}

func (s *Server) closeConn(c *conn) {
	if err := s.poller.Del(c.fd, c.registered); err != nil {
		xlog.Debugx("conn unregister failed", zap.String("conn", c.id), zap.Error(err))
	}
	_ = unix.Close(c.fd)
	delete(s.conns, c.fd)
	s.connCount.Dec()
	s.metrics.ConnClosed(c.reason)
	xlog.Debugx("conn closed",
		zap.Int("fd", c.fd),
		zap.String("conn", c.id),
		zap.String("peer", c.peer),
		zap.String("reason", c.reason),
	)
	c.buf = nil
}

// beginDrain 停止 accept 并让所有连接进入关闭流程
func (s *Server) beginDrain() {
	xlog.Infof("reactor shutting down, %d connections", len(s.conns))
	if !s.acceptPaused {
		if err := s.poller.Del(s.lnFd, InterestRead); err != nil {
			xlog.Warnf("unregister listener failed: %v", err)
		}
	}
	s.acceptPaused = true
	for _, c := range s.conns {
		c.drain()
		s.sync(c)
	}
}

// cleanup 关闭剩余连接、监听描述符和 poller
func (s *Server) cleanup() {
	for _, c := range s.conns {
		c.close(metrics.ReasonShutdown)
		s.closeConn(c)
	}
	if s.lnFd >= 0 {
		_ = unix.Close(s.lnFd)
		s.lnFd = -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.poller != nil {
		_ = s.poller.Close()
		s.poller = nil
	}
	xlog.Infof("reactor stopped")
}
