//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package xnet

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// poller 电平触发的就绪通知
// 除 Wake 外的方法只能在事件循环线程中调用
type poller interface {
	Add(fd int, in Interest) error
	Mod(fd int, old, in Interest) error
	Del(fd int, old Interest) error
	// Wait 阻塞直到有事件、被唤醒或超时, timeout < 0 表示不超时
	// 被信号中断时返回 0, nil
	Wait(events []event, timeout time.Duration) (int, error)
	// Wake 可以在任意 goroutine 中调用
	Wake() error
	Close() error
}

// waker 自管道, 用于从其他 goroutine 唤醒阻塞中的 Wait
type waker struct {
	mu     sync.Mutex
	r, w   int
	closed bool
}

func newWaker() (*waker, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, errors.Wrap(err, "xnet: create wake pipe")
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(p[0])
			_ = unix.Close(p[1])
			return nil, errors.Wrap(err, "xnet: set wake pipe nonblocking")
		}
	}
	return &waker{r: p[0], w: p[1]}, nil
}

func (w *waker) wake() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	_, err := unix.Write(w.w, []byte{1})
	if err == unix.EAGAIN {
		// 管道已满, 事件循环必然会被唤醒
		return nil
	}
	return err
}

// drain 清空管道, 电平触发下否则会持续就绪
func (w *waker) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

func (w *waker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	_ = unix.Close(w.r)
	_ = unix.Close(w.w)
}
