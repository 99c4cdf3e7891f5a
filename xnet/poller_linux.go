//go:build linux

package xnet

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

type epoller struct {
	epfd      int
	waker     *waker
	events    []unix.EpollEvent
	interests map[int]Interest
}

func newPoller() (poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "xnet: epoll create")
	}
	w, err := newWaker()
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	p := &epoller{epfd: epfd, waker: w, interests: make(map[int]Interest)}
	if err = p.ctl(unix.EPOLL_CTL_ADD, w.r, InterestRead); err != nil {
		w.close()
		_ = unix.Close(epfd)
		return nil, err
	}
	return p, nil
}

// epollEvents 电平触发下 EPOLLRDHUP 只在关注读时注册, 否则半关闭的连接会持续就绪
func epollEvents(in Interest) uint32 {
	var ev uint32
	if in.Readable() {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if in.Writable() {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (p *epoller) ctl(op, fd int, in Interest) error {
	ev := unix.EpollEvent{Events: epollEvents(in), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return errors.Wrapf(err, "xnet: epoll ctl op %d fd %d", op, fd)
	}
	p.interests[fd] = in
	return nil
}

func (p *epoller) Add(fd int, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, in)
}

func (p *epoller) Mod(fd int, _, in Interest) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, in)
}

func (p *epoller) Del(fd int, _ Interest) error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return errors.Wrapf(err, "xnet: epoll ctl del fd %d", fd)
	}
	delete(p.interests, fd)
	return nil
}

func (p *epoller) Wait(events []event, timeout time.Duration) (int, error) {
	if cap(p.events) < len(events) {
		p.events = make([]unix.EpollEvent, len(events))
	}
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(p.epfd, p.events[:len(events)], msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "xnet: epoll wait")
	}

	k := 0
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Fd)
		if fd == p.waker.r {
			p.waker.drain()
			continue
		}
		// EPOLLHUP/EPOLLERR 总会上报, 只交给已注册的方向
		in := p.interests[fd]
		hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0
		events[k] = event{
			fd:       fd,
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 || (hup && in.Readable()),
			writable: ev.Events&unix.EPOLLOUT != 0 || (hup && in.Writable()),
		}
		k++
	}
	return k, nil
}

func (p *epoller) Wake() error {
	return p.waker.wake()
}

func (p *epoller) Close() error {
	p.waker.close()
	return unix.Close(p.epfd)
}
