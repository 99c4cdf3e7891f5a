//go:build darwin || dragonfly || freebsd || netbsd || openbsd

package xnet

import (
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kq      int
	waker   *waker
	changes []unix.Kevent_t
	events  []unix.Kevent_t
}

func newPoller() (poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "xnet: kqueue create")
	}
	unix.CloseOnExec(kq)
	w, err := newWaker()
	if err != nil {
		_ = unix.Close(kq)
		return nil, err
	}
	p := &kqueuePoller{kq: kq, waker: w}
	if err = p.Add(w.r, InterestRead); err != nil {
		w.close()
		_ = unix.Close(kq)
		return nil, err
	}
	return p, nil
}

func (p *kqueuePoller) change(fd, filter, flags int) {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	p.changes = append(p.changes, ev)
}

func (p *kqueuePoller) apply(fd int) error {
	if len(p.changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, p.changes, nil, nil)
	p.changes = p.changes[:0]
	if err != nil {
		return errors.Wrapf(err, "xnet: kevent fd %d", fd)
	}
	return nil
}

func (p *kqueuePoller) Add(fd int, in Interest) error {
	return p.Mod(fd, 0, in)
}

func (p *kqueuePoller) Mod(fd int, old, in Interest) error {
	switch {
	case in.Readable() && !old.Readable():
		p.change(fd, unix.EVFILT_READ, unix.EV_ADD)
	case !in.Readable() && old.Readable():
		p.change(fd, unix.EVFILT_READ, unix.EV_DELETE)
	}
	switch {
	case in.Writable() && !old.Writable():
		p.change(fd, unix.EVFILT_WRITE, unix.EV_ADD)
	case !in.Writable() && old.Writable():
		p.change(fd, unix.EVFILT_WRITE, unix.EV_DELETE)
	}
	return p.apply(fd)
}

func (p *kqueuePoller) Del(fd int, old Interest) error {
	return p.Mod(fd, old, 0)
}

func (p *kqueuePoller) Wait(events []event, timeout time.Duration) (int, error) {
	if cap(p.events) < len(events) {
		p.events = make([]unix.Kevent_t, len(events))
	}
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(int64(timeout))
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, p.events[:len(events)], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errors.Wrap(err, "xnet: kevent wait")
	}

	k := 0
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		fd := int(ev.Ident)
		if fd == p.waker.r {
			p.waker.drain()
			continue
		}
		e := event{fd: fd}
		switch {
		case ev.Flags&unix.EV_ERROR != 0:
			e.readable = true
		case ev.Filter == unix.EVFILT_READ:
			e.readable = true
		case ev.Filter == unix.EVFILT_WRITE:
			e.writable = true
			e.readable = ev.Flags&unix.EV_EOF != 0
		}
		events[k] = e
		k++
	}
	return k, nil
}

func (p *kqueuePoller) Wake() error {
	return p.waker.wake()
}

func (p *kqueuePoller) Close() error {
	p.waker.close()
	return unix.Close(p.kq)
}
