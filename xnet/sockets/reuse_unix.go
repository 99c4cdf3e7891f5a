//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package sockets

import (
	"syscall"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// control 返回 net.ListenConfig.Control, 在 bind 之前设置复用选项
func control(reusePort bool) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) (err error) {
		if network == "unix" {
			return nil
		}
		e := c.Control(func(fd uintptr) {
			// SO_REUSEADDR
			if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
				err = errors.Wrap(err, "set SO_REUSEADDR")
				return
			}
			if !reusePort {
				return
			}
			// SO_REUSEPORT
			if err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
				err = errors.Wrap(err, "set SO_REUSEPORT")
			}
		})
		if e != nil {
			return e
		}
		return
	}
}

// relisten 在已监听的套接字上再次调用 listen 以调整 backlog
func relisten(c syscall.RawConn, backlog int) (err error) {
	e := c.Control(func(fd uintptr) {
		err = unix.Listen(int(fd), backlog)
	})
	if e != nil {
		return e
	}
	return errors.Wrapf(err, "listen backlog %d", backlog)
}

// dupCloexec 复制描述符, 新描述符带 close-on-exec
func dupCloexec(c syscall.RawConn) (nfd int, err error) {
	e := c.Control(func(fd uintptr) {
		nfd, err = unix.FcntlInt(fd, unix.F_DUPFD_CLOEXEC, 0)
	})
	if e != nil {
		return -1, e
	}
	if err != nil {
		return -1, errors.Wrap(err, "dup listener")
	}
	return nfd, nil
}
