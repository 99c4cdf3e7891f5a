//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package xnet

import (
	"net/netip"

	"golang.org/x/sys/unix"
)

// fdSocket 直接在描述符上读写的非阻塞套接字
type fdSocket int

func (fd fdSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(int(fd), p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return 0, ErrWouldBlock
		}
		return 0, err
	}
}

func (fd fdSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(fd), p)
		switch err {
		case nil:
			return n, nil
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			return max(n, 0), ErrWouldBlock
		}
		return 0, err
	}
}

// sockaddrString 对端地址, 仅用于日志
func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr), uint16(a.Port)).String()
	case *unix.SockaddrUnix:
		if a.Name == "" {
			return "unix"
		}
		return "unix:" + a.Name
	}
	return "unknown"
}

// tuneConn 为 TCP 连接开启 TCP_NODELAY 与 keepalive, 失败不影响连接
func tuneConn(fd int, sa unix.Sockaddr) {
	switch sa.(type) {
	case *unix.SockaddrInet4, *unix.SockaddrInet6:
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
	}
}
