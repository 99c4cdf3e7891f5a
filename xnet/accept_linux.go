//go:build linux

package xnet

import (
	"golang.org/x/sys/unix"
)

func acceptConn(lnFd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(lnFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}
