//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package sockets 创建供事件循环使用的监听套接字
//
// 地址格式:
//   - host:port        TCP, IPv4 或 IPv6
//   - unix:/path/x.sock 文件系统 UNIX 套接字
//   - unix:@name       Linux 抽象命名空间 UNIX 套接字
package sockets

import (
	"context"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
)

const (
	// DefaultBacklog 默认 listen backlog
	DefaultBacklog = 1024

	unixPrefix = "unix:"
)

const maxUnixSocketPathSize = len(syscall.RawSockaddrUnix{}.Path)

// ListenOptions 监听选项
type ListenOptions struct {
	ReusePort bool        // TCP 开启 SO_REUSEPORT
	Backlog   int         // <= 0 使用 DefaultBacklog
	Mode      fs.FileMode // 文件系统 UNIX 套接字的权限, 0 表示不修改
}

// Listener 已处于 listen 状态的套接字
type Listener struct {
	ln      net.Listener
	network string
	path    string // 需要在关闭时删除的套接字文件
}

type fileListener interface {
	net.Listener
	syscall.Conn
	File() (*os.File, error)
}

// Listen 解析地址并创建监听套接字
func Listen(ctx context.Context, addr string, opts ListenOptions) (*Listener, error) {
	if opts.Backlog <= 0 {
		opts.Backlog = DefaultBacklog
	}
	network, address, path, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err = removeStale(path); err != nil {
			return nil, err
		}
	}

	lc := &net.ListenConfig{Control: control(opts.ReusePort)}
	ln, err := lc.Listen(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}
	l := &Listener{ln: ln, network: network, path: path}

	if path != "" && opts.Mode != 0 {
		if err = os.Chmod(path, opts.Mode); err != nil {
			_ = l.Close()
			return nil, errors.Wrapf(err, "chmod %s", path)
		}
	}
	if err = l.withRaw(func(c syscall.RawConn) error { return relisten(c, opts.Backlog) }); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// parseAddr 把地址拆分为网络类型、net 包地址以及需要清理的文件路径
func parseAddr(addr string) (network, address, path string, err error) {
	if !strings.HasPrefix(addr, unixPrefix) {
		if _, _, err = net.SplitHostPort(addr); err != nil {
			return "", "", "", errors.Wrapf(err, "invalid tcp address %q", addr)
		}
		return "tcp", addr, "", nil
	}

	address = strings.TrimPrefix(addr, unixPrefix)
	switch {
	case address == "" || address == "@":
		return "", "", "", errors.Newf("empty unix socket address %q", addr)
	case len(address) > maxUnixSocketPathSize:
		return "", "", "", errors.Newf("unix socket path %q is too long", address)
	case address[0] == '@':
		// 抽象命名空间不涉及文件系统
		return "unix", address, "", nil
	}
	return "unix", address, address, nil
}

// removeStale 删除之前进程遗留的套接字文件, 不删除其他类型的文件
func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return errors.Newf("%s exists and is not a socket", path)
	}
	return errors.Wrapf(os.Remove(path), "remove stale socket %s", path)
}

func (l *Listener) withRaw(fn func(syscall.RawConn) error) error {
	fl, ok := l.ln.(fileListener)
	if !ok {
		return errors.Newf("unsupported listener %T", l.ln)
	}
	rc, err := fl.SyscallConn()
	if err != nil {
		return errors.Wrap(err, "listener raw conn")
	}
	return fn(rc)
}

// Addr 监听地址
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Network "tcp" 或 "unix"
func (l *Listener) Network() string {
	return l.network
}

// Dup 返回监听描述符的副本, 调用方拥有并负责关闭
func (l *Listener) Dup() (int, error) {
	fd := -1
	err := l.withRaw(func(c syscall.RawConn) (err error) {
		fd, err = dupCloexec(c)
		return err
	})
	return fd, err
}

// File 返回监听描述符副本的 *os.File, 用于传递给子进程
func (l *Listener) File() (*os.File, error) {
	fl, ok := l.ln.(fileListener)
	if !ok {
		return nil, errors.Newf("unsupported listener %T", l.ln)
	}
	f, err := fl.File()
	return f, errors.Wrap(err, "listener file")
}

// Close 关闭监听套接字, 文件系统 UNIX 套接字的文件一并删除
// 已通过 Dup 或 File 复制出去的描述符不受影响
func (l *Listener) Close() error {
	err := l.ln.Close()
	if l.path != "" {
		if rerr := os.Remove(l.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) && err == nil {
			err = rerr
		}
	}
	return err
}
