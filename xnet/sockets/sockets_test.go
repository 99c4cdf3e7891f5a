//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package sockets

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		addr    string
		network string
		address string
		path    string
		wantErr bool
	}{
		{addr: "127.0.0.1:9090", network: "tcp", address: "127.0.0.1:9090"},
		{addr: "[::1]:0", network: "tcp", address: "[::1]:0"},
		{addr: ":9090", network: "tcp", address: ":9090"},
		{addr: "unix:/tmp/hydra.sock", network: "unix", address: "/tmp/hydra.sock", path: "/tmp/hydra.sock"},
		{addr: "unix:@hydra", network: "unix", address: "@hydra"},
		{addr: "unix:", wantErr: true},
		{addr: "unix:@", wantErr: true},
		{addr: "localhost", wantErr: true},
		{addr: "unix:/" + string(make([]byte, 200)), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			network, address, path, err := parseAddr(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.network, network)
			assert.Equal(t, tt.address, address)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestListenTCP(t *testing.T) {
	l, err := Listen(context.Background(), "127.0.0.1:0", ListenOptions{ReusePort: true, Backlog: 16})
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, "tcp", l.Network())

	fd, err := l.Dup()
	require.NoError(t, err)
	defer unix.Close(fd)

	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR)
	require.NoError(t, err)
	assert.NotZero(t, v)
	v, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT)
	require.NoError(t, err)
	assert.NotZero(t, v)

	// 关闭原监听器后副本仍然可以接受连接
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	_ = c.Close()
}

func TestListenUnixPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hydra.sock")

	// 遗留的套接字文件会被替换
	stale, err := net.Listen("unix", path)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	_, err = os.Lstat(path)
	require.NoError(t, err)

	l, err := Listen(context.Background(), "unix:"+path, ListenOptions{Mode: 0o600})
	require.NoError(t, err)
	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	f, err := l.File()
	require.NoError(t, err)
	defer f.Close()

	c, err := net.DialTimeout("unix", path, time.Second)
	require.NoError(t, err)
	_ = c.Close()

	require.NoError(t, l.Close())
	_, err = os.Lstat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-socket")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o644))

	_, err := Listen(context.Background(), "unix:"+path, ListenOptions{})
	require.Error(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(b))
}

func TestListenAbstract(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("abstract unix sockets are linux only")
	}
	name := fmt.Sprintf("@hydra-test-%d", os.Getpid())
	l, err := Listen(context.Background(), "unix:"+name, ListenOptions{})
	require.NoError(t, err)
	defer l.Close()

	c, err := net.DialTimeout("unix", name, time.Second)
	require.NoError(t, err)
	_ = c.Close()
}
