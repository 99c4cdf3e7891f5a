//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package app

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWorkerHelper 由 RunWorkers 在子进程中运行: 在继承的套接字上回应自己的编号
func TestWorkerHelper(t *testing.T) {
	fd, ok, err := InheritedListener()
	if !ok {
		t.Skip("helper process for TestRunWorkers")
	}
	require.NoError(t, err)

	ln, err := net.FileListener(os.NewFile(uintptr(fd), "listener"))
	require.NoError(t, err)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM)
	go func() {
		<-sig
		_ = ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(c, "%d\n", WorkerID())
		_ = c.Close()
	}
}

// TestWorkerQuit 由 RunWorkers 在子进程中运行: 立即退出
func TestWorkerQuit(t *testing.T) {
	if _, ok, _ := InheritedListener(); !ok {
		t.Skip("helper process for TestRunWorkers_Exit")
	}
}

func TestRunWorkers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f, err := ln.(*net.TCPListener).File()
	require.NoError(t, err)
	defer f.Close()
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunWorkers(ctx, 2, f, []string{"-test.run=^TestWorkerHelper$"}, 5*time.Second)
	}()

	seen := map[int]bool{}
	require.Eventually(t, func() bool {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			return false
		}
		defer c.Close()
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		line, err := bufio.NewReader(c).ReadString('\n')
		if err != nil {
			return false
		}
		id, err := strconv.Atoi(line[:len(line)-1])
		if err != nil {
			return false
		}
		seen[id] = true
		return true
	}, 10*time.Second, 50*time.Millisecond)
	for id := range seen {
		assert.Contains(t, []int{0, 1}, id)
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestRunWorkers_Exit(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	f, err := ln.(*net.TCPListener).File()
	require.NoError(t, err)
	defer f.Close()

	err = RunWorkers(context.Background(), 1, f, []string{"-test.run=^TestWorkerQuit$"}, time.Second)
	assert.ErrorContains(t, err, "worker 0")
	assert.ErrorContains(t, err, "exited unexpectedly")
}

func TestRunWorkers_Invalid(t *testing.T) {
	assert.Error(t, RunWorkers(context.Background(), 0, os.Stdin, nil, 0))
	assert.Error(t, RunWorkers(context.Background(), 1, nil, nil, 0))
}

func TestInheritedListener(t *testing.T) {
	t.Setenv(EnvListenFD, "")
	_, ok, err := InheritedListener()
	assert.False(t, ok)
	assert.NoError(t, err)

	t.Setenv(EnvListenFD, "abc")
	_, _, err = InheritedListener()
	assert.Error(t, err)

	f, err := os.CreateTemp(t.TempDir(), "not-socket")
	require.NoError(t, err)
	defer f.Close()
	t.Setenv(EnvListenFD, strconv.Itoa(int(f.Fd())))
	_, _, err = InheritedListener()
	assert.Error(t, err)

	t.Setenv(EnvWorkerID, "3")
	assert.Equal(t, 3, WorkerID())
	t.Setenv(EnvWorkerID, "")
	assert.Equal(t, -1, WorkerID())
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2", "HYDRA_WORKER_ID=9"}, "HYDRA_WORKER_ID=0", "C=3")
	assert.Equal(t, []string{"A=1", "B=2", "HYDRA_WORKER_ID=0", "C=3"}, got)
}
