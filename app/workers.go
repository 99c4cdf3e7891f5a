//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

package app

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/wildmap/hydra/xlog"
)

const (
	// EnvWorkerID 子进程的 worker 编号
	EnvWorkerID = "HYDRA_WORKER_ID"
	// EnvListenFD 子进程中继承的监听描述符
	EnvListenFD = "HYDRA_LISTEN_FD"

	// inheritedFd ExtraFiles[0] 在子进程中的描述符编号
	inheritedFd = 3

	// defaultStopDelay 发送 SIGTERM 后等待子进程退出的时间, 超时后 SIGKILL
	defaultStopDelay = 30 * time.Second
)

// WorkerID 当前进程的 worker 编号, 不是 worker 进程时返回 -1
func WorkerID() int {
	id, err := strconv.Atoi(os.Getenv(EnvWorkerID))
	if err != nil {
		return -1
	}
	return id
}

// InheritedListener 返回父进程通过 RunWorkers 传递的监听描述符
// ok 为 false 表示当前进程不是 worker
func InheritedListener() (fd int, ok bool, err error) {
	v := os.Getenv(EnvListenFD)
	if v == "" {
		return -1, false, nil
	}
	fd, err = strconv.Atoi(v)
	if err != nil || fd < 0 {
		return -1, false, errors.Newf("invalid %s %q", EnvListenFD, v)
	}
	if _, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE); err != nil {
		return -1, false, errors.Wrapf(err, "inherited fd %d is not a socket", fd)
	}
	unix.CloseOnExec(fd)
	return fd, true, nil
}

// RunWorkers 以相同的可执行文件启动 n 个 worker 进程, 共享同一监听套接字
//
// 子进程中监听描述符为 3, 编号通过 HYDRA_WORKER_ID 传递.
// ctx 取消时向所有子进程发送 SIGTERM, stopDelay 后仍未退出则 SIGKILL(<= 0 使用默认值).
// 任意子进程在 ctx 取消前退出都视为失败, 其余子进程随之停止.
func RunWorkers(ctx context.Context, n int, listener *os.File, args []string, stopDelay time.Duration) error {
	if n <= 0 {
		return errors.Newf("invalid worker count %d", n)
	}
	if listener == nil {
		return errors.New("nil listener")
	}
	if stopDelay <= 0 {
		stopDelay = defaultStopDelay
	}
	exe, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolve executable")
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		cmd := exec.CommandContext(gctx, exe, args...)
		cmd.Env = mergeEnv(os.Environ(),
			EnvWorkerID+"="+strconv.Itoa(i),
			EnvListenFD+"="+strconv.Itoa(inheritedFd),
		)
		cmd.ExtraFiles = []*os.File{listener}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = stopDelay

		g.Go(func() error {
			if err := cmd.Start(); err != nil {
				return errors.Wrapf(err, "start worker %d", i)
			}
			xlog.Infof("worker %d started, pid %d", i, cmd.Process.Pid)

			err := cmd.Wait()
			if gctx.Err() != nil {
				xlog.Infof("worker %d stopped, pid %d, state %v", i, cmd.Process.Pid, cmd.ProcessState)
				return nil
			}
			if err == nil {
				err = errors.New("exited unexpectedly")
			}
			xlog.Errorf("worker %d failed, pid %d, err %v", i, cmd.Process.Pid, err)
			return errors.Wrapf(err, "worker %d", i)
		})
	}
	return g.Wait()
}

// mergeEnv 合并环境变量, extra 中的同名键覆盖 base
func mergeEnv(base []string, extra ...string) []string {
	keys := make(map[string]struct{}, len(extra))
	for _, env := range extra {
		keys[envKey(env)] = struct{}{}
	}
	result := make([]string, 0, len(base)+len(extra))
	for _, env := range base {
		if _, ok := keys[envKey(env)]; ok {
			continue
		}
		result = append(result, env)
	}
	return append(result, extra...)
}

// envKey 从 "KEY=VALUE" 格式的字符串中提取键名
func envKey(env string) string {
	key, _, _ := strings.Cut(env, "=")
	return key
}
