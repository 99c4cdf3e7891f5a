package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/wildmap/hydra/xlog"
)

// NotifyShutdown 收到 SIGINT 或 SIGTERM 时调用 stop, SIGHUP 只记录日志
// stop 最多调用一次. 返回的函数停止监听信号.
func NotifyShutdown(ctx context.Context, stop func()) (release func()) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-signalChan:
				if sig == syscall.SIGHUP {
					xlog.Infof("SIGHUP received, continuing operation")
					continue
				}
				xlog.Infof("received shutdown signal %s", sig)
				stop()
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(signalChan)
			close(done)
		})
	}
}
