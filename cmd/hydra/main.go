// hydra 运行内置 PingPong 服务的 Thrift framed/binary 服务器
//
// 单进程模式在当前进程中运行一个事件循环; workers > 1 时当前进程只负责监听和
// 监督, 由子进程在共享的监听套接字上各自运行一个事件循环.
package main

import (
	"context"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/pflag"

	"github.com/wildmap/hydra/app"
	"github.com/wildmap/hydra/config"
	"github.com/wildmap/hydra/metrics"
	"github.com/wildmap/hydra/processor"
	"github.com/wildmap/hydra/xlog"
	"github.com/wildmap/hydra/xnet"
	"github.com/wildmap/hydra/xnet/sockets"
)

const (
	priorityMetrics = 1
	priorityReactor = 10

	// workerStopSlack 子进程优雅关闭超时之外额外等待的时间
	workerStopSlack = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		xlog.Errorf("hydra exited, err %+v", err)
		xlog.Sync()
		os.Exit(1)
	}
	xlog.Sync()
}

func run(args []string) error {
	fs := pflag.NewFlagSet("hydra", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return err
	}
	if err = xlog.Setup(cfg.Log); err != nil {
		return err
	}

	fd, inherited, err := app.InheritedListener()
	if err != nil {
		return err
	}

	var mods []app.IModule
	switch {
	case inherited:
		xlog.Infof("worker %d serving inherited listener fd %d", app.WorkerID(), fd)
		mods, err = reactorModules(cfg, fd, nil)
	case cfg.Listen.Workers > 1:
		mods, err = supervisorModules(cfg, args)
	default:
		mods, err = singleModules(cfg)
	}
	if err != nil {
		return err
	}
	return app.New(mods...).Run(context.Background())
}

// singleModules 在当前进程中监听并运行事件循环
func singleModules(cfg *config.Config) ([]app.IModule, error) {
	l, err := sockets.Listen(context.Background(), cfg.Listen.Addr, cfg.Listen.Options())
	if err != nil {
		return nil, err
	}
	fd, err := l.Dup()
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	xlog.Infof("listening on %s %s", l.Network(), l.Addr())
	return reactorModules(cfg, fd, func() { _ = l.Close() })
}

// supervisorModules 监听后把套接字交给 worker 子进程
func supervisorModules(cfg *config.Config, args []string) ([]app.IModule, error) {
	l, err := sockets.Listen(context.Background(), cfg.Listen.Addr, cfg.Listen.Options())
	if err != nil {
		return nil, err
	}
	f, err := l.File()
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	xlog.Infof("listening on %s %s, %d workers", l.Network(), l.Addr(), cfg.Listen.Workers)

	return []app.IModule{&app.Module{
		ModName: "workers",
		Start: func(ctx context.Context) error {
			return app.RunWorkers(ctx, cfg.Listen.Workers, f, args, cfg.Server.ShutdownTimeout+workerStopSlack)
		},
		Destroy: func() {
			_ = f.Close()
			_ = l.Close()
		},
	}}, nil
}

// reactorModules 事件循环及其指标模块, cleanup 在事件循环停止后调用
func reactorModules(cfg *config.Config, fd int, cleanup func()) ([]app.IModule, error) {
	metricsCfg := cfg.Metrics
	if id := app.WorkerID(); id >= 0 && metricsCfg.Addr != "" {
		addr, err := offsetPort(metricsCfg.Addr, id)
		if err != nil {
			return nil, err
		}
		metricsCfg.Addr = addr
	}
	collector, err := metrics.New(metricsCfg)
	if err != nil {
		return nil, err
	}
	proc, err := processor.New(pingPongHandlers())
	if err != nil {
		return nil, err
	}
	srv, err := xnet.NewServer(cfg.Server, proc, xnet.WithMetrics(collector))
	if err != nil {
		return nil, err
	}
	xlog.Infof("serving methods %v", proc.Methods())

	mods := []app.IModule{&app.Module{
		ModName:     "reactor",
		ModPriority: priorityReactor,
		Start: func(ctx context.Context) error {
			return srv.Serve(ctx, fd)
		},
		Destroy: cleanup,
	}}
	if collector != nil && metricsCfg.Addr != "" {
		mods = append(mods, &app.Module{
			ModName:     "metrics",
			ModPriority: priorityMetrics,
			Start:       collector.Serve,
		})
	}
	return mods, nil
}

// offsetPort 多进程模式下每个 worker 的指标端口为配置端口加编号, 端口 0 保持不变
func offsetPort(addr string, id int) (string, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", errors.Wrapf(err, "invalid metrics addr %q", addr)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return "", errors.Wrapf(err, "invalid metrics port %q", port)
	}
	if p == 0 {
		return addr, nil
	}
	if p+id > 65535 {
		return "", errors.Newf("metrics port %d + worker %d out of range", p, id)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+id)), nil
}
