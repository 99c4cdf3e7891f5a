package app

import (
	"cmp"
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"

	"github.com/wildmap/hydra/xlog"
)

// IModule 模块接口
type IModule interface {
	Name() string                      // 名称
	Priority() uint                    // 模块优先级, 值越小越先启动, 越后停止
	OnInit() error                     // 初始化
	OnStart(ctx context.Context) error // 启动, 阻塞到 ctx 取消或出错
	OnDestroy()                        // 销毁
}

// 应用状态
const (
	StateNone = iota // 未开始或已停止
	StateInit        // 正在初始化中
	StateRun         // 正在运行中
	StateStop        // 正在停止中
)

const (
	// defaultShutdownTimeout 单个模块停止的最长等待时间
	defaultShutdownTimeout = 30 * time.Second
)

// moduleWrapper 使用额外的运行时信息包装模块
type moduleWrapper struct {
	IModule
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// App 按优先级启动和停止一组模块
// 任意模块 OnStart 返回错误、ctx 取消或收到 SIGINT/SIGTERM 时, 所有模块按相反顺序停止
type App struct {
	mu              sync.Mutex
	modules         []*moduleWrapper
	state           atomic.Int32
	shutdownTimeout time.Duration
	failed          chan *moduleWrapper
}

// New 创建应用, nil 模块被忽略
func New(mods ...IModule) *App {
	a := &App{shutdownTimeout: defaultShutdownTimeout}
	for _, mod := range mods {
		if mod == nil {
			xlog.Warnf("application cannot register nil module")
			continue
		}
		a.modules = append(a.modules, &moduleWrapper{IModule: mod})
	}
	return a
}

// GetState 获取状态
func (a *App) GetState() int32 {
	return a.state.Load()
}

// Stats 所有模块状态
func (a *App) Stats() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var builder strings.Builder
	for _, wrapper := range a.modules {
		status := "running"
		select {
		case <-wrapper.done:
			status = "stopped"
		default:
			if wrapper.done == nil {
				status = "pending"
			}
		}
		builder.WriteString(fmt.Sprintf("%s: priority %d, %s\n", wrapper.Name(), wrapper.Priority(), status))
	}
	return builder.String()
}

// Run 初始化并启动所有模块, 阻塞直到全部停止
// 返回第一个失败模块的错误, 正常关闭时返回 nil
func (a *App) Run(ctx context.Context) error {
	if !a.state.CompareAndSwap(StateNone, StateInit) {
		return errors.Newf("application cannot start twice, current state is %d", a.GetState())
	}
	defer a.state.Store(StateNone)

	if len(a.modules) == 0 {
		return errors.New("no modules provided to start")
	}

	// 按优先级升序排列, 优先级相同时按名称排序
	slices.SortStableFunc(a.modules, func(i, j *moduleWrapper) int {
		if n := cmp.Compare(i.Priority(), j.Priority()); n != 0 {
			return n
		}
		return strings.Compare(i.Name(), j.Name())
	})

	xlog.Infof("application starting, module count: %d", len(a.modules))
	for i, wrapper := range a.modules {
		xlog.Infof("module startup order %s (priority: %d)", wrapper.Name(), wrapper.Priority())
		if err := wrapper.OnInit(); err != nil {
			xlog.Errorf("module %s initialization failed, err %v", wrapper.Name(), err)
			for j := i - 1; j >= 0; j-- {
				a.destroyModule(a.modules[j])
			}
			return errors.Wrapf(err, "module %s init", wrapper.Name())
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := NotifyShutdown(ctx, cancel)
	defer release()

	a.failed = make(chan *moduleWrapper, len(a.modules))
	a.mu.Lock()
	for _, wrapper := range a.modules {
		wrapper.ctx, wrapper.cancel = context.WithCancel(ctx)
		wrapper.done = make(chan struct{})
		go a.onStartModule(wrapper)
	}
	a.mu.Unlock()

	a.state.Store(StateRun)
	xlog.Infof("application started successfully")

	var err error
	select {
	case <-ctx.Done():
	case wrapper := <-a.failed:
		err = errors.Wrapf(wrapper.err, "module %s", wrapper.Name())
	}
	a.stop()
	return err
}

// onStartModule 运行模块, 模块提前退出视为失败
func (a *App) onStartModule(wrapper *moduleWrapper) {
	defer close(wrapper.done)
	defer func() {
		if r := recover(); r != nil {
			xlog.Errorf("module %s panic recovered, panic %v\n%s", wrapper.Name(), r, string(debug.Stack()))
			wrapper.err = errors.Newf("panic: %v", r)
			a.failed <- wrapper
		}
	}()

	xlog.Infof("started module %s", wrapper.Name())
	err := wrapper.OnStart(wrapper.ctx)
	if wrapper.ctx.Err() != nil {
		xlog.Infof("module %s stopped", wrapper.Name())
		return
	}
	if err == nil {
		err = errors.New("exited unexpectedly")
	}
	xlog.Errorf("module %s failed, err %v", wrapper.Name(), err)
	wrapper.err = err
	a.failed <- wrapper
}

// stop 按启动的相反顺序停止所有模块
func (a *App) stop() {
	a.state.Store(StateStop)
	xlog.Infof("application shutdown initiated")
	for i := len(a.modules) - 1; i >= 0; i-- {
		a.shutdownModule(a.modules[i])
	}
	xlog.Infof("application shutdown complete")
}

// shutdownModule 关闭模块
func (a *App) shutdownModule(wrapper *moduleWrapper) {
	xlog.Infof("signaling module %s shutdown", wrapper.Name())
	wrapper.cancel()

	timer := time.NewTimer(a.shutdownTimeout)
	defer timer.Stop()
	select {
	case <-wrapper.done:
		xlog.Infof("module %s goroutine exited", wrapper.Name())
	case <-timer.C:
		xlog.Errorf("module %s shutdown timeout", wrapper.Name())
	}
	a.destroyModule(wrapper)
}

// destroyModule 销毁模块
func (a *App) destroyModule(wrapper *moduleWrapper) {
	defer func() {
		if r := recover(); r != nil {
			xlog.Errorf("module %s destroy panic recovered, panic %v\n%s", wrapper.Name(), r, string(debug.Stack()))
		}
	}()

	xlog.Infof("destroying module %s", wrapper.Name())
	wrapper.OnDestroy()
}
