// Package app 进程生命周期: 模块的启动与停止, 信号处理, 多进程 worker
package app

import (
	"context"
)

// Module 由函数组成的模块, 未设置的回调视为空操作
type Module struct {
	ModName     string
	ModPriority uint
	Init        func() error
	Start       func(ctx context.Context) error
	Destroy     func()
}

var _ IModule = (*Module)(nil)

// Name 名称
func (m *Module) Name() string {
	return m.ModName
}

// Priority 优先级
func (m *Module) Priority() uint {
	return m.ModPriority
}

// OnInit 初始化
func (m *Module) OnInit() error {
	if m.Init == nil {
		return nil
	}
	return m.Init()
}

// OnStart 启动, 未设置 Start 时阻塞到 ctx 取消
func (m *Module) OnStart(ctx context.Context) error {
	if m.Start == nil {
		<-ctx.Done()
		return nil
	}
	return m.Start(ctx)
}

// OnDestroy 销毁
func (m *Module) OnDestroy() {
	if m.Destroy != nil {
		m.Destroy()
	}
}
