package app

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal 记录模块生命周期事件
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.events...)
}

func recordingModule(j *journal, name string, prio uint, start func(ctx context.Context) error) *Module {
	return &Module{
		ModName:     name,
		ModPriority: prio,
		Init: func() error {
			j.add("init " + name)
			return nil
		},
		Start: func(ctx context.Context) error {
			j.add("start " + name)
			if start != nil {
				return start(ctx)
			}
			<-ctx.Done()
			return nil
		},
		Destroy: func() {
			j.add("destroy " + name)
		},
	}
}

func TestApp_OrderAndCancel(t *testing.T) {
	j := &journal{}
	started := make(chan struct{}, 2)
	wait := func(ctx context.Context) error {
		started <- struct{}{}
		<-ctx.Done()
		return nil
	}
	a := New(
		recordingModule(j, "reactor", 10, wait),
		nil,
		recordingModule(j, "metrics", 1, wait),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	<-started
	<-started
	assert.Equal(t, int32(StateRun), a.GetState())
	assert.Contains(t, a.Stats(), "reactor: priority 10, running")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}

	events := j.list()
	assert.Equal(t, []string{"init metrics", "init reactor"}, events[:2])
	assert.ElementsMatch(t, []string{"start metrics", "start reactor"}, events[2:4])
	assert.Equal(t, []string{"destroy reactor", "destroy metrics"}, events[4:])
	assert.Equal(t, int32(StateNone), a.GetState())
	assert.Contains(t, a.Stats(), "stopped")
}

func TestApp_ModuleFailure(t *testing.T) {
	j := &journal{}
	boom := errors.New("bind failed")
	a := New(
		recordingModule(j, "steady", 1, nil),
		recordingModule(j, "broken", 2, func(context.Context) error { return boom }),
	)

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "module broken")
	assert.Contains(t, j.list(), "destroy steady")
}

func TestApp_UnexpectedExitAndPanic(t *testing.T) {
	a := New(&Module{ModName: "quitter", Start: func(context.Context) error { return nil }})
	err := a.Run(context.Background())
	assert.ErrorContains(t, err, "exited unexpectedly")

	a = New(&Module{ModName: "panicker", Start: func(context.Context) error { panic("oops") }})
	err = a.Run(context.Background())
	assert.ErrorContains(t, err, "panic: oops")
}

func TestApp_InitFailure(t *testing.T) {
	j := &journal{}
	first := recordingModule(j, "first", 1, nil)
	second := &Module{ModName: "second", ModPriority: 2, Init: func() error { return errors.New("bad config") }}
	err := New(first, second).Run(context.Background())
	assert.ErrorContains(t, err, "module second init")
	assert.Equal(t, []string{"init first", "destroy first"}, j.list())
}

func TestApp_RunTwice(t *testing.T) {
	assert.Error(t, New().Run(context.Background()))

	started := make(chan struct{})
	a := New(&Module{ModName: "m", Start: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	<-started
	assert.Error(t, a.Run(ctx))
	cancel()
	require.NoError(t, <-done)
}

func TestNotifyShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	release := NotifyShutdown(ctx, func() { close(stopped) })
	defer release()

	// SIGHUP 被忽略
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGHUP))
	select {
	case <-stopped:
		t.Fatal("SIGHUP must not stop")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGTERM did not trigger stop")
	}
	release()
}
