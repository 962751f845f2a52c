package poller

import (
	"sync"
	"sync/atomic"
)

// Control 单个 poller 的 reload / shutdown 令牌
// 由信号处理方写入，poller 在检查点读取；电平触发，不排队
type Control struct {
	reload   atomic.Bool
	shutdown atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewControl 新建令牌，reload 初始为 true（首个周期需要 list）
func NewControl() *Control {
	c := &Control{done: make(chan struct{})}
	c.reload.Store(true)
	return c
}

// RequestReload 下个周期重新 list 插件并清空配置缓存
func (c *Control) RequestReload() { c.reload.Store(true) }

// RequestShutdown 请求停止，可重复调用
func (c *Control) RequestShutdown() {
	c.shutdown.Store(true)
	c.doneOnce.Do(func() { close(c.done) })
}

// ShutdownRequested 是否已请求停止
func (c *Control) ShutdownRequested() bool { return c.shutdown.Load() }

// Done 请求停止时关闭，用于提前结束 sleep
func (c *Control) Done() <-chan struct{} { return c.done }

// ReloadPending 是否有未处理的 reload
func (c *Control) ReloadPending() bool { return c.reload.Load() }

func (c *Control) takeReload() bool { return c.reload.Swap(false) }

func (c *Control) restoreReload() { c.reload.Store(true) }
