package registers

import (
	"context"

	"github.com/munin-relay/pkg/poller"
)

// Agent 顶层采集接口（封装所有 HostPoller 的生命周期管理），由 poller.Supervisor 实现
type Agent interface {
	Register(p *poller.HostPoller)      // 注册 poller
	Start(ctx context.Context)          // 每个主机一个 goroutine
	Reload()                            // 下个周期重新 list 插件
	Shutdown(ctx context.Context) error // 优雅停止
	Done() <-chan struct{}              // 全部停止后关闭
	Snapshot() []poller.Status          // 各主机状态
}

var _ Agent = (*poller.Supervisor)(nil)
