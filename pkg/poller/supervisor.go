package poller

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Supervisor 管理全部 HostPoller 的生命周期，并把 reload / shutdown 分发给每个 poller
type Supervisor struct {
	log *zap.Logger

	mu      sync.Mutex
	pollers []*HostPoller
	started bool

	wg   sync.WaitGroup
	done chan struct{}
}

// NewSupervisor 创建 supervisor
func NewSupervisor(log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Supervisor{log: log, done: make(chan struct{})}
}

// Register 注册 poller，必须在 Start 之前调用
func (s *Supervisor) Register(p *HostPoller) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.log.Warn("poller registered after start, ignoring", zap.String("host", p.target.Host))
		return
	}
	s.pollers = append(s.pollers, p)
}

// Len 已注册的 poller 数量
func (s *Supervisor) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollers)
}

// Start 每个 poller 一个 goroutine（非阻塞）；全部停止后 Done 关闭
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	pollers := append([]*HostPoller(nil), s.pollers...)
	s.mu.Unlock()

	s.log.Info("starting pollers", zap.Int("hosts", len(pollers)))
	for _, p := range pollers {
		s.wg.Add(1)
		go func(p *HostPoller) {
			defer s.wg.Done()
			if err := p.Run(ctx); err != nil {
				s.log.Error("poller exited with error", zap.String("host", p.target.Host), zap.Error(err))
			}
		}(p)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

// Reload 所有 poller 在下个周期重新 list 插件
func (s *Supervisor) Reload() {
	s.log.Info("reload requested, plugin lists will be refreshed on next cycle")
	for _, p := range s.snapshotPollers() {
		p.ctl.RequestReload()
	}
}

// Shutdown 请求所有 poller 停止并等待，ctx 超时返回 ctx.Err()
// 正在阻塞读的 poller 最多等待一个读写超时
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.log.Info("shutdown requested, stopping pollers")
	for _, p := range s.snapshotPollers() {
		p.ctl.RequestShutdown()
	}

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}

	select {
	case <-s.done:
		s.log.Info("all pollers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done 所有 poller 停止后关闭（interval 为 0 时一次采集后即关闭）
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// Snapshot 各 poller 的状态，按注册顺序
func (s *Supervisor) Snapshot() []Status {
	pollers := s.snapshotPollers()
	out := make([]Status, 0, len(pollers))
	for _, p := range pollers {
		out = append(out, p.Status())
	}
	return out
}

func (s *Supervisor) snapshotPollers() []*HostPoller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*HostPoller(nil), s.pollers...)
}
