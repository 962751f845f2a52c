package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultShutdownTimeout 等待所有 poller 停止的最长时间
const DefaultShutdownTimeout = 15 * time.Second

// Handler 接收信号的一方（poller.Supervisor）
type Handler interface {
	Reload()
	Shutdown(ctx context.Context) error
	Done() <-chan struct{}
}

// WaitForShutdown 监听信号直到退出：SIGHUP 触发 reload，SIGINT/SIGTERM 触发优雅关闭；
// 所有 poller 自行结束（一次性采集）时也会返回。返回前执行 shutdownFunc（例如关闭 HTTP 服务）
func WaitForShutdown(logger *zap.Logger, h Handler, shutdownFunc func() error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	Watch(logger, h, sigChan, DefaultShutdownTimeout)

	if shutdownFunc != nil {
		if err := shutdownFunc(); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
		}
	}
	logger.Info("shutdown completed")
}

// Watch 处理 sigChan 中的信号，直到收到退出信号或 h.Done() 关闭
func Watch(logger *zap.Logger, h Handler, sigChan <-chan os.Signal, timeout time.Duration) {
	for {
		select {
		case sig := <-sigChan:
			logger.Info("received signal", zap.String("signal", sig.String()))
			if sig == syscall.SIGHUP {
				h.Reload()
				continue
			}
			// 超时控制关闭逻辑
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := h.Shutdown(ctx)
			cancel()
			if err != nil {
				logger.Warn("pollers did not stop in time", zap.Duration("timeout", timeout), zap.Error(err))
			}
			return
		case <-h.Done():
			logger.Info("all pollers finished")
			return
		}
	}
}
