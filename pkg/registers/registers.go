package registers

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/munin-relay/pkg/collector"
	"github.com/munin-relay/pkg/config"
	"github.com/munin-relay/pkg/logger"
	"github.com/munin-relay/pkg/metrics"
	"github.com/munin-relay/pkg/poller"
)

// Module 可选的自监控采集模块
type Module struct {
	Enabled bool
	Name    string
	NewFunc func() (prometheus.Collector, error)
}

// InitPromRegistry 返回值
// promReg	*prometheus.Registry	Prometheus 指标注册器，用于 HTTP /metrics 或单元测试
// agent	*poller.Supervisor	    已启动的 poller 管理器，每个 munin-node 一个采集循环
// error	                        注册失败时返回具体错误
func InitPromRegistry(ctx context.Context, enableProcess bool, cfg *config.Config) (*prometheus.Registry, *poller.Supervisor, error) {
	// 初始化Prometheus指标注册器（不注册Go指标）
	promReg := prometheus.NewRegistry()
	if enableProcess {
		promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: metrics.Namespace}))
	}

	reg := metrics.NewPromRegistry(promReg)
	if _, err := RegisterCollectors(reg, cfg); err != nil {
		logger.Error("failed to register collectors", zap.Error(err))
		return nil, nil, err
	}

	relayMetrics := metrics.NewMetricFactory(reg).NewRelayMetrics()

	agent := poller.NewSupervisor(logger.Named("supervisor"))
	if err := RegisterPollers(agent, cfg, relayMetrics); err != nil {
		return nil, nil, err
	}

	agent.Start(ctx)
	return promReg, agent, nil
}

// RegisterPollers 每个 Target 注册一个 HostPoller，各自持有独立的 Control
func RegisterPollers(agent Agent, cfg *config.Config, m *metrics.RelayMetrics) error {
	targets := cfg.Targets()
	if len(targets) == 0 {
		return fmt.Errorf("no munin hosts configured")
	}
	log := logger.Named("poller")
	for _, t := range targets {
		agent.Register(poller.New(t, poller.NewControl(), log, m))
		logger.Debug("registered poller",
			zap.String("host", t.Host),
			zap.Int("port", t.Port),
			zap.Duration("interval", t.Interval),
			zap.Bool("aggregate", t.Aggregate()))
	}
	return nil
}

// RegisterCollectors 可选采集模块注册统一入口，新增模块只需在 modules 列表添加一条
func RegisterCollectors(reg metrics.Registers, cfg *config.Config) ([]string, error) {
	modules := []Module{
		{
			Enabled: cfg.Server.HostStats,
			Name:    "host_stats",
			NewFunc: func() (prometheus.Collector, error) {
				c := collector.NewHostStatsCollector(logger.Named("host_stats"))
				if err := c.Init(); err != nil {
					return nil, fmt.Errorf("host stats unavailable: %w", err)
				}
				return c, nil
			},
		},
	}

	var registered []string
	for _, m := range modules {
		if !m.Enabled {
			logger.Debug("collector disabled", zap.String("name", m.Name))
			continue
		}
		c, err := m.NewFunc()
		if err != nil {
			return nil, err
		}
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register %s: %w", m.Name, err)
		}
		registered = append(registered, m.Name)
		logger.Debug("registered collector", zap.String("name", m.Name))
	}
	return registered, nil
}
