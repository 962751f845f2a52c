package collector

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/cpu"
	cload "github.com/shirou/gopsutil/v3/load"
	"go.uber.org/zap"

	"github.com/munin-relay/pkg/metrics"
)

// HostStatsCollector relay 所在主机的负载与 CPU 使用率（实现 prometheus.Collector）
// 每次 scrape 时现场读取，不在后台轮询
type HostStatsCollector struct {
	log     *zap.Logger
	timeout time.Duration

	load1, load5, load15 *prometheus.Desc
	cpuUsage             *prometheus.Desc

	// 可替换，便于单测
	loadAvg    func(ctx context.Context) (*cload.AvgStat, error)
	cpuPercent func(ctx context.Context) ([]float64, error)
}

// NewHostStatsCollector 创建主机负载采集器
func NewHostStatsCollector(log *zap.Logger) *HostStatsCollector {
	if log == nil {
		log = zap.NewNop()
	}
	return &HostStatsCollector{
		log:      log,
		timeout:  2 * time.Second,
		load1:    metrics.NewLoadDesc("1"),
		load5:    metrics.NewLoadDesc("5"),
		load15:   metrics.NewLoadDesc("15"),
		cpuUsage: metrics.NewCPUUsageRatioDesc(),
		loadAvg:  cload.AvgWithContext,
		cpuPercent: func(ctx context.Context) ([]float64, error) {
			// interval 为 0 时与上一次调用比较，首次调用可能为 0
			return cpu.PercentWithContext(ctx, 0, false)
		},
	}
}

// Init 预检查 gopsutil 在当前平台可用
func (c *HostStatsCollector) Init() error {
	_, err := cpu.Counts(true)
	return err
}

// Describe 实现 prometheus.Collector
func (c *HostStatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.load1
	ch <- c.load5
	ch <- c.load15
	ch <- c.cpuUsage
}

// Collect 实现 prometheus.Collector，读取失败只记录日志，不影响其他指标
func (c *HostStatsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if avg, err := c.loadAvg(ctx); err != nil {
		c.log.Warn("failed to get host load", zap.Error(err))
	} else {
		ch <- prometheus.MustNewConstMetric(c.load1, prometheus.GaugeValue, avg.Load1)
		ch <- prometheus.MustNewConstMetric(c.load5, prometheus.GaugeValue, avg.Load5)
		ch <- prometheus.MustNewConstMetric(c.load15, prometheus.GaugeValue, avg.Load15)
	}

	usage, err := c.cpuPercent(ctx)
	switch {
	case err != nil:
		c.log.Warn("failed to get host cpu usage", zap.Error(err))
	case len(usage) == 0:
		c.log.Debug("host cpu usage not available yet")
	default:
		ch <- prometheus.MustNewConstMetric(c.cpuUsage, prometheus.GaugeValue, usage[0]/100)
	}
}
