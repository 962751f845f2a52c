package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// 以下描述符供 collector 包的 HostStatsCollector 使用（relay 所在主机）

// NewLoadDesc 系统负载描述符，period 为 1/5/15
func NewLoadDesc(period string) *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "host", "load"+period),
		period+" minute load average of the relay host",
		nil, nil,
	)
}

// NewCPUUsageRatioDesc CPU 总体使用率（0~1）
func NewCPUUsageRatioDesc() *prometheus.Desc {
	return prometheus.NewDesc(
		prometheus.BuildFQName(Namespace, "host", "cpu_usage_ratio"),
		"CPU usage ratio of the relay host",
		nil, nil,
	)
}
