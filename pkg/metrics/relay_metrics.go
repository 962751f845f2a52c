package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 错误阶段（errors_total 的 stage 标签）
const (
	StageConnect       = "connect"
	StageCarbonConnect = "carbon_connect"
	StageList          = "list"
	StageConfig        = "config"
	StageFetch         = "fetch"
	StageSend          = "send"
)

// 采集周期结果（cycles_total 的 result 标签）
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// 丢弃原因（samples_dropped_total 的 reason 标签）
const (
	ReasonNoCategory  = "no_category"
	ReasonNoConfig    = "no_config"
	ReasonInvalidUTF8 = "invalid_utf8"
)

// RelayMetrics 每个 munin-node 采集循环的自监控指标
type RelayMetrics struct {
	Cycles         *prometheus.CounterVec
	CycleDuration  *prometheus.HistogramVec
	Errors         *prometheus.CounterVec
	SamplesSent    *prometheus.CounterVec
	SamplesDropped *prometheus.CounterVec
	Plugins        *prometheus.GaugeVec
}

// NewRelayMetrics 一次性创建并注册全部采集指标
func (m *MetricFactory) NewRelayMetrics() *RelayMetrics {
	return &RelayMetrics{
		Cycles:         m.NewCyclesTotal(),
		CycleDuration:  m.NewCycleDurationSeconds(),
		Errors:         m.NewErrorsTotal(),
		SamplesSent:    m.NewSamplesSentTotal(),
		SamplesDropped: m.NewSamplesDroppedTotal(),
		Plugins:        m.NewPlugins(),
	}
}

// NewCyclesTotal 采集周期计数
// 标签说明：
// host: 配置中的 host（fqdn[:remotenode]）
// result: ok / error
func (m *MetricFactory) NewCyclesTotal() *prometheus.CounterVec {
	return promauto.With(m.reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cycles_total",
		Help:      "Total polling cycles per munin node",
	}, []string{"host", "result"})
}

// NewCycleDurationSeconds 单次采集周期耗时
// 分桶：0.05s ~ 25.6s，覆盖插件较多的节点
func (m *MetricFactory) NewCycleDurationSeconds() *prometheus.HistogramVec {
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one polling cycle per munin node",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"host"})
	m.reg.MustRegister(h)
	return h
}

// NewErrorsTotal 按阶段统计错误
// stage: connect / carbon_connect / list / config / fetch / send
func (m *MetricFactory) NewErrorsTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "errors_total",
		Help:      "Total errors per munin node and stage",
	}, []string{"host", "stage"})
	m.reg.MustRegister(c)
	return c
}

// NewSamplesSentTotal 发送到 carbon 的采样点数
func (m *MetricFactory) NewSamplesSentTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "samples_sent_total",
		Help:      "Total samples delivered to carbon",
	}, []string{"host"})
	m.reg.MustRegister(c)
	return c
}

// NewSamplesDroppedTotal 丢弃的采样点数
// reason: no_category / no_config
func (m *MetricFactory) NewSamplesDroppedTotal() *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "samples_dropped_total",
		Help:      "Total samples dropped before delivery",
	}, []string{"host", "reason"})
	m.reg.MustRegister(c)
	return c
}

// NewPlugins 最近一次 list 得到的插件数量
func (m *MetricFactory) NewPlugins() *prometheus.GaugeVec {
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "plugins",
		Help:      "Number of plugins selected on the last list",
	}, []string{"host"})
	m.reg.MustRegister(g)
	return g
}
