// Package poller 每个 munin-node 一个采集循环：连接、list/config/fetch、发送到 carbon、sleep
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/munin-relay/pkg/carbon"
	"github.com/munin-relay/pkg/config"
	"github.com/munin-relay/pkg/metrics"
	"github.com/munin-relay/pkg/munin"
)

// State 采集循环状态
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StatePolling
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// AgentDialer 连接 munin-node
type AgentDialer func(ctx context.Context, address string, port int, timeout time.Duration) (*munin.Conn, error)

// SinkDialer 连接 carbon
type SinkDialer func(ctx context.Context, addr string, timeout time.Duration, log *zap.Logger) (*carbon.Sink, error)

// Status 对外展示的 poller 状态（/hosts）
type Status struct {
	Host         string        `json:"host"`
	DisplayName  string        `json:"display_name"`
	State        string        `json:"state"`
	Plugins      int           `json:"plugins"`
	Cycles       int           `json:"cycles"`
	Failures     int           `json:"failures"`
	LastCycle    time.Time     `json:"last_cycle,omitempty"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
}

// HostPoller 单个 munin-node 的采集循环
// plugins / configs 只由 Run 所在的 goroutine 读写
type HostPoller struct {
	target  config.Target
	host    Host
	ctl     *Control
	log     *zap.Logger
	metrics *metrics.RelayMetrics
	prefix  string

	plugins    []string
	configs    map[string]*munin.PluginConfig
	handshaken bool

	state  atomic.Int32
	mu     sync.Mutex
	status Status

	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
	dialAgent AgentDialer
	dialSink  SinkDialer
}

// Option 构造参数，主要用于单测
type Option func(*HostPoller)

// WithClock 替换时钟与 sleep
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(p *HostPoller) {
		p.now = now
		p.after = after
	}
}

// WithAgentDialer 替换 munin-node 连接方式
func WithAgentDialer(d AgentDialer) Option {
	return func(p *HostPoller) { p.dialAgent = d }
}

// WithSinkDialer 替换 carbon 连接方式
func WithSinkDialer(d SinkDialer) Option {
	return func(p *HostPoller) { p.dialSink = d }
}

// New 创建 poller；m 为 nil 时不记录自监控指标
func New(target config.Target, ctl *Control, log *zap.Logger, m *metrics.RelayMetrics, opts ...Option) *HostPoller {
	if log == nil {
		log = zap.NewNop()
	}
	if ctl == nil {
		ctl = NewControl()
	}
	if target.Timeout <= 0 {
		target.Timeout = munin.DefaultTimeout
	}
	if target.Port == 0 {
		target.Port = munin.DefaultPort
	}
	p := &HostPoller{
		target:    target,
		host:      NewHost(target.Host, target.Port, target.DisplayName),
		ctl:       ctl,
		log:       log.With(zap.String("host", target.Host)),
		metrics:   m,
		prefix:    carbon.PathPrefix(target.Prefix, target.NoPrefix),
		configs:   make(map[string]*munin.PluginConfig),
		now:       time.Now,
		after:     time.After,
		dialAgent: munin.Dial,
		dialSink:  carbon.Dial,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.status = Status{Host: target.Host, DisplayName: p.host.DisplayName, State: StateIdle.String()}
	return p
}

// Control 返回该 poller 的 reload / shutdown 令牌
func (p *HostPoller) Control() *Control { return p.ctl }

// State 当前状态
func (p *HostPoller) State() State { return State(p.state.Load()) }

// DisplayName Graphite 路径中的主机名
func (p *HostPoller) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.DisplayName
}

// Status 状态快照
func (p *HostPoller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.State = p.State().String()
	return s
}

func (p *HostPoller) setState(s State) { p.state.Store(int32(s)) }

// SleepDelay 下个周期开始前需要等待的时间：max(interval - elapsed, 0)
func SleepDelay(interval, elapsed time.Duration) time.Duration {
	if d := interval - elapsed; d > 0 {
		return d
	}
	return 0
}

// Run 采集循环，直到请求停止、ctx 结束或 interval 为 0 时完成一次采集
// 只有开启 stop_on_connect_error 且连接失败时返回错误
func (p *HostPoller) Run(ctx context.Context) error {
	defer p.setState(StateStopped)
	p.log.Info("starting poller",
		zap.String("display_name", p.DisplayName()),
		zap.Bool("forwarded", p.host.Forwarded()),
		zap.Duration("interval", p.target.Interval))
	defer p.log.Info("poller stopped")

	for {
		if p.stopRequested(ctx) {
			return nil
		}
		start := p.now()
		err := p.RunCycle(ctx)

		var connErr *munin.ConnectError
		if err != nil && p.target.StopOnConnectError && errors.As(err, &connErr) {
			p.log.Error("stopping poller after connect failure", zap.Error(err))
			return err
		}
		if p.target.Interval == 0 {
			return nil
		}

		p.setState(StateSleeping)
		if p.stopRequested(ctx) {
			return nil
		}
		delay := SleepDelay(p.target.Interval, p.now().Sub(start))
		p.log.Debug("sleeping until next cycle", zap.Duration("delay", delay))
		select {
		case <-p.after(delay):
		case <-p.ctl.Done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *HostPoller) stopRequested(ctx context.Context) bool {
	return p.ctl.ShutdownRequested() || ctx.Err() != nil
}

// RunCycle 执行一次完整采集：连接 -> list(仅 reload 时) -> config(惰性) -> fetch -> 发送
// 两个连接在返回前都会关闭
func (p *HostPoller) RunCycle(ctx context.Context) (err error) {
	start := p.now()
	log := p.log.With(zap.String("cycle_id", uuid.NewString()))
	p.setState(StateConnecting)
	log.Info("querying munin node")

	defer func() {
		elapsed := p.now().Sub(start)
		p.recordCycle(start, elapsed, err)
		if err != nil {
			log.Error("cycle failed", zap.Duration("elapsed", elapsed), zap.Error(err))
			return
		}
		log.Info("finished querying munin node", zap.Duration("elapsed", elapsed))
	}()

	conn, err := p.dialAgent(ctx, p.host.Address, p.host.Port, p.target.Timeout)
	if err != nil {
		p.countError(metrics.StageConnect)
		return err
	}
	defer conn.Close()

	if !p.handshaken {
		p.handshaken = true
		p.adoptNodeName(conn.Banner(), log)
	}

	sink := p.openSink(ctx, log)
	if sink != nil {
		defer sink.Close()
	}

	if p.stopRequested(ctx) {
		log.Info("shutdown requested, skipping cycle")
		return nil
	}
	p.setState(StatePolling)
	return p.poll(ctx, munin.NewClient(conn, log), sink, start.Unix(), log)
}

func (p *HostPoller) adoptNodeName(banner string, log *zap.Logger) {
	if p.host.override {
		return
	}
	name, ok := munin.ParseNodeName(banner)
	if !ok {
		log.Info("unable to obtain munin node name from banner", zap.String("banner", banner))
		return
	}
	if p.host.AdoptNodeName(name) {
		p.mu.Lock()
		p.status.DisplayName = p.host.DisplayName
		p.mu.Unlock()
		log.Info("display name taken from munin node banner",
			zap.String("node", name), zap.String("display_name", p.host.DisplayName))
	}
}

// openSink noop 模式返回只打日志的 sink；未配置 carbon 或连接失败返回 nil（本周期不发送）
func (p *HostPoller) openSink(ctx context.Context, log *zap.Logger) *carbon.Sink {
	if p.target.NoOp {
		return carbon.NewNoopSink(log)
	}
	if p.target.Carbon == "" {
		log.Debug("carbon not configured, metrics are not sent")
		return nil
	}
	sink, err := p.dialSink(ctx, p.target.Carbon, p.target.Timeout, log)
	if err != nil {
		p.countError(metrics.StageCarbonConnect)
		log.Warn("unable to connect to carbon, skipping aggregation this cycle",
			zap.String("carbon", p.target.Carbon), zap.Error(err))
		return nil
	}
	return sink
}

func (p *HostPoller) poll(ctx context.Context, client *munin.Client, sink *carbon.Sink, timestamp int64, log *zap.Logger) error {
	if err := client.NegotiateMultigraph(); err != nil {
		p.countError(metrics.StageList)
		return fmt.Errorf("negotiate multigraph: %w", err)
	}

	if p.ctl.takeReload() {
		clear(p.configs)
		plugins, err := client.ListPlugins(p.host.RemoteNode, p.target.Filter)
		if err != nil {
			p.ctl.restoreReload()
			p.countError(metrics.StageList)
			return fmt.Errorf("list plugins: %w", err)
		}
		p.plugins = plugins
		if p.metrics != nil {
			p.metrics.Plugins.WithLabelValues(p.target.Host).Set(float64(len(plugins)))
		}
		log.Debug("plugin list loaded", zap.Strings("plugins", plugins))
	}

	for _, plugin := range p.plugins {
		if p.stopRequested(ctx) {
			log.Info("shutdown requested, abandoning cycle")
			return nil
		}
		log.Debug("fetching plugin", zap.String("plugin", plugin))

		cfg, ok := p.configs[plugin]
		if !ok {
			var err error
			if cfg, err = client.FetchConfig(plugin); err != nil {
				p.countError(metrics.StageConfig)
				return fmt.Errorf("config %s: %w", plugin, err)
			}
			p.configs[plugin] = cfg
		}

		set, err := client.FetchValues(plugin)
		if err != nil {
			p.countError(metrics.StageFetch)
			return fmt.Errorf("fetch %s: %w", plugin, err)
		}

		if sink != nil {
			p.emit(sink, plugin, cfg, set, timestamp, log)
		}
	}
	return nil
}

// emit 按 fetch 顺序为每个同时出现在 config 和 samples 中的 multigraph 组发送一批数据
func (p *HostPoller) emit(sink *carbon.Sink, plugin string, cfg *munin.PluginConfig, set *munin.SampleSet, timestamp int64, log *zap.Logger) {
	frame := carbon.Frame{
		Timestamp:   timestamp,
		Plugin:      plugin,
		DisplayName: p.host.DisplayName,
		RemoteNode:  p.host.RemoteNode,
		Prefix:      p.prefix,
	}

	for _, key := range set.Keys() {
		samples, _ := set.Group(key)
		groupCfg, ok := cfg.Group(key)
		if !ok {
			log.Warn("plugin returned values for a group missing from its config, skipping",
				zap.String("plugin", plugin), zap.Stringer("group", key))
			p.countDropped(metrics.ReasonNoConfig, samples.Len())
			continue
		}

		batch, dropped := frame.Build(groupCfg, samples, log)
		p.countDropped(metrics.ReasonNoCategory, dropped.NoCategory)
		p.countDropped(metrics.ReasonInvalidUTF8, dropped.InvalidUTF8)
		if err := sink.Send(plugin, batch); err != nil {
			p.countError(metrics.StageSend)
			continue
		}
		if !sink.Noop() && p.metrics != nil {
			p.metrics.SamplesSent.WithLabelValues(p.target.Host).Add(float64(len(batch)))
		}
	}

	for _, key := range cfg.Keys() {
		if _, ok := set.Group(key); !ok {
			log.Warn("plugin config has a group without values, skipping",
				zap.String("plugin", plugin), zap.Stringer("group", key))
		}
	}
}

func (p *HostPoller) countError(stage string) {
	if p.metrics != nil {
		p.metrics.Errors.WithLabelValues(p.target.Host, stage).Inc()
	}
}

func (p *HostPoller) countDropped(reason string, n int) {
	if p.metrics != nil && n > 0 {
		p.metrics.SamplesDropped.WithLabelValues(p.target.Host, reason).Add(float64(n))
	}
}

func (p *HostPoller) recordCycle(start time.Time, elapsed time.Duration, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
	}
	if p.metrics != nil {
		p.metrics.Cycles.WithLabelValues(p.target.Host, result).Inc()
		p.metrics.CycleDuration.WithLabelValues(p.target.Host).Observe(elapsed.Seconds())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Cycles++
	p.status.Plugins = len(p.plugins)
	p.status.LastCycle = start
	p.status.LastDuration = elapsed
	p.status.LastError = ""
	if err != nil {
		p.status.Failures++
		p.status.LastError = err.Error()
	}
}
