package poller_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/munin-relay/internal/testutil"
	"github.com/munin-relay/pkg/config"
	"github.com/munin-relay/pkg/metrics"
	"github.com/munin-relay/pkg/munin"
	"github.com/munin-relay/pkg/poller"
)

var cpuMemResponses = map[string]string{
	"list":       "cpu mem\n",
	"config cpu": "graph_category system\n.\n",
	"fetch cpu":  "user 10\nsys 5\n.\n",
}

func targetFor(agent *testutil.Agent) config.Target {
	return config.Target{
		Host:     agent.Host(),
		Port:     agent.Port(),
		Filter:   ".*",
		Interval: 0,
		Timeout:  2 * time.Second,
		Prefix:   "servers",
	}
}

func newMetrics() (*prometheus.Registry, *metrics.RelayMetrics) {
	registry := prometheus.NewRegistry()
	return registry, metrics.NewMetricFactory(metrics.NewPromRegistry(registry)).NewRelayMetrics()
}

// counter 读取带指定标签的 counter 值
func counter(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// fakeClock 只在 dial 时前进，after 记录 sleep 时长并立即触发
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	delays  []time.Duration
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	n := len(c.delays)
	c.mu.Unlock()
	if c.onSleep != nil {
		c.onSleep(n)
	}
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

func (c *fakeClock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestSleepDelay(t *testing.T) {
	assert.Equal(t, 55*time.Second, poller.SleepDelay(time.Minute, 5*time.Second))
	assert.Equal(t, time.Duration(0), poller.SleepDelay(time.Minute, 70*time.Second))
	assert.Equal(t, time.Duration(0), poller.SleepDelay(0, time.Second))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "sleeping", poller.StateSleeping.String())
	assert.Equal(t, "stopped", poller.StateStopped.String())
	assert.Equal(t, "state(42)", poller.State(42).String())
}

func TestIntervalZeroRunsExactlyOneCycle(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	p := poller.New(targetFor(agent), nil, zaptest.NewLogger(t), nil)

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, poller.StateStopped, p.State())
	assert.Equal(t, 1, agent.Connections())
	assert.Equal(t, 1, agent.CountCommand("list"))
	assert.Equal(t, 1, agent.CountCommand("fetch cpu"))
	assert.Equal(t, 1, p.Status().Cycles)
}

func TestNextCycleWaitsForRemainingInterval(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	clock := newFakeClock()
	ctl := poller.NewControl()
	clock.onSleep = func(int) { ctl.RequestShutdown() }

	target := targetFor(agent)
	target.Interval = time.Minute
	p := poller.New(target, ctl, zaptest.NewLogger(t), nil,
		poller.WithClock(clock.Now, clock.After),
		poller.WithAgentDialer(func(ctx context.Context, address string, port int, timeout time.Duration) (*munin.Conn, error) {
			// 本周期耗时 5s
			clock.Advance(5 * time.Second)
			return munin.Dial(ctx, address, port, timeout)
		}),
	)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, []time.Duration{55 * time.Second}, clock.Delays())
	assert.Equal(t, 1, agent.Connections())
}

func TestEndToEndSendsMetricPaths(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	carbonServer := testutil.NewCarbon(t)
	registry, m := newMetrics()
	clock := newFakeClock()

	target := targetFor(agent)
	target.DisplayName = "web1"
	target.Carbon = carbonServer.Addr()
	p := poller.New(target, nil, zaptest.NewLogger(t), m, poller.WithClock(clock.Now, clock.After))

	require.NoError(t, p.Run(context.Background()))

	got := carbonServer.WaitMetrics(2, 2*time.Second)
	assert.Equal(t, []testutil.Metric{
		{Path: "servers.web1.system.cpu.user", Timestamp: 1700000000, Value: "10"},
		{Path: "servers.web1.system.cpu.sys", Timestamp: 1700000000, Value: "5"},
	}, got)
	assert.Equal(t, []string{"cap multigraph", "list", "config cpu", "fetch cpu", "config mem", "fetch mem"},
		agent.Commands())

	host := map[string]string{"host": target.Host}
	assert.Equal(t, 2.0, counter(t, registry, "munin_relay_samples_sent_total", host))
	assert.Equal(t, 1.0, counter(t, registry, "munin_relay_cycles_total",
		map[string]string{"host": target.Host, "result": metrics.ResultOK}))
}

func TestMultigraphGroupRequiresMatchingConfig(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, map[string]string{
		"list":        "disk\n",
		"config disk": "multigraph disk_sda\ngraph_category disk\n.\n",
		"fetch disk":  "multigraph disk_sda\nused 70\nmultigraph disk_sdb\nused 20\n.\n",
	})
	carbonServer := testutil.NewCarbon(t)
	registry, m := newMetrics()
	core, logs := observer.New(zapcore.WarnLevel)

	target := targetFor(agent)
	target.Carbon = carbonServer.Addr()
	p := poller.New(target, nil, zap.New(core), m)

	require.NoError(t, p.Run(context.Background()))

	got := carbonServer.WaitMetrics(1, 2*time.Second)
	require.Len(t, got, 1)
	assert.Equal(t, "servers.web1.disk.disk.disk_sda.used", got[0].Path)
	assert.Equal(t, "70", got[0].Value)

	assert.Equal(t, 1, logs.FilterMessageSnippet("missing from its config").Len())
	assert.Equal(t, 1.0, counter(t, registry, "munin_relay_samples_dropped_total",
		map[string]string{"reason": metrics.ReasonNoConfig}))
}

func TestInvalidUTF8ValueDoesNotBlockGroup(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, map[string]string{
		"list":       "cpu\n",
		"config cpu": "graph_category system\n.\n",
		"fetch cpu":  "user 10\nsys \xff\nidle 85\n.\n",
	})
	carbonServer := testutil.NewCarbon(t)
	registry, m := newMetrics()

	target := targetFor(agent)
	target.Carbon = carbonServer.Addr()
	p := poller.New(target, nil, zaptest.NewLogger(t), m)

	require.NoError(t, p.Run(context.Background()))

	got := carbonServer.WaitMetrics(2, 2*time.Second)
	require.Len(t, got, 2)
	assert.Equal(t, "servers.web1.system.cpu.user", got[0].Path)
	assert.Equal(t, "servers.web1.system.cpu.idle", got[1].Path)
	assert.Equal(t, 1.0, counter(t, registry, "munin_relay_samples_dropped_total",
		map[string]string{"reason": metrics.ReasonInvalidUTF8}))
	assert.Zero(t, counter(t, registry, "munin_relay_errors_total",
		map[string]string{"stage": metrics.StageSend}))
}

func TestConfigCachedUntilReload(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, map[string]string{
		"list":       "cpu\n",
		"config cpu": "graph_category system\n.\n",
		"fetch cpu":  "user 10\n.\n",
	})
	clock := newFakeClock()
	ctl := poller.NewControl()
	clock.onSleep = func(n int) {
		switch n {
		case 2:
			ctl.RequestReload()
		case 3:
			ctl.RequestShutdown()
		}
	}

	target := targetFor(agent)
	target.Interval = time.Minute
	p := poller.New(target, ctl, zaptest.NewLogger(t), nil, poller.WithClock(clock.Now, clock.After))
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 3, agent.Connections())
	assert.Equal(t, 3, agent.CountCommand("cap multigraph"), "negotiated on every connection")
	assert.Equal(t, 2, agent.CountCommand("list"))
	assert.Equal(t, 2, agent.CountCommand("config cpu"))
	assert.Equal(t, 3, agent.CountCommand("fetch cpu"))
	assert.False(t, ctl.ReloadPending())
}

func TestConnectFailureFailsCycleOnly(t *testing.T) {
	registry, m := newMetrics()
	clock := newFakeClock()
	ctl := poller.NewControl()
	clock.onSleep = func(n int) {
		if n == 2 {
			ctl.RequestShutdown()
		}
	}

	target := config.Target{Host: "127.0.0.1", Port: closedPort(t), Interval: time.Minute, Timeout: time.Second}
	p := poller.New(target, ctl, zaptest.NewLogger(t), m, poller.WithClock(clock.Now, clock.After))
	require.NoError(t, p.Run(context.Background()))

	status := p.Status()
	assert.Equal(t, 2, status.Cycles)
	assert.Equal(t, 2, status.Failures)
	assert.NotEmpty(t, status.LastError)
	assert.Equal(t, 2.0, counter(t, registry, "munin_relay_errors_total",
		map[string]string{"stage": metrics.StageConnect}))
}

func TestStopOnConnectError(t *testing.T) {
	clock := newFakeClock()
	target := config.Target{
		Host:               "127.0.0.1",
		Port:               closedPort(t),
		Interval:           time.Minute,
		Timeout:            time.Second,
		StopOnConnectError: true,
	}
	p := poller.New(target, nil, zaptest.NewLogger(t), nil, poller.WithClock(clock.Now, clock.After))

	err := p.Run(context.Background())
	var connErr *munin.ConnectError
	require.True(t, errors.As(err, &connErr))
	assert.Empty(t, clock.Delays(), "no retry after stop")
	assert.Equal(t, poller.StateStopped, p.State())
}

func TestCarbonConnectFailureSkipsAggregation(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	registry, m := newMetrics()

	target := targetFor(agent)
	target.Carbon = "127.0.0.1:" + strconv.Itoa(closedPort(t))
	p := poller.New(target, nil, zaptest.NewLogger(t), m)

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 1, agent.CountCommand("fetch cpu"), "agent is still polled")
	assert.Equal(t, 1.0, counter(t, registry, "munin_relay_errors_total",
		map[string]string{"stage": metrics.StageCarbonConnect}))
	assert.Equal(t, 1.0, counter(t, registry, "munin_relay_cycles_total",
		map[string]string{"result": metrics.ResultOK}))
}

func TestNoopUsesBannerNodeName(t *testing.T) {
	agent := testutil.NewAgent(t, "# munin node at db7.example.com", cpuMemResponses)
	core, logs := observer.New(zapcore.DebugLevel)

	target := targetFor(agent)
	target.NoOp = true
	target.NoPrefix = true
	p := poller.New(target, nil, zap.New(core), nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "db7", p.DisplayName())

	var paths []string
	for _, entry := range logs.FilterMessage("NOOP metric").All() {
		paths = append(paths, entry.ContextMap()["metric"].(string))
	}
	assert.Equal(t, []string{"db7.system.cpu.user", "db7.system.cpu.sys"}, paths)
}

func TestDisplayNameOverrideIgnoresBanner(t *testing.T) {
	agent := testutil.NewAgent(t, "# munin node at db7.example.com", nil)
	target := targetFor(agent)
	target.DisplayName = "frontend.example.com"
	p := poller.New(target, nil, zaptest.NewLogger(t), nil)

	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, "frontend", p.DisplayName())
}

func TestShutdownWakesSleep(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	target := targetFor(agent)
	target.Interval = time.Hour
	p := poller.New(target, nil, zaptest.NewLogger(t), nil)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	require.Eventually(t, func() bool { return p.State() == poller.StateSleeping }, 2*time.Second, 10*time.Millisecond)
	p.Control().RequestShutdown()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, 1, agent.Connections())
}
