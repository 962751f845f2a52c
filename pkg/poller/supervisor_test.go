package poller_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/munin-relay/internal/testutil"
	"github.com/munin-relay/pkg/poller"
)

func TestSupervisorOneShotClosesDone(t *testing.T) {
	first := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	second := testutil.NewAgent(t, "# munin node at db1.example.com", cpuMemResponses)
	log := zaptest.NewLogger(t)

	s := poller.NewSupervisor(log)
	s.Register(poller.New(targetFor(first), nil, log, nil))
	s.Register(poller.New(targetFor(second), nil, log, nil))
	require.Equal(t, 2, s.Len())

	s.Start(context.Background())
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("one-shot pollers did not finish")
	}

	snapshot := s.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "web1", snapshot[0].DisplayName)
	assert.Equal(t, "db1", snapshot[1].DisplayName)
	for _, st := range snapshot {
		assert.Equal(t, "stopped", st.State)
		assert.Equal(t, 1, st.Cycles)
		assert.Equal(t, 2, st.Plugins)
	}
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestSupervisorReloadAndShutdown(t *testing.T) {
	agent := testutil.NewAgent(t, testutil.DefaultBanner, cpuMemResponses)
	log := zaptest.NewLogger(t)
	target := targetFor(agent)
	target.Interval = time.Hour

	p := poller.New(target, nil, log, nil)
	s := poller.NewSupervisor(log)
	s.Register(p)
	s.Start(context.Background())

	require.Eventually(t, func() bool { return p.State() == poller.StateSleeping }, 2*time.Second, 10*time.Millisecond)

	s.Reload()
	assert.True(t, p.Control().ReloadPending())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, poller.StateStopped, p.State())
	assert.Equal(t, 1, agent.CountCommand("list"))
}

func TestSupervisorShutdownBeforeStart(t *testing.T) {
	s := poller.NewSupervisor(nil)
	assert.NoError(t, s.Shutdown(context.Background()))
}
