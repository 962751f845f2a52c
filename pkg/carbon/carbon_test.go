package carbon_test

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/munin-relay/internal/testutil"
	"github.com/munin-relay/pkg/carbon"
	"github.com/munin-relay/pkg/munin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func samplesOf(kv ...string) *munin.Samples {
	s := munin.NewSamples()
	for i := 0; i+1 < len(kv); i += 2 {
		s.Set(kv[i], kv[i+1])
	}
	return s
}

func TestPathPrefix(t *testing.T) {
	assert.Equal(t, "servers.", carbon.PathPrefix("servers", false))
	assert.Equal(t, "", carbon.PathPrefix("servers", true))
	assert.Equal(t, "", carbon.PathPrefix("", false))
}

func TestFrameBuild(t *testing.T) {
	cfg := munin.NewGroupConfig()
	cfg.Set("graph_category", "system")

	frame := carbon.Frame{Timestamp: 1700000000, Plugin: "cpu", DisplayName: "web1", Prefix: "servers."}
	batch, dropped := frame.Build(cfg, samplesOf("user", "10", "sys", "5"), zaptest.NewLogger(t))

	assert.Zero(t, dropped)
	assert.Equal(t, carbon.Batch{
		{Path: "servers.web1.system.cpu.user", Timestamp: 1700000000, Value: "10"},
		{Path: "servers.web1.system.cpu.sys", Timestamp: 1700000000, Value: "5"},
	}, batch)
}

func TestFrameBuildWithoutCategoryDropsMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := munin.NewGroupConfig()
	cfg.Set("graph_title", "Disk")

	frame := carbon.Frame{Timestamp: 1, Plugin: "disk", DisplayName: "web1"}
	batch, dropped := frame.Build(cfg, samplesOf("disk_sda.used", "70", "disk_sda.free", "30"), zap.New(core))

	assert.Empty(t, batch)
	assert.Equal(t, carbon.Drops{NoCategory: 2}, dropped)
	assert.Equal(t, 2, logs.FilterMessageSnippet("no graph_category").Len())
}

func TestFrameBuildDropsOnlyInvalidUTF8Metric(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	cfg := munin.NewGroupConfig()
	cfg.Set("graph_category", "system")

	frame := carbon.Frame{Timestamp: 7, Plugin: "cpu", DisplayName: "web1", Prefix: "servers."}
	batch, dropped := frame.Build(cfg, samplesOf("user", "10", "bad\xff", "1", "sys", "\xfe", "idle", "85"), zap.New(core))

	assert.Equal(t, carbon.Drops{InvalidUTF8: 2}, dropped)
	assert.Equal(t, 2, dropped.Total())
	assert.Equal(t, carbon.Batch{
		{Path: "servers.web1.system.cpu.user", Timestamp: 7, Value: "10"},
		{Path: "servers.web1.system.cpu.idle", Timestamp: 7, Value: "85"},
	}, batch)
	assert.Equal(t, 2, logs.FilterMessageSnippet("not valid utf-8").Len())

	_, err := carbon.EncodeBatch(batch)
	assert.NoError(t, err)
}

func TestEncodeBatchRoundTrip(t *testing.T) {
	batch := carbon.Batch{
		{Path: "servers.web1.system.cpu.user", Timestamp: 1700000000, Value: "10"},
		{Path: "servers.web1.disk.diskstats.disk_sda.used", Timestamp: math.MaxInt32 + 10, Value: "70.5"},
		{Path: "servers.web1.system.load.load", Timestamp: -5, Value: "0.42"},
	}
	payload, err := carbon.EncodeBatch(batch)
	require.NoError(t, err)
	assert.Equal(t, byte(0x80), payload[0], "protocol header")
	assert.Equal(t, byte('.'), payload[len(payload)-1], "STOP opcode")

	decoded, err := testutil.DecodePickle(payload)
	require.NoError(t, err)
	require.Len(t, decoded, len(batch))
	for i, m := range batch {
		assert.Equal(t, m.Path, decoded[i].Path)
		assert.Equal(t, m.Timestamp, decoded[i].Timestamp)
		assert.Equal(t, m.Value, decoded[i].Value)
	}
}

func TestEncodeLargeBatchSplitsAppends(t *testing.T) {
	batch := make(carbon.Batch, 2500)
	for i := range batch {
		batch[i] = carbon.Metric{Path: "a.b", Timestamp: int64(i), Value: "1"}
	}
	payload, err := carbon.EncodeBatch(batch)
	require.NoError(t, err)

	decoded, err := testutil.DecodePickle(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 2500)
	assert.Equal(t, int64(2499), decoded[2499].Timestamp)
}

func TestEncodeBatchRejectsInvalidUTF8(t *testing.T) {
	_, err := carbon.EncodeBatch(carbon.Batch{{Path: "a.\xff", Timestamp: 1, Value: "1"}})
	assert.Error(t, err)
}

func TestFramePayloadHeader(t *testing.T) {
	msg, err := carbon.FramePayload([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, uint32(6), binary.BigEndian.Uint32(msg[:4]))
	assert.Equal(t, "abcdef", string(msg[4:]))
}

func TestSinkSend(t *testing.T) {
	server := testutil.NewCarbon(t)
	sink, err := carbon.Dial(context.Background(), server.Addr(), time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Send("cpu", carbon.Batch{
		{Path: "servers.web1.system.cpu.user", Timestamp: 42, Value: "10"},
	}))
	require.NoError(t, sink.Send("mem", carbon.Batch{
		{Path: "servers.web1.system.mem.free", Timestamp: 42, Value: "1024"},
	}))
	require.NoError(t, sink.Send("empty", nil))

	got := server.WaitMetrics(2, 2*time.Second)
	assert.Equal(t, []testutil.Metric{
		{Path: "servers.web1.system.cpu.user", Timestamp: 42, Value: "10"},
		{Path: "servers.web1.system.mem.free", Timestamp: 42, Value: "1024"},
	}, got)
	assert.Len(t, server.Frames(), 2, "one frame per send")
}

func TestSinkSendAfterCloseReturnsError(t *testing.T) {
	server := testutil.NewCarbon(t)
	sink, err := carbon.Dial(context.Background(), server.Addr(), time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	assert.Error(t, sink.Send("cpu", carbon.Batch{{Path: "a", Timestamp: 1, Value: "1"}}))
}

func TestNoopSinkDoesNotDial(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := carbon.NewNoopSink(zap.New(core))

	assert.True(t, sink.Noop())
	require.NoError(t, sink.Send("cpu", carbon.Batch{{Path: "a", Timestamp: 1, Value: "1"}}))
	require.NoError(t, sink.Close())
	assert.Equal(t, 1, logs.FilterMessageSnippet("NOOP").Len())
}
