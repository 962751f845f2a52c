// Package carbon 负责把 munin 采样转换为 Graphite 指标路径，
// 并以 pickle + 长度前缀的格式发送到 carbon 的 pickle 端口。
package carbon

import (
	"unicode/utf8"

	"github.com/munin-relay/pkg/munin"
	"go.uber.org/zap"
)

// Metric 单个 Graphite 采样点
type Metric struct {
	Path      string
	Timestamp int64
	Value     string
}

// Batch 一次发送的采样点，顺序与 fetch 顺序一致
type Batch []Metric

// Frame 构造指标路径所需的上下文（同一插件同一周期共享）
type Frame struct {
	Timestamp   int64
	Plugin      string
	DisplayName string
	RemoteNode  string
	Prefix      string
}

// Drops Build 丢弃的采样数，按原因区分
type Drops struct {
	NoCategory  int // 组配置缺少 graph_category
	InvalidUTF8 int // 路径或值不是合法 UTF-8，pickle 无法编码
}

// Total 丢弃总数
func (d Drops) Total() int { return d.NoCategory + d.InvalidUTF8 }

// PathPrefix 根据配置返回指标路径前缀："servers." 或 ""
func PathPrefix(prefix string, noPrefix bool) string {
	if noPrefix || prefix == "" {
		return ""
	}
	return prefix + "."
}

// Build 为一个 MultigraphKey 的采样生成指标：
// prefix + display + "." + graph_category + "." + plugin + "." + key。
// 缺少 graph_category 时逐条丢弃并记录日志；路径或值不是合法 UTF-8 的采样单独丢弃，
// 同组其余采样照常发送。
func (f Frame) Build(cfg *munin.GroupConfig, samples *munin.Samples, log *zap.Logger) (Batch, Drops) {
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("creating metrics for plugin",
		zap.String("plugin", f.Plugin), zap.Int64("timestamp", f.Timestamp))

	var (
		batch    = make(Batch, 0, samples.Len())
		dropped  Drops
		category string
		ok       bool
	)
	if cfg != nil {
		category, ok = cfg.Category()
	}
	for _, key := range samples.Keys() {
		value, _ := samples.Get(key)
		if !ok {
			dropped.NoCategory++
			log.Info("plugin config has no graph_category, dropping metric",
				zap.String("plugin", f.Plugin),
				zap.String("metric", key),
				zap.String("node", f.RemoteNode))
			continue
		}
		path := f.Prefix + f.DisplayName + "." + category + "." + f.Plugin + "." + key
		if !utf8.ValidString(path) || !utf8.ValidString(value) {
			dropped.InvalidUTF8++
			log.Warn("metric is not valid utf-8, dropping",
				zap.String("plugin", f.Plugin),
				zap.ByteString("metric", []byte(path)),
				zap.ByteString("value", []byte(value)))
			continue
		}
		log.Debug("creating metric", zap.String("metric", path), zap.String("value", value))
		batch = append(batch, Metric{Path: path, Timestamp: f.Timestamp, Value: value})
	}
	return batch, dropped
}
