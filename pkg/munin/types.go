package munin

import "strings"

// MultigraphKey 插件输出中的子图名称，BaseKey 表示插件自身（无 multigraph 前缀）
type MultigraphKey string

// BaseKey 未声明 multigraph 时的默认分组
const BaseKey MultigraphKey = ""

// GraphCategoryKey 每个分组输出前必须存在的配置项
const GraphCategoryKey = "graph_category"

// String 返回可读的分组名，BaseKey 显示为 "-"
func (k MultigraphKey) String() string {
	if k == BaseKey {
		return "-"
	}
	return string(k)
}

// Prefix 返回该分组指标名的前缀（"disk_sda." 形式），BaseKey 为空
func (k MultigraphKey) Prefix() string {
	if k == BaseKey {
		return ""
	}
	return strings.TrimRight(string(k), ".") + "."
}

// ConfigEntry 配置项：标量值，或者（key 含 "." 时）按叶子名索引的嵌套值
type ConfigEntry struct {
	Value  string
	Fields map[string]string
}

// IsNested 是否为嵌套配置项
func (e ConfigEntry) IsNested() bool { return e.Fields != nil }

// GroupConfig 单个 MultigraphKey 下的配置
type GroupConfig struct {
	entries map[string]ConfigEntry
}

// NewGroupConfig 创建空的分组配置
func NewGroupConfig() *GroupConfig {
	return &GroupConfig{entries: make(map[string]ConfigEntry)}
}

// Set 写入一行 "key value"，key 含 "." 时拆分为 root/leaf 写入嵌套项
func (g *GroupConfig) Set(key, value string) {
	root, leaf, nested := strings.Cut(key, ".")
	if !nested {
		g.entries[key] = ConfigEntry{Value: value}
		return
	}
	entry := g.entries[root]
	if entry.Fields == nil {
		entry = ConfigEntry{Fields: make(map[string]string)}
	}
	entry.Fields[leaf] = value
	g.entries[root] = entry
}

// Get 返回配置项
func (g *GroupConfig) Get(key string) (ConfigEntry, bool) {
	e, ok := g.entries[key]
	return e, ok
}

// Scalar 返回标量配置值，嵌套项或不存在时 ok 为 false
func (g *GroupConfig) Scalar(key string) (string, bool) {
	e, ok := g.entries[key]
	if !ok || e.IsNested() {
		return "", false
	}
	return e.Value, true
}

// Nested 返回嵌套配置项的叶子值
func (g *GroupConfig) Nested(root, leaf string) (string, bool) {
	e, ok := g.entries[root]
	if !ok || !e.IsNested() {
		return "", false
	}
	v, ok := e.Fields[leaf]
	return v, ok
}

// Category 返回 graph_category
func (g *GroupConfig) Category() (string, bool) {
	return g.Scalar(GraphCategoryKey)
}

// Keys 返回所有配置项名称
func (g *GroupConfig) Keys() []string {
	keys := make([]string, 0, len(g.entries))
	for k := range g.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len 配置项数量
func (g *GroupConfig) Len() int { return len(g.entries) }

// PluginConfig 一次 config 交互的结果，按 MultigraphKey 分组并保留出现顺序
type PluginConfig struct {
	order  []MultigraphKey
	groups map[MultigraphKey]*GroupConfig
}

// NewPluginConfig 创建空的插件配置
func NewPluginConfig() *PluginConfig {
	return &PluginConfig{groups: make(map[MultigraphKey]*GroupConfig)}
}

// Open 开启一个新的分组（同名分组会被重置）
func (c *PluginConfig) Open(key MultigraphKey) *GroupConfig {
	if _, ok := c.groups[key]; !ok {
		c.order = append(c.order, key)
	}
	g := NewGroupConfig()
	c.groups[key] = g
	return g
}

// Group 返回指定分组
func (c *PluginConfig) Group(key MultigraphKey) (*GroupConfig, bool) {
	g, ok := c.groups[key]
	return g, ok
}

// Keys 按出现顺序返回分组
func (c *PluginConfig) Keys() []MultigraphKey {
	return append([]MultigraphKey(nil), c.order...)
}

// Len 分组数量
func (c *PluginConfig) Len() int { return len(c.order) }

// prune 存在子图时去掉空的基础分组
func (c *PluginConfig) prune() {
	base, ok := c.groups[BaseKey]
	if !ok || base.Len() > 0 || len(c.order) < 2 {
		return
	}
	delete(c.groups, BaseKey)
	c.order = removeKey(c.order, BaseKey)
}

// Samples 单个分组内的采样值（保留 fetch 返回的顺序）
type Samples struct {
	keys   []string
	values map[string]string
}

// NewSamples 创建空采样
func NewSamples() *Samples {
	return &Samples{values: make(map[string]string)}
}

// Set 写入采样值，重复 key 覆盖旧值但保留原位置
func (s *Samples) Set(key, value string) {
	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

// Get 返回采样值
func (s *Samples) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys 按顺序返回指标名
func (s *Samples) Keys() []string {
	return append([]string(nil), s.keys...)
}

// Len 采样数量
func (s *Samples) Len() int { return len(s.keys) }

// SampleSet 一次 fetch 的结果，按 MultigraphKey 分组
type SampleSet struct {
	order  []MultigraphKey
	groups map[MultigraphKey]*Samples
}

// NewSampleSet 创建空的采样集合
func NewSampleSet() *SampleSet {
	return &SampleSet{groups: make(map[MultigraphKey]*Samples)}
}

// Open 开启一个新的分组（同名分组会被重置）
func (s *SampleSet) Open(key MultigraphKey) *Samples {
	if _, ok := s.groups[key]; !ok {
		s.order = append(s.order, key)
	}
	g := NewSamples()
	s.groups[key] = g
	return g
}

// Group 返回指定分组
func (s *SampleSet) Group(key MultigraphKey) (*Samples, bool) {
	g, ok := s.groups[key]
	return g, ok
}

// Keys 按 fetch 顺序返回分组
func (s *SampleSet) Keys() []MultigraphKey {
	return append([]MultigraphKey(nil), s.order...)
}

// Len 分组数量
func (s *SampleSet) Len() int { return len(s.order) }

func (s *SampleSet) prune() {
	base, ok := s.groups[BaseKey]
	if !ok || base.Len() > 0 || len(s.order) < 2 {
		return
	}
	delete(s.groups, BaseKey)
	s.order = removeKey(s.order, BaseKey)
}

func removeKey(keys []MultigraphKey, key MultigraphKey) []MultigraphKey {
	out := keys[:0]
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
