package config

import "time"

// Target 一个 munin-node 的最终采集参数（hosts 覆盖值 + poller 默认值）
type Target struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	DisplayName        string        `json:"display_name,omitempty"`
	Carbon             string        `json:"carbon,omitempty"`
	Filter             string        `json:"filter"`
	Interval           time.Duration `json:"interval"`
	Timeout            time.Duration `json:"timeout"`
	Prefix             string        `json:"prefix"`
	NoPrefix           bool          `json:"no_prefix"`
	NoOp               bool          `json:"noop"`
	StopOnConnectError bool          `json:"stop_on_connect_error"`
}

// Aggregate 是否需要发送数据（配置了 carbon 或 noop 模式）
func (t Target) Aggregate() bool {
	return t.Carbon != "" || t.NoOp
}

// Targets 展开所有需要采集的主机；hosts 为空时只采集 poller.host
func (c *Config) Targets() []Target {
	if len(c.Hosts) == 0 {
		return []Target{c.Poller.target()}
	}
	targets := make([]Target, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		t := c.Poller.target()
		t.Host = h.Host
		if h.DisplayName != "" {
			t.DisplayName = h.DisplayName
		}
		if h.Port != 0 {
			t.Port = h.Port
		}
		if h.Carbon != "" {
			t.Carbon = h.Carbon
		}
		if h.Filter != "" {
			t.Filter = h.Filter
		}
		if h.Interval != nil {
			t.Interval = *h.Interval
		}
		if h.Prefix != "" {
			t.Prefix = h.Prefix
		}
		if h.NoPrefix != nil {
			t.NoPrefix = *h.NoPrefix
		}
		if h.NoOp != nil {
			t.NoOp = *h.NoOp
		}
		targets = append(targets, t)
	}
	return targets
}

func (p PollerConfig) target() Target {
	return Target{
		Host:               p.Host,
		Port:               p.Port,
		DisplayName:        p.DisplayName,
		Carbon:             p.Carbon,
		Filter:             p.Filter,
		Interval:           p.Interval,
		Timeout:            p.Timeout,
		Prefix:             p.Prefix,
		NoPrefix:           p.NoPrefix,
		NoOp:               p.NoOp,
		StopOnConnectError: p.StopOnConnectError,
	}
}
