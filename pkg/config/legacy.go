package config

import (
	"fmt"
	"time"

	"github.com/go-ini/ini"
)

// LoadLegacyHosts 解析旧版 INI 主机列表
//
//	[servername]
//	host=fqdn[:remotenode]
//	port=4949
//	carbon=carbonhostfqdn:port
//	interval=60
//	prefix=servers
//	noprefix=True|False
//	noop=True|False
//	filter=^cpu.*
//
// 只有包含 host 的 section 才会成为主机，section 名作为 display name；
// 未出现的字段使用 poller 默认值。
func LoadLegacyHosts(path string) ([]HostConfig, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("read legacy config %s: %w", path, err)
	}

	var hosts []HostConfig
	for _, sec := range f.Sections() {
		if sec.Name() == ini.DefaultSection || !sec.HasKey("host") {
			continue
		}
		h := HostConfig{
			Host:        sec.Key("host").String(),
			DisplayName: sec.Name(),
			Carbon:      sec.Key("carbon").String(),
			Filter:      sec.Key("filter").String(),
			Prefix:      sec.Key("prefix").String(),
		}
		if sec.HasKey("port") {
			port, err := sec.Key("port").Int()
			if err != nil {
				return nil, fmt.Errorf("section [%s]: port: %w", sec.Name(), err)
			}
			h.Port = port
		}
		if sec.HasKey("interval") {
			seconds, err := sec.Key("interval").Int()
			if err != nil {
				return nil, fmt.Errorf("section [%s]: interval: %w", sec.Name(), err)
			}
			interval := time.Duration(seconds) * time.Second
			h.Interval = &interval
		}
		if sec.HasKey("noprefix") {
			noPrefix, err := sec.Key("noprefix").Bool()
			if err != nil {
				return nil, fmt.Errorf("section [%s]: noprefix: %w", sec.Name(), err)
			}
			h.NoPrefix = &noPrefix
		}
		if sec.HasKey("noop") {
			noOp, err := sec.Key("noop").Bool()
			if err != nil {
				return nil, fmt.Errorf("section [%s]: noop: %w", sec.Name(), err)
			}
			h.NoOp = &noOp
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}
