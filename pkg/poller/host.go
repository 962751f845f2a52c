package poller

import "strings"

// Host 一个被采集的 munin-node
//
// Address 为实际连接的地址；RemoteNode 非空时通过 Address 上的 munin-node
// 查询转发节点（配置写法 host:remotenode）。
type Host struct {
	Address     string
	RemoteNode  string
	DisplayName string
	Port        int

	override bool
	adopted  bool
}

// NewHost 解析 fqdn[:remotenode]，displayOverride 非空时固定显示名
func NewHost(hostSpec string, port int, displayOverride string) Host {
	address, remote, _ := strings.Cut(hostSpec, ":")
	h := Host{Address: address, RemoteNode: remote, Port: port}

	switch {
	case displayOverride != "":
		h.DisplayName = firstLabel(displayOverride)
		h.override = true
	case remote != "":
		h.DisplayName = firstLabel(remote)
	default:
		h.DisplayName = firstLabel(address)
	}
	return h
}

// Forwarded 是否查询转发节点
func (h *Host) Forwarded() bool { return h.RemoteNode != "" }

// AdoptNodeName 首次握手后用 banner 中的节点名替换显示名，只生效一次
// 配置了 display_name 时不替换；返回是否发生了替换
func (h *Host) AdoptNodeName(name string) bool {
	if h.override || h.adopted {
		return false
	}
	h.adopted = true
	if name == "" {
		return false
	}
	h.DisplayName = firstLabel(name)
	return true
}

func firstLabel(name string) string {
	label, _, _ := strings.Cut(name, ".")
	return label
}
