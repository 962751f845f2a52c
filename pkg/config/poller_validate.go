package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if h.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 采集默认值校验
// filter 不合法不报错：运行时会退回完整插件列表并打印警告
func (p *PollerConfig) Validate() error {
	if err := valid.Struct(p); err != nil {
		return err
	}
	if err := validateHost(p.Host); err != nil {
		return fmt.Errorf("poller.host: %w", err)
	}
	if strings.ContainsAny(p.Prefix, " \t") {
		return fmt.Errorf("poller.prefix must not contain whitespace, got %q", p.Prefix)
	}
	return nil
}

// Validate 单主机配置校验
func (h *HostConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	if err := validateHost(h.Host); err != nil {
		return fmt.Errorf("host %q: %w", h.Host, err)
	}
	if h.Interval != nil && *h.Interval < 0 {
		return fmt.Errorf("host %q: interval must not be negative, got %s", h.Host, *h.Interval)
	}
	if strings.ContainsAny(h.Prefix, " \t") {
		return fmt.Errorf("host %q: prefix must not contain whitespace", h.Host)
	}
	return nil
}

// fqdn 或 fqdn:remotenode，各部分不能为空，不能包含空白
func validateHost(host string) error {
	if strings.TrimSpace(host) == "" {
		return errors.New("cannot be empty")
	}
	if strings.ContainsAny(host, " \t\r\n") {
		return fmt.Errorf("%q contains whitespace", host)
	}
	address, remote, found := strings.Cut(host, ":")
	if address == "" {
		return fmt.Errorf("%q has an empty address", host)
	}
	if found && remote == "" {
		return fmt.Errorf("%q has an empty remote node", host)
	}
	return nil
}
