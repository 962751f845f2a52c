package relay

import (
	"github.com/spf13/cobra"
)

func initPollerFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "poller."

	f.String(p+"host", defaultCfg.Poller.Host, "-> munin-node address, host:remotenode queries a forwarded node | munin-node 地址")
	f.Int(p+"port", defaultCfg.Poller.Port, "-> munin-node port | munin-node 端口")
	f.String(p+"display_name", defaultCfg.Poller.DisplayName, "-> Host name used in graphite paths | Graphite 中的主机名")
	f.String(p+"carbon", defaultCfg.Poller.Carbon, "-> Carbon pickle address host:port, empty disables sending | carbon 地址")
	f.String(p+"filter", defaultCfg.Poller.Filter, "-> Case-insensitive regexp on plugin names | 插件名过滤正则")
	f.Duration(p+"interval", defaultCfg.Poller.Interval, "-> Polling interval, 0 polls once and exits | 采集间隔")
	f.Duration(p+"timeout", defaultCfg.Poller.Timeout, "-> Connect/read timeout | 连接与读写超时")
	f.String(p+"prefix", defaultCfg.Poller.Prefix, "-> Graphite path prefix | 指标前缀")
	f.Bool(p+"no_prefix", defaultCfg.Poller.NoPrefix, "-> Do not prefix graphite paths | 不使用前缀")
	f.Bool(p+"noop", defaultCfg.Poller.NoOp, "-> Log metrics instead of sending them | 只记录不发送")
	f.Bool(p+"stop_on_connect_error", defaultCfg.Poller.StopOnConnectError, "-> Stop polling a host when it refuses connections | 连接失败时停止")
}

func initServerFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "server."

	f.Bool(p+"enable", defaultCfg.Server.Enable, "-> Serve /metrics /health /hosts | 启动HTTP服务")
	f.String(p+"addr", defaultCfg.Server.Addr, "-> HTTP listening address | HTTP监听地址")
	f.Duration(p+"read_timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration | 读取超时时间")
	f.Duration(p+"write_timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration | 写入超时时间")
	f.Duration(p+"idle_timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration | 空闲连接超时时间")
	f.Bool(p+"host_stats", defaultCfg.Server.HostStats, "-> Export load/cpu of the relay host | 暴露本机负载指标")
}

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "log."

	f.String(p+"level", defaultCfg.Log.Level, "-> Log level [debug,info,warn,error] | 日志级别")
	f.String(p+"format", defaultCfg.Log.Format, "-> Log format [console,json] | 日志格式")
	f.String(p+"path", defaultCfg.Log.Path, "-> Log file directory, empty disables file output | 日志路径")
	f.Int(p+"max_backup", defaultCfg.Log.MaxBackup, "-> Number of log backup files | 备份数量")
	f.Int(p+"max_age", defaultCfg.Log.MaxAge, "-> Maximum retention days of log files | 保存天数")
	f.Bool(p+"syslog", defaultCfg.Log.Syslog, "-> Log to syslog instead of stdout | 输出到 syslog")
}
