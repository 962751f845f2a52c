package relay

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/munin-relay/cmd/server"
	"github.com/munin-relay/pkg/config"
	"github.com/munin-relay/pkg/logger"
	"github.com/munin-relay/pkg/registers"
	"github.com/munin-relay/pkg/signal"
	"github.com/munin-relay/pkg/util"
)

var defaultCfg = config.NewDefaultConfig()

// NewRootCmd 创建根命令，flag 分组注册：poller.* / server.* / log.*
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   util.ProjectName,
		Short: "Poll munin-node agents and relay their values to carbon via the pickle protocol",
		Long: "Poll one or more munin-node agents on a fixed interval and forward every value to\n" +
			"carbon/graphite as <prefix>.<host>.<category>.<plugin>.<field> over the pickle protocol.\n" +
			"SIGHUP re-lists plugins on the next cycle, SIGINT/SIGTERM stop gracefully.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithCli(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runRelay(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "-> Config file (.yaml/.json/.toml, or legacy .ini/.conf host list) | 配置文件路径")
	initPollerFlags(root)
	initServerFlags(root)
	initLogFlags(root)

	root.AddCommand(newConfigCmd())
	return root
}

// Execute 入口
func Execute() {
	cobra.CheckErr(NewRootCmd().Execute())
}

func runRelay(ctx context.Context, cfg *config.Config) error {
	// 初始化日志
	log, err := logger.InitLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	// 程序退出时刷盘
	defer logger.Sync()

	if !cfg.Log.Syslog {
		util.PrintBanner(util.ProjectName, "ColorBlue")
	}
	log.Info("log initialization successful",
		zap.String("level", cfg.Log.Level),
		zap.String("format", cfg.Log.Format),
		zap.String("path", cfg.Log.Path),
		zap.Bool("syslog", cfg.Log.Syslog))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// 进程指标只有开启 HTTP 时才有意义
	registry, agent, err := registers.InitPromRegistry(ctx, cfg.Server.Enable, cfg)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}
	log.Info("relay started", zap.Int("hosts", len(cfg.Targets())))

	var httpServer *server.Server
	if cfg.Server.Enable {
		httpServer = server.NewHTTPServer(cfg, log.Named("http"), registry, agent)
		if err := httpServer.Start(); err != nil {
			_ = agent.Shutdown(context.Background())
			return fmt.Errorf("start HTTP server: %w", err)
		}
	}

	// 阻塞直到收到退出信号或所有 poller 结束
	signal.WaitForShutdown(log, agent, func() error {
		if httpServer == nil {
			return nil
		}
		return httpServer.Shutdown()
	})
	return nil
}
