package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server" comment:"HTTP服务配置（/metrics /health /hosts）"`
	Poller PollerConfig `yaml:"poller" mapstructure:"poller" comment:"采集默认值，hosts 中未设置的字段使用这里的值"`
	Hosts  []HostConfig `yaml:"hosts" mapstructure:"hosts" validate:"dive" comment:"munin-node 主机列表"`
	Log    ZapLogConfig `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig HTTP服务配置（超时统一为time.Duration，支持"30s"解析）
type ServerConfig struct {
	Enable       bool          `yaml:"enable" mapstructure:"enable" env:"HTTP_ENABLE" comment:"是否启动HTTP服务" default:"false"`
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"HTTP_READ_TIMEOUT" validate:"required,gt=0" comment:"读取超时时间（如30s）"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"HTTP_WRITE_TIMEOUT" validate:"required,gt=0" comment:"写入超时时间（如30s）"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" validate:"required,gt=0" comment:"空闲连接超时时间（如60s）"`
	HostStats    bool          `yaml:"host_stats" mapstructure:"host_stats" env:"HTTP_HOST_STATS" comment:"是否暴露relay所在主机的负载指标" default:"false"`
}

// PollerConfig 采集默认配置（命令行 / 单主机模式也使用它）
type PollerConfig struct {
	Host               string        `yaml:"host" mapstructure:"host" env:"POLLER_HOST" validate:"required" comment:"munin-node 地址，可写 host:remotenode 查询转发节点" default:"localhost"`
	Port               int           `yaml:"port" mapstructure:"port" env:"POLLER_PORT" validate:"required,gt=0,lte=65535" comment:"munin-node 端口" default:"4949"`
	DisplayName        string        `yaml:"display_name" mapstructure:"display_name" env:"POLLER_DISPLAY_NAME" comment:"覆盖 Graphite 中的主机名"`
	Carbon             string        `yaml:"carbon" mapstructure:"carbon" env:"POLLER_CARBON" validate:"omitempty,hostname_port" comment:"carbon pickle 地址（如 localhost:2004），为空不发送"`
	Filter             string        `yaml:"filter" mapstructure:"filter" env:"POLLER_FILTER" comment:"插件名过滤正则（不区分大小写）" default:".*"`
	Interval           time.Duration `yaml:"interval" mapstructure:"interval" env:"POLLER_INTERVAL" validate:"gte=0" comment:"采集间隔，0 表示只采集一次" default:"60s"`
	Timeout            time.Duration `yaml:"timeout" mapstructure:"timeout" env:"POLLER_TIMEOUT" validate:"required,gt=0" comment:"连接与读写超时" default:"10s"`
	Prefix             string        `yaml:"prefix" mapstructure:"prefix" env:"POLLER_PREFIX" comment:"Graphite 指标前缀" default:"servers"`
	NoPrefix           bool          `yaml:"no_prefix" mapstructure:"no_prefix" env:"POLLER_NO_PREFIX" comment:"不使用指标前缀" default:"false"`
	NoOp               bool          `yaml:"noop" mapstructure:"noop" env:"POLLER_NOOP" comment:"只记录日志，不发送到 carbon" default:"false"`
	StopOnConnectError bool          `yaml:"stop_on_connect_error" mapstructure:"stop_on_connect_error" env:"POLLER_STOP_ON_CONNECT_ERROR" comment:"连接 munin-node 失败时停止该主机的采集" default:"false"`
}

// HostConfig 单个 munin-node 配置，nil / 空值表示使用 PollerConfig 中的默认值
type HostConfig struct {
	Host        string         `yaml:"host" mapstructure:"host" validate:"required" comment:"fqdn[:remotenode]"`
	Port        int            `yaml:"port,omitempty" mapstructure:"port" validate:"omitempty,gt=0,lte=65535"`
	DisplayName string         `yaml:"display_name,omitempty" mapstructure:"display_name"`
	Carbon      string         `yaml:"carbon,omitempty" mapstructure:"carbon" validate:"omitempty,hostname_port"`
	Filter      string         `yaml:"filter,omitempty" mapstructure:"filter"`
	Interval    *time.Duration `yaml:"interval,omitempty" mapstructure:"interval"`
	Prefix      string         `yaml:"prefix,omitempty" mapstructure:"prefix"`
	NoPrefix    *bool          `yaml:"no_prefix,omitempty" mapstructure:"no_prefix"`
	NoOp        *bool          `yaml:"noop,omitempty" mapstructure:"noop"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error" comment:"日志级别" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"控制台日志格式（json/console）" default:"console"`
	Path      string `yaml:"path" mapstructure:"path" env:"LOG_PATH" comment:"日志文件目录，为空不写文件" default:""`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" env:"LOG_MAX_BACKUP" validate:"gte=0" comment:"日志文件最大备份数" default:"30"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"gte=0" comment:"日志文件最大保存天数" default:"7"`
	Syslog    bool   `yaml:"syslog" mapstructure:"syslog" env:"LOG_SYSLOG" comment:"输出到 syslog 而不是控制台" default:"false"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空指针/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enable:       false,
			Addr:         "0.0.0.0:9108",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Poller: PollerConfig{
			Host:     "localhost",
			Port:     4949,
			Filter:   ".*",
			Interval: 60 * time.Second,
			Timeout:  10 * time.Second,
			Prefix:   "servers",
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "console",
			Path:      "",
			MaxBackup: 30,
			MaxAge:    7,
		},
	}
}

// LoadConfigWithCli 支持 time.Duration，(Flags + YAML/INI + ENV)
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()

	// 1. 绑定 Cobra Flags → Viper
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	// 2. 解析配置文件 (--config)，INI 为旧版主机列表格式
	configFile, _ := cmd.Flags().GetString("config")
	var legacyHosts []HostConfig
	if configFile != "" {
		if IsLegacyFile(configFile) {
			hosts, err := LoadLegacyHosts(configFile)
			if err != nil {
				return nil, err
			}
			legacyHosts = hosts
		} else {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	// 3. 绑定环境变量 ENV -> Viper （POLLER_CARBON -> poller.carbon）
	v.SetEnvPrefix("MUNIN_RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// 4. 解码反序列化到结构体（支持 time.Duration）
	if err := decode(v.AllSettings(), cfg); err != nil {
		return nil, err
	}
	if len(legacyHosts) > 0 {
		cfg.Hosts = append(cfg.Hosts, legacyHosts...)
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFile 只从文件加载（不处理命令行参数），主要用于测试和工具
func LoadFile(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if IsLegacyFile(path) {
		hosts, err := LoadLegacyHosts(path)
		if err != nil {
			return nil, err
		}
		cfg.Hosts = hosts
	} else {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := decode(v.AllSettings(), cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decode(settings map[string]any, cfg *Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// IsLegacyFile 扩展名为 .ini/.conf/.cfg 时按旧版主机列表格式解析
func IsLegacyFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".conf", ".cfg":
		return true
	}
	return false
}

// Validate 配置校验
func (c *Config) Validate() error {
	err := valid.Struct(c)
	if err != nil {
		return err
	}
	// 	1,校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验采集配置
	if err := c.Poller.Validate(); err != nil {
		return err
	}
	for i := range c.Hosts {
		if err := c.Hosts[i].Validate(); err != nil {
			return fmt.Errorf("hosts[%d]: %w", i, err)
		}
	}

	// 	3，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
