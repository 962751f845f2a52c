package munin

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const multigraphPrefix = "multigraph "

var (
	reLeftRight = regexp.MustCompile(`^(\S+)\s+(\S+)$`)
	reNodeName  = regexp.MustCompile(`^# munin node at\s+(\S+)$`)
)

// Client munin-node 协议客户端，复用一条 Conn 完成一个采集周期内的全部请求
type Client struct {
	conn *Conn
	log  *zap.Logger
}

// NewClient 创建协议客户端
func NewClient(conn *Conn, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{conn: conn, log: log}
}

// NodeName 从 banner "# munin node at <name>" 中解析节点名
func (c *Client) NodeName() (string, bool) {
	return ParseNodeName(c.conn.Banner())
}

// ParseNodeName 解析 banner 中的节点名
func ParseNodeName(banner string) (string, bool) {
	m := reNodeName.FindStringSubmatch(banner)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// NegotiateMultigraph 声明支持 multigraph，忽略唯一的一行应答
func (c *Client) NegotiateMultigraph() error {
	if err := c.conn.SendCommand("cap multigraph"); err != nil {
		return err
	}
	if _, err := c.conn.ReadLine(); err != nil {
		return fmt.Errorf("read cap response: %w", err)
	}
	return nil
}

// ListPlugins 获取插件列表。targetNode 非空时查询转发节点；
// filter 为不区分大小写的正则，非法时记录告警并返回完整列表。
func (c *Client) ListPlugins(targetNode, filter string) ([]string, error) {
	verb := "list"
	if targetNode != "" {
		verb = "list " + targetNode
		c.log.Info("asking for plugin list of remote node", zap.String("node", targetNode))
	} else {
		c.log.Info("asking for plugin list of local node")
	}
	if err := c.conn.SendCommand(verb); err != nil {
		return nil, err
	}
	line, err := c.conn.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("read plugin list: %w", err)
	}

	var plugins []string
	for _, name := range strings.Split(line, " ") {
		if strings.TrimSpace(name) != "" {
			plugins = append(plugins, name)
		}
	}
	return FilterPlugins(plugins, filter, c.log), nil
}

// FilterPlugins 按正则过滤插件名，pattern 为空或非法时原样返回
func FilterPlugins(plugins []string, pattern string, log *zap.Logger) []string {
	if pattern == "" {
		return plugins
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		log.Warn("plugin filter is not a valid regular expression, using full list",
			zap.String("filter", pattern), zap.Error(err))
		return plugins
	}
	filtered := make([]string, 0, len(plugins))
	for _, p := range plugins {
		if re.MatchString(p) {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// FetchConfig 执行 "config <plugin>" 并按 multigraph 分组解析
func (c *Client) FetchConfig(plugin string) (*PluginConfig, error) {
	if err := c.conn.SendCommand("config " + plugin); err != nil {
		return nil, err
	}
	cfg := NewPluginConfig()
	group := cfg.Open(BaseKey)

	records := c.conn.Records()
	for records.Scan() {
		line := records.Text()
		if name, ok := multigraphName(line); ok {
			group = cfg.Open(name)
			continue
		}
		idx := strings.IndexAny(line, " \t")
		if idx < 0 {
			// 插件输出不规范，没有值
			c.log.Debug("skipping config line without value",
				zap.String("plugin", plugin), zap.String("line", line))
			continue
		}
		group.Set(line[:idx], strings.TrimLeft(line[idx:], " \t"))
	}
	if err := records.Err(); err != nil {
		return nil, fmt.Errorf("read config of %s: %w", plugin, err)
	}
	cfg.prune()
	return cfg, nil
}

// FetchValues 执行 "fetch <plugin>" 并按 multigraph 分组解析
func (c *Client) FetchValues(plugin string) (*SampleSet, error) {
	if err := c.conn.SendCommand("fetch " + plugin); err != nil {
		return nil, err
	}
	set := NewSampleSet()
	key := BaseKey
	group := set.Open(BaseKey)

	records := c.conn.Records()
	for records.Scan() {
		line := records.Text()
		if name, ok := multigraphName(line); ok {
			key = name
			group = set.Open(name)
			continue
		}
		// 部分插件在 key 和 value 之间有多个空格
		m := reLeftRight.FindStringSubmatch(line)
		if m == nil {
			c.log.Info("plugin returned invalid data",
				zap.String("plugin", plugin), zap.String("line", line))
			continue
		}
		field, _, _ := strings.Cut(m[1], ".")
		group.Set(key.Prefix()+field, m[2])
	}
	if err := records.Err(); err != nil {
		return nil, fmt.Errorf("read values of %s: %w", plugin, err)
	}
	set.prune()
	return set, nil
}

func multigraphName(line string) (MultigraphKey, bool) {
	if !strings.HasPrefix(line, multigraphPrefix) {
		return BaseKey, false
	}
	name := strings.TrimSpace(line[len(multigraphPrefix):])
	if name == "" {
		return BaseKey, false
	}
	return MultigraphKey(name), true
}
