// Package testutil 提供测试用的假 munin-node 与假 carbon 服务端。
package testutil

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// DefaultBanner 假 munin-node 的握手行
const DefaultBanner = "# munin node at web1.example.com"

// Agent 基于 TCP 的假 munin-node，按命令返回预设响应
type Agent struct {
	t      testing.TB
	ln     net.Listener
	banner string

	mu        sync.Mutex
	responses map[string]string
	commands  []string
	conns     int
	wg        sync.WaitGroup
	active    map[net.Conn]struct{}
}

// NewAgent 在 127.0.0.1 随机端口启动假 munin-node，测试结束自动关闭。
// responses 的 key 是完整命令（如 "fetch cpu"），value 是原样写回的响应文本。
func NewAgent(t testing.TB, banner string, responses map[string]string) *Agent {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := &Agent{t: t, ln: ln, banner: banner, responses: make(map[string]string)}
	for k, v := range responses {
		a.responses[k] = v
	}
	a.wg.Add(1)
	go a.serve()
	t.Cleanup(a.Close)
	return a
}

// Host 监听地址
func (a *Agent) Host() string {
	host, _, _ := net.SplitHostPort(a.ln.Addr().String())
	return host
}

// Port 监听端口
func (a *Agent) Port() int {
	_, port, _ := net.SplitHostPort(a.ln.Addr().String())
	p, _ := strconv.Atoi(port)
	return p
}

// SetResponse 修改某条命令的响应
func (a *Agent) SetResponse(command, response string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.responses[command] = response
}

// Commands 收到的全部命令（按顺序）
func (a *Agent) Commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.commands...)
}

// CountCommand 统计某条命令出现次数
func (a *Agent) CountCommand(command string) int {
	n := 0
	for _, c := range a.Commands() {
		if c == command {
			n++
		}
	}
	return n
}

// Connections 已接受的连接数
func (a *Agent) Connections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conns
}

// Close 停止监听并等待连接处理结束
func (a *Agent) Close() {
	_ = a.ln.Close()
	a.mu.Lock()
	for conn := range a.active {
		_ = conn.Close()
	}
	a.mu.Unlock()
	a.wg.Wait()
}

func (a *Agent) serve() {
	defer a.wg.Done()
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			return
		}
		a.mu.Lock()
		a.conns++
		if a.active == nil {
			a.active = make(map[net.Conn]struct{})
		}
		a.active[conn] = struct{}{}
		a.mu.Unlock()
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.handle(conn)
		}()
	}
}

func (a *Agent) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		a.mu.Lock()
		delete(a.active, conn)
		a.mu.Unlock()
	}()
	if _, err := io.WriteString(conn, a.banner+"\n"); err != nil {
		return
	}
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				a.t.Logf("fake agent read: %v", err)
			}
			return
		}
		cmd := strings.TrimSpace(line)
		if cmd == "quit" {
			return
		}
		a.mu.Lock()
		a.commands = append(a.commands, cmd)
		resp, ok := a.responses[cmd]
		a.mu.Unlock()
		if !ok {
			resp = defaultResponse(cmd)
		}
		if _, err := io.WriteString(conn, resp); err != nil {
			return
		}
	}
}

func defaultResponse(cmd string) string {
	switch {
	case strings.HasPrefix(cmd, "cap "):
		return "cap multigraph\n"
	case strings.HasPrefix(cmd, "config "), strings.HasPrefix(cmd, "fetch "):
		return "# Unknown service\n.\n"
	case strings.HasPrefix(cmd, "list"):
		return "\n"
	default:
		return "# Unknown command. Try cap, list, nodes, config, fetch, version or quit\n"
	}
}
