// Package munin 实现 munin-node 文本协议客户端：建立连接、按行读写、
// 解析 list/config/fetch 响应（含 multigraph 扩展）。
package munin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPort munin-node 默认端口
const DefaultPort = 4949

// DefaultTimeout 连接与单次读写的默认超时
const DefaultTimeout = 10 * time.Second

// ErrClosed 在已关闭的连接上读写
var ErrClosed = errors.New("munin: connection closed")

// ConnectError 建立连接或读取 banner 失败，对当前周期是致命错误
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to munin node %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Conn 到 munin-node 的单条 TCP 连接，请求/响应严格串行
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	banner  string

	closeOnce sync.Once
	closed    bool
	closeErr  error
}

// Dial 建立连接并读取握手 banner
func Dial(ctx context.Context, address string, port int, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(address, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: timeout}
	nc, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	c, err := NewConn(nc, timeout)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return c, nil
}

// NewConn 基于已有连接读取 banner，失败时关闭连接
func NewConn(nc net.Conn, timeout time.Duration) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Conn{
		conn:    nc,
		r:       bufio.NewReader(nc),
		w:       bufio.NewWriter(nc),
		timeout: timeout,
	}
	banner, err := c.ReadLine()
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("read banner: %w", err)
	}
	c.banner = banner
	return c, nil
}

// Banner 握手时 munin-node 返回的第一行
func (c *Conn) Banner() string { return c.banner }

// RemoteAddr 对端地址
func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// SendCommand 写入 "verb\n" 并刷新，不读取响应
func (c *Conn) SendCommand(verb string) error {
	if c.closed {
		return ErrClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := c.w.WriteString(verb + "\n"); err != nil {
		return fmt.Errorf("send %q: %w", verb, err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("send %q: %w", verb, err)
	}
	return nil
}

// ReadLine 读取一行并去掉行尾空白；对端关闭且无剩余数据时返回 io.EOF
func (c *Conn) ReadLine() (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return "", fmt.Errorf("set read deadline: %w", err)
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, " \t\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, " \t\r\n"), nil
}

// Records 返回当前响应的记录行扫描器，必须在下一条命令前消费完
func (c *Conn) Records() *RecordScanner {
	return &RecordScanner{conn: c}
}

// Close 关闭连接，可重复调用
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed = true
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RecordScanner 单次响应的记录行迭代器，只能遍历一次。
// 跳过 "#" 注释行，遇到 "."、空行或 EOF 结束。
type RecordScanner struct {
	conn *Conn
	line string
	err  error
	done bool
}

// Scan 前进到下一条记录行
func (s *RecordScanner) Scan() bool {
	for !s.done {
		line, err := s.conn.ReadLine()
		if err != nil {
			s.done = true
			if !errors.Is(err, io.EOF) {
				s.err = err
			}
			return false
		}
		switch {
		case line == "" || line == ".":
			s.done = true
			return false
		case strings.HasPrefix(line, "#"):
			continue
		}
		s.line = line
		return true
	}
	return false
}

// Text 当前记录行
func (s *RecordScanner) Text() string { return s.line }

// Err 非 EOF 的读取错误
func (s *RecordScanner) Err() error { return s.err }
