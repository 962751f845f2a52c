package testutil

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// Carbon 假 carbon pickle 接收端，解码收到的每个帧
type Carbon struct {
	t  testing.TB
	ln net.Listener

	mu      sync.Mutex
	frames  [][]Metric
	conns   int
	updated chan struct{}
	wg      sync.WaitGroup
	active  map[net.Conn]struct{}
}

// NewCarbon 在 127.0.0.1 随机端口启动假 carbon，测试结束自动关闭
func NewCarbon(t testing.TB) *Carbon {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := &Carbon{t: t, ln: ln, updated: make(chan struct{}, 1)}
	c.wg.Add(1)
	go c.serve()
	t.Cleanup(c.Close)
	return c
}

// Addr "host:port" 形式的监听地址
func (c *Carbon) Addr() string { return c.ln.Addr().String() }

// Frames 收到的帧（每帧对应一次 Send）
func (c *Carbon) Frames() [][]Metric {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]Metric, len(c.frames))
	copy(out, c.frames)
	return out
}

// Metrics 所有帧中的采样点
func (c *Carbon) Metrics() []Metric {
	var out []Metric
	for _, f := range c.Frames() {
		out = append(out, f...)
	}
	return out
}

// Connections 已接受的连接数
func (c *Carbon) Connections() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conns
}

// WaitMetrics 等待至少收到 n 个采样点
func (c *Carbon) WaitMetrics(n int, timeout time.Duration) []Metric {
	c.t.Helper()
	deadline := time.After(timeout)
	for {
		if m := c.Metrics(); len(m) >= n {
			return m
		}
		select {
		case <-c.updated:
		case <-deadline:
			c.t.Fatalf("timed out waiting for %d metrics, got %d", n, len(c.Metrics()))
			return nil
		}
	}
}

// Close 停止监听
func (c *Carbon) Close() {
	_ = c.ln.Close()
	c.mu.Lock()
	for conn := range c.active {
		_ = conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Carbon) serve() {
	defer c.wg.Done()
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.conns++
		if c.active == nil {
			c.active = make(map[net.Conn]struct{})
		}
		c.active[conn] = struct{}{}
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handle(conn)
		}()
	}
}

func (c *Carbon) handle(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		c.mu.Lock()
		delete(c.active, conn)
		c.mu.Unlock()
	}()
	var header [4]byte
	for {
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return
		}
		payload := make([]byte, binary.BigEndian.Uint32(header[:]))
		if _, err := io.ReadFull(conn, payload); err != nil {
			c.t.Logf("fake carbon: short payload: %v", err)
			return
		}
		metrics, err := DecodePickle(payload)
		if err != nil {
			c.t.Logf("fake carbon: decode: %v", err)
			return
		}
		c.mu.Lock()
		c.frames = append(c.frames, metrics)
		c.mu.Unlock()
		select {
		case c.updated <- struct{}{}:
		default:
		}
	}
}
