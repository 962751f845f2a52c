package carbon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout carbon 连接与写入超时
const DefaultTimeout = 10 * time.Second

// Sink carbon pickle 端口的发送端；noop 模式下只记录日志
type Sink struct {
	addr    string
	conn    net.Conn
	noop    bool
	timeout time.Duration
	log     *zap.Logger

	closeOnce sync.Once
}

// Dial 连接 carbon（addr 形如 "host:2004"）
func Dial(ctx context.Context, addr string, timeout time.Duration, log *zap.Logger) (*Sink, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to carbon %s: %w", addr, err)
	}
	return &Sink{addr: addr, conn: conn, timeout: timeout, log: log}, nil
}

// NewNoopSink 创建不发送数据的 Sink，用于试运行
func NewNoopSink(log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{noop: true, log: log}
}

// Noop 是否为试运行模式
func (s *Sink) Noop() bool { return s.noop }

// Send 编码并发送 batch。socket 错误会记录日志并返回，由调用方决定是否继续
func (s *Sink) Send(plugin string, batch Batch) error {
	if len(batch) == 0 {
		return nil
	}
	if s.noop {
		s.log.Info("NOOP: not sending data to carbon",
			zap.String("plugin", plugin), zap.Int("metrics", len(batch)))
		for _, m := range batch {
			s.log.Debug("NOOP metric",
				zap.String("metric", m.Path),
				zap.Int64("timestamp", m.Timestamp),
				zap.String("value", m.Value))
		}
		return nil
	}

	payload, err := EncodeBatch(batch)
	if err != nil {
		s.log.Error("unable to encode batch", zap.String("plugin", plugin), zap.Error(err))
		return err
	}
	msg, err := FramePayload(payload)
	if err != nil {
		s.log.Error("unable to frame batch", zap.String("plugin", plugin), zap.Error(err))
		return err
	}

	s.log.Info("sending plugin data to carbon",
		zap.String("plugin", plugin), zap.String("carbon", s.addr), zap.Int("metrics", len(batch)))
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		s.log.Error("unable to send data to carbon", zap.String("plugin", plugin), zap.Error(err))
		return fmt.Errorf("send to carbon %s: %w", s.addr, err)
	}
	if _, err := s.conn.Write(msg); err != nil {
		s.log.Error("unable to send data to carbon", zap.String("plugin", plugin), zap.Error(err))
		return fmt.Errorf("send to carbon %s: %w", s.addr, err)
	}
	s.log.Debug("finished sending plugin data to carbon", zap.String("plugin", plugin))
	return nil
}

// Close 关闭连接，可重复调用
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.conn != nil {
			err = s.conn.Close()
		}
	})
	return err
}
