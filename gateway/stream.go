package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tastytrade-brokerage/infrastructure/logger"
)

// session 单次连接生命周期；连接就绪后调用 connected，返回即断开。
type session func(ctx context.Context, connected func()) error

// wsConn 带写锁的连接，gorilla 只允许单个并发写。
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}

// reconnectLoop 断线后按指数退避重连；*StreamError 与 ctx 取消直接返回。
// maxRetries 为连续失败上限，0 表示不限。
func reconnectLoop(ctx context.Context, name string, maxRetries int, log *logger.Logger, m Metrics, run session) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	failures := 0

	for {
		err := run(ctx, func() {
			b.Reset()
			failures = 0
			m.RecordWSConnection(name)
			log.LogStream("connected", name, nil)
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.RecordWSDisconnect(name)

		var streamErr *StreamError
		if errors.As(err, &streamErr) {
			log.Error("stream protocol error", zap.String("stream", name), zap.Error(err))
			return err
		}

		failures++
		if maxRetries > 0 && failures > maxRetries {
			return fmt.Errorf("%s stream: reconnect failed after %d retries: %w", name, maxRetries, err)
		}
		sleep := b.NextBackOff()
		log.Warn("stream disconnected, reconnecting",
			zap.String("stream", name),
			zap.Int("attempt", failures),
			zap.Duration("backoff", sleep),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// keepalive 周期发送心跳直到 ctx 结束；发送失败时关闭连接让读循环退出。
func keepalive(ctx context.Context, c *wsConn, every time.Duration, msg func() interface{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeJSON(msg()); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}

// closeOnDone ctx 结束时关闭连接以打断阻塞的 ReadMessage。
func closeOnDone(ctx context.Context, c *wsConn) {
	<-ctx.Done()
	c.close()
}
