package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tastytrade-brokerage/infrastructure/logger"
)

const accountStreamName = "account"

// AccountHandler 账户推送回调，均在读循环所在的单一 goroutine 上调用。
type AccountHandler interface {
	OnOrder(o Order)
	OnBalance(b Balance)
	OnPosition(p Position)
}

// AccountStreamer 账户推送：connect 握手、30s 心跳、断线指数退避重连。
type AccountStreamer struct {
	URL        string
	Accounts   []string
	Auth       TokenProvider
	Dialer     *websocket.Dialer
	Heartbeat  time.Duration
	MaxRetries int
	Logger     *logger.Logger
	Metrics    Metrics

	handler     AccountHandler
	onConnected func()

	mu        sync.Mutex
	conn      *wsConn
	ready     chan struct{}
	readyOnce sync.Once
	requestID atomic.Int64
}

func NewAccountStreamer(url string, accounts []string, auth TokenProvider, h AccountHandler) *AccountStreamer {
	return &AccountStreamer{
		URL:       url,
		Accounts:  accounts,
		Auth:      auth,
		Dialer:    websocket.DefaultDialer,
		Heartbeat: 30 * time.Second,
		handler:   h,
		ready:     make(chan struct{}),
	}
}

// SetHandler 替换推送回调，须在 Run 之前调用
func (s *AccountStreamer) SetHandler(h AccountHandler) {
	s.handler = h
}

// SetConnectedHandler 每次（重）连接握手成功后回调，用于补同步订单状态。
func (s *AccountStreamer) SetConnectedHandler(fn func()) {
	s.onConnected = fn
}

// Ready 首次握手成功后关闭。
func (s *AccountStreamer) Ready() <-chan struct{} { return s.ready }

func (s *AccountStreamer) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *AccountStreamer) log() *logger.Logger {
	if s.Logger == nil {
		return logger.NewNop()
	}
	return s.Logger
}

func (s *AccountStreamer) metrics() Metrics {
	if s.Metrics == nil {
		return nopMetrics{}
	}
	return s.Metrics
}

// Run 阻塞直到 ctx 结束、协议错误或重连次数耗尽。
func (s *AccountStreamer) Run(ctx context.Context) error {
	return reconnectLoop(ctx, accountStreamName, s.MaxRetries, s.log(), s.metrics(), s.session)
}

func (s *AccountStreamer) session(ctx context.Context, connected func()) error {
	token, err := s.Auth.Token(ctx)
	if err != nil {
		return fmt.Errorf("account stream token: %w", err)
	}
	raw, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return fmt.Errorf("account stream dial: %w", err)
	}
	c := &wsConn{conn: raw}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go closeOnDone(sctx, c)

	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if err := c.writeJSON(s.action("connect", token, s.Accounts)); err != nil {
		return fmt.Errorf("account stream connect: %w", err)
	}
	go keepalive(sctx, c, s.Heartbeat, func() interface{} {
		return s.action("heartbeat", token, nil)
	})

	readTimeout := 2*s.Heartbeat + 10*time.Second
	for {
		_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := raw.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := parseAccountFrame(msg)
		if err != nil {
			s.log().Warn("account stream: bad frame", zap.Error(err), zap.ByteString("payload", msg))
			continue
		}
		if frame.isResponse() {
			if err := s.handleResponse(frame, connected); err != nil {
				return err
			}
			continue
		}
		s.dispatch(frame)
	}
}

type accountAction struct {
	Action    string      `json:"action"`
	Value     interface{} `json:"value,omitempty"`
	AuthToken string      `json:"auth-token"`
	RequestID int64       `json:"request-id"`
}

func (s *AccountStreamer) action(name, token string, value interface{}) accountAction {
	return accountAction{
		Action:    name,
		Value:     value,
		AuthToken: token,
		RequestID: s.requestID.Add(1),
	}
}

func (s *AccountStreamer) handleResponse(f accountFrame, connected func()) error {
	if f.Status == "error" {
		if f.Action == "heartbeat" {
			s.log().Warn("account stream heartbeat rejected", zap.String("message", f.Message))
			return nil
		}
		return &StreamError{Stream: accountStreamName, Action: f.Action, Message: f.Message}
	}
	if f.Action == "connect" {
		connected()
		s.readyOnce.Do(func() { close(s.ready) })
		if s.onConnected != nil {
			s.onConnected()
		}
	}
	return nil
}

// dispatch 按 type 分发通知；解析失败只记日志，不中断读循环。
func (s *AccountStreamer) dispatch(f accountFrame) {
	if s.handler == nil {
		return
	}
	switch f.Type {
	case accountTypeOrder:
		var o Order
		if err := json.Unmarshal(f.Data, &o); err != nil {
			s.log().Warn("account stream: bad order", zap.Error(err), zap.ByteString("payload", f.Data))
			return
		}
		s.handler.OnOrder(o)
	case accountTypeBalance:
		var b Balance
		if err := json.Unmarshal(f.Data, &b); err != nil {
			s.log().Warn("account stream: bad balance", zap.Error(err))
			return
		}
		s.handler.OnBalance(b)
	case accountTypePosition:
		var p Position
		if err := json.Unmarshal(f.Data, &p); err != nil {
			s.log().Warn("account stream: bad position", zap.Error(err))
			return
		}
		s.handler.OnPosition(p)
	default:
		s.log().Debug("account stream: ignored notification", zap.String("type", f.Type))
	}
}
