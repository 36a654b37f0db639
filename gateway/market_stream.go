package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tastytrade-brokerage/infrastructure/logger"
)

const (
	marketStreamName = "market"
	feedChannel      = 1
	dxlinkVersion    = "0.1-DXF-JS/0.3.0"
)

// MarketHandler 行情回调，均在读循环 goroutine 上调用。
type MarketHandler interface {
	OnQuote(q Quote)
	OnTrade(t Trade)
	OnSummary(s Summary)
	OnCandle(c Candle)
}

// QuoteTokenSource 获取 DXLink 地址与令牌（RESTClient 实现）。
type QuoteTokenSource interface {
	QuoteToken(ctx context.Context) (QuoteToken, error)
}

// Subscription 行情订阅项；Candle 订阅可带 FromTime（毫秒）。
type Subscription struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	FromTime int64  `json:"fromTime,omitempty"`
}

type subKey struct {
	Type   string
	Symbol string
}

var defaultEventFields = map[string][]string{
	"Quote":   {"eventType", "eventSymbol", "bidPrice", "askPrice", "bidSize", "askSize", "bidTime", "askTime"},
	"Trade":   {"eventType", "eventSymbol", "price", "size", "dayVolume", "time"},
	"Summary": {"eventType", "eventSymbol", "dayOpenPrice", "dayHighPrice", "dayLowPrice", "prevDayClosePrice", "openInterest"},
	"Candle":  {"eventType", "eventSymbol", "eventFlags", "index", "time", "open", "high", "low", "close", "volume"},
}

// MarketStreamer DXLink 行情流：SETUP/AUTH/CHANNEL_REQUEST/FEED_SETUP 握手，重连后重新订阅。
type MarketStreamer struct {
	Tokens     QuoteTokenSource
	URL        string // 非空时覆盖 quote token 中的地址
	Dialer     *websocket.Dialer
	Keepalive  time.Duration
	MaxRetries int
	Logger     *logger.Logger
	Metrics    Metrics

	handler MarketHandler

	mu    sync.Mutex
	conn  *wsConn
	ready bool
	subs  map[subKey]Subscription
}

func NewMarketStreamer(tokens QuoteTokenSource, h MarketHandler) *MarketStreamer {
	return &MarketStreamer{
		Tokens:    tokens,
		Dialer:    websocket.DefaultDialer,
		Keepalive: 30 * time.Second,
		handler:   h,
		subs:      make(map[subKey]Subscription),
	}
}

func (s *MarketStreamer) log() *logger.Logger {
	if s.Logger == nil {
		return logger.NewNop()
	}
	return s.Logger
}

func (s *MarketStreamer) metrics() Metrics {
	if s.Metrics == nil {
		return nopMetrics{}
	}
	return s.Metrics
}

// SetHandler 替换行情回调，须在 Run 之前调用
func (s *MarketStreamer) SetHandler(h MarketHandler) {
	s.handler = h
}

func (s *MarketStreamer) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Subscribe 记录订阅；已就绪时立即下发，否则在握手完成后统一下发。
func (s *MarketStreamer) Subscribe(subs ...Subscription) error {
	s.mu.Lock()
	for _, sub := range subs {
		s.subs[subKey{sub.Type, sub.Symbol}] = sub
	}
	c, ready := s.conn, s.ready
	s.mu.Unlock()
	if !ready || len(subs) == 0 {
		return nil
	}
	return c.writeJSON(feedSubscription{Type: dxFeedSubscription, Channel: feedChannel, Add: subs})
}

func (s *MarketStreamer) Unsubscribe(subs ...Subscription) error {
	s.mu.Lock()
	for _, sub := range subs {
		delete(s.subs, subKey{sub.Type, sub.Symbol})
	}
	c, ready := s.conn, s.ready
	s.mu.Unlock()
	if !ready || len(subs) == 0 {
		return nil
	}
	remove := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		remove = append(remove, Subscription{Type: sub.Type, Symbol: sub.Symbol})
	}
	return c.writeJSON(feedSubscription{Type: dxFeedSubscription, Channel: feedChannel, Remove: remove})
}

// Subscriptions 当前订阅快照，按类型和代码排序。
func (s *MarketStreamer) Subscriptions() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

func (s *MarketStreamer) Run(ctx context.Context) error {
	return reconnectLoop(ctx, marketStreamName, s.MaxRetries, s.log(), s.metrics(), s.session)
}

type dxSetupMsg struct {
	Type                   string `json:"type"`
	Channel                int    `json:"channel"`
	Version                string `json:"version"`
	KeepaliveTimeout       int    `json:"keepaliveTimeout"`
	AcceptKeepaliveTimeout int    `json:"acceptKeepaliveTimeout"`
}

type dxAuthMsg struct {
	Type    string `json:"type"`
	Channel int    `json:"channel"`
	Token   string `json:"token"`
}

type dxChannelRequestMsg struct {
	Type       string            `json:"type"`
	Channel    int               `json:"channel"`
	Service    string            `json:"service"`
	Parameters map[string]string `json:"parameters"`
}

type dxFeedSetupMsg struct {
	Type                    string              `json:"type"`
	Channel                 int                 `json:"channel"`
	AcceptAggregationPeriod float64             `json:"acceptAggregationPeriod"`
	AcceptDataFormat        string              `json:"acceptDataFormat"`
	AcceptEventFields       map[string][]string `json:"acceptEventFields"`
}

type feedSubscription struct {
	Type    string         `json:"type"`
	Channel int            `json:"channel"`
	Reset   bool           `json:"reset,omitempty"`
	Add     []Subscription `json:"add,omitempty"`
	Remove  []Subscription `json:"remove,omitempty"`
}

type dxKeepaliveMsg struct {
	Type    string `json:"type"`
	Channel int    `json:"channel"`
}

func (s *MarketStreamer) session(ctx context.Context, connected func()) error {
	qt, err := s.Tokens.QuoteToken(ctx)
	if err != nil {
		return fmt.Errorf("market stream quote token: %w", err)
	}
	url := s.URL
	if url == "" {
		url = qt.DXLinkURL
	}
	raw, _, err := s.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("market stream dial: %w", err)
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
		s.ready = false
		s.mu.Unlock()
	}()

	timeoutSec := int((2 * s.Keepalive).Seconds())
	if err := c.writeJSON(dxSetupMsg{
		Type:                   dxSetup,
		Version:                dxlinkVersion,
		KeepaliveTimeout:       timeoutSec,
		AcceptKeepaliveTimeout: timeoutSec,
	}); err != nil {
		return fmt.Errorf("market stream setup: %w", err)
	}
	go keepalive(sctx, c, s.Keepalive, func() interface{} {
		return dxKeepaliveMsg{Type: dxKeepalive}
	})

	readTimeout := 2*s.Keepalive + 10*time.Second
	for {
		_ = raw.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := raw.ReadMessage()
		if err != nil {
			return err
		}
		f, err := parseDXFrame(msg)
		if err != nil {
			s.log().Warn("market stream: bad frame", zap.Error(err), zap.ByteString("payload", msg))
			continue
		}
		if err := s.handleFrame(c, f, qt.Token, connected); err != nil {
			return err
		}
	}
}

func (s *MarketStreamer) handleFrame(c *wsConn, f dxFrame, token string, connected func()) error {
	switch f.Type {
	case dxSetup, dxKeepalive, dxFeedConfig:
		return nil
	case dxAuthState:
		switch f.State {
		case "UNAUTHORIZED":
			return c.writeJSON(dxAuthMsg{Type: dxAuth, Token: token})
		case "AUTHORIZED":
			return c.writeJSON(dxChannelRequestMsg{
				Type:       dxChannelRequest,
				Channel:    feedChannel,
				Service:    "FEED",
				Parameters: map[string]string{"contract": "AUTO"},
			})
		}
		return nil
	case dxChannelOpened:
		if f.Channel != feedChannel {
			return nil
		}
		if err := c.writeJSON(dxFeedSetupMsg{
			Type:                    dxFeedSetup,
			Channel:                 feedChannel,
			AcceptAggregationPeriod: 0.1,
			AcceptDataFormat:        "FULL",
			AcceptEventFields:       defaultEventFields,
		}); err != nil {
			return err
		}
		return s.resubscribe(c, connected)
	case dxChannelClosed:
		return fmt.Errorf("market stream: channel %d closed", f.Channel)
	case dxFeedData:
		if s.handler == nil {
			return nil
		}
		if err := parseFeedData(f.Data, s.handler); err != nil {
			s.log().Warn("market stream: bad feed data", zap.Error(err))
		}
		return nil
	case dxError:
		return &StreamError{Stream: marketStreamName, Action: f.Error, Message: f.Message}
	default:
		s.log().Debug("market stream: ignored frame", zap.String("type", f.Type))
		return nil
	}
}

// resubscribe 握手完成后整体重置并下发全部订阅；持锁写出，避免与并发 Subscribe 交错。
func (s *MarketStreamer) resubscribe(c *wsConn, connected func()) error {
	s.mu.Lock()
	subs := make([]Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.ready = true
	var err error
	if len(subs) > 0 {
		err = c.writeJSON(feedSubscription{Type: dxFeedSubscription, Channel: feedChannel, Reset: true, Add: subs})
	}
	s.mu.Unlock()
	connected()
	return err
}
