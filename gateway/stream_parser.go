package gateway

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// accountFrame 账户推送帧：通知 {type,data} 或动作响应 {status,action,...}。
type accountFrame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Status    string          `json:"status"`
	Action    string          `json:"action"`
	Message   string          `json:"message"`
	RequestID int64           `json:"request-id"`
	SessionID string          `json:"web-socket-session-id"`
}

func (f accountFrame) isResponse() bool { return f.Status != "" }

func parseAccountFrame(raw []byte) (accountFrame, error) {
	var f accountFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse account frame: %w", err)
	}
	if f.Type == "" && f.Status == "" {
		return f, fmt.Errorf("parse account frame: missing type and status")
	}
	return f, nil
}

// 账户推送通知类别
const (
	accountTypeOrder    = "Order"
	accountTypeBalance  = "AccountBalance"
	accountTypePosition = "CurrentPosition"
)

// DXLink 消息类型
const (
	dxSetup            = "SETUP"
	dxAuth             = "AUTH"
	dxAuthState        = "AUTH_STATE"
	dxChannelRequest   = "CHANNEL_REQUEST"
	dxChannelOpened    = "CHANNEL_OPENED"
	dxChannelClosed    = "CHANNEL_CLOSED"
	dxFeedSetup        = "FEED_SETUP"
	dxFeedConfig       = "FEED_CONFIG"
	dxFeedSubscription = "FEED_SUBSCRIPTION"
	dxFeedData         = "FEED_DATA"
	dxKeepalive        = "KEEPALIVE"
	dxError            = "ERROR"
)

// dxFrame DXLink 帧（camelCase）。
type dxFrame struct {
	Type    string          `json:"type"`
	Channel int             `json:"channel"`
	State   string          `json:"state,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func parseDXFrame(raw []byte) (dxFrame, error) {
	var f dxFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse dxlink frame: %w", err)
	}
	if f.Type == "" {
		return f, fmt.Errorf("parse dxlink frame: missing type")
	}
	return f, nil
}

// 事件标志位
const (
	FlagTxPending     = 0x01
	FlagRemoveEvent   = 0x02
	FlagSnapshotBegin = 0x04
	FlagSnapshotEnd   = 0x08
	FlagSnapshotSnip  = 0x10
)

// FeedDecimal 行情数值，兼容 "NaN"/"Infinity"/null；Valid=false 表示无值。
type FeedDecimal struct {
	decimal.Decimal
	Valid bool
}

func (d *FeedDecimal) UnmarshalJSON(b []byte) error {
	s := string(bytes.Trim(b, `"`))
	switch s {
	case "", "null", "NaN", "Infinity", "-Infinity":
		*d = FeedDecimal{}
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("feed decimal %q: %w", s, err)
	}
	*d = FeedDecimal{Decimal: v, Valid: true}
	return nil
}

func (d FeedDecimal) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte(`"NaN"`), nil
	}
	return []byte(d.Decimal.String()), nil
}

// feedEvent FULL 格式下每个事件都带 eventType。
type feedEvent struct {
	EventType string `json:"eventType"`
}

type Quote struct {
	EventSymbol string      `json:"eventSymbol"`
	BidPrice    FeedDecimal `json:"bidPrice"`
	BidSize     FeedDecimal `json:"bidSize"`
	BidTime     int64       `json:"bidTime"`
	AskPrice    FeedDecimal `json:"askPrice"`
	AskSize     FeedDecimal `json:"askSize"`
	AskTime     int64       `json:"askTime"`
}

type Trade struct {
	EventSymbol string      `json:"eventSymbol"`
	Time        int64       `json:"time"`
	Price       FeedDecimal `json:"price"`
	Size        FeedDecimal `json:"size"`
	DayVolume   FeedDecimal `json:"dayVolume"`
}

type Summary struct {
	EventSymbol       string      `json:"eventSymbol"`
	DayOpenPrice      FeedDecimal `json:"dayOpenPrice"`
	DayHighPrice      FeedDecimal `json:"dayHighPrice"`
	DayLowPrice       FeedDecimal `json:"dayLowPrice"`
	PrevDayClosePrice FeedDecimal `json:"prevDayClosePrice"`
	OpenInterest      FeedDecimal `json:"openInterest"`
}

type Candle struct {
	EventSymbol string      `json:"eventSymbol"`
	EventFlags  int         `json:"eventFlags"`
	Index       int64       `json:"index"`
	Time        int64       `json:"time"`
	Open        FeedDecimal `json:"open"`
	High        FeedDecimal `json:"high"`
	Low         FeedDecimal `json:"low"`
	Close       FeedDecimal `json:"close"`
	Volume      FeedDecimal `json:"volume"`
}

// SnapshotComplete 快照结束（END 或 SNIP）。
func (c Candle) SnapshotComplete() bool {
	return c.EventFlags&(FlagSnapshotEnd|FlagSnapshotSnip) != 0
}

// Removed 快照中的删除标记。
func (c Candle) Removed() bool { return c.EventFlags&FlagRemoveEvent != 0 }

func (c Candle) StartTime() time.Time { return time.UnixMilli(c.Time).UTC() }

// parseFeedData 解析 FULL 格式的 FEED_DATA 数组，未知事件类型跳过。
func parseFeedData(raw json.RawMessage, h MarketHandler) error {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return fmt.Errorf("parse feed data: %w", err)
	}
	for _, item := range items {
		var ev feedEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			return fmt.Errorf("parse feed event: %w", err)
		}
		switch ev.EventType {
		case "Quote":
			var q Quote
			if err := json.Unmarshal(item, &q); err != nil {
				return fmt.Errorf("parse quote: %w", err)
			}
			h.OnQuote(q)
		case "Trade", "TradeETH":
			var t Trade
			if err := json.Unmarshal(item, &t); err != nil {
				return fmt.Errorf("parse trade: %w", err)
			}
			h.OnTrade(t)
		case "Summary":
			var s Summary
			if err := json.Unmarshal(item, &s); err != nil {
				return fmt.Errorf("parse summary: %w", err)
			}
			h.OnSummary(s)
		case "Candle":
			var c Candle
			if err := json.Unmarshal(item, &c); err != nil {
				return fmt.Errorf("parse candle: %w", err)
			}
			h.OnCandle(c)
		}
	}
	return nil
}

// CandleSymbol 在行情代码后追加周期，如 AAPL{=5m}。
func CandleSymbol(streamSymbol, period string) string {
	return streamSymbol + "{=" + period + "}"
}

// CandlePeriod 周期转 DXLink 记法：1s/1m/1h/1d，非整数单位按最小单位表示。
func CandlePeriod(d time.Duration) (string, error) {
	switch {
	case d <= 0:
		return "", fmt.Errorf("candle period must be positive, got %s", d)
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour)), nil
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour), nil
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute), nil
	case d%time.Second == 0:
		return fmt.Sprintf("%ds", d/time.Second), nil
	}
	return "", fmt.Errorf("candle period %s not supported", d)
}

// BaseSymbol 去掉 {=..} 注解。
func BaseSymbol(candleSymbol string) string {
	if i := strings.IndexByte(candleSymbol, '{'); i >= 0 {
		return candleSymbol[:i]
	}
	return candleSymbol
}
