package host

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderProvider 宿主订单/持仓查询接口。
type OrderProvider interface {
	OrderByID(id int) (*Order, bool)
	OrdersByBrokerID(brokerID string) []*Order
	HoldingsQuantity(s Symbol) decimal.Decimal
}

// MessageType 券商消息级别。
type MessageType int

const (
	MessageInformation MessageType = iota
	MessageWarning
	MessageError
)

func (t MessageType) String() string {
	switch t {
	case MessageWarning:
		return "Warning"
	case MessageError:
		return "Error"
	default:
		return "Information"
	}
}

// BrokerageMessage 面向宿主的通用消息。
type BrokerageMessage struct {
	Type    MessageType
	Code    string
	Message string
}

// EventSink 接收订单事件与券商消息。
type EventSink interface {
	OnOrderEvents(events []OrderEvent)
	OnMessage(msg BrokerageMessage)
}

// CrossZeroHandler 跨零单拆分后的回报合并。
type CrossZeroHandler interface {
	// TryGetCrossZeroOrder 按券商单号查找被拆分的宿主订单。
	TryGetCrossZeroOrder(brokerID string) (*Order, bool)
	// TryHandleRemainingCrossZeroOrder 返回 true 表示事件已被接管，调用方不再发送。
	TryHandleRemainingCrossZeroOrder(o *Order, event OrderEvent) bool
}

// IndexResolver 判断代码是否为指数。
type IndexResolver interface {
	IsIndex(ticker string) (bool, error)
}

// Holding 持仓快照。
type Holding struct {
	Symbol       Symbol
	Quantity     decimal.Decimal
	AveragePrice decimal.Decimal
	MarketPrice  decimal.Decimal
	UpdatedAt    time.Time // 持仓截至时间
}

// CashAmount 现金余额。
type CashAmount struct {
	Amount   decimal.Decimal
	Currency string
}

// Resolution K线周期。
type Resolution int

const (
	ResolutionTick Resolution = iota
	ResolutionSecond
	ResolutionMinute
	ResolutionHour
	ResolutionDaily
)

func (r Resolution) String() string {
	switch r {
	case ResolutionTick:
		return "Tick"
	case ResolutionSecond:
		return "Second"
	case ResolutionMinute:
		return "Minute"
	case ResolutionHour:
		return "Hour"
	default:
		return "Daily"
	}
}

// Duration 周期长度；Tick 返回 0。
func (r Resolution) Duration() time.Duration {
	switch r {
	case ResolutionSecond:
		return time.Second
	case ResolutionMinute:
		return time.Minute
	case ResolutionHour:
		return time.Hour
	case ResolutionDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// Bar OHLCV。
type Bar struct {
	Symbol Symbol
	Time   time.Time
	Period time.Duration
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// HistoryRequest 历史数据请求。
type HistoryRequest struct {
	Symbol     Symbol
	Resolution Resolution
	Start      time.Time
	End        time.Time
}

// TickType 行情类别。
type TickType int

const (
	TickTrade TickType = iota
	TickQuote
)

// Tick 实时行情。
type Tick struct {
	Symbol   Symbol
	Type     TickType
	Time     time.Time
	Price    decimal.Decimal
	Quantity decimal.Decimal
	BidPrice decimal.Decimal
	BidSize  decimal.Decimal
	AskPrice decimal.Decimal
	AskSize  decimal.Decimal
}
