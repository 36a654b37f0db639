package host

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType 宿主订单类型。
type OrderType int

const (
	OrderTypeMarket OrderType = iota
	OrderTypeLimit
	OrderTypeStopMarket
	OrderTypeStopLimit
	OrderTypeComboMarket
	OrderTypeComboLimit
	OrderTypeMarketOnOpen
	OrderTypeTrailingStop
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "Market"
	case OrderTypeLimit:
		return "Limit"
	case OrderTypeStopMarket:
		return "StopMarket"
	case OrderTypeStopLimit:
		return "StopLimit"
	case OrderTypeComboMarket:
		return "ComboMarket"
	case OrderTypeComboLimit:
		return "ComboLimit"
	case OrderTypeMarketOnOpen:
		return "MarketOnOpen"
	case OrderTypeTrailingStop:
		return "TrailingStop"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

// OrderStatus 宿主订单状态。
type OrderStatus int

const (
	OrderStatusNone OrderStatus = iota
	OrderStatusNew
	OrderStatusSubmitted
	OrderStatusPartiallyFilled
	OrderStatusFilled
	OrderStatusCanceled
	OrderStatusInvalid
	OrderStatusCancelPending
	OrderStatusUpdateSubmitted
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusNew:
		return "New"
	case OrderStatusSubmitted:
		return "Submitted"
	case OrderStatusPartiallyFilled:
		return "PartiallyFilled"
	case OrderStatusFilled:
		return "Filled"
	case OrderStatusCanceled:
		return "Canceled"
	case OrderStatusInvalid:
		return "Invalid"
	case OrderStatusCancelPending:
		return "CancelPending"
	case OrderStatusUpdateSubmitted:
		return "UpdateSubmitted"
	default:
		return "None"
	}
}

// IsClosed 终态。
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusInvalid
}

// OrderDirection 买卖方向。
type OrderDirection int

const (
	DirectionHold OrderDirection = iota
	DirectionBuy
	DirectionSell
)

func (d OrderDirection) String() string {
	switch d {
	case DirectionBuy:
		return "Buy"
	case DirectionSell:
		return "Sell"
	default:
		return "Hold"
	}
}

// DirectionOf 由带符号数量推导方向。
func DirectionOf(quantity decimal.Decimal) OrderDirection {
	switch quantity.Sign() {
	case 1:
		return DirectionBuy
	case -1:
		return DirectionSell
	default:
		return DirectionHold
	}
}

// TimeInForceKind 有效期类别。
type TimeInForceKind int

const (
	TimeInForceDay TimeInForceKind = iota
	TimeInForceGoodTilCanceled
	TimeInForceGoodTilDate
)

// TimeInForce 有效期；GoodTilDate 时 Expiry 必填。
type TimeInForce struct {
	Kind   TimeInForceKind
	Expiry time.Time
}

func (t TimeInForce) String() string {
	switch t.Kind {
	case TimeInForceGoodTilCanceled:
		return "GoodTilCanceled"
	case TimeInForceGoodTilDate:
		return "GoodTilDate(" + t.Expiry.Format("2006-01-02") + ")"
	default:
		return "Day"
	}
}

// GroupOrderManager 描述组合单的整体信息，各腿共享同一个实例。
type GroupOrderManager struct {
	ID         int
	Count      int
	Quantity   decimal.Decimal
	LimitPrice decimal.Decimal
	OrderIDs   []int
}

func (g *GroupOrderManager) Direction() OrderDirection {
	return DirectionOf(g.Quantity)
}

// Order 宿主订单。Quantity 带符号：正为买，负为卖。
type Order struct {
	ID          int
	Symbol      Symbol
	Quantity    decimal.Decimal
	Type        OrderType
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TimeInForce TimeInForce
	Status      OrderStatus
	BrokerIDs   []string
	Group       *GroupOrderManager
	Tag         string
	CreatedAt   time.Time
}

func (o *Order) Direction() OrderDirection {
	return DirectionOf(o.Quantity)
}

func (o *Order) AbsoluteQuantity() decimal.Decimal {
	return o.Quantity.Abs()
}

// HasBrokerID 判断订单是否关联该券商单号。
func (o *Order) HasBrokerID(id string) bool {
	for _, b := range o.BrokerIDs {
		if b == id {
			return true
		}
	}
	return false
}

// OrderEvent 发送给宿主的订单状态事件；FillQuantity 带符号。
type OrderEvent struct {
	OrderID      int
	Symbol       Symbol
	Status       OrderStatus
	FillPrice    decimal.Decimal
	FillQuantity decimal.Decimal
	Message      string
	Time         time.Time
}

func NewOrderEvent(o *Order, status OrderStatus, at time.Time, message string) OrderEvent {
	return OrderEvent{
		OrderID: o.ID,
		Symbol:  o.Symbol,
		Status:  status,
		Message: message,
		Time:    at,
	}
}
