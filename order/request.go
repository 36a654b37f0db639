package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
)

// UnsupportedError 无法映射的订单类型/证券类型/有效期组合，不重试。
type UnsupportedError struct {
	Kind  string
	Value string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("unsupported %s: %s", e.Kind, e.Value)
}

// LegSpec 一条待下单的腿，Quantity 为绝对值。
type LegSpec struct {
	Order          *host.Order
	Action         gateway.LegAction
	InstrumentType gateway.InstrumentType
	Quantity       decimal.Decimal
	Symbol         string
}

// Request 下单请求的四种变体：MarketRequest / LimitRequest / StopRequest / StopLimitRequest。
type Request interface {
	Payload() gateway.OrderRequest
	Type() gateway.OrderType
	isRequest()
}

type requestBase struct {
	TimeInForce gateway.TimeInForce
	GtcDate     string
	Legs        []gateway.OrderLeg
}

func (b requestBase) payload(t gateway.OrderType) gateway.OrderRequest {
	return gateway.OrderRequest{
		TimeInForce: b.TimeInForce,
		GtcDate:     b.GtcDate,
		OrderType:   t,
		Legs:        b.Legs,
	}
}

func (requestBase) isRequest() {}

// MarketRequest 市价单，不带价格与触发价。
type MarketRequest struct {
	requestBase
}

func (r MarketRequest) Type() gateway.OrderType { return gateway.OrderTypeMarket }

func (r MarketRequest) Payload() gateway.OrderRequest {
	return r.payload(r.Type())
}

type LimitRequest struct {
	requestBase
	Price  decimal.Decimal
	Effect gateway.PriceEffect
}

func (r LimitRequest) Type() gateway.OrderType { return gateway.OrderTypeLimit }

func (r LimitRequest) Payload() gateway.OrderRequest {
	p := r.payload(r.Type())
	price := r.Price
	p.Price = &price
	p.PriceEffect = r.Effect
	return p
}

type StopRequest struct {
	requestBase
	StopTrigger decimal.Decimal
}

func (r StopRequest) Type() gateway.OrderType { return gateway.OrderTypeStop }

func (r StopRequest) Payload() gateway.OrderRequest {
	p := r.payload(r.Type())
	trigger := r.StopTrigger
	p.StopTrigger = &trigger
	return p
}

type StopLimitRequest struct {
	requestBase
	Price       decimal.Decimal
	Effect      gateway.PriceEffect
	StopTrigger decimal.Decimal
}

func (r StopLimitRequest) Type() gateway.OrderType { return gateway.OrderTypeStopLimit }

func (r StopLimitRequest) Payload() gateway.OrderRequest {
	p := r.payload(r.Type())
	price, trigger := r.Price, r.StopTrigger
	p.Price = &price
	p.PriceEffect = r.Effect
	p.StopTrigger = &trigger
	return p
}

// BuildParams 构造请求所需输入；组合单的 LimitPrice/Direction 取自组合整体。
type BuildParams struct {
	Legs        []LegSpec
	Type        host.OrderType
	TimeInForce host.TimeInForce
	LimitPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	Direction   host.OrderDirection
}

// BuildRequest 按订单类型构造请求变体，未覆盖的类型返回 UnsupportedError。
func BuildRequest(p BuildParams) (Request, error) {
	if len(p.Legs) == 0 {
		return nil, fmt.Errorf("build request: no legs")
	}
	tif, gtcDate, err := brokerTimeInForce(p.TimeInForce)
	if err != nil {
		return nil, err
	}
	base := requestBase{TimeInForce: tif, GtcDate: gtcDate, Legs: make([]gateway.OrderLeg, 0, len(p.Legs))}
	for _, l := range p.Legs {
		base.Legs = append(base.Legs, gateway.OrderLeg{
			InstrumentType: l.InstrumentType,
			Symbol:         l.Symbol,
			Quantity:       l.Quantity.Abs(),
			Action:         l.Action,
		})
	}

	switch p.Type {
	case host.OrderTypeMarket, host.OrderTypeComboMarket:
		return MarketRequest{requestBase: base}, nil
	case host.OrderTypeLimit, host.OrderTypeComboLimit:
		price, effect := priceEffect(p.Direction, p.LimitPrice)
		return LimitRequest{requestBase: base, Price: price, Effect: effect}, nil
	case host.OrderTypeStopMarket:
		return StopRequest{requestBase: base, StopTrigger: p.StopPrice}, nil
	case host.OrderTypeStopLimit:
		price, effect := priceEffect(p.Direction, p.LimitPrice)
		return StopLimitRequest{requestBase: base, Price: price, Effect: effect, StopTrigger: p.StopPrice}, nil
	default:
		return nil, &UnsupportedError{Kind: "order type", Value: p.Type.String()}
	}
}

// priceEffect 买入付款为 Debit；负价格表示收款，方向翻转。
func priceEffect(dir host.OrderDirection, price decimal.Decimal) (decimal.Decimal, gateway.PriceEffect) {
	pay := dir == host.DirectionBuy
	if price.IsNegative() {
		pay = !pay
	}
	if pay {
		return price.Abs(), gateway.EffectDebit
	}
	return price.Abs(), gateway.EffectCredit
}

func brokerTimeInForce(tif host.TimeInForce) (gateway.TimeInForce, string, error) {
	switch tif.Kind {
	case host.TimeInForceDay:
		return gateway.TIFDay, "", nil
	case host.TimeInForceGoodTilCanceled:
		return gateway.TIFGTC, "", nil
	case host.TimeInForceGoodTilDate:
		if tif.Expiry.IsZero() {
			return "", "", &UnsupportedError{Kind: "time in force", Value: "GoodTilDate without expiry"}
		}
		return gateway.TIFGTD, tif.Expiry.Format("2006-01-02"), nil
	default:
		return "", "", &UnsupportedError{Kind: "time in force", Value: tif.String()}
	}
}

// ResolveLegAction 由订单方向与当前持仓决定开平；期货单腿只有买/卖。
// 约定：持仓为负时买入是回补空头，记为 Buy to Close；持仓为零或为正时才是 Buy to Open。
// 卖出对称：持仓为正时 Sell to Close，否则 Sell to Open。跨零的数量已由 SplitCrossZero 拆开。
func ResolveLegAction(quantity, holdings decimal.Decimal, st host.SecurityType) gateway.LegAction {
	buy := quantity.IsPositive()
	if st == host.SecurityTypeFuture {
		if buy {
			return gateway.ActionBuy
		}
		return gateway.ActionSell
	}
	if buy {
		if holdings.IsNegative() {
			return gateway.ActionBuyToClose
		}
		return gateway.ActionBuyToOpen
	}
	if holdings.IsPositive() {
		return gateway.ActionSellToClose
	}
	return gateway.ActionSellToOpen
}

// InstrumentTypeOf 宿主证券类型到券商品种类别。
func InstrumentTypeOf(st host.SecurityType) (gateway.InstrumentType, error) {
	switch st {
	case host.SecurityTypeEquity:
		return gateway.InstrumentEquity, nil
	case host.SecurityTypeOption, host.SecurityTypeIndexOption:
		return gateway.InstrumentEquityOption, nil
	case host.SecurityTypeFuture:
		return gateway.InstrumentFuture, nil
	case host.SecurityTypeFutureOption:
		return gateway.InstrumentFutureOption, nil
	default:
		return "", &UnsupportedError{Kind: "security type", Value: st.String()}
	}
}
