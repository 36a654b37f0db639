package brokerage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/order"
	"tastytrade-brokerage/symbol"
)

// PlaceOrder 返回 false 表示下单失败（宿主已收到 Invalid 事件或错误消息）。
func (b *Brokerage) PlaceOrder(ctx context.Context, o *host.Order) bool {
	if !b.ready("PlaceOrder", o) {
		return false
	}
	b.track(o)
	return b.orders.PlaceOrder(ctx, o)
}

// UpdateOrder 改单；券商侧为 replace，新单号替换旧单号。
func (b *Brokerage) UpdateOrder(ctx context.Context, o *host.Order) bool {
	if !b.ready("UpdateOrder", o) {
		return false
	}
	b.track(o)
	return b.orders.UpdateOrder(ctx, o)
}

// CancelOrder 发出撤单；未知订单或券商拒绝时返回 false 并发送 Warning 消息。
func (b *Brokerage) CancelOrder(ctx context.Context, o *host.Order) bool {
	if !b.ready("CancelOrder", o) {
		return false
	}
	if err := b.orders.CancelOrder(ctx, o); err != nil {
		code := "CancelFailed"
		if errors.Is(err, order.ErrUnknownOrder) {
			code = "CancelUnknownOrder"
		}
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageWarning,
			Code:    code,
			Message: fmt.Sprintf("cancel order %d: %v", o.ID, err),
		})
		return false
	}
	return true
}

func (b *Brokerage) ready(op string, o *host.Order) bool {
	if b.orders == nil {
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageError,
			Code:    "NotConfigured",
			Message: fmt.Sprintf("%s order %d: order manager not configured", op, o.ID),
		})
		return false
	}
	if !b.connected.Load() {
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageError,
			Code:    "NotConnected",
			Message: fmt.Sprintf("%s order %d: %v", op, o.ID, ErrNotConnected),
		})
		return false
	}
	return true
}

// track 把宿主订单登记到 Book；同 ID 的新对象沿用已有的券商单号。
func (b *Brokerage) track(o *host.Order) {
	existing, ok := b.book.OrderByID(o.ID)
	if ok && existing == o {
		return
	}
	if ok {
		o.BrokerIDs = b.book.BrokerIDs(o.ID)
	}
	b.book.Add(o)
}

// GetOpenOrders 从券商拉取挂单；已登记的订单返回 Book 中的对象。
func (b *Brokerage) GetOpenOrders(ctx context.Context) ([]*host.Order, error) {
	if b.rest == nil {
		return nil, ErrNotConnected
	}
	live, err := b.rest.LiveOrders(ctx, b.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	var res []*host.Order
	for _, lo := range live {
		if known := b.book.OrdersByBrokerID(lo.ID); len(known) > 0 {
			res = append(res, known...)
			continue
		}
		orders, err := b.convertOrder(lo)
		if err != nil {
			return nil, err
		}
		res = append(res, orders...)
	}
	return res, nil
}

// restoreOrders 启动时把券商挂单登记为宿主订单
func (b *Brokerage) restoreOrders(live []gateway.Order) (int, error) {
	restored := 0
	for _, lo := range live {
		if len(b.book.OrdersByBrokerID(lo.ID)) > 0 {
			continue
		}
		orders, err := b.convertOrder(lo)
		if err != nil {
			return restored, err
		}
		if len(orders) == 0 {
			continue
		}
		b.register(lo.ID, orders)
		restored++
		b.logger.LogOrder("restored", lo.ID, map[string]interface{}{
			"legs":   len(orders),
			"status": string(lo.Status),
		})
	}
	return restored, nil
}

// register 组合单的券商单号只记在第一条腿上
func (b *Brokerage) register(brokerID string, orders []*host.Order) {
	orders[0].BrokerIDs = []string{brokerID}
	for _, o := range orders {
		b.book.Add(o)
	}
	if g := orders[0].Group; g != nil {
		g.OrderIDs = g.OrderIDs[:0]
		for _, o := range orders {
			g.OrderIDs = append(g.OrderIDs, o.ID)
		}
	}
}

// convertOrder 券商订单转宿主订单，多腿订单转为共享 GroupOrderManager 的一组订单。
// 返回 nil 表示含有被忽略的未知品种。
func (b *Brokerage) convertOrder(lo gateway.Order) ([]*host.Order, error) {
	if len(lo.Legs) == 0 {
		return nil, fmt.Errorf("order %s has no legs", lo.ID)
	}
	combo := len(lo.Legs) > 1
	typ, err := hostOrderType(lo.OrderType, combo)
	if err != nil {
		return nil, err
	}
	tif, err := hostTimeInForce(lo)
	if err != nil {
		return nil, err
	}
	status := host.OrderStatusSubmitted
	if hasFills(lo) {
		status = host.OrderStatusPartiallyFilled
	}

	var group *host.GroupOrderManager
	if combo {
		group = &host.GroupOrderManager{
			Count:    len(lo.Legs),
			Quantity: lo.Size,
		}
		if lo.PriceEffect == gateway.EffectCredit {
			group.Quantity = lo.Size.Abs().Neg()
		}
		if lo.Price != nil {
			group.LimitPrice = *lo.Price
		}
	}

	orders := make([]*host.Order, 0, len(lo.Legs))
	for _, leg := range lo.Legs {
		sym, err := b.mapper.ToHostSymbol(leg.Symbol, leg.InstrumentType, orderParseOptions(lo)...)
		if err != nil {
			if err := b.unknownAsset(leg.Symbol, err); err != nil {
				return nil, fmt.Errorf("order %s: %w", lo.ID, err)
			}
			return nil, nil
		}
		o := &host.Order{
			Symbol:      sym,
			Quantity:    signedLegQuantity(leg),
			Type:        typ,
			TimeInForce: tif,
			Status:      status,
			Group:       group,
			Tag:         "tastytrade:" + lo.ID,
			CreatedAt:   lo.ReceivedAt,
		}
		if lo.Price != nil && !combo {
			o.LimitPrice = *lo.Price
		}
		if lo.StopTrigger != nil {
			o.StopPrice = *lo.StopTrigger
		}
		if group != nil {
			o.LimitPrice = group.LimitPrice
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func orderParseOptions(lo gateway.Order) []symbol.ParseOption {
	opts := underlyingHint(lo.UnderlyingSymbol)
	if lo.UnderlyingInstrumentType == gateway.InstrumentIndex {
		opts = append(opts, symbol.WithIndexHint(true))
	}
	return opts
}

func hostOrderType(t gateway.OrderType, combo bool) (host.OrderType, error) {
	switch t {
	case gateway.OrderTypeMarket:
		if combo {
			return host.OrderTypeComboMarket, nil
		}
		return host.OrderTypeMarket, nil
	case gateway.OrderTypeLimit:
		if combo {
			return host.OrderTypeComboLimit, nil
		}
		return host.OrderTypeLimit, nil
	case gateway.OrderTypeStop:
		if !combo {
			return host.OrderTypeStopMarket, nil
		}
	case gateway.OrderTypeStopLimit:
		if !combo {
			return host.OrderTypeStopLimit, nil
		}
	}
	return 0, &order.UnsupportedError{Kind: "broker order type", Value: string(t)}
}

func hostTimeInForce(lo gateway.Order) (host.TimeInForce, error) {
	switch lo.TimeInForce {
	case gateway.TIFDay, "":
		return host.TimeInForce{Kind: host.TimeInForceDay}, nil
	case gateway.TIFGTC:
		return host.TimeInForce{Kind: host.TimeInForceGoodTilCanceled}, nil
	case gateway.TIFGTD:
		expiry, err := time.Parse("2006-01-02", lo.GtcDate)
		if err != nil {
			return host.TimeInForce{}, fmt.Errorf("order %s gtc-date %q: %w", lo.ID, lo.GtcDate, err)
		}
		return host.TimeInForce{Kind: host.TimeInForceGoodTilDate, Expiry: expiry}, nil
	default:
		return host.TimeInForce{}, &order.UnsupportedError{Kind: "broker time in force", Value: string(lo.TimeInForce)}
	}
}

func hasFills(o gateway.Order) bool {
	for _, l := range o.Legs {
		if len(l.Fills) > 0 {
			return true
		}
	}
	return false
}
