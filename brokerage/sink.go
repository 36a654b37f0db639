package brokerage

import (
	"strconv"

	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
)

// MessageSink 券商消息出口；alert.Manager 实现（限流去重后转交宿主）。
type MessageSink interface {
	OnMessage(msg host.BrokerageMessage)
}

// EventRouter 订单事件直接交给宿主，券商消息经 MessageSink 分发。
// 作为 order.Book 的下游使用。
type EventRouter struct {
	host     host.EventSink
	messages MessageSink
	logger   *logger.Logger
}

func NewEventRouter(h host.EventSink, messages MessageSink, log *logger.Logger) *EventRouter {
	if log == nil {
		log = logger.NewNop()
	}
	return &EventRouter{host: h, messages: messages, logger: log}
}

func (r *EventRouter) OnOrderEvents(events []host.OrderEvent) {
	for _, ev := range events {
		r.logger.LogOrder("host_event", strconv.Itoa(ev.OrderID), map[string]interface{}{
			"symbol":        ev.Symbol.String(),
			"status":        ev.Status.String(),
			"fill_quantity": ev.FillQuantity.String(),
			"fill_price":    ev.FillPrice.String(),
			"message":       ev.Message,
		})
	}
	if r.host != nil {
		r.host.OnOrderEvents(events)
	}
}

func (r *EventRouter) OnMessage(msg host.BrokerageMessage) {
	if r.messages != nil {
		r.messages.OnMessage(msg)
		return
	}
	if r.host != nil {
		r.host.OnMessage(msg)
	}
}
