package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
	"tastytrade-brokerage/symbol"
)

// Gateway 下单/改单/撤单的 REST 抽象；与 gateway.RESTClient 对接。
type Gateway interface {
	PlaceOrder(ctx context.Context, req gateway.OrderRequest) (gateway.Order, error)
	ReplaceOrder(ctx context.Context, brokerID string, req gateway.OrderRequest) (gateway.Order, error)
	CancelOrder(ctx context.Context, brokerID string) error
}

var ErrUnknownOrder = errors.New("unknown order")

// ManagerConfig 订单管理器依赖
type ManagerConfig struct {
	Gateway     Gateway
	Store       OrderStore
	Mapper      *symbol.Mapper
	Pending     *PendingTracker
	Groups      *GroupCache
	CrossZero   *CrossZeroTracker
	Sink        host.EventSink
	Constraints QuantityConstraints
	Logger      *logger.Logger
	Metrics     Metrics
	Now         func() time.Time
}

// Manager 把宿主订单翻译为券商请求，并通过 PendingTracker 同步等待推送确认。
type Manager struct {
	gw          Gateway
	store       OrderStore
	mapper      *symbol.Mapper
	pending     *PendingTracker
	groups      *GroupCache
	crossZero   *CrossZeroTracker
	sink        host.EventSink
	constraints QuantityConstraints
	logger      *logger.Logger
	metrics     Metrics
	now         func() time.Time
}

func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		gw:          cfg.Gateway,
		store:       cfg.Store,
		mapper:      cfg.Mapper,
		pending:     cfg.Pending,
		groups:      cfg.Groups,
		crossZero:   cfg.CrossZero,
		sink:        cfg.Sink,
		constraints: cfg.Constraints,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}
	if m.logger == nil {
		m.logger = logger.NewNop()
	}
	if m.mapper == nil {
		m.mapper = symbol.NewMapper()
	}
	if m.pending == nil {
		m.pending = NewPendingTracker(0, m.logger)
	}
	if m.groups == nil {
		m.groups = NewGroupCache()
	}
	if m.crossZero == nil {
		m.crossZero = NewCrossZeroTracker(m.sink, m.logger)
	}
	if m.metrics == nil {
		m.metrics = nopMetrics{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	m.crossZero.SetRemainderPlacer(m.placeRemainder)
	return m
}

// PlaceOrder 返回 false 表示下单被拒绝（已发送 Invalid 事件）。
// 组合单在最后一条腿到达前直接返回 true。
func (m *Manager) PlaceOrder(ctx context.Context, o *host.Order) bool {
	orders, ready := m.groups.TryGetGroupOrders(o)
	if !ready {
		m.logger.Debug("combo leg buffered", zap.Int("order_id", o.ID), zap.Int("group_id", o.Group.ID))
		return true
	}

	if len(orders) == 1 && o.Group == nil {
		holdings := m.store.HoldingsQuantity(o.Symbol)
		if first, second, crosses := SplitCrossZero(o.Quantity, holdings); crosses {
			return m.placeCrossZero(ctx, o, first, second, holdings)
		}
	}

	quantities := make([]decimal.Decimal, len(orders))
	for i, leg := range orders {
		quantities[i] = leg.Quantity
	}
	legs, err := m.legSpecs(orders, quantities, nil)
	if err != nil {
		m.invalid(orders, err)
		return false
	}
	req, err := BuildRequest(m.buildParams(orders, legs))
	if err != nil {
		m.invalid(orders, err)
		return false
	}

	started := m.now()
	_, err = m.pending.Submit(ctx, Submission{
		Orders: orders,
		Send: func() (string, error) {
			res, err := m.gw.PlaceOrder(ctx, req.Payload())
			return res.ID, err
		},
		Accepted: func(brokerID string) {
			// 组合单只在第一条腿记录券商单号
			m.store.AddBrokerID(orders[0].ID, brokerID)
		},
		Ack:        host.OrderStatusSubmitted,
		EmitEvents: true,
	})
	return m.afterSubmit(orders, started, err)
}

func (m *Manager) placeCrossZero(ctx context.Context, o *host.Order, first, second, holdings decimal.Decimal) bool {
	legs, err := m.legSpecs([]*host.Order{o}, []decimal.Decimal{first}, &holdings)
	if err != nil {
		m.invalid([]*host.Order{o}, err)
		return false
	}
	req, err := BuildRequest(m.buildParams([]*host.Order{o}, legs))
	if err != nil {
		m.invalid([]*host.Order{o}, err)
		return false
	}

	m.logger.LogOrder("cross_zero_split", fmt.Sprint(o.ID), map[string]interface{}{
		"holdings": holdings.String(),
		"close":    first.String(),
		"open":     second.String(),
	})
	started := m.now()
	_, err = m.pending.Submit(ctx, Submission{
		Orders: []*host.Order{o},
		Send: func() (string, error) {
			res, err := m.gw.PlaceOrder(ctx, req.Payload())
			return res.ID, err
		},
		Accepted: func(brokerID string) {
			m.store.AddBrokerID(o.ID, brokerID)
			m.crossZero.RegisterFirst(brokerID, o, second)
		},
		Ack:        host.OrderStatusSubmitted,
		EmitEvents: true,
	})
	return m.afterSubmit([]*host.Order{o}, started, err)
}

// placeRemainder 跨零单第一段成交后开新仓，持仓视为 0。
func (m *Manager) placeRemainder(o *host.Order, quantity decimal.Decimal) {
	flat := decimal.Zero
	fail := func(err error) {
		m.logger.LogError(err, map[string]interface{}{"order_id": o.ID, "stage": "cross_zero_remainder"})
		m.sink.OnMessage(host.BrokerageMessage{
			Type:    host.MessageError,
			Code:    "CrossZeroRemainderFailed",
			Message: fmt.Sprintf("order %d: remainder %s not placed: %v", o.ID, quantity, err),
		})
		m.sink.OnOrderEvents([]host.OrderEvent{
			host.NewOrderEvent(o, host.OrderStatusCanceled, m.now(), "cross zero remainder rejected: "+err.Error()),
		})
	}

	legs, err := m.legSpecs([]*host.Order{o}, []decimal.Decimal{quantity}, &flat)
	if err != nil {
		fail(err)
		return
	}
	req, err := BuildRequest(m.buildParams([]*host.Order{o}, legs))
	if err != nil {
		fail(err)
		return
	}
	ctx := context.Background()
	_, err = m.pending.Submit(ctx, Submission{
		Orders: []*host.Order{o},
		Send: func() (string, error) {
			res, err := m.gw.PlaceOrder(ctx, req.Payload())
			return res.ID, err
		},
		Accepted: func(brokerID string) {
			m.crossZero.RegisterSecond(brokerID, o)
			m.store.AddBrokerID(o.ID, brokerID)
		},
		Ack: host.OrderStatusSubmitted,
	})
	switch {
	case err == nil:
		m.metrics.RecordOrderPlaced()
	case errors.Is(err, ErrTimeout):
		m.timedOut([]*host.Order{o}, err)
	default:
		fail(err)
	}
}

// UpdateOrder 改单：旧单号挂占位，新单号等待确认。跨零拆分中的订单不支持改单。
func (m *Manager) UpdateOrder(ctx context.Context, o *host.Order) bool {
	if m.crossZero.IsCrossZero(o.ID) {
		m.updateFailed(o, fmt.Errorf("order %d is split across zero holdings", o.ID))
		return false
	}
	orders, err := Siblings(o, m.store)
	if err != nil {
		m.updateFailed(o, err)
		return false
	}
	ids := m.store.BrokerIDs(orders[0].ID)
	if len(ids) == 0 {
		m.updateFailed(o, fmt.Errorf("%w: order %d has no broker id", ErrUnknownOrder, o.ID))
		return false
	}
	oldID := ids[len(ids)-1]

	quantities := make([]decimal.Decimal, len(orders))
	for i, leg := range orders {
		quantities[i] = leg.Quantity
	}
	legs, err := m.legSpecs(orders, quantities, nil)
	if err != nil {
		m.updateFailed(o, err)
		return false
	}
	req, err := BuildRequest(m.buildParams(orders, legs))
	if err != nil {
		m.updateFailed(o, err)
		return false
	}

	started := m.now()
	newID, err := m.pending.Replace(ctx, oldID, Submission{
		Orders: orders,
		Send: func() (string, error) {
			res, err := m.gw.ReplaceOrder(ctx, oldID, req.Payload())
			return res.ID, err
		},
		Accepted: func(brokerID string) {
			m.store.AddBrokerID(orders[0].ID, brokerID)
		},
		Ack:        host.OrderStatusUpdateSubmitted,
		EmitEvents: true,
	})
	switch {
	case err == nil:
		m.metrics.ObserveOrderLatency(m.now().Sub(started).Seconds())
		m.logger.LogOrder("replaced", oldID, map[string]interface{}{"new_broker_id": newID, "order_id": o.ID})
		return true
	case errors.Is(err, ErrTimeout):
		m.timedOut(orders, err)
		return true
	default:
		m.updateFailed(o, err)
		return false
	}
}

// CancelOrder 发出撤单请求；最终的 Canceled 事件来自账户推送。
func (m *Manager) CancelOrder(ctx context.Context, o *host.Order) error {
	orders, err := Siblings(o, m.store)
	if err != nil {
		return err
	}
	ids := m.store.BrokerIDs(orders[0].ID)
	if len(ids) == 0 {
		return fmt.Errorf("%w: order %d has no broker id", ErrUnknownOrder, o.ID)
	}
	brokerID := ids[len(ids)-1]
	if err := m.gw.CancelOrder(ctx, brokerID); err != nil {
		return fmt.Errorf("cancel broker order %s: %w", brokerID, err)
	}
	m.logger.LogOrder("cancel_requested", brokerID, map[string]interface{}{"order_id": o.ID})
	return nil
}

func (m *Manager) afterSubmit(orders []*host.Order, started time.Time, err error) bool {
	switch {
	case err == nil:
		m.metrics.RecordOrderPlaced()
		m.metrics.ObserveOrderLatency(m.now().Sub(started).Seconds())
		return true
	case errors.Is(err, ErrTimeout):
		m.timedOut(orders, err)
		return true
	default:
		m.invalid(orders, err)
		return false
	}
}

// timedOut 券商侧状态未知：报错但不回滚，后续推送仍会更新订单。
func (m *Manager) timedOut(orders []*host.Order, err error) {
	m.metrics.RecordOrderTimeout()
	m.sink.OnMessage(host.BrokerageMessage{
		Type:    host.MessageError,
		Code:    "OrderConfirmationTimeout",
		Message: fmt.Sprintf("orders %v: %v", orderIDs(orders), err),
	})
}

func (m *Manager) invalid(orders []*host.Order, err error) {
	m.metrics.RecordOrderRejected()
	now := m.now()
	events := make([]host.OrderEvent, 0, len(orders))
	for _, o := range orders {
		events = append(events, host.NewOrderEvent(o, host.OrderStatusInvalid, now, err.Error()))
	}
	m.logger.LogError(err, map[string]interface{}{"orders": orderIDs(orders), "stage": "place"})
	m.sink.OnOrderEvents(events)
}

func (m *Manager) updateFailed(o *host.Order, err error) {
	m.logger.LogError(err, map[string]interface{}{"order_id": o.ID, "stage": "update"})
	m.sink.OnMessage(host.BrokerageMessage{
		Type:    host.MessageWarning,
		Code:    "UpdateFailed",
		Message: fmt.Sprintf("order %d update failed: %v", o.ID, err),
	})
}

// legSpecs holdings 为 nil 时按当前持仓决定开平。
func (m *Manager) legSpecs(orders []*host.Order, quantities []decimal.Decimal, holdings *decimal.Decimal) ([]LegSpec, error) {
	legs := make([]LegSpec, 0, len(orders))
	for i, o := range orders {
		if err := m.constraints.Validate(o); err != nil {
			return nil, err
		}
		it, err := InstrumentTypeOf(o.Symbol.SecurityType)
		if err != nil {
			return nil, err
		}
		sym, err := m.mapper.OrderSymbol(o.Symbol)
		if err != nil {
			return nil, err
		}
		h := m.store.HoldingsQuantity(o.Symbol)
		if holdings != nil {
			h = *holdings
		}
		qty := quantities[i]
		legs = append(legs, LegSpec{
			Order:          o,
			Action:         ResolveLegAction(qty, h, o.Symbol.SecurityType),
			InstrumentType: it,
			Quantity:       qty.Abs(),
			Symbol:         sym,
		})
	}
	return legs, nil
}

func (m *Manager) buildParams(orders []*host.Order, legs []LegSpec) BuildParams {
	first := orders[0]
	p := BuildParams{
		Legs:        legs,
		Type:        first.Type,
		TimeInForce: first.TimeInForce,
		LimitPrice:  first.LimitPrice,
		StopPrice:   first.StopPrice,
		Direction:   first.Direction(),
	}
	if first.Group != nil {
		p.LimitPrice = first.Group.LimitPrice
		p.Direction = first.Group.Direction()
	}
	return p
}

func orderIDs(orders []*host.Order) []int {
	ids := make([]int, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	return ids
}
