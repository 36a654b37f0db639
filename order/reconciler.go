package order

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
	"tastytrade-brokerage/symbol"
)

// AssetWarner 忽略未知品种模式下的告警出口，按代码去重。
type AssetWarner interface {
	WarnUnknownAsset(brokerSymbol string, err error)
}

// ReconcilerConfig 对账器依赖
type ReconcilerConfig struct {
	Pending   *PendingTracker
	Fills     *FillTracker
	Orders    host.OrderProvider
	CrossZero host.CrossZeroHandler
	Mapper    *symbol.Mapper
	Sink      host.EventSink
	Logger    *logger.Logger
	Metrics   Metrics

	IgnoreUnknownAssets bool
	Warner              AssetWarner
	Now                 func() time.Time
}

// Reconciler 把账户推送的订单更新转换为宿主订单事件。
// 只应在单个 goroutine 中调用（账户推送的分发循环）。
type Reconciler struct {
	pending   *PendingTracker
	fills     *FillTracker
	orders    host.OrderProvider
	crossZero host.CrossZeroHandler
	mapper    *symbol.Mapper
	sink      host.EventSink
	logger    *logger.Logger
	metrics   Metrics
	states    *StateMachine

	ignoreUnknown atomic.Bool
	warner        AssetWarner
	now           func() time.Time

	mu         sync.Mutex
	lastStatus map[string]gateway.OrderStatus

	// 统计信息
	totalUpdates   int64
	unknownUpdates int64
}

func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	r := &Reconciler{
		pending:    cfg.Pending,
		fills:      cfg.Fills,
		orders:     cfg.Orders,
		crossZero:  cfg.CrossZero,
		mapper:     cfg.Mapper,
		sink:       cfg.Sink,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		states:     NewStateMachine(),
		warner:     cfg.Warner,
		now:        cfg.Now,
		lastStatus: make(map[string]gateway.OrderStatus),
	}
	if r.fills == nil {
		r.fills = NewFillTracker(0)
	}
	if r.mapper == nil {
		r.mapper = symbol.NewMapper()
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	if r.metrics == nil {
		r.metrics = nopMetrics{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.ignoreUnknown.Store(cfg.IgnoreUnknownAssets)
	return r
}

// SetIgnoreUnknownAssets 配置热更新时切换未知品种模式
func (r *Reconciler) SetIgnoreUnknownAssets(ignore bool) {
	r.ignoreUnknown.Store(ignore)
}

type emission struct {
	order *host.Order
	event host.OrderEvent
}

// HandleOrderUpdate 处理一条订单推送。只有无法识别腿的品种（且未开启忽略）才返回错误。
func (r *Reconciler) HandleOrderUpdate(u gateway.Order) error {
	r.trackTransition(u)

	var entry *PendingEntry
	if r.pending != nil {
		e, resolved := r.pending.Resolve(u.ID, u.Status)
		if resolved {
			if e.Placeholder {
				r.logger.Debug("replaced order cancel swallowed", zap.String("broker_id", u.ID))
				return nil
			}
			entry = e
			defer e.Complete(u.Status)
		}
	}

	now := r.now()
	if entry != nil && entry.EmitEvents && u.Status != gateway.StatusRejected {
		events := make([]host.OrderEvent, 0, len(entry.Orders))
		for _, o := range entry.Orders {
			events = append(events, host.NewOrderEvent(o, entry.Ack, now, ""))
		}
		r.sink.OnOrderEvents(events)
	}

	if IsWorking(u.Status) && !hasFills(u) {
		return nil
	}

	orders := r.lookup(u.ID, entry)
	if len(orders) == 0 {
		r.mu.Lock()
		r.unknownUpdates++
		r.mu.Unlock()
		r.metrics.RecordUnknownOrderUpdate()
		r.logger.Warn("order update for unknown broker id",
			zap.String("broker_id", u.ID),
			zap.String("status", string(u.Status)),
			zap.Any("update", u),
		)
		r.sink.OnMessage(host.BrokerageMessage{
			Type:    host.MessageWarning,
			Code:    "UnknownOrder",
			Message: fmt.Sprintf("order update for unknown broker id %s (%s)", u.ID, u.Status),
		})
		return nil
	}

	pairs, err := r.applyFills(u, orders, now)
	if err != nil {
		return err
	}

	switch u.Status {
	case gateway.StatusCancelled, gateway.StatusRemoved, gateway.StatusPartiallyRemoved:
		pairs = append(pairs, r.closing(orders, host.OrderStatusCanceled, now, "")...)
	case gateway.StatusExpired:
		msg := fmt.Sprintf("expired: time in force %s", u.TimeInForce)
		pairs = append(pairs, r.closing(orders, host.OrderStatusCanceled, now, msg)...)
	case gateway.StatusRejected:
		r.metrics.RecordOrderRejected()
		pairs = append(pairs, r.closing(orders, host.OrderStatusInvalid, now, u.RejectReason)...)
	}

	r.emit(pairs)
	r.forgetClosed(pairs)
	return nil
}

func (r *Reconciler) closing(orders []*host.Order, status host.OrderStatus, at time.Time, msg string) []emission {
	out := make([]emission, 0, len(orders))
	for _, o := range orders {
		out = append(out, emission{order: o, event: host.NewOrderEvent(o, status, at, msg)})
	}
	if status == host.OrderStatusCanceled {
		r.metrics.RecordOrderCanceled()
	}
	return out
}

// lookup 顺序：跨零拆单 → 宿主订单 → 待确认条目。
func (r *Reconciler) lookup(brokerID string, entry *PendingEntry) []*host.Order {
	if r.crossZero != nil {
		if o, ok := r.crossZero.TryGetCrossZeroOrder(brokerID); ok {
			return []*host.Order{o}
		}
	}
	if r.orders != nil {
		if orders := r.orders.OrdersByBrokerID(brokerID); len(orders) > 0 {
			return orders
		}
	}
	if entry != nil {
		return entry.Orders
	}
	return nil
}

// applyFills 每条腿的成交按推送中的数组顺序处理，已见过的成交号跳过。
// 一笔成交之后的剩余量 = 腿剩余量 + 其后尚未处理的成交量之和。
func (r *Reconciler) applyFills(u gateway.Order, orders []*host.Order, now time.Time) ([]emission, error) {
	var out []emission
	for _, leg := range u.Legs {
		if len(leg.Fills) == 0 {
			continue
		}
		o, err := r.matchLeg(u, leg, orders)
		if err != nil {
			return nil, err
		}
		if o == nil {
			continue
		}
		if r.isClosed(o.ID) {
			r.logger.Debug("fills for closed order ignored",
				zap.String("broker_id", u.ID),
				zap.Int("order_id", o.ID),
			)
			continue
		}

		fresh := make([]gateway.Fill, 0, len(leg.Fills))
		for _, f := range leg.Fills {
			if r.fills.Record(o.ID, f.FillID) {
				fresh = append(fresh, f)
				r.metrics.RecordFill(false)
			} else {
				r.metrics.RecordFill(true)
			}
		}

		after := make([]decimal.Decimal, len(fresh))
		acc := leg.RemainingQuantity
		for i := len(fresh) - 1; i >= 0; i-- {
			after[i] = acc
			acc = acc.Add(fresh[i].Quantity.Abs())
		}

		for i, f := range fresh {
			qty := f.Quantity.Abs()
			if !leg.Action.IsBuy() {
				qty = qty.Neg()
			}
			status := host.OrderStatusPartiallyFilled
			if !after[i].IsPositive() {
				status = host.OrderStatusFilled
				r.metrics.RecordOrderFilled()
			}
			at := f.FilledAt
			if at.IsZero() {
				at = now
			}
			out = append(out, emission{order: o, event: host.OrderEvent{
				OrderID:      o.ID,
				Symbol:       o.Symbol,
				Status:       status,
				FillPrice:    f.FillPrice,
				FillQuantity: qty,
				Message:      f.DestinationVenue,
				Time:         at,
			}})
			r.logger.LogTrade("fill", map[string]interface{}{
				"order_id":  o.ID,
				"broker_id": u.ID,
				"fill_id":   f.FillID,
				"price":     f.FillPrice.String(),
				"quantity":  qty.String(),
				"status":    status.String(),
			})
		}
	}
	return out, nil
}

// matchLeg 单腿订单直接返回；组合单按宿主代码匹配。
func (r *Reconciler) matchLeg(u gateway.Order, leg gateway.Leg, orders []*host.Order) (*host.Order, error) {
	if len(orders) == 1 {
		return orders[0], nil
	}
	opts := []symbol.ParseOption{symbol.WithUnderlying(u.UnderlyingSymbol)}
	if u.UnderlyingInstrumentType == gateway.InstrumentIndex {
		opts = append(opts, symbol.WithIndexHint(true))
	}
	s, err := r.mapper.ToHostSymbol(leg.Symbol, leg.InstrumentType, opts...)
	if err != nil {
		if r.ignoreUnknown.Load() {
			if r.warner != nil {
				r.warner.WarnUnknownAsset(leg.Symbol, err)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("order %s leg %s: %w", u.ID, leg.Symbol, err)
	}
	for _, o := range orders {
		if o.Symbol.Equal(s) {
			return o, nil
		}
	}
	r.logger.Warn("fill for unmatched combo leg",
		zap.String("broker_id", u.ID),
		zap.String("leg", leg.Symbol),
		zap.String("host_symbol", s.String()),
	)
	return nil, nil
}

// orderStatuses OrderProvider 的可选实现（Book），用于判断订单是否已关闭
type orderStatuses interface {
	Status(orderID int) (host.OrderStatus, bool)
}

func (r *Reconciler) isClosed(orderID int) bool {
	sp, ok := r.orders.(orderStatuses)
	if !ok {
		return false
	}
	st, found := sp.Status(orderID)
	return found && st.IsClosed()
}

// forgetClosed 事件发出后订单已关闭的，释放成交去重记录
func (r *Reconciler) forgetClosed(pairs []emission) {
	done := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		id := p.order.ID
		if done[id] {
			continue
		}
		done[id] = true
		if r.isClosed(id) {
			r.fills.Forget(id)
		}
	}
}

// crossZeroTracked 跨零处理器可选实现，用于批量路径中挑出拆分中的订单
type crossZeroTracked interface {
	IsCrossZero(orderID int) bool
}

func (r *Reconciler) isCrossZero(orderID int) bool {
	if r.crossZero == nil {
		return false
	}
	if t, ok := r.crossZero.(crossZeroTracked); ok {
		return t.IsCrossZero(orderID)
	}
	return true
}

// emit 跨零拆分中的订单逐个交给跨零处理器（可能改写 Filled 并提交第二段），
// 其余事件按原顺序批量发送。
func (r *Reconciler) emit(pairs []emission) {
	if len(pairs) == 0 {
		return
	}
	batch := make([]host.OrderEvent, 0, len(pairs))
	flush := func() {
		if len(batch) > 0 {
			r.sink.OnOrderEvents(batch)
			batch = make([]host.OrderEvent, 0, len(pairs))
		}
	}
	for _, p := range pairs {
		if !r.isCrossZero(p.order.ID) {
			batch = append(batch, p.event)
			continue
		}
		flush()
		if !r.crossZero.TryHandleRemainingCrossZeroOrder(p.order, p.event) {
			r.sink.OnOrderEvents([]host.OrderEvent{p.event})
		}
	}
	flush()
}

func (r *Reconciler) trackTransition(u gateway.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalUpdates++
	if prev, ok := r.lastStatus[u.ID]; ok {
		if err := r.states.ValidateTransition(prev, u.Status); err != nil {
			r.logger.Warn("unexpected order status sequence",
				zap.String("broker_id", u.ID),
				zap.Error(err),
			)
		}
	}
	if IsTerminal(u.Status) {
		delete(r.lastStatus, u.ID)
		return
	}
	r.lastStatus[u.ID] = u.Status
}

// ReconcilerStats 对账统计
type ReconcilerStats struct {
	TotalUpdates   int64
	UnknownUpdates int64
	Fills          FillStats
}

func (r *Reconciler) Stats() ReconcilerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ReconcilerStats{
		TotalUpdates:   r.totalUpdates,
		UnknownUpdates: r.unknownUpdates,
		Fills:          r.fills.Stats(),
	}
}

func hasFills(u gateway.Order) bool {
	for _, l := range u.Legs {
		if len(l.Fills) > 0 {
			return true
		}
	}
	return false
}
