package order

import (
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
)

// SplitCrossZero 判断下单是否穿越零持仓。穿越时第一段平掉现有持仓，第二段开新仓。
func SplitCrossZero(quantity, holdings decimal.Decimal) (first, second decimal.Decimal, crosses bool) {
	if holdings.IsZero() {
		return quantity, decimal.Zero, false
	}
	after := holdings.Add(quantity)
	if after.IsZero() || after.Sign() == holdings.Sign() {
		return quantity, decimal.Zero, false
	}
	return holdings.Neg(), after, true
}

type crossZeroStage int

const (
	stageClosing crossZeroStage = iota
	stageOpening
)

type crossZeroState struct {
	order     *host.Order
	stage     crossZeroStage
	remainder decimal.Decimal
}

// RemainderPlacer 第一段成交后提交第二段。
type RemainderPlacer func(o *host.Order, quantity decimal.Decimal)

// CrossZeroTracker 跟踪拆分后的两段券商订单，并把第一段的 Filled 改写为 PartiallyFilled。
type CrossZeroTracker struct {
	mu       sync.Mutex
	byBroker map[string]int
	byOrder  map[int]*crossZeroState

	sink   host.EventSink
	place  RemainderPlacer
	logger *logger.Logger
}

func NewCrossZeroTracker(sink host.EventSink, log *logger.Logger) *CrossZeroTracker {
	if log == nil {
		log = logger.NewNop()
	}
	return &CrossZeroTracker{
		byBroker: make(map[string]int),
		byOrder:  make(map[int]*crossZeroState),
		sink:     sink,
		logger:   log,
	}
}

func (c *CrossZeroTracker) SetRemainderPlacer(fn RemainderPlacer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.place = fn
}

// RegisterFirst 登记平仓段及待开仓数量。
func (c *CrossZeroTracker) RegisterFirst(brokerID string, o *host.Order, remainder decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byBroker[brokerID] = o.ID
	c.byOrder[o.ID] = &crossZeroState{order: o, stage: stageClosing, remainder: remainder}
}

// RegisterSecond 登记开仓段。
func (c *CrossZeroTracker) RegisterSecond(brokerID string, o *host.Order) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byBroker[brokerID] = o.ID
	st, ok := c.byOrder[o.ID]
	if !ok {
		st = &crossZeroState{order: o}
		c.byOrder[o.ID] = st
	}
	st.stage = stageOpening
	st.remainder = decimal.Zero
}

// IsCrossZero 订单是否处于拆分流程中
func (c *CrossZeroTracker) IsCrossZero(orderID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byOrder[orderID]
	return ok
}

func (c *CrossZeroTracker) TryGetCrossZeroOrder(brokerID string) (*host.Order, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.byBroker[brokerID]
	if !ok {
		return nil, false
	}
	st, ok := c.byOrder[id]
	if !ok {
		return nil, false
	}
	return st.order, true
}

func (c *CrossZeroTracker) TryHandleRemainingCrossZeroOrder(o *host.Order, ev host.OrderEvent) bool {
	c.mu.Lock()
	st, ok := c.byOrder[o.ID]
	if !ok {
		c.mu.Unlock()
		return false
	}

	switch {
	case st.stage == stageClosing && ev.Status == host.OrderStatusFilled:
		remainder := st.remainder
		place := c.place
		st.stage = stageOpening
		c.mu.Unlock()

		ev.Status = host.OrderStatusPartiallyFilled
		c.sink.OnOrderEvents([]host.OrderEvent{ev})
		c.logger.Info("cross zero closing leg filled, placing remainder",
			zap.Int("order_id", o.ID),
			zap.String("remainder", remainder.String()),
		)
		if place != nil {
			// 第二段下单需要等待推送确认，不能阻塞事件处理
			go place(o, remainder)
		}
		return true

	case ev.Status.IsClosed():
		c.forgetUnsafe(o.ID)
	}
	c.mu.Unlock()
	return false
}

func (c *CrossZeroTracker) forgetUnsafe(orderID int) {
	delete(c.byOrder, orderID)
	for b, id := range c.byBroker {
		if id == orderID {
			delete(c.byBroker, b)
		}
	}
}
