package order

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/host"
)

// OrderStore 宿主订单存储；券商单号只能通过 AddBrokerID 写入。
type OrderStore interface {
	host.OrderProvider
	AddBrokerID(orderID int, brokerID string)
	BrokerIDs(orderID int) []string
}

// Book 内存订单簿：宿主订单、券商单号索引与持仓。
// 同时实现 EventSink，按事件更新订单状态与持仓后转发给下游。
//
// 持仓以券商推送为准：每个品种记录持仓的截至时间，成交时间不晚于该时间的成交
// 已包含在持仓里，不再累加。
type Book struct {
	mu       sync.RWMutex
	orders   map[int]*host.Order
	byBroker map[string]int
	holdings map[string]host.Holding
	nextID   int
	now      func() time.Time

	downstream host.EventSink
}

// BookOption 订单簿选项
type BookOption func(*Book)

// WithBookClock 持仓未带券商时间时用于打时间戳
func WithBookClock(now func() time.Time) BookOption {
	return func(b *Book) { b.now = now }
}

func NewBook(opts ...BookOption) *Book {
	b := &Book{
		orders:   make(map[int]*host.Order),
		byBroker: make(map[string]int),
		holdings: make(map[string]host.Holding),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetDownstream 设置事件的最终接收方
func (b *Book) SetDownstream(sink host.EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downstream = sink
}

// Add 登记订单；ID 为 0 时分配新 ID。
func (b *Book) Add(o *host.Order) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o.ID == 0 {
		b.nextID++
		o.ID = b.nextID
	} else if o.ID > b.nextID {
		b.nextID = o.ID
	}
	if o.Status == host.OrderStatusNone {
		o.Status = host.OrderStatusNew
	}
	b.orders[o.ID] = o
	for _, id := range o.BrokerIDs {
		b.byBroker[id] = o.ID
	}
	return o.ID
}

func (b *Book) OrderByID(id int) (*host.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	return o, ok
}

// OrdersByBrokerID 组合单只在第一条腿上记录券商单号，这里展开为整组。
func (b *Book) OrdersByBrokerID(brokerID string) []*host.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byBroker[brokerID]
	if !ok {
		return nil
	}
	o := b.orders[id]
	if o.Group == nil {
		return []*host.Order{o}
	}
	legs := make(map[int]*host.Order, len(o.Group.OrderIDs))
	legs[o.ID] = o
	for _, sid := range o.Group.OrderIDs {
		if s, ok := b.orders[sid]; ok {
			legs[sid] = s
		}
	}
	return sortedByID(legs)
}

func (b *Book) AddBrokerID(orderID int, brokerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return
	}
	if !o.HasBrokerID(brokerID) {
		o.BrokerIDs = append(o.BrokerIDs, brokerID)
	}
	b.byBroker[brokerID] = orderID
}

// BrokerIDs 返回拷贝
func (b *Book) BrokerIDs(orderID int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return nil
	}
	return append([]string(nil), o.BrokerIDs...)
}

// Status 返回订单当前状态
func (b *Book) Status(orderID int) (host.OrderStatus, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return host.OrderStatusNone, false
	}
	return o.Status, true
}

func (b *Book) HoldingsQuantity(s host.Symbol) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.holdings[s.ID()].Quantity
}

func (b *Book) stamp(h host.Holding) host.Holding {
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = b.now()
	}
	return h
}

// SetHoldings 用券商持仓快照覆盖本地持仓。
func (b *Book) SetHoldings(holdings []host.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings = make(map[string]host.Holding, len(holdings))
	for _, h := range holdings {
		b.holdings[h.Symbol.ID()] = b.stamp(h)
	}
}

// SetHolding 券商持仓推送，覆盖该品种数量。
// 数量为 0 的条目保留截至时间，之后到达的旧成交不会把持仓加回来。
func (b *Book) SetHolding(h host.Holding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holdings[h.Symbol.ID()] = b.stamp(h)
}

// Holdings 非零持仓快照
func (b *Book) Holdings() []host.Holding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]host.Holding, 0, len(b.holdings))
	for _, h := range b.holdings {
		if h.Quantity.IsZero() {
			continue
		}
		res = append(res, h)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol.ID() < res[j].Symbol.ID() })
	return res
}

// Open 未关闭的订单（按 ID 排序）
func (b *Book) Open() []*host.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	res := make([]*host.Order, 0)
	for _, o := range b.orders {
		if !o.Status.IsClosed() {
			res = append(res, o)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

func (b *Book) OnOrderEvents(events []host.OrderEvent) {
	b.mu.Lock()
	for _, ev := range events {
		if o, ok := b.orders[ev.OrderID]; ok {
			o.Status = ev.Status
		}
		if !ev.FillQuantity.IsZero() {
			key := ev.Symbol.ID()
			h := b.holdings[key]
			if !ev.Time.IsZero() && !ev.Time.After(h.UpdatedAt) {
				continue
			}
			h.Symbol = ev.Symbol
			h.Quantity = h.Quantity.Add(ev.FillQuantity)
			b.holdings[key] = h
		}
	}
	sink := b.downstream
	b.mu.Unlock()

	if sink != nil {
		sink.OnOrderEvents(events)
	}
}

func (b *Book) OnMessage(msg host.BrokerageMessage) {
	b.mu.RLock()
	sink := b.downstream
	b.mu.RUnlock()
	if sink != nil {
		sink.OnMessage(msg)
	}
}
