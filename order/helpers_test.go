package order

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/symbol"
)

// recordingSink 记录收到的事件批次与消息
type recordingSink struct {
	mu       sync.Mutex
	batches  [][]host.OrderEvent
	messages []host.BrokerageMessage
}

func (s *recordingSink) OnOrderEvents(events []host.OrderEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]host.OrderEvent(nil), events...))
}

func (s *recordingSink) OnMessage(msg host.BrokerageMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

func (s *recordingSink) events() []host.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []host.OrderEvent
	for _, b := range s.batches {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) batchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func (s *recordingSink) msgs() []host.BrokerageMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]host.BrokerageMessage(nil), s.messages...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = nil
	s.messages = nil
}

// mockGateway 模拟 REST 下单接口；onPlace/onReplace 用于模拟推送确认。
type mockGateway struct {
	mu        sync.Mutex
	nextID    int
	placed    []gateway.OrderRequest
	replaced  []string
	canceled  []string
	placeErr  error
	cancelErr error

	onPlace   func(brokerID string, req gateway.OrderRequest)
	onReplace func(oldID, newID string)
}

func (g *mockGateway) PlaceOrder(_ context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	g.mu.Lock()
	if g.placeErr != nil {
		g.mu.Unlock()
		return gateway.Order{}, g.placeErr
	}
	g.nextID++
	id := strconv.Itoa(1000 + g.nextID)
	g.placed = append(g.placed, req)
	hook := g.onPlace
	g.mu.Unlock()

	if hook != nil {
		go hook(id, req)
	}
	return gateway.Order{ID: id, Status: gateway.StatusReceived}, nil
}

func (g *mockGateway) ReplaceOrder(_ context.Context, brokerID string, req gateway.OrderRequest) (gateway.Order, error) {
	g.mu.Lock()
	g.nextID++
	id := strconv.Itoa(1000 + g.nextID)
	g.replaced = append(g.replaced, brokerID)
	g.placed = append(g.placed, req)
	hook := g.onReplace
	g.mu.Unlock()

	if hook != nil {
		go hook(brokerID, id)
	}
	return gateway.Order{ID: id, Status: gateway.StatusReceived}, nil
}

func (g *mockGateway) CancelOrder(_ context.Context, brokerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, brokerID)
	return nil
}

func (g *mockGateway) requests() []gateway.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.OrderRequest(nil), g.placed...)
}

type fixture struct {
	book       *Book
	sink       *recordingSink
	gw         *mockGateway
	pending    *PendingTracker
	reconciler *Reconciler
	manager    *Manager
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	sink := &recordingSink{}
	// 持仓时间早于 fill() 的成交时间
	book := NewBook(WithBookClock(func() time.Time {
		return time.Date(2024, 10, 1, 9, 0, 0, 0, time.UTC)
	}))
	book.SetDownstream(sink)
	gw := &mockGateway{}
	mapper := symbol.NewMapper(symbol.WithClock(func() time.Time {
		return time.Date(2024, 10, 1, 0, 0, 0, 0, time.UTC)
	}))
	pending := NewPendingTracker(timeout, nil)
	crossZero := NewCrossZeroTracker(book, nil)
	f := &fixture{
		book:    book,
		sink:    sink,
		gw:      gw,
		pending: pending,
	}
	f.reconciler = NewReconciler(ReconcilerConfig{
		Pending:   pending,
		Orders:    book,
		CrossZero: crossZero,
		Mapper:    mapper,
		Sink:      book,
	})
	f.manager = NewManager(ManagerConfig{
		Gateway:   gw,
		Store:     book,
		Mapper:    mapper,
		Pending:   pending,
		CrossZero: crossZero,
		Sink:      book,
	})
	return f
}

// confirm 模拟账户推送：下单后回一条 Live
func (f *fixture) confirmLive(t *testing.T) {
	t.Helper()
	f.gw.onPlace = func(id string, _ gateway.OrderRequest) {
		if err := f.reconciler.HandleOrderUpdate(gateway.Order{ID: id, Status: gateway.StatusLive}); err != nil {
			t.Errorf("handle live: %v", err)
		}
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func equityOrder(ticker, qty string) *host.Order {
	return &host.Order{
		Symbol:   host.NewEquity(ticker),
		Quantity: dec(qty),
		Type:     host.OrderTypeMarket,
	}
}

func fill(id, qty, price string) gateway.Fill {
	return gateway.Fill{
		FillID:    id,
		Quantity:  dec(qty),
		FillPrice: dec(price),
		FilledAt:  time.Date(2024, 10, 1, 14, 30, 0, 0, time.UTC),
	}
}

func update(id string, status gateway.OrderStatus, legs ...gateway.Leg) gateway.Order {
	return gateway.Order{ID: id, Status: status, Legs: legs, TimeInForce: gateway.TIFDay}
}

func leg(sym string, it gateway.InstrumentType, action gateway.LegAction, remaining string, fills ...gateway.Fill) gateway.Leg {
	return gateway.Leg{
		InstrumentType:    it,
		Symbol:            sym,
		Action:            action,
		RemainingQuantity: dec(remaining),
		Fills:             fills,
	}
}

// waitFor 轮询直到条件满足
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errMockReject = errors.New("mock reject: insufficient buying power")
