package brokerage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/market"
	"tastytrade-brokerage/order"
	"tastytrade-brokerage/symbol"
)

const testAccount = "5WT00001"

var testNow = time.Date(2024, 10, 1, 14, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fd(s string) gateway.FeedDecimal {
	return gateway.FeedDecimal{Decimal: dec(s), Valid: true}
}

type fakeREST struct {
	mu        sync.Mutex
	balance   gateway.Balance
	positions []gateway.Position
	live      []gateway.Order
	chains    []gateway.OptionChain
	futChain  gateway.FutureOptionChain
	err       error
	chainArgs []string
	liveCalls int
}

func (r *fakeREST) Balances(context.Context, string) (gateway.Balance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance, r.err
}

func (r *fakeREST) Positions(context.Context, string) ([]gateway.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions, r.err
}

func (r *fakeREST) LiveOrders(context.Context, string) ([]gateway.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liveCalls++
	return r.live, r.err
}

func (r *fakeREST) OptionChain(_ context.Context, underlying string) ([]gateway.OptionChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chainArgs = append(r.chainArgs, underlying)
	return r.chains, r.err
}

func (r *fakeREST) FutureOptionChain(_ context.Context, product string) (gateway.FutureOptionChain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chainArgs = append(r.chainArgs, product)
	return r.futChain, r.err
}

func (r *fakeREST) setLive(orders ...gateway.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live = orders
}

// fakeAccountStream Run 立即视为握手成功，阻塞到 ctx 结束。
type fakeAccountStream struct {
	handler     gateway.AccountHandler
	onConnected func()
	ready       chan struct{}
	once        sync.Once
	runErr      error
	connected   atomic.Bool
}

func newFakeAccountStream() *fakeAccountStream {
	return &fakeAccountStream{ready: make(chan struct{})}
}

func (s *fakeAccountStream) Run(ctx context.Context) error {
	if s.runErr != nil {
		return s.runErr
	}
	s.connected.Store(true)
	if s.onConnected != nil {
		s.onConnected()
	}
	s.once.Do(func() { close(s.ready) })
	<-ctx.Done()
	s.connected.Store(false)
	return ctx.Err()
}

func (s *fakeAccountStream) Ready() <-chan struct{}              { return s.ready }
func (s *fakeAccountStream) IsConnected() bool                   { return s.connected.Load() }
func (s *fakeAccountStream) SetHandler(h gateway.AccountHandler) { s.handler = h }
func (s *fakeAccountStream) SetConnectedHandler(fn func())       { s.onConnected = fn }

// fakeGateway 下单后异步回一条 Live 推送，模拟账户流确认。
type fakeGateway struct {
	mu       sync.Mutex
	nextID   int
	placed   []gateway.OrderRequest
	canceled []string
	brk      *Brokerage
}

func (g *fakeGateway) ack(id string) {
	go g.brk.OnOrder(gateway.Order{ID: id, AccountNumber: testAccount, Status: gateway.StatusLive})
}

func (g *fakeGateway) PlaceOrder(_ context.Context, req gateway.OrderRequest) (gateway.Order, error) {
	g.mu.Lock()
	g.nextID++
	id := strconv.Itoa(500 + g.nextID)
	g.placed = append(g.placed, req)
	g.mu.Unlock()
	g.ack(id)
	return gateway.Order{ID: id, Status: gateway.StatusReceived}, nil
}

func (g *fakeGateway) ReplaceOrder(_ context.Context, _ string, req gateway.OrderRequest) (gateway.Order, error) {
	return g.PlaceOrder(context.Background(), req)
}

func (g *fakeGateway) CancelOrder(_ context.Context, brokerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.canceled = append(g.canceled, brokerID)
	return nil
}

func (g *fakeGateway) placedCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.placed)
}

// candleFeed 收到 Candle 订阅后推送 n 根 K 线；complete=false 时不发快照结束标记。
type candleFeed struct {
	mu       sync.Mutex
	agg      *market.CandleAggregator
	n        int
	complete bool
	subs     []gateway.Subscription
}

func (f *candleFeed) Subscribe(subs ...gateway.Subscription) error {
	f.mu.Lock()
	f.subs = append(f.subs, subs...)
	agg, n, complete := f.agg, f.n, f.complete
	f.mu.Unlock()
	for _, s := range subs {
		if s.Type != "Candle" {
			continue
		}
		period, err := periodOf(s.Symbol)
		if err != nil {
			return err
		}
		go func(s gateway.Subscription) {
			for i := 0; i < n; i++ {
				ts := time.UnixMilli(s.FromTime).Add(time.Duration(i) * period)
				agg.OnCandle(gateway.Candle{
					EventSymbol: s.Symbol,
					Time:        ts.UnixMilli(),
					Open:        fd("10"),
					High:        fd("11"),
					Low:         fd("9"),
					Close:       fd(fmt.Sprintf("10.%d", i)),
					Volume:      fd("100"),
				})
			}
			if complete {
				agg.OnCandle(gateway.Candle{EventSymbol: s.Symbol, EventFlags: gateway.FlagSnapshotEnd | gateway.FlagRemoveEvent})
			}
		}(s)
	}
	return nil
}

func (f *candleFeed) Unsubscribe(...gateway.Subscription) error { return nil }

func (f *candleFeed) liveSubs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.subs {
		if s.Type != "Candle" {
			n++
		}
	}
	return n
}

// periodOf 解析 "AAPL{=5m}" 中的周期
func periodOf(candleSymbol string) (time.Duration, error) {
	var base, period string
	for i := 0; i < len(candleSymbol); i++ {
		if candleSymbol[i] == '{' {
			base, period = candleSymbol[:i], candleSymbol[i+2:len(candleSymbol)-1]
			break
		}
	}
	if base == "" || period == "" {
		return 0, fmt.Errorf("not a candle symbol: %s", candleSymbol)
	}
	n, err := strconv.Atoi(period[:len(period)-1])
	if err != nil {
		return 0, err
	}
	switch period[len(period)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("bad period %s", period)
}

type recordingHost struct {
	mu       sync.Mutex
	events   []host.OrderEvent
	messages []host.BrokerageMessage
}

func (h *recordingHost) OnOrderEvents(events []host.OrderEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}

func (h *recordingHost) OnMessage(msg host.BrokerageMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHost) eventList() []host.OrderEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.OrderEvent(nil), h.events...)
}

func (h *recordingHost) hasMessage(code string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range h.messages {
		if m.Code == code {
			return true
		}
	}
	return false
}

type recordingWarner struct {
	mu      sync.Mutex
	symbols []string
}

func (w *recordingWarner) WarnUnknownAsset(sym string, _ error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.symbols = append(w.symbols, sym)
}

type recordingMetrics struct {
	mu      sync.Mutex
	subs    int
	history map[string]int
}

func (m *recordingMetrics) SetSubscriptions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = n
}

func (m *recordingMetrics) RecordHistoryRequest(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.history == nil {
		m.history = make(map[string]int)
	}
	m.history[result]++
}

func (m *recordingMetrics) historyCount(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history[result]
}

type fixture struct {
	brk     *Brokerage
	rest    *fakeREST
	account *fakeAccountStream
	gw      *fakeGateway
	feed    *candleFeed
	host    *recordingHost
	warner  *recordingWarner
	metrics *recordingMetrics
	book    *order.Book
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	if cfg.Account == "" {
		cfg.Account = testAccount
	}
	h := &recordingHost{}
	book := order.NewBook()
	book.SetDownstream(h)
	mapper := symbol.NewMapper(symbol.WithClock(func() time.Time { return testNow }))
	pending := order.NewPendingTracker(2*time.Second, nil)
	crossZero := order.NewCrossZeroTracker(book, nil)
	gw := &fakeGateway{}
	warner := &recordingWarner{}

	recon := order.NewReconciler(order.ReconcilerConfig{
		Pending:             pending,
		Orders:              book,
		CrossZero:           crossZero,
		Mapper:              mapper,
		Sink:                book,
		IgnoreUnknownAssets: cfg.IgnoreUnknownAssets,
		Warner:              warner,
	})
	mgr := order.NewManager(order.ManagerConfig{
		Gateway:   gw,
		Store:     book,
		Mapper:    mapper,
		Pending:   pending,
		CrossZero: crossZero,
		Sink:      book,
	})

	feed := &candleFeed{n: 3, complete: true}
	candles := market.NewCandleAggregator(feed, 300*time.Millisecond, nil)
	feed.agg = candles
	quotes := market.NewService(feed, mapper, nil, candles, nil)

	f := &fixture{
		rest: &fakeREST{
			balance: gateway.Balance{AccountNumber: testAccount, CashBalance: dec("1000"), Currency: "USD"},
		},
		account: newFakeAccountStream(),
		gw:      gw,
		feed:    feed,
		host:    h,
		warner:  warner,
		metrics: &recordingMetrics{},
		book:    book,
	}
	f.brk = New(cfg, Deps{
		REST:       f.rest,
		Account:    f.account,
		Orders:     mgr,
		Reconciler: recon,
		Book:       book,
		Mapper:     mapper,
		Quotes:     quotes,
		Candles:    candles,
		Warner:     warner,
		Metrics:    f.metrics,
	})
	gw.brk = f.brk
	t.Cleanup(f.brk.Disconnect)
	return f
}
