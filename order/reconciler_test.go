package order

import (
	"context"
	"strings"
	"testing"
	"time"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
)

func addWithBroker(f *fixture, o *host.Order, brokerID string) {
	f.book.Add(o)
	f.book.AddBrokerID(o.ID, brokerID)
}

func TestReconcilerFillIdempotent(t *testing.T) {
	f := newFixture(t, time.Second)
	o := equityOrder("AAPL", "5")
	addWithBroker(f, o, "100")

	u := update("100", gateway.StatusLive,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "3", fill("f1", "2", "150.25")))
	if err := f.reconciler.HandleOrderUpdate(u); err != nil {
		t.Fatalf("handle: %v", err)
	}
	events := f.sink.events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev.Status != host.OrderStatusPartiallyFilled || !ev.FillQuantity.Equal(dec("2")) || !ev.FillPrice.Equal(dec("150.25")) {
		t.Fatalf("unexpected event %+v", ev)
	}

	// 重放同一条推送
	if err := f.reconciler.HandleOrderUpdate(u); err != nil {
		t.Fatalf("handle replay: %v", err)
	}
	if got := len(f.sink.events()); got != 1 {
		t.Fatalf("replayed fill emitted again: %d events", got)
	}
	if !f.book.HoldingsQuantity(o.Symbol).Equal(dec("2")) {
		t.Fatalf("holdings applied twice: %s", f.book.HoldingsQuantity(o.Symbol))
	}
}

func TestReconcilerPartialFillsAccumulate(t *testing.T) {
	f := newFixture(t, time.Second)
	o := equityOrder("AAPL", "5")
	addWithBroker(f, o, "100")

	first := update("100", gateway.StatusLive,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "4", fill("f1", "1", "10")))
	if err := f.reconciler.HandleOrderUpdate(first); err != nil {
		t.Fatalf("handle: %v", err)
	}

	// 第二条推送包含全部历史成交，只有 f2/f3 是新的
	second := update("100", gateway.StatusFilled,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "0",
			fill("f1", "1", "10"), fill("f2", "2", "10.5"), fill("f3", "2", "11")))
	if err := f.reconciler.HandleOrderUpdate(second); err != nil {
		t.Fatalf("handle: %v", err)
	}

	events := f.sink.events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	want := []struct {
		status host.OrderStatus
		qty    string
	}{
		{host.OrderStatusPartiallyFilled, "1"},
		{host.OrderStatusPartiallyFilled, "2"},
		{host.OrderStatusFilled, "2"},
	}
	for i, w := range want {
		if events[i].Status != w.status || !events[i].FillQuantity.Equal(dec(w.qty)) {
			t.Fatalf("event %d = %s %s, want %s %s", i, events[i].Status, events[i].FillQuantity, w.status, w.qty)
		}
	}
	if !f.book.HoldingsQuantity(o.Symbol).Equal(dec("5")) {
		t.Fatalf("holdings = %s", f.book.HoldingsQuantity(o.Symbol))
	}
	if st, _ := f.book.Status(o.ID); st != host.OrderStatusFilled {
		t.Fatalf("book status = %s", st)
	}
}

func TestReconcilerSellFillIsNegative(t *testing.T) {
	f := newFixture(t, time.Second)
	o := equityOrder("AAPL", "-5")
	addWithBroker(f, o, "100")

	u := update("100", gateway.StatusFilled,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionSellToClose, "0", fill("f1", "5", "99")))
	if err := f.reconciler.HandleOrderUpdate(u); err != nil {
		t.Fatalf("handle: %v", err)
	}
	events := f.sink.events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Status != host.OrderStatusFilled || !events[0].FillQuantity.Equal(dec("-5")) {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestReconcilerComboLegsDedupIndependently(t *testing.T) {
	f := newFixture(t, time.Second)
	expiry := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	group := &host.GroupOrderManager{ID: 7, Count: 2, Quantity: dec("1"), OrderIDs: []int{1, 2}}
	call := &host.Order{
		ID:       1,
		Symbol:   host.NewOption(host.NewEquity("AAPL"), expiry, host.RightCall, dec("200")),
		Quantity: dec("1"),
		Type:     host.OrderTypeComboMarket,
		Group:    group,
	}
	put := &host.Order{
		ID:       2,
		Symbol:   host.NewOption(host.NewEquity("AAPL"), expiry, host.RightPut, dec("180")),
		Quantity: dec("-1"),
		Type:     host.OrderTypeComboMarket,
		Group:    group,
	}
	f.book.Add(call)
	f.book.Add(put)
	f.book.AddBrokerID(call.ID, "200")

	u := gateway.Order{
		ID:               "200",
		Status:           gateway.StatusFilled,
		UnderlyingSymbol: "AAPL",
		Legs: []gateway.Leg{
			leg("AAPL  241115C00200000", gateway.InstrumentEquityOption, gateway.ActionBuyToOpen, "0", fill("1", "1", "3.2")),
			leg("AAPL  241115P00180000", gateway.InstrumentEquityOption, gateway.ActionSellToOpen, "0", fill("1", "1", "1.1")),
		},
	}
	if err := f.reconciler.HandleOrderUpdate(u); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.sink.batchCount() != 1 {
		t.Fatalf("combo fills should arrive as one batch, got %d", f.sink.batchCount())
	}
	events := f.sink.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].OrderID != call.ID || !events[0].FillQuantity.Equal(dec("1")) {
		t.Fatalf("call leg event %+v", events[0])
	}
	if events[1].OrderID != put.ID || !events[1].FillQuantity.Equal(dec("-1")) {
		t.Fatalf("put leg event %+v", events[1])
	}
}

func TestReconcilerEmptyFillsNoop(t *testing.T) {
	f := newFixture(t, time.Second)
	o := equityOrder("AAPL", "5")
	addWithBroker(f, o, "100")

	for _, st := range []gateway.OrderStatus{gateway.StatusLive, gateway.StatusFilled, gateway.StatusRouted} {
		u := update("100", st, leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "5"))
		if err := f.reconciler.HandleOrderUpdate(u); err != nil {
			t.Fatalf("handle %s: %v", st, err)
		}
	}
	if got := len(f.sink.events()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
}

func TestReconcilerTerminalStatuses(t *testing.T) {
	cases := []struct {
		name    string
		status  gateway.OrderStatus
		want    host.OrderStatus
		message string
	}{
		{"撤单", gateway.StatusCancelled, host.OrderStatusCanceled, ""},
		{"过期", gateway.StatusExpired, host.OrderStatusCanceled, "expired"},
		{"拒绝", gateway.StatusRejected, host.OrderStatusInvalid, "no buying power"},
		{"移除", gateway.StatusRemoved, host.OrderStatusCanceled, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, time.Second)
			o := equityOrder("AAPL", "5")
			addWithBroker(f, o, "100")

			u := update("100", tc.status)
			u.RejectReason = "no buying power"
			if err := f.reconciler.HandleOrderUpdate(u); err != nil {
				t.Fatalf("handle: %v", err)
			}
			events := f.sink.events()
			if len(events) != 1 {
				t.Fatalf("expected 1 event, got %d", len(events))
			}
			if events[0].Status != tc.want {
				t.Fatalf("status = %s, want %s", events[0].Status, tc.want)
			}
			if !strings.Contains(events[0].Message, tc.message) {
				t.Fatalf("message %q does not contain %q", events[0].Message, tc.message)
			}
		})
	}
}

func TestReconcilerUnknownBrokerID(t *testing.T) {
	f := newFixture(t, time.Second)

	u := update("999", gateway.StatusFilled,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "0", fill("f1", "1", "10")))
	if err := f.reconciler.HandleOrderUpdate(u); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got := len(f.sink.events()); got != 0 {
		t.Fatalf("expected no events, got %d", got)
	}
	msgs := f.sink.msgs()
	if len(msgs) != 1 || msgs[0].Type != host.MessageWarning {
		t.Fatalf("expected one warning, got %+v", msgs)
	}
	if st := f.reconciler.Stats(); st.UnknownUpdates != 1 || st.TotalUpdates != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestReconcilerUnknownComboLegSymbol(t *testing.T) {
	group := &host.GroupOrderManager{ID: 1, Count: 2, Quantity: dec("1"), OrderIDs: []int{1, 2}}
	build := func(f *fixture) {
		a := &host.Order{ID: 1, Symbol: host.NewEquity("AAPL"), Quantity: dec("1"), Type: host.OrderTypeComboMarket, Group: group}
		b := &host.Order{ID: 2, Symbol: host.NewEquity("MSFT"), Quantity: dec("1"), Type: host.OrderTypeComboMarket, Group: group}
		f.book.Add(a)
		f.book.Add(b)
		f.book.AddBrokerID(a.ID, "300")
	}
	u := update("300", gateway.StatusLive,
		leg("XYZ", gateway.InstrumentCrypto, gateway.ActionBuy, "0", fill("f1", "1", "10")))

	f := newFixture(t, time.Second)
	build(f)
	if err := f.reconciler.HandleOrderUpdate(u); err == nil {
		t.Fatalf("expected error for unsupported leg")
	}

	f = newFixture(t, time.Second)
	build(f)
	warner := &recordingWarner{}
	f.reconciler.SetIgnoreUnknownAssets(true)
	f.reconciler.warner = warner
	if err := f.reconciler.HandleOrderUpdate(u); err != nil {
		t.Fatalf("ignore mode should not fail: %v", err)
	}
	if len(warner.symbols) != 1 || warner.symbols[0] != "XYZ" {
		t.Fatalf("warner = %v", warner.symbols)
	}
}

type recordingWarner struct {
	symbols []string
}

func (w *recordingWarner) WarnUnknownAsset(sym string, _ error) {
	w.symbols = append(w.symbols, sym)
}

func TestReconcilerCrossZeroClosingFillsInOneUpdate(t *testing.T) {
	f := newFixture(t, time.Second)
	f.confirmLive(t)
	o := equityOrder("AAPL", "-8")
	f.book.Add(o)
	f.book.SetHoldings([]host.Holding{{Symbol: o.Symbol, Quantity: dec("5")}})

	if ok := f.manager.PlaceOrder(context.Background(), o); !ok {
		t.Fatalf("place failed")
	}
	first := f.gw.requests()[0]
	if first.Legs[0].Action != gateway.ActionSellToClose || !first.Legs[0].Quantity.Equal(dec("5")) {
		t.Fatalf("closing leg = %+v", first.Legs[0])
	}
	f.sink.reset()

	// 平仓段分两笔成交，在同一条推送里到达
	filled := update("1001", gateway.StatusFilled,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionSellToClose, "0",
			fill("f1", "2", "100"), fill("f2", "3", "100.5")))
	if err := f.reconciler.HandleOrderUpdate(filled); err != nil {
		t.Fatalf("handle: %v", err)
	}
	events := f.sink.events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %+v", events)
	}
	for i, want := range []string{"-2", "-3"} {
		if events[i].Status != host.OrderStatusPartiallyFilled || !events[i].FillQuantity.Equal(dec(want)) {
			t.Fatalf("event %d = %s %s", i, events[i].Status, events[i].FillQuantity)
		}
	}

	waitFor(t, "remainder order", func() bool { return len(f.gw.requests()) == 2 })
	second := f.gw.requests()[1]
	if second.Legs[0].Action != gateway.ActionSellToOpen || !second.Legs[0].Quantity.Equal(dec("3")) {
		t.Fatalf("opening leg = %+v", second.Legs[0])
	}
	if !f.book.HoldingsQuantity(o.Symbol).IsZero() {
		t.Fatalf("holdings after closing = %s", f.book.HoldingsQuantity(o.Symbol))
	}
}

func TestReconcilerPartialEmptyPartialFilled(t *testing.T) {
	f := newFixture(t, time.Second)
	o := equityOrder("AAPL", "5")
	addWithBroker(f, o, "100")

	updates := []gateway.Order{
		update("100", gateway.StatusLive,
			leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "4", fill("f1", "1", "10"))),
		update("100", gateway.StatusLive),
		update("100", gateway.StatusLive,
			leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "4", fill("f1", "1", "10"))),
		update("100", gateway.StatusLive,
			leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "2", fill("f1", "1", "10"), fill("f2", "2", "10.5"))),
		update("100", gateway.StatusFilled,
			leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "0",
				fill("f1", "1", "10"), fill("f2", "2", "10.5"), fill("f3", "2", "11"))),
	}
	for i, u := range updates {
		if err := f.reconciler.HandleOrderUpdate(u); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	events := f.sink.events()
	want := []struct {
		status host.OrderStatus
		qty    string
	}{
		{host.OrderStatusPartiallyFilled, "1"},
		{host.OrderStatusPartiallyFilled, "2"},
		{host.OrderStatusFilled, "2"},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, w := range want {
		if events[i].Status != w.status || !events[i].FillQuantity.Equal(dec(w.qty)) {
			t.Fatalf("event %d = %s %s, want %s %s", i, events[i].Status, events[i].FillQuantity, w.status, w.qty)
		}
	}
	if !f.book.HoldingsQuantity(o.Symbol).Equal(dec("5")) {
		t.Fatalf("holdings = %s", f.book.HoldingsQuantity(o.Symbol))
	}
}

func TestReconcilerComboLegsAcrossUpdates(t *testing.T) {
	f := newFixture(t, time.Second)
	expiry := time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC)
	group := &host.GroupOrderManager{ID: 8, Count: 2, Quantity: dec("1"), OrderIDs: []int{1, 2}}
	call := &host.Order{
		ID:       1,
		Symbol:   host.NewOption(host.NewEquity("AAPL"), expiry, host.RightCall, dec("200")),
		Quantity: dec("4"),
		Type:     host.OrderTypeComboLimit,
		Group:    group,
	}
	put := &host.Order{
		ID:       2,
		Symbol:   host.NewOption(host.NewEquity("AAPL"), expiry, host.RightPut, dec("180")),
		Quantity: dec("-2"),
		Type:     host.OrderTypeComboLimit,
		Group:    group,
	}
	f.book.Add(call)
	f.book.Add(put)
	f.book.AddBrokerID(call.ID, "200")

	const callSym, putSym = "AAPL  241115C00200000", "AAPL  241115P00180000"
	combo := func(status gateway.OrderStatus, legs ...gateway.Leg) gateway.Order {
		return gateway.Order{ID: "200", Status: status, UnderlyingSymbol: "AAPL", Legs: legs}
	}
	updates := []gateway.Order{
		combo(gateway.StatusLive,
			leg(callSym, gateway.InstrumentEquityOption, gateway.ActionBuyToOpen, "3", fill("1", "1", "3.2")),
			leg(putSym, gateway.InstrumentEquityOption, gateway.ActionSellToOpen, "2")),
		combo(gateway.StatusLive,
			leg(callSym, gateway.InstrumentEquityOption, gateway.ActionBuyToOpen, "1", fill("1", "1", "3.2"), fill("2", "2", "3.3")),
			leg(putSym, gateway.InstrumentEquityOption, gateway.ActionSellToOpen, "2")),
		// 看跌腿的成交号与看涨腿重复，各腿独立去重
		combo(gateway.StatusLive,
			leg(callSym, gateway.InstrumentEquityOption, gateway.ActionBuyToOpen, "1", fill("1", "1", "3.2"), fill("2", "2", "3.3")),
			leg(putSym, gateway.InstrumentEquityOption, gateway.ActionSellToOpen, "0", fill("1", "2", "1.1"))),
	}
	for i, u := range updates {
		if err := f.reconciler.HandleOrderUpdate(u); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	events := f.sink.events()
	want := []struct {
		orderID int
		status  host.OrderStatus
		qty     string
	}{
		{call.ID, host.OrderStatusPartiallyFilled, "1"},
		{call.ID, host.OrderStatusPartiallyFilled, "2"},
		{put.ID, host.OrderStatusFilled, "-2"},
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), events)
	}
	for i, w := range want {
		ev := events[i]
		if ev.OrderID != w.orderID || ev.Status != w.status || !ev.FillQuantity.Equal(dec(w.qty)) {
			t.Fatalf("event %d = #%d %s %s", i, ev.OrderID, ev.Status, ev.FillQuantity)
		}
	}
}

func TestReconcilerForgetsClosedOrders(t *testing.T) {
	f := newFixture(t, time.Second)
	o := equityOrder("AAPL", "5")
	addWithBroker(f, o, "300")

	partial := update("300", gateway.StatusLive,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "3", fill("f1", "2", "10")))
	if err := f.reconciler.HandleOrderUpdate(partial); err != nil {
		t.Fatalf("handle partial: %v", err)
	}
	if st := f.reconciler.Stats(); st.Fills.Orders != 1 {
		t.Fatalf("open order not tracked: %+v", st.Fills)
	}

	filled := update("300", gateway.StatusFilled,
		leg("AAPL", gateway.InstrumentEquity, gateway.ActionBuyToOpen, "0", fill("f1", "2", "10"), fill("f2", "3", "10.5")))
	if err := f.reconciler.HandleOrderUpdate(filled); err != nil {
		t.Fatalf("handle filled: %v", err)
	}
	st := f.reconciler.Stats()
	if st.Fills.Orders != 0 || st.Fills.TotalFills != 2 {
		t.Fatalf("closed order still tracked: %+v", st.Fills)
	}

	// 记录已释放，重放由订单状态挡住
	if err := f.reconciler.HandleOrderUpdate(filled); err != nil {
		t.Fatalf("handle replay: %v", err)
	}
	if got := len(f.sink.events()); got != 2 {
		t.Fatalf("expected 2 events, got %d", got)
	}
	if !f.book.HoldingsQuantity(o.Symbol).Equal(dec("5")) {
		t.Fatalf("holdings = %s", f.book.HoldingsQuantity(o.Symbol))
	}
}
