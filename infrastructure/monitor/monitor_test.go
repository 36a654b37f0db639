package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitorOrderCounters(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordOrderPlaced()
	m.RecordOrderPlaced()
	m.RecordOrderTimeout()
	m.RecordFill(false)
	m.RecordFill(false)
	m.RecordFill(true)
	m.ObserveOrderLatency(0.2)

	if got := testutil.ToFloat64(m.ordersPlaced); got != 2 {
		t.Fatalf("orders placed = %v", got)
	}
	if got := testutil.ToFloat64(m.orderTimeouts); got != 1 {
		t.Fatalf("timeouts = %v", got)
	}
	if got := testutil.ToFloat64(m.fills.WithLabelValues("false")); got != 2 {
		t.Fatalf("fresh fills = %v", got)
	}
	if got := testutil.ToFloat64(m.fills.WithLabelValues("true")); got != 1 {
		t.Fatalf("duplicate fills = %v", got)
	}
	if n := testutil.CollectAndCount(m.orderLatency); n != 1 {
		t.Fatalf("latency collectors = %d", n)
	}
}

func TestMonitorGatewayCounters(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordRESTRequest("place_order")
	m.RecordRESTError("place_order")
	m.RecordRESTLatency("place_order", 0.05)
	m.RecordWSConnection("account")
	m.RecordWSDisconnect("account")
	m.RecordWSConnection("market")
	m.SetSubscriptions(3)

	if got := testutil.ToFloat64(m.restErrors.WithLabelValues("place_order")); got != 1 {
		t.Fatalf("rest errors = %v", got)
	}
	if got := testutil.ToFloat64(m.wsConnections.WithLabelValues("market")); got != 1 {
		t.Fatalf("market connections = %v", got)
	}
	if got := testutil.ToFloat64(m.subscriptions); got != 3 {
		t.Fatalf("subscriptions = %v", got)
	}
}

func TestMonitorHandlerExposesMetrics(t *testing.T) {
	m := New(DefaultConfig())
	m.RecordOrderRejected()

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "tasty_brokerage_orders_rejected_total 1") {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}

func TestMonitorWatchReconciler(t *testing.T) {
	m := New(DefaultConfig())
	calls := 0
	m.WatchReconciler(func() ReconcilerStats {
		calls++
		return ReconcilerStats{TrackedOrders: 3, RecentFills: 10, FillsPerMinute: 2, TotalUpdates: 42}
	})

	if n, err := testutil.GatherAndCount(m.Registry(), "tasty_brokerage_reconciler_tracked_orders"); err != nil || n != 1 {
		t.Fatalf("tracked orders gauge: n=%d err=%v", n, err)
	}
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"tasty_brokerage_reconciler_tracked_orders 3",
		"tasty_brokerage_reconciler_recent_fills 10",
		"tasty_brokerage_reconciler_fills_per_minute 2",
		"tasty_brokerage_reconciler_updates 42",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("%q missing from output:\n%s", want, body)
		}
	}
	if calls == 0 {
		t.Fatalf("stats never read")
	}
}
