package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器
// 同时实现 order.Metrics 与 gateway.Metrics。
type Monitor struct {
	registry *prometheus.Registry
	cfg      Config

	// 订单指标
	ordersPlaced   prometheus.Counter
	ordersCanceled prometheus.Counter
	ordersFilled   prometheus.Counter
	ordersRejected prometheus.Counter
	orderTimeouts  prometheus.Counter
	orderLatency   prometheus.Histogram
	unknownUpdates prometheus.Counter

	// 成交指标
	fills *prometheus.CounterVec

	// 行情指标
	subscriptions prometheus.Gauge
	historyReqs   *prometheus.CounterVec

	// 系统指标
	wsConnections *prometheus.CounterVec
	wsDisconnects *prometheus.CounterVec
	restRequests  *prometheus.CounterVec
	restErrors    *prometheus.CounterVec
	restLatency   *prometheus.HistogramVec
}

// Config 监控配置
type Config struct {
	Namespace string
	Subsystem string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Namespace: "tasty",
		Subsystem: "brokerage",
	}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		})
	}
	counterVec := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Monitor{
		registry: reg,
		cfg:      cfg,

		ordersPlaced:   counter("orders_placed_total", "券商确认的下单总数"),
		ordersCanceled: counter("orders_canceled_total", "撤单/过期/移除总数"),
		ordersFilled:   counter("orders_filled_total", "完全成交订单总数"),
		ordersRejected: counter("orders_rejected_total", "被拒订单总数"),
		orderTimeouts:  counter("order_confirmation_timeouts_total", "等待券商确认超时次数"),
		unknownUpdates: counter("unknown_order_updates_total", "找不到宿主订单的推送次数"),
		orderLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "order_confirmation_seconds",
			Help:      "从提交到券商确认的延迟（秒）",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		fills: counterVec("fills_total", "成交回报数，duplicate 表示重复推送", "duplicate"),

		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "market_subscriptions",
			Help:      "当前行情订阅品种数",
		}),
		historyReqs: counterVec("history_requests_total", "历史K线请求数", "result"),

		wsConnections: counterVec("ws_connections_total", "WebSocket连接次数", "stream"),
		wsDisconnects: counterVec("ws_disconnects_total", "WebSocket断开次数", "stream"),
		restRequests:  counterVec("rest_requests_total", "REST请求总数", "action"),
		restErrors:    counterVec("rest_errors_total", "REST错误总数", "action"),
		restLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rest_latency_seconds",
				Help:      "REST请求延迟（秒）",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}
	return m
}

// 订单相关方法
func (m *Monitor) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

func (m *Monitor) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

func (m *Monitor) RecordOrderFilled() {
	m.ordersFilled.Inc()
}

func (m *Monitor) RecordOrderRejected() {
	m.ordersRejected.Inc()
}

func (m *Monitor) RecordOrderTimeout() {
	m.orderTimeouts.Inc()
}

func (m *Monitor) RecordUnknownOrderUpdate() {
	m.unknownUpdates.Inc()
}

func (m *Monitor) ObserveOrderLatency(seconds float64) {
	m.orderLatency.Observe(seconds)
}

func (m *Monitor) RecordFill(duplicate bool) {
	if duplicate {
		m.fills.WithLabelValues("true").Inc()
		return
	}
	m.fills.WithLabelValues("false").Inc()
}

// 行情相关方法
func (m *Monitor) SetSubscriptions(n int) {
	m.subscriptions.Set(float64(n))
}

func (m *Monitor) RecordHistoryRequest(result string) {
	m.historyReqs.WithLabelValues(result).Inc()
}

// 系统相关方法
func (m *Monitor) RecordWSConnection(stream string) {
	m.wsConnections.WithLabelValues(stream).Inc()
}

func (m *Monitor) RecordWSDisconnect(stream string) {
	m.wsDisconnects.WithLabelValues(stream).Inc()
}

func (m *Monitor) RecordRESTRequest(action string) {
	m.restRequests.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTError(action string) {
	m.restErrors.WithLabelValues(action).Inc()
}

func (m *Monitor) RecordRESTLatency(action string, seconds float64) {
	m.restLatency.WithLabelValues(action).Observe(seconds)
}

// ReconcilerStats 对账器状态快照
type ReconcilerStats struct {
	TrackedOrders  int // 仍在做成交去重的订单数
	RecentFills    int
	FillsPerMinute float64
	TotalUpdates   int64
}

// WatchReconciler 以 GaugeFunc 暴露对账器状态，抓取时调用 stats；只能调用一次。
func (m *Monitor) WatchReconciler(stats func() ReconcilerStats) {
	factory := promauto.With(m.registry)
	gauge := func(name, help string, value func(ReconcilerStats) float64) {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: m.cfg.Namespace,
			Subsystem: m.cfg.Subsystem,
			Name:      name,
			Help:      help,
		}, func() float64 { return value(stats()) })
	}
	gauge("reconciler_tracked_orders", "成交去重中的订单数", func(s ReconcilerStats) float64 { return float64(s.TrackedOrders) })
	gauge("reconciler_recent_fills", "滑动窗口内的成交数", func(s ReconcilerStats) float64 { return float64(s.RecentFills) })
	gauge("reconciler_fills_per_minute", "滑动窗口内每分钟成交数", func(s ReconcilerStats) float64 { return s.FillsPerMinute })
	gauge("reconciler_updates", "已处理的订单推送数", func(s ReconcilerStats) float64 { return float64(s.TotalUpdates) })
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
