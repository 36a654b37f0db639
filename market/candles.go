package market

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
)

// ErrHistoryTimeout 快照未在期限内结束；返回值中仍带已收到的 K 线。
var ErrHistoryTimeout = errors.New("history snapshot timed out")

type historyRequest struct {
	symbol host.Symbol
	period time.Duration
	bars   map[int64]host.Bar
	done   chan struct{}
	closed bool
}

// CandleAggregator 把行情流的 Candle 快照收集为历史 K 线。
// 同一 candle 代码的请求串行执行，不同代码互不影响。
type CandleAggregator struct {
	feed    FeedSubscriber
	timeout time.Duration
	logger  *logger.Logger

	mu       sync.Mutex
	requests map[string]*historyRequest
	keyLocks map[string]*sync.Mutex
}

func NewCandleAggregator(feed FeedSubscriber, timeout time.Duration, log *logger.Logger) *CandleAggregator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &CandleAggregator{
		feed:     feed,
		timeout:  timeout,
		logger:   log,
		requests: make(map[string]*historyRequest),
		keyLocks: make(map[string]*sync.Mutex),
	}
}

func (a *CandleAggregator) keyLock(key string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		a.keyLocks[key] = l
	}
	return l
}

// History 订阅 streamSymbol 的 period K 线（fromTime=start），等待快照结束后退订，
// 返回 [start, end) 内按时间升序的 K 线。
func (a *CandleAggregator) History(ctx context.Context, sym host.Symbol, streamSymbol string, period time.Duration, start, end time.Time) ([]host.Bar, error) {
	p, err := gateway.CandlePeriod(period)
	if err != nil {
		return nil, err
	}
	key := gateway.CandleSymbol(streamSymbol, p)

	l := a.keyLock(key)
	l.Lock()
	defer l.Unlock()

	req := &historyRequest{
		symbol: sym,
		period: period,
		bars:   make(map[int64]host.Bar),
		done:   make(chan struct{}),
	}
	a.mu.Lock()
	a.requests[key] = req
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.requests, key)
		a.mu.Unlock()
	}()

	sub := gateway.Subscription{Type: "Candle", Symbol: key, FromTime: start.UnixMilli()}
	if err := a.feed.Subscribe(sub); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}
	defer func() {
		if err := a.feed.Unsubscribe(sub); err != nil {
			a.logger.Warn("candle unsubscribe failed", zap.String("symbol", key), zap.Error(err))
		}
	}()

	timer := time.NewTimer(a.timeout)
	defer timer.Stop()
	var waitErr error
	select {
	case <-req.done:
	case <-timer.C:
		waitErr = fmt.Errorf("%w: %s after %s", ErrHistoryTimeout, key, a.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	a.mu.Lock()
	bars := make([]host.Bar, 0, len(req.bars))
	for _, b := range req.bars {
		if b.Time.Before(start) || !b.Time.Before(end) {
			continue
		}
		bars = append(bars, b)
	}
	a.mu.Unlock()
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, waitErr
}

// OnCandle 按 candle 时间去重写入；REMOVE 标记删除，快照结束时唤醒等待方。
func (a *CandleAggregator) OnCandle(c gateway.Candle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	req, ok := a.requests[c.EventSymbol]
	if !ok || req.closed {
		return
	}
	switch {
	case c.Removed():
		delete(req.bars, c.Time)
	case c.Close.Valid && c.Time > 0:
		req.bars[c.Time] = toBar(req.symbol, req.period, c)
	}
	if c.SnapshotComplete() {
		req.closed = true
		close(req.done)
	}
}

// Pending 等待中的历史请求数。
func (a *CandleAggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func toBar(sym host.Symbol, period time.Duration, c gateway.Candle) host.Bar {
	b := host.Bar{
		Symbol: sym,
		Time:   c.StartTime(),
		Period: period,
		Close:  c.Close.Decimal,
		Open:   c.Close.Decimal,
		High:   c.Close.Decimal,
		Low:    c.Close.Decimal,
	}
	if c.Open.Valid {
		b.Open = c.Open.Decimal
	}
	if c.High.Valid {
		b.High = c.High.Decimal
	}
	if c.Low.Valid {
		b.Low = c.Low.Decimal
	}
	if c.Volume.Valid {
		b.Volume = c.Volume.Decimal
	}
	return b
}
