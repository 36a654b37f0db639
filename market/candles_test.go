package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
)

var histStart = time.Date(2024, 10, 1, 13, 30, 0, 0, time.UTC)

// snapshotFeed 收到 Candle 订阅后按倒序推送 n 根 K 线并以 SNAPSHOT_END 结束，模拟行情流。
func snapshotFeed(agg **CandleAggregator, n int, period time.Duration) *fakeFeed {
	feed := &fakeFeed{}
	feed.onSub = func(s gateway.Subscription) {
		if s.Type != "Candle" {
			return
		}
		for i := n - 1; i >= 0; i-- {
			ts := time.UnixMilli(s.FromTime).Add(time.Duration(i) * period)
			c := gateway.Candle{
				EventSymbol: s.Symbol,
				Time:        ts.UnixMilli(),
				Open:        fd(fmt.Sprintf("%d", 100+i)),
				High:        fd(fmt.Sprintf("%d", 101+i)),
				Low:         fd(fmt.Sprintf("%d", 99+i)),
				Close:       fd(fmt.Sprintf("%d.5", 100+i)),
				Volume:      fd("10"),
			}
			if i == n-1 {
				c.EventFlags = gateway.FlagSnapshotBegin
			}
			(*agg).OnCandle(c)
			// 重复推送同一时间的 K 线应被覆盖而不是追加
			(*agg).OnCandle(c)
		}
		(*agg).OnCandle(gateway.Candle{EventSymbol: s.Symbol, EventFlags: gateway.FlagSnapshotEnd | gateway.FlagRemoveEvent})
	}
	return feed
}

func TestCandleAggregatorHistory(t *testing.T) {
	var agg *CandleAggregator
	feed := snapshotFeed(&agg, 5, time.Minute)
	agg = NewCandleAggregator(feed, 2*time.Second, nil)

	bars, err := agg.History(context.Background(), host.NewEquity("AAPL"), "AAPL", time.Minute, histStart, histStart.Add(4*time.Minute))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(bars) != 4 {
		t.Fatalf("expected 4 bars inside range, got %d", len(bars))
	}
	for i, b := range bars {
		if !b.Time.Equal(histStart.Add(time.Duration(i) * time.Minute)) {
			t.Fatalf("bar %d out of order: %s", i, b.Time)
		}
		if b.Period != time.Minute || b.Symbol.Value != "AAPL" {
			t.Fatalf("unexpected bar %+v", b)
		}
	}
	if bars[0].Close.String() != "100.5" {
		t.Fatalf("unexpected close %s", bars[0].Close)
	}
	if _, removed := feed.counts(); removed != 1 {
		t.Fatalf("expected candle unsubscribe after snapshot")
	}
	if agg.Pending() != 0 {
		t.Fatalf("expected request cleaned up")
	}
}

func TestCandleAggregatorTimeoutKeepsPartial(t *testing.T) {
	var agg *CandleAggregator
	feed := &fakeFeed{}
	feed.onSub = func(s gateway.Subscription) {
		agg.OnCandle(gateway.Candle{EventSymbol: s.Symbol, Time: s.FromTime, Close: fd("1")})
	}
	agg = NewCandleAggregator(feed, 200*time.Millisecond, nil)

	bars, err := agg.History(context.Background(), host.NewEquity("AAPL"), "AAPL", time.Hour, histStart, histStart.Add(24*time.Hour))
	if !errors.Is(err, ErrHistoryTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("expected partial bar, got %d", len(bars))
	}
}

func TestCandleAggregatorRejectsTickPeriod(t *testing.T) {
	agg := NewCandleAggregator(&fakeFeed{}, time.Second, nil)
	if _, err := agg.History(context.Background(), host.NewEquity("AAPL"), "AAPL", 0, histStart, histStart); err == nil {
		t.Fatalf("expected error for zero period")
	}
}

func TestCandleAggregatorConcurrentRequests(t *testing.T) {
	var agg *CandleAggregator
	feed := snapshotFeed(&agg, 3, time.Minute)
	agg = NewCandleAggregator(feed, 5*time.Second, nil)

	type req struct {
		ticker string
		period time.Duration
	}
	reqs := []req{
		{"AAPL", time.Minute}, {"AAPL", time.Hour}, {"MSFT", time.Minute}, {"MSFT", 24 * time.Hour},
		{"SPY", time.Second}, {"SPY", time.Minute}, {"QQQ", time.Hour}, {"AAPL", time.Minute},
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(reqs))
	for _, r := range reqs {
		wg.Add(1)
		go func(r req) {
			defer wg.Done()
			end := histStart.Add(3 * r.period)
			bars, err := agg.History(context.Background(), host.NewEquity(r.ticker), r.ticker, r.period, histStart, end)
			if err != nil {
				errs <- err
				return
			}
			// snapshotFeed 固定以分钟为步长推送，这里只校验分钟周期的数量
			for _, b := range bars {
				if b.Symbol.Value != r.ticker || b.Period != r.period {
					errs <- fmt.Errorf("%s/%s got foreign bar %+v", r.ticker, r.period, b)
					return
				}
			}
			if r.period == time.Minute && len(bars) != 3 {
				errs <- fmt.Errorf("%s/%s expected 3 bars, got %d", r.ticker, r.period, len(bars))
			}
		}(r)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if agg.Pending() != 0 {
		t.Fatalf("expected no pending requests, got %d", agg.Pending())
	}
}
