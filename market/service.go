package market

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
)

// FeedSubscriber 行情流订阅接口（gateway.MarketStreamer 实现）。
type FeedSubscriber interface {
	Subscribe(subs ...gateway.Subscription) error
	Unsubscribe(subs ...gateway.Subscription) error
}

// StreamSymbolMapper 宿主代码转行情流代码。
type StreamSymbolMapper interface {
	StreamSymbol(s host.Symbol) (string, error)
}

var liveEventTypes = []string{"Quote", "Trade", "Summary"}

// Service 维护订阅引用计数与最新行情，并把行情转换为 host.Tick 广播。
// 实现 gateway.MarketHandler，K线事件转交 CandleAggregator。
type Service struct {
	feed    FeedSubscriber
	mapper  StreamSymbolMapper
	pub     *Publisher
	candles *CandleAggregator
	logger  *logger.Logger
	now     func() time.Time

	mu      sync.RWMutex
	refs    map[string]int
	symbols map[string]host.Symbol
	latest  map[string]Snapshot
}

func NewService(feed FeedSubscriber, mapper StreamSymbolMapper, pub *Publisher, candles *CandleAggregator, log *logger.Logger) *Service {
	if pub == nil {
		pub = NewPublisher(256)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		feed:    feed,
		mapper:  mapper,
		pub:     pub,
		candles: candles,
		logger:  log,
		now:     time.Now,
		refs:    make(map[string]int),
		symbols: make(map[string]host.Symbol),
		latest:  make(map[string]Snapshot),
	}
}

func (s *Service) Publisher() *Publisher { return s.pub }

func liveSubs(streamSymbol string) []gateway.Subscription {
	subs := make([]gateway.Subscription, 0, len(liveEventTypes))
	for _, t := range liveEventTypes {
		subs = append(subs, gateway.Subscription{Type: t, Symbol: streamSymbol})
	}
	return subs
}

func (s *Service) streamSymbols(symbols []host.Symbol) ([]string, error) {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		stream, err := s.mapper.StreamSymbol(sym)
		if err != nil {
			return nil, fmt.Errorf("stream symbol %s: %w", sym, err)
		}
		out = append(out, stream)
	}
	return out, nil
}

// Subscribe 引用计数加一；首次订阅时向行情流下发。
func (s *Service) Subscribe(symbols ...host.Symbol) error {
	streams, err := s.streamSymbols(symbols)
	if err != nil {
		return err
	}
	var add []gateway.Subscription
	s.mu.Lock()
	for i, stream := range streams {
		s.refs[stream]++
		if s.refs[stream] == 1 {
			s.symbols[stream] = symbols[i]
			add = append(add, liveSubs(stream)...)
		}
	}
	s.mu.Unlock()
	if len(add) == 0 {
		return nil
	}
	return s.feed.Subscribe(add...)
}

// Unsubscribe 引用计数减一；归零时退订并清理快照。
func (s *Service) Unsubscribe(symbols ...host.Symbol) error {
	streams, err := s.streamSymbols(symbols)
	if err != nil {
		return err
	}
	var remove []gateway.Subscription
	s.mu.Lock()
	for _, stream := range streams {
		n, ok := s.refs[stream]
		if !ok {
			continue
		}
		if n > 1 {
			s.refs[stream] = n - 1
			continue
		}
		delete(s.refs, stream)
		delete(s.symbols, stream)
		delete(s.latest, stream)
		remove = append(remove, liveSubs(stream)...)
	}
	s.mu.Unlock()
	if len(remove) == 0 {
		return nil
	}
	return s.feed.Unsubscribe(remove...)
}

// Subscribed 当前订阅的品种数。
func (s *Service) Subscribed() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.refs)
}

// Latest 返回最新快照。
func (s *Service) Latest(sym host.Symbol) (Snapshot, bool) {
	stream, err := s.mapper.StreamSymbol(sym)
	if err != nil {
		return Snapshot{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latest[stream]
	return snap, ok
}

// Staleness 返回距离上次更新的时间间隔；无数据时返回一年。
func (s *Service) Staleness(sym host.Symbol) time.Duration {
	snap, ok := s.Latest(sym)
	if !ok || snap.Updated.IsZero() {
		return time.Hour * 24 * 365
	}
	return s.now().Sub(snap.Updated)
}

// update 在锁内修改快照；未订阅的代码返回 false。
func (s *Service) update(stream string, fn func(*Snapshot)) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sym, ok := s.symbols[stream]
	if !ok {
		return Snapshot{}, false
	}
	snap := s.latest[stream]
	snap.Symbol = sym
	fn(&snap)
	s.latest[stream] = snap
	return snap, true
}

func eventTime(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

func (s *Service) OnQuote(q gateway.Quote) {
	at := eventTime(max(q.BidTime, q.AskTime), s.now().UTC())
	snap, ok := s.update(q.EventSymbol, func(sn *Snapshot) {
		if q.BidPrice.Valid {
			sn.BidPrice = q.BidPrice.Decimal
		}
		if q.BidSize.Valid {
			sn.BidSize = q.BidSize.Decimal
		}
		if q.AskPrice.Valid {
			sn.AskPrice = q.AskPrice.Decimal
		}
		if q.AskSize.Valid {
			sn.AskSize = q.AskSize.Decimal
		}
		sn.Updated = at
	})
	if !ok {
		return
	}
	s.pub.Publish(host.Tick{
		Symbol:   snap.Symbol,
		Type:     host.TickQuote,
		Time:     at,
		BidPrice: snap.BidPrice,
		BidSize:  snap.BidSize,
		AskPrice: snap.AskPrice,
		AskSize:  snap.AskSize,
	})
}

func (s *Service) OnTrade(t gateway.Trade) {
	if !t.Price.Valid {
		return
	}
	at := eventTime(t.Time, s.now().UTC())
	snap, ok := s.update(t.EventSymbol, func(sn *Snapshot) {
		sn.LastPrice = t.Price.Decimal
		if t.Size.Valid {
			sn.LastSize = t.Size.Decimal
		}
		if t.DayVolume.Valid {
			sn.DayVolume = t.DayVolume.Decimal
		}
		sn.Updated = at
	})
	if !ok {
		return
	}
	s.pub.Publish(host.Tick{
		Symbol:   snap.Symbol,
		Type:     host.TickTrade,
		Time:     at,
		Price:    snap.LastPrice,
		Quantity: snap.LastSize,
	})
}

// OnSummary 只更新快照，不广播。
func (s *Service) OnSummary(sm gateway.Summary) {
	s.update(sm.EventSymbol, func(sn *Snapshot) {
		if sm.DayOpenPrice.Valid {
			sn.DayOpen = sm.DayOpenPrice.Decimal
		}
		if sm.PrevDayClosePrice.Valid {
			sn.PrevClose = sm.PrevDayClosePrice.Decimal
		}
		if sm.OpenInterest.Valid {
			sn.OpenInterest = sm.OpenInterest.Decimal
		}
	})
}

func (s *Service) OnCandle(c gateway.Candle) {
	if s.candles == nil {
		s.logger.Debug("candle without aggregator", zap.String("symbol", c.EventSymbol))
		return
	}
	s.candles.OnCandle(c)
}
