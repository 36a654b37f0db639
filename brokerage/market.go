package brokerage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/market"
	"tastytrade-brokerage/order"
	"tastytrade-brokerage/symbol"
)

// GetHistory 通过行情流的 Candle 快照获取历史 K 线。
// 超时返回已收到的部分并发送 Warning 消息。
func (b *Brokerage) GetHistory(ctx context.Context, req host.HistoryRequest) ([]host.Bar, error) {
	if b.candles == nil {
		return nil, ErrNotConnected
	}
	period := req.Resolution.Duration()
	if period <= 0 {
		b.metrics.RecordHistoryRequest("unsupported")
		return nil, &order.UnsupportedError{Kind: "history resolution", Value: req.Resolution.String()}
	}
	if !req.End.After(req.Start) {
		b.metrics.RecordHistoryRequest("error")
		return nil, fmt.Errorf("history %s: end %s not after start %s", req.Symbol, req.End, req.Start)
	}
	stream, err := b.mapper.StreamSymbol(req.Symbol)
	if err != nil {
		b.metrics.RecordHistoryRequest("error")
		return nil, fmt.Errorf("history %s: %w", req.Symbol, err)
	}

	bars, err := b.candles.History(ctx, req.Symbol, stream, period, req.Start, req.End)
	switch {
	case err == nil:
		b.metrics.RecordHistoryRequest("ok")
		return bars, nil
	case errors.Is(err, market.ErrHistoryTimeout):
		b.metrics.RecordHistoryRequest("timeout")
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageWarning,
			Code:    "HistoryTimeout",
			Message: fmt.Sprintf("history %s %s: returning %d bars received before timeout", req.Symbol, req.Resolution, len(bars)),
		})
		return bars, nil
	default:
		b.metrics.RecordHistoryRequest("error")
		return nil, err
	}
}

// Subscribe 订阅实时行情，Ticks 通过 Publisher 广播。
func (b *Brokerage) Subscribe(symbols ...host.Symbol) error {
	if b.quotes == nil {
		return ErrNotConnected
	}
	if err := b.quotes.Subscribe(symbols...); err != nil {
		return err
	}
	b.metrics.SetSubscriptions(b.quotes.Subscribed())
	return nil
}

func (b *Brokerage) Unsubscribe(symbols ...host.Symbol) error {
	if b.quotes == nil {
		return ErrNotConnected
	}
	if err := b.quotes.Unsubscribe(symbols...); err != nil {
		return err
	}
	b.metrics.SetSubscriptions(b.quotes.Subscribed())
	return nil
}

// Ticks 订阅 Tick 广播；调用方用 Publisher().Unsubscribe 退订。
// 未配置行情服务时返回已关闭的通道。
func (b *Brokerage) Ticks() <-chan host.Tick {
	if b.quotes == nil {
		ch := make(chan host.Tick)
		close(ch)
		return ch
	}
	return b.quotes.Publisher().Subscribe()
}

// Latest 最新行情快照
func (b *Brokerage) Latest(sym host.Symbol) (market.Snapshot, bool) {
	if b.quotes == nil {
		return market.Snapshot{}, false
	}
	return b.quotes.Latest(sym)
}

// LookupSymbols 列出标的的全部期权合约：股票/指数取期权链，期货取期货期权链。
// 无法解析的合约跳过。
func (b *Brokerage) LookupSymbols(ctx context.Context, underlying host.Symbol) ([]host.Symbol, error) {
	if b.rest == nil {
		return nil, ErrNotConnected
	}
	switch underlying.SecurityType {
	case host.SecurityTypeEquity, host.SecurityTypeIndex:
		return b.lookupOptions(ctx, underlying)
	case host.SecurityTypeFuture:
		return b.lookupFutureOptions(ctx, underlying)
	default:
		return nil, &order.UnsupportedError{Kind: "lookup security type", Value: underlying.SecurityType.String()}
	}
}

func (b *Brokerage) lookupOptions(ctx context.Context, underlying host.Symbol) ([]host.Symbol, error) {
	ticker, err := b.mapper.OrderSymbol(underlying)
	if err != nil {
		return nil, err
	}
	chains, err := b.rest.OptionChain(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", underlying, err)
	}
	isIndex := underlying.SecurityType == host.SecurityTypeIndex
	var res []host.Symbol
	for _, chain := range chains {
		for _, exp := range chain.Expirations {
			for _, strike := range exp.Strikes {
				for _, occ := range []string{strike.Call, strike.Put} {
					if occ == "" {
						continue
					}
					s, err := b.mapper.ToHostSymbol(occ, gateway.InstrumentEquityOption,
						symbol.WithUnderlying(ticker), symbol.WithIndexHint(isIndex))
					if err != nil {
						b.logger.Debug("lookup: skip contract", zap.String("symbol", occ), zap.Error(err))
						continue
					}
					res = append(res, s)
				}
			}
		}
	}
	return res, nil
}

// lookupFutureOptions 未指定到期的期货返回该品种全部期权，否则只返回以该合约为标的的期权
func (b *Brokerage) lookupFutureOptions(ctx context.Context, underlying host.Symbol) ([]host.Symbol, error) {
	chain, err := b.rest.FutureOptionChain(ctx, underlying.Value)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", underlying, err)
	}
	var res []host.Symbol
	for _, oc := range chain.OptionChains {
		for _, exp := range oc.Expirations {
			for _, strike := range exp.Strikes {
				for _, raw := range []string{strike.Call, strike.Put} {
					if raw == "" {
						continue
					}
					s, err := b.mapper.ToHostSymbol(raw, gateway.InstrumentFutureOption)
					if err != nil {
						b.logger.Debug("lookup: skip contract", zap.String("symbol", raw), zap.Error(err))
						continue
					}
					if !underlying.Expiry.IsZero() && (s.Underlying == nil || !s.Underlying.Equal(underlying)) {
						continue
					}
					res = append(res, s)
				}
			}
		}
	}
	return res, nil
}
