package brokerage

import (
	"context"
	"fmt"
	"sort"

	"tastytrade-brokerage/host"
)

// GetAccountHoldings 拉取券商持仓并刷新本地快照。
func (b *Brokerage) GetAccountHoldings(ctx context.Context) ([]host.Holding, error) {
	if b.rest == nil {
		return nil, ErrNotConnected
	}
	positions, err := b.rest.Positions(ctx, b.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	holdings, err := b.toHoldings(positions)
	if err != nil {
		return nil, fmt.Errorf("get holdings: %w", err)
	}
	b.book.SetHoldings(holdings)
	return holdings, nil
}

// GetCashBalance 拉取券商现金余额。
func (b *Brokerage) GetCashBalance(ctx context.Context) ([]host.CashAmount, error) {
	if b.rest == nil {
		return nil, ErrNotConnected
	}
	bal, err := b.rest.Balances(ctx, b.cfg.Account)
	if err != nil {
		return nil, fmt.Errorf("get cash balance: %w", err)
	}
	b.setBalance(bal)
	return b.CachedCash(), nil
}

// CachedCash 最近一次快照或推送的余额
func (b *Brokerage) CachedCash() []host.CashAmount {
	b.mu.Lock()
	defer b.mu.Unlock()
	res := make([]host.CashAmount, 0, len(b.cash))
	for _, c := range b.cash {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Currency < res[j].Currency })
	return res
}
