package market

import (
	"time"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/host"
)

// Snapshot 单个品种的最新行情。
type Snapshot struct {
	Symbol       host.Symbol
	BidPrice     decimal.Decimal
	BidSize      decimal.Decimal
	AskPrice     decimal.Decimal
	AskSize      decimal.Decimal
	LastPrice    decimal.Decimal
	LastSize     decimal.Decimal
	DayVolume    decimal.Decimal
	DayOpen      decimal.Decimal
	PrevClose    decimal.Decimal
	OpenInterest decimal.Decimal
	Updated      time.Time
}

// Mid 买卖任一侧缺失时返回 0。
func (s Snapshot) Mid() decimal.Decimal {
	if !s.BidPrice.IsPositive() || !s.AskPrice.IsPositive() {
		return decimal.Zero
	}
	return s.BidPrice.Add(s.AskPrice).Div(decimal.NewFromInt(2))
}

// Spread 卖一减买一。
func (s Snapshot) Spread() decimal.Decimal {
	if !s.BidPrice.IsPositive() || !s.AskPrice.IsPositive() {
		return decimal.Zero
	}
	return s.AskPrice.Sub(s.BidPrice)
}
