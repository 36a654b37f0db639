// Package host 定义宿主交易引擎与券商适配层之间的契约类型。
package host

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SecurityType 证券类别。
type SecurityType int

const (
	SecurityTypeEquity SecurityType = iota + 1
	SecurityTypeIndex
	SecurityTypeOption
	SecurityTypeIndexOption
	SecurityTypeFuture
	SecurityTypeFutureOption
)

func (t SecurityType) String() string {
	switch t {
	case SecurityTypeEquity:
		return "Equity"
	case SecurityTypeIndex:
		return "Index"
	case SecurityTypeOption:
		return "Option"
	case SecurityTypeIndexOption:
		return "IndexOption"
	case SecurityTypeFuture:
		return "Future"
	case SecurityTypeFutureOption:
		return "FutureOption"
	default:
		return fmt.Sprintf("SecurityType(%d)", int(t))
	}
}

// IsOption 期权类（股票/指数/期货期权）。
func (t SecurityType) IsOption() bool {
	return t == SecurityTypeOption || t == SecurityTypeIndexOption || t == SecurityTypeFutureOption
}

// OptionRight 期权方向。
type OptionRight int

const (
	RightCall OptionRight = iota
	RightPut
)

func (r OptionRight) String() string {
	if r == RightPut {
		return "Put"
	}
	return "Call"
}

// 市场标识
const (
	MarketUSA   = "usa"
	MarketCME   = "cme"
	MarketCBOT  = "cbot"
	MarketNYMEX = "nymex"
	MarketCOMEX = "comex"
	MarketCFE   = "cfe"
)

// Symbol 宿主侧的标准证券标识。
// Value 对股票/指数是代码，对期权是期权根代码，对期货是品种代码。
type Symbol struct {
	Value        string
	SecurityType SecurityType
	Market       string
	Expiry       time.Time
	Right        OptionRight
	Strike       decimal.Decimal
	Underlying   *Symbol
}

func NewEquity(ticker string) Symbol {
	return Symbol{Value: ticker, SecurityType: SecurityTypeEquity, Market: MarketUSA}
}

func NewIndex(ticker string) Symbol {
	return Symbol{Value: ticker, SecurityType: SecurityTypeIndex, Market: MarketUSA}
}

// NewOption 股票期权，根代码与标的代码相同。
func NewOption(underlying Symbol, expiry time.Time, right OptionRight, strike decimal.Decimal) Symbol {
	return NewOptionWithRoot(underlying, underlying.Value, expiry, right, strike)
}

// NewOptionWithRoot 根代码与标的不同的股票期权（如调整后合约）。
func NewOptionWithRoot(underlying Symbol, root string, expiry time.Time, right OptionRight, strike decimal.Decimal) Symbol {
	u := underlying
	return Symbol{
		Value:        root,
		SecurityType: SecurityTypeOption,
		Market:       underlying.Market,
		Expiry:       dateOnly(expiry),
		Right:        right,
		Strike:       strike,
		Underlying:   &u,
	}
}

// NewIndexOption 指数期权；root 可能与指数不同（SPXW 对应 SPX）。
func NewIndexOption(index Symbol, root string, expiry time.Time, right OptionRight, strike decimal.Decimal) Symbol {
	u := index
	return Symbol{
		Value:        root,
		SecurityType: SecurityTypeIndexOption,
		Market:       index.Market,
		Expiry:       dateOnly(expiry),
		Right:        right,
		Strike:       strike,
		Underlying:   &u,
	}
}

func NewFuture(root, market string, expiry time.Time) Symbol {
	return Symbol{Value: root, SecurityType: SecurityTypeFuture, Market: market, Expiry: dateOnly(expiry)}
}

func NewFutureOption(future Symbol, root string, expiry time.Time, right OptionRight, strike decimal.Decimal) Symbol {
	u := future
	return Symbol{
		Value:        root,
		SecurityType: SecurityTypeFutureOption,
		Market:       future.Market,
		Expiry:       dateOnly(expiry),
		Right:        right,
		Strike:       strike,
		Underlying:   &u,
	}
}

// ID 返回值语义的唯一键，可用作 map key。
func (s Symbol) ID() string {
	var b strings.Builder
	b.WriteString(s.SecurityType.String())
	b.WriteByte(':')
	b.WriteString(s.Market)
	b.WriteByte(':')
	b.WriteString(s.Value)
	switch s.SecurityType {
	case SecurityTypeFuture:
		b.WriteByte(':')
		b.WriteString(s.Expiry.Format("20060102"))
	case SecurityTypeOption, SecurityTypeIndexOption, SecurityTypeFutureOption:
		fmt.Fprintf(&b, ":%s:%s:%s", s.Expiry.Format("20060102"), s.Right, s.Strike.String())
	}
	if s.Underlying != nil {
		b.WriteByte('|')
		b.WriteString(s.Underlying.ID())
	}
	return b.String()
}

func (s Symbol) Equal(o Symbol) bool {
	return s.ID() == o.ID()
}

func (s Symbol) String() string {
	switch s.SecurityType {
	case SecurityTypeOption, SecurityTypeIndexOption, SecurityTypeFutureOption:
		return fmt.Sprintf("%s %s %s %s", s.Value, s.Expiry.Format("2006-01-02"), s.Right, s.Strike.String())
	case SecurityTypeFuture:
		return fmt.Sprintf("%s %s", s.Value, s.Expiry.Format("2006-01-02"))
	default:
		return s.Value
	}
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
