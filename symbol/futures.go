package symbol

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/host"
)

const monthCodes = "FGHJKMNQUVXZ"

func monthCode(m time.Month) byte {
	return monthCodes[m-1]
}

func monthFromCode(c byte) (time.Month, bool) {
	i := strings.IndexByte(monthCodes, c)
	if i < 0 {
		return 0, false
	}
	return time.Month(i + 1), true
}

// 行情流使用的交易所 MIC 代码。
var exchangeCodes = map[string]string{
	host.MarketCME:   "XCME",
	host.MarketCOMEX: "XCEC",
	host.MarketNYMEX: "XNYM",
	host.MarketCBOT:  "XCBT",
	host.MarketCFE:   "XCBF",
}

func marketFromExchange(code string) (string, bool) {
	for market, c := range exchangeCodes {
		if c == code {
			return market, true
		}
	}
	return "", false
}

var (
	cycleMonthly   = []time.Month{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	cycleQuarterly = []time.Month{3, 6, 9, 12}
	cycleGold      = []time.Month{2, 4, 6, 8, 10, 12}
	cycleSilver    = []time.Month{3, 5, 7, 9, 12}
)

// futureProduct 期货品种规则。MonthOffset 为合约月相对最后交易日所在月的偏移。
type futureProduct struct {
	Market      string
	Cycle       []time.Month
	MonthOffset int
	LastTrade   func(year int, month time.Month) time.Time
}

var futureProducts = map[string]futureProduct{
	"ES":  {Market: host.MarketCME, Cycle: cycleQuarterly, LastTrade: thirdFriday},
	"NQ":  {Market: host.MarketCME, Cycle: cycleQuarterly, LastTrade: thirdFriday},
	"RTY": {Market: host.MarketCME, Cycle: cycleQuarterly, LastTrade: thirdFriday},
	"YM":  {Market: host.MarketCBOT, Cycle: cycleQuarterly, LastTrade: thirdFriday},
	"CL":  {Market: host.MarketNYMEX, Cycle: cycleMonthly, MonthOffset: 1, LastTrade: crudeLastTrade},
	"NG":  {Market: host.MarketNYMEX, Cycle: cycleMonthly, MonthOffset: 1, LastTrade: natGasLastTrade},
	"BZ":  {Market: host.MarketNYMEX, Cycle: cycleMonthly, MonthOffset: 2, LastTrade: brentLastTrade},
	"GC":  {Market: host.MarketCOMEX, Cycle: cycleGold, LastTrade: metalsLastTrade},
	"SI":  {Market: host.MarketCOMEX, Cycle: cycleSilver, LastTrade: metalsLastTrade},
	"ZN":  {Market: host.MarketCBOT, Cycle: cycleQuarterly, LastTrade: treasuryLastTrade},
	"ZB":  {Market: host.MarketCBOT, Cycle: cycleQuarterly, LastTrade: treasuryLastTrade},
	"VX":  {Market: host.MarketCFE, Cycle: cycleMonthly, LastTrade: vixLastTrade},
	"6E":  {Market: host.MarketCME, Cycle: cycleQuarterly, LastTrade: euroFxLastTrade},
}

// crudeLastTrade 合约月前一月 25 日（非交易日则取之前的交易日）再往前 3 个交易日。
func crudeLastTrade(year int, month time.Month) time.Time {
	y, m := shiftMonth(year, month, -1)
	return addBusinessDays(previousBusinessDayOnOrBefore(date(y, m, 25)), -3)
}

func natGasLastTrade(year int, month time.Month) time.Time {
	return addBusinessDays(date(year, month, 1), -3)
}

func brentLastTrade(year int, month time.Month) time.Time {
	y, m := shiftMonth(year, month, -2)
	return lastBusinessDay(y, m)
}

// metalsLastTrade 合约月倒数第三个交易日。
func metalsLastTrade(year int, month time.Month) time.Time {
	return addBusinessDays(lastBusinessDay(year, month), -2)
}

func treasuryLastTrade(year int, month time.Month) time.Time {
	return addBusinessDays(lastBusinessDay(year, month), -7)
}

// vixLastTrade 下月第三个周五往前 30 天的周三。
func vixLastTrade(year int, month time.Month) time.Time {
	y, m := shiftMonth(year, month, 1)
	return thirdFriday(y, m).AddDate(0, 0, -30)
}

func euroFxLastTrade(year int, month time.Month) time.Time {
	return addBusinessDays(thirdWednesday(year, month), -2)
}

// contract 合约年月。
type contract struct {
	Year  int
	Month time.Month
}

// contractOf 由最后交易日反推合约月。
func (p futureProduct) contractOf(lastTrade time.Time) contract {
	y, m := shiftMonth(lastTrade.Year(), lastTrade.Month(), p.MonthOffset)
	return contract{Year: y, Month: m}
}

// firstContractOnOrAfter 周期内第一个不早于 c 的合约月。
func (p futureProduct) firstContractOnOrAfter(c contract) contract {
	for _, m := range p.Cycle {
		if m >= c.Month {
			return contract{Year: c.Year, Month: m}
		}
	}
	return contract{Year: c.Year + 1, Month: p.Cycle[0]}
}

// optionProduct 期货期权品种规则。MonthOffset 为命名月相对到期月的偏移。
type optionProduct struct {
	Future      string
	MonthOffset int
	Expiry      func(named contract, future contract) time.Time
}

var futureOptionProducts = map[string]optionProduct{
	"ES":  {Future: "ES", Expiry: equityIndexOptionExpiry},
	"NQ":  {Future: "NQ", Expiry: equityIndexOptionExpiry},
	"LO":  {Future: "CL", MonthOffset: 1, Expiry: beforeFutureExpiry("CL", 1)},
	"ON":  {Future: "NG", MonthOffset: 1, Expiry: beforeFutureExpiry("NG", 1)},
	"BZO": {Future: "BZ", MonthOffset: 2, Expiry: beforeFutureExpiry("BZ", 3)},
	"OG":  {Future: "GC", MonthOffset: 1, Expiry: goldOptionExpiry},
	"OZN": {Future: "ZN", MonthOffset: 1, Expiry: treasuryOptionExpiry},
	"EUU": {Future: "6E", Expiry: euroFxOptionExpiry},
}

func equityIndexOptionExpiry(named, _ contract) time.Time {
	return thirdFriday(named.Year, named.Month)
}

// beforeFutureExpiry 标的期货最后交易日前 n 个交易日。
func beforeFutureExpiry(future string, n int) func(contract, contract) time.Time {
	return func(_ contract, fut contract) time.Time {
		p := futureProducts[future]
		return addBusinessDays(p.LastTrade(fut.Year, fut.Month), -n)
	}
}

func goldOptionExpiry(named, _ contract) time.Time {
	y, m := shiftMonth(named.Year, named.Month, -1)
	return addBusinessDays(lastBusinessDay(y, m), -4)
}

// treasuryOptionExpiry 命名月前一月最后交易日之前至少 2 个交易日的最后一个周五。
func treasuryOptionExpiry(named, _ contract) time.Time {
	y, m := shiftMonth(named.Year, named.Month, -1)
	t := addBusinessDays(lastBusinessDay(y, m), -2)
	for t.Weekday() != time.Friday {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// euroFxOptionExpiry 第三个周三之前的第二个周五。
func euroFxOptionExpiry(named, _ contract) time.Time {
	return thirdWednesday(named.Year, named.Month).AddDate(0, 0, -12)
}

// FutureContract 按品种规则构造期货合约。
func FutureContract(root string, year int, month time.Month) (host.Symbol, error) {
	p, ok := futureProducts[root]
	if !ok {
		return host.Symbol{}, fmt.Errorf("%w: unknown futures product %s", ErrUnsupportedSecurityType, root)
	}
	return host.NewFuture(root, p.Market, p.LastTrade(year, month)), nil
}

// FutureOptionContract 按期权根代码和命名月构造期货期权，标的合约与到期日由规则推导。
func FutureOptionContract(root string, year int, month time.Month, right host.OptionRight, strike decimal.Decimal) (host.Symbol, error) {
	op, ok := futureOptionProducts[root]
	if !ok {
		return host.Symbol{}, fmt.Errorf("%w: unknown future option root %s", ErrUnsupportedSecurityType, root)
	}
	named := contract{Year: year, Month: month}
	fut := futureProducts[op.Future].firstContractOnOrAfter(named)
	future, err := FutureContract(op.Future, fut.Year, fut.Month)
	if err != nil {
		return host.Symbol{}, err
	}
	return host.NewFutureOption(future, root, op.Expiry(named, fut), right, strike), nil
}
