// Package symbol 负责宿主代码与券商代码（下单形式 / 行情流形式）之间的双向转换。
package symbol

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
)

var ErrUnsupportedSecurityType = errors.New("unsupported security type")

// FormatError 券商代码不符合预期格式。
type FormatError struct {
	Symbol string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed broker symbol %q: %s", e.Symbol, e.Reason)
}

func formatErr(sym, format string, args ...interface{}) error {
	return &FormatError{Symbol: sym, Reason: fmt.Sprintf(format, args...)}
}

// 指数周权根代码到指数的映射。
var indexOptionRoots = map[string]string{
	"SPXW": "SPX",
	"NDXP": "NDX",
	"RUTW": "RUT",
	"VIXW": "VIX",
}

var (
	osiTailRe      = regexp.MustCompile(`^(\d{6})([CP])(\d{8})$`)
	streamOptionRe = regexp.MustCompile(`^\.([A-Z0-9/]+)(\d{6})([CP])(\d+(?:\.\d+)?)$`)
	futureRe       = regexp.MustCompile(`^/([A-Z0-9]+)([FGHJKMNQUVXZ])(\d{1,2})(?::([A-Z]+))?$`)
	futureOptionRe = regexp.MustCompile(`^([A-Z0-9]+)([FGHJKMNQUVXZ])(\d)$`)
	optionTailRe   = regexp.MustCompile(`^(\d{6})([CP])(\d+(?:\.\d+)?)$`)
	streamFutOptRe = regexp.MustCompile(`^\./([A-Z0-9]+)([FGHJKMNQUVXZ])(\d{2})([CP])(\d+(?:\.\d+)?):([A-Z]+)$`)
	thousand       = decimal.NewFromInt(1000)
)

// Mapper 代码转换器，缓存由调用方注入或自建。
type Mapper struct {
	cache   *Cache
	now     func() time.Time
	indexes host.IndexResolver
}

type Option func(*Mapper)

func WithCache(c *Cache) Option {
	return func(m *Mapper) { m.cache = c }
}

// WithClock 单数字年份按时钟推断所在十年。
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

func WithIndexResolver(r host.IndexResolver) Option {
	return func(m *Mapper) { m.indexes = r }
}

func NewMapper(opts ...Option) *Mapper {
	m := &Mapper{now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.cache == nil {
		m.cache = NewCache()
	}
	return m
}

func (m *Mapper) Cache() *Cache {
	return m.cache
}

// ToBrokerSymbols 返回下单代码与行情流代码。
func (m *Mapper) ToBrokerSymbols(s host.Symbol) (BrokerSymbols, error) {
	if bs, ok := m.cache.Broker(s); ok {
		return bs, nil
	}
	var (
		bs  BrokerSymbols
		err error
	)
	switch s.SecurityType {
	case host.SecurityTypeEquity, host.SecurityTypeIndex:
		t := toBrokerTicker(s.Value)
		bs = BrokerSymbols{Order: t, Stream: t}
	case host.SecurityTypeOption, host.SecurityTypeIndexOption:
		bs, err = optionSymbols(s)
	case host.SecurityTypeFuture:
		bs, err = futureSymbols(s)
	case host.SecurityTypeFutureOption:
		bs, err = futureOptionSymbols(s)
	default:
		return BrokerSymbols{}, fmt.Errorf("%w: %s", ErrUnsupportedSecurityType, s.SecurityType)
	}
	if err != nil {
		return BrokerSymbols{}, err
	}
	m.cache.Store(s, bs)
	return bs, nil
}

// OrderSymbol 仅返回下单代码。
func (m *Mapper) OrderSymbol(s host.Symbol) (string, error) {
	bs, err := m.ToBrokerSymbols(s)
	return bs.Order, err
}

// StreamSymbol 仅返回行情流代码。
func (m *Mapper) StreamSymbol(s host.Symbol) (string, error) {
	bs, err := m.ToBrokerSymbols(s)
	return bs.Stream, err
}

type parseOptions struct {
	underlying string
	isIndex    *bool
}

type ParseOption func(*parseOptions)

// WithUnderlying 提供期权标的的券商代码。
func WithUnderlying(brokerSymbol string) ParseOption {
	return func(o *parseOptions) { o.underlying = brokerSymbol }
}

// WithIndexHint 明确标的是否为指数，跳过外部查询。
func WithIndexHint(isIndex bool) ParseOption {
	return func(o *parseOptions) { o.isIndex = &isIndex }
}

// ToHostSymbol 解析券商代码（下单或行情流形式均可）。
func (m *Mapper) ToHostSymbol(brokerSymbol string, it gateway.InstrumentType, opts ...ParseOption) (host.Symbol, error) {
	var po parseOptions
	for _, opt := range opts {
		opt(&po)
	}
	raw := StripPeriod(brokerSymbol)
	if class, ok := hostClass(it, po); ok {
		if s, ok := m.cache.Host(raw, class); ok {
			return s, nil
		}
	}

	var (
		s   host.Symbol
		err error
	)
	switch it {
	case gateway.InstrumentEquity:
		if raw == "" {
			return host.Symbol{}, formatErr(brokerSymbol, "empty ticker")
		}
		if po.isIndex != nil && *po.isIndex {
			s = host.NewIndex(fromBrokerTicker(raw))
		} else {
			s = host.NewEquity(fromBrokerTicker(raw))
		}
	case gateway.InstrumentIndex:
		if raw == "" {
			return host.Symbol{}, formatErr(brokerSymbol, "empty ticker")
		}
		s = host.NewIndex(fromBrokerTicker(raw))
	case gateway.InstrumentEquityOption:
		s, err = m.parseOption(raw, po)
	case gateway.InstrumentFuture:
		s, err = m.parseFuture(raw)
	case gateway.InstrumentFutureOption:
		if strings.Contains(raw, ":") {
			s, err = m.parseStreamFutureOption(raw)
		} else {
			s, err = m.parseOrderFutureOption(raw)
		}
	default:
		return host.Symbol{}, fmt.Errorf("%w: instrument type %q", ErrUnsupportedSecurityType, it)
	}
	if err != nil {
		return host.Symbol{}, err
	}

	if _, err := m.ToBrokerSymbols(s); err == nil {
		m.cache.Alias(raw, s)
	}
	return s, nil
}

// hostClass 券商品种类型对应的宿主类别，用于反查缓存
func hostClass(it gateway.InstrumentType, po parseOptions) (host.SecurityType, bool) {
	switch it {
	case gateway.InstrumentEquity:
		if po.isIndex != nil && *po.isIndex {
			return host.SecurityTypeIndex, true
		}
		return host.SecurityTypeEquity, true
	case gateway.InstrumentIndex:
		return host.SecurityTypeIndex, true
	case gateway.InstrumentEquityOption:
		return host.SecurityTypeOption, true
	case gateway.InstrumentFuture:
		return host.SecurityTypeFuture, true
	case gateway.InstrumentFutureOption:
		return host.SecurityTypeFutureOption, true
	}
	return 0, false
}

// StripPeriod 去掉行情流代码上的周期后缀，如 AAPL{=5m}。
func StripPeriod(s string) string {
	if i := strings.IndexByte(s, '{'); i >= 0 {
		return s[:i]
	}
	return s
}

func toBrokerTicker(v string) string {
	return strings.ReplaceAll(v, ".", "/")
}

func fromBrokerTicker(v string) string {
	return strings.ReplaceAll(v, "/", ".")
}

// formatStrike 去掉多余的尾零：200 而非 200.00，保留 22.5。
func formatStrike(strike decimal.Decimal) string {
	return strike.String()
}

func rightCode(r host.OptionRight) string {
	if r == host.RightPut {
		return "P"
	}
	return "C"
}

func parseRight(c string) host.OptionRight {
	if c == "P" {
		return host.RightPut
	}
	return host.RightCall
}

func optionSymbols(s host.Symbol) (BrokerSymbols, error) {
	if s.Expiry.IsZero() {
		return BrokerSymbols{}, formatErr(s.Value, "option without expiry")
	}
	scaled := s.Strike.Mul(thousand)
	if !scaled.IsInteger() || scaled.IsNegative() || scaled.GreaterThanOrEqual(decimal.NewFromInt(100000000)) {
		return BrokerSymbols{}, formatErr(s.Value, "strike %s not representable", s.Strike)
	}
	root := toBrokerTicker(s.Value)
	padded := fmt.Sprintf("%-6s", root)
	if len(root) > 5 {
		padded += " "
	}
	expiry := s.Expiry.Format("060102")
	right := rightCode(s.Right)
	return BrokerSymbols{
		Order:  fmt.Sprintf("%s%s%s%08d", padded, expiry, right, scaled.IntPart()),
		Stream: "." + root + expiry + right + formatStrike(s.Strike),
	}, nil
}

func futureSymbols(s host.Symbol) (BrokerSymbols, error) {
	p, ok := futureProducts[s.Value]
	if !ok {
		return BrokerSymbols{}, fmt.Errorf("%w: unknown futures product %s", ErrUnsupportedSecurityType, s.Value)
	}
	exchange, ok := exchangeCodes[s.Market]
	if !ok {
		return BrokerSymbols{}, fmt.Errorf("%w: no exchange code for market %q", ErrUnsupportedSecurityType, s.Market)
	}
	c := p.contractOf(s.Expiry)
	code := string(monthCode(c.Month))
	return BrokerSymbols{
		Order:  fmt.Sprintf("/%s%s%d", s.Value, code, c.Year%10),
		Stream: fmt.Sprintf("/%s%s%02d:%s", s.Value, code, c.Year%100, exchange),
	}, nil
}

func futureOptionSymbols(s host.Symbol) (BrokerSymbols, error) {
	if s.Underlying == nil {
		return BrokerSymbols{}, formatErr(s.Value, "future option without underlying future")
	}
	fut, err := futureSymbols(*s.Underlying)
	if err != nil {
		return BrokerSymbols{}, err
	}
	exchange := exchangeCodes[s.Underlying.Market]
	offset := 0
	if op, ok := futureOptionProducts[s.Value]; ok {
		offset = op.MonthOffset
	}
	ny, nm := shiftMonth(s.Expiry.Year(), s.Expiry.Month(), offset)
	code := string(monthCode(nm))
	right := rightCode(s.Right)
	strike := formatStrike(s.Strike)
	return BrokerSymbols{
		Order: fmt.Sprintf(".%s %s%s%d %s%s%s",
			fut.Order, s.Value, code, ny%10, s.Expiry.Format("060102"), right, strike),
		Stream: fmt.Sprintf("./%s%s%02d%s%s:%s", s.Value, code, ny%100, right, strike, exchange),
	}, nil
}

func (m *Mapper) parseOption(raw string, po parseOptions) (host.Symbol, error) {
	var root, yymmdd, right string
	var strike decimal.Decimal
	if strings.HasPrefix(raw, ".") {
		g := streamOptionRe.FindStringSubmatch(raw)
		if g == nil {
			return host.Symbol{}, formatErr(raw, "not a streamer option symbol")
		}
		root, yymmdd, right = g[1], g[2], g[3]
		strike = decimal.RequireFromString(g[4])
	} else {
		if len(raw) < 16 {
			return host.Symbol{}, formatErr(raw, "too short for OSI layout")
		}
		tail := raw[len(raw)-15:]
		g := osiTailRe.FindStringSubmatch(tail)
		if g == nil {
			return host.Symbol{}, formatErr(raw, "OSI tail %q does not match", tail)
		}
		root = strings.TrimSpace(raw[:len(raw)-15])
		yymmdd, right = g[1], g[2]
		scaled, _ := strconv.ParseInt(g[3], 10, 64)
		strike = decimal.NewFromInt(scaled).Div(thousand)
	}
	if root == "" {
		return host.Symbol{}, formatErr(raw, "empty option root")
	}
	expiry, err := time.Parse("060102", yymmdd)
	if err != nil {
		return host.Symbol{}, formatErr(raw, "bad expiry %s", yymmdd)
	}

	root = fromBrokerTicker(root)
	underlying, isIndex, err := m.resolveUnderlying(root, po)
	if err != nil {
		return host.Symbol{}, err
	}
	if isIndex {
		return host.NewIndexOption(host.NewIndex(underlying), root, expiry, parseRight(right), strike), nil
	}
	return host.NewOptionWithRoot(host.NewEquity(underlying), root, expiry, parseRight(right), strike), nil
}

// resolveUnderlying 确定期权标的及是否为指数：显式提示优先，其次周权根表，最后外部查询。
func (m *Mapper) resolveUnderlying(root string, po parseOptions) (string, bool, error) {
	underlying := root
	idx, weekly := indexOptionRoots[root]
	switch {
	case po.underlying != "":
		underlying = fromBrokerTicker(StripPeriod(po.underlying))
	case weekly:
		underlying = idx
	}
	if po.isIndex != nil {
		return underlying, *po.isIndex, nil
	}
	if weekly {
		return underlying, true, nil
	}
	if m.indexes == nil {
		return underlying, false, nil
	}
	isIndex, err := m.indexes.IsIndex(underlying)
	if err != nil {
		return "", false, fmt.Errorf("resolve index %s: %w", underlying, err)
	}
	return underlying, isIndex, nil
}

// resolveYear 单数字年份取 [now-1, now+8] 内的那一年。
func (m *Mapper) resolveYear(digit int) int {
	now := m.now().Year()
	year := now - now%10 + digit
	if year < now-1 {
		year += 10
	} else if year > now+8 {
		year -= 10
	}
	return year
}

func (m *Mapper) parseFuture(raw string) (host.Symbol, error) {
	g := futureRe.FindStringSubmatch(raw)
	if g == nil {
		return host.Symbol{}, formatErr(raw, "not a futures symbol")
	}
	root, code, yy, exchange := g[1], g[2], g[3], g[4]
	p, ok := futureProducts[root]
	if !ok {
		return host.Symbol{}, formatErr(raw, "unknown futures product %s", root)
	}
	month, _ := monthFromCode(code[0])
	n, _ := strconv.Atoi(yy)
	year := 2000 + n
	if len(yy) == 1 {
		year = m.resolveYear(n)
	}
	market := p.Market
	if exchange != "" {
		mk, ok := marketFromExchange(exchange)
		if !ok {
			return host.Symbol{}, formatErr(raw, "unknown exchange code %s", exchange)
		}
		market = mk
	}
	return host.NewFuture(root, market, p.LastTrade(year, month)), nil
}

// parseOrderFutureOption 解析 "./CLZ4 LOZ4 241115P55"：第一个空格前是标的期货。
func (m *Mapper) parseOrderFutureOption(raw string) (host.Symbol, error) {
	if !strings.HasPrefix(raw, "./") {
		return host.Symbol{}, formatErr(raw, "future option must start with ./")
	}
	sp := strings.IndexByte(raw, ' ')
	if sp < 0 {
		return host.Symbol{}, formatErr(raw, "missing separator after underlying future")
	}
	future, err := m.parseFuture(raw[1:sp])
	if err != nil {
		return host.Symbol{}, err
	}
	parts := strings.Fields(raw[sp+1:])
	if len(parts) != 2 {
		return host.Symbol{}, formatErr(raw, "expected option code and expiry/strike")
	}
	g := futureOptionRe.FindStringSubmatch(parts[0])
	if g == nil {
		return host.Symbol{}, formatErr(raw, "bad option code %q", parts[0])
	}
	t := optionTailRe.FindStringSubmatch(parts[1])
	if t == nil {
		return host.Symbol{}, formatErr(raw, "bad expiry/strike %q", parts[1])
	}
	expiry, err := time.Parse("060102", t[1])
	if err != nil {
		return host.Symbol{}, formatErr(raw, "bad expiry %s", t[1])
	}
	return host.NewFutureOption(future, g[1], expiry, parseRight(t[2]), decimal.RequireFromString(t[3])), nil
}

// parseStreamFutureOption 解析 "./LOZ24P55:XNYM"，到期日与标的合约由品种规则推导。
func (m *Mapper) parseStreamFutureOption(raw string) (host.Symbol, error) {
	g := streamFutOptRe.FindStringSubmatch(raw)
	if g == nil {
		return host.Symbol{}, formatErr(raw, "not a streamer future option symbol")
	}
	root, code, yy, right, strike, exchange := g[1], g[2], g[3], g[4], g[5], g[6]
	if _, ok := futureOptionProducts[root]; !ok {
		return host.Symbol{}, formatErr(raw, "no expiry rule for option root %s", root)
	}
	if _, ok := marketFromExchange(exchange); !ok {
		return host.Symbol{}, formatErr(raw, "unknown exchange code %s", exchange)
	}
	month, _ := monthFromCode(code[0])
	n, _ := strconv.Atoi(yy)
	return FutureOptionContract(root, 2000+n, month, parseRight(right), decimal.RequireFromString(strike))
}
