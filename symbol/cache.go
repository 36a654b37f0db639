package symbol

import (
	"sync"

	"tastytrade-brokerage/host"
)

// BrokerSymbols 券商侧两种代码形式：下单用与行情流用。
type BrokerSymbols struct {
	Order  string
	Stream string
}

// Cache 宿主代码与券商代码的双向缓存，只增不删。
// 反查按品种大类分开：SPX 既可以是指数也可以是股票代码。
type Cache struct {
	mu       sync.RWMutex
	toBroker map[string]BrokerSymbols
	byOrder  map[reverseKey]host.Symbol
	byStream map[reverseKey]host.Symbol
}

type reverseKey struct {
	symbol string
	class  host.SecurityType
}

// classOf 股票期权与指数期权共用一种券商品种类型
func classOf(t host.SecurityType) host.SecurityType {
	if t == host.SecurityTypeIndexOption {
		return host.SecurityTypeOption
	}
	return t
}

func keyFor(brokerSymbol string, t host.SecurityType) reverseKey {
	return reverseKey{symbol: brokerSymbol, class: classOf(t)}
}

func NewCache() *Cache {
	return &Cache{
		toBroker: make(map[string]BrokerSymbols),
		byOrder:  make(map[reverseKey]host.Symbol),
		byStream: make(map[reverseKey]host.Symbol),
	}
}

func (c *Cache) Broker(s host.Symbol) (BrokerSymbols, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bs, ok := c.toBroker[s.ID()]
	return bs, ok
}

// Host 在 t 所属大类里先查行情流代码，再查下单代码。
func (c *Cache) Host(brokerSymbol string, t host.SecurityType) (host.Symbol, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k := keyFor(brokerSymbol, t)
	if s, ok := c.byStream[k]; ok {
		return s, true
	}
	s, ok := c.byOrder[k]
	return s, ok
}

// Store 译码是确定性的，并发写入以最后一次为准。
func (c *Cache) Store(s host.Symbol, bs BrokerSymbols) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toBroker[s.ID()] = bs
	c.byOrder[keyFor(bs.Order, s.SecurityType)] = s
	c.byStream[keyFor(bs.Stream, s.SecurityType)] = s
}

// Alias 记录额外的券商写法（如填充方式不同的下单代码）。
func (c *Cache) Alias(brokerSymbol string, s host.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := keyFor(brokerSymbol, s.SecurityType)
	if _, ok := c.byStream[k]; ok {
		return
	}
	c.byOrder[k] = s
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.toBroker)
}
