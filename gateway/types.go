package gateway

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// InstrumentType 券商侧的品种类别。
type InstrumentType string

const (
	InstrumentEquity       InstrumentType = "Equity"
	InstrumentEquityOption InstrumentType = "Equity Option"
	InstrumentFuture       InstrumentType = "Future"
	InstrumentFutureOption InstrumentType = "Future Option"
	InstrumentIndex        InstrumentType = "Index"
	InstrumentCrypto       InstrumentType = "Cryptocurrency"
)

// OrderStatus 券商订单状态。
type OrderStatus string

const (
	StatusReceived         OrderStatus = "Received"
	StatusRouted           OrderStatus = "Routed"
	StatusInFlight         OrderStatus = "In Flight"
	StatusLive             OrderStatus = "Live"
	StatusCancelRequested  OrderStatus = "Cancel Requested"
	StatusReplaceRequested OrderStatus = "Replace Requested"
	StatusContingent       OrderStatus = "Contingent"
	StatusFilled           OrderStatus = "Filled"
	StatusCancelled        OrderStatus = "Cancelled"
	StatusExpired          OrderStatus = "Expired"
	StatusRejected         OrderStatus = "Rejected"
	StatusRemoved          OrderStatus = "Removed"
	StatusPartiallyRemoved OrderStatus = "Partially Removed"
)

// LegAction 腿方向。
type LegAction string

const (
	ActionBuyToOpen   LegAction = "Buy to Open"
	ActionSellToOpen  LegAction = "Sell to Open"
	ActionBuyToClose  LegAction = "Buy to Close"
	ActionSellToClose LegAction = "Sell to Close"
	ActionBuy         LegAction = "Buy"
	ActionSell        LegAction = "Sell"
)

// IsBuy 买入方向（含开平）。
func (a LegAction) IsBuy() bool {
	return a == ActionBuyToOpen || a == ActionBuyToClose || a == ActionBuy
}

// OrderType 券商订单类型。
type OrderType string

const (
	OrderTypeMarket    OrderType = "Market"
	OrderTypeLimit     OrderType = "Limit"
	OrderTypeStop      OrderType = "Stop"
	OrderTypeStopLimit OrderType = "Stop Limit"
)

// TimeInForce 券商有效期。
type TimeInForce string

const (
	TIFDay TimeInForce = "Day"
	TIFGTC TimeInForce = "GTC"
	TIFGTD TimeInForce = "GTD"
)

// PriceEffect 价格方向：借记/贷记。
type PriceEffect string

const (
	EffectDebit  PriceEffect = "Debit"
	EffectCredit PriceEffect = "Credit"
)

// Fill 单笔成交。
type Fill struct {
	FillID           string          `json:"fill-id"`
	ExtExecID        string          `json:"ext-exec-id"`
	ExtGroupFillID   string          `json:"ext-group-fill-id,omitempty"`
	DestinationVenue string          `json:"destination-venue"`
	Quantity         decimal.Decimal `json:"quantity"`
	FillPrice        decimal.Decimal `json:"fill-price"`
	FilledAt         time.Time       `json:"filled-at"`
}

// Leg 订单腿。
type Leg struct {
	InstrumentType    InstrumentType  `json:"instrument-type"`
	Symbol            string          `json:"symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining-quantity"`
	Action            LegAction       `json:"action"`
	Fills             []Fill          `json:"fills"`
}

// Order 券商订单（REST 与账户流共用）。
type Order struct {
	ID                       string           `json:"id"`
	AccountNumber            string           `json:"account-number"`
	TimeInForce              TimeInForce      `json:"time-in-force"`
	GtcDate                  string           `json:"gtc-date,omitempty"`
	OrderType                OrderType        `json:"order-type"`
	Size                     decimal.Decimal  `json:"size"`
	UnderlyingSymbol         string           `json:"underlying-symbol"`
	UnderlyingInstrumentType InstrumentType   `json:"underlying-instrument-type"`
	Price                    *decimal.Decimal `json:"price,omitempty"`
	PriceEffect              PriceEffect      `json:"price-effect,omitempty"`
	StopTrigger              *decimal.Decimal `json:"stop-trigger,omitempty"`
	Status                   OrderStatus      `json:"status"`
	Cancellable              bool             `json:"cancellable"`
	Editable                 bool             `json:"editable"`
	Legs                     []Leg            `json:"legs"`
	RejectReason             string           `json:"reject-reason,omitempty"`
	ReceivedAt               time.Time        `json:"received-at"`
	UpdatedAt                int64            `json:"updated-at"`
}

// OrderLeg 下单请求中的腿。
type OrderLeg struct {
	InstrumentType InstrumentType  `json:"instrument-type"`
	Symbol         string          `json:"symbol"`
	Quantity       decimal.Decimal `json:"quantity"`
	Action         LegAction       `json:"action"`
}

// OrderRequest 下单/改单请求体。
type OrderRequest struct {
	TimeInForce TimeInForce      `json:"time-in-force"`
	GtcDate     string           `json:"gtc-date,omitempty"`
	OrderType   OrderType        `json:"order-type"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	PriceEffect PriceEffect      `json:"price-effect,omitempty"`
	StopTrigger *decimal.Decimal `json:"stop-trigger,omitempty"`
	Legs        []OrderLeg       `json:"legs"`
}

// Balance 账户余额。
type Balance struct {
	AccountNumber         string          `json:"account-number"`
	CashBalance           decimal.Decimal `json:"cash-balance"`
	NetLiquidatingValue   decimal.Decimal `json:"net-liquidating-value"`
	EquityBuyingPower     decimal.Decimal `json:"equity-buying-power"`
	DerivativeBuyingPower decimal.Decimal `json:"derivative-buying-power"`
	Currency              string          `json:"currency"`
}

// Position 账户持仓。
type Position struct {
	AccountNumber     string          `json:"account-number"`
	Symbol            string          `json:"symbol"`
	InstrumentType    InstrumentType  `json:"instrument-type"`
	UnderlyingSymbol  string          `json:"underlying-symbol"`
	Quantity          decimal.Decimal `json:"quantity"`
	QuantityDirection string          `json:"quantity-direction"`
	AverageOpenPrice  decimal.Decimal `json:"average-open-price"`
	ClosePrice        decimal.Decimal `json:"close-price"`
	Multiplier        decimal.Decimal `json:"multiplier"`
	UpdatedAt         time.Time       `json:"updated-at"`
}

// SignedQuantity 依据 quantity-direction 返回带符号数量。
func (p Position) SignedQuantity() decimal.Decimal {
	if p.QuantityDirection == "Short" {
		return p.Quantity.Abs().Neg()
	}
	return p.Quantity
}

// Account 客户账户。
type Account struct {
	AccountNumber string `json:"account-number"`
	Nickname      string `json:"nickname"`
	AccountType   string `json:"account-type-name"`
}

// QuoteToken 行情流鉴权信息。
type QuoteToken struct {
	Token     string `json:"token"`
	DXLinkURL string `json:"dxlink-url"`
	Level     string `json:"level"`
}

// Equity 股票/指数品种信息。
type Equity struct {
	Symbol         string         `json:"symbol"`
	InstrumentType InstrumentType `json:"instrument-type"`
	IsIndex        bool           `json:"is-index"`
	StreamerSymbol string         `json:"streamer-symbol"`
}

// FutureInstrument 期货合约。
type FutureInstrument struct {
	Symbol               string    `json:"symbol"`
	ProductCode          string    `json:"product-code"`
	StreamerSymbol       string    `json:"streamer-symbol"`
	ExpirationDate       string    `json:"expiration-date"`
	LastTradeDate        string    `json:"last-trade-date"`
	StreamerExchangeCode string    `json:"streamer-exchange-code"`
	Active               bool      `json:"active"`
	ExpiresAt            time.Time `json:"expires-at"`
}

// ChainStrike 链上某个行权价的认购/认沽。
type ChainStrike struct {
	StrikePrice        decimal.Decimal `json:"strike-price"`
	Call               string          `json:"call"`
	CallStreamerSymbol string          `json:"call-streamer-symbol"`
	Put                string          `json:"put"`
	PutStreamerSymbol  string          `json:"put-streamer-symbol"`
}

// ChainExpiration 链上某个到期日。
type ChainExpiration struct {
	ExpirationDate   string        `json:"expiration-date"`
	DaysToExpiration int           `json:"days-to-expiration"`
	UnderlyingSymbol string        `json:"underlying-symbol"`
	Strikes          []ChainStrike `json:"strikes"`
}

// OptionChain 嵌套期权链。
type OptionChain struct {
	UnderlyingSymbol string            `json:"underlying-symbol"`
	RootSymbol       string            `json:"root-symbol"`
	OptionChainType  string            `json:"option-chain-type"`
	Expirations      []ChainExpiration `json:"expirations"`
}

// FutureOptionChain 期货期权嵌套链。
type FutureOptionChain struct {
	Futures []struct {
		Symbol         string `json:"symbol"`
		ExpirationDate string `json:"expiration-date"`
	} `json:"futures"`
	OptionChains []struct {
		UnderlyingSymbol string `json:"underlying-symbol"`
		RootSymbol       string `json:"root-symbol"`
		Expirations      []struct {
			UnderlyingSymbol string        `json:"underlying-symbol"`
			OptionRootSymbol string        `json:"option-root-symbol"`
			ExpirationDate   string        `json:"expiration-date"`
			Strikes          []ChainStrike `json:"strikes"`
		} `json:"expirations"`
	} `json:"option-chains"`
}

// dataEnvelope REST 统一返回 {"data":{...}}。
type dataEnvelope struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error,omitempty"`
}

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}
