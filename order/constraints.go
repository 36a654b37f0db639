package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tastytrade-brokerage/host"
)

// QuantityConstraints 按证券类型限制下单数量。
type QuantityConstraints struct {
	// FractionalEquity 股票是否允许碎股
	FractionalEquity bool
	MaxContracts     decimal.Decimal
}

// Validate 检查数量非零，且期权/期货为整数合约。
func (c QuantityConstraints) Validate(o *host.Order) error {
	qty := o.Quantity.Abs()
	if qty.IsZero() {
		return fmt.Errorf("order %d: zero quantity", o.ID)
	}
	switch o.Symbol.SecurityType {
	case host.SecurityTypeEquity:
		if !c.FractionalEquity && !qty.IsInteger() {
			return fmt.Errorf("order %d: fractional equity quantity %s", o.ID, qty)
		}
		if !qty.IsInteger() && o.Type != host.OrderTypeMarket {
			return fmt.Errorf("order %d: fractional quantity requires a market order", o.ID)
		}
	default:
		if !qty.IsInteger() {
			return fmt.Errorf("order %d: contract quantity %s must be whole", o.ID, qty)
		}
		if c.MaxContracts.IsPositive() && qty.GreaterThan(c.MaxContracts) {
			return fmt.Errorf("order %d: %s contracts > max %s", o.ID, qty, c.MaxContracts)
		}
	}
	return nil
}
