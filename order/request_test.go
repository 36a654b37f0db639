package order

import (
	"errors"
	"testing"
	"time"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
)

func oneLeg() []LegSpec {
	return []LegSpec{{
		Action:         gateway.ActionBuyToOpen,
		InstrumentType: gateway.InstrumentEquity,
		Quantity:       dec("-3"),
		Symbol:         "AAPL",
	}}
}

func TestBuildRequestVariants(t *testing.T) {
	cases := []struct {
		name      string
		params    BuildParams
		wantType  gateway.OrderType
		wantPrice string
		effect    gateway.PriceEffect
		trigger   string
	}{
		{"市价", BuildParams{Type: host.OrderTypeMarket}, gateway.OrderTypeMarket, "", "", ""},
		{"组合市价", BuildParams{Type: host.OrderTypeComboMarket}, gateway.OrderTypeMarket, "", "", ""},
		{"限价买入", BuildParams{Type: host.OrderTypeLimit, LimitPrice: dec("10.5"), Direction: host.DirectionBuy}, gateway.OrderTypeLimit, "10.5", gateway.EffectDebit, ""},
		{"限价卖出", BuildParams{Type: host.OrderTypeLimit, LimitPrice: dec("10.5"), Direction: host.DirectionSell}, gateway.OrderTypeLimit, "10.5", gateway.EffectCredit, ""},
		{"组合负价格", BuildParams{Type: host.OrderTypeComboLimit, LimitPrice: dec("-2"), Direction: host.DirectionBuy}, gateway.OrderTypeLimit, "2", gateway.EffectCredit, ""},
		{"止损", BuildParams{Type: host.OrderTypeStopMarket, StopPrice: dec("95")}, gateway.OrderTypeStop, "", "", "95"},
		{"止损限价", BuildParams{Type: host.OrderTypeStopLimit, LimitPrice: dec("94"), StopPrice: dec("95"), Direction: host.DirectionSell}, gateway.OrderTypeStopLimit, "94", gateway.EffectCredit, "95"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.params.Legs = oneLeg()
			req, err := BuildRequest(tc.params)
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if req.Type() != tc.wantType {
				t.Fatalf("type = %s, want %s", req.Type(), tc.wantType)
			}
			p := req.Payload()
			if p.OrderType != tc.wantType || p.TimeInForce != gateway.TIFDay {
				t.Fatalf("payload = %+v", p)
			}
			if !p.Legs[0].Quantity.Equal(dec("3")) {
				t.Fatalf("leg quantity should be absolute, got %s", p.Legs[0].Quantity)
			}
			if tc.wantPrice == "" {
				if p.Price != nil {
					t.Fatalf("unexpected price %s", p.Price)
				}
			} else if p.Price == nil || !p.Price.Equal(dec(tc.wantPrice)) || p.PriceEffect != tc.effect {
				t.Fatalf("price = %v %s, want %s %s", p.Price, p.PriceEffect, tc.wantPrice, tc.effect)
			}
			if tc.trigger == "" {
				if p.StopTrigger != nil {
					t.Fatalf("unexpected stop trigger")
				}
			} else if p.StopTrigger == nil || !p.StopTrigger.Equal(dec(tc.trigger)) {
				t.Fatalf("stop trigger = %v", p.StopTrigger)
			}
		})
	}
}

func TestBuildRequestTimeInForce(t *testing.T) {
	expiry := time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC)
	req, err := BuildRequest(BuildParams{
		Legs:        oneLeg(),
		Type:        host.OrderTypeMarket,
		TimeInForce: host.TimeInForce{Kind: host.TimeInForceGoodTilDate, Expiry: expiry},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	p := req.Payload()
	if p.TimeInForce != gateway.TIFGTD || p.GtcDate != "2024-12-20" {
		t.Fatalf("tif = %s %s", p.TimeInForce, p.GtcDate)
	}

	req, err = BuildRequest(BuildParams{Legs: oneLeg(), Type: host.OrderTypeMarket, TimeInForce: host.TimeInForce{Kind: host.TimeInForceGoodTilCanceled}})
	if err != nil || req.Payload().TimeInForce != gateway.TIFGTC {
		t.Fatalf("gtc: %v", err)
	}

	_, err = BuildRequest(BuildParams{Legs: oneLeg(), Type: host.OrderTypeMarket, TimeInForce: host.TimeInForce{Kind: host.TimeInForceGoodTilDate}})
	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
}

func TestBuildRequestUnsupported(t *testing.T) {
	for _, typ := range []host.OrderType{host.OrderTypeTrailingStop, host.OrderTypeMarketOnOpen} {
		_, err := BuildRequest(BuildParams{Legs: oneLeg(), Type: typ})
		var unsupported *UnsupportedError
		if !errors.As(err, &unsupported) || unsupported.Kind != "order type" {
			t.Fatalf("%s: expected UnsupportedError, got %v", typ, err)
		}
	}
	if _, err := BuildRequest(BuildParams{Type: host.OrderTypeMarket}); err == nil {
		t.Fatalf("expected error without legs")
	}
}

func TestResolveLegAction(t *testing.T) {
	cases := []struct {
		name     string
		qty      string
		holdings string
		st       host.SecurityType
		want     gateway.LegAction
	}{
		{"空仓买入开仓", "1", "0", host.SecurityTypeEquity, gateway.ActionBuyToOpen},
		{"多头加仓", "1", "5", host.SecurityTypeOption, gateway.ActionBuyToOpen},
		{"空头买入平仓", "1", "-5", host.SecurityTypeOption, gateway.ActionBuyToClose},
		{"多头卖出平仓", "-1", "5", host.SecurityTypeEquity, gateway.ActionSellToClose},
		{"空仓卖出开仓", "-1", "0", host.SecurityTypeEquity, gateway.ActionSellToOpen},
		{"空头加仓", "-1", "-2", host.SecurityTypeFutureOption, gateway.ActionSellToOpen},
		{"期货买", "1", "-3", host.SecurityTypeFuture, gateway.ActionBuy},
		{"期货卖", "-1", "3", host.SecurityTypeFuture, gateway.ActionSell},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveLegAction(dec(tc.qty), dec(tc.holdings), tc.st); got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestInstrumentTypeOf(t *testing.T) {
	if it, _ := InstrumentTypeOf(host.SecurityTypeIndexOption); it != gateway.InstrumentEquityOption {
		t.Fatalf("index option -> %s", it)
	}
	if _, err := InstrumentTypeOf(host.SecurityTypeIndex); err == nil {
		t.Fatalf("index should not be tradable")
	}
}
