package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"tastytrade-brokerage/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	timeout := flag.Duration("timeout", 15*time.Second, "请求超时")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建容器失败: %v", err)
	}
	defer c.Logger().Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	brk := c.Brokerage()

	cash, err := brk.GetCashBalance(ctx)
	if err != nil {
		log.Fatalf("获取余额失败: %v", err)
	}
	fmt.Printf("账户 %s 现金:\n", c.Config().Account)
	for _, a := range cash {
		fmt.Printf("  %s %s\n", a.Currency, a.Amount.StringFixed(2))
	}

	holdings, err := brk.GetAccountHoldings(ctx)
	if err != nil {
		log.Fatalf("获取持仓失败: %v", err)
	}
	fmt.Printf("持仓 %d 条:\n", len(holdings))
	for _, h := range holdings {
		fmt.Printf("  %-28s qty=%s avg=%s mkt=%s\n",
			h.Symbol.String(), h.Quantity.String(), h.AveragePrice.String(), h.MarketPrice.String())
	}

	orders, err := brk.GetOpenOrders(ctx)
	if err != nil {
		log.Fatalf("获取挂单失败: %v", err)
	}
	fmt.Printf("挂单 %d 笔:\n", len(orders))
	for _, o := range orders {
		fmt.Printf("  #%d %-28s %s %s qty=%s limit=%s tif=%s broker=%v\n",
			o.ID, o.Symbol.String(), o.Type, o.Direction(), o.Quantity.String(),
			o.LimitPrice.String(), o.TimeInForce, o.BrokerIDs)
	}
}
