package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/internal/container"
	"tastytrade-brokerage/symbol"
)

var instrumentTypes = map[string]gateway.InstrumentType{
	"equity":        gateway.InstrumentEquity,
	"option":        gateway.InstrumentEquityOption,
	"future":        gateway.InstrumentFuture,
	"future_option": gateway.InstrumentFutureOption,
	"index":         gateway.InstrumentIndex,
}

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	raw := flag.String("symbol", "SPY", "券商代码，例如 \"SPY   241018C00580000\" 或 /ESZ4")
	kind := flag.String("type", "equity", "品种类型: equity|option|future|future_option|index")
	underlying := flag.String("underlying", "", "可选：期权标的代码，用于区分指数期权根代码")
	lookup := flag.Bool("lookup", false, "列出该标的的期权合约（仅 equity/index/future）")
	limit := flag.Int("limit", 20, "lookup 最多打印的合约数")
	flag.Parse()

	it, ok := instrumentTypes[strings.ToLower(*kind)]
	if !ok {
		log.Fatalf("未知品种类型: %s", *kind)
	}

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建容器失败: %v", err)
	}
	defer c.Logger().Close()
	mapper := c.Brokerage().Mapper()

	var opts []symbol.ParseOption
	if *underlying != "" {
		opts = append(opts, symbol.WithUnderlying(*underlying))
	}
	sym, err := mapper.ToHostSymbol(*raw, it, opts...)
	if err != nil {
		log.Fatalf("解析代码失败: %v", err)
	}
	bs, err := mapper.ToBrokerSymbols(sym)
	if err != nil {
		log.Fatalf("转换代码失败: %v", err)
	}
	fmt.Printf("host=%s type=%s\n", sym.String(), sym.SecurityType)
	fmt.Printf("order=%q stream=%q\n", bs.Order, bs.Stream)

	if !*lookup {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	contracts, err := c.Brokerage().LookupSymbols(ctx, sym)
	if err != nil {
		log.Fatalf("查询期权链失败: %v", err)
	}
	fmt.Printf("%s 共 %d 个合约\n", sym.String(), len(contracts))
	printContracts(contracts, *limit)
}

func printContracts(contracts []host.Symbol, limit int) {
	for i, s := range contracts {
		if i >= limit {
			fmt.Printf("  ... 省略 %d 个\n", len(contracts)-limit)
			return
		}
		fmt.Printf("  %s\n", s.String())
	}
}
