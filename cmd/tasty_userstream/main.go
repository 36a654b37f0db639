package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"tastytrade-brokerage/host"
	"tastytrade-brokerage/internal/container"
)

// printHost 把订单事件与券商消息打到标准输出
type printHost struct {
	mu sync.Mutex
}

func (p *printHost) OnOrderEvents(events []host.OrderEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range events {
		fmt.Printf("[order] #%d %s %s fill=%s@%s %s\n",
			e.OrderID, e.Symbol.String(), e.Status, e.FillQuantity.String(), e.FillPrice.String(), e.Message)
	}
}

func (p *printHost) OnMessage(msg host.BrokerageMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Printf("[%s] %s: %s\n", msg.Type, msg.Code, msg.Message)
}

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	c, err := container.New(*cfgPath, container.WithHost(&printHost{}))
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建容器失败: %v", err)
	}
	defer c.Logger().Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brk := c.Brokerage()
	if err := brk.Connect(ctx); err != nil {
		log.Fatalf("连接账户推送失败: %v", err)
	}
	defer brk.Disconnect()

	for _, h := range brk.Book().Holdings() {
		fmt.Printf("[holding] %s qty=%s\n", h.Symbol.String(), h.Quantity.String())
	}
	for _, a := range brk.CachedCash() {
		fmt.Printf("[cash] %s %s\n", a.Currency, a.Amount.StringFixed(2))
	}
	log.Printf("账户 %s 推送已连接，Ctrl+C 退出", c.Config().Account)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("收到退出信号")
}
