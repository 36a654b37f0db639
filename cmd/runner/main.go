package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
	"tastytrade-brokerage/internal/container"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	watch := flag.String("watch", "", "可选：订阅的股票代码，逗号分隔，例如 SPY,AAPL")
	flag.Parse()

	c, err := container.New(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := c.Build(); err != nil {
		log.Fatalf("构建容器失败: %v", err)
	}
	lg := c.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Start(ctx); err != nil {
		_ = c.Stop()
		log.Fatalf("启动失败: %v", err)
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		lg.Warn("sd_notify ready failed", zap.Error(err))
	}

	if syms := parseWatch(*watch); len(syms) > 0 {
		if err := c.Brokerage().Subscribe(syms...); err != nil {
			lg.Error("subscribe failed", zap.Error(err))
		} else {
			go logTicks(ctx, c.Brokerage().Ticks(), lg.Named("ticks"))
		}
	}

	go watchdogLoop(ctx, c)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	lg.Info("shutdown signal received", zap.String("signal", sig.String()))

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	if err := c.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "停止时出错: %v\n", err)
		os.Exit(1)
	}
}

func parseWatch(v string) []host.Symbol {
	var out []host.Symbol
	for _, t := range strings.Split(v, ",") {
		t = strings.TrimSpace(strings.ToUpper(t))
		if t == "" {
			continue
		}
		out = append(out, host.NewEquity(t))
	}
	return out
}

// watchdogLoop 健康时按 WATCHDOG_USEC 的一半周期喂狗；未启用 watchdog 时直接返回。
func watchdogLoop(ctx context.Context, c *container.Container) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.HealthCheck(); err != nil {
				c.Logger().Warn("health check failed, skip watchdog", zap.Error(err))
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func logTicks(ctx context.Context, ticks <-chan host.Tick, lg *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-ticks:
			if !ok {
				return
			}
			if t.Type == host.TickTrade {
				lg.Info("trade",
					zap.String("symbol", t.Symbol.String()),
					zap.String("price", t.Price.String()),
					zap.String("qty", t.Quantity.String()),
				)
				continue
			}
			lg.Info("quote",
				zap.String("symbol", t.Symbol.String()),
				zap.String("bid", t.BidPrice.String()),
				zap.String("ask", t.AskPrice.String()),
			)
		}
	}
}
