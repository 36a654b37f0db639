// Package brokerage 把 gateway、symbol、order、market 组装成宿主可调用的券商适配器。
package brokerage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
	"tastytrade-brokerage/market"
	"tastytrade-brokerage/order"
	"tastytrade-brokerage/symbol"
)

var ErrNotConnected = errors.New("brokerage not connected")

// REST 券商 REST 查询；gateway.RESTClient 实现。
type REST interface {
	Balances(ctx context.Context, account string) (gateway.Balance, error)
	Positions(ctx context.Context, account string) ([]gateway.Position, error)
	LiveOrders(ctx context.Context, account string) ([]gateway.Order, error)
	OptionChain(ctx context.Context, underlying string) ([]gateway.OptionChain, error)
	FutureOptionChain(ctx context.Context, productCode string) (gateway.FutureOptionChain, error)
}

// AccountStream 账户推送；gateway.AccountStreamer 实现。
type AccountStream interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
	IsConnected() bool
	SetHandler(h gateway.AccountHandler)
	SetConnectedHandler(fn func())
}

// MarketStream 行情推送；gateway.MarketStreamer 实现。
type MarketStream interface {
	Run(ctx context.Context) error
	IsConnected() bool
}

// Metrics 适配层自身的指标
type Metrics interface {
	SetSubscriptions(n int)
	RecordHistoryRequest(result string)
}

type nopMetrics struct{}

func (nopMetrics) SetSubscriptions(int)        {}
func (nopMetrics) RecordHistoryRequest(string) {}

// Config 适配器参数
type Config struct {
	Account             string
	IgnoreUnknownAssets bool
	ConnectTimeout      time.Duration // 等待账户推送握手
	SnapshotTimeout     time.Duration // 启动快照（余额/持仓/挂单）
}

// Deps 由容器构建好的组件
type Deps struct {
	REST       REST
	Account    AccountStream
	Market     MarketStream
	Orders     *order.Manager
	Reconciler *order.Reconciler
	Book       *order.Book
	Mapper     *symbol.Mapper
	Quotes     *market.Service
	Candles    *market.CandleAggregator
	Warner     order.AssetWarner
	Metrics    Metrics
	Logger     *logger.Logger
}

// Brokerage 宿主面对的券商适配器。
// 账户推送在单一 goroutine 上进入 OnOrder/OnBalance/OnPosition。
type Brokerage struct {
	cfg     Config
	rest    REST
	account AccountStream
	market  MarketStream
	orders  *order.Manager
	recon   *order.Reconciler
	book    *order.Book
	mapper  *symbol.Mapper
	quotes  *market.Service
	candles *market.CandleAggregator
	warner  order.AssetWarner
	metrics Metrics
	logger  *logger.Logger

	ignoreUnknown atomic.Bool
	connected     atomic.Bool
	reconnects    atomic.Int64

	mu      sync.Mutex
	cash    map[string]host.CashAmount
	cancel  context.CancelFunc
	streams sync.WaitGroup
	runCtx  context.Context
}

func New(cfg Config, d Deps) *Brokerage {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 30 * time.Second
	}
	b := &Brokerage{
		cfg:     cfg,
		rest:    d.REST,
		account: d.Account,
		market:  d.Market,
		orders:  d.Orders,
		recon:   d.Reconciler,
		book:    d.Book,
		mapper:  d.Mapper,
		quotes:  d.Quotes,
		candles: d.Candles,
		warner:  d.Warner,
		metrics: d.Metrics,
		logger:  d.Logger,
		cash:    make(map[string]host.CashAmount),
		runCtx:  context.Background(),
	}
	if b.logger == nil {
		b.logger = logger.NewNop()
	}
	if b.metrics == nil {
		b.metrics = nopMetrics{}
	}
	if b.mapper == nil {
		b.mapper = symbol.NewMapper()
	}
	if b.book == nil {
		b.book = order.NewBook()
	}
	b.ignoreUnknown.Store(cfg.IgnoreUnknownAssets)
	if b.account != nil {
		b.account.SetHandler(b)
		b.account.SetConnectedHandler(b.onStreamConnected)
	}
	return b
}

// SetIgnoreUnknownAssets 运行时切换未知品种模式（配置热更新）
func (b *Brokerage) SetIgnoreUnknownAssets(ignore bool) {
	b.ignoreUnknown.Store(ignore)
	if b.recon != nil {
		b.recon.SetIgnoreUnknownAssets(ignore)
	}
}

// Book 宿主订单与持仓存储
func (b *Brokerage) Book() *order.Book { return b.book }

// Mapper 宿主代码与券商代码互转
func (b *Brokerage) Mapper() *symbol.Mapper { return b.mapper }

// Connect 启动账户/行情推送，等待账户握手后拉取余额、持仓与挂单快照。
// 推送先于快照建立，快照期间的变化不会丢失。
func (b *Brokerage) Connect(ctx context.Context) error {
	if b.connected.Load() {
		return nil
	}
	if b.account == nil || b.rest == nil {
		return fmt.Errorf("connect: account stream and REST client are required")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	b.mu.Lock()
	b.cancel = cancel
	b.runCtx = runCtx
	b.mu.Unlock()

	b.reconnects.Store(0)
	accountDone := make(chan error, 1)
	b.startStream(runCtx, "account", b.account.Run, accountDone)
	if b.market != nil {
		b.startStream(runCtx, "market", b.market.Run, nil)
	}

	wait, waitCancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer waitCancel()
	select {
	case <-b.account.Ready():
	case err := <-accountDone:
		b.Disconnect()
		if err == nil {
			err = errors.New("account stream stopped")
		}
		return fmt.Errorf("connect: %w", err)
	case <-wait.Done():
		b.Disconnect()
		return fmt.Errorf("connect: waiting for account stream: %w", wait.Err())
	}

	if err := b.snapshot(ctx); err != nil {
		b.Disconnect()
		return err
	}
	b.connected.Store(true)
	b.logger.Info("brokerage connected", zap.String("account", b.cfg.Account))
	return nil
}

func (b *Brokerage) startStream(ctx context.Context, name string, run func(context.Context) error, done chan<- error) {
	b.streams.Add(1)
	go func() {
		defer b.streams.Done()
		err := run(ctx)
		if done != nil {
			done <- err
		}
		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		b.logger.Error("stream stopped", zap.String("stream", name), zap.Error(err))
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageError,
			Code:    "StreamStopped",
			Message: fmt.Sprintf("%s stream stopped: %v", name, err),
		})
		if name == "account" {
			b.connected.Store(false)
		}
	}()
}

// snapshot 并发拉取余额、持仓与挂单
func (b *Brokerage) snapshot(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.SnapshotTimeout)
	defer cancel()

	var (
		balance   gateway.Balance
		positions []gateway.Position
		live      []gateway.Order
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = b.rest.Balances(gctx, b.cfg.Account)
		return err
	})
	g.Go(func() error {
		var err error
		positions, err = b.rest.Positions(gctx, b.cfg.Account)
		return err
	})
	g.Go(func() error {
		var err error
		live, err = b.rest.LiveOrders(gctx, b.cfg.Account)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("connect snapshot: %w", err)
	}

	b.setBalance(balance)
	holdings, err := b.toHoldings(positions)
	if err != nil {
		return fmt.Errorf("connect snapshot: %w", err)
	}
	b.book.SetHoldings(holdings)

	restored, err := b.restoreOrders(live)
	if err != nil {
		return fmt.Errorf("connect snapshot: %w", err)
	}
	b.logger.Info("account snapshot loaded",
		zap.Int("holdings", len(holdings)),
		zap.Int("open_orders", len(live)),
		zap.Int("restored", restored),
	)
	return nil
}

// Disconnect 停止推送并等待读循环退出
func (b *Brokerage) Disconnect() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	b.streams.Wait()
	b.connected.Store(false)
	b.logger.Info("brokerage disconnected")
}

func (b *Brokerage) IsConnected() bool {
	return b.connected.Load() && b.account != nil && b.account.IsConnected()
}

func (b *Brokerage) streamContext() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runCtx
}

// onStreamConnected 在推送读循环上执行；首次握手由 Connect 的快照覆盖，重连后补同步挂单。
func (b *Brokerage) onStreamConnected() {
	if b.reconnects.Add(1) == 1 {
		return
	}
	ctx, cancel := context.WithTimeout(b.streamContext(), b.cfg.SnapshotTimeout)
	defer cancel()
	live, err := b.rest.LiveOrders(ctx, b.cfg.Account)
	if err != nil {
		b.logger.Warn("resync after reconnect failed", zap.Error(err))
		return
	}
	reported := make(map[string]bool, len(live))
	for _, o := range live {
		reported[o.ID] = true
		if len(b.book.OrdersByBrokerID(o.ID)) == 0 {
			continue
		}
		b.OnOrder(o)
	}
	b.warnMissingOrders(reported)
	b.logger.Info("resynced open orders after reconnect", zap.Int("orders", len(live)))
}

// warnMissingOrders 本地仍挂着、券商当日列表里却没有的订单，断线期间的终态无从得知，提示宿主核对
func (b *Brokerage) warnMissingOrders(reported map[string]bool) {
	for _, o := range b.book.Open() {
		ids := b.book.BrokerIDs(o.ID)
		if len(ids) == 0 {
			continue // 未确认的由 PendingTracker 处理；组合单只有首腿带单号
		}
		missing := false
		for _, id := range ids {
			if !reported[id] {
				missing = true
				break
			}
		}
		if !missing {
			continue
		}
		b.logger.Warn("open order not reported after reconnect",
			zap.Int("order_id", o.ID),
			zap.Strings("broker_ids", ids),
		)
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageWarning,
			Code:    "OrderMissingAfterReconnect",
			Message: fmt.Sprintf("order %d (%s) not in live orders after reconnect", o.ID, strings.Join(ids, ",")),
		})
	}
}

// OnOrder 实现 gateway.AccountHandler
func (b *Brokerage) OnOrder(o gateway.Order) {
	if o.AccountNumber != "" && b.cfg.Account != "" && o.AccountNumber != b.cfg.Account {
		return
	}
	if b.recon == nil {
		return
	}
	if err := b.recon.HandleOrderUpdate(o); err != nil {
		b.logger.LogError(err, map[string]interface{}{"broker_id": o.ID, "status": string(o.Status)})
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageError,
			Code:    "OrderUpdateFailed",
			Message: fmt.Sprintf("order update %s: %v", o.ID, err),
		})
	}
}

// OnBalance 实现 gateway.AccountHandler
func (b *Brokerage) OnBalance(bal gateway.Balance) {
	if bal.AccountNumber != "" && b.cfg.Account != "" && bal.AccountNumber != b.cfg.Account {
		return
	}
	b.setBalance(bal)
}

// OnPosition 实现 gateway.AccountHandler
func (b *Brokerage) OnPosition(p gateway.Position) {
	if p.AccountNumber != "" && b.cfg.Account != "" && p.AccountNumber != b.cfg.Account {
		return
	}
	h, ok, err := b.toHolding(p)
	if err != nil {
		b.logger.LogError(err, map[string]interface{}{"symbol": p.Symbol})
		b.book.OnMessage(host.BrokerageMessage{
			Type:    host.MessageError,
			Code:    "PositionUpdateFailed",
			Message: fmt.Sprintf("position %s: %v", p.Symbol, err),
		})
		return
	}
	if ok {
		b.book.SetHolding(h)
	}
}

func (b *Brokerage) setBalance(bal gateway.Balance) {
	currency := bal.Currency
	if currency == "" {
		currency = "USD"
	}
	b.mu.Lock()
	b.cash[currency] = host.CashAmount{Amount: bal.CashBalance, Currency: currency}
	b.mu.Unlock()
}

// unknownAsset 忽略模式下告警并跳过，否则返回错误
func (b *Brokerage) unknownAsset(brokerSymbol string, err error) error {
	if !b.ignoreUnknown.Load() {
		return err
	}
	if b.warner != nil {
		b.warner.WarnUnknownAsset(brokerSymbol, err)
	} else {
		b.logger.Warn("ignoring unknown asset", zap.String("symbol", brokerSymbol), zap.Error(err))
	}
	return nil
}

func (b *Brokerage) toHoldings(positions []gateway.Position) ([]host.Holding, error) {
	res := make([]host.Holding, 0, len(positions))
	for _, p := range positions {
		h, ok, err := b.toHolding(p)
		if err != nil {
			return nil, err
		}
		if ok {
			res = append(res, h)
		}
	}
	return res, nil
}

// toHolding ok=false 表示品种被忽略
func (b *Brokerage) toHolding(p gateway.Position) (host.Holding, bool, error) {
	sym, err := b.mapper.ToHostSymbol(p.Symbol, p.InstrumentType, underlyingHint(p.UnderlyingSymbol)...)
	if err != nil {
		return host.Holding{}, false, b.unknownAsset(p.Symbol, err)
	}
	return host.Holding{
		Symbol:       sym,
		Quantity:     p.SignedQuantity(),
		AveragePrice: p.AverageOpenPrice,
		MarketPrice:  p.ClosePrice,
		UpdatedAt:    p.UpdatedAt,
	}, true, nil
}

func underlyingHint(underlying string) []symbol.ParseOption {
	if underlying == "" {
		return nil
	}
	return []symbol.ParseOption{symbol.WithUnderlying(underlying)}
}

func signedLegQuantity(l gateway.Leg) decimal.Decimal {
	if l.Action.IsBuy() {
		return l.Quantity.Abs()
	}
	return l.Quantity.Abs().Neg()
}
