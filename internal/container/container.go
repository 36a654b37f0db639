package container

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tastytrade-brokerage/brokerage"
	"tastytrade-brokerage/config"
	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/alert"
	"tastytrade-brokerage/infrastructure/logger"
	"tastytrade-brokerage/infrastructure/monitor"
	"tastytrade-brokerage/market"
	"tastytrade-brokerage/order"
	"tastytrade-brokerage/symbol"
)

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg        config.AppConfig
	configPath string
	host       host.EventSink

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor
	alerts  *alert.Manager

	// 券商网关
	auth          gateway.TokenProvider
	rest          *gateway.RESTClient
	accountStream *gateway.AccountStreamer
	marketStream  *gateway.MarketStreamer

	// 核心服务
	brokerage *brokerage.Brokerage

	// HTTP服务器
	metricsServer *http.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// Option 容器选项
type Option func(*Container)

// WithHost 宿主引擎的事件出口；不设置时事件只写日志。
func WithHost(h host.EventSink) Option {
	return func(c *Container) { c.host = h }
}

// New 读取配置（含 TT_ 环境变量覆盖）并创建容器
func New(configPath string, opts ...Option) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return newContainer(cfg, configPath, opts...), nil
}

func newContainer(cfg config.AppConfig, configPath string, opts ...Option) *Container {
	c := &Container{
		cfg:        cfg,
		configPath: configPath,
		lifecycle:  NewLifecycleManager(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Build 构建所有组件
func (c *Container) Build() error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}

	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}

	if err := c.buildCoreServices(); err != nil {
		return fmt.Errorf("build core services failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully",
		zap.String("env", c.cfg.Env),
		zap.String("account", c.cfg.Account),
	)
	return nil
}

func (c *Container) buildInfrastructure() error {
	logCfg := c.cfg.Log
	logCfg.Level = c.cfg.EffectiveLogLevel()

	var err error
	c.logger, err = logger.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}

	c.monitor = monitor.New(monitor.DefaultConfig())

	channels := []alert.Channel{alert.NewLogChannel("log", c.logger.Named("alert"))}
	if mh, ok := c.host.(alert.MessageHandler); ok {
		channels = append(channels, alert.NewHostChannel("host", mh))
	}
	c.alerts = alert.NewManager(channels, c.cfg.Alert.ThrottleInterval)

	c.logger.Info("infrastructure built")
	return nil
}

func (c *Container) buildGateway() error {
	gw := c.cfg.Gateway
	endpoints := gateway.EndpointsFor(c.cfg.Env)
	if gw.RestURL != "" {
		endpoints.RestURL = gw.RestURL
	}
	if gw.AccountStreamURL != "" {
		endpoints.AccountStreamURL = gw.AccountStreamURL
	}

	httpCli := &http.Client{Timeout: gw.RequestTimeout}
	if gw.SessionToken != "" {
		c.auth = gateway.StaticToken(gw.SessionToken)
	} else {
		c.auth = gateway.NewOAuthTokenSource(endpoints.RestURL, gw.ClientSecret, gw.RefreshToken, httpCli)
	}

	c.rest = gateway.NewRESTClient(endpoints.RestURL, c.auth, httpCli)
	c.rest.Limiter = gateway.NewTokenBucketLimiter(gw.RateLimit, gw.Burst)
	c.rest.MaxRetries = gw.MaxRetries
	c.rest.Logger = c.logger.Named("rest")
	c.rest.Metrics = c.monitor

	c.accountStream = gateway.NewAccountStreamer(endpoints.AccountStreamURL, []string{c.cfg.Account}, c.auth, nil)
	c.accountStream.MaxRetries = gw.StreamMaxRetries
	c.accountStream.Logger = c.logger.Named("account_stream")
	c.accountStream.Metrics = c.monitor

	c.marketStream = gateway.NewMarketStreamer(c.rest, nil)
	c.marketStream.URL = gw.QuoteStreamURL
	c.marketStream.MaxRetries = gw.StreamMaxRetries
	c.marketStream.Logger = c.logger.Named("market_stream")
	c.marketStream.Metrics = c.monitor

	c.logger.Info("gateway built",
		zap.String("rest", endpoints.RestURL),
		zap.String("account_stream", endpoints.AccountStreamURL),
		zap.Bool("production", c.cfg.Production()),
	)
	return nil
}

func (c *Container) buildCoreServices() error {
	log := c.logger
	mapper := symbol.NewMapper(symbol.WithIndexResolver(c.rest))

	book := order.NewBook()
	book.SetDownstream(brokerage.NewEventRouter(c.host, c.alerts, log.Named("events")))

	pending := order.NewPendingTracker(c.cfg.Orders.ConfirmTimeout, log.Named("pending"))
	crossZero := order.NewCrossZeroTracker(book, log.Named("crosszero"))

	recon := order.NewReconciler(order.ReconcilerConfig{
		Pending:             pending,
		Orders:              book,
		CrossZero:           crossZero,
		Mapper:              mapper,
		Sink:                book,
		Logger:              log.Named("reconciler"),
		Metrics:             c.monitor,
		IgnoreUnknownAssets: c.cfg.Runtime.IgnoreUnknownAssets,
		Warner:              c.alerts,
	})
	c.monitor.WatchReconciler(func() monitor.ReconcilerStats {
		st := recon.Stats()
		return monitor.ReconcilerStats{
			TrackedOrders:  st.Fills.Orders,
			RecentFills:    st.Fills.RecentFills,
			FillsPerMinute: st.Fills.FillsPerMinute,
			TotalUpdates:   st.TotalUpdates,
		}
	})
	orders := order.NewManager(order.ManagerConfig{
		Gateway:   c.rest.Account(c.cfg.Account),
		Store:     book,
		Mapper:    mapper,
		Pending:   pending,
		CrossZero: crossZero,
		Sink:      book,
		Constraints: order.QuantityConstraints{
			FractionalEquity: c.cfg.Orders.FractionalEquity,
			MaxContracts:     decimal.NewFromInt(c.cfg.Orders.MaxContracts),
		},
		Logger:  log.Named("orders"),
		Metrics: c.monitor,
	})

	candles := market.NewCandleAggregator(c.marketStream, c.cfg.Market.HistoryTimeout, log.Named("candles"))
	quotes := market.NewService(c.marketStream, mapper, market.NewPublisher(c.cfg.Market.TickBuffer), candles, log.Named("quotes"))
	c.marketStream.SetHandler(quotes)

	c.brokerage = brokerage.New(brokerage.Config{
		Account:             c.cfg.Account,
		IgnoreUnknownAssets: c.cfg.Runtime.IgnoreUnknownAssets,
		ConnectTimeout:      c.cfg.Gateway.RequestTimeout * 3,
		SnapshotTimeout:     c.cfg.Gateway.RequestTimeout * 3,
	}, brokerage.Deps{
		REST:       c.rest,
		Account:    c.accountStream,
		Market:     c.marketStream,
		Orders:     orders,
		Reconciler: recon,
		Book:       book,
		Mapper:     mapper,
		Quotes:     quotes,
		Candles:    candles,
		Warner:     c.alerts,
		Metrics:    c.monitor,
		Logger:     log.Named("brokerage"),
	})

	c.logger.Info("core services built")
	return nil
}

func (c *Container) registerLifecycleComponents() {
	if c.monitor != nil && c.cfg.Metrics.Addr != "" {
		c.lifecycle.Register(&httpServerComponent{
			name:    "metrics_server",
			handler: c.monitor.Handler(),
			addr:    c.cfg.Metrics.Addr,
			logger:  c.logger,
			server:  &c.metricsServer,
		})
	}
	c.lifecycle.Register(&brokerageComponent{brk: c.brokerage})
	if c.configPath != "" {
		c.lifecycle.Register(&configWatchComponent{
			path:   c.configPath,
			logger: c.logger.Named("config"),
			apply:  c.applyRuntime,
		})
	}
}

// applyRuntime 配置热更新：只应用日志级别与未知品种模式，其余字段需重启生效。
func (c *Container) applyRuntime(cfg config.AppConfig) {
	level := cfg.EffectiveLogLevel()
	if err := c.logger.SetLevel(level); err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "reload_log_level"})
	}
	c.brokerage.SetIgnoreUnknownAssets(cfg.Runtime.IgnoreUnknownAssets)
	c.logger.Info("runtime config applied",
		zap.String("log_level", level),
		zap.Bool("ignore_unknown_assets", cfg.Runtime.IgnoreUnknownAssets),
	)
}

func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")

	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}

	c.logger.Info("container started")
	return nil
}

func (c *Container) Stop() error {
	c.logger.Info("stopping container...")

	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	c.logger.Info("container stopped")
	c.logger.Close()
	return err
}

func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Brokerage() *brokerage.Brokerage { return c.brokerage }
func (c *Container) REST() *gateway.RESTClient       { return c.rest }
func (c *Container) Logger() *logger.Logger          { return c.logger }
func (c *Container) Alerts() *alert.Manager          { return c.alerts }
func (c *Container) Config() config.AppConfig        { return c.cfg }
