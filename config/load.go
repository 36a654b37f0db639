package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"tastytrade-brokerage/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env     string        `yaml:"env"`     // sandbox 或 production
	Account string        `yaml:"account"` // 券商账户号
	Gateway GatewayConfig `yaml:"gateway"`
	Orders  OrderConfig   `yaml:"orders"`
	Market  MarketConfig  `yaml:"market"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Alert   AlertConfig   `yaml:"alert"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     logger.Config `yaml:"log"`
}

// GatewayConfig 券商连接参数；URL 为空时按 env 取默认端点。
type GatewayConfig struct {
	RestURL          string        `yaml:"restURL"`
	AccountStreamURL string        `yaml:"accountStreamURL"`
	QuoteStreamURL   string        `yaml:"quoteStreamURL"` // 为空时使用 quote token 返回的地址
	ClientSecret     string        `yaml:"clientSecret"`
	RefreshToken     string        `yaml:"refreshToken"`
	SessionToken     string        `yaml:"sessionToken"` // 设置后跳过 OAuth
	RequestTimeout   time.Duration `yaml:"requestTimeout"`
	RateLimit        float64       `yaml:"rateLimit"` // 每秒请求数
	Burst            int           `yaml:"burst"`
	MaxRetries       uint          `yaml:"maxRetries"`
	StreamMaxRetries int           `yaml:"streamMaxRetries"` // 连续重连失败上限，0 不限
}

type OrderConfig struct {
	ConfirmTimeout   time.Duration `yaml:"confirmTimeout"`   // 等待推送确认的超时
	FractionalEquity bool          `yaml:"fractionalEquity"` // 股票是否允许碎股
	MaxContracts     int64         `yaml:"maxContracts"`     // 单笔合约上限，0 不限
}

type MarketConfig struct {
	HistoryTimeout time.Duration `yaml:"historyTimeout"`
	TickBuffer     int           `yaml:"tickBuffer"`
}

// RuntimeConfig 可热更新的部分
type RuntimeConfig struct {
	IgnoreUnknownAssets bool   `yaml:"ignoreUnknownAssets"`
	LogLevel            string `yaml:"logLevel"` // 为空时沿用 log.level
}

type AlertConfig struct {
	ThrottleInterval time.Duration `yaml:"throttleInterval"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // 为空不启动 /metrics
}

// Default 返回各项默认值，YAML 只需覆盖需要的字段。
func Default() AppConfig {
	return AppConfig{
		Env: "sandbox",
		Gateway: GatewayConfig{
			RequestTimeout: 10 * time.Second,
			RateLimit:      10,
			Burst:          20,
			MaxRetries:     3,
		},
		Orders: OrderConfig{
			ConfirmTimeout: 30 * time.Second,
		},
		Market: MarketConfig{
			HistoryTimeout: 60 * time.Second,
			TickBuffer:     1024,
		},
		Alert: AlertConfig{
			ThrottleInterval: time.Minute,
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads YAML config from path on top of Default and validates it.
func Load(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func read(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from TT_ env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := read(path)
	if err != nil {
		return cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, Validate(cfg)
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("TT_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("TT_ACCOUNT"); v != "" {
		cfg.Account = v
	}
	if v := os.Getenv("TT_CLIENT_SECRET"); v != "" {
		cfg.Gateway.ClientSecret = v
	}
	if v := os.Getenv("TT_REFRESH_TOKEN"); v != "" {
		cfg.Gateway.RefreshToken = v
	}
	if v := os.Getenv("TT_SESSION_TOKEN"); v != "" {
		cfg.Gateway.SessionToken = v
	}
	if v := os.Getenv("TT_IGNORE_UNKNOWN_ASSETS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TT_IGNORE_UNKNOWN_ASSETS: %w", err)
		}
		cfg.Runtime.IgnoreUnknownAssets = b
	}
	return nil
}

// EffectiveLogLevel 运行时级别优先
func (c AppConfig) EffectiveLogLevel() string {
	if c.Runtime.LogLevel != "" {
		return c.Runtime.LogLevel
	}
	return c.Log.Level
}

// Production 是否连接生产环境
func (c AppConfig) Production() bool {
	switch c.Env {
	case "production", "prod", "live":
		return true
	}
	return false
}
