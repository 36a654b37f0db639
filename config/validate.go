package config

import (
	"fmt"
	"net/url"

	"go.uber.org/zap/zapcore"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present and values are in range.
func Validate(cfg AppConfig) error {
	switch cfg.Env {
	case "sandbox", "cert", "production", "prod", "live":
	default:
		return ErrInvalid(fmt.Sprintf("env %q must be sandbox or production", cfg.Env))
	}
	if cfg.Account == "" {
		return ErrInvalid("account is required (or TT_ACCOUNT)")
	}
	if err := validateCredentials(cfg.Gateway); err != nil {
		return err
	}
	for name, raw := range map[string]string{
		"gateway.restURL":          cfg.Gateway.RestURL,
		"gateway.accountStreamURL": cfg.Gateway.AccountStreamURL,
		"gateway.quoteStreamURL":   cfg.Gateway.QuoteStreamURL,
	} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			return ErrInvalid(fmt.Sprintf("%s %q is not an absolute URL", name, raw))
		}
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		return ErrInvalid("gateway.requestTimeout must be > 0")
	}
	if cfg.Gateway.RateLimit <= 0 || cfg.Gateway.Burst <= 0 {
		return ErrInvalid("gateway.rateLimit/burst must be > 0")
	}
	if cfg.Gateway.StreamMaxRetries < 0 {
		return ErrInvalid("gateway.streamMaxRetries must be >= 0")
	}
	if cfg.Orders.ConfirmTimeout <= 0 {
		return ErrInvalid("orders.confirmTimeout must be > 0")
	}
	if cfg.Orders.MaxContracts < 0 {
		return ErrInvalid("orders.maxContracts must be >= 0")
	}
	if cfg.Market.HistoryTimeout <= 0 {
		return ErrInvalid("market.historyTimeout must be > 0")
	}
	if cfg.Market.TickBuffer <= 0 {
		return ErrInvalid("market.tickBuffer must be > 0")
	}
	if cfg.Alert.ThrottleInterval < 0 {
		return ErrInvalid("alert.throttleInterval must be >= 0")
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return ErrInvalid(fmt.Sprintf("log.level: %v", err))
	}
	return ValidateRuntime(cfg.Runtime)
}

// ValidateRuntime 只校验可热更新部分，watcher 重载时使用
func ValidateRuntime(rc RuntimeConfig) error {
	if rc.LogLevel == "" {
		return nil
	}
	if _, err := zapcore.ParseLevel(rc.LogLevel); err != nil {
		return ErrInvalid(fmt.Sprintf("runtime.logLevel: %v", err))
	}
	return nil
}

func validateCredentials(g GatewayConfig) error {
	if g.SessionToken != "" {
		return nil
	}
	if g.ClientSecret == "" || g.RefreshToken == "" {
		return ErrInvalid("gateway.clientSecret/refreshToken is required (or TT_CLIENT_SECRET/TT_REFRESH_TOKEN)")
	}
	return nil
}
