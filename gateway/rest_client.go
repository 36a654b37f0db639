package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"tastytrade-brokerage/infrastructure/logger"
)

// RESTClient 券商 REST 客户端；HTTPClient 可注入 httptest。
type RESTClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Auth       TokenProvider
	Limiter    RateLimiter
	MaxRetries uint
	Logger     *logger.Logger
	Metrics    Metrics

	indexMu    sync.RWMutex
	indexCache map[string]bool
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func NewRESTClient(baseURL string, auth TokenProvider, httpCli *http.Client) *RESTClient {
	if httpCli == nil {
		httpCli = NewDefaultHTTPClient()
	}
	return &RESTClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: httpCli,
		Auth:       auth,
		Limiter:    NewTokenBucketLimiter(10, 20),
		MaxRetries: 3,
	}
}

func (c *RESTClient) log() *logger.Logger {
	if c.Logger == nil {
		return logger.NewNop()
	}
	return c.Logger
}

func (c *RESTClient) metrics() Metrics {
	if c.Metrics == nil {
		return nopMetrics{}
	}
	return c.Metrics
}

// do 发送请求并把 data 解码到 out。5xx/429 按指数退避重试，401 刷新令牌后重试一次。
func (c *RESTClient) do(ctx context.Context, action, method, path string, query url.Values, body, out interface{}) error {
	if c == nil || c.HTTPClient == nil {
		return fmt.Errorf("http client not set")
	}
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", action, err)
		}
		payload = b
	}
	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	m := c.metrics()
	start := time.Now()
	m.RecordRESTRequest(action)
	defer func() { m.RecordRESTLatency(action, time.Since(start).Seconds()) }()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	reauthed := false

	raw, err := backoff.Retry(ctx, func() ([]byte, error) {
		data, err := c.roundTrip(ctx, method, endpoint, payload)
		if err == nil {
			return data, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusUnauthorized && !reauthed && c.Auth != nil {
				reauthed = true
				c.Auth.Invalidate()
				return nil, err
			}
			if !apiErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
		}
		c.log().Warn("rest request failed, retrying",
			zap.String("action", action),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxTries()))
	if err != nil {
		m.RecordRESTError(action)
		return fmt.Errorf("%s: %w", action, err)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode: %w", action, err)
	}
	return nil
}

func (c *RESTClient) maxTries() uint {
	if c.MaxRetries == 0 {
		return 1
	}
	return c.MaxRetries + 1
}

func (c *RESTClient) roundTrip(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}
	}
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "tastytrade-brokerage/1.0")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Auth != nil {
		tok, err := c.Auth.Token(ctx)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("auth: %w", err))
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}
	var env dataEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, backoff.Permanent(fmt.Errorf("decode envelope: %w", err))
	}
	return env.Data, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env dataEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		env.Error.StatusCode = resp.StatusCode
		return env.Error
	}
	apiErr.Message = strings.TrimSpace(string(raw))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

type accountItem struct {
	Account        Account `json:"account"`
	AuthorityLevel string  `json:"authority-level"`
}

// Accounts GET /customers/me/accounts
func (c *RESTClient) Accounts(ctx context.Context) ([]Account, error) {
	var out itemsEnvelope[accountItem]
	if err := c.do(ctx, "accounts", http.MethodGet, "/customers/me/accounts", nil, nil, &out); err != nil {
		return nil, err
	}
	res := make([]Account, 0, len(out.Items))
	for _, it := range out.Items {
		res = append(res, it.Account)
	}
	return res, nil
}

func (c *RESTClient) Balances(ctx context.Context, account string) (Balance, error) {
	var out Balance
	err := c.do(ctx, "balances", http.MethodGet, "/accounts/"+url.PathEscape(account)+"/balances", nil, nil, &out)
	return out, err
}

func (c *RESTClient) Positions(ctx context.Context, account string) ([]Position, error) {
	var out itemsEnvelope[Position]
	if err := c.do(ctx, "positions", http.MethodGet, "/accounts/"+url.PathEscape(account)+"/positions", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// LiveOrders 当日全部订单（含已成交/已撤销）。
func (c *RESTClient) LiveOrders(ctx context.Context, account string) ([]Order, error) {
	var out itemsEnvelope[Order]
	if err := c.do(ctx, "live_orders", http.MethodGet, "/accounts/"+url.PathEscape(account)+"/orders/live", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

type placeResponse struct {
	Order    Order `json:"order"`
	Warnings []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"warnings"`
}

func (c *RESTClient) PlaceOrder(ctx context.Context, account string, req OrderRequest) (Order, error) {
	var out placeResponse
	err := c.do(ctx, "place_order", http.MethodPost, "/accounts/"+url.PathEscape(account)+"/orders", nil, req, &out)
	if err != nil {
		return Order{}, err
	}
	for _, w := range out.Warnings {
		c.log().Warn("order warning", zap.String("code", w.Code), zap.String("message", w.Message))
	}
	return out.Order, nil
}

// ReplaceOrder PUT 改单，返回新订单。
func (c *RESTClient) ReplaceOrder(ctx context.Context, account, brokerID string, req OrderRequest) (Order, error) {
	var out Order
	path := "/accounts/" + url.PathEscape(account) + "/orders/" + url.PathEscape(brokerID)
	err := c.do(ctx, "replace_order", http.MethodPut, path, nil, req, &out)
	return out, err
}

func (c *RESTClient) CancelOrder(ctx context.Context, account, brokerID string) error {
	path := "/accounts/" + url.PathEscape(account) + "/orders/" + url.PathEscape(brokerID)
	return c.do(ctx, "cancel_order", http.MethodDelete, path, nil, nil, nil)
}

// OptionChain GET /option-chains/{underlying}/nested
func (c *RESTClient) OptionChain(ctx context.Context, underlying string) ([]OptionChain, error) {
	var out itemsEnvelope[OptionChain]
	err := c.do(ctx, "option_chain", http.MethodGet, "/option-chains/"+url.PathEscape(underlying)+"/nested", nil, nil, &out)
	return out.Items, err
}

// FutureOptionChain GET /futures-option-chains/{product}/nested
func (c *RESTClient) FutureOptionChain(ctx context.Context, productCode string) (FutureOptionChain, error) {
	var out FutureOptionChain
	err := c.do(ctx, "future_option_chain", http.MethodGet, "/futures-option-chains/"+url.PathEscape(productCode)+"/nested", nil, nil, &out)
	return out, err
}

// Futures GET /instruments/futures?product-code[]=ES
func (c *RESTClient) Futures(ctx context.Context, productCodes ...string) ([]FutureInstrument, error) {
	q := url.Values{}
	for _, p := range productCodes {
		q.Add("product-code[]", p)
	}
	var out itemsEnvelope[FutureInstrument]
	err := c.do(ctx, "futures", http.MethodGet, "/instruments/futures", q, nil, &out)
	return out.Items, err
}

func (c *RESTClient) Equity(ctx context.Context, symbol string) (Equity, error) {
	var out Equity
	err := c.do(ctx, "equity", http.MethodGet, "/instruments/equities/"+url.PathEscape(symbol), nil, nil, &out)
	return out, err
}

// QuoteToken GET /api-quote-tokens，行情流地址与令牌。
func (c *RESTClient) QuoteToken(ctx context.Context) (QuoteToken, error) {
	var out QuoteToken
	err := c.do(ctx, "quote_token", http.MethodGet, "/api-quote-tokens", nil, nil, &out)
	return out, err
}

// IsIndex 查询并缓存代码是否为指数；实现 host.IndexResolver。
func (c *RESTClient) IsIndex(ticker string) (bool, error) {
	c.indexMu.RLock()
	v, ok := c.indexCache[ticker]
	c.indexMu.RUnlock()
	if ok {
		return v, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	eq, err := c.Equity(ctx, strings.ReplaceAll(ticker, ".", "/"))
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			eq = Equity{}
		} else {
			return false, err
		}
	}

	c.indexMu.Lock()
	if c.indexCache == nil {
		c.indexCache = make(map[string]bool)
	}
	c.indexCache[ticker] = eq.IsIndex
	c.indexMu.Unlock()
	return eq.IsIndex, nil
}

// AccountClient 绑定账户号，实现下单接口。
type AccountClient struct {
	rest    *RESTClient
	account string
}

func (c *RESTClient) Account(number string) *AccountClient {
	return &AccountClient{rest: c, account: number}
}

func (a *AccountClient) Number() string { return a.account }

func (a *AccountClient) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if a.account == "" {
		return Order{}, ErrNoAccount
	}
	return a.rest.PlaceOrder(ctx, a.account, req)
}

func (a *AccountClient) ReplaceOrder(ctx context.Context, brokerID string, req OrderRequest) (Order, error) {
	if a.account == "" {
		return Order{}, ErrNoAccount
	}
	return a.rest.ReplaceOrder(ctx, a.account, brokerID, req)
}

func (a *AccountClient) CancelOrder(ctx context.Context, brokerID string) error {
	if a.account == "" {
		return ErrNoAccount
	}
	return a.rest.CancelOrder(ctx, a.account, brokerID)
}
