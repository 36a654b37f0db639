package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"
)

// TokenProvider 提供 REST/账户推送所需的访问令牌。
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticToken 固定令牌（测试或会话令牌）。
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }
func (t StaticToken) Invalidate()                           {}

// OAuthTokenSource 用 refresh token 换取访问令牌，过期前 Margin 内刷新；并发刷新只发一次请求。
type OAuthTokenSource struct {
	BaseURL      string
	ClientSecret string
	RefreshToken string
	HTTPClient   *http.Client
	Margin       time.Duration

	group  singleflight.Group
	mu     sync.Mutex
	token  string
	expiry time.Time
	now    func() time.Time
}

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func NewOAuthTokenSource(baseURL, clientSecret, refreshToken string, httpCli *http.Client) *OAuthTokenSource {
	if httpCli == nil {
		httpCli = NewDefaultHTTPClient()
	}
	return &OAuthTokenSource{
		BaseURL:      baseURL,
		ClientSecret: clientSecret,
		RefreshToken: refreshToken,
		HTTPClient:   httpCli,
		Margin:       time.Minute,
		now:          time.Now,
	}
}

func (s *OAuthTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Add(s.Margin).Before(s.expiry) {
		tok := s.token
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("refresh", func() (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate 收到 401 后强制下次刷新。
func (s *OAuthTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

func (s *OAuthTokenSource) refresh(ctx context.Context) (string, error) {
	body, err := json.Marshal(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": s.RefreshToken,
		"client_secret": s.ClientSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/oauth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", decodeAPIError(resp)
	}
	var out oauthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode oauth token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("oauth token: empty access_token")
	}

	s.mu.Lock()
	s.token = out.AccessToken
	s.expiry = s.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	s.mu.Unlock()
	return out.AccessToken, nil
}
