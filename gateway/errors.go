package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotConnected = errors.New("stream not connected")
	ErrNoAccount    = errors.New("account number not set")
)

// APIError 券商返回的错误信封 {"error":{"code":..., "message":...}}。
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Errors     []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && len(e.Errors) > 0 {
		msg = e.Errors[0].Message
	}
	if e.Code != "" {
		return fmt.Sprintf("broker api %d %s: %s", e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("broker api %d: %s", e.StatusCode, msg)
}

// Temporary 5xx 与 429 可以重试。
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// StreamError 推送协议层面的错误（服务端 error 响应），不重连。
type StreamError struct {
	Stream  string
	Action  string
	Message string
}

func (e *StreamError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s stream %s: %s", e.Stream, e.Action, e.Message)
	}
	return fmt.Sprintf("%s stream: %s", e.Stream, e.Message)
}
