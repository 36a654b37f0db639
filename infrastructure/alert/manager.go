package alert

import (
	"fmt"
	"sync"
	"time"

	"tastytrade-brokerage/host"
)

// Alert 面向宿主的券商消息及其附加字段
type Alert struct {
	Type      host.MessageType
	Code      string
	Message   string
	Key       string                 // 限流key，空时取 Type:Code:Message
	Timestamp time.Time              // 告警时间
	Fields    map[string]interface{} // 附加字段
}

func (a Alert) throttleKey() string {
	if a.Key != "" {
		return a.Key
	}
	return fmt.Sprintf("%s:%s:%s", a.Type, a.Code, a.Message)
}

// BrokerageMessage 转为宿主消息
func (a Alert) BrokerageMessage() host.BrokerageMessage {
	return host.BrokerageMessage{Type: a.Type, Code: a.Code, Message: a.Message}
}

// Channel 告警通道接口
type Channel interface {
	Send(alert Alert) error
	Name() string
}

// Manager 告警管理器
type Manager struct {
	channels []Channel
	throttle *Throttler
	mu       sync.RWMutex
}

// Throttler 告警限流器；interval<=0 时不限流
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送（限流）
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.interval <= 0 {
		return true
	}
	now := t.now()
	lastTime, exists := t.lastSent[key]
	if !exists || now.Sub(lastTime) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Once 同一 key 在进程内只放行一次，不受 interval 影响
func (t *Throttler) Once(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.lastSent[key]; exists {
		return false
	}
	t.lastSent[key] = t.now()
	return true
}

// Reset 重置限流器
func (t *Throttler) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.lastSent, key)
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// NewManager 创建告警管理器
func NewManager(channels []Channel, throttleInterval time.Duration) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
	}
}

// SendAlert 发送告警；被限流时静默忽略
func (m *Manager) SendAlert(alert Alert) error {
	if !m.throttle.Allow(alert.throttleKey()) {
		return nil
	}
	return m.broadcast(alert)
}

func (m *Manager) broadcast(alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var lastErr error
	successCount := 0
	for _, ch := range m.channels {
		if err := ch.Send(alert); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
		} else {
			successCount++
		}
	}

	// 如果所有通道都失败，返回最后一个错误
	if successCount == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// OnMessage 实现 brokerage 的消息出口：券商消息统一经限流后分发
func (m *Manager) OnMessage(msg host.BrokerageMessage) {
	_ = m.SendAlert(Alert{Type: msg.Type, Code: msg.Code, Message: msg.Message})
}

// WarnUnknownAsset 忽略未知品种模式下的警告，每个券商代码只提示一次
func (m *Manager) WarnUnknownAsset(brokerSymbol string, err error) {
	if !m.throttle.Once("unknown-asset:" + brokerSymbol) {
		return
	}
	_ = m.broadcast(Alert{
		Type:    host.MessageWarning,
		Code:    "UnknownAsset",
		Message: fmt.Sprintf("ignoring unsupported asset %s: %v", brokerSymbol, err),
		Fields:  map[string]interface{}{"symbol": brokerSymbol},
	})
}

// SendInfo 发送Information级别消息
func (m *Manager) SendInfo(code, message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Type: host.MessageInformation, Code: code, Message: message, Fields: fields})
}

// SendWarning 发送Warning级别消息
func (m *Manager) SendWarning(code, message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Type: host.MessageWarning, Code: code, Message: message, Fields: fields})
}

// SendError 发送Error级别消息
func (m *Manager) SendError(code, message string, fields map[string]interface{}) error {
	return m.SendAlert(Alert{Type: host.MessageError, Code: code, Message: message, Fields: fields})
}

// AddChannel 添加告警通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// RemoveChannel 移除告警通道
func (m *Manager) RemoveChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	filtered := make([]Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		if ch.Name() != name {
			filtered = append(filtered, ch)
		}
	}
	m.channels = filtered
}

// GetChannels 获取所有通道
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
