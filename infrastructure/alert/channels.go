package alert

import (
	"fmt"

	"go.uber.org/zap"

	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
)

// LogChannel 日志告警通道
type LogChannel struct {
	logger *logger.Logger
	name   string
}

// NewLogChannel 创建日志告警通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{logger: log, name: name}
}

// Send 按消息级别写日志
func (c *LogChannel) Send(alert Alert) error {
	fields := make([]zap.Field, 0, len(alert.Fields)+2)
	fields = append(fields, zap.String("code", alert.Code), zap.Time("at", alert.Timestamp))
	for k, v := range alert.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch alert.Type {
	case host.MessageError:
		c.logger.Error(alert.Message, fields...)
	case host.MessageWarning:
		c.logger.Warn(alert.Message, fields...)
	default:
		c.logger.Info(alert.Message, fields...)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string {
	return c.name
}

// MessageHandler 宿主的券商消息回调
type MessageHandler interface {
	OnMessage(msg host.BrokerageMessage)
}

// HostChannel 把消息交给宿主引擎
type HostChannel struct {
	name    string
	handler MessageHandler
}

func NewHostChannel(name string, h MessageHandler) *HostChannel {
	return &HostChannel{name: name, handler: h}
}

func (c *HostChannel) Send(alert Alert) error {
	if c.handler == nil {
		return fmt.Errorf("host channel %s: no handler", c.name)
	}
	c.handler.OnMessage(alert.BrokerageMessage())
	return nil
}

func (c *HostChannel) Name() string {
	return c.name
}
