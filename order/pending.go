package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
	"tastytrade-brokerage/infrastructure/logger"
)

// ErrTimeout 等待券商确认超时；券商侧订单状态未知，不回滚。
var ErrTimeout = errors.New("timed out waiting for broker confirmation")

// PendingEntry 等待 WebSocket 确认的订单。
type PendingEntry struct {
	Orders []*host.Order
	// Ack 确认时发给宿主的状态：Submitted 或 UpdateSubmitted
	Ack        host.OrderStatus
	EmitEvents bool
	// Placeholder 改单时挂在旧单号上，用来吞掉旧单的撤销回报
	Placeholder bool

	done chan gateway.OrderStatus
}

// Submission 一次提交：Send 在事件锁内执行，Accepted 在登记后、释放锁前回调。
type Submission struct {
	Orders     []*host.Order
	Send       func() (string, error)
	Accepted   func(brokerID string)
	Ack        host.OrderStatus
	EmitEvents bool
}

// PendingTracker 把异步确认包装成同步调用。
// 提交与登记持有同一把锁，事件处理侧的 Resolve 也要拿这把锁，确认不会早于登记被处理。
type PendingTracker struct {
	mu      sync.Mutex
	entries map[string]*PendingEntry
	timeout time.Duration
	logger  *logger.Logger
}

func NewPendingTracker(timeout time.Duration, log *logger.Logger) *PendingTracker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &PendingTracker{
		entries: make(map[string]*PendingEntry),
		timeout: timeout,
		logger:  log,
	}
}

// Submit 发送并阻塞直到确认或超时。发送失败时不登记。
func (t *PendingTracker) Submit(ctx context.Context, s Submission) (string, error) {
	t.mu.Lock()
	id, err := s.Send()
	if err != nil {
		t.mu.Unlock()
		return "", err
	}
	entry := t.register(id, s)
	t.mu.Unlock()

	return id, t.wait(ctx, id, entry)
}

// Replace 改单：先在旧单号上挂占位，再发送并登记新单号。
func (t *PendingTracker) Replace(ctx context.Context, oldID string, s Submission) (string, error) {
	t.mu.Lock()
	placeholder := &PendingEntry{Orders: s.Orders, Placeholder: true}
	t.entries[oldID] = placeholder
	id, err := s.Send()
	if err != nil {
		if t.entries[oldID] == placeholder {
			delete(t.entries, oldID)
		}
		t.mu.Unlock()
		return "", err
	}
	entry := t.register(id, s)
	t.mu.Unlock()

	return id, t.wait(ctx, id, entry)
}

func (t *PendingTracker) register(id string, s Submission) *PendingEntry {
	e := &PendingEntry{
		Orders:     s.Orders,
		Ack:        s.Ack,
		EmitEvents: s.EmitEvents,
		done:       make(chan gateway.OrderStatus, 1),
	}
	t.entries[id] = e
	if s.Accepted != nil {
		s.Accepted(id)
	}
	return e
}

func (t *PendingTracker) wait(ctx context.Context, id string, e *PendingEntry) error {
	timer := time.NewTimer(t.timeout)
	defer timer.Stop()

	select {
	case <-e.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	t.mu.Lock()
	if t.entries[id] != e {
		// 已被 Resolve 取走，等事件处理侧发完确认
		t.mu.Unlock()
		<-e.done
		return nil
	}
	delete(t.entries, id)
	t.mu.Unlock()

	t.logger.Warn("pending order purged without confirmation",
		zap.String("broker_id", id),
		zap.Int("orders", len(e.Orders)),
		zap.Duration("timeout", t.timeout),
	)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: broker order %s: %v", ErrTimeout, id, err)
	}
	return fmt.Errorf("%w: broker order %s after %s", ErrTimeout, id, t.timeout)
}

// Resolve 由事件处理侧调用。命中时移除条目，调用方处理完确认事件后须调用 Complete 唤醒等待方。
// 占位条目只在收到 Cancelled 时被取走。
func (t *PendingTracker) Resolve(brokerID string, status gateway.OrderStatus) (*PendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[brokerID]
	if !ok {
		return nil, false
	}
	if e.Placeholder {
		if status != gateway.StatusCancelled {
			return nil, false
		}
		delete(t.entries, brokerID)
		return e, true
	}
	if !acknowledges(status) {
		return nil, false
	}
	delete(t.entries, brokerID)
	return e, true
}

// Complete 唤醒 Submit/Replace 的等待方。
func (e *PendingEntry) Complete(status gateway.OrderStatus) {
	if e.Placeholder {
		return
	}
	select {
	case e.done <- status:
	default:
	}
}

// Len 当前等待中的条目数（含占位）。
func (t *PendingTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
