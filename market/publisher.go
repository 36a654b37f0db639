package market

import (
	"sync"
	"sync/atomic"

	"tastytrade-brokerage/host"
)

// Publisher 一个轻量事件分发器；订阅者跟不上时丢弃。
type Publisher struct {
	mu      sync.RWMutex
	subs    map[chan host.Tick]struct{}
	buffer  int
	dropped atomic.Uint64
}

func NewPublisher(buffer int) *Publisher {
	if buffer <= 0 {
		buffer = 1
	}
	return &Publisher{
		subs:   make(map[chan host.Tick]struct{}),
		buffer: buffer,
	}
}

func (p *Publisher) Subscribe() <-chan host.Tick {
	ch := make(chan host.Tick, p.buffer)
	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()
	return ch
}

// Unsubscribe 移除并关闭订阅通道。
func (p *Publisher) Unsubscribe(sub <-chan host.Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch := range p.subs {
		if ch == sub {
			delete(p.subs, ch)
			close(ch)
			return
		}
	}
}

func (p *Publisher) Publish(t host.Tick) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.subs {
		select {
		case ch <- t:
		default:
			p.dropped.Add(1)
		}
	}
}

// Dropped 因通道满被丢弃的次数。
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}
