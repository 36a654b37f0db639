package market

import (
	"fmt"
	"sync"

	"tastytrade-brokerage/gateway"
	"tastytrade-brokerage/host"
)

type fakeFeed struct {
	mu      sync.Mutex
	added   []gateway.Subscription
	removed []gateway.Subscription
	onSub   func(gateway.Subscription)
	subErr  error
}

func (f *fakeFeed) Subscribe(subs ...gateway.Subscription) error {
	if f.subErr != nil {
		return f.subErr
	}
	f.mu.Lock()
	f.added = append(f.added, subs...)
	hook := f.onSub
	f.mu.Unlock()
	if hook != nil {
		for _, s := range subs {
			go hook(s)
		}
	}
	return nil
}

func (f *fakeFeed) Unsubscribe(subs ...gateway.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, subs...)
	return nil
}

func (f *fakeFeed) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added), len(f.removed)
}

// streamMapper 只处理股票。
type streamMapper struct{}

func (streamMapper) StreamSymbol(s host.Symbol) (string, error) {
	if s.SecurityType != host.SecurityTypeEquity {
		return "", fmt.Errorf("unsupported %s", s)
	}
	return s.Value, nil
}
