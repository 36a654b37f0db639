package order

import (
	"fmt"
	"sort"
	"sync"

	"tastytrade-brokerage/host"
)

// GroupCache 组合单的腿逐个到达，攒齐后一次下单。
type GroupCache struct {
	mu      sync.Mutex
	pending map[int]map[int]*host.Order
}

func NewGroupCache() *GroupCache {
	return &GroupCache{pending: make(map[int]map[int]*host.Order)}
}

// TryGetGroupOrders 非组合单直接返回自身；组合单在最后一条腿到达时返回按 ID 排序的全部腿。
func (c *GroupCache) TryGetGroupOrders(o *host.Order) ([]*host.Order, bool) {
	if o.Group == nil {
		return []*host.Order{o}, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	legs, ok := c.pending[o.Group.ID]
	if !ok {
		legs = make(map[int]*host.Order, o.Group.Count)
		c.pending[o.Group.ID] = legs
	}
	legs[o.ID] = o
	if len(legs) < o.Group.Count {
		return nil, false
	}
	delete(c.pending, o.Group.ID)
	return sortedByID(legs), true
}

// Len 尚未攒齐的组合数
func (c *GroupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Siblings 从宿主查回整组订单，用于改单/撤单。
func Siblings(o *host.Order, provider host.OrderProvider) ([]*host.Order, error) {
	if o.Group == nil {
		return []*host.Order{o}, nil
	}
	legs := make(map[int]*host.Order, len(o.Group.OrderIDs))
	for _, id := range o.Group.OrderIDs {
		if id == o.ID {
			legs[id] = o
			continue
		}
		sibling, ok := provider.OrderByID(id)
		if !ok {
			return nil, fmt.Errorf("%w: group %d leg %d", ErrUnknownOrder, o.Group.ID, id)
		}
		legs[id] = sibling
	}
	if len(legs) == 0 {
		legs[o.ID] = o
	}
	return sortedByID(legs), nil
}

func sortedByID(m map[int]*host.Order) []*host.Order {
	out := make([]*host.Order, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
