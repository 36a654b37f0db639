package order

import (
	"sync"
	"time"
)

// FillTracker 记录每个宿主订单已处理的券商成交号，重复推送只处理一次。
// 同时保留一个滑动窗口用于统计成交频率。
type FillTracker struct {
	mu sync.Mutex

	seen map[int]map[string]struct{}

	recent     []time.Time
	windowSize time.Duration

	totalFills int
	duplicates int
	now        func() time.Time
}

// FillStats 成交统计
type FillStats struct {
	Orders         int
	TotalFills     int
	Duplicates     int
	RecentFills    int
	FillsPerMinute float64
}

func NewFillTracker(windowSize time.Duration) *FillTracker {
	if windowSize <= 0 {
		windowSize = 5 * time.Minute
	}
	return &FillTracker{
		seen:       make(map[int]map[string]struct{}),
		windowSize: windowSize,
		now:        time.Now,
	}
}

// Record 首次见到该成交返回 true；重复返回 false。
func (f *FillTracker) Record(orderID int, fillID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids, ok := f.seen[orderID]
	if !ok {
		ids = make(map[string]struct{})
		f.seen[orderID] = ids
	}
	if _, dup := ids[fillID]; dup {
		f.duplicates++
		return false
	}
	ids[fillID] = struct{}{}
	f.totalFills++
	f.recent = append(f.recent, f.now())
	f.cleanOldFillsUnsafe()
	return true
}

// Forget 订单关闭后释放记录，之后的推送由订单状态挡住
func (f *FillTracker) Forget(orderID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, orderID)
}

// cleanOldFillsUnsafe 清理超出窗口的记录（非线程安全）
func (f *FillTracker) cleanOldFillsUnsafe() {
	cutoff := f.now().Add(-f.windowSize)
	i := 0
	for i < len(f.recent) && !f.recent[i].After(cutoff) {
		i++
	}
	if i > 0 {
		f.recent = append(f.recent[:0], f.recent[i:]...)
	}
}

func (f *FillTracker) Stats() FillStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanOldFillsUnsafe()

	return FillStats{
		Orders:         len(f.seen),
		TotalFills:     f.totalFills,
		Duplicates:     f.duplicates,
		RecentFills:    len(f.recent),
		FillsPerMinute: float64(len(f.recent)) / f.windowSize.Minutes(),
	}
}
